package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/drywest/timsusofun/internal/api"
	"github.com/drywest/timsusofun/internal/notify"
	"github.com/drywest/timsusofun/internal/stream"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Upstream UpstreamConfig `mapstructure:"upstream"`
	Live     LiveConfig     `mapstructure:"live"`
	Poll     PollConfig     `mapstructure:"poll"`
	Backoff  BackoffConfig  `mapstructure:"backoff"`
	Dedup    DedupConfig    `mapstructure:"dedup"`
	Fanout   FanoutConfig   `mapstructure:"fanout"`
	WS       WSConfig       `mapstructure:"ws"`
	SSE      SSEConfig      `mapstructure:"sse"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Notify   NotifyConfig   `mapstructure:"notify"`
}

type ServerConfig struct {
	Port               string   `mapstructure:"port"`
	AllowedOrigins     []string `mapstructure:"allowed_origins"`
	ShutdownTimeoutSec int      `mapstructure:"shutdown_timeout_sec"`
}

type UpstreamConfig struct {
	BaseURL       string `mapstructure:"base_url"`
	UserAgent     string `mapstructure:"user_agent"`
	Language      string `mapstructure:"language"`
	RatePerSecond int    `mapstructure:"rate_per_second"`
	TimeoutSec    int    `mapstructure:"timeout_sec"`
	RetryCount    int    `mapstructure:"retry_count"`
	RetryDelayMs  int    `mapstructure:"retry_delay_ms"`
}

type LiveConfig struct {
	RetryDelayMs int `mapstructure:"retry_delay_ms"`
}

type PollConfig struct {
	FloorMs          int     `mapstructure:"floor_ms"`
	CeilingMs        int     `mapstructure:"ceiling_ms"`
	TimeoutFactor    float64 `mapstructure:"timeout_factor"`
	ErrorIntervalSec int     `mapstructure:"error_interval_sec"`
}

type BackoffConfig struct {
	InitialMs  int     `mapstructure:"initial_ms"`
	Multiplier float64 `mapstructure:"multiplier"`
	MaxMs      int     `mapstructure:"max_ms"`
}

type DedupConfig struct {
	Ceiling       int     `mapstructure:"ceiling"`
	EvictFraction float64 `mapstructure:"evict_fraction"`
}

type FanoutConfig struct {
	QueueSize        int `mapstructure:"queue_size"`
	SubscriberBuffer int `mapstructure:"subscriber_buffer"`
}

type WSConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type SSEConfig struct {
	Enabled      bool `mapstructure:"enabled"`
	KeepAliveSec int  `mapstructure:"keepalive_sec"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type LoggingConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Directory string `mapstructure:"directory"`
	Level     string `mapstructure:"level"`
}

type NotifyConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Server   string `mapstructure:"server"`
	Topic    string `mapstructure:"topic"`
	Priority string `mapstructure:"priority"`
	Tags     string `mapstructure:"tags"`
	Token    string `mapstructure:"token"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.shutdown_timeout_sec", 10)

	v.SetDefault("upstream.base_url", "https://www.youtube.com")
	v.SetDefault("upstream.user_agent", "")
	v.SetDefault("upstream.language", "en")
	v.SetDefault("upstream.rate_per_second", 20)
	v.SetDefault("upstream.timeout_sec", 15)
	v.SetDefault("upstream.retry_count", 2)
	v.SetDefault("upstream.retry_delay_ms", 250)

	v.SetDefault("live.retry_delay_ms", 300)

	v.SetDefault("poll.floor_ms", 60)
	v.SetDefault("poll.ceiling_ms", 240)
	v.SetDefault("poll.timeout_factor", 0.28)
	v.SetDefault("poll.error_interval_sec", 5)

	v.SetDefault("backoff.initial_ms", 130)
	v.SetDefault("backoff.multiplier", 1.25)
	v.SetDefault("backoff.max_ms", 1800)

	v.SetDefault("dedup.ceiling", 7000)
	v.SetDefault("dedup.evict_fraction", 0.38)

	v.SetDefault("fanout.queue_size", 256)
	v.SetDefault("fanout.subscriber_buffer", 256)

	v.SetDefault("ws.enabled", true)
	v.SetDefault("sse.enabled", true)
	v.SetDefault("sse.keepalive_sec", 15)
	v.SetDefault("metrics.enabled", true)

	v.SetDefault("logging.enabled", false)
	v.SetDefault("logging.directory", "logs")
	v.SetDefault("logging.level", "info")

	v.SetDefault("notify.enabled", false)
	v.SetDefault("notify.server", "https://ntfy.sh")
	v.SetDefault("notify.priority", "default")
	v.SetDefault("notify.tags", "speech_balloon")
}

func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	// Environment variable support
	v.SetEnvPrefix("LIVECHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// Platforms that inject a bare PORT win over the prefixed form.
	_ = v.BindEnv("server.port", "PORT", "LIVECHAT_SERVER_PORT")

	// Load config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("default")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

// APIOptions maps the upstream section onto the HTTP client options.
func (c *Config) APIOptions() api.Options {
	return api.Options{
		BaseURL:    c.Upstream.BaseURL,
		UserAgent:  c.Upstream.UserAgent,
		Language:   c.Upstream.Language,
		RatePerSec: c.Upstream.RatePerSecond,
		Timeout:    time.Duration(c.Upstream.TimeoutSec) * time.Second,
		RetryCount: c.Upstream.RetryCount,
		RetryDelay: ms(c.Upstream.RetryDelayMs),
	}
}

// LiveRetryDelay is the wait between live-status checks.
func (c *Config) LiveRetryDelay() time.Duration {
	return ms(c.Live.RetryDelayMs)
}

// StreamOptions maps the poll, backoff, dedup and fanout sections onto the
// engine tuning.
func (c *Config) StreamOptions() stream.Options {
	return stream.Options{
		Pacing: stream.Pacing{
			Floor:   ms(c.Poll.FloorMs),
			Ceiling: ms(c.Poll.CeilingMs),
			Factor:  c.Poll.TimeoutFactor,
		},
		BackoffInitial:     ms(c.Backoff.InitialMs),
		BackoffMultiplier:  c.Backoff.Multiplier,
		BackoffMax:         ms(c.Backoff.MaxMs),
		ErrorInterval:      time.Duration(c.Poll.ErrorIntervalSec) * time.Second,
		DedupCeiling:       c.Dedup.Ceiling,
		DedupEvictFraction: c.Dedup.EvictFraction,
		QueueSize:          c.Fanout.QueueSize,
	}
}

// NotifierConfig maps the notify section onto the ntfy client config.
func (c *Config) NotifierConfig() *notify.Config {
	return &notify.Config{
		Enabled:  c.Notify.Enabled,
		Server:   c.Notify.Server,
		Topic:    c.Notify.Topic,
		Priority: c.Notify.Priority,
		Tags:     c.Notify.Tags,
		Token:    c.Notify.Token,
	}
}

// ShutdownTimeout bounds graceful shutdown.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeoutSec) * time.Second
}
