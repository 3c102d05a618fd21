package config

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidationErrors collects all validation errors
type ValidationErrors struct {
	Problems []string
}

func (e *ValidationErrors) add(format string, args ...any) {
	e.Problems = append(e.Problems, fmt.Sprintf(format, args...))
}

// HasErrors returns true if any validation errors exist
func (e *ValidationErrors) HasErrors() bool {
	return len(e.Problems) > 0
}

// Error formats all validation errors into a clear message
func (e *ValidationErrors) Error() string {
	var sb strings.Builder
	sb.WriteString("configuration validation failed:\n")
	for _, p := range e.Problems {
		sb.WriteString(fmt.Sprintf("  - %s\n", p))
	}
	return sb.String()
}

var validLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

// Validate checks every section and reports all problems at once.
func (c *Config) Validate() error {
	errs := &ValidationErrors{}

	if c.Server.Port == "" {
		errs.add("server.port is required (set PORT env var)")
	}

	if u, err := url.Parse(c.Upstream.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs.add("upstream.base_url must be an absolute URL, got %q", c.Upstream.BaseURL)
	}
	if c.Upstream.RatePerSecond < 1 {
		errs.add("upstream.rate_per_second must be >= 1")
	}
	if c.Upstream.RetryCount < 0 {
		errs.add("upstream.retry_count must be >= 0")
	}

	if c.Live.RetryDelayMs < 1 {
		errs.add("live.retry_delay_ms must be >= 1")
	}

	if c.Poll.FloorMs < 1 {
		errs.add("poll.floor_ms must be >= 1")
	}
	if c.Poll.CeilingMs < c.Poll.FloorMs {
		errs.add("poll.ceiling_ms (%d) must be >= poll.floor_ms (%d)", c.Poll.CeilingMs, c.Poll.FloorMs)
	}
	if c.Poll.TimeoutFactor <= 0 {
		errs.add("poll.timeout_factor must be > 0")
	}
	if c.Poll.ErrorIntervalSec < 1 {
		errs.add("poll.error_interval_sec must be >= 1")
	}

	if c.Backoff.InitialMs < 1 {
		errs.add("backoff.initial_ms must be >= 1")
	}
	if c.Backoff.Multiplier < 1 {
		errs.add("backoff.multiplier must be >= 1")
	}
	if c.Backoff.MaxMs < c.Backoff.InitialMs {
		errs.add("backoff.max_ms (%d) must be >= backoff.initial_ms (%d)", c.Backoff.MaxMs, c.Backoff.InitialMs)
	}

	if c.Dedup.Ceiling < 1 {
		errs.add("dedup.ceiling must be >= 1")
	}
	if c.Dedup.EvictFraction <= 0 || c.Dedup.EvictFraction >= 1 {
		errs.add("dedup.evict_fraction must be between 0 and 1, got %g", c.Dedup.EvictFraction)
	}

	if c.Fanout.QueueSize < 1 {
		errs.add("fanout.queue_size must be >= 1")
	}
	if c.Fanout.SubscriberBuffer < 1 {
		errs.add("fanout.subscriber_buffer must be >= 1")
	}

	if !c.WS.Enabled && !c.SSE.Enabled {
		errs.add("at least one of ws.enabled or sse.enabled must be true")
	}

	if !validLevels[strings.ToLower(c.Logging.Level)] {
		errs.add("logging.level must be one of debug, info, warn, error, got %q", c.Logging.Level)
	}

	if err := c.NotifierConfig().Validate(); err != nil {
		errs.add("%v", err)
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}
