// Package notify sends stream lifecycle notifications to ntfy.
package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const sendTimeout = 30 * time.Second

// Notifier is told when a broadcast stream starts and stops. Calls must
// not block the caller.
type Notifier interface {
	StreamStarted(broadcastID string)
	StreamStopped(broadcastID, reason string)
	Close()
}

// Client implements the ntfy notification client. Notifications are sent
// in the background; Close waits for the ones in flight.
type Client struct {
	httpClient *http.Client
	config     *Config
	logger     *zap.Logger
	now        func() time.Time
	wg         sync.WaitGroup
}

// NewClient creates a new ntfy client.
func NewClient(cfg *Config, logger *zap.Logger) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: sendTimeout,
		},
		config: cfg,
		logger: logger,
		now:    time.Now,
	}
}

// StreamStarted announces that polling began for broadcastID.
func (c *Client) StreamStarted(broadcastID string) {
	title := fmt.Sprintf("Chat stream started: %s", broadcastID)
	message := FormatStartedMessage(broadcastID, c.now())
	c.async(title, message, c.config.Tags+",arrow_forward", c.config.Priority)
}

// StreamStopped announces that the stream for broadcastID ended.
func (c *Client) StreamStopped(broadcastID, reason string) {
	title := fmt.Sprintf("Chat stream stopped: %s", broadcastID)
	message := FormatStoppedMessage(broadcastID, reason, c.now())
	c.async(title, message, c.config.Tags+",stop_button", c.config.Priority)
}

// Close waits for pending notifications.
func (c *Client) Close() {
	c.wg.Wait()
}

func (c *Client) async(title, message, tags, priority string) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()
		_ = c.send(ctx, title, message, tags, priority)
	}()
}

func (c *Client) send(ctx context.Context, title, message, tags, priority string) error {
	url := fmt.Sprintf("%s/%s", strings.TrimSuffix(c.config.Server, "/"), c.config.Topic)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(message))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Title", title)
	req.Header.Set("Priority", priority)
	req.Header.Set("Tags", strings.TrimPrefix(tags, ","))

	if c.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.Token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("failed to send notification", zap.Error(err))
		return fmt.Errorf("sending notification: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	// Drain response body to allow connection reuse
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("notification failed",
			zap.Int("status", resp.StatusCode),
			zap.String("url", url),
		)
		return fmt.Errorf("notification failed with status: %d", resp.StatusCode)
	}

	c.logger.Debug("notification sent", zap.String("title", title))
	return nil
}

// NoopNotifier is a no-op implementation for when notifications are disabled.
type NoopNotifier struct{}

func (NoopNotifier) StreamStarted(string)         {}
func (NoopNotifier) StreamStopped(string, string) {}
func (NoopNotifier) Close()                       {}

// New creates the appropriate notifier based on config.
func New(cfg *Config, logger *zap.Logger) Notifier {
	if cfg == nil || !cfg.Enabled {
		return NoopNotifier{}
	}
	return NewClient(cfg, logger)
}
