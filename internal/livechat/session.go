// Package livechat talks to the upstream chat transport: it bootstraps a
// session from the pop-out chat page and exchanges continuation tokens for
// batches of raw chat actions.
package livechat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"

	"go.uber.org/zap"

	"github.com/drywest/timsusofun/internal/api"
	"github.com/drywest/timsusofun/internal/htmldata"
)

var (
	// ErrSessionInit is terminal for a broadcast id.
	ErrSessionInit = errors.New("session init failed")
	// ErrUpstreamParse marks a poll response that could not be decoded.
	ErrUpstreamParse = errors.New("upstream response could not be parsed")
	// ErrContinuationExhausted is returned when a poll carries no next token.
	ErrContinuationExhausted = errors.New("continuation exhausted")
)

const (
	chatPagePath = "/live_chat"
	pollPath     = "/youtubei/v1/live_chat/get_live_chat"
)

var (
	clientConfigMarker = "ytcfg.set("
	initialDataMarkers = []string{
		`window["ytInitialData"] = `,
		"var ytInitialData = ",
		"ytInitialData = ",
	}
)

// Session is the per-broadcast state needed to poll. Only Continuation
// changes after creation, advancing once per successful poll.
type Session struct {
	BroadcastID   string
	APIKey        string
	Context       json.RawMessage
	ClientName    string
	ClientVersion string
	Continuation  string
	Origin        string
}

// Client bootstraps sessions and polls the chat endpoint.
type Client struct {
	api      api.Client
	selector *Selector
	logger   *zap.Logger
}

// NewClient creates a Client. A nil selector selects DefaultSelector.
func NewClient(c api.Client, selector *Selector, logger *zap.Logger) *Client {
	if selector == nil {
		selector = DefaultSelector()
	}
	return &Client{api: c, selector: selector, logger: logger}
}

// Init fetches the pop-out chat page for broadcastID and builds a Session
// from the data embedded in it.
func (c *Client) Init(ctx context.Context, broadcastID string) (*Session, error) {
	page, err := c.api.GetPage(ctx, chatPagePath, url.Values{"is_popout": {"1"}, "v": {broadcastID}})
	if err != nil {
		return nil, fmt.Errorf("%w: fetching chat page: %w", ErrSessionInit, err)
	}

	sess, err := parseSession(page.Body, c.selector)
	if err != nil {
		return nil, err
	}
	sess.BroadcastID = broadcastID
	if page.URL != nil {
		sess.Origin = page.URL.String()
	}

	c.logger.Info("chat session initialized",
		zap.String("broadcastID", broadcastID),
		zap.String("clientName", sess.ClientName),
		zap.String("clientVersion", sess.ClientVersion),
	)
	return sess, nil
}

func parseSession(body string, selector *Selector) (*Session, error) {
	cfg, ok := findClientConfig(body)
	if !ok {
		return nil, fmt.Errorf("%w: client config with api key not found", ErrSessionInit)
	}

	sess := &Session{
		APIKey:        stringField(cfg, "INNERTUBE_API_KEY"),
		Context:       cfg["INNERTUBE_CONTEXT"],
		ClientName:    stringField(cfg, "INNERTUBE_CLIENT_NAME", "INNERTUBE_CONTEXT_CLIENT_NAME"),
		ClientVersion: stringField(cfg, "INNERTUBE_CLIENT_VERSION", "INNERTUBE_CONTEXT_CLIENT_VERSION"),
	}
	if len(sess.Context) == 0 || sess.Context[0] != '{' {
		return nil, fmt.Errorf("%w: request context not found in client config", ErrSessionInit)
	}

	raw, ok := htmldata.First(body, initialDataMarkers...)
	if !ok {
		return nil, fmt.Errorf("%w: initial chat state not found", ErrSessionInit)
	}
	var initial any
	if err := json.Unmarshal(raw, &initial); err != nil {
		return nil, fmt.Errorf("%w: decoding initial chat state: %w", ErrSessionInit, err)
	}

	token, _, ok := selector.Select(initial)
	if !ok {
		return nil, fmt.Errorf("%w: no continuation found", ErrSessionInit)
	}
	sess.Continuation = token
	return sess, nil
}

// findClientConfig returns the first ytcfg.set object that carries an API
// key. Pages call ytcfg.set several times with unrelated settings.
func findClientConfig(body string) (map[string]json.RawMessage, bool) {
	for _, raw := range htmldata.ExtractAll(body, clientConfigMarker) {
		var cfg map[string]json.RawMessage
		if err := json.Unmarshal(raw, &cfg); err != nil {
			continue
		}
		if stringField(cfg, "INNERTUBE_API_KEY") != "" {
			return cfg, true
		}
	}
	return nil, false
}

// stringField reads the first of keys holding a JSON string or number.
func stringField(m map[string]json.RawMessage, keys ...string) string {
	for _, k := range keys {
		raw, ok := m[k]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil && s != "" {
			return s
		}
		var n json.Number
		if err := json.Unmarshal(raw, &n); err == nil {
			return n.String()
		}
	}
	return ""
}
