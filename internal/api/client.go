package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

	// Watch pages are around 1MB; anything far beyond that is not a page we understand.
	maxBodySize = 8 << 20
)

// Client interface for testability
type Client interface {
	GetPage(ctx context.Context, path string, query url.Values) (*Page, error)
	PostJSON(ctx context.Context, path string, query url.Values, body any) ([]byte, error)
}

// Page is a fetched HTML document together with the URL it was finally
// served from after redirects.
type Page struct {
	URL  *url.URL
	Body string
}

// Options configures an HTTPClient.
type Options struct {
	BaseURL    string
	UserAgent  string
	Language   string
	RatePerSec int
	Timeout    time.Duration
	RetryCount int
	RetryDelay time.Duration
}

type HTTPClient struct {
	httpClient *http.Client
	baseURL    string
	userAgent  string
	language   string
	limiter    *rate.Limiter
	retryCount int
	retryDelay time.Duration
	logger     *zap.Logger
}

func NewClient(opts Options, logger *zap.Logger) *HTTPClient {
	transport := &http.Transport{
		MaxIdleConns:       100,
		MaxConnsPerHost:    50,
		IdleConnTimeout:    90 * time.Second,
		DisableCompression: false,
	}

	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	language := opts.Language
	if language == "" {
		language = "en"
	}
	ratePerSec := opts.RatePerSec
	if ratePerSec <= 0 {
		ratePerSec = 20
	}

	return &HTTPClient{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   opts.Timeout,
		},
		baseURL:    strings.TrimSuffix(opts.BaseURL, "/"),
		userAgent:  userAgent,
		language:   language,
		limiter:    rate.NewLimiter(rate.Limit(ratePerSec), ratePerSec*2),
		retryCount: opts.RetryCount,
		retryDelay: opts.RetryDelay,
		logger:     logger,
	}
}

// GetPage fetches an HTML page relative to the base URL. Page fetches share
// the client-wide rate limit and are retried.
func (c *HTTPClient) GetPage(ctx context.Context, path string, query url.Values) (*Page, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}
	resp, body, err := c.do(ctx, http.MethodGet, path, query, nil, c.retryCount)
	if err != nil {
		return nil, err
	}
	return &Page{URL: resp.Request.URL, Body: string(body)}, nil
}

// PostJSON sends body as JSON and returns the raw response body. It makes a
// single attempt outside the shared rate limit: each caller paces and backs
// off its own polls.
func (c *HTTPClient) PostJSON(ctx context.Context, path string, query url.Values, body any) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}
	_, respBody, err := c.do(ctx, http.MethodPost, path, query, payload, 0)
	return respBody, err
}

func (c *HTTPClient) do(ctx context.Context, method, path string, query url.Values, payload []byte, retries int) (*http.Response, []byte, error) {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	c.logger.Debug("requesting", zap.String("method", method), zap.String("url", redactKey(target)))

	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			delay := c.retryDelay * time.Duration(1<<(attempt-1)) // Exponential backoff
			c.logger.Debug("retrying request", zap.Int("attempt", attempt), zap.Duration("delay", delay))

			select {
			case <-ctx.Done():
				return nil, nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		var reqBody io.Reader
		if payload != nil {
			reqBody = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, target, reqBody)
		if err != nil {
			return nil, nil, fmt.Errorf("creating request: %w", err)
		}

		req.Header.Set("User-Agent", c.userAgent)
		req.Header.Set("Accept-Language", c.language)
		// Skip the EU consent interstitial, which carries none of the embedded data.
		req.Header.Set("Cookie", "CONSENT=YES+1")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("Accept", "application/json")
		} else {
			req.Header.Set("Accept", "text/html,application/xhtml+xml")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, nil, ctx.Err()
			}
			lastErr = err
			continue
		}

		// Read body before closing for error messages
		body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
		_ = resp.Body.Close()

		if readErr != nil {
			lastErr = readErr
			continue
		}

		if resp.StatusCode == http.StatusNotFound {
			return nil, nil, ErrNotFound
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = ErrRateLimited
			continue
		}

		if resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("server error: %d", resp.StatusCode)
			continue
		}

		if resp.StatusCode != http.StatusOK {
			return nil, nil, fmt.Errorf("%w: unexpected status %d: %s", ErrUpstreamFetch, resp.StatusCode, truncate(string(body), 200))
		}

		return resp, body, nil
	}

	if retries == 0 {
		return nil, nil, fmt.Errorf("%w: %w", ErrUpstreamFetch, lastErr)
	}
	return nil, nil, fmt.Errorf("%w: max retries exceeded: %w", ErrUpstreamFetch, lastErr)
}

// redactKey masks the "key" query parameter for logging.
func redactKey(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	if key := q.Get("key"); len(key) > 4 {
		q.Set("key", key[:4]+"****")
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
