package livechat

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
)

// Batch is one poll result: the raw chat actions plus the token and
// server-suggested wait for the next poll. An empty Continuation means the
// upstream has ended the session.
type Batch struct {
	Actions      []json.RawMessage
	Continuation string
	TimeoutMs    int
}

// Exhausted reports whether the session has no next continuation.
func (b *Batch) Exhausted() bool {
	return b.Continuation == ""
}

type pollRequest struct {
	Context      json.RawMessage `json:"context"`
	Continuation string          `json:"continuation"`
}

type continuationData struct {
	Continuation string `json:"continuation"`
	TimeoutMs    int    `json:"timeoutMs"`
}

type pollResponse struct {
	ContinuationContents *struct {
		LiveChatContinuation *struct {
			Continuations []struct {
				Invalidation *continuationData `json:"invalidationContinuationData"`
				Timed        *continuationData `json:"timedContinuationData"`
				Reload       *continuationData `json:"reloadContinuationData"`
			} `json:"continuations"`
			Actions []json.RawMessage `json:"actions"`
		} `json:"liveChatContinuation"`
	} `json:"continuationContents"`
}

// Poll exchanges the session's current continuation for the next batch.
// It does not advance the session; the caller does that once the batch has
// been consumed.
func (c *Client) Poll(ctx context.Context, sess *Session) (*Batch, error) {
	query := url.Values{"prettyPrint": {"false"}}
	if sess.APIKey != "" {
		query.Set("key", sess.APIKey)
	}

	body, err := c.api.PostJSON(ctx, pollPath, query, pollRequest{
		Context:      sess.Context,
		Continuation: sess.Continuation,
	})
	if err != nil {
		return nil, err
	}
	return ParseBatch(body)
}

// ParseBatch decodes a poll response. Any of the three continuation shapes
// is accepted; the first one present wins.
func ParseBatch(body []byte) (*Batch, error) {
	var resp pollResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUpstreamParse, err)
	}

	batch := &Batch{}
	if resp.ContinuationContents == nil || resp.ContinuationContents.LiveChatContinuation == nil {
		return batch, nil
	}
	lcc := resp.ContinuationContents.LiveChatContinuation
	batch.Actions = lcc.Actions

	for _, c := range lcc.Continuations {
		for _, data := range []*continuationData{c.Invalidation, c.Timed, c.Reload} {
			if data != nil && data.Continuation != "" {
				batch.Continuation = data.Continuation
				batch.TimeoutMs = data.TimeoutMs
				return batch, nil
			}
		}
	}
	return batch, nil
}
