// Package sse serves chat streams as Server-Sent Events.
package sse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/drywest/timsusofun/internal/live"
	"github.com/drywest/timsusofun/internal/stream"
)

const (
	defaultBufferSize = 256
	defaultKeepAlive  = 15 * time.Second
)

// Attacher joins subscribers to broadcast streams.
type Attacher interface {
	Attach(ctx context.Context, target live.Target, sub stream.Subscriber) (*stream.Stream, error)
	Detach(sub stream.Subscriber)
}

// Handler serves GET /sse?videoId=|liveId=|channelId=|handle=.
type Handler struct {
	streams    Attacher
	bufferSize int
	keepAlive  time.Duration
	logger     *zap.Logger
}

// NewHandler creates a Handler. Non-positive sizes select the defaults.
func NewHandler(streams Attacher, bufferSize int, keepAlive time.Duration, logger *zap.Logger) *Handler {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	if keepAlive <= 0 {
		keepAlive = defaultKeepAlive
	}
	return &Handler{streams: streams, bufferSize: bufferSize, keepAlive: keepAlive, logger: logger}
}

// client is one SSE subscriber. It implements stream.Subscriber.
type client struct {
	id     string
	dataCh chan *stream.Frame

	closeOnce sync.Once
	doneCh    chan struct{}
	reason    string
}

func (c *client) ID() string { return c.id }

func (c *client) Send(f *stream.Frame) bool {
	select {
	case <-c.doneCh:
		return true
	default:
	}
	select {
	case c.dataCh <- f:
		return true
	default:
		return false
	}
}

func (c *client) Close(reason string) {
	c.closeOnce.Do(func() {
		c.reason = reason
		close(c.doneCh)
	})
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	target, err := live.TargetFromQuery(r.URL.Query())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	c := &client{
		id:     uuid.New().String(),
		dataCh: make(chan *stream.Frame, h.bufferSize),
		doneCh: make(chan struct{}),
	}
	logger := h.logger.With(zap.String("connID", c.id), zap.String("target", target.String()))

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	defer h.streams.Detach(c)

	var attached atomic.Bool
	go func() {
		s, err := h.streams.Attach(ctx, target, c)
		if err != nil {
			if ctx.Err() == nil {
				logger.Warn("attach failed", zap.Error(err))
				reason := "attach failed"
				if errors.Is(err, stream.ErrRegistryClosed) {
					reason = stream.ReasonShutdown
				}
				c.Close(reason)
			}
			return
		}
		attached.Store(true)
		if ctx.Err() != nil {
			h.streams.Detach(c)
			return
		}
		logger.Info("sse subscriber attached", zap.String("broadcastID", s.BroadcastID()))
	}()

	keepAlive := time.NewTicker(h.keepAlive)
	defer keepAlive.Stop()

	var seq uint64
	for {
		select {
		case <-ctx.Done():
			logger.Debug("sse client disconnected", zap.Bool("attached", attached.Load()))
			return

		case frame := <-c.dataCh:
			seq++
			if err := writeEvent(w, string(frame.Type), seq, frame.JSON); err != nil {
				logger.Debug("failed to write to client", zap.Error(err))
				return
			}
			flusher.Flush()

		case <-c.doneCh:
			h.drain(w, c, &seq)
			payload, _ := json.Marshal(map[string]string{"reason": c.reason})
			seq++
			writeEvent(w, "close", seq, payload)
			flusher.Flush()
			return

		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// drain writes frames queued before the client was closed.
func (h *Handler) drain(w http.ResponseWriter, c *client, seq *uint64) {
	for {
		select {
		case frame := <-c.dataCh:
			*seq++
			if err := writeEvent(w, string(frame.Type), *seq, frame.JSON); err != nil {
				return
			}
		default:
			return
		}
	}
}

func writeEvent(w http.ResponseWriter, event string, id uint64, data []byte) error {
	_, err := fmt.Fprintf(w, "event: %s\nid: %d\ndata: %s\n\n", event, id, data)
	return err
}
