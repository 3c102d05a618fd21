// Package ws serves chat streams to WebSocket subscribers.
package ws

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/drywest/timsusofun/internal/live"
	"github.com/drywest/timsusofun/internal/stream"
)

// Protocol is the negotiated frame encoding.
type Protocol string

const (
	// ProtocolJSON sends each message as a JSON text frame. It is the
	// default when the client asks for no subprotocol.
	ProtocolJSON Protocol = "chat.json.v1"
	// ProtocolZstd sends each message as zstd-compressed JSON in a binary frame.
	ProtocolZstd Protocol = "chat.zstd.v1"
)

// Attacher joins subscribers to broadcast streams.
type Attacher interface {
	Attach(ctx context.Context, target live.Target, sub stream.Subscriber) (*stream.Stream, error)
	Detach(sub stream.Subscriber)
}

// Handler upgrades subscriber connections and attaches them to streams.
type Handler struct {
	hub        *Hub
	streams    Attacher
	upgrader   websocket.Upgrader
	bufferSize int
	logger     *zap.Logger
}

// NewHandler creates a Handler. allowOrigin decides cross-origin upgrades;
// nil allows every origin.
func NewHandler(hub *Hub, streams Attacher, bufferSize int, allowOrigin func(*http.Request) bool, logger *zap.Logger) *Handler {
	if allowOrigin == nil {
		allowOrigin = func(*http.Request) bool { return true }
	}
	return &Handler{
		hub:     hub,
		streams: streams,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     allowOrigin,
		},
		bufferSize: bufferSize,
		logger:     logger,
	}
}

// negotiate picks the first subprotocol the client offers that we speak.
func negotiate(r *http.Request) (Protocol, http.Header) {
	for _, proto := range websocket.Subprotocols(r) {
		switch Protocol(proto) {
		case ProtocolJSON, ProtocolZstd:
			return Protocol(proto), http.Header{"Sec-WebSocket-Protocol": {proto}}
		}
	}
	return ProtocolJSON, nil
}

// ServeHTTP handles GET /ws?videoId=|liveId=|channelId=|handle=.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	target, err := live.TargetFromQuery(r.URL.Query())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	protocol, responseHeader := negotiate(r)
	h.logger.Debug("websocket subprotocol negotiated",
		zap.String("protocol", string(protocol)),
		zap.Strings("requested", websocket.Subprotocols(r)),
	)

	conn, err := h.upgrader.Upgrade(w, r, responseHeader)
	if err != nil {
		h.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	client := newClient(h.hub, conn, uuid.New().String(), protocol, h.bufferSize, h.logger)
	h.hub.register(client)

	// The connection outlives the request; its context ends when the peer
	// goes away.
	ctx, cancel := context.WithCancel(context.Background())
	go client.writePump()
	go client.readPump(func() {
		cancel()
		h.streams.Detach(client)
	})
	go h.attach(ctx, target, client)
}

// attach waits for the target to go live and joins the client to its
// stream.
func (h *Handler) attach(ctx context.Context, target live.Target, c *Client) {
	s, err := h.streams.Attach(ctx, target, c)
	if err != nil {
		if ctx.Err() == nil {
			h.logger.Warn("attach failed", zap.String("target", target.String()), zap.Error(err))
			reason := "attach failed"
			if errors.Is(err, stream.ErrRegistryClosed) {
				reason = stream.ReasonShutdown
			}
			c.Close(reason)
		}
		return
	}
	if ctx.Err() != nil {
		// Peer left while the attach was completing.
		h.streams.Detach(c)
		return
	}
	c.logger.Info("websocket subscriber attached",
		zap.String("target", target.String()),
		zap.String("broadcastID", s.BroadcastID()),
		zap.String("protocol", string(c.protocol)),
	)
}
