package server

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/drywest/timsusofun/internal/stream"
)

// StreamLister reports the active streams.
type StreamLister interface {
	Streams() []stream.Info
}

// ConnCounter reports open subscriber connections.
type ConnCounter interface {
	Count() int
}

type Server struct {
	streams   StreamLister
	conns     ConnCounter
	startedAt time.Time
	logger    *zap.Logger
}

// NewServer creates the status handlers. conns may be nil when the
// WebSocket transport is disabled.
func NewServer(streams StreamLister, conns ConnCounter, logger *zap.Logger) *Server {
	return &Server{
		streams:   streams,
		conns:     conns,
		startedAt: time.Now(),
		logger:    logger,
	}
}

type healthResponse struct {
	Status      string `json:"status"`
	Streams     int    `json:"streams"`
	Connections int    `json:"wsConnections"`
	Uptime      string `json:"uptime"`
}

type streamsResponse struct {
	Streams []stream.Info `json:"streams"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:  "ok",
		Streams: len(s.streams.Streams()),
		Uptime:  time.Since(s.startedAt).Round(time.Second).String(),
	}
	if s.conns != nil {
		resp.Connections = s.conns.Count()
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStreams(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, streamsResponse{Streams: s.streams.Streams()})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
	}
}
