package ws

import (
	"sync"

	"go.uber.org/zap"
)

// Hub tracks the open WebSocket connections so they can be counted and
// closed together on shutdown. Stream membership lives in the registry.
type Hub struct {
	name    string
	clients map[*Client]bool
	mu      sync.RWMutex
	logger  *zap.Logger
}

// NewHub creates a new Hub.
func NewHub(name string, logger *zap.Logger) *Hub {
	return &Hub{
		name:    name,
		clients: make(map[*Client]bool),
		logger:  logger,
	}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()
	h.logger.Debug("client registered",
		zap.String("hub", h.name),
		zap.String("connID", c.connID),
	)
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	h.logger.Debug("client unregistered",
		zap.String("hub", h.name),
		zap.String("connID", c.connID),
	)
}

// Count returns the number of open connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Shutdown closes every open connection with reason.
func (h *Hub) Shutdown(reason string) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	h.logger.Info("hub shutting down", zap.String("hub", h.name), zap.Int("clients", len(clients)))
	for _, c := range clients {
		c.Close(reason)
	}
}
