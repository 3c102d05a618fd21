package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/drywest/timsusofun/internal/stream"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Subscribers only send control frames.
	maxMessageSize = 4 * 1024

	// Send buffer size per client.
	sendBufferSize = 256

	// Close reasons travel in a control frame, which caps the payload.
	maxCloseReason = 120
)

// Client is one WebSocket subscriber. It implements stream.Subscriber.
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	connID   string
	protocol Protocol
	logger   *zap.Logger

	closeOnce   sync.Once
	done        chan struct{}
	closeReason string
}

func newClient(hub *Hub, conn *websocket.Conn, connID string, protocol Protocol, bufferSize int, logger *zap.Logger) *Client {
	if bufferSize <= 0 {
		bufferSize = sendBufferSize
	}
	return &Client{
		hub:      hub,
		conn:     conn,
		send:     make(chan []byte, bufferSize),
		connID:   connID,
		protocol: protocol,
		logger:   logger.With(zap.String("connID", connID)),
		done:     make(chan struct{}),
	}
}

// ID returns the connection id.
func (c *Client) ID() string { return c.connID }

// Send queues f without blocking. It reports false when the client's
// buffer is full.
func (c *Client) Send(f *stream.Frame) bool {
	select {
	case <-c.done:
		return true
	default:
	}

	payload := f.JSON
	if c.protocol == ProtocolZstd {
		payload = f.Compressed()
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// Close asks the write pump to send a close frame carrying reason and
// tear the connection down. Safe to call more than once.
func (c *Client) Close(reason string) {
	c.closeOnce.Do(func() {
		c.closeReason = reason
		close(c.done)
	})
}

// readPump consumes control frames until the peer goes away, then calls
// onGone.
func (c *Client) readPump(onGone func()) {
	defer func() {
		onGone()
		c.Close("")
		c.hub.unregister(c)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Debug("websocket read error", zap.Error(err))
			}
			return
		}
	}
}

// writePump writes queued frames and pings until the client is closed.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	msgType := websocket.TextMessage
	if c.protocol == ProtocolZstd {
		msgType = websocket.BinaryMessage
	}

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(msgType, message); err != nil {
				c.logger.Debug("websocket write error", zap.Error(err))
				return
			}

		case <-c.done:
			c.flush(msgType)
			reason := c.closeReason
			if len(reason) > maxCloseReason {
				reason = reason[:maxCloseReason]
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason))
			return

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// flush writes whatever is still buffered so a final error message is not
// lost behind the close frame.
func (c *Client) flush(msgType int) {
	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(msgType, message); err != nil {
				return
			}
		default:
			return
		}
	}
}
