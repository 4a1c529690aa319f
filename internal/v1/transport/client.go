package transport

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/RoseWrightdev/Messenger/backend/go/internal/v1/logging"
	"github.com/RoseWrightdev/Messenger/backend/go/internal/v1/metrics"
	"github.com/RoseWrightdev/Messenger/backend/go/internal/v1/types"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 64 * 1024
	sendBufferSize = 256
)

// wsConnection defines the interface for WebSocket connection operations.
type wsConnection interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
	SetWriteDeadline(t time.Time) error
	SetReadLimit(limit int64)
}

// Client is one live call socket.
type Client struct {
	ID     types.SocketID
	UserID types.UserID

	conn    wsConnection
	hub     *Hub
	ctx     context.Context
	limiter *rate.Limiter // nil when throttling is off

	mu     sync.RWMutex // guards closed against enqueue racing Disconnect
	closed bool
	send   chan []byte
}

func newClient(h *Hub, conn wsConnection, id types.SocketID, userID types.UserID, eventsPerSecond float64) *Client {
	c := &Client{
		ID:     id,
		UserID: userID,
		conn:   conn,
		hub:    h,
		ctx:    context.Background(),
		send:   make(chan []byte, sendBufferSize),
	}
	if eventsPerSecond > 0 {
		burst := max(int(eventsPerSecond), 1)
		c.limiter = rate.NewLimiter(rate.Limit(eventsPerSecond), burst)
	}
	return c
}

// Disconnect closes the send buffer. The write pump then sends a close frame and
// closes the connection, which ends the read pump.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// enqueue hands a frame to the write pump without blocking. Frames for a closed
// client are dropped.
func (c *Client) enqueue(data []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		logging.GetLogger().Debug("Skipping send to closed socket", zap.String("socketId", string(c.ID)))
		return nil
	}

	select {
	case c.send <- data:
		return nil
	default:
		logging.Warn(c.ctx, "Socket send buffer full - dropping event")
		return errSendBufferFull
	}
}

// sendError writes a call-error straight to this client.
func (c *Client) sendError(message string) {
	data, err := encodeEnvelope(types.EventCallError, types.CallErrorPayload{Message: message})
	if err != nil {
		return
	}
	_ = c.enqueue(data)
}

// readPump decodes inbound envelopes and passes them to the handler until the
// connection fails or is closed.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logging.Warn(c.ctx, "Call socket closed unexpectedly", zap.Error(err))
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		if c.limiter != nil && !c.limiter.Allow() {
			metrics.RateLimitExceeded.WithLabelValues("websocket_event", "socket").Inc()
			c.sendError("Too many events, slow down")
			continue
		}

		var env types.Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Event == "" {
			metrics.WebsocketEvents.WithLabelValues("malformed", "rejected").Inc()
			logging.Warn(c.ctx, "Failed to decode call envelope", zap.Error(err))
			c.sendError("Invalid message format")
			continue
		}

		if handler := c.hub.socketHandler(); handler != nil {
			handler.HandleEvent(c.ctx, c.ID, c.UserID, env)
		}
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()

	for message := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			logging.Error(c.ctx, "error writing message", zap.Error(err))
			return
		}
	}

	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
