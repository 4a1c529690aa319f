// Package transport is the WebSocket edge of the call gateway. It authenticates
// and upgrades connections, owns the live-socket registry, and moves JSON
// envelopes between sockets and the types.SocketHandler.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/RoseWrightdev/Messenger/backend/go/internal/v1/callerr"
	"github.com/RoseWrightdev/Messenger/backend/go/internal/v1/logging"
	"github.com/RoseWrightdev/Messenger/backend/go/internal/v1/metrics"
	"github.com/RoseWrightdev/Messenger/backend/go/internal/v1/ratelimit"
	"github.com/RoseWrightdev/Messenger/backend/go/internal/v1/types"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// errSendBufferFull is returned by EmitToSocket when a slow socket cannot keep up.
var errSendBufferFull = errors.New("socket send buffer full")

// Options tunes a Hub.
type Options struct {
	// AllowedOrigins lists the browser origins that may open a socket.
	AllowedOrigins []string
	// EventsPerSecond throttles inbound events per socket. Zero disables throttling.
	EventsPerSecond float64
}

// Hub tracks every live call socket. It implements types.Transport.
type Hub struct {
	mu        sync.RWMutex
	clients   map[types.SocketID]*Client
	handler   types.SocketHandler
	validator types.TokenValidator
	users     types.UserDirectory

	rateLimiter *ratelimit.RateLimiter // nil disables connection admission limits
	opts        Options
	newSocketID func() types.SocketID
	closing     bool
}

// NewHub creates a Hub. The SocketHandler is attached later with SetHandler, since
// the gateway itself needs the Hub as its transport.
func NewHub(validator types.TokenValidator, users types.UserDirectory, rateLimiter *ratelimit.RateLimiter, opts Options) *Hub {
	return &Hub{
		clients:     make(map[types.SocketID]*Client),
		validator:   validator,
		users:       users,
		rateLimiter: rateLimiter,
		opts:        opts,
		newSocketID: func() types.SocketID { return types.SocketID(uuid.NewString()) },
	}
}

// SetHandler attaches the receiver of socket lifecycle and inbound events.
func (h *Hub) SetHandler(handler types.SocketHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handler = handler
}

func (h *Hub) socketHandler() types.SocketHandler {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.handler
}

// ServeWs authenticates the user and upgrades to a WebSocket connection.
func (h *Hub) ServeWs(c *gin.Context) {
	h.mu.RLock()
	closing := h.closing
	h.mu.RUnlock()
	if closing {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "server shutting down"})
		return
	}

	// IP admission runs before any token work.
	if h.rateLimiter != nil && !h.rateLimiter.AdmitSocket(c) {
		return
	}

	ctx := c.Request.Context()

	tokenResult, claims, err := h.resolveClaims(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}

	if err := validateOrigin(c.Request, h.opts.AllowedOrigins); err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": "origin not allowed"})
		return
	}

	userID := types.UserID(claims.Subject)
	if _, err := h.users.GetUser(ctx, userID); err != nil {
		if errors.Is(err, callerr.ErrNotFound) {
			logging.Warn(ctx, "Socket rejected, unknown user", zap.String("userId", string(userID)))
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unknown user"})
			return
		}
		logging.Error(ctx, "User lookup failed during socket handshake", zap.String("userId", string(userID)), zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": callerr.InternalMessage})
		return
	}

	if h.rateLimiter != nil {
		if err := h.rateLimiter.AdmitUser(ctx, userID); err != nil {
			var limitErr *ratelimit.SocketLimitError
			if errors.As(err, &limitErr) {
				c.Header("Retry-After", limitErr.RetryAfterSeconds())
			}
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "Too many connections for this user"})
			return
		}
	}

	conn, err := h.upgradeWebSocket(c, tokenResult)
	if err != nil {
		return
	}

	// The request context ends with this handler; keep its values only.
	h.HandleConnection(context.WithoutCancel(ctx), conn, userID)
}

// HandleConnection registers an established connection for userID and starts its pumps.
func (h *Hub) HandleConnection(ctx context.Context, conn wsConnection, userID types.UserID) *Client {
	client := newClient(h, conn, h.newSocketID(), userID, h.opts.EventsPerSecond)
	ctx = logging.WithValue(ctx, logging.UserIDKey, string(userID))
	ctx = logging.WithValue(ctx, logging.SocketIDKey, string(client.ID))
	client.ctx = ctx

	h.mu.Lock()
	h.clients[client.ID] = client
	h.mu.Unlock()

	metrics.IncConnection()
	logging.Info(ctx, "Call socket connected")

	// Registered first: the handler may emit to this socket straight away.
	if handler := h.socketHandler(); handler != nil {
		handler.HandleConnect(ctx, client.ID, userID)
	}

	go client.writePump()
	go client.readPump()
	return client
}

// unregister drops the client and tells the handler. It runs once per client.
func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	if current, ok := h.clients[c.ID]; ok && current == c {
		delete(h.clients, c.ID)
	}
	h.mu.Unlock()

	c.Disconnect()
	metrics.DecConnection()

	if handler := h.socketHandler(); handler != nil {
		handler.HandleDisconnect(c.ctx, c.ID)
	}
	logging.Info(c.ctx, "Call socket disconnected")
}

// EmitToSocket sends one event to one live socket. An unknown socket is a silent no-op.
func (h *Hub) EmitToSocket(ctx context.Context, socketID types.SocketID, event string, payload any) error {
	h.mu.RLock()
	client, ok := h.clients[socketID]
	h.mu.RUnlock()
	if !ok {
		logging.GetLogger().Debug("Emit to unknown socket skipped",
			zap.String("socketId", string(socketID)), zap.String("event", event))
		return nil
	}

	data, err := encodeEnvelope(event, payload)
	if err != nil {
		return err
	}
	return client.enqueue(data)
}

// Len returns the number of live sockets.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Shutdown refuses new sockets and closes every live one.
func (h *Hub) Shutdown(ctx context.Context) error {
	logging.Info(ctx, "Shutting down Hub - closing all call sockets...")

	h.mu.Lock()
	h.closing = true
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.Disconnect()
	}

	logging.Info(ctx, "All call sockets closed", zap.Int("count", len(clients)))
	return nil
}

func encodeEnvelope(event string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", event, err)
	}
	return json.Marshal(types.Envelope{Event: event, Data: raw})
}
