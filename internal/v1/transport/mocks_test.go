package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/RoseWrightdev/Messenger/backend/go/internal/v1/auth"
	"github.com/RoseWrightdev/Messenger/backend/go/internal/v1/config"
	"github.com/RoseWrightdev/Messenger/backend/go/internal/v1/directory"
	"github.com/RoseWrightdev/Messenger/backend/go/internal/v1/ratelimit"
	"github.com/RoseWrightdev/Messenger/backend/go/internal/v1/types"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// MockTokenValidator accepts any token as the subject named by the token itself.
type MockTokenValidator struct {
	shouldFail bool
}

func (m *MockTokenValidator) ValidateToken(token string) (*auth.CustomClaims, error) {
	if m.shouldFail {
		return nil, errors.New("invalid token")
	}
	claims := &auth.CustomClaims{}
	claims.Subject = token
	return claims, nil
}

func newTestRateLimiter(t *testing.T, ipRate, userRate string) *ratelimit.RateLimiter {
	t.Helper()
	rl, err := ratelimit.NewRateLimiter(&config.Config{RateLimitWsIP: ipRate, RateLimitWsUser: userRate}, nil)
	require.NoError(t, err)
	return rl
}

func newTestUsers() *directory.Static {
	users := directory.NewStatic()
	users.AddUser("alice", "Alice")
	users.AddUser("bob", "Bob")
	return users
}

// MockConnection implements wsConnection. Inbound frames are fed through Feed;
// Close or EndInput make ReadMessage fail.
type MockConnection struct {
	in        chan []byte
	done      chan struct{}
	closeOnce sync.Once

	mu         sync.Mutex
	written    [][]byte
	closeFrame bool
}

func newMockConnection() *MockConnection {
	return &MockConnection{
		in:   make(chan []byte, 64),
		done: make(chan struct{}),
	}
}

func (m *MockConnection) Feed(data []byte) { m.in <- data }

func (m *MockConnection) FeedJSON(t *testing.T, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	m.Feed(data)
}

// EndInput simulates the peer going away.
func (m *MockConnection) EndInput() { close(m.in) }

func (m *MockConnection) ReadMessage() (int, []byte, error) {
	select {
	case data, ok := <-m.in:
		if !ok {
			return 0, nil, io.EOF
		}
		return websocket.TextMessage, data, nil
	case <-m.done:
		return 0, nil, net.ErrClosed
	}
}

func (m *MockConnection) WriteMessage(messageType int, data []byte) error {
	select {
	case <-m.done:
		return net.ErrClosed
	default:
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	switch messageType {
	case websocket.CloseMessage:
		m.closeFrame = true
	default:
		m.written = append(m.written, data)
	}
	return nil
}

func (m *MockConnection) Close() error {
	m.closeOnce.Do(func() { close(m.done) })
	return nil
}

func (m *MockConnection) SetWriteDeadline(_ time.Time) error { return nil }

func (m *MockConnection) SetReadLimit(_ int64) {}

func (m *MockConnection) isClosed() bool {
	select {
	case <-m.done:
		return true
	default:
		return false
	}
}

func (m *MockConnection) sentCloseFrame() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeFrame
}

// envelopes decodes every text frame written so far.
func (m *MockConnection) envelopes(t *testing.T) []types.Envelope {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.Envelope, 0, len(m.written))
	for _, frame := range m.written {
		var env types.Envelope
		require.NoError(t, json.Unmarshal(frame, &env))
		out = append(out, env)
	}
	return out
}

func (m *MockConnection) countEvent(t *testing.T, event string) int {
	n := 0
	for _, env := range m.envelopes(t) {
		if env.Event == event {
			n++
		}
	}
	return n
}

// recordingHandler implements types.SocketHandler.
type recordingHandler struct {
	mu          sync.Mutex
	connects    []types.SocketID
	disconnects []types.SocketID
	events      []types.Envelope

	onConnect func(ctx context.Context, socketID types.SocketID, userID types.UserID)
	onEvent   func(ctx context.Context, socketID types.SocketID, env types.Envelope)
}

func (r *recordingHandler) HandleConnect(ctx context.Context, socketID types.SocketID, userID types.UserID) {
	r.mu.Lock()
	r.connects = append(r.connects, socketID)
	hook := r.onConnect
	r.mu.Unlock()
	if hook != nil {
		hook(ctx, socketID, userID)
	}
}

func (r *recordingHandler) HandleDisconnect(_ context.Context, socketID types.SocketID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disconnects = append(r.disconnects, socketID)
}

func (r *recordingHandler) HandleEvent(ctx context.Context, socketID types.SocketID, _ types.UserID, env types.Envelope) {
	r.mu.Lock()
	r.events = append(r.events, env)
	hook := r.onEvent
	r.mu.Unlock()
	if hook != nil {
		hook(ctx, socketID, env)
	}
}

func (r *recordingHandler) counts() (connects, disconnects, events int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.connects), len(r.disconnects), len(r.events)
}

func (r *recordingHandler) eventNames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.events))
	for _, env := range r.events {
		names = append(names, env.Event)
	}
	return names
}
