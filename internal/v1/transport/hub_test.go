package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/RoseWrightdev/Messenger/backend/go/internal/v1/auth"
	"github.com/RoseWrightdev/Messenger/backend/go/internal/v1/types"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHub(t *testing.T, validator types.TokenValidator) (*Hub, *recordingHandler) {
	t.Helper()
	hub := NewHub(validator, newTestUsers(), newTestRateLimiter(t, "100-M", "10-M"), Options{
		AllowedOrigins:  []string{"http://localhost:3000"},
		EventsPerSecond: 100,
	})
	handler := &recordingHandler{}
	hub.SetHandler(handler)
	t.Cleanup(func() { _ = hub.Shutdown(context.Background()) })
	return hub, handler
}

func serve(hub *Hub, req *http.Request, setup ...func(*gin.Context)) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = req
	for _, fn := range setup {
		fn(c)
	}
	hub.ServeWs(c)
	return w
}

func TestServeWs_Refusals(t *testing.T) {
	tests := []struct {
		name      string
		validator types.TokenValidator
		target    string
		origin    string
		want      int
	}{
		{"invalid token", &MockTokenValidator{shouldFail: true}, "/call?token=alice", "", http.StatusUnauthorized},
		{"no token", &MockTokenValidator{}, "/call", "", http.StatusUnauthorized},
		{"unknown user", &MockTokenValidator{}, "/call?token=mallory", "", http.StatusUnauthorized},
		{"foreign origin", &MockTokenValidator{}, "/call?token=alice", "http://evil.com", http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hub, handler := newTestHub(t, tt.validator)
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}

			w := serve(hub, req)

			assert.Equal(t, tt.want, w.Code)
			connects, _, _ := handler.counts()
			assert.Zero(t, connects)
			assert.Zero(t, hub.Len())
		})
	}
}

func TestServeWs_IPRateLimit(t *testing.T) {
	hub := NewHub(&MockTokenValidator{}, newTestUsers(), newTestRateLimiter(t, "1-M", "10-M"), Options{})

	first := serve(hub, httptest.NewRequest(http.MethodGet, "/call", nil))
	assert.Equal(t, http.StatusUnauthorized, first.Code)

	second := serve(hub, httptest.NewRequest(http.MethodGet, "/call?token=alice", nil))
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
}

func TestServeWs_UserRateLimit(t *testing.T) {
	hub := NewHub(&MockTokenValidator{}, newTestUsers(), newTestRateLimiter(t, "100-M", "1-M"), Options{})

	// Not a real upgrade request, so the first attempt fails at the upgrade step.
	first := serve(hub, httptest.NewRequest(http.MethodGet, "/call?token=alice", nil))
	assert.NotEqual(t, http.StatusTooManyRequests, first.Code)

	second := serve(hub, httptest.NewRequest(http.MethodGet, "/call?token=alice", nil))
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.NotEmpty(t, second.Header().Get("Retry-After"))

	// Other users are unaffected.
	third := serve(hub, httptest.NewRequest(http.MethodGet, "/call?token=bob", nil))
	assert.NotEqual(t, http.StatusTooManyRequests, third.Code)
}

func TestServeWs_UsesGuardClaims(t *testing.T) {
	hub, _ := newTestHub(t, &MockTokenValidator{shouldFail: true})

	claims := &auth.CustomClaims{}
	claims.Subject = "alice"

	// The failing validator is never consulted; the request then fails at the upgrade step.
	w := serve(hub, httptest.NewRequest(http.MethodGet, "/call", nil), func(c *gin.Context) {
		c.Set(auth.ClaimsKey, claims)
	})
	assert.NotEqual(t, http.StatusUnauthorized, w.Code)
}

func TestServeWs_RefusedWhileShuttingDown(t *testing.T) {
	hub, _ := newTestHub(t, &MockTokenValidator{})
	require.NoError(t, hub.Shutdown(context.Background()))

	w := serve(hub, httptest.NewRequest(http.MethodGet, "/call?token=alice", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestHandleConnection_RegistersAndNotifies(t *testing.T) {
	hub, handler := newTestHub(t, &MockTokenValidator{})
	conn := newMockConnection()

	client := hub.HandleConnection(context.Background(), conn, "alice")

	assert.NotEmpty(t, client.ID)
	assert.Equal(t, types.UserID("alice"), client.UserID)
	assert.Equal(t, 1, hub.Len())
	connects, _, _ := handler.counts()
	assert.Equal(t, 1, connects)
}

func TestHandleConnection_DistinctSocketIDs(t *testing.T) {
	hub, _ := newTestHub(t, &MockTokenValidator{})

	a := hub.HandleConnection(context.Background(), newMockConnection(), "alice")
	b := hub.HandleConnection(context.Background(), newMockConnection(), "alice")

	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, 2, hub.Len())
}

func TestHandleConnection_HandlerCanEmitOnConnect(t *testing.T) {
	hub, handler := newTestHub(t, &MockTokenValidator{})
	handler.onConnect = func(ctx context.Context, socketID types.SocketID, _ types.UserID) {
		require.NoError(t, hub.EmitToSocket(ctx, socketID, types.EventIncomingCall, types.CallInfoPayload{CallID: "call-1"}))
	}
	conn := newMockConnection()

	hub.HandleConnection(context.Background(), conn, "bob")

	assert.Eventually(t, func() bool { return conn.countEvent(t, types.EventIncomingCall) == 1 }, time.Second, 5*time.Millisecond)
}

func TestEmitToSocket(t *testing.T) {
	hub, _ := newTestHub(t, &MockTokenValidator{})
	conn := newMockConnection()
	client := hub.HandleConnection(context.Background(), conn, "alice")

	err := hub.EmitToSocket(context.Background(), client.ID, types.EventCallHangup, types.CallRefPayload{CallID: "call-1"})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(conn.envelopes(t)) == 1 }, time.Second, 5*time.Millisecond)
	env := conn.envelopes(t)[0]
	assert.Equal(t, types.EventCallHangup, env.Event)
	assert.JSONEq(t, `{"callId":"call-1"}`, string(env.Data))
}

func TestEmitToSocket_UnknownSocketIsNoop(t *testing.T) {
	hub, _ := newTestHub(t, &MockTokenValidator{})
	assert.NoError(t, hub.EmitToSocket(context.Background(), "gone", types.EventCallHangup, types.CallRefPayload{}))
}

func TestEmitToSocket_UnencodablePayload(t *testing.T) {
	hub, _ := newTestHub(t, &MockTokenValidator{})
	client := hub.HandleConnection(context.Background(), newMockConnection(), "alice")

	assert.Error(t, hub.EmitToSocket(context.Background(), client.ID, "bad", make(chan int)))
}

func TestDisconnect_UnregistersAndNotifies(t *testing.T) {
	hub, handler := newTestHub(t, &MockTokenValidator{})
	conn := newMockConnection()
	client := hub.HandleConnection(context.Background(), conn, "alice")

	conn.EndInput()

	require.Eventually(t, func() bool {
		_, disconnects, _ := handler.counts()
		return disconnects == 1
	}, time.Second, 5*time.Millisecond)
	assert.Zero(t, hub.Len())
	assert.Eventually(t, conn.isClosed, time.Second, 5*time.Millisecond)

	// Emitting to the departed socket is harmless.
	assert.NoError(t, hub.EmitToSocket(context.Background(), client.ID, types.EventCallHangup, types.CallRefPayload{}))
}

func TestShutdown_ClosesEverySocket(t *testing.T) {
	hub, handler := newTestHub(t, &MockTokenValidator{})
	conns := []*MockConnection{newMockConnection(), newMockConnection()}
	for _, conn := range conns {
		hub.HandleConnection(context.Background(), conn, "alice")
	}

	require.NoError(t, hub.Shutdown(context.Background()))

	for _, conn := range conns {
		assert.Eventually(t, conn.isClosed, time.Second, 5*time.Millisecond)
		assert.True(t, conn.sentCloseFrame())
	}
	assert.Eventually(t, func() bool {
		_, disconnects, _ := handler.counts()
		return disconnects == 2
	}, time.Second, 5*time.Millisecond)
	assert.Zero(t, hub.Len())
}
