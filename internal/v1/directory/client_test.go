package directory

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/RoseWrightdev/Messenger/backend/go/internal/v1/callerr"
	"github.com/RoseWrightdev/Messenger/backend/go/internal/v1/logging"
	"github.com/RoseWrightdev/Messenger/backend/go/internal/v1/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func newCollaborator(t *testing.T) (*httptest.Server, *atomic.Int32) {
	var failures atomic.Int32
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/users/{id}", func(w http.ResponseWriter, r *http.Request) {
		switch r.PathValue("id") {
		case "alice":
			writeJSON(w, types.User{ID: "alice", Username: "Alice"})
		case "broken":
			failures.Add(1)
			http.Error(w, "boom", http.StatusInternalServerError)
		default:
			http.NotFound(w, r)
		}
	})
	mux.HandleFunc("GET /v1/users/{id}/chats", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != "alice" {
			http.NotFound(w, r)
			return
		}
		assert.Equal(t, "2", r.URL.Query().Get("page"))
		assert.Equal(t, "50", r.URL.Query().Get("limit"))
		writeJSON(w, []types.Chat{{ID: "c1", Type: types.ChatTypePrivate}, {ID: "g1", Type: "group"}})
	})
	mux.HandleFunc("GET /v1/chats/{id}/participants", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "alice", r.URL.Query().Get("userId"))
		assert.Equal(t, "corr-1", r.Header.Get("X-Correlation-ID"))
		if r.PathValue("id") != "c1" {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, []types.Participant{{UserID: "alice"}, {UserID: "bob"}})
	})
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &failures
}

func newTestClient(t *testing.T) (*Client, *atomic.Int32) {
	srv, failures := newCollaborator(t)
	return NewClient(srv.URL, srv.URL+"/", srv.URL, time.Second), failures
}

func TestClient_GetUser(t *testing.T) {
	c, _ := newTestClient(t)

	user, err := c.GetUser(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, types.UserID("alice"), user.ID)
	assert.Equal(t, "Alice", user.Username)
}

func TestClient_GetUser_NotFound(t *testing.T) {
	c, _ := newTestClient(t)

	_, err := c.GetUser(context.Background(), "nobody")
	require.Error(t, err)
	assert.True(t, errors.Is(err, callerr.ErrNotFound))
	assert.Equal(t, "User not found", callerr.PublicMessage(err))
}

func TestClient_GetUser_ServerError(t *testing.T) {
	c, _ := newTestClient(t)

	_, err := c.GetUser(context.Background(), "broken")
	require.Error(t, err)
	assert.True(t, callerr.IsInternal(err))
	assert.Equal(t, callerr.InternalMessage, callerr.PublicMessage(err))
}

func TestClient_GetChatsByUserID(t *testing.T) {
	c, _ := newTestClient(t)

	chats, err := c.GetChatsByUserID(context.Background(), "alice", 2, 50)
	require.NoError(t, err)
	require.Len(t, chats, 2)
	assert.Equal(t, types.ChatTypePrivate, chats[0].Type)

	chats, err = c.GetChatsByUserID(context.Background(), "nobody", 2, 50)
	require.NoError(t, err)
	assert.Empty(t, chats)
}

func TestClient_GetChatParticipants(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := logging.WithValue(context.Background(), logging.CorrelationIDKey, "corr-1")

	participants, err := c.GetChatParticipants(ctx, "c1", "alice")
	require.NoError(t, err)
	assert.Equal(t, []types.Participant{{UserID: "alice"}, {UserID: "bob"}}, participants)

	participants, err = c.GetChatParticipants(ctx, "missing", "alice")
	require.NoError(t, err)
	assert.Empty(t, participants)
}

func TestClient_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	c, failures := newTestClient(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := c.GetUser(ctx, "broken")
		require.Error(t, err)
	}
	require.Equal(t, int32(5), failures.Load())

	// Open breaker: the request never reaches the server.
	_, err := c.GetUser(ctx, "broken")
	require.Error(t, err)
	assert.True(t, callerr.IsInternal(err))
	assert.Equal(t, int32(5), failures.Load())
}

func TestClient_NotFoundDoesNotTripBreaker(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, err := c.GetUser(ctx, "nobody")
		require.True(t, errors.Is(err, callerr.ErrNotFound))
	}
	_, err := c.GetUser(ctx, "alice")
	assert.NoError(t, err)
}

func TestClient_Ping(t *testing.T) {
	c, _ := newTestClient(t)
	assert.NoError(t, c.Ping(context.Background()))

	down := NewClient("http://127.0.0.1:1", "http://127.0.0.1:1", "http://127.0.0.1:1", 200*time.Millisecond)
	assert.Error(t, down.Ping(context.Background()))
}
