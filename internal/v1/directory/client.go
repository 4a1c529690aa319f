// Package directory talks to the user, chat and message services the gateway
// relies on for user lookup and chat membership.
package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/RoseWrightdev/Messenger/backend/go/internal/v1/callerr"
	"github.com/RoseWrightdev/Messenger/backend/go/internal/v1/logging"
	"github.com/RoseWrightdev/Messenger/backend/go/internal/v1/metrics"
	"github.com/RoseWrightdev/Messenger/backend/go/internal/v1/types"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

const breakerName = "directory"

// maxBodyBytes caps collaborator responses.
const maxBodyBytes = 1 << 20

// errStatusNotFound marks a 404 from a collaborator. It does not trip the breaker.
var errStatusNotFound = errors.New("collaborator returned 404")

// Client is the HTTP/JSON client for the user, chat and message services.
type Client struct {
	userURL    string
	chatURL    string
	messageURL string
	http       *http.Client
	cb         *gobreaker.CircuitBreaker
}

// NewClient creates a Client. Every request is bounded by timeout.
func NewClient(userURL, chatURL, messageURL string, timeout time.Duration) *Client {
	st := gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 3,
		Interval:    1 * time.Minute,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, errStatusNotFound)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			metrics.ObserveBreakerState(name, to)
			logging.Warn(context.Background(), "Directory circuit breaker state changed",
				zap.String("from", from.String()), zap.String("to", to.String()))
		},
	}

	return &Client{
		userURL:    strings.TrimRight(userURL, "/"),
		chatURL:    strings.TrimRight(chatURL, "/"),
		messageURL: strings.TrimRight(messageURL, "/"),
		http:       &http.Client{Timeout: timeout},
		cb:         gobreaker.NewCircuitBreaker(st),
	}
}

// GetUser resolves userID. A missing user is callerr.ErrNotFound "User not found".
func (c *Client) GetUser(ctx context.Context, userID types.UserID) (*types.User, error) {
	var user types.User
	reqURL := fmt.Sprintf("%s/v1/users/%s", c.userURL, url.PathEscape(string(userID)))
	if err := c.getJSON(ctx, "get_user", reqURL, &user); err != nil {
		if errors.Is(err, errStatusNotFound) {
			return nil, callerr.New(callerr.ErrNotFound, "User not found")
		}
		return nil, callerr.Internal(err)
	}
	if user.ID == "" {
		user.ID = userID
	}
	return &user, nil
}

// GetChatsByUserID lists one page of the chats userID belongs to.
func (c *Client) GetChatsByUserID(ctx context.Context, userID types.UserID, page, limit int) ([]types.Chat, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(limit))
	reqURL := fmt.Sprintf("%s/v1/users/%s/chats?%s", c.chatURL, url.PathEscape(string(userID)), q.Encode())

	var chats []types.Chat
	if err := c.getJSON(ctx, "get_chats", reqURL, &chats); err != nil {
		if errors.Is(err, errStatusNotFound) {
			return nil, nil
		}
		return nil, callerr.Internal(err)
	}
	return chats, nil
}

// GetChatParticipants lists chatID's members as visible to userID.
func (c *Client) GetChatParticipants(ctx context.Context, chatID string, userID types.UserID) ([]types.Participant, error) {
	q := url.Values{}
	q.Set("userId", string(userID))
	reqURL := fmt.Sprintf("%s/v1/chats/%s/participants?%s", c.messageURL, url.PathEscape(chatID), q.Encode())

	var participants []types.Participant
	if err := c.getJSON(ctx, "get_participants", reqURL, &participants); err != nil {
		if errors.Is(err, errStatusNotFound) {
			return nil, nil
		}
		return nil, callerr.Internal(err)
	}
	return participants, nil
}

// Ping checks that every collaborator answers its liveness probe.
func (c *Client) Ping(ctx context.Context) error {
	for _, base := range []string{c.userURL, c.chatURL, c.messageURL} {
		if err := c.getJSON(ctx, "ping", base+"/health", nil); err != nil {
			return fmt.Errorf("%s: %w", base, err)
		}
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, op, reqURL string, out any) error {
	start := time.Now()
	status := "ok"
	defer func() {
		metrics.DirectoryRequestDuration.WithLabelValues(op, status).Observe(time.Since(start).Seconds())
	}()

	_, err := c.cb.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		if id, ok := ctx.Value(logging.CorrelationIDKey).(string); ok && id != "" {
			req.Header.Set("X-Correlation-ID", id)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode == http.StatusNotFound {
			return nil, errStatusNotFound
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return nil, fmt.Errorf("%s returned status %d", op, resp.StatusCode)
		}
		if out == nil {
			return nil, nil
		}
		if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(out); err != nil {
			return nil, fmt.Errorf("failed to decode %s response: %w", op, err)
		}
		return nil, nil
	})

	switch {
	case err == nil:
	case errors.Is(err, errStatusNotFound):
		status = "not_found"
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		status = "breaker_open"
		metrics.CircuitBreakerFailures.WithLabelValues(breakerName).Inc()
	default:
		status = "error"
		logging.Error(ctx, "Directory request failed", zap.String("operation", op), zap.Error(err))
	}
	return err
}
