// Package ratelimit implements call admission policy and WebSocket connection
// rate limiting backed by Redis or local memory.
package ratelimit

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/RoseWrightdev/Messenger/backend/go/internal/v1/config"
	"github.com/RoseWrightdev/Messenger/backend/go/internal/v1/logging"
	"github.com/RoseWrightdev/Messenger/backend/go/internal/v1/metrics"
	"github.com/RoseWrightdev/Messenger/backend/go/internal/v1/types"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
	"go.uber.org/zap"
)

// RateLimiter holds the WebSocket connection limiters
type RateLimiter struct {
	wsIP        *limiter.Limiter
	wsUser      *limiter.Limiter
	store       limiter.Store
	redisClient *redis.Client
}

// NewRateLimiter creates a new RateLimiter instance
func NewRateLimiter(cfg *config.Config, redisClient *redis.Client) (*RateLimiter, error) {
	wsIPRate, err := limiter.NewRateFromFormatted(cfg.RateLimitWsIP)
	if err != nil {
		return nil, fmt.Errorf("invalid WS IP rate: %w", err)
	}

	wsUserRate, err := limiter.NewRateFromFormatted(cfg.RateLimitWsUser)
	if err != nil {
		return nil, fmt.Errorf("invalid WS User rate: %w", err)
	}

	var store limiter.Store
	if redisClient != nil {
		s, err := sredis.NewStoreWithOptions(redisClient, limiter.StoreOptions{
			Prefix: "callgate:limiter:v1:",
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create redis store: %w", err)
		}
		store = s
		logging.Info(context.Background(), "✅ Rate limiter using Redis store")
	} else {
		// Fallback to memory store if Redis is disabled (e.g. dev mode without redis)
		store = memory.NewStore()
		logging.Warn(context.Background(), "⚠️  Rate limiter using Memory store (Redis disabled or unavailable)")
	}

	return &RateLimiter{
		wsIP:        limiter.New(store, wsIPRate),
		wsUser:      limiter.New(store, wsUserRate),
		store:       store,
		redisClient: redisClient,
	}, nil
}

// Scopes a call socket admission can be refused in.
const (
	ScopeIP   = "ip"
	ScopeUser = "user"

	socketEndpoint = "call_socket"
)

// SocketLimitError reports a refused call socket and when the caller may retry.
type SocketLimitError struct {
	Scope      string
	RetryAfter time.Duration
}

func (e *SocketLimitError) Error() string {
	return fmt.Sprintf("call socket limit reached (%s), retry in %s", e.Scope, e.RetryAfter)
}

// RetryAfterSeconds is the Retry-After header value, never below one second.
func (e *SocketLimitError) RetryAfterSeconds() string {
	secs := int64(math.Ceil(e.RetryAfter.Seconds()))
	return strconv.FormatInt(max(secs, 1), 10)
}

// AdmitSocket applies the per-IP limit before any token work. On refusal it
// writes 429 with Retry-After and returns false.
func (rl *RateLimiter) AdmitSocket(c *gin.Context) bool {
	ctx := c.Request.Context()

	lc, err := rl.wsIP.Get(ctx, "call:ip:"+c.ClientIP())
	if err != nil {
		logging.Error(ctx, "Call socket limiter store failed", zap.String("scope", ScopeIP), zap.Error(err))
		return true // Fail open
	}

	if lc.Reached {
		limitErr := rl.refused(ctx, ScopeIP, lc)
		c.Header("Retry-After", limitErr.RetryAfterSeconds())
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "Too many connections from this IP"})
		return false
	}

	metrics.RateLimitRequests.WithLabelValues(socketEndpoint).Inc()
	return true
}

// AdmitUser applies the per-user limit once the caller is authenticated.
// A refusal is a *SocketLimitError.
func (rl *RateLimiter) AdmitUser(ctx context.Context, userID types.UserID) error {
	lc, err := rl.wsUser.Get(ctx, "call:user:"+string(userID))
	if err != nil {
		logging.Error(ctx, "Call socket limiter store failed", zap.String("scope", ScopeUser), zap.Error(err))
		return nil // Fail open
	}

	if lc.Reached {
		return rl.refused(logging.WithValue(ctx, logging.UserIDKey, string(userID)), ScopeUser, lc)
	}
	return nil
}

func (rl *RateLimiter) refused(ctx context.Context, scope string, lc limiter.Context) *SocketLimitError {
	metrics.RateLimitExceeded.WithLabelValues(socketEndpoint, scope).Inc()
	limitErr := &SocketLimitError{Scope: scope, RetryAfter: time.Until(time.Unix(lc.Reset, 0))}
	logging.Warn(ctx, "Call socket refused by rate limit",
		zap.String("scope", scope),
		zap.Int64("limit", lc.Limit),
		zap.Duration("retryAfter", limitErr.RetryAfter),
	)
	return limitErr
}
