// Package bus publishes call lifecycle records to Redis for the notification
// and message services.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/RoseWrightdev/Messenger/backend/go/internal/v1/metrics"
	"github.com/RoseWrightdev/Messenger/backend/go/internal/v1/types"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
)

// CallEventsChannel carries every call lifecycle record.
const CallEventsChannel = "calls:events"

// publishTimeout bounds a single publish so a slow Redis never stalls a handler.
const publishTimeout = 2 * time.Second

// Service handles all interaction with the Redis cluster.
type Service struct {
	client *redis.Client
	cb     *gobreaker.CircuitBreaker
}

// Client returns the underlying Redis client.
func (s *Service) Client() *redis.Client {
	if s == nil {
		return nil
	}
	return s.client
}

// NewService creates a robust Redis connection with automatic retries.
func NewService(addr, password string) (*Service, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           0, // Default DB
		DialTimeout:  10 * time.Second,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	// Ping to verify connection immediately
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	slog.Info("Connected to Redis", "addr", addr)
	return newService(rdb), nil
}

func newService(rdb *redis.Client) *Service {
	st := gobreaker.Settings{
		Name:        "redis",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     15 * time.Second,
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			metrics.ObserveBreakerState(name, to)
		},
	}
	return &Service{
		client: rdb,
		cb:     gobreaker.NewCircuitBreaker(st),
	}
}

// PublishCallEvent sends ev on CallEventsChannel. An open breaker drops the
// record and reports success.
func (s *Service) PublishCallEvent(ctx context.Context, ev types.CallEvent) error {
	if s == nil || s.client == nil {
		return nil // Single-instance mode, no Redis available
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	_, err := s.cb.Execute(func() (interface{}, error) {
		data, err := json.Marshal(ev)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal call event: %w", err)
		}
		return nil, s.client.Publish(ctx, CallEventsChannel, data).Err()
	})

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
			metrics.BusPublished.WithLabelValues(string(ev.Kind), "dropped").Inc()
			slog.Warn("Redis Circuit Breaker Open: dropping call event", "callId", ev.CallID, "kind", ev.Kind)
			return nil // Graceful degradation: drop record, don't fail caller
		}
		metrics.BusPublished.WithLabelValues(string(ev.Kind), "error").Inc()
		slog.Error("Redis publish failed", "callId", ev.CallID, "kind", ev.Kind, "error", err)
		return err
	}

	metrics.BusPublished.WithLabelValues(string(ev.Kind), "ok").Inc()
	return nil
}

// Ping checks Redis connectivity using the PING command
// Used by health checks to verify Redis is reachable
func (s *Service) Ping(ctx context.Context) error {
	if s == nil || s.client == nil {
		return nil // Single-instance mode, no Redis available
	}

	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, s.client.Ping(ctx).Err()
	})

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) {
			metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
		}
		return err
	}
	return nil
}

// Close gracefully shuts down the Redis connection
func (s *Service) Close() error {
	if s == nil || s.client == nil {
		return nil // Single-instance mode, no Redis available
	}
	return s.client.Close()
}
