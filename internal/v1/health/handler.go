// Package health serves the liveness and readiness probes.
package health

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/RoseWrightdev/Messenger/backend/go/internal/v1/bus"
	"github.com/RoseWrightdev/Messenger/backend/go/internal/v1/logging"
	"go.uber.org/zap"
)

const (
	statusHealthy   = "healthy"
	statusUnhealthy = "unhealthy"
)

// Pinger is a collaborator that can report its own reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// CollectorChecker checks reachability of the OTLP trace collector
type CollectorChecker interface {
	Check(ctx context.Context, addr string) string
}

// GRPCCollectorChecker dials the collector and waits for the channel to become ready.
type GRPCCollectorChecker struct{}

func (c *GRPCCollectorChecker) Check(ctx context.Context, addr string) string {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		logging.Error(ctx, "Failed to create collector client for health check", zap.Error(err), zap.String("addr", addr))
		return statusUnhealthy
	}
	defer func() { _ = conn.Close() }()

	conn.Connect()
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return statusHealthy
		case connectivity.Shutdown:
			return statusUnhealthy
		}
		if !conn.WaitForStateChange(ctx, state) {
			logging.Warn(ctx, "OTLP collector not reachable", zap.String("addr", addr), zap.String("state", state.String()))
			return statusUnhealthy
		}
	}
}

// Handler manages health check endpoints
type Handler struct {
	redisService     *bus.Service
	directory        Pinger
	collectorAddr    string // empty when tracing is off
	collectorChecker CollectorChecker
}

// NewHandler creates a new health check handler. redisService may be nil in
// single-instance mode and collectorAddr empty when tracing is disabled.
func NewHandler(redisService *bus.Service, directory Pinger, collectorAddr string) *Handler {
	return &Handler{
		redisService:     redisService,
		directory:        directory,
		collectorAddr:    collectorAddr,
		collectorChecker: &GRPCCollectorChecker{},
	}
}

// LivenessResponse represents the liveness probe response
type LivenessResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// ReadinessResponse represents the readiness probe response
type ReadinessResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Timestamp string            `json:"timestamp"`
}

// Liveness handles GET /health/live. It never checks dependencies.
func (h *Handler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, LivenessResponse{
		Status:    "alive",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Readiness handles GET /health/ready.
// Returns 200 only if all critical dependencies are healthy, 503 otherwise.
// The trace collector is reported but never fails readiness.
func (h *Handler) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	checks := map[string]string{
		"redis":     h.checkRedis(ctx),
		"directory": h.checkDirectory(ctx),
	}
	allHealthy := checks["redis"] == statusHealthy && checks["directory"] == statusHealthy

	if h.collectorAddr != "" && h.collectorChecker != nil {
		checks["otel_collector"] = h.collectorChecker.Check(ctx, h.collectorAddr)
	}

	status := "ready"
	statusCode := http.StatusOK
	if !allHealthy {
		status = "unavailable"
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, ReadinessResponse{
		Status:    status,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// checkRedis verifies Redis connectivity using PING command
func (h *Handler) checkRedis(ctx context.Context) string {
	// Single-instance mode has nothing to check.
	if h.redisService == nil {
		return statusHealthy
	}

	if err := h.redisService.Ping(ctx); err != nil {
		logging.Error(ctx, "Redis health check failed", zap.Error(err))
		return statusUnhealthy
	}
	return statusHealthy
}

// checkDirectory verifies the user, chat and message services answer.
func (h *Handler) checkDirectory(ctx context.Context) string {
	if h.directory == nil {
		return statusUnhealthy
	}
	if err := h.directory.Ping(ctx); err != nil {
		logging.Error(ctx, "Directory health check failed", zap.Error(err))
		return statusUnhealthy
	}
	return statusHealthy
}
