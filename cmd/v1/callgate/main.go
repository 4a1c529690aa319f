package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/RoseWrightdev/Messenger/backend/go/internal/v1/auth"
	"github.com/RoseWrightdev/Messenger/backend/go/internal/v1/bus"
	"github.com/RoseWrightdev/Messenger/backend/go/internal/v1/config"
	"github.com/RoseWrightdev/Messenger/backend/go/internal/v1/directory"
	"github.com/RoseWrightdev/Messenger/backend/go/internal/v1/gateway"
	"github.com/RoseWrightdev/Messenger/backend/go/internal/v1/health"
	"github.com/RoseWrightdev/Messenger/backend/go/internal/v1/logging"
	"github.com/RoseWrightdev/Messenger/backend/go/internal/v1/middleware"
	"github.com/RoseWrightdev/Messenger/backend/go/internal/v1/ratelimit"
	"github.com/RoseWrightdev/Messenger/backend/go/internal/v1/registry"
	"github.com/RoseWrightdev/Messenger/backend/go/internal/v1/tracing"
	"github.com/RoseWrightdev/Messenger/backend/go/internal/v1/transport"
	"github.com/RoseWrightdev/Messenger/backend/go/internal/v1/types"
	"github.com/RoseWrightdev/Messenger/backend/go/internal/v1/vpn"
)

const serviceName = "call-gateway"

var errMissingAuth = errors.New("AUTH0_DOMAIN and AUTH0_AUDIENCE (or JWT_SECRET) must be set when SKIP_AUTH=false")

func main() {
	// Load .env file for local development.
	// Try multiple paths to handle different ways of running the app
	envPaths := []string{".env", "../../../.env", "../../.env"}
	var envLoaded bool

	for _, path := range envPaths {
		if err := godotenv.Load(path); err == nil {
			slog.Info("Loaded environment from", "path", path)
			envLoaded = true
			break
		}
	}

	if !envLoaded {
		slog.Warn("No .env file found in any expected location, relying on environment variables")
	}

	// Validate environment variables before starting the server
	cfg, err := config.ValidateEnv()
	if err != nil {
		slog.Error("Environment validation failed", "error", err)
		os.Exit(1)
	}

	if err := logging.Initialize(cfg.DevelopmentMode || cfg.GoEnv == "development", cfg.LogLevel); err != nil {
		slog.Error("Failed to initialize logger", "error", err)
		os.Exit(1)
	}
	defer func() { _ = logging.GetLogger().Sync() }()

	if cfg.DevelopmentMode {
		slog.Info("Running in DEVELOPMENT MODE")
	}

	rootCtx, stopRun := context.WithCancel(context.Background())
	defer stopRun()

	// --- Tracing (Optional) ---
	var shutdownTracer func(context.Context) error
	if cfg.OtelCollectorAddr != "" {
		tp, err := tracing.InitTracer(rootCtx, tracing.Options{
			ServiceName:        serviceName,
			Environment:        cfg.GoEnv,
			CollectorAddr:      cfg.OtelCollectorAddr,
			InsecureSkipVerify: cfg.OtelInsecureSkipVerify,
		})
		if err != nil {
			slog.Error("Failed to initialize tracing, continuing without it", "error", err)
		} else {
			shutdownTracer = tp.Shutdown
			slog.Info("✅ Tracing initialized", "collector", cfg.OtelCollectorAddr)
		}
	}

	validator, err := buildValidator(rootCtx, cfg)
	if err != nil {
		slog.Error("Failed to create auth validator", "error", err)
		os.Exit(1)
	}

	// --- Redis Bus Initialization (Optional) ---
	var busService *bus.Service
	if cfg.RedisEnabled {
		busService, err = bus.NewService(cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			slog.Error("Failed to connect to Redis, running in single-instance mode", "error", err)
			busService = nil
		} else {
			slog.Info("✅ Redis call event bus initialized", "addr", cfg.RedisAddr)
		}
	} else {
		slog.Info("Running in single-instance mode (Redis disabled)")
	}

	rateLimiter, err := ratelimit.NewRateLimiter(cfg, busService.Client())
	if err != nil {
		slog.Error("Failed to create rate limiter", "error", err)
		os.Exit(1)
	}

	dir := buildDirectory(cfg)

	vpnGen, err := vpn.New(cfg.VPNServer, cfg.VPNPort)
	if err != nil {
		slog.Error("Failed to create VPN generator", "error", err)
		os.Exit(1)
	}

	reg := registry.New(registry.NewScheduler(registry.Timeouts{
		Initiating: cfg.CallTimeoutInitiating,
		Ringing:    cfg.CallTimeoutRinging,
		Connecting: cfg.CallTimeoutConnecting,
		Active:     cfg.CallTimeoutActive,
	}))
	callLimiter := ratelimit.NewCallLimiter(ratelimit.CallPolicy{
		CallsPerMinute:       cfg.CallRateLimitPerMinute,
		CallsToUserPerMinute: cfg.CallRateLimitToUserPerMinute,
		MaxActiveCalls:       cfg.CallMaxActiveCalls,
		RejectedCooldown:     cfg.CallRejectedCooldown,
	}, nil)

	hub := transport.NewHub(validator, dir, rateLimiter, transport.Options{
		AllowedOrigins:  auth.ParseAllowedOrigins(cfg.AllowedOrigins, []string{"http://localhost:3000"}),
		EventsPerSecond: cfg.WsEventsPerSecond,
	})

	deps := gateway.Deps{
		Registry:  reg,
		Limiter:   callLimiter,
		Users:     dir,
		Chats:     dir,
		VPN:       vpnGen,
		Transport: hub,
	}
	if busService != nil {
		deps.Publisher = busService
	}
	gw := gateway.New(deps, gateway.Config{
		SignalMaxAge:           cfg.WebRTCSignalMaxAge,
		SweepInterval:          cfg.CallSweepInterval,
		RateLimitSweepInterval: cfg.CallRateLimitSweepInterval,
	})
	hub.SetHandler(gw)

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		if err := gw.Run(rootCtx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("Call maintenance loop stopped", "error", err)
		}
	}()

	// --- Set up Server ---
	router := gin.New()
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = auth.ParseAllowedOrigins(cfg.AllowedOrigins, []string{"http://localhost:3000"})
	corsConfig.AllowHeaders = append(corsConfig.AllowHeaders, "Authorization", middleware.HeaderXCorrelationID)
	router.Use(cors.New(corsConfig))
	router.Use(otelgin.Middleware(serviceName))
	router.Use(middleware.CorrelationID())
	router.Use(gin.Logger(), gin.Recovery())

	router.GET("/call", middleware.BearerGuard(validator), hub.ServeWs)

	// Prometheus metrics endpoint
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Health check endpoints
	healthHandler := health.NewHandler(busService, dir, cfg.OtelCollectorAddr)
	router.GET("/health/live", healthHandler.Liveness)
	router.GET("/health/ready", healthHandler.Readiness)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// --- Graceful Shutdown ---
	go func() {
		slog.Info("Call gateway starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Failed to run server", "error", err)
			syscall.Kill(os.Getpid(), syscall.SIGTERM)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Close sockets first so their disconnect handling still sees a live gateway.
	if err := hub.Shutdown(ctx); err != nil {
		slog.Error("Error during Hub shutdown:", "error", err)
	}

	stopRun()
	<-runDone
	gw.Close()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown:", "error", err)
	}

	if busService != nil {
		if err := busService.Close(); err != nil {
			slog.Error("Failed to close Redis connection:", "error", err)
		} else {
			slog.Info("Redis connection closed")
		}
	}

	if shutdownTracer != nil {
		if err := shutdownTracer(ctx); err != nil {
			slog.Error("Failed to flush traces:", "error", err)
		}
	}

	slog.Info("Server exiting")
}

// buildValidator picks the token validator. A shared secret wins over Auth0.
// Development mode without credentials falls back to the mock validator.
func buildValidator(ctx context.Context, cfg *config.Config) (types.TokenValidator, error) {
	if cfg.SkipAuth {
		slog.Warn("⚠️ Authentication DISABLED for development - DO NOT USE IN PRODUCTION")
		return &auth.MockValidator{}, nil
	}

	if cfg.JWTSecret != "" {
		v, err := auth.NewSecretValidator(cfg.JWTSecret)
		if err != nil {
			return nil, err
		}
		slog.Info("✅ Shared secret token validator initialized")
		return v, nil
	}

	if cfg.Auth0Domain == "" || cfg.Auth0Audience == "" {
		if cfg.DevelopmentMode {
			slog.Warn("⚠️  Development Mode: auth credentials missing. Auto-enabling SKIP_AUTH.")
			return &auth.MockValidator{}, nil
		}
		return nil, errMissingAuth
	}

	v, err := auth.NewValidator(ctx, cfg.Auth0Domain, cfg.Auth0Audience)
	if err != nil {
		return nil, err
	}
	slog.Info("✅ Auth0 validator initialized", "domain", cfg.Auth0Domain, "audience", cfg.Auth0Audience)
	return v, nil
}

// directoryService is what the gateway, hub and readiness probe need from the collaborators.
type directoryService interface {
	types.UserDirectory
	types.ChatMembership
	health.Pinger
}

func buildDirectory(cfg *config.Config) directoryService {
	if cfg.UserServiceURL == "" || cfg.ChatServiceURL == "" {
		slog.Warn("⚠️  Collaborator service URLs missing. Using an open in-memory directory - DO NOT USE IN PRODUCTION")
		return directory.NewOpenStatic()
	}
	return directory.NewClient(cfg.UserServiceURL, cfg.ChatServiceURL, cfg.MessageServiceURL, cfg.DirectoryTimeout)
}
