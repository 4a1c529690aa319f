package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds validated environment configuration
type Config struct {
	// Server
	Port            string
	GoEnv           string
	LogLevel        string
	DevelopmentMode bool
	AllowedOrigins  string

	// Auth
	SkipAuth      bool
	Auth0Domain   string
	Auth0Audience string
	JWTSecret     string

	// Collaborator services
	UserServiceURL    string
	ChatServiceURL    string
	MessageServiceURL string
	DirectoryTimeout  time.Duration

	// Redis
	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string

	// Tracing (empty disables)
	OtelCollectorAddr      string
	OtelInsecureSkipVerify bool

	// Call status timeouts (0 disables the timer for that status)
	CallTimeoutInitiating time.Duration
	CallTimeoutRinging    time.Duration
	CallTimeoutConnecting time.Duration
	CallTimeoutActive     time.Duration
	CallSweepInterval     time.Duration

	// Call rate limits
	CallRateLimitPerMinute       int
	CallRateLimitToUserPerMinute int
	CallMaxActiveCalls           int
	CallRejectedCooldown         time.Duration
	CallRateLimitSweepInterval   time.Duration

	// WebRTC signal freshness window
	WebRTCSignalMaxAge time.Duration

	// VPN endpoint handed to call participants
	VPNServer string
	VPNPort   int

	// Socket admission
	RateLimitWsIP     string
	RateLimitWsUser   string
	WsEventsPerSecond float64
}

// ValidateEnv validates all environment variables, applies defaults and returns a Config.
// Every problem found is reported in a single error.
func ValidateEnv() (*Config, error) {
	cfg := &Config{}
	var errors []string

	// Required: PORT (valid port number)
	cfg.Port = os.Getenv("PORT")
	if cfg.Port == "" {
		errors = append(errors, "PORT is required")
	} else if !isValidPort(cfg.Port) {
		errors = append(errors, fmt.Sprintf("PORT must be a valid port number between 1 and 65535 (got '%s')", cfg.Port))
	}

	cfg.GoEnv = getEnvOrDefault("GO_ENV", "production")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")
	cfg.DevelopmentMode = os.Getenv("DEVELOPMENT_MODE") == "true"
	cfg.AllowedOrigins = getEnvOrDefault("ALLOWED_ORIGINS", "http://localhost:3000")

	// Auth
	cfg.SkipAuth = os.Getenv("SKIP_AUTH") == "true"
	cfg.Auth0Domain = os.Getenv("AUTH0_DOMAIN")
	cfg.Auth0Audience = os.Getenv("AUTH0_AUDIENCE")
	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.JWTSecret != "" && len(cfg.JWTSecret) < 32 {
		errors = append(errors, fmt.Sprintf("JWT_SECRET must be at least 32 characters (got %d)", len(cfg.JWTSecret)))
	}

	// Collaborators are optional only in development mode, where an in-memory directory is used.
	cfg.UserServiceURL = os.Getenv("USER_SERVICE_URL")
	cfg.ChatServiceURL = os.Getenv("CHAT_SERVICE_URL")
	cfg.MessageServiceURL = os.Getenv("MESSAGE_SERVICE_URL")
	for _, svc := range []struct{ key, val string }{
		{"USER_SERVICE_URL", cfg.UserServiceURL},
		{"CHAT_SERVICE_URL", cfg.ChatServiceURL},
		{"MESSAGE_SERVICE_URL", cfg.MessageServiceURL},
	} {
		key, val := svc.key, svc.val
		if val == "" {
			if !cfg.DevelopmentMode {
				errors = append(errors, fmt.Sprintf("%s is required outside development mode", key))
			}
			continue
		}
		if !isValidHTTPURL(val) {
			errors = append(errors, fmt.Sprintf("%s must be an http(s) URL (got '%s')", key, val))
		}
	}
	cfg.DirectoryTimeout = getSeconds("DIRECTORY_TIMEOUT_SECONDS", 5, 1, &errors)

	// Conditional: REDIS_ADDR (used if REDIS_ENABLED=true)
	cfg.RedisEnabled = os.Getenv("REDIS_ENABLED") == "true"
	if cfg.RedisEnabled {
		cfg.RedisAddr = os.Getenv("REDIS_ADDR")
		if cfg.RedisAddr == "" {
			cfg.RedisAddr = "localhost:6379"
			slog.Warn("REDIS_ADDR not set, using default", "addr", cfg.RedisAddr)
		} else if !isValidHostPort(cfg.RedisAddr) {
			errors = append(errors, fmt.Sprintf("REDIS_ADDR must be in format 'host:port' (got '%s')", cfg.RedisAddr))
		}
		cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	}

	cfg.OtelCollectorAddr = os.Getenv("OTEL_COLLECTOR_ADDR")
	if cfg.OtelCollectorAddr != "" && !isValidHostPort(cfg.OtelCollectorAddr) {
		errors = append(errors, fmt.Sprintf("OTEL_COLLECTOR_ADDR must be in format 'host:port' (got '%s')", cfg.OtelCollectorAddr))
	}
	cfg.OtelInsecureSkipVerify = os.Getenv("OTEL_INSECURE_SKIP_VERIFY") == "true"
	if cfg.OtelInsecureSkipVerify && !cfg.DevelopmentMode {
		slog.Warn("OTEL_INSECURE_SKIP_VERIFY enabled outside development mode")
	}

	// Call timeouts
	cfg.CallTimeoutInitiating = getSeconds("CALL_TIMEOUT_INITIATING_SECONDS", 30, 0, &errors)
	cfg.CallTimeoutRinging = getSeconds("CALL_TIMEOUT_RINGING_SECONDS", 60, 0, &errors)
	cfg.CallTimeoutConnecting = getSeconds("CALL_TIMEOUT_CONNECTING_SECONDS", 120, 0, &errors)
	cfg.CallTimeoutActive = time.Duration(getInt("CALL_TIMEOUT_ACTIVE_MINUTES", 60, 0, &errors)) * time.Minute
	cfg.CallSweepInterval = getSeconds("CALL_SWEEP_INTERVAL_SECONDS", 300, 1, &errors)

	// Call rate limits
	cfg.CallRateLimitPerMinute = getInt("CALL_RATE_LIMIT_PER_MINUTE", 3, 1, &errors)
	cfg.CallRateLimitToUserPerMinute = getInt("CALL_RATE_LIMIT_TO_USER_PER_MINUTE", 3, 1, &errors)
	cfg.CallMaxActiveCalls = getInt("CALL_MAX_ACTIVE_CALLS", 1, 1, &errors)
	cfg.CallRejectedCooldown = getSeconds("CALL_REJECTED_COOLDOWN_SECONDS", 30, 0, &errors)
	cfg.CallRateLimitSweepInterval = getSeconds("CALL_RATE_LIMIT_SWEEP_SECONDS", 60, 1, &errors)

	cfg.WebRTCSignalMaxAge = getSeconds("CALL_WEBRTC_SIGNAL_MAX_AGE_SECONDS", 30, 1, &errors)

	// VPN
	cfg.VPNServer = getEnvOrDefault("VPN_SERVER", "vpn.example.com")
	cfg.VPNPort = getInt("VPN_PORT", 443, 1, &errors)
	if cfg.VPNPort > 65535 {
		errors = append(errors, fmt.Sprintf("VPN_PORT must be a valid port number between 1 and 65535 (got %d)", cfg.VPNPort))
	}

	// Socket admission (Defaults: M = Minute, H = Hour)
	cfg.RateLimitWsIP = getEnvOrDefault("RATE_LIMIT_WS_IP", "100-M")
	cfg.RateLimitWsUser = getEnvOrDefault("RATE_LIMIT_WS_USER", "10-M")
	cfg.WsEventsPerSecond = 20
	if raw := os.Getenv("WS_EVENTS_PER_SECOND"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v <= 0 {
			errors = append(errors, fmt.Sprintf("WS_EVENTS_PER_SECOND must be a positive number (got '%s')", raw))
		} else {
			cfg.WsEventsPerSecond = v
		}
	}

	if len(errors) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	logValidatedConfig(cfg)

	return cfg, nil
}

// getInt reads an integer variable, falling back to def when unset.
func getInt(key string, def, minimum int, errors *[]string) int {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < minimum {
		*errors = append(*errors, fmt.Sprintf("%s must be an integer >= %d (got '%s')", key, minimum, raw))
		return def
	}
	return v
}

func getSeconds(key string, def, minimum int, errors *[]string) time.Duration {
	return time.Duration(getInt(key, def, minimum, errors)) * time.Second
}

func isValidPort(s string) bool {
	port, err := strconv.Atoi(s)
	return err == nil && port >= 1 && port <= 65535
}

// isValidHostPort checks if a string is in the format "host:port"
func isValidHostPort(addr string) bool {
	parts := strings.Split(addr, ":")
	if len(parts) != 2 {
		return false
	}
	return parts[0] != "" && isValidPort(parts[1])
}

func isValidHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// logValidatedConfig logs the validated configuration with secrets redacted
func logValidatedConfig(cfg *Config) {
	slog.Info("✅ Environment configuration validated successfully")
	slog.Info("Configuration",
		"port", cfg.Port,
		"go_env", cfg.GoEnv,
		"log_level", cfg.LogLevel,
		"development_mode", cfg.DevelopmentMode,
		"jwt_secret", redactSecret(cfg.JWTSecret),
		"user_service_url", cfg.UserServiceURL,
		"chat_service_url", cfg.ChatServiceURL,
		"message_service_url", cfg.MessageServiceURL,
		"redis_enabled", cfg.RedisEnabled,
		"redis_addr", cfg.RedisAddr,
		"call_timeout_ringing", cfg.CallTimeoutRinging,
		"call_rate_limit_per_minute", cfg.CallRateLimitPerMinute,
		"call_max_active_calls", cfg.CallMaxActiveCalls,
		"vpn_server", cfg.VPNServer,
		"vpn_port", cfg.VPNPort,
	)
}

// getEnvOrDefault returns the value of the environment variable or a default value if not set
func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}

// redactSecret redacts a secret by showing only the first 8 characters
func redactSecret(secret string) string {
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:8] + "***"
}
