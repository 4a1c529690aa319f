package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the call gateway.
//
// Naming convention: namespace_subsystem_name
// - namespace: call_gateway
// - subsystem: websocket, call, signal, ratelimit, bus, directory, breaker
//
// Metric Types:
// - Gauge: Current state (connections, live sessions)
// - Counter: Cumulative events (transitions, errors, relayed signals)
// - Histogram: Latency and duration distributions

var (
	// ActiveWebSocketConnections tracks the current number of open sockets
	ActiveWebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "call_gateway",
		Subsystem: "websocket",
		Name:      "connections_active",
		Help:      "Current number of active WebSocket connections",
	})

	// WebsocketEvents counts inbound events by name and handling result
	WebsocketEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "call_gateway",
		Subsystem: "websocket",
		Name:      "events_total",
		Help:      "Total WebSocket events processed",
	}, []string{"event_type", "status"})

	// MessageProcessingDuration tracks handler latency per inbound event
	MessageProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "call_gateway",
		Subsystem: "websocket",
		Name:      "message_processing_seconds",
		Help:      "Time spent processing WebSocket messages",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"event_type"})

	// ActiveCalls tracks live (non-terminal) call sessions
	ActiveCalls = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "call_gateway",
		Subsystem: "call",
		Name:      "sessions_active",
		Help:      "Current number of live call sessions",
	})

	// CallTransitions counts status changes by target status
	CallTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "call_gateway",
		Subsystem: "call",
		Name:      "transitions_total",
		Help:      "Call status transitions by target status",
	}, []string{"status"})

	// CallTimeouts counts expiries by the status that timed out and what noticed it
	CallTimeouts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "call_gateway",
		Subsystem: "call",
		Name:      "timeouts_total",
		Help:      "Call sessions expired by status and source (timer or sweep)",
	}, []string{"status", "source"})

	// CallDuration observes time from creation to termination
	CallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "call_gateway",
		Subsystem: "call",
		Name:      "duration_seconds",
		Help:      "Call session lifetime by terminal status",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 900, 1800, 3600},
	}, []string{"status"})

	// CallErrors counts call-error emissions by error kind
	CallErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "call_gateway",
		Subsystem: "call",
		Name:      "errors_total",
		Help:      "Errors returned to clients by kind",
	}, []string{"kind"})

	// SignalsRelayed counts WebRTC signals forwarded to the peer
	SignalsRelayed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "call_gateway",
		Subsystem: "signal",
		Name:      "relayed_total",
		Help:      "WebRTC signals relayed by type",
	}, []string{"type"})

	// SignalsRejected counts WebRTC signals refused before relay
	SignalsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "call_gateway",
		Subsystem: "signal",
		Name:      "rejected_total",
		Help:      "WebRTC signals rejected by reason",
	}, []string{"reason"})

	// CallRateLimitRejections counts initiations refused by the call limiter
	CallRateLimitRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "call_gateway",
		Subsystem: "ratelimit",
		Name:      "call_rejections_total",
		Help:      "Call initiations refused by policy",
	}, []string{"reason"})

	// RateLimitExceeded counts refused socket admissions and event bursts
	RateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "call_gateway",
		Subsystem: "ratelimit",
		Name:      "exceeded_total",
		Help:      "Requests refused by a rate limit",
	}, []string{"endpoint", "limit_type"})

	// RateLimitRequests counts requests admitted by a rate limit
	RateLimitRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "call_gateway",
		Subsystem: "ratelimit",
		Name:      "requests_total",
		Help:      "Requests admitted by a rate limit",
	}, []string{"endpoint"})

	// BusPublished counts call lifecycle records sent to Redis
	BusPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "call_gateway",
		Subsystem: "bus",
		Name:      "published_total",
		Help:      "Call lifecycle records published",
	}, []string{"kind", "status"})

	// DirectoryRequestDuration tracks collaborator call latency
	DirectoryRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "call_gateway",
		Subsystem: "directory",
		Name:      "request_seconds",
		Help:      "Latency of user and chat service requests",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation", "status"})

	// CircuitBreakerState reports 0 closed, 1 open, 2 half-open
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "call_gateway",
		Subsystem: "breaker",
		Name:      "state",
		Help:      "Circuit breaker state (0 closed, 1 open, 2 half-open)",
	}, []string{"name"})

	// CircuitBreakerFailures counts requests short-circuited by an open breaker
	CircuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "call_gateway",
		Subsystem: "breaker",
		Name:      "rejections_total",
		Help:      "Requests rejected because a breaker was open",
	}, []string{"name"})
)

func IncConnection() {
	ActiveWebSocketConnections.Inc()
}

func DecConnection() {
	ActiveWebSocketConnections.Dec()
}
