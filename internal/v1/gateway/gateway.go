// Package gateway is the call signaling orchestrator. It validates inbound socket
// events, drives the call state machine held in the registry, and fans the
// resulting events out to the participants' sockets.
package gateway

import (
	"context"
	"encoding/json"
	"time"

	"github.com/RoseWrightdev/Messenger/backend/go/internal/v1/callerr"
	"github.com/RoseWrightdev/Messenger/backend/go/internal/v1/logging"
	"github.com/RoseWrightdev/Messenger/backend/go/internal/v1/metrics"
	"github.com/RoseWrightdev/Messenger/backend/go/internal/v1/ratelimit"
	"github.com/RoseWrightdev/Messenger/backend/go/internal/v1/registry"
	"github.com/RoseWrightdev/Messenger/backend/go/internal/v1/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const tracerName = "github.com/RoseWrightdev/Messenger/backend/go/internal/v1/gateway"

// Config holds the gateway's timing knobs.
type Config struct {
	// SignalMaxAge is how old a WebRTC signal's sender timestamp may be.
	SignalMaxAge time.Duration
	// SweepInterval is how often sessions are re-checked against their timeouts.
	SweepInterval time.Duration
	// RateLimitSweepInterval is how often expired limiter entries are purged.
	RateLimitSweepInterval time.Duration
}

// DefaultConfig matches the production defaults.
var DefaultConfig = Config{
	SignalMaxAge:           30 * time.Second,
	SweepInterval:          5 * time.Minute,
	RateLimitSweepInterval: time.Minute,
}

// Deps are the collaborators the gateway is built from. Publisher may be nil.
type Deps struct {
	Registry  *registry.Registry
	Limiter   *ratelimit.CallLimiter
	Users     types.UserDirectory
	Chats     types.ChatMembership
	VPN       types.VPNGenerator
	Transport types.Transport
	Publisher types.CallEventPublisher
}

// actor is the authenticated socket an event arrived on.
type actor struct {
	socketID types.SocketID
	userID   types.UserID
}

type handlerFunc func(ctx context.Context, a actor, data json.RawMessage) error

// Gateway implements types.SocketHandler.
type Gateway struct {
	registry  *registry.Registry
	limiter   *ratelimit.CallLimiter
	users     types.UserDirectory
	chats     types.ChatMembership
	vpn       types.VPNGenerator
	transport types.Transport
	publisher types.CallEventPublisher

	cfg      Config
	now      func() time.Time
	tracer   trace.Tracer
	handlers map[string]handlerFunc
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithClock overrides time.Now for signal freshness and sweeps.
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) { g.now = now }
}

// New wires a Gateway and registers it as the registry's expiry handler.
func New(deps Deps, cfg Config, opts ...Option) *Gateway {
	g := &Gateway{
		registry:  deps.Registry,
		limiter:   deps.Limiter,
		users:     deps.Users,
		chats:     deps.Chats,
		vpn:       deps.VPN,
		transport: deps.Transport,
		publisher: deps.Publisher,
		cfg:       cfg,
		now:       time.Now,
		tracer:    otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(g)
	}

	g.handlers = map[string]handlerFunc{
		types.EventInitiateCall: g.handleInitiateCall,
		types.EventAcceptCall:   g.handleAcceptCall,
		types.EventVPNReady:     g.handleVPNReady,
		types.EventRejectCall:   g.handleRejectCall,
		types.EventHangup:       g.handleHangup,
		types.EventWebRTCSignal: g.handleWebRTCSignal,
	}

	g.registry.Scheduler().OnExpire(func(callID types.CallID, status types.CallStatus) {
		g.expire(context.Background(), callID, status, "timer")
	})

	return g
}

// HandleEvent dispatches one inbound event. Handler errors never escape: they
// become a call-error on the acting socket.
func (g *Gateway) HandleEvent(ctx context.Context, socketID types.SocketID, userID types.UserID, env types.Envelope) {
	a := actor{socketID: socketID, userID: userID}
	ctx = logging.WithValue(ctx, logging.UserIDKey, string(userID))
	ctx = logging.WithValue(ctx, logging.SocketIDKey, string(socketID))

	handler, ok := g.handlers[env.Event]
	if !ok {
		metrics.WebsocketEvents.WithLabelValues("unknown", "rejected").Inc()
		logging.Warn(ctx, "Unknown call event received", zap.String("event", env.Event))
		g.emit(ctx, socketID, types.EventCallError, types.CallErrorPayload{Message: "Unknown event"})
		return
	}

	ctx, span := g.tracer.Start(ctx, "call."+env.Event, trace.WithAttributes(
		attribute.String("user.id", string(userID)),
		attribute.String("socket.id", string(socketID)),
	))
	defer span.End()

	start := time.Now()
	err := handler(ctx, a, env.Data)
	metrics.MessageProcessingDuration.WithLabelValues(env.Event).Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.WebsocketEvents.WithLabelValues(env.Event, "error").Inc()
		g.fail(ctx, span, a, env.Event, err)
		return
	}
	metrics.WebsocketEvents.WithLabelValues(env.Event, "ok").Inc()
}

func (g *Gateway) fail(ctx context.Context, span trace.Span, a actor, event string, err error) {
	kind := callerr.Kind(err)
	metrics.CallErrors.WithLabelValues(kind).Inc()
	span.RecordError(err)
	span.SetStatus(codes.Error, kind)

	if callerr.IsInternal(err) {
		logging.Error(ctx, "Call event failed", zap.String("event", event), zap.Error(err))
	} else {
		logging.Warn(ctx, "Call event refused", zap.String("event", event), zap.String("kind", kind), zap.Error(err))
	}

	g.emit(ctx, a.socketID, types.EventCallError, types.CallErrorPayload{Message: callerr.PublicMessage(err)})
}

// HandleConnect indexes the socket and delivers calls that were waiting for this user.
func (g *Gateway) HandleConnect(ctx context.Context, socketID types.SocketID, userID types.UserID) {
	ctx = logging.WithValue(ctx, logging.UserIDKey, string(userID))
	ctx = logging.WithValue(ctx, logging.SocketIDKey, string(socketID))

	g.registry.BindSocket(userID, socketID)
	logging.Debug(ctx, "Call socket connected", zap.Int("sockets", len(g.registry.SocketsFor(userID))))

	for _, pending := range g.registry.PendingFor(userID) {
		sess, err := g.registry.Update(pending.CallID, func(s *types.CallSession) error {
			if s.Status != types.StatusInitiating || s.CalleeSocketID != "" {
				return callerr.New(callerr.ErrConflict, "Call already delivered")
			}
			s.CalleeSocketID = socketID
			s.Status = types.StatusRinging
			return nil
		})
		if err != nil {
			continue
		}
		metrics.CallTransitions.WithLabelValues(string(types.StatusRinging)).Inc()
		g.emit(ctx, socketID, types.EventIncomingCall, callInfo(sess))
		logging.Info(logging.WithValue(ctx, logging.CallIDKey, string(sess.CallID)), "Delivered pending incoming call")
	}
}

// HandleDisconnect forgets the socket and ends every session the user takes part in as a hangup.
func (g *Gateway) HandleDisconnect(ctx context.Context, socketID types.SocketID) {
	userID, ok := g.registry.UnbindSocket(socketID)
	if !ok {
		logging.Warn(ctx, "Disconnect for unknown call socket", zap.String("socketId", string(socketID)))
		return
	}
	ctx = logging.WithValue(ctx, logging.UserIDKey, string(userID))
	ctx = logging.WithValue(ctx, logging.SocketIDKey, string(socketID))

	ended := 0
	for _, sess := range g.registry.SessionsFor(userID) {
		if done := g.terminate(ctx, sess.CallID, userID, types.StatusEnded, types.CallEventEnded, "disconnect"); done != nil {
			ref := types.CallRefPayload{CallID: done.CallID}
			g.emitToUser(ctx, done.Peer(userID), types.EventCallHangup, ref)
			// The user's other sockets still show the call.
			g.emitToUser(ctx, userID, types.EventCallHangup, ref)
			ended++
		}
	}

	if ended > 0 {
		logging.Info(ctx, "Ended calls for disconnected socket", zap.Int("calls", ended))
	}
}

// Run drives the periodic session and rate-limit sweeps until ctx is done.
func (g *Gateway) Run(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		ticker := time.NewTicker(g.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				g.Sweep(ctx)
			}
		}
	})

	eg.Go(func() error {
		ticker := time.NewTicker(g.cfg.RateLimitSweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if cleaned := g.limiter.Sweep(); cleaned > 0 {
					logging.Debug(ctx, "Swept call rate limiter", zap.Int("cleaned", cleaned))
				}
			}
		}
	})

	return eg.Wait()
}

// Sweep expires every session that has outlived its status timeout. It backs up
// the per-session timers and is safe to run alongside them.
func (g *Gateway) Sweep(ctx context.Context) int {
	expired := 0
	for _, sess := range g.registry.Expired(g.now()) {
		if g.expire(ctx, sess.CallID, sess.Status, "sweep") {
			expired++
		}
	}
	if expired > 0 {
		logging.Info(ctx, "Swept expired calls", zap.Int("expired", expired), zap.Int("remaining", g.registry.Len()))
	}
	return expired
}

// Close cancels all timers and drops every session.
func (g *Gateway) Close() {
	g.registry.Close()
	metrics.ActiveCalls.Set(0)
}
