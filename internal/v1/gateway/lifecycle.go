package gateway

import (
	"context"
	"encoding/json"
	"slices"

	"github.com/RoseWrightdev/Messenger/backend/go/internal/v1/callerr"
	"github.com/RoseWrightdev/Messenger/backend/go/internal/v1/logging"
	"github.com/RoseWrightdev/Messenger/backend/go/internal/v1/metrics"
	"github.com/RoseWrightdev/Messenger/backend/go/internal/v1/types"
	"go.uber.org/zap"
)

// chatPageLimit is how many of the caller's chats are scanned for a shared private chat.
const chatPageLimit = 100

const timeoutMessage = "Call timeout"

// terminate removes the session and releases everything it held. It returns the
// removed session, or nil if another path ended it first.
func (g *Gateway) terminate(ctx context.Context, callID types.CallID, actorID types.UserID,
	status types.CallStatus, kind types.CallEventKind, reason string) *types.CallSession {
	sess, ok := g.registry.Remove(callID)
	if !ok {
		return nil
	}
	g.release(ctx, sess, actorID, status, kind, reason)
	return sess
}

// expire ends a session that overstayed status. The timer and the sweep may both
// fire for one session; only the first does anything.
func (g *Gateway) expire(ctx context.Context, callID types.CallID, status types.CallStatus, source string) bool {
	sess, ok := g.registry.RemoveIf(callID, status)
	if !ok {
		return false
	}
	ctx = logging.WithValue(ctx, logging.CallIDKey, string(callID))

	logging.Warn(ctx, "Call timed out",
		zap.String("status", string(status)),
		zap.String("source", source),
		zap.String("callerId", string(sess.CallerID)),
		zap.String("calleeId", string(sess.CalleeID)),
		zap.Duration("age", g.now().Sub(sess.CreatedAt)),
	)
	metrics.CallTimeouts.WithLabelValues(string(status), source).Inc()

	for _, userID := range []types.UserID{sess.CallerID, sess.CalleeID} {
		for _, socketID := range g.registry.SocketsFor(userID) {
			g.emit(ctx, socketID, types.EventCallError, types.CallErrorPayload{Message: timeoutMessage, CallID: callID})
			g.emit(ctx, socketID, types.EventCallHangup, types.CallRefPayload{CallID: callID})
		}
	}

	g.release(ctx, sess, "", types.StatusEnded, types.CallEventTimeout, string(status))
	return true
}

// release settles rate-limit accounting, metrics and the lifecycle record for a removed session.
func (g *Gateway) release(ctx context.Context, sess *types.CallSession, actorID types.UserID,
	status types.CallStatus, kind types.CallEventKind, reason string) {
	for _, userID := range sess.Accounted {
		g.limiter.OnCallEnded(userID)
	}

	lifetime := g.now().Sub(sess.CreatedAt)
	metrics.CallTransitions.WithLabelValues(string(status)).Inc()
	metrics.CallDuration.WithLabelValues(string(status)).Observe(lifetime.Seconds())
	metrics.ActiveCalls.Set(float64(g.registry.Len()))

	g.publish(ctx, sess, kind, actorID, status, reason)
}

func (g *Gateway) publish(ctx context.Context, sess *types.CallSession, kind types.CallEventKind,
	actorID types.UserID, status types.CallStatus, reason string) {
	if g.publisher == nil {
		return
	}

	now := g.now()
	ev := types.CallEvent{
		Kind:       kind,
		CallID:     sess.CallID,
		CallerID:   sess.CallerID,
		CalleeID:   sess.CalleeID,
		ActorID:    actorID,
		Status:     status,
		Reason:     reason,
		OccurredAt: now,
	}
	if status.IsTerminal() {
		ev.DurationMs = now.Sub(sess.CreatedAt).Milliseconds()
	}

	if err := g.publisher.PublishCallEvent(ctx, ev); err != nil {
		logging.Warn(ctx, "Failed to publish call event", zap.String("kind", string(kind)), zap.Error(err))
	}
}

// --- Fan-out ---

// emit sends one event to one socket. A socket that is already gone is not an error.
func (g *Gateway) emit(ctx context.Context, socketID types.SocketID, event string, payload any) {
	if err := g.transport.EmitToSocket(ctx, socketID, event, payload); err != nil {
		logging.Warn(ctx, "Failed to emit call event",
			zap.String("event", event),
			zap.String("targetSocket", string(socketID)),
			zap.Error(err),
		)
	}
}

// emitToUser sends one event to every live socket of userID and returns how many it reached.
func (g *Gateway) emitToUser(ctx context.Context, userID types.UserID, event string, payload any) int {
	sockets := g.registry.SocketsFor(userID)
	if len(sockets) == 0 {
		logging.Debug(ctx, "Target user has no call sockets", zap.String("event", event), zap.String("targetUser", string(userID)))
		return 0
	}
	for _, socketID := range sockets {
		g.emit(ctx, socketID, event, payload)
	}
	return len(sockets)
}

func callInfo(sess *types.CallSession) types.CallInfoPayload {
	return types.CallInfoPayload{
		CallID:   sess.CallID,
		CallerID: sess.CallerID,
		CalleeID: sess.CalleeID,
	}
}

// --- Validation helpers ---

func decode(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return callerr.New(callerr.ErrBadRequest, "Missing payload")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return callerr.New(callerr.ErrBadRequest, "Invalid payload")
	}
	return nil
}

// liveSession returns the session if userID takes part in it.
func (g *Gateway) liveSession(callID types.CallID, userID types.UserID) (*types.CallSession, error) {
	sess, ok := g.registry.Get(callID)
	if !ok {
		return nil, callerr.New(callerr.ErrNotFound, "Call not found")
	}
	if !sess.IsParticipant(userID) {
		return nil, callerr.New(callerr.ErrUnauthorized, "Not authorized for this call")
	}
	return sess, nil
}

// sharePrivateChat reports whether a and b are the two members of one private chat.
func (g *Gateway) sharePrivateChat(ctx context.Context, a, b types.UserID) (bool, error) {
	chats, err := g.chats.GetChatsByUserID(ctx, a, 1, chatPageLimit)
	if err != nil {
		return false, err
	}

	for _, chat := range chats {
		if chat.Type != types.ChatTypePrivate {
			continue
		}
		participants, err := g.chats.GetChatParticipants(ctx, chat.ID, a)
		if err != nil {
			logging.Warn(ctx, "Failed to load chat participants", zap.String("chatId", chat.ID), zap.Error(err))
			continue
		}
		if len(participants) != 2 {
			continue
		}
		if slices.ContainsFunc(participants, func(p types.Participant) bool { return p.UserID == b }) {
			return true, nil
		}
	}
	return false, nil
}
