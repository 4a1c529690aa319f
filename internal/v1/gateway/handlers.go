package gateway

import (
	"context"
	"encoding/json"

	"github.com/RoseWrightdev/Messenger/backend/go/internal/v1/callerr"
	"github.com/RoseWrightdev/Messenger/backend/go/internal/v1/logging"
	"github.com/RoseWrightdev/Messenger/backend/go/internal/v1/metrics"
	"github.com/RoseWrightdev/Messenger/backend/go/internal/v1/types"
	"go.uber.org/zap"
)

func (g *Gateway) handleInitiateCall(ctx context.Context, a actor, data json.RawMessage) error {
	var req types.InitiateCallPayload
	if err := decode(data, &req); err != nil {
		return err
	}
	if req.CalleeID == "" {
		return callerr.New(callerr.ErrBadRequest, "calleeId is required")
	}
	callerID, calleeID := a.userID, req.CalleeID

	if callerID == calleeID {
		return callerr.New(callerr.ErrForbidden, "Cannot call yourself")
	}

	if err := g.limiter.CanInitiate(ctx, callerID, calleeID); err != nil {
		stats := g.limiter.Stats(callerID)
		logging.Debug(ctx, "Caller rate-limit state",
			zap.Int("activeCalls", stats.ActiveCalls),
			zap.Int("callsInMinute", stats.CallsInMinute),
		)
		return err
	}

	if _, err := g.users.GetUser(ctx, calleeID); err != nil {
		return err
	}

	shared, err := g.sharePrivateChat(ctx, callerID, calleeID)
	if err != nil {
		return err
	}
	if !shared {
		return callerr.New(callerr.ErrForbidden, "You can only call users with whom you have a personal chat")
	}

	sess, err := g.registry.Create(callerID, calleeID, a.socketID)
	if err != nil {
		return err
	}
	g.limiter.OnCallStarted(callerID)
	metrics.CallTransitions.WithLabelValues(string(types.StatusInitiating)).Inc()
	metrics.ActiveCalls.Set(float64(g.registry.Len()))

	ctx = logging.WithValue(ctx, logging.CallIDKey, string(sess.CallID))
	g.emit(ctx, a.socketID, types.EventCallInitiated, callInfo(sess))
	g.publish(ctx, sess, types.CallEventInitiated, callerID, types.StatusInitiating, "")

	calleeSockets := g.registry.SocketsFor(calleeID)
	if len(calleeSockets) == 0 {
		// Delivered by HandleConnect when the callee comes online.
		logging.Info(ctx, "Callee offline, incoming call deferred")
		return nil
	}

	ringing, err := g.registry.Update(sess.CallID, func(s *types.CallSession) error {
		if s.Status != types.StatusInitiating || s.CalleeSocketID != "" {
			return callerr.New(callerr.ErrConflict, "Call already delivered")
		}
		s.CalleeSocketID = calleeSockets[0]
		s.Status = types.StatusRinging
		return nil
	})
	if err != nil {
		// A reconnecting callee socket or a hangup got there first.
		logging.Debug(ctx, "Skipped incoming-call fan-out", zap.Error(err))
		return nil
	}
	metrics.CallTransitions.WithLabelValues(string(types.StatusRinging)).Inc()

	for _, socketID := range calleeSockets {
		g.emit(ctx, socketID, types.EventIncomingCall, callInfo(ringing))
	}
	logging.Info(ctx, "Call initiated", zap.Int("calleeSockets", len(calleeSockets)))
	return nil
}

func (g *Gateway) handleAcceptCall(ctx context.Context, a actor, data json.RawMessage) error {
	var req types.CallRefPayload
	if err := decode(data, &req); err != nil {
		return err
	}
	ctx = logging.WithValue(ctx, logging.CallIDKey, string(req.CallID))

	sess, ok := g.registry.Get(req.CallID)
	if !ok {
		return callerr.New(callerr.ErrNotFound, "Call not found")
	}
	if sess.CalleeID != a.userID {
		return callerr.New(callerr.ErrUnauthorized, "Not authorized to accept this call")
	}
	if sess.Status != types.StatusRinging {
		return callerr.New(callerr.ErrConflict, "Call cannot be accepted in its current state")
	}

	shared, err := g.sharePrivateChat(ctx, sess.CallerID, sess.CalleeID)
	if err != nil {
		return err
	}
	if !shared {
		return callerr.New(callerr.ErrForbidden, "You can only accept calls from users with whom you have a personal chat")
	}

	callerCfg, err := g.vpnConfig(sess.CallID, sess.CallerID, true)
	if err != nil {
		return err
	}
	calleeCfg, err := g.vpnConfig(sess.CallID, sess.CalleeID, false)
	if err != nil {
		return err
	}

	sess, err = g.registry.Update(sess.CallID, func(s *types.CallSession) error {
		if s.Status != types.StatusRinging {
			return callerr.New(callerr.ErrConflict, "Call cannot be accepted in its current state")
		}
		s.CallerVPNConfig = callerCfg
		s.CalleeVPNConfig = calleeCfg
		s.CalleeSocketID = a.socketID
		s.Status = types.StatusConnecting
		return nil
	})
	if err != nil {
		return err
	}
	metrics.CallTransitions.WithLabelValues(string(types.StatusConnecting)).Inc()

	g.emit(ctx, a.socketID, types.EventVPNConfigReceived, calleeCfg)
	for _, socketID := range g.registry.SocketsFor(sess.CallerID) {
		g.emit(ctx, socketID, types.EventCallAccepted, types.CallRefPayload{CallID: sess.CallID})
		g.emit(ctx, socketID, types.EventVPNConfigReceived, callerCfg)
	}

	g.publish(ctx, sess, types.CallEventAccepted, a.userID, types.StatusConnecting, "")
	logging.Info(ctx, "Call accepted")
	return nil
}

func (g *Gateway) vpnConfig(callID types.CallID, userID types.UserID, isInitiator bool) (*types.VPNConfig, error) {
	cfg, err := g.vpn.Generate(callID, userID, isInitiator)
	if err != nil {
		return nil, err
	}
	if err := g.vpn.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (g *Gateway) handleVPNReady(ctx context.Context, a actor, data json.RawMessage) error {
	var req types.VPNReadyPayload
	if err := decode(data, &req); err != nil {
		return err
	}
	ctx = logging.WithValue(ctx, logging.CallIDKey, string(req.CallID))

	sess, err := g.liveSession(req.CallID, a.userID)
	if err != nil {
		return err
	}

	g.emitToUser(ctx, sess.Peer(a.userID), types.EventVPNConnected, types.VPNConnectedPayload{
		CallID:       sess.CallID,
		PeerEndpoint: req.LocalEndpoint,
	})

	if sess.Status != types.StatusConnecting {
		return nil
	}

	active, err := g.registry.Update(sess.CallID, func(s *types.CallSession) error {
		if s.Status != types.StatusConnecting {
			return callerr.New(callerr.ErrConflict, "Call is not connecting")
		}
		s.Status = types.StatusActive
		return nil
	})
	if err != nil {
		// The peer's vpn-ready already activated the call.
		return nil
	}
	metrics.CallTransitions.WithLabelValues(string(types.StatusActive)).Inc()
	g.publish(ctx, active, types.CallEventActive, a.userID, types.StatusActive, "")
	logging.Info(ctx, "Call active")
	return nil
}

func (g *Gateway) handleRejectCall(ctx context.Context, a actor, data json.RawMessage) error {
	var req types.CallRefPayload
	if err := decode(data, &req); err != nil {
		return err
	}
	ctx = logging.WithValue(ctx, logging.CallIDKey, string(req.CallID))

	if _, err := g.liveSession(req.CallID, a.userID); err != nil {
		return err
	}

	sess, ok := g.registry.Remove(req.CallID)
	if !ok {
		return callerr.New(callerr.ErrNotFound, "Call not found")
	}

	status, kind := types.StatusCancelled, types.CallEventCancelled
	if a.userID == sess.CalleeID {
		status, kind = types.StatusRejected, types.CallEventRejected
		g.limiter.OnCallRejected(sess.CallerID, sess.CalleeID)
	}
	g.release(ctx, sess, a.userID, status, kind, "")

	ref := types.CallRefPayload{CallID: sess.CallID}
	g.emitToUser(ctx, sess.Peer(a.userID), types.EventCallRejected, ref)
	g.emit(ctx, a.socketID, types.EventCallRejected, ref)

	logging.Info(ctx, "Call rejected", zap.String("status", string(status)))
	return nil
}

func (g *Gateway) handleHangup(ctx context.Context, a actor, data json.RawMessage) error {
	var req types.CallRefPayload
	if err := decode(data, &req); err != nil {
		return err
	}
	ctx = logging.WithValue(ctx, logging.CallIDKey, string(req.CallID))

	if _, err := g.liveSession(req.CallID, a.userID); err != nil {
		return err
	}

	sess, ok := g.registry.Remove(req.CallID)
	if !ok {
		return callerr.New(callerr.ErrNotFound, "Call not found")
	}

	status, kind := types.StatusEnded, types.CallEventEnded
	if a.userID == sess.CallerID && (sess.Status == types.StatusInitiating || sess.Status == types.StatusRinging) {
		status, kind = types.StatusCancelled, types.CallEventCancelled
	}
	g.release(ctx, sess, a.userID, status, kind, "hangup")

	ref := types.CallRefPayload{CallID: sess.CallID}
	g.emitToUser(ctx, sess.Peer(a.userID), types.EventCallHangup, ref)
	g.emit(ctx, a.socketID, types.EventCallHangup, ref)

	logging.Info(ctx, "Call hung up", zap.String("status", string(status)))
	return nil
}
