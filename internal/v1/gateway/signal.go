package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/RoseWrightdev/Messenger/backend/go/internal/v1/callerr"
	"github.com/RoseWrightdev/Messenger/backend/go/internal/v1/logging"
	"github.com/RoseWrightdev/Messenger/backend/go/internal/v1/metrics"
	"github.com/RoseWrightdev/Messenger/backend/go/internal/v1/types"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

var errReplay = callerr.New(callerr.ErrInvalidSignal, "Invalid signal - possible replay attack")

func (g *Gateway) handleWebRTCSignal(ctx context.Context, a actor, data json.RawMessage) error {
	var sig types.WebRTCSignalPayload
	if err := decode(data, &sig); err != nil {
		return err
	}
	ctx = logging.WithValue(ctx, logging.CallIDKey, string(sig.CallID))

	age := g.now().UnixMilli() - sig.Timestamp
	if age < 0 || age > g.cfg.SignalMaxAge.Milliseconds() {
		metrics.SignalsRejected.WithLabelValues("stale").Inc()
		logging.Warn(ctx, "Signal timestamp invalid or too old",
			zap.Int64("timestamp", sig.Timestamp),
			zap.Int64("ageMs", age),
			zap.Duration("maxAge", g.cfg.SignalMaxAge),
		)
		return callerr.New(callerr.ErrInvalidSignal, "Signal expired or invalid timestamp")
	}

	sess, err := g.liveSession(sig.CallID, a.userID)
	if err != nil {
		return err
	}

	if sig.Nonce == "" {
		metrics.SignalsRejected.WithLabelValues("missing_nonce").Inc()
		return callerr.New(callerr.ErrInvalidSignal, "Missing nonce in signal")
	}
	if g.registry.NonceUsed(sess.CallID, sig.Nonce) {
		metrics.SignalsRejected.WithLabelValues("replay").Inc()
		logging.Warn(ctx, "Replayed signal nonce", zap.String("nonce", sig.Nonce))
		return errReplay
	}

	if err := checkSignalState(sig.Type, sess.Status); err != nil {
		metrics.SignalsRejected.WithLabelValues("state").Inc()
		logging.Warn(ctx, "Unexpected signal for call state",
			zap.String("type", string(sig.Type)),
			zap.String("status", string(sess.Status)),
		)
		return err
	}

	if err := checkSignalPayload(&sig); err != nil {
		metrics.SignalsRejected.WithLabelValues("payload").Inc()
		return err
	}

	// Two identical signals may race past NonceUsed; only one consumes the nonce.
	if !g.registry.ConsumeNonce(sess.CallID, sig.Nonce) {
		metrics.SignalsRejected.WithLabelValues("replay").Inc()
		return errReplay
	}

	peer := sess.Peer(a.userID)
	if g.emitToUser(ctx, peer, types.EventWebRTCSignal, sig) == 0 {
		logging.Warn(ctx, "Signal target not connected", zap.String("targetUser", string(peer)))
	}
	metrics.SignalsRelayed.WithLabelValues(string(sig.Type)).Inc()
	return nil
}

// checkSignalState allows offers only while ringing and answers only while connecting.
func checkSignalState(t types.SignalType, status types.CallStatus) error {
	stateErr := callerr.New(callerr.ErrInvalidSignal, "Invalid signal for current call state")
	switch t {
	case types.SignalOffer:
		if status != types.StatusRinging {
			return stateErr
		}
	case types.SignalAnswer:
		if status != types.StatusConnecting {
			return stateErr
		}
	case types.SignalICECandidate:
	default:
		return callerr.New(callerr.ErrInvalidSignal, "Unknown signal type")
	}
	return nil
}

// checkSignalPayload requires the field the declared type carries and checks that it parses.
func checkSignalPayload(sig *types.WebRTCSignalPayload) error {
	switch sig.Type {
	case types.SignalOffer, types.SignalAnswer:
		if sig.SDP == nil || sig.SDP.SDP == "" {
			return callerr.Newf(callerr.ErrInvalidSignal, "Missing SDP in %s signal", sig.Type)
		}
		want := webrtc.SDPTypeOffer
		if sig.Type == types.SignalAnswer {
			want = webrtc.SDPTypeAnswer
		}
		if sig.SDP.Type != want {
			return callerr.New(callerr.ErrInvalidSignal, "SDP type does not match signal type")
		}
		if _, err := sig.SDP.Unmarshal(); err != nil {
			return callerr.Newf(callerr.ErrInvalidSignal, "Invalid SDP in %s signal", sig.Type)
		}
	case types.SignalICECandidate:
		if sig.Candidate == nil || sig.Candidate.Candidate == "" {
			return callerr.New(callerr.ErrInvalidSignal, "Missing candidate in ICE candidate signal")
		}
	default:
		return callerr.New(callerr.ErrInvalidSignal, fmt.Sprintf("Unknown signal type %q", sig.Type))
	}
	return nil
}
