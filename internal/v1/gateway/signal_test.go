package gateway

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/RoseWrightdev/Messenger/backend/go/internal/v1/types"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalSDP = "v=0\r\no=- 0 0 IN IP4 127.0.0.1\r\ns=-\r\nt=0 0\r\n"

func (h *harness) offer(callID types.CallID, nonce string) types.WebRTCSignalPayload {
	return types.WebRTCSignalPayload{
		CallID:    callID,
		Type:      types.SignalOffer,
		SDP:       &webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: minimalSDP},
		Timestamp: h.clock.Now().UnixMilli(),
		Nonce:     nonce,
	}
}

func TestWebRTCSignal_OfferRelayedWhileRinging(t *testing.T) {
	h := newHarness(t)
	callID := h.ringing(t)

	h.send(t, "sock-a", "alice", types.EventWebRTCSignal, h.offer(callID, "n-1"))

	var relayed types.WebRTCSignalPayload
	require.NoError(t, json.Unmarshal(h.tr.last(t, "sock-b", types.EventWebRTCSignal), &relayed))
	assert.Equal(t, callID, relayed.CallID)
	assert.Equal(t, types.SignalOffer, relayed.Type)
	require.NotNil(t, relayed.SDP)
	assert.Equal(t, minimalSDP, relayed.SDP.SDP)
	assert.Equal(t, 0, h.tr.count("sock-a", types.EventWebRTCSignal))
	assert.Equal(t, 0, h.tr.count("sock-a", types.EventCallError))
}

func TestWebRTCSignal_Replay(t *testing.T) {
	h := newHarness(t)
	callID := h.ringing(t)

	h.send(t, "sock-a", "alice", types.EventWebRTCSignal, h.offer(callID, "n-1"))
	h.send(t, "sock-a", "alice", types.EventWebRTCSignal, h.offer(callID, "n-1"))

	assert.Equal(t, "Invalid signal - possible replay attack", h.lastError(t, "sock-a"))
	assert.Equal(t, 1, h.tr.count("sock-b", types.EventWebRTCSignal))
	assert.True(t, h.reg.NonceUsed(callID, "n-1"))
}

func TestWebRTCSignal_Timestamp(t *testing.T) {
	tests := []struct {
		name  string
		shift time.Duration
		ok    bool
	}{
		{"fresh", 0, true},
		{"just inside window", -29 * time.Second, true},
		{"stale", -31 * time.Second, false},
		{"from the future", time.Second, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			callID := h.ringing(t)

			sig := h.offer(callID, "n-1")
			sig.Timestamp = h.clock.Now().Add(tt.shift).UnixMilli()
			h.send(t, "sock-a", "alice", types.EventWebRTCSignal, sig)

			if tt.ok {
				assert.Equal(t, 1, h.tr.count("sock-b", types.EventWebRTCSignal))
				return
			}
			assert.Equal(t, "Signal expired or invalid timestamp", h.lastError(t, "sock-a"))
			assert.Equal(t, 0, h.tr.count("sock-b", types.EventWebRTCSignal))
			// A rejected signal does not burn its nonce.
			assert.False(t, h.reg.NonceUsed(callID, "n-1"))
		})
	}
}

func TestWebRTCSignal_StateGate(t *testing.T) {
	h := newHarness(t)
	callID := h.active(t)

	h.send(t, "sock-a", "alice", types.EventWebRTCSignal, h.offer(callID, "n-1"))
	assert.Equal(t, "Invalid signal for current call state", h.lastError(t, "sock-a"))
	assert.Equal(t, 0, h.tr.count("sock-b", types.EventWebRTCSignal))

	// ICE candidates flow in any live state.
	h.send(t, "sock-b", "bob", types.EventWebRTCSignal, types.WebRTCSignalPayload{
		CallID:    callID,
		Type:      types.SignalICECandidate,
		Candidate: &webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 2122260223 10.0.0.2 5000 typ host"},
		Timestamp: h.clock.Now().UnixMilli(),
		Nonce:     "n-2",
	})
	assert.Equal(t, 1, h.tr.count("sock-a", types.EventWebRTCSignal))
}

func TestWebRTCSignal_AnswerWhileConnecting(t *testing.T) {
	h := newHarness(t)
	callID := h.connecting(t)

	h.send(t, "sock-b", "bob", types.EventWebRTCSignal, types.WebRTCSignalPayload{
		CallID:    callID,
		Type:      types.SignalAnswer,
		SDP:       &webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: minimalSDP},
		Timestamp: h.clock.Now().UnixMilli(),
		Nonce:     "n-1",
	})

	var relayed types.WebRTCSignalPayload
	require.NoError(t, json.Unmarshal(h.tr.last(t, "sock-a", types.EventWebRTCSignal), &relayed))
	assert.Equal(t, types.SignalAnswer, relayed.Type)
}

func TestWebRTCSignal_PayloadRefusals(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*types.WebRTCSignalPayload)
		want   string
	}{
		{"missing nonce", func(s *types.WebRTCSignalPayload) { s.Nonce = "" }, "Missing nonce in signal"},
		{"missing sdp", func(s *types.WebRTCSignalPayload) { s.SDP = nil }, "Missing SDP in offer signal"},
		{"mismatched sdp type", func(s *types.WebRTCSignalPayload) { s.SDP.Type = webrtc.SDPTypeAnswer }, "SDP type does not match signal type"},
		{"unparsable sdp", func(s *types.WebRTCSignalPayload) { s.SDP.SDP = "not sdp" }, "Invalid SDP in offer signal"},
		{"missing candidate", func(s *types.WebRTCSignalPayload) {
			s.Type = types.SignalICECandidate
			s.SDP = nil
		}, "Missing candidate in ICE candidate signal"},
		{"unknown type", func(s *types.WebRTCSignalPayload) { s.Type = "renegotiate" }, "Unknown signal type"},
		{"unknown call", func(s *types.WebRTCSignalPayload) { s.CallID = "nope" }, "Call not found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			callID := h.ringing(t)

			sig := h.offer(callID, "n-1")
			tt.mutate(&sig)
			h.send(t, "sock-a", "alice", types.EventWebRTCSignal, sig)

			assert.Equal(t, tt.want, h.lastError(t, "sock-a"))
			assert.Equal(t, 0, h.tr.count("sock-b", types.EventWebRTCSignal))
		})
	}
}

func TestWebRTCSignal_NotParticipant(t *testing.T) {
	h := newHarness(t)
	callID := h.ringing(t)
	h.connect("sock-c", "carol")

	h.send(t, "sock-c", "carol", types.EventWebRTCSignal, h.offer(callID, "n-1"))
	assert.Equal(t, "Not authorized for this call", h.lastError(t, "sock-c"))
	assert.Equal(t, 0, h.tr.count("sock-b", types.EventWebRTCSignal))
}
