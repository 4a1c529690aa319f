package types

import (
	"encoding/json"
	"time"

	"github.com/pion/webrtc/v4"
)

// Client -> server events.
const (
	EventInitiateCall = "initiate-call"
	EventAcceptCall   = "accept-call"
	EventRejectCall   = "reject-call"
	EventVPNReady     = "vpn-ready"
	EventHangup       = "hangup"
	EventWebRTCSignal = "webrtc-signal"
)

// Server -> client events.
const (
	EventCallInitiated     = "call-initiated"
	EventIncomingCall      = "incoming-call"
	EventCallAccepted      = "call-accepted"
	EventVPNConfigReceived = "vpn-config-received"
	EventVPNConnected      = "vpn-connected"
	EventCallRejected      = "call-rejected"
	EventCallHangup        = "call-hangup"
	EventCallError         = "call-error"
)

// Envelope is the JSON frame carried over the socket in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// --- Inbound payloads ---

type InitiateCallPayload struct {
	CalleeID UserID `json:"calleeId"`
}

// CallRefPayload is used by accept-call, reject-call and hangup, and by the
// call-accepted, call-rejected and call-hangup notifications.
type CallRefPayload struct {
	CallID CallID `json:"callId"`
}

type VPNReadyPayload struct {
	CallID        CallID `json:"callId"`
	LocalEndpoint string `json:"localEndpoint,omitempty"`
}

// SignalType is the WebRTC negotiation message kind.
type SignalType string

const (
	SignalOffer        SignalType = "offer"
	SignalAnswer       SignalType = "answer"
	SignalICECandidate SignalType = "ice-candidate"
)

// WebRTCSignalPayload is relayed verbatim to the peer once validated.
// Timestamp is Unix milliseconds at the sender.
type WebRTCSignalPayload struct {
	CallID    CallID                     `json:"callId"`
	Type      SignalType                 `json:"type"`
	SDP       *webrtc.SessionDescription `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
	Timestamp int64                      `json:"timestamp"`
	Nonce     string                     `json:"nonce"`
}

// --- Outbound payloads ---

// CallInfoPayload is sent as call-initiated and incoming-call.
type CallInfoPayload struct {
	CallID   CallID `json:"callId"`
	CallerID UserID `json:"callerId"`
	CalleeID UserID `json:"calleeId"`
}

type VPNConnectedPayload struct {
	CallID       CallID `json:"callId"`
	PeerEndpoint string `json:"peerEndpoint,omitempty"`
}

type CallErrorPayload struct {
	Message string `json:"message"`
	CallID  CallID `json:"callId,omitempty"`
}

// --- Lifecycle records ---

// CallEventKind names a lifecycle record published for other services.
type CallEventKind string

const (
	CallEventInitiated CallEventKind = "initiated"
	CallEventAccepted  CallEventKind = "accepted"
	CallEventActive    CallEventKind = "active"
	CallEventRejected  CallEventKind = "rejected"
	CallEventCancelled CallEventKind = "cancelled"
	CallEventEnded     CallEventKind = "ended"
	CallEventTimeout   CallEventKind = "timeout"
)

// CallEvent is a lifecycle record. Notification and message services use it
// for missed-call notices and call history.
type CallEvent struct {
	Kind       CallEventKind `json:"kind"`
	CallID     CallID        `json:"callId"`
	CallerID   UserID        `json:"callerId"`
	CalleeID   UserID        `json:"calleeId"`
	ActorID    UserID        `json:"actorId,omitempty"`
	Status     CallStatus    `json:"status"`
	Reason     string        `json:"reason,omitempty"`
	DurationMs int64         `json:"durationMs,omitempty"`
	OccurredAt time.Time     `json:"occurredAt"`
}
