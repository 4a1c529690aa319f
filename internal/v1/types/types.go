package types

import (
	"context"
	"slices"
	"time"

	"github.com/RoseWrightdev/Messenger/backend/go/internal/v1/auth"
)

// --- Core Domain Types ---

// UserID identifies a platform user (the JWT subject).
type UserID string

// CallID identifies one call attempt from initiation to its terminal outcome.
type CallID string

// SocketID identifies a single live WebSocket connection.
type SocketID string

// CallStatus is the state of a call session.
type CallStatus string

const (
	StatusInitiating CallStatus = "initiating" // created, callee not yet notified
	StatusRinging    CallStatus = "ringing"    // incoming-call delivered to the callee
	StatusConnecting CallStatus = "connecting" // accepted, VPN configs handed out
	StatusActive     CallStatus = "active"     // a participant reported its tunnel is up
	StatusEnded      CallStatus = "ended"
	StatusRejected   CallStatus = "rejected"
	StatusCancelled  CallStatus = "cancelled"
)

// IsTerminal reports whether s ends a session.
func (s CallStatus) IsTerminal() bool {
	switch s {
	case StatusEnded, StatusRejected, StatusCancelled:
		return true
	}
	return false
}

// CallSession is the live state of one call.
type CallSession struct {
	CallID           CallID
	CallerID         UserID
	CalleeID         UserID
	Status           CallStatus
	CreatedAt        time.Time
	LastStatusChange time.Time

	// Last-known socket bindings. Users may hold several sockets, so these can be stale.
	CallerSocketID SocketID
	CalleeSocketID SocketID

	CallerVPNConfig *VPNConfig
	CalleeVPNConfig *VPNConfig

	// Users whose active-call count was incremented for this session.
	Accounted []UserID
}

// IsParticipant reports whether userID is the caller or the callee.
func (s *CallSession) IsParticipant(userID UserID) bool {
	return userID == s.CallerID || userID == s.CalleeID
}

// Peer returns the other participant.
func (s *CallSession) Peer(userID UserID) UserID {
	if userID == s.CallerID {
		return s.CalleeID
	}
	return s.CallerID
}

// Clone returns a copy that shares no mutable state with s.
func (s *CallSession) Clone() *CallSession {
	c := *s
	c.Accounted = slices.Clone(s.Accounted)
	return &c
}

// --- Collaborator records ---

// User is the subset of a user record the gateway needs.
type User struct {
	ID       UserID `json:"id"`
	Username string `json:"username"`
}

// ChatTypePrivate marks a one-to-one chat.
const ChatTypePrivate = "private"

// Chat is a chat summary as returned by the chat service.
type Chat struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

// Participant is one member of a chat.
type Participant struct {
	UserID UserID `json:"userId"`
}

// --- Shared Interfaces ---

// TokenValidator defines the interface for JWT token authentication services.
type TokenValidator interface {
	ValidateToken(tokenString string) (*auth.CustomClaims, error)
}

// UserDirectory resolves user ids. A missing user is reported as callerr.ErrNotFound.
type UserDirectory interface {
	GetUser(ctx context.Context, userID UserID) (*User, error)
}

// ChatMembership answers chat membership questions.
type ChatMembership interface {
	GetChatsByUserID(ctx context.Context, userID UserID, page, limit int) ([]Chat, error)
	GetChatParticipants(ctx context.Context, chatID string, userID UserID) ([]Participant, error)
}

// VPNGenerator produces per-participant tunnel configuration.
type VPNGenerator interface {
	Generate(callID CallID, userID UserID, isInitiator bool) (*VPNConfig, error)
	Validate(cfg *VPNConfig) error
}

// Transport delivers events to live sockets. An unknown socket is not an error.
type Transport interface {
	EmitToSocket(ctx context.Context, socketID SocketID, event string, payload any) error
}

// SocketHandler receives socket lifecycle and inbound events from the transport.
type SocketHandler interface {
	HandleConnect(ctx context.Context, socketID SocketID, userID UserID)
	HandleDisconnect(ctx context.Context, socketID SocketID)
	HandleEvent(ctx context.Context, socketID SocketID, userID UserID, env Envelope)
}

// CallEventPublisher fans call lifecycle records out to other services.
type CallEventPublisher interface {
	PublishCallEvent(ctx context.Context, ev CallEvent) error
}
