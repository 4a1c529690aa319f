// Package registry is the in-memory store of live call sessions, the per-user socket
// index and the per-call nonce sets. It owns the per-session timeout timers.
package registry

import (
	"slices"
	"sync"
	"time"

	"github.com/RoseWrightdev/Messenger/backend/go/internal/v1/callerr"
	"github.com/RoseWrightdev/Messenger/backend/go/internal/v1/types"
	"github.com/google/uuid"
	"k8s.io/utils/set"
)

// pairKey identifies an ordered (caller, callee) pair.
type pairKey struct {
	caller types.UserID
	callee types.UserID
}

// Registry holds every live call session. All methods are safe for concurrent use,
// and every session it returns is a copy.
type Registry struct {
	mu          sync.Mutex
	sessions    map[types.CallID]*types.CallSession
	pairs       map[pairKey]types.CallID
	userSockets map[types.UserID]set.Set[types.SocketID]
	socketUsers map[types.SocketID]types.UserID
	nonces      map[types.CallID]set.Set[string]

	scheduler *Scheduler
	now       func() time.Time
	newID     func() types.CallID
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithIDGenerator overrides call id generation.
func WithIDGenerator(newID func() types.CallID) Option {
	return func(r *Registry) { r.newID = newID }
}

// New creates an empty Registry that arms timers on scheduler.
func New(scheduler *Scheduler, opts ...Option) *Registry {
	r := &Registry{
		sessions:    make(map[types.CallID]*types.CallSession),
		pairs:       make(map[pairKey]types.CallID),
		userSockets: make(map[types.UserID]set.Set[types.SocketID]),
		socketUsers: make(map[types.SocketID]types.UserID),
		nonces:      make(map[types.CallID]set.Set[string]),
		scheduler:   scheduler,
		now:         time.Now,
		newID:       func() types.CallID { return types.CallID(uuid.NewString()) },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Scheduler returns the timeout scheduler backing this registry.
func (r *Registry) Scheduler() *Scheduler {
	return r.scheduler
}

// Create registers a new session in status initiating, bound to the caller's socket,
// and arms its timer. The caller is counted as holding an active call.
func (r *Registry) Create(callerID, calleeID types.UserID, callerSocket types.SocketID) (*types.CallSession, error) {
	if callerID == calleeID {
		return nil, callerr.New(callerr.ErrForbidden, "Cannot call yourself")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := pairKey{caller: callerID, callee: calleeID}
	if _, exists := r.pairs[key]; exists {
		return nil, callerr.New(callerr.ErrConflict, "A call to this user is already in progress")
	}

	callID := r.newID()
	for _, taken := r.sessions[callID]; taken; _, taken = r.sessions[callID] {
		callID = r.newID()
	}

	now := r.now()
	sess := &types.CallSession{
		CallID:           callID,
		CallerID:         callerID,
		CalleeID:         calleeID,
		Status:           types.StatusInitiating,
		CreatedAt:        now,
		LastStatusChange: now,
		CallerSocketID:   callerSocket,
		Accounted:        []types.UserID{callerID},
	}
	r.sessions[callID] = sess
	r.pairs[key] = callID
	r.scheduler.Arm(callID, sess.Status)

	return sess.Clone(), nil
}

// Get returns a copy of the session.
func (r *Registry) Get(callID types.CallID) (*types.CallSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[callID]
	if !ok {
		return nil, false
	}
	return sess.Clone(), true
}

// Update applies fn to a copy of the session and commits it only if fn succeeds.
// A status change refreshes LastStatusChange and re-arms the timer.
func (r *Registry) Update(callID types.CallID, fn func(*types.CallSession) error) (*types.CallSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[callID]
	if !ok {
		return nil, callerr.New(callerr.ErrNotFound, "Call not found")
	}

	next := sess.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	// Identity fields are not editable.
	next.CallID, next.CallerID, next.CalleeID, next.CreatedAt = sess.CallID, sess.CallerID, sess.CalleeID, sess.CreatedAt

	if next.Status != sess.Status {
		next.LastStatusChange = r.now()
		r.scheduler.Arm(callID, next.Status)
	}
	r.sessions[callID] = next

	return next.Clone(), nil
}

// Transition moves the session to status. Legality is the caller's concern.
func (r *Registry) Transition(callID types.CallID, status types.CallStatus) (*types.CallSession, error) {
	return r.Update(callID, func(s *types.CallSession) error {
		s.Status = status
		return nil
	})
}

// Remove deletes the session, cancels its timer and discards its nonces.
// Removing an unknown call is a no-op that reports false.
func (r *Registry) Remove(callID types.CallID) (*types.CallSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(callID)
}

// RemoveIf removes the session only while it is still in status.
// Timer and sweep expiry use it so a stale trigger never ends a call that moved on.
func (r *Registry) RemoveIf(callID types.CallID, status types.CallStatus) (*types.CallSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[callID]
	if !ok || sess.Status != status {
		return nil, false
	}
	return r.removeLocked(callID)
}

func (r *Registry) removeLocked(callID types.CallID) (*types.CallSession, bool) {
	sess, ok := r.sessions[callID]
	if !ok {
		return nil, false
	}
	delete(r.sessions, callID)
	delete(r.nonces, callID)
	key := pairKey{caller: sess.CallerID, callee: sess.CalleeID}
	if r.pairs[key] == callID {
		delete(r.pairs, key)
	}
	r.scheduler.Cancel(callID)
	return sess, true
}

// Expired returns sessions whose current status has outlived its timeout at now.
func (r *Registry) Expired(now time.Time) []*types.CallSession {
	r.mu.Lock()
	defer r.mu.Unlock()

	timeouts := r.scheduler.Timeouts()
	var out []*types.CallSession
	for _, sess := range r.sessions {
		d := timeouts.For(sess.Status)
		if d > 0 && now.Sub(sess.LastStatusChange) > d {
			out = append(out, sess.Clone())
		}
	}
	return out
}

// SessionsFor returns every live session userID participates in.
func (r *Registry) SessionsFor(userID types.UserID) []*types.CallSession {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*types.CallSession
	for _, sess := range r.sessions {
		if sess.IsParticipant(userID) {
			out = append(out, sess.Clone())
		}
	}
	slices.SortFunc(out, func(a, b *types.CallSession) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out
}

// PendingFor returns sessions still waiting to reach calleeID: status initiating
// and no callee socket bound yet.
func (r *Registry) PendingFor(calleeID types.UserID) []*types.CallSession {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*types.CallSession
	for _, sess := range r.sessions {
		if sess.CalleeID == calleeID && sess.Status == types.StatusInitiating && sess.CalleeSocketID == "" {
			out = append(out, sess.Clone())
		}
	}
	slices.SortFunc(out, func(a, b *types.CallSession) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// --- Socket index ---

// BindSocket records socketID as a live connection of userID.
func (r *Registry) BindSocket(userID types.UserID, socketID types.SocketID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.socketUsers[socketID]; ok && prev != userID {
		r.unbindLocked(socketID)
	}

	sockets, ok := r.userSockets[userID]
	if !ok {
		sockets = set.New[types.SocketID]()
		r.userSockets[userID] = sockets
	}
	sockets.Insert(socketID)
	r.socketUsers[socketID] = userID
}

// UnbindSocket forgets socketID and returns the user it belonged to.
func (r *Registry) UnbindSocket(socketID types.SocketID) (types.UserID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.unbindLocked(socketID)
}

func (r *Registry) unbindLocked(socketID types.SocketID) (types.UserID, bool) {
	userID, ok := r.socketUsers[socketID]
	if !ok {
		return "", false
	}
	delete(r.socketUsers, socketID)

	if sockets, ok := r.userSockets[userID]; ok {
		sockets.Delete(socketID)
		if sockets.Len() == 0 {
			delete(r.userSockets, userID)
		}
	}
	return userID, true
}

// SocketsFor returns the live sockets of userID in a stable order.
func (r *Registry) SocketsFor(userID types.UserID) []types.SocketID {
	r.mu.Lock()
	defer r.mu.Unlock()

	sockets, ok := r.userSockets[userID]
	if !ok {
		return nil
	}
	return sockets.SortedList()
}

// --- Nonces ---

// ConsumeNonce records nonce for callID. It returns false, without recording,
// if the nonce was already used or the call is not live.
func (r *Registry) ConsumeNonce(callID types.CallID, nonce string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[callID]; !ok {
		return false
	}
	used, ok := r.nonces[callID]
	if !ok {
		used = set.New[string]()
		r.nonces[callID] = used
	}
	if used.Has(nonce) {
		return false
	}
	used.Insert(nonce)
	return true
}

// NonceUsed reports whether nonce was already consumed for callID.
func (r *Registry) NonceUsed(callID types.CallID, nonce string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.nonces[callID].Has(nonce)
}

// Close cancels every timer and drops all state.
func (r *Registry) Close() {
	r.scheduler.Stop()

	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.sessions)
	clear(r.pairs)
	clear(r.nonces)
	clear(r.userSockets)
	clear(r.socketUsers)
}
