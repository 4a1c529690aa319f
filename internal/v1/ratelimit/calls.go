package ratelimit

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/RoseWrightdev/Messenger/backend/go/internal/v1/callerr"
	"github.com/RoseWrightdev/Messenger/backend/go/internal/v1/logging"
	"github.com/RoseWrightdev/Messenger/backend/go/internal/v1/metrics"
	"github.com/RoseWrightdev/Messenger/backend/go/internal/v1/types"
	"go.uber.org/zap"
)

// callWindow is the length of the per-caller and per-pair counting windows.
const callWindow = time.Minute

// CallPolicy configures call admission.
type CallPolicy struct {
	CallsPerMinute       int
	CallsToUserPerMinute int
	MaxActiveCalls       int
	RejectedCooldown     time.Duration
}

// DefaultCallPolicy matches the production defaults.
var DefaultCallPolicy = CallPolicy{
	CallsPerMinute:       3,
	CallsToUserPerMinute: 3,
	MaxActiveCalls:       1,
	RejectedCooldown:     30 * time.Second,
}

type attempt struct {
	count   int
	resetAt time.Time
}

type pair struct {
	caller types.UserID
	callee types.UserID
}

// CallStats is a snapshot of one caller's counters.
type CallStats struct {
	ActiveCalls         int                  `json:"activeCalls"`
	CallsInMinute       int                  `json:"callsInMinute"`
	CallsToUserInMinute map[types.UserID]int `json:"callsToUserInMinute"`
}

// CallLimiter decides whether a user may start a call. Counters live in memory
// and expire lazily; Sweep purges what has expired.
type CallLimiter struct {
	mu          sync.Mutex
	policy      CallPolicy
	attempts    map[types.UserID]*attempt
	callsToUser map[pair]*attempt
	cooldowns   map[pair]time.Time
	active      map[types.UserID]int
	now         func() time.Time
}

// NewCallLimiter creates a CallLimiter. now may be nil to use time.Now.
func NewCallLimiter(policy CallPolicy, now func() time.Time) *CallLimiter {
	if now == nil {
		now = time.Now
	}
	return &CallLimiter{
		policy:      policy,
		attempts:    make(map[types.UserID]*attempt),
		callsToUser: make(map[pair]*attempt),
		cooldowns:   make(map[pair]time.Time),
		active:      make(map[types.UserID]int),
		now:         now,
	}
}

// CanInitiate checks, in order: rejection cooldown for the pair, concurrent active
// calls, calls per minute, calls to this callee per minute. The per-minute checks
// count the attempt when they pass. A refusal is a callerr.ErrForbidden.
func (l *CallLimiter) CanInitiate(ctx context.Context, callerID, calleeID types.UserID) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	key := pair{caller: callerID, callee: calleeID}

	if until, ok := l.cooldowns[key]; ok && until.After(now) {
		remaining := int(math.Ceil(until.Sub(now).Seconds()))
		return l.refuse(ctx, "cooldown", callerID, calleeID,
			fmt.Sprintf("Please wait %d seconds before calling this user again", remaining))
	}

	if count := l.active[callerID]; count >= l.policy.MaxActiveCalls {
		suffix := ""
		if l.policy.MaxActiveCalls > 1 {
			suffix = "s"
		}
		return l.refuse(ctx, "max_active", callerID, calleeID,
			fmt.Sprintf("You can only have %d active call%s at a time", l.policy.MaxActiveCalls, suffix))
	}

	if a, ok := l.attempts[callerID]; ok && a.resetAt.After(now) {
		if a.count >= l.policy.CallsPerMinute {
			return l.refuse(ctx, "per_minute", callerID, calleeID,
				fmt.Sprintf("Too many calls. Maximum %d calls per minute", l.policy.CallsPerMinute))
		}
		a.count++
	} else {
		l.attempts[callerID] = &attempt{count: 1, resetAt: now.Add(callWindow)}
	}

	if a, ok := l.callsToUser[key]; ok && a.resetAt.After(now) {
		if a.count >= l.policy.CallsToUserPerMinute {
			return l.refuse(ctx, "per_user_per_minute", callerID, calleeID,
				fmt.Sprintf("Too many calls to this user. Maximum %d calls per minute", l.policy.CallsToUserPerMinute))
		}
		a.count++
	} else {
		l.callsToUser[key] = &attempt{count: 1, resetAt: now.Add(callWindow)}
	}

	return nil
}

func (l *CallLimiter) refuse(ctx context.Context, reason string, callerID, calleeID types.UserID, msg string) error {
	metrics.CallRateLimitRejections.WithLabelValues(reason).Inc()
	logging.Warn(ctx, "Call initiation refused by rate limiter",
		zap.String("reason", reason),
		zap.String("callerId", string(callerID)),
		zap.String("calleeId", string(calleeID)),
	)
	return callerr.New(callerr.ErrForbidden, msg)
}

// OnCallStarted counts one more active call for userID.
func (l *CallLimiter) OnCallStarted(userID types.UserID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.active[userID]++
}

// OnCallEnded releases one active call for userID. The count never drops below zero.
func (l *CallLimiter) OnCallEnded(userID types.UserID) {
	l.mu.Lock()
	defer l.mu.Unlock()

	count, ok := l.active[userID]
	if !ok {
		return
	}
	if count <= 1 {
		delete(l.active, userID)
		return
	}
	l.active[userID] = count - 1
}

// OnCallRejected starts the cooldown before callerID may call calleeID again.
func (l *CallLimiter) OnCallRejected(callerID, calleeID types.UserID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cooldowns[pair{caller: callerID, callee: calleeID}] = l.now().Add(l.policy.RejectedCooldown)
}

// Sweep drops expired windows and cooldowns and returns how many entries it removed.
func (l *CallLimiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cleaned := 0
	for k, a := range l.attempts {
		if !a.resetAt.After(now) {
			delete(l.attempts, k)
			cleaned++
		}
	}
	for k, a := range l.callsToUser {
		if !a.resetAt.After(now) {
			delete(l.callsToUser, k)
			cleaned++
		}
	}
	for k, until := range l.cooldowns {
		if !until.After(now) {
			delete(l.cooldowns, k)
			cleaned++
		}
	}
	return cleaned
}

// Stats reports callerID's current counters.
func (l *CallLimiter) Stats(callerID types.UserID) CallStats {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	stats := CallStats{
		ActiveCalls:         l.active[callerID],
		CallsToUserInMinute: make(map[types.UserID]int),
	}
	if a, ok := l.attempts[callerID]; ok && a.resetAt.After(now) {
		stats.CallsInMinute = a.count
	}
	for k, a := range l.callsToUser {
		if k.caller == callerID && a.resetAt.After(now) {
			stats.CallsToUserInMinute[k.callee] = a.count
		}
	}
	return stats
}

// size returns the number of tracked entries, for tests.
func (l *CallLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.attempts) + len(l.callsToUser) + len(l.cooldowns) + len(l.active)
}
