package registry

import (
	"sync"
	"time"

	"github.com/RoseWrightdev/Messenger/backend/go/internal/v1/types"
)

// Timeouts is the maximum dwell time per status. Zero disables the timer for that status.
type Timeouts struct {
	Initiating time.Duration
	Ringing    time.Duration
	Connecting time.Duration
	Active     time.Duration
}

// DefaultTimeouts matches the production defaults.
var DefaultTimeouts = Timeouts{
	Initiating: 30 * time.Second,
	Ringing:    60 * time.Second,
	Connecting: 120 * time.Second,
	Active:     60 * time.Minute,
}

// For returns the configured timeout for status. Terminal statuses never time out.
func (t Timeouts) For(status types.CallStatus) time.Duration {
	switch status {
	case types.StatusInitiating:
		return t.Initiating
	case types.StatusRinging:
		return t.Ringing
	case types.StatusConnecting:
		return t.Connecting
	case types.StatusActive:
		return t.Active
	}
	return 0
}

// ExpireFunc is invoked from a timer goroutine when a session overstays its status.
// status is the status the timer was armed for.
type ExpireFunc func(callID types.CallID, status types.CallStatus)

// Scheduler keeps one timer per call, re-armed on every status change.
type Scheduler struct {
	mu       sync.Mutex
	timeouts Timeouts
	timers   map[types.CallID]*time.Timer
	onExpire ExpireFunc
}

// NewScheduler creates a Scheduler. Expiries are dropped until OnExpire is set.
func NewScheduler(timeouts Timeouts) *Scheduler {
	return &Scheduler{
		timeouts: timeouts,
		timers:   make(map[types.CallID]*time.Timer),
	}
}

// OnExpire sets the expiry callback.
func (s *Scheduler) OnExpire(fn ExpireFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onExpire = fn
}

// Timeouts returns the configured durations.
func (s *Scheduler) Timeouts() Timeouts {
	return s.timeouts
}

// Arm cancels any timer for callID and starts a new one for status.
func (s *Scheduler) Arm(callID types.CallID, status types.CallStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.timers[callID]; ok {
		existing.Stop()
		delete(s.timers, callID)
	}

	d := s.timeouts.For(status)
	if d <= 0 {
		return
	}

	var timer *time.Timer
	timer = time.AfterFunc(d, func() {
		s.mu.Lock()
		// A newer Arm or a Cancel replaced this timer; nothing to do.
		if current, ok := s.timers[callID]; !ok || current != timer {
			s.mu.Unlock()
			return
		}
		delete(s.timers, callID)
		fn := s.onExpire
		s.mu.Unlock()

		if fn != nil {
			fn(callID, status)
		}
	})
	s.timers[callID] = timer
}

// Cancel stops the timer for callID, if any.
func (s *Scheduler) Cancel(callID types.CallID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if timer, ok := s.timers[callID]; ok {
		timer.Stop()
		delete(s.timers, callID)
	}
}

// Pending returns the number of armed timers.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Stop cancels every armed timer.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for callID, timer := range s.timers {
		timer.Stop()
		delete(s.timers, callID)
	}
}
