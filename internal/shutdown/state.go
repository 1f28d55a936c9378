// Package shutdown coordinates graceful termination of the server: it tracks
// in-flight work, converts stop signals into a one-shot trigger, drains
// outstanding work within a bounded budget, and runs registered teardown
// actions in order with per-action failure isolation.
package shutdown

import (
	"sync/atomic"
	"time"
)

// Default timing policy. The drain phase gets a fraction of the overall
// budget so teardown always has headroom; cancelled work gets a short fixed
// grace period to unwind before the coordinator proceeds regardless.
const (
	DefaultBudget        = 30 * time.Second
	DefaultDrainFraction = 0.7
	DefaultGracePeriod   = 2 * time.Second

	MinBudget = 5 * time.Second
	MaxBudget = 300 * time.Second
)

// State is the single process-wide shutdown state. It is created at startup
// and mutated only through the Trigger and Coordinator transitions; all reads
// are safe from any goroutine.
type State struct {
	budget time.Duration

	triggered    atomic.Bool
	triggeredAt  atomic.Int64 // unix nanos, valid only when triggered
	listenerStop atomic.Bool
}

// NewState creates shutdown state with the given overall timeout budget.
// A non-positive budget falls back to DefaultBudget.
func NewState(budget time.Duration) *State {
	if budget <= 0 {
		budget = DefaultBudget
	}
	return &State{budget: budget}
}

// Budget returns the absolute timeout budget for the whole shutdown sequence.
func (s *State) Budget() time.Duration {
	return s.budget
}

// markTriggered flips the one-way triggered flag. It returns true only for
// the first caller; triggeredAt never changes after that.
func (s *State) markTriggered(at time.Time) bool {
	if !s.triggered.CompareAndSwap(false, true) {
		return false
	}
	s.triggeredAt.Store(at.UnixNano())
	return true
}

// Triggered reports whether shutdown has been requested.
func (s *State) Triggered() bool {
	return s.triggered.Load()
}

// TriggeredAt returns when shutdown was requested, or the zero time if it
// has not been.
func (s *State) TriggeredAt() time.Time {
	if !s.triggered.Load() {
		return time.Time{}
	}
	return time.Unix(0, s.triggeredAt.Load())
}

// RequestListenerStop signals the service listener to stop admitting new
// connections. The listener's accept loop is not owned here; it only honors
// the flag.
func (s *State) RequestListenerStop() {
	s.listenerStop.Store(true)
}

// ListenerStopRequested reports whether the listener has been asked to stop
// accepting new work.
func (s *State) ListenerStopRequested() bool {
	return s.listenerStop.Load()
}
