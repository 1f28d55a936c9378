package shutdown

import (
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"time"

	"apiframe/internal/logging"
)

// SecondSignalPolicy decides what a second stop signal does while shutdown is
// already in progress.
type SecondSignalPolicy string

const (
	// SecondSignalIgnore logs and drops repeat signals (the default).
	SecondSignalIgnore SecondSignalPolicy = "ignore"
	// SecondSignalForce escalates a repeat signal to immediate forced
	// termination of the drain sequence.
	SecondSignalForce SecondSignalPolicy = "force"
)

// Trigger converts external stop requests into a single one-shot event. Fire
// does minimal, non-blocking work so it is safe from signal-delivery
// goroutines; all orchestration happens in the Coordinator.
type Trigger struct {
	mu      sync.Mutex
	fired   bool
	firedAt time.Time
	reason  string
	ch      chan struct{}
}

// NewTrigger creates an unfired trigger.
func NewTrigger() *Trigger {
	return &Trigger{ch: make(chan struct{})}
}

// Fire requests shutdown. Only the first call takes effect; it records the
// reason and timestamp and wakes all waiters. Repeat calls return false.
func (tr *Trigger) Fire(reason string) bool {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if tr.fired {
		return false
	}
	tr.fired = true
	tr.firedAt = time.Now()
	tr.reason = reason
	close(tr.ch)
	return true
}

// Triggered returns a channel that is closed after the first Fire. Waiters
// resolve exactly once without polling.
func (tr *Trigger) Triggered() <-chan struct{} {
	return tr.ch
}

// Fired reports whether the trigger has gone off.
func (tr *Trigger) Fired() bool {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.fired
}

// Reason returns the first Fire's reason, or "" if unfired.
func (tr *Trigger) Reason() string {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.reason
}

// FiredAt returns when the trigger went off, or the zero time if unfired.
func (tr *Trigger) FiredAt() time.Time {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.firedAt
}

// WatchSignals routes OS signals into the trigger. The first signal fires it;
// later signals follow policy: ignored with a warning, or escalated through
// the escalate callback (at most once). The returned stop function releases
// the signal subscription.
func (tr *Trigger) WatchSignals(logger *logging.Logger, policy SecondSignalPolicy, escalate func(), sigs ...os.Signal) (stop func()) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, sigs...)
	done := make(chan struct{})

	go func() {
		escalated := false
		for {
			select {
			case sig := <-ch:
				if tr.Fire("signal:" + sig.String()) {
					logger.Info("received shutdown signal", slog.String("signal", sig.String()))
					continue
				}
				if policy == SecondSignalForce && escalate != nil && !escalated {
					escalated = true
					logger.Warn("repeat shutdown signal, forcing immediate termination",
						slog.String("signal", sig.String()))
					escalate()
					continue
				}
				logger.Warn("shutdown already in progress, ignoring signal",
					slog.String("signal", sig.String()))
			case <-done:
				return
			}
		}
	}()

	return func() {
		signal.Stop(ch)
		close(done)
	}
}
