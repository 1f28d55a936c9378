package shutdown

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrDraining is returned by Begin once shutdown has started and new work is
// no longer admitted.
var ErrDraining = errors.New("shutdown in progress: new work rejected")

// WorkUnit is one in-flight request or background task tracked for drainage.
// Cancellation is cooperative: the unit's handler observes the context
// returned by Begin and unwinds; nothing is forcibly killed.
type WorkUnit struct {
	id        uuid.UUID
	startedAt time.Time

	cancel     context.CancelFunc
	done       chan struct{}
	finishOnce sync.Once

	tracker *WorkTracker
}

// ID returns the unit's opaque identity.
func (u *WorkUnit) ID() uuid.UUID { return u.id }

// StartedAt returns when the unit was registered.
func (u *WorkUnit) StartedAt() time.Time { return u.startedAt }

// Done is closed exactly once, when the unit finishes (success, error, or
// cancellation).
func (u *WorkUnit) Done() <-chan struct{} { return u.done }

// Cancel asks the unit to unwind by cancelling its context. Safe to call
// any number of times, including after Finish.
func (u *WorkUnit) Cancel() { u.cancel() }

// Finish deregisters the unit. It is idempotent: every exit path may call it
// and the unit is removed exactly once, never double-counted.
func (u *WorkUnit) Finish() {
	u.finishOnce.Do(func() {
		u.cancel()
		u.tracker.remove(u)
		close(u.done)
	})
}

// WorkTracker maintains the live set of in-flight work units. All operations
// are safe under concurrent use and none of them block.
type WorkTracker struct {
	mu       sync.Mutex
	units    map[*WorkUnit]struct{}
	draining bool

	// observer, when set, receives the new count after every membership
	// change. Used to keep an in-flight gauge; must not block.
	observer func(count int)
}

// NewWorkTracker creates an empty tracker.
func NewWorkTracker() *WorkTracker {
	return &WorkTracker{units: make(map[*WorkUnit]struct{})}
}

// SetObserver installs a count observer. Call before serving traffic.
func (t *WorkTracker) SetObserver(fn func(count int)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.observer = fn
}

// Begin registers a new work unit and returns it together with the unit's
// cancellable context. It fails with ErrDraining once shutdown has started.
func (t *WorkTracker) Begin(ctx context.Context) (*WorkUnit, context.Context, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	unitCtx, cancel := context.WithCancel(ctx)

	unit := &WorkUnit{
		id:        uuid.New(),
		startedAt: time.Now(),
		cancel:    cancel,
		done:      make(chan struct{}),
		tracker:   t,
	}

	t.mu.Lock()
	if t.draining {
		t.mu.Unlock()
		cancel()
		return nil, nil, ErrDraining
	}
	t.units[unit] = struct{}{}
	observer, count := t.observer, len(t.units)
	t.mu.Unlock()

	if observer != nil {
		observer(count)
	}
	return unit, unitCtx, nil
}

func (t *WorkTracker) remove(u *WorkUnit) {
	t.mu.Lock()
	delete(t.units, u)
	observer, count := t.observer, len(t.units)
	t.mu.Unlock()

	if observer != nil {
		observer(count)
	}
}

// StartDraining stops admission of new work. Units already registered are
// unaffected.
func (t *WorkTracker) StartDraining() {
	t.mu.Lock()
	t.draining = true
	t.mu.Unlock()
}

// Draining reports whether new work is being rejected.
func (t *WorkTracker) Draining() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.draining
}

// Snapshot returns a point-in-time copy of the current membership. Later
// mutations do not affect the returned slice.
func (t *WorkTracker) Snapshot() []*WorkUnit {
	t.mu.Lock()
	defer t.mu.Unlock()
	units := make([]*WorkUnit, 0, len(t.units))
	for u := range t.units {
		units = append(units, u)
	}
	return units
}

// Count returns the number of in-flight units.
func (t *WorkTracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.units)
}
