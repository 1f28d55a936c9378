package shutdown

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"apiframe/internal/logging"
)

// Phase is the coordinator's position in the shutdown sequence.
type Phase int32

const (
	PhaseRunning Phase = iota
	PhaseDraining
	PhaseTearingDown
	PhaseTerminated
	PhaseForceTerminated
)

func (p Phase) String() string {
	switch p {
	case PhaseRunning:
		return "running"
	case PhaseDraining:
		return "draining"
	case PhaseTearingDown:
		return "tearing_down"
	case PhaseTerminated:
		return "terminated"
	case PhaseForceTerminated:
		return "force_terminated"
	default:
		return "unknown"
	}
}

// Config holds the coordinator's timing policy. The drain sub-budget is
// carved from the overall budget, not added to it, which is what bounds the
// total shutdown time.
type Config struct {
	DrainFraction float64       // share of the budget spent draining, (0,1)
	GracePeriod   time.Duration // fixed wait for cancelled units to unwind
}

func (c Config) withDefaults() Config {
	if c.DrainFraction <= 0 || c.DrainFraction >= 1 {
		c.DrainFraction = DefaultDrainFraction
	}
	if c.GracePeriod <= 0 {
		c.GracePeriod = DefaultGracePeriod
	}
	return c
}

// Report summarizes one completed shutdown sequence.
type Report struct {
	Reason         string
	StartedAt      time.Time
	Elapsed        time.Duration
	UnitsDrained   int
	UnitsCancelled int
	Actions        []ActionResult
	Forced         bool
}

// Clean reports whether the sequence finished without forced termination and
// with every teardown action succeeding.
func (r *Report) Clean() bool {
	if r.Forced {
		return false
	}
	for _, a := range r.Actions {
		if !a.OK() {
			return false
		}
	}
	return true
}

// Err returns a summary error for a degraded shutdown, nil when clean enough
// to exit zero. Forced termination is the only condition that changes the
// exit code; per-unit and per-action failures are reported, not fatal.
func (r *Report) Err() error {
	if r.Forced {
		return fmt.Errorf("shutdown forced after %s: budget exceeded", r.Elapsed.Round(time.Millisecond))
	}
	return nil
}

// LogAttrs returns structured attributes describing the report.
func (r *Report) LogAttrs() []any {
	failed := make([]string, 0)
	for _, a := range r.Actions {
		if !a.OK() {
			failed = append(failed, a.Name)
		}
	}
	return []any{
		slog.String("reason", r.Reason),
		slog.Duration("elapsed", r.Elapsed),
		slog.Int("units_drained", r.UnitsDrained),
		slog.Int("units_cancelled", r.UnitsCancelled),
		slog.Int("teardown_actions", len(r.Actions)),
		slog.Any("teardown_failed", failed),
		slog.Bool("forced", r.Forced),
	}
}

// Coordinator orchestrates the full shutdown sequence:
// Running -> Draining -> TearingDown -> Terminated, with ForceTerminated as
// the alternate terminal state when the absolute budget is exceeded. Nothing
// inside it panics out; the worst case is a Report marked forced.
type Coordinator struct {
	cfg      Config
	state    *State
	tracker  *WorkTracker
	registry *Registry
	logger   *logging.Logger

	// stopListener asks the service listener to stop admitting new
	// connections. It must return promptly; awaiting the listener's full
	// stop belongs in a teardown action.
	stopListener func()

	phase        atomic.Int32
	initiateOnce sync.Once
	done         chan struct{}
	report       *Report

	forceMu     sync.Mutex
	forceCancel context.CancelFunc
}

// NewCoordinator wires the coordinator to its collaborators. stopListener
// may be nil when there is no accept loop to flag (tests).
func NewCoordinator(cfg Config, state *State, tracker *WorkTracker, registry *Registry, logger *logging.Logger, stopListener func()) *Coordinator {
	return &Coordinator{
		cfg:          cfg.withDefaults(),
		state:        state,
		tracker:      tracker,
		registry:     registry,
		logger:       logger,
		stopListener: stopListener,
		done:         make(chan struct{}),
	}
}

// Phase returns the coordinator's current phase.
func (c *Coordinator) Phase() Phase {
	return Phase(c.phase.Load())
}

// Done is closed when the shutdown sequence has completed and the report is
// available.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// Run blocks until the trigger fires, then executes the shutdown sequence.
// Intended to run on its own goroutine for the life of the process.
func (c *Coordinator) Run(ctx context.Context, trigger *Trigger) *Report {
	select {
	case <-trigger.Triggered():
		return c.Initiate(ctx, trigger.Reason())
	case <-ctx.Done():
		return c.Initiate(context.Background(), "context cancelled")
	}
}

// ForceNow escalates to immediate forced termination: the absolute budget is
// cancelled, outstanding work is abandoned, and remaining teardown actions
// are skipped. No-op before Initiate has begun.
func (c *Coordinator) ForceNow() {
	c.forceMu.Lock()
	cancel := c.forceCancel
	c.forceMu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Initiate runs the shutdown sequence exactly once and returns its report.
// Concurrent or repeat calls log a warning, wait for the first run, and
// return the same report. Safe to call from a signal path, an admin
// endpoint, or a test harness.
func (c *Coordinator) Initiate(ctx context.Context, reason string) *Report {
	first := false
	c.initiateOnce.Do(func() {
		first = true
		c.report = c.run(ctx, reason)
		close(c.done)
	})
	if !first {
		c.logger.Warn("shutdown already initiated, waiting for completion",
			slog.String("reason", reason))
		<-c.done
	}
	return c.report
}

func (c *Coordinator) run(ctx context.Context, reason string) (report *Report) {
	if ctx == nil {
		ctx = context.Background()
	}
	start := time.Now()
	budget := c.state.Budget()
	report = &Report{Reason: reason, StartedAt: start}

	// The entire sequence is wrapped: the worst-case outcome is a forced
	// report, never an unhandled panic during shutdown.
	defer func() {
		if rec := recover(); rec != nil {
			c.logger.Error("panic during shutdown sequence", slog.Any("panic", rec))
			report.Forced = true
			report.Elapsed = time.Since(start)
			c.phase.Store(int32(PhaseForceTerminated))
		}
	}()

	c.state.markTriggered(start)

	absCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()
	c.forceMu.Lock()
	c.forceCancel = cancel
	c.forceMu.Unlock()

	// Running -> Draining: stop admitting new work, let in-flight work run.
	c.phase.Store(int32(PhaseDraining))
	c.state.RequestListenerStop()
	c.tracker.StartDraining()
	if c.stopListener != nil {
		c.stopListener()
	}

	snapshot := c.tracker.Snapshot()
	c.logger.Info("draining in-flight work",
		slog.String("reason", reason),
		slog.Int("in_flight", len(snapshot)),
		slog.Duration("budget", budget),
	)

	drainDeadline := time.Duration(c.cfg.DrainFraction * float64(budget))
	drained, remaining := c.drain(absCtx, snapshot, drainDeadline)
	report.UnitsDrained = drained
	report.UnitsCancelled = len(remaining)

	if len(remaining) > 0 {
		// Bounded shutdown time beats completing slow requests: cancel every
		// straggler at once and allow a short grace period for acknowledgement.
		c.logger.Warn("drain budget exceeded, cancelling outstanding work",
			slog.Int("cancelled", len(remaining)),
			slog.Duration("grace_period", c.cfg.GracePeriod),
		)
		for _, u := range remaining {
			u.Cancel()
		}
		c.awaitGrace(absCtx, remaining)
	}

	// Draining -> TearingDown: release resources in registration order.
	c.phase.Store(int32(PhaseTearingDown))
	report.Actions = c.registry.RunAll(absCtx, c.logger)

	report.Forced = absCtx.Err() != nil
	report.Elapsed = time.Since(start)
	if report.Forced {
		c.phase.Store(int32(PhaseForceTerminated))
		c.logger.Warn("shutdown force-terminated", report.LogAttrs()...)
	} else {
		c.phase.Store(int32(PhaseTerminated))
		c.logger.Info("shutdown complete", report.LogAttrs()...)
	}
	return report
}

// drain waits for every unit in the snapshot to finish, bounded by the drain
// sub-budget and the absolute deadline. It returns the count of units that
// completed and the units still outstanding.
func (c *Coordinator) drain(ctx context.Context, units []*WorkUnit, deadline time.Duration) (int, []*WorkUnit) {
	if len(units) == 0 {
		return 0, nil
	}

	drainCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	// Units complete in any order; waiting on each in turn still ends when
	// the slowest finishes or the deadline passes.
	timedOut := false
	for _, u := range units {
		if timedOut {
			break
		}
		select {
		case <-u.Done():
		case <-drainCtx.Done():
			timedOut = true
		}
	}

	if !timedOut {
		return len(units), nil
	}

	drained := 0
	remaining := make([]*WorkUnit, 0)
	for _, u := range units {
		select {
		case <-u.Done():
			drained++
		default:
			remaining = append(remaining, u)
		}
	}
	return drained, remaining
}

// awaitGrace waits up to the grace period (never past the absolute deadline)
// for cancelled units to acknowledge, then returns regardless of outcome.
func (c *Coordinator) awaitGrace(ctx context.Context, units []*WorkUnit) {
	graceCtx, cancel := context.WithTimeout(ctx, c.cfg.GracePeriod)
	defer cancel()

	for _, u := range units {
		select {
		case <-u.Done():
		case <-graceCtx.Done():
			c.logger.Warn("some work units did not acknowledge cancellation",
				slog.Int("outstanding", c.tracker.Count()))
			return
		}
	}
}
