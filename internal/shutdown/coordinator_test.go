package shutdown

import (
	"context"
	"sync"
	"testing"
	"time"
)

// spawnUnit registers a unit that finishes after d, or sooner if its context
// is cancelled and it honors cancellation.
func spawnUnit(t *testing.T, tracker *WorkTracker, d time.Duration, honorCancel bool) {
	t.Helper()
	unit, unitCtx, err := tracker.Begin(context.Background())
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}
	go func() {
		timer := time.NewTimer(d)
		defer timer.Stop()
		if honorCancel {
			select {
			case <-timer.C:
			case <-unitCtx.Done():
			}
		} else {
			<-timer.C
		}
		unit.Finish()
	}()
}

func newTestCoordinator(budget time.Duration, grace time.Duration) (*Coordinator, *WorkTracker, *Registry, *State) {
	state := NewState(budget)
	tracker := NewWorkTracker()
	registry := NewRegistry(0)
	coord := NewCoordinator(
		Config{DrainFraction: 0.7, GracePeriod: grace},
		state, tracker, registry, testLogger(), nil,
	)
	return coord, tracker, registry, state
}

func TestCoordinator_CleanShutdown(t *testing.T) {
	coord, tracker, registry, state := newTestCoordinator(2*time.Second, 100*time.Millisecond)

	spawnUnit(t, tracker, 50*time.Millisecond, true)
	spawnUnit(t, tracker, 100*time.Millisecond, true)

	var order []string
	var mu sync.Mutex
	for _, name := range []string{"storage", "telemetry"} {
		name := name
		mustRegister(t, registry, name, func(context.Context) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		})
	}

	report := coord.Initiate(context.Background(), "test")

	if report.Forced {
		t.Fatalf("clean shutdown marked forced: %+v", report)
	}
	if !report.Clean() {
		t.Fatalf("expected clean report: %+v", report)
	}
	if report.UnitsDrained != 2 || report.UnitsCancelled != 0 {
		t.Fatalf("expected 2 drained / 0 cancelled, got %d/%d", report.UnitsDrained, report.UnitsCancelled)
	}
	if len(order) != 2 || order[0] != "storage" || order[1] != "telemetry" {
		t.Fatalf("teardown order wrong: %v", order)
	}
	if coord.Phase() != PhaseTerminated {
		t.Fatalf("expected PhaseTerminated, got %s", coord.Phase())
	}
	if !state.Triggered() || !state.ListenerStopRequested() {
		t.Fatal("state transitions not recorded")
	}
	if report.Err() != nil {
		t.Fatalf("clean shutdown should map to a zero exit: %v", report.Err())
	}
}

func TestCoordinator_SlowUnitCancelledAtDrainBound(t *testing.T) {
	// Budget 1s: drain must end by ~700ms regardless of the 10s unit.
	coord, tracker, registry, _ := newTestCoordinator(time.Second, 100*time.Millisecond)

	spawnUnit(t, tracker, 50*time.Millisecond, true)
	spawnUnit(t, tracker, 150*time.Millisecond, true)
	spawnUnit(t, tracker, 10*time.Second, true) // cancelled, acknowledges

	mustRegister(t, registry, "storage", func(context.Context) error { return nil })
	mustRegister(t, registry, "telemetry", func(context.Context) error { return nil })

	start := time.Now()
	report := coord.Initiate(context.Background(), "test")
	elapsed := time.Since(start)

	if report.UnitsDrained != 2 {
		t.Fatalf("expected 2 units drained normally, got %d", report.UnitsDrained)
	}
	if report.UnitsCancelled != 1 {
		t.Fatalf("expected 1 unit cancelled, got %d", report.UnitsCancelled)
	}
	if report.Forced {
		t.Fatalf("cancelling a straggler must not force the shutdown: %+v", report)
	}
	for _, a := range report.Actions {
		if !a.OK() {
			t.Fatalf("teardown action %q should succeed: %v", a.Name, a.Err)
		}
	}
	if elapsed > time.Second {
		t.Fatalf("shutdown exceeded budget: %v", elapsed)
	}
}

func TestCoordinator_HungTeardownForcesTermination(t *testing.T) {
	coord, tracker, registry, _ := newTestCoordinator(500*time.Millisecond, 50*time.Millisecond)

	spawnUnit(t, tracker, 10*time.Millisecond, true)

	mustRegister(t, registry, "storage", func(context.Context) error {
		<-make(chan struct{}) // hangs forever
		return nil
	})
	mustRegister(t, registry, "telemetry", func(context.Context) error { return nil })

	start := time.Now()
	report := coord.Initiate(context.Background(), "test")
	elapsed := time.Since(start)

	if !report.Forced {
		t.Fatalf("hung teardown must force termination: %+v", report)
	}
	if elapsed > 2*time.Second {
		t.Fatalf("forced termination took too long: %v", elapsed)
	}
	if report.Actions[0].Err == nil {
		t.Fatal("hung storage action should be reported failed")
	}
	if !report.Actions[1].Skipped {
		t.Fatal("remaining action should be skipped after budget exhaustion")
	}
	if coord.Phase() != PhaseForceTerminated {
		t.Fatalf("expected PhaseForceTerminated, got %s", coord.Phase())
	}
	if report.Err() == nil {
		t.Fatal("forced shutdown should map to a non-zero exit")
	}
}

func TestCoordinator_UnresponsiveUnitDoesNotExceedBudget(t *testing.T) {
	coord, tracker, registry, _ := newTestCoordinator(800*time.Millisecond, 50*time.Millisecond)

	spawnUnit(t, tracker, 10*time.Second, false) // ignores cancellation

	mustRegister(t, registry, "storage", func(context.Context) error { return nil })

	start := time.Now()
	report := coord.Initiate(context.Background(), "test")
	elapsed := time.Since(start)

	if elapsed > 900*time.Millisecond {
		t.Fatalf("unresponsive unit stretched shutdown past budget: %v", elapsed)
	}
	if report.UnitsCancelled != 1 {
		t.Fatalf("expected 1 cancelled unit, got %d", report.UnitsCancelled)
	}
	// Teardown still had headroom, so the sequence is degraded but not forced.
	if report.Forced {
		t.Fatalf("teardown completed in budget, should not be forced: %+v", report)
	}
}

func TestCoordinator_InitiateIsIdempotent(t *testing.T) {
	coord, _, registry, _ := newTestCoordinator(time.Second, 50*time.Millisecond)

	var runs int
	var mu sync.Mutex
	mustRegister(t, registry, "once", func(context.Context) error {
		mu.Lock()
		runs++
		mu.Unlock()
		return nil
	})

	var wg sync.WaitGroup
	reports := make([]*Report, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			reports[i] = coord.Initiate(context.Background(), "concurrent")
		}(i)
	}
	wg.Wait()

	if runs != 1 {
		t.Fatalf("teardown ran %d times, want 1", runs)
	}
	if reports[0] != reports[1] || reports[1] != reports[2] {
		t.Fatal("concurrent initiates should return the same report")
	}
}

func TestCoordinator_ForceNowShortCircuits(t *testing.T) {
	coord, tracker, registry, _ := newTestCoordinator(10*time.Second, 50*time.Millisecond)

	spawnUnit(t, tracker, 30*time.Second, true)
	mustRegister(t, registry, "storage", func(context.Context) error { return nil })

	go func() {
		time.Sleep(100 * time.Millisecond)
		coord.ForceNow()
	}()

	start := time.Now()
	report := coord.Initiate(context.Background(), "escalated")
	elapsed := time.Since(start)

	if !report.Forced {
		t.Fatalf("escalation must produce a forced report: %+v", report)
	}
	if elapsed > 2*time.Second {
		t.Fatalf("escalation did not short-circuit: %v", elapsed)
	}
}

func TestCoordinator_RunWakesOnTrigger(t *testing.T) {
	coord, _, registry, _ := newTestCoordinator(time.Second, 50*time.Millisecond)
	mustRegister(t, registry, "noop", func(context.Context) error { return nil })

	trigger := NewTrigger()
	reportCh := make(chan *Report, 1)
	go func() {
		reportCh <- coord.Run(context.Background(), trigger)
	}()

	trigger.Fire("signal:terminated")

	select {
	case report := <-reportCh:
		if report.Reason != "signal:terminated" {
			t.Fatalf("report reason %q, want trigger reason", report.Reason)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("coordinator did not wake on trigger")
	}

	select {
	case <-coord.Done():
	default:
		t.Fatal("Done should be closed after the sequence completes")
	}
}

func TestCoordinator_StopListenerCallbackInvoked(t *testing.T) {
	state := NewState(time.Second)
	tracker := NewWorkTracker()
	registry := NewRegistry(0)

	stopped := false
	coord := NewCoordinator(Config{}, state, tracker, registry, testLogger(), func() {
		stopped = true
	})

	coord.Initiate(context.Background(), "test")

	if !stopped {
		t.Fatal("stop-accepting callback was not invoked")
	}
	if !tracker.Draining() {
		t.Fatal("tracker should be draining after initiate")
	}
}

func TestCoordinator_PanicInSequenceYieldsForcedReport(t *testing.T) {
	state := NewState(time.Second)
	tracker := NewWorkTracker()
	registry := NewRegistry(0)
	coord := NewCoordinator(Config{}, state, tracker, registry, testLogger(), func() {
		panic("listener callback exploded")
	})

	report := coord.Initiate(context.Background(), "test")

	if report == nil {
		t.Fatal("a report must be returned even when the sequence panics")
	}
	if !report.Forced {
		t.Fatalf("panic should yield a forced report: %+v", report)
	}
	if report.Err() == nil {
		t.Fatal("forced report should carry an error")
	}
}
