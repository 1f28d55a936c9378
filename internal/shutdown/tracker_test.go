package shutdown

import (
	"context"
	"sync"
	"testing"
)

func TestWorkTracker_CountMatchesRegistrations(t *testing.T) {
	tracker := NewWorkTracker()

	units := make([]*WorkUnit, 0, 10)
	for i := 0; i < 10; i++ {
		unit, _, err := tracker.Begin(context.Background())
		if err != nil {
			t.Fatalf("begin failed: %v", err)
		}
		units = append(units, unit)
	}
	if got := tracker.Count(); got != 10 {
		t.Fatalf("expected count 10, got %d", got)
	}

	for _, u := range units[:4] {
		u.Finish()
	}
	if got := tracker.Count(); got != 6 {
		t.Fatalf("expected count 6 after 4 finishes, got %d", got)
	}
}

func TestWorkTracker_DoubleFinishIsNoOp(t *testing.T) {
	tracker := NewWorkTracker()

	unit, _, err := tracker.Begin(context.Background())
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}
	other, _, err := tracker.Begin(context.Background())
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}

	unit.Finish()
	unit.Finish()
	unit.Finish()

	if got := tracker.Count(); got != 1 {
		t.Fatalf("double finish must not decrement below remaining units: got %d, want 1", got)
	}
	other.Finish()
	if got := tracker.Count(); got != 0 {
		t.Fatalf("expected empty tracker, got %d", got)
	}
}

func TestWorkTracker_ConcurrentRegisterDeregister(t *testing.T) {
	tracker := NewWorkTracker()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unit, _, err := tracker.Begin(context.Background())
			if err != nil {
				t.Errorf("begin failed: %v", err)
				return
			}
			unit.Finish()
		}()
	}
	wg.Wait()

	if got := tracker.Count(); got != 0 {
		t.Fatalf("expected count 0 after all units finished, got %d", got)
	}
}

func TestWorkTracker_BeginRejectedWhileDraining(t *testing.T) {
	tracker := NewWorkTracker()
	tracker.StartDraining()

	if _, _, err := tracker.Begin(context.Background()); err != ErrDraining {
		t.Fatalf("expected ErrDraining, got %v", err)
	}
	if !tracker.Draining() {
		t.Fatal("tracker should report draining")
	}
}

func TestWorkTracker_SnapshotIsPointInTime(t *testing.T) {
	tracker := NewWorkTracker()

	first, _, _ := tracker.Begin(context.Background())
	snapshot := tracker.Snapshot()

	second, _, _ := tracker.Begin(context.Background())
	if len(snapshot) != 1 {
		t.Fatalf("snapshot mutated retroactively: len %d, want 1", len(snapshot))
	}
	if snapshot[0] != first {
		t.Fatal("snapshot does not contain the registered unit")
	}

	first.Finish()
	second.Finish()
}

func TestWorkTracker_CancelPropagatesToUnitContext(t *testing.T) {
	tracker := NewWorkTracker()

	unit, unitCtx, err := tracker.Begin(context.Background())
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}

	unit.Cancel()
	select {
	case <-unitCtx.Done():
	default:
		t.Fatal("unit context should be cancelled after Cancel")
	}

	// Cancel does not deregister; only Finish does.
	if got := tracker.Count(); got != 1 {
		t.Fatalf("cancel must not deregister: count %d, want 1", got)
	}
	unit.Finish()
}

func TestWorkTracker_ObserverSeesEveryChange(t *testing.T) {
	tracker := NewWorkTracker()

	var mu sync.Mutex
	var counts []int
	tracker.SetObserver(func(count int) {
		mu.Lock()
		counts = append(counts, count)
		mu.Unlock()
	})

	a, _, _ := tracker.Begin(context.Background())
	b, _, _ := tracker.Begin(context.Background())
	a.Finish()
	b.Finish()

	mu.Lock()
	defer mu.Unlock()
	want := []int{1, 2, 1, 0}
	if len(counts) != len(want) {
		t.Fatalf("observer calls: got %v, want %v", counts, want)
	}
	for i := range want {
		if counts[i] != want[i] {
			t.Fatalf("observer calls: got %v, want %v", counts, want)
		}
	}
}
