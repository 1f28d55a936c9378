package shutdown

import (
	"context"
	"errors"
	"testing"
	"time"

	"apiframe/internal/logging"
)

func testLogger() *logging.Logger {
	return logging.NewLogger(logging.Config{Level: "error", Format: "text"})
}

func TestRegistry_FailureDoesNotBlockLaterActions(t *testing.T) {
	registry := NewRegistry(0)

	var order []string
	mustRegister(t, registry, "a", func(context.Context) error {
		order = append(order, "a")
		return nil
	})
	mustRegister(t, registry, "b", func(context.Context) error {
		order = append(order, "b")
		return errors.New("broken flush")
	})
	mustRegister(t, registry, "c", func(context.Context) error {
		order = append(order, "c")
		return nil
	})

	results := registry.RunAll(context.Background(), testLogger())

	if len(order) != 3 || order[0] != "a" || order[1] != "b" || order[2] != "c" {
		t.Fatalf("actions must run in registration order, got %v", order)
	}
	if !results[0].OK() || !results[2].OK() {
		t.Fatalf("a and c should succeed: %+v", results)
	}
	if results[1].OK() || results[1].Err == nil {
		t.Fatalf("b should be marked failed: %+v", results[1])
	}
}

func TestRegistry_PanicIsIsolated(t *testing.T) {
	registry := NewRegistry(0)

	mustRegister(t, registry, "panics", func(context.Context) error {
		panic("teardown gone wrong")
	})
	ran := false
	mustRegister(t, registry, "after", func(context.Context) error {
		ran = true
		return nil
	})

	results := registry.RunAll(context.Background(), testLogger())

	if results[0].Err == nil {
		t.Fatal("panicking action should be reported as failed")
	}
	if !ran || !results[1].OK() {
		t.Fatal("action after a panic must still run")
	}
}

func TestRegistry_RegisterAfterRunRejected(t *testing.T) {
	registry := NewRegistry(0)
	mustRegister(t, registry, "only", func(context.Context) error { return nil })

	registry.RunAll(context.Background(), testLogger())

	err := registry.Register("late", func(context.Context) error { return nil })
	if !errors.Is(err, ErrRegistrySealed) {
		t.Fatalf("expected ErrRegistrySealed, got %v", err)
	}
	if registry.Len() != 1 {
		t.Fatalf("late registration must not be appended: len %d", registry.Len())
	}
}

func TestRegistry_HungActionAbandonedAtDeadline(t *testing.T) {
	registry := NewRegistry(0)

	mustRegister(t, registry, "hangs", func(ctx context.Context) error {
		<-make(chan struct{}) // never returns
		return nil
	})
	ran := false
	mustRegister(t, registry, "after", func(context.Context) error {
		ran = true
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	results := registry.RunAll(ctx, testLogger())
	elapsed := time.Since(start)

	if elapsed > 500*time.Millisecond {
		t.Fatalf("hung action blocked past the deadline: %v", elapsed)
	}
	if results[0].Err == nil {
		t.Fatal("hung action should be reported as abandoned")
	}
	if ran {
		t.Fatal("budget was exhausted, later actions should be skipped")
	}
	if !results[1].Skipped {
		t.Fatalf("later action should be marked skipped: %+v", results[1])
	}
}

func TestRegistry_PerActionTimeout(t *testing.T) {
	registry := NewRegistry(50 * time.Millisecond)

	mustRegister(t, registry, "slow", func(ctx context.Context) error {
		select {
		case <-time.After(2 * time.Second):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	mustRegister(t, registry, "fast", func(context.Context) error { return nil })

	results := registry.RunAll(context.Background(), testLogger())

	if results[0].Err == nil {
		t.Fatal("slow action should fail its timeout slice")
	}
	if !results[1].OK() {
		t.Fatal("fast action should still run after a per-action timeout")
	}
}

func mustRegister(t *testing.T, r *Registry, name string, fn TeardownFunc) {
	t.Helper()
	if err := r.Register(name, fn); err != nil {
		t.Fatalf("register %q failed: %v", name, err)
	}
}
