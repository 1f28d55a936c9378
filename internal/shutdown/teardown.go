package shutdown

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"apiframe/internal/logging"
)

// ErrRegistrySealed is returned when an action is registered after teardown
// has already started.
var ErrRegistrySealed = errors.New("teardown already started: registration rejected")

// TeardownFunc is one idempotent cleanup step. It must honor the context
// deadline; panics are recovered and reported as failures.
type TeardownFunc func(ctx context.Context) error

// ActionResult records the outcome of a single teardown action.
type ActionResult struct {
	Name     string
	Err      error
	Duration time.Duration
	Skipped  bool
}

// OK reports whether the action ran and succeeded.
func (r ActionResult) OK() bool {
	return !r.Skipped && r.Err == nil
}

type teardownAction struct {
	name string
	run  TeardownFunc
}

// Registry is an ordered collection of named teardown actions, populated at
// startup and executed once by the Coordinator. The list is append-only and
// effectively immutable once RunAll has started.
type Registry struct {
	mu      sync.Mutex
	sealed  bool
	actions []teardownAction

	// actionTimeout bounds each action individually; zero means the action
	// inherits whatever remains of the coordinator's budget.
	actionTimeout time.Duration
}

// NewRegistry creates an empty registry. actionTimeout of zero disables
// per-action slicing.
func NewRegistry(actionTimeout time.Duration) *Registry {
	return &Registry{actionTimeout: actionTimeout}
}

// Register appends a named action. Registration after teardown has started
// is rejected with ErrRegistrySealed; callers log and move on.
func (r *Registry) Register(name string, run TeardownFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return fmt.Errorf("teardown action %q: %w", name, ErrRegistrySealed)
	}
	r.actions = append(r.actions, teardownAction{name: name, run: run})
	return nil
}

// Len returns the number of registered actions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.actions)
}

// RunAll seals the registry and executes every action strictly in
// registration order. Each action is isolated: a failure or panic is logged
// with the action's name and never blocks subsequent actions. Actions whose
// turn comes after ctx expires are marked skipped rather than run.
func (r *Registry) RunAll(ctx context.Context, logger *logging.Logger) []ActionResult {
	if ctx == nil {
		ctx = context.Background()
	}

	r.mu.Lock()
	r.sealed = true
	actions := make([]teardownAction, len(r.actions))
	copy(actions, r.actions)
	r.mu.Unlock()

	results := make([]ActionResult, 0, len(actions))
	for _, action := range actions {
		if ctx.Err() != nil {
			logger.Warn("skipping teardown action, shutdown budget exhausted",
				slog.String("action", action.name))
			results = append(results, ActionResult{Name: action.name, Err: ctx.Err(), Skipped: true})
			continue
		}

		logger.Info("running teardown action", slog.String("action", action.name))
		result := r.runOne(ctx, action)
		if result.Err != nil {
			logger.Warn("teardown action failed",
				slog.String("action", action.name),
				slog.Duration("duration", result.Duration),
				slog.String("error", result.Err.Error()),
			)
		} else {
			logger.Debug("teardown action completed",
				slog.String("action", action.name),
				slog.Duration("duration", result.Duration),
			)
		}
		results = append(results, result)
	}
	return results
}

// runOne executes a single action in its own goroutine so a hung action
// cannot stall the sequence past the deadline. An abandoned goroutine is
// acceptable here: the process is exiting.
func (r *Registry) runOne(ctx context.Context, action teardownAction) ActionResult {
	actionCtx := ctx
	var cancel context.CancelFunc
	if r.actionTimeout > 0 {
		actionCtx, cancel = context.WithTimeout(ctx, r.actionTimeout)
		defer cancel()
	}

	start := time.Now()
	errCh := make(chan error, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				errCh <- fmt.Errorf("panic: %v", rec)
			}
		}()
		errCh <- action.run(actionCtx)
	}()

	select {
	case err := <-errCh:
		return ActionResult{Name: action.name, Err: err, Duration: time.Since(start)}
	case <-actionCtx.Done():
		return ActionResult{
			Name:     action.name,
			Err:      fmt.Errorf("abandoned: %w", actionCtx.Err()),
			Duration: time.Since(start),
		}
	}
}
