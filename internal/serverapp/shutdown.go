package serverapp

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"apiframe/internal/logging"
	"apiframe/internal/observability"
	"apiframe/internal/shutdown"
	"apiframe/internal/storage"
	"apiframe/internal/tlscert"
)

// cleanupStack manages release functions in LIFO order. It only unwinds a
// failed Init; a running app releases resources through the teardown
// registry instead.
type cleanupStack struct {
	items []cleanupItem
}

type cleanupItem struct {
	name string
	fn   func(context.Context) error
}

func (s *cleanupStack) push(name string, fn func(context.Context) error) {
	s.items = append(s.items, cleanupItem{name: name, fn: fn})
}

func (s *cleanupStack) run(ctx context.Context, logger *logging.Logger) {
	for i := len(s.items) - 1; i >= 0; i-- {
		item := s.items[i]
		if logger != nil {
			logger.Info("releasing " + item.name)
		}
		if err := item.fn(ctx); err != nil {
			if logger != nil {
				logger.Warn("cleanup error",
					slog.String("component", item.name),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// stopListener flags the listener to stop admitting new connections and
// starts the server's own drain in the background. It returns promptly; the
// "http listener" teardown action awaits the result.
func (a *App) stopListener() {
	a.srv.SetKeepAlivesEnabled(false)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), a.state.Budget())
		defer cancel()
		a.listenerDone <- a.srv.Shutdown(ctx)
	}()
}

// registerTeardown populates the teardown registry. Actions run strictly in
// this order: the listener result is observed first, then storage and the
// telemetry providers, with the log exporter flushed last so it carries the
// records the earlier actions produced.
func (a *App) registerTeardown(store *storage.Store, tracerProvider *observability.TracerProvider, meterProvider *observability.MeterProvider, tlsManager tlscert.Manager, loggerProvider *observability.LoggerProvider) error {
	if err := a.registry.Register("http listener", func(ctx context.Context) error {
		select {
		case err := <-a.listenerDone:
			return err
		case <-ctx.Done():
			return fmt.Errorf("listener did not stop in time: %w", ctx.Err())
		}
	}); err != nil {
		return err
	}

	if store != nil {
		if err := a.registry.Register("storage", func(_ context.Context) error {
			return store.Close()
		}); err != nil {
			return err
		}
	}

	if tracerProvider != nil {
		if err := a.registry.Register("tracer provider", func(ctx context.Context) error {
			return tracerProvider.Shutdown(ctx, a.logger.Logger)
		}); err != nil {
			return err
		}
	}

	if meterProvider != nil {
		if err := a.registry.Register("meter provider", func(ctx context.Context) error {
			return meterProvider.Shutdown(ctx, a.logger.Logger)
		}); err != nil {
			return err
		}
	}

	if tlsManager != nil {
		if err := a.registry.Register("tls manager", func(_ context.Context) error {
			return tlsManager.Shutdown()
		}); err != nil {
			return err
		}
	}

	if loggerProvider != nil {
		if err := a.registry.Register("error reporter", func(ctx context.Context) error {
			return loggerProvider.Shutdown(ctx, a.logger.Logger)
		}); err != nil {
			return err
		}
	}

	return nil
}

// Shutdown runs the graceful-shutdown sequence: drain in-flight requests
// within the drain sub-budget, cancel stragglers, then run teardown actions.
// It is safe to call multiple times; every caller gets the same report.
func (a *App) Shutdown(ctx context.Context, reason string) *shutdown.Report {
	a.stateMu.Lock()
	coordinator := a.coordinator
	a.stateMu.Unlock()

	if coordinator == nil {
		// Init never completed; unwind whatever was acquired.
		a.cleanup.run(ctx, a.logger)
		return &shutdown.Report{Reason: reason, StartedAt: time.Now()}
	}

	report := coordinator.Initiate(ctx, reason)
	if a.shutdownMetrics != nil {
		failures := 0
		for _, action := range report.Actions {
			if !action.OK() {
				failures++
			}
		}
		a.shutdownMetrics.RecordShutdown(context.Background(), report.Reason, report.Elapsed, report.UnitsCancelled, failures, report.Forced)
	}
	return report
}

// ForceShutdown escalates an in-progress shutdown to immediate forced
// termination. Wired to the second-signal "force" policy.
func (a *App) ForceShutdown() {
	a.stateMu.Lock()
	coordinator := a.coordinator
	a.stateMu.Unlock()
	if coordinator != nil {
		coordinator.ForceNow()
	}
}
