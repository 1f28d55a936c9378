package serverapp

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"apiframe/internal/shutdown"
)

// Init initializes all runtime resources. It is idempotent.
func (a *App) Init(ctx context.Context) error {
	a.stateMu.Lock()
	if a.initialized {
		a.stateMu.Unlock()
		return nil
	}
	a.stateMu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}

	// cleanup unwinds partially-acquired resources when Init fails. After a
	// successful Init, release is owned by the teardown registry instead.
	cleanup := cleanupStack{}
	success := false
	defer func() {
		if !success {
			cleanup.run(context.Background(), a.logger)
		}
	}()

	meterProvider, httpMetrics, shutdownMetrics, err := initMetrics(a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry metrics: %w", err)
	}
	if meterProvider != nil {
		cleanup.push("meter provider", func(shutdownCtx context.Context) error {
			return meterProvider.Shutdown(shutdownCtx, a.logger.Logger)
		})
	}

	tracerProvider, err := initTracing(a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry tracing: %w", err)
	}
	if tracerProvider != nil {
		cleanup.push("tracer provider", func(shutdownCtx context.Context) error {
			return tracerProvider.Shutdown(shutdownCtx, a.logger.Logger)
		})
	}

	if shutdownMetrics != nil {
		a.tracker.SetObserver(shutdownMetrics.RecordInflight)
	}

	a.logger.Info("connecting to database",
		slog.String("host", a.cfg.Database.Host),
		slog.Int("port", a.cfg.Database.Port),
		slog.String("database", a.cfg.Database.Database),
	)

	store, err := initStorage(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	if store != nil {
		cleanup.push("storage", func(_ context.Context) error {
			return store.Close()
		})
	}

	mux := buildRouter(a, store, meterProvider)
	handler := wrapHTTPHandler(a.cfg, a.logger, httpMetrics, mux)

	serverAddr := fmt.Sprintf(":%d", a.cfg.Server.Port)
	srv, tlsManager, err := buildServer(a.cfg, a.logger, handler, serverAddr)
	if err != nil {
		return fmt.Errorf("failed to initialize server: %w", err)
	}
	if tlsManager != nil {
		cleanup.push("TLS manager", func(_ context.Context) error {
			return tlsManager.Shutdown()
		})
	}

	coordinator := shutdown.NewCoordinator(
		shutdown.Config{
			DrainFraction: a.cfg.Shutdown.DrainFraction,
			GracePeriod:   a.cfg.Shutdown.GracePeriod,
		},
		a.state, a.tracker, a.registry, a.logger,
		a.stopListener,
	)

	a.stateMu.Lock()
	a.meterProvider = meterProvider
	a.tracerProvider = tracerProvider
	a.httpMetrics = httpMetrics
	a.shutdownMetrics = shutdownMetrics
	a.store = store
	a.mux = mux
	a.handler = handler
	a.serverAddr = serverAddr
	a.srv = srv
	a.tlsManager = tlsManager
	a.cleanup = cleanup
	a.coordinator = coordinator
	a.startedAt = time.Now()
	a.initialized = true
	loggerProvider := a.loggerProvider
	a.stateMu.Unlock()

	if err := a.registerTeardown(store, tracerProvider, meterProvider, tlsManager, loggerProvider); err != nil {
		return fmt.Errorf("failed to register teardown actions: %w", err)
	}

	success = true
	return nil
}
