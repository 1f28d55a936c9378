// Package serverapp owns the server lifecycle: resource initialization, the
// HTTP listener, and the graceful-shutdown sequence that drains in-flight
// requests and releases resources within a bounded budget.
package serverapp

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"apiframe/internal/config"
	"apiframe/internal/logging"
	"apiframe/internal/observability"
	"apiframe/internal/shutdown"
	"apiframe/internal/storage"
	"apiframe/internal/tlscert"
)

// App owns runtime resources for the server lifecycle.
type App struct {
	cfg    *config.Config
	logger *logging.Logger

	loggerProvider *observability.LoggerProvider
	meterProvider  *observability.MeterProvider
	tracerProvider *observability.TracerProvider

	httpMetrics     *observability.HTTPMetrics
	shutdownMetrics *observability.ShutdownMetrics

	store *storage.Store

	state       *shutdown.State
	tracker     *shutdown.WorkTracker
	trigger     *shutdown.Trigger
	registry    *shutdown.Registry
	coordinator *shutdown.Coordinator

	startedAt time.Time

	mux     *http.ServeMux
	handler http.Handler

	serverAddr   string
	srv          *http.Server
	tlsManager   tlscert.Manager
	listenerDone chan error

	cleanup cleanupStack

	stateMu      sync.Mutex
	initialized  bool
	started      bool
	serverErrors chan error
}

// New creates an App lifecycle wrapper. The shutdown trigger and work
// tracker exist from construction so the signal watcher and middleware can
// be wired before Init completes.
func New(cfg *config.Config, logger *logging.Logger) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	return &App{
		cfg:          cfg,
		logger:       logger,
		state:        shutdown.NewState(cfg.Shutdown.Timeout),
		tracker:      shutdown.NewWorkTracker(),
		trigger:      shutdown.NewTrigger(),
		registry:     shutdown.NewRegistry(cfg.Shutdown.ActionTimeout),
		listenerDone: make(chan error, 1),
	}, nil
}

// AttachLoggerProvider registers an optional logger provider whose flush
// becomes the final teardown action.
func (a *App) AttachLoggerProvider(provider *observability.LoggerProvider) {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	a.loggerProvider = provider
}

// Trigger exposes the one-shot shutdown trigger for signal watchers and
// admin endpoints.
func (a *App) Trigger() *shutdown.Trigger {
	return a.trigger
}

// Tracker exposes the work tracker, mostly for tests.
func (a *App) Tracker() *shutdown.WorkTracker {
	return a.tracker
}
