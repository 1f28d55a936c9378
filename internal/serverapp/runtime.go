package serverapp

import (
	"fmt"
	"log/slog"
)

// Start launches the HTTP server goroutine. It requires Init to have completed.
func (a *App) Start() (<-chan error, error) {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()

	if !a.initialized {
		return nil, fmt.Errorf("app is not initialized")
	}
	if a.started {
		return a.serverErrors, nil
	}

	a.serverErrors = startServer(a.cfg, a.logger, a.srv, a.serverAddr)
	a.started = true
	return a.serverErrors, nil
}

// WaitForStop blocks until shutdown is requested, from a signal, the admin
// endpoint, or a server failure. A server failure fires the trigger itself
// so every stop path converges on the same one-shot event. It returns the
// shutdown reason.
func (a *App) WaitForStop(serverErrors <-chan error) string {
	if serverErrors == nil {
		a.stateMu.Lock()
		serverErrors = a.serverErrors
		a.stateMu.Unlock()
	}

	if serverErrors == nil {
		<-a.trigger.Triggered()
		return a.trigger.Reason()
	}

	select {
	case err := <-serverErrors:
		if err == nil {
			err = fmt.Errorf("server stopped unexpectedly")
		}
		a.logger.Error("server error, shutting down", slog.String("error", err.Error()))
		a.trigger.Fire("server_error")
	case <-a.trigger.Triggered():
	}
	return a.trigger.Reason()
}
