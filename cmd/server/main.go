package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"syscall"

	"apiframe/internal/config"
	"apiframe/internal/serverapp"
	"apiframe/internal/shutdown"

	"github.com/spf13/pflag"
)

var (
	// Version is set at build time via -ldflags "-X main.Version=...".
	Version = "dev"
	Commit  = "none"
)

func main() {
	code, err := run()
	if err != nil {
		slog.Error("server error", slog.String("error", err.Error()))
		if code == 0 {
			code = 1
		}
	}
	os.Exit(code)
}

// run returns the process exit code: 0 for a clean stop, non-zero when
// shutdown was force-terminated or startup failed.
func run() (int, error) {
	pflag.Bool("version", false, "Print version and exit")

	cfg, err := config.Load()
	if err != nil {
		return 1, fmt.Errorf("failed to load configuration: %w", err)
	}

	if showVersion, _ := pflag.CommandLine.GetBool("version"); showVersion {
		fmt.Printf("apiframe %s (%s)\n", Version, Commit)
		return 0, nil
	}

	if cfg.Observability.ServiceVersion == "" {
		cfg.Observability.ServiceVersion = Version
	}

	validationResult := cfg.Validate()
	for _, warn := range validationResult.Warnings {
		slog.Warn("configuration warning",
			slog.String("field", warn.Field),
			slog.String("message", warn.Message),
			slog.String("hint", warn.Hint),
		)
	}
	if validationResult.HasErrors() {
		for _, err := range validationResult.Errors {
			slog.Error("configuration error",
				slog.String("field", err.Field),
				slog.String("message", err.Message),
				slog.String("hint", err.Hint),
			)
		}
		return 1, fmt.Errorf("configuration validation failed")
	}

	logger, loggerProvider, err := serverapp.InitLogger(cfg)
	if err != nil {
		return 1, fmt.Errorf("failed to initialize logging: %w", err)
	}

	app, err := serverapp.New(cfg, logger)
	if err != nil {
		if loggerProvider != nil {
			_ = loggerProvider.Shutdown(context.Background(), logger.Logger)
		}
		return 1, err
	}
	app.AttachLoggerProvider(loggerProvider)

	if err := app.Init(context.Background()); err != nil {
		return 1, err
	}

	serverErrors, err := app.Start()
	if err != nil {
		app.Shutdown(context.Background(), "startup_failure")
		return 1, err
	}

	stopWatching := app.Trigger().WatchSignals(
		logger,
		shutdown.SecondSignalPolicy(cfg.Shutdown.SecondSignal),
		app.ForceShutdown,
		os.Interrupt, syscall.SIGTERM,
	)
	defer stopWatching()

	reason := app.WaitForStop(serverErrors)

	logger.Info("shutting down server", slog.String("reason", reason))
	report := app.Shutdown(context.Background(), reason)

	if err := report.Err(); err != nil {
		return 1, err
	}

	logger.Info("server stopped gracefully")
	return 0, nil
}
