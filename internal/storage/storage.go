// Package storage manages the database connection used by the service,
// including startup retries and OpenTelemetry instrumentation.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"apiframe/internal/config"
	"apiframe/internal/logging"

	"github.com/XSAM/otelsql"
	mysql "github.com/go-sql-driver/mysql"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Store wraps the SQL connection pool and its metrics registration.
type Store struct {
	db         *sql.DB
	dbStatsReg interface{ Unregister() error }
	logger     *logging.Logger
}

// DB returns the underlying connection pool.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Open connects to the database described by cfg, optionally wrapping the
// driver with OpenTelemetry instrumentation, and waits until the database
// accepts connections (bounded by the configured connection timeout).
func Open(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*Store, error) {
	dsn, err := buildDSN(cfg.Database)
	if err != nil {
		return nil, err
	}

	var db *sql.DB
	var dbStatsReg interface{ Unregister() error }

	if cfg.Observability.MetricsEnabled || cfg.Observability.TracingEnabled {
		opts := []otelsql.Option{
			otelsql.WithAttributes(semconv.DBSystemMySQL),
		}
		if cfg.Observability.TracingEnabled {
			opts = append(opts, otelsql.WithSpanOptions(otelsql.SpanOptions{
				DisableErrSkip: true,
			}))
		}

		db, err = otelsql.Open("mysql", dsn, opts...)
		if err != nil {
			return nil, err
		}

		if cfg.Observability.MetricsEnabled {
			dbStatsReg, err = otelsql.RegisterDBStatsMetrics(db, otelsql.WithAttributes(semconv.DBSystemMySQL))
			if err != nil {
				logger.Warn("failed to register DB stats metrics", slog.String("error", err.Error()))
			}
		}

		logger.Info("database instrumentation enabled",
			slog.Bool("metrics", cfg.Observability.MetricsEnabled),
			slog.Bool("tracing", cfg.Observability.TracingEnabled),
		)
	} else {
		db, err = sql.Open("mysql", dsn)
		if err != nil {
			return nil, err
		}
	}

	store := &Store{db: db, dbStatsReg: dbStatsReg, logger: logger}

	if err := store.configure(ctx, cfg.Database); err != nil {
		store.closeQuietly()
		return nil, err
	}

	return store, nil
}

func (s *Store) configure(ctx context.Context, cfg config.DatabaseConfig) error {
	s.db.SetMaxOpenConns(cfg.Pool.MaxOpen)
	s.db.SetMaxIdleConns(cfg.Pool.MaxIdle)
	s.db.SetConnMaxLifetime(cfg.Pool.MaxLifetime)

	if err := s.waitForDatabase(ctx, cfg); err != nil {
		return err
	}

	s.logger.Info("connected to database",
		slog.String("database", cfg.Database),
		slog.Bool("dsn_present", cfg.DSN != ""),
		slog.Int("pool_max_open", cfg.Pool.MaxOpen),
		slog.Int("pool_max_idle", cfg.Pool.MaxIdle),
		slog.Duration("pool_max_lifetime", cfg.Pool.MaxLifetime),
	)
	return nil
}

func (s *Store) waitForDatabase(ctx context.Context, cfg config.DatabaseConfig) error {
	timeout := cfg.ConnectionTimeout
	interval := cfg.ConnectionRetryInterval
	if interval <= 0 {
		interval = time.Second
	}

	// If timeout is 0, try once and fail immediately.
	if timeout == 0 {
		return s.db.PingContext(ctx)
	}

	deadline := time.Now().Add(timeout)
	attempt := 0

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		attempt++
		err := s.db.PingContext(ctx)

		if err == nil {
			if attempt > 1 {
				s.logger.Info("database connection established", slog.Int("attempts", attempt))
			}
			return nil
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("database not available after %v: %w", timeout, err)
		}

		s.logger.Warn("database not ready, retrying...",
			slog.Int("attempt", attempt),
			slog.Duration("retry_in", interval),
			slog.String("error", err.Error()),
		)
		time.Sleep(interval)

		// Exponential backoff, capped at 30s
		interval = min(interval*2, 30*time.Second)
	}
}

// Ping checks database connectivity with the caller's deadline.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close unregisters metrics and closes the connection pool.
func (s *Store) Close() error {
	if s.dbStatsReg != nil {
		if err := s.dbStatsReg.Unregister(); err != nil {
			s.logger.Warn("failed to unregister DB stats metrics", slog.String("error", err.Error()))
		}
		s.dbStatsReg = nil
	}
	return s.db.Close()
}

func (s *Store) closeQuietly() {
	if err := s.Close(); err != nil {
		s.logger.Warn("failed to close database", slog.String("error", err.Error()))
	}
}

// buildDSN assembles the MySQL DSN from the discrete connection fields, or
// returns cfg.DSN verbatim when set.
func buildDSN(cfg config.DatabaseConfig) (string, error) {
	if cfg.DSN != "" {
		if _, err := mysql.ParseDSN(cfg.DSN); err != nil {
			return "", fmt.Errorf("invalid database DSN: %w", err)
		}
		return cfg.DSN, nil
	}

	mc := mysql.NewConfig()
	mc.Net = "tcp"
	mc.Addr = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	mc.User = cfg.User
	mc.Passwd = cfg.Password
	mc.DBName = cfg.Database
	mc.ParseTime = true

	return mc.FormatDSN(), nil
}
