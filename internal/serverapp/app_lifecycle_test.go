package serverapp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"apiframe/internal/config"
	"apiframe/internal/logging"
	"apiframe/internal/shutdown"
)

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Port:               0,
			ReadTimeout:        5 * time.Second,
			WriteTimeout:       5 * time.Second,
			IdleTimeout:        30 * time.Second,
			HealthCheckTimeout: time.Second,
			TLSMode:            "off",
			Admin: config.AdminConfig{
				ShutdownEnabled: true,
				AuthToken:       "test-token",
			},
		},
		Shutdown: config.ShutdownConfig{
			Timeout:       5 * time.Second,
			DrainFraction: 0.7,
			GracePeriod:   100 * time.Millisecond,
			SecondSignal:  "ignore",
		},
		Observability: config.ObservabilityConfig{
			ServiceName: "apiframe-test",
			Logging: config.LoggingConfig{
				Level:  "error",
				Format: "text",
			},
		},
	}
}

func testLogger() *logging.Logger {
	return logging.NewLogger(logging.Config{Level: "error", Format: "text"})
}

func newInitializedApp(t *testing.T) *App {
	t.Helper()
	app, err := New(testConfig(), testLogger())
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	if err := app.Init(context.Background()); err != nil {
		t.Fatalf("Init returned error: %v", err)
	}
	return app
}

func TestNewRequiresConfigAndLogger(t *testing.T) {
	if _, err := New(nil, testLogger()); err == nil {
		t.Error("expected error for nil config")
	}
	if _, err := New(testConfig(), nil); err == nil {
		t.Error("expected error for nil logger")
	}
}

func TestStartRequiresInit(t *testing.T) {
	app, err := New(testConfig(), testLogger())
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	if _, err := app.Start(); err == nil {
		t.Fatal("expected Start to fail before Init")
	}
}

func TestInitIsIdempotent(t *testing.T) {
	app := newInitializedApp(t)
	if err := app.Init(context.Background()); err != nil {
		t.Fatalf("second Init returned error: %v", err)
	}
}

func TestGracefulShutdownLifecycle(t *testing.T) {
	app := newInitializedApp(t)

	report := app.Shutdown(context.Background(), "test")
	if report == nil {
		t.Fatal("expected a shutdown report")
	}
	if !report.Clean() {
		t.Errorf("expected clean shutdown, got forced=%v actions=%v", report.Forced, report.Actions)
	}
	if err := report.Err(); err != nil {
		t.Errorf("expected nil exit error, got %v", err)
	}
	if got := app.coordinator.Phase(); got != shutdown.PhaseTerminated {
		t.Errorf("expected phase terminated, got %s", got)
	}

	// Repeat calls converge on the same report.
	again := app.Shutdown(context.Background(), "repeat")
	if again != report {
		t.Error("expected repeat Shutdown to return the same report")
	}
}

func TestShutdownBeforeInit(t *testing.T) {
	app, err := New(testConfig(), testLogger())
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	report := app.Shutdown(context.Background(), "early")
	if report == nil {
		t.Fatal("expected a report even before Init")
	}
	if report.Forced {
		t.Error("pre-init shutdown must not be forced")
	}
}

func TestWaitForStopReturnsTriggerReason(t *testing.T) {
	app := newInitializedApp(t)

	go func() {
		time.Sleep(10 * time.Millisecond)
		app.Trigger().Fire("admin_request")
	}()

	reason := app.WaitForStop(nil)
	if reason != "admin_request" {
		t.Errorf("expected reason admin_request, got %q", reason)
	}
}

func TestAdminShutdownEndpoint(t *testing.T) {
	app := newInitializedApp(t)

	req := httptest.NewRequest(http.MethodPost, "/admin/shutdown", nil)
	req.Header.Set("X-Admin-Token", "test-token")
	rec := httptest.NewRecorder()
	app.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	if !app.trigger.Fired() {
		t.Fatal("expected trigger to fire")
	}
	if got := app.trigger.Reason(); got != "admin_request" {
		t.Errorf("expected reason admin_request, got %q", got)
	}

	// A repeat request reports the in-progress shutdown.
	rec = httptest.NewRecorder()
	app.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409 on repeat request, got %d", rec.Code)
	}
}

func TestAdminShutdownRequiresToken(t *testing.T) {
	app := newInitializedApp(t)

	req := httptest.NewRequest(http.MethodPost, "/admin/shutdown", nil)
	rec := httptest.NewRecorder()
	app.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if app.trigger.Fired() {
		t.Fatal("unauthorized request must not fire the trigger")
	}
}

func TestStatusEndpointReportsPhase(t *testing.T) {
	app := newInitializedApp(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	rec := httptest.NewRecorder()
	app.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if body := rec.Body.String(); !strings.Contains(body, `"phase":"running"`) {
		t.Errorf("expected running phase in body, got %s", body)
	}
}

func TestTrackedRoutesRejectWhileDraining(t *testing.T) {
	app := newInitializedApp(t)
	app.Shutdown(context.Background(), "test")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	rec := httptest.NewRecorder()
	app.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 while draining, got %d", rec.Code)
	}
	if got := rec.Header().Get("Connection"); got != "close" {
		t.Errorf("expected Connection: close, got %q", got)
	}
}

func TestHealthReportsShuttingDown(t *testing.T) {
	app := newInitializedApp(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	app.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 before shutdown, got %d", rec.Code)
	}

	app.Shutdown(context.Background(), "test")

	rec = httptest.NewRecorder()
	app.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 after shutdown, got %d", rec.Code)
	}
}
