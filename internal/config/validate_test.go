package config

import (
	"testing"
	"time"
)

func validConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     3306,
			User:     "apiframe",
			Database: "apiframe",
			Pool:     PoolConfig{MaxOpen: 25, MaxIdle: 5, MaxLifetime: 5 * time.Minute},
		},
		Server: ServerConfig{
			Port:    8080,
			TLSMode: "off",
		},
		Shutdown: ShutdownConfig{
			Timeout:       30 * time.Second,
			DrainFraction: 0.7,
			GracePeriod:   2 * time.Second,
			SecondSignal:  "ignore",
		},
		Observability: ObservabilityConfig{
			ServiceName:      "apiframe",
			TraceSampleRatio: 1.0,
			Logging:          LoggingConfig{Level: "info", Format: "json"},
		},
	}
}

func TestValidate_DefaultsPass(t *testing.T) {
	result := validConfig().Validate()
	if result.HasErrors() {
		t.Fatalf("valid config reported errors: %s", result.Error())
	}
}

func TestValidate_ShutdownTimeoutBounds(t *testing.T) {
	cases := []struct {
		name    string
		timeout time.Duration
		wantErr bool
	}{
		{"too short", 1 * time.Second, true},
		{"lower bound", 5 * time.Second, false},
		{"default", 30 * time.Second, false},
		{"upper bound", 300 * time.Second, false},
		{"too long", 10 * time.Minute, true},
		{"zero", 0, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.Shutdown.Timeout = tc.timeout
			result := cfg.Validate()
			if got := result.HasErrors(); got != tc.wantErr {
				t.Fatalf("timeout %v: hasErrors=%v, want %v (%s)", tc.timeout, got, tc.wantErr, result.Error())
			}
		})
	}
}

func TestValidate_DrainFractionBounds(t *testing.T) {
	for _, fraction := range []float64{0, -0.1, 1, 1.5} {
		cfg := validConfig()
		cfg.Shutdown.DrainFraction = fraction
		if !cfg.Validate().HasErrors() {
			t.Fatalf("drain_fraction %v should be rejected", fraction)
		}
	}

	cfg := validConfig()
	cfg.Shutdown.DrainFraction = 0.5
	if cfg.Validate().HasErrors() {
		t.Fatal("drain_fraction 0.5 should be accepted")
	}
}

func TestValidate_SecondSignalPolicy(t *testing.T) {
	cfg := validConfig()
	cfg.Shutdown.SecondSignal = "escalate"
	if !cfg.Validate().HasErrors() {
		t.Fatal("unknown second_signal policy should be rejected")
	}

	for _, policy := range []string{"ignore", "force", ""} {
		cfg := validConfig()
		cfg.Shutdown.SecondSignal = policy
		if cfg.Validate().HasErrors() {
			t.Fatalf("policy %q should be accepted", policy)
		}
	}
}

func TestValidate_AdminShutdownRequiresToken(t *testing.T) {
	cfg := validConfig()
	cfg.Server.Admin.ShutdownEnabled = true
	if !cfg.Validate().HasErrors() {
		t.Fatal("admin shutdown without a token should be rejected")
	}

	cfg.Server.Admin.AuthToken = "secret"
	if cfg.Validate().HasErrors() {
		t.Fatal("admin shutdown with a token should pass")
	}
}

func TestValidate_OTLPEndpointRequiredForExports(t *testing.T) {
	cfg := validConfig()
	cfg.Observability.TracingEnabled = true
	if !cfg.Validate().HasErrors() {
		t.Fatal("tracing without an OTLP endpoint should be rejected")
	}

	cfg.Observability.OTLP.Endpoint = "collector:4317"
	if cfg.Validate().HasErrors() {
		t.Fatal("tracing with an endpoint should pass")
	}
}

func TestValidate_LargeGracePeriodWarns(t *testing.T) {
	cfg := validConfig()
	cfg.Shutdown.GracePeriod = 20 * time.Second
	result := cfg.Validate()
	if result.HasErrors() {
		t.Fatalf("large grace period should warn, not error: %s", result.Error())
	}
	if len(result.Warnings) == 0 {
		t.Fatal("expected a warning for a large grace period")
	}
}

func TestValidate_EmptyDatabaseDisablesStorage(t *testing.T) {
	cfg := validConfig()
	cfg.Database = DatabaseConfig{}
	if cfg.Validate().HasErrors() {
		t.Fatal("a config without database settings should be valid")
	}
}
