package config

import (
	"fmt"
	"strings"
	"time"
)

// ValidationError represents a configuration validation error with context.
type ValidationError struct {
	Field   string
	Message string
	Hint    string
}

func (e ValidationError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("%s: %s (hint: %s)", e.Field, e.Message, e.Hint)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationWarning represents a non-fatal configuration issue.
type ValidationWarning struct {
	Field   string
	Message string
	Hint    string
}

// ValidationResult contains the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationWarning
}

// HasErrors returns true if there are any validation errors.
func (r *ValidationResult) HasErrors() bool {
	return len(r.Errors) > 0
}

// Error returns a combined error message if there are validation errors.
func (r *ValidationResult) Error() string {
	if !r.HasErrors() {
		return ""
	}
	var msgs []string
	for _, e := range r.Errors {
		msgs = append(msgs, e.Error())
	}
	return strings.Join(msgs, "; ")
}

func (r *ValidationResult) addError(field, message, hint string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message, Hint: hint})
}

func (r *ValidationResult) addWarning(field, message, hint string) {
	r.Warnings = append(r.Warnings, ValidationWarning{Field: field, Message: message, Hint: hint})
}

// Validate checks the configuration for errors and returns validation results.
// It returns both errors (fatal) and warnings (non-fatal issues).
func (c *Config) Validate() *ValidationResult {
	result := &ValidationResult{}

	c.Database.validate(result)
	c.Server.validate(result)
	c.Shutdown.validate(result)
	c.Observability.validate(result)

	return result
}

func (d *DatabaseConfig) validate(result *ValidationResult) {
	if strings.TrimSpace(d.DSN) != "" {
		return // DSN carries the full connection target
	}
	if strings.TrimSpace(d.Host) == "" {
		return // no host and no DSN: storage is disabled
	}
	if d.Port <= 0 || d.Port > 65535 {
		result.addError("database.port", fmt.Sprintf("invalid port %d", d.Port), "use a port between 1 and 65535")
	}
	if strings.TrimSpace(d.User) == "" {
		result.addError("database.user", "user is required when no DSN is set", "")
	}
	if d.Pool.MaxOpen > 0 && d.Pool.MaxIdle > d.Pool.MaxOpen {
		result.addWarning("database.pool.max_idle",
			fmt.Sprintf("max_idle (%d) exceeds max_open (%d)", d.Pool.MaxIdle, d.Pool.MaxOpen),
			"idle connections above max_open are never used")
	}
}

func (s *ServerConfig) validate(result *ValidationResult) {
	if s.Port <= 0 || s.Port > 65535 {
		result.addError("server.port", fmt.Sprintf("invalid port %d", s.Port), "use a port between 1 and 65535")
	}

	switch s.TLSMode {
	case "", "off", "auto":
	case "file":
		if s.TLSCertFile == "" || s.TLSKeyFile == "" {
			result.addError("server.tls_mode",
				"tls_mode=file requires tls_cert_file and tls_key_file", "")
		}
	default:
		result.addError("server.tls_mode",
			fmt.Sprintf("unknown TLS mode %q", s.TLSMode), "use off, auto, or file")
	}

	if s.RateLimitEnabled && (s.RateLimitRPS <= 0 || s.RateLimitBurst <= 0) {
		result.addError("server.rate_limit_rps",
			"rate limiting enabled but rps/burst not positive", "set server.rate_limit_rps and server.rate_limit_burst")
	}

	if s.Admin.ShutdownEnabled && strings.TrimSpace(s.Admin.AuthToken) == "" {
		result.addError("server.admin.auth_token",
			"admin shutdown endpoint enabled without an auth token",
			"set server.admin.auth_token or server.admin.auth_token_file")
	}
}

func (s *ShutdownConfig) validate(result *ValidationResult) {
	const (
		minTimeout = 5 * time.Second
		maxTimeout = 300 * time.Second
	)

	if s.Timeout < minTimeout || s.Timeout > maxTimeout {
		result.addError("shutdown.timeout",
			fmt.Sprintf("timeout %v outside the allowed range [%v, %v]", s.Timeout, minTimeout, maxTimeout),
			"30s is a sensible default")
	}
	if s.DrainFraction <= 0 || s.DrainFraction >= 1 {
		result.addError("shutdown.drain_fraction",
			fmt.Sprintf("drain_fraction %v must be strictly between 0 and 1", s.DrainFraction),
			"0.7 leaves headroom for teardown")
	}
	if s.GracePeriod <= 0 {
		result.addError("shutdown.grace_period", "grace_period must be positive", "2s is a sensible default")
	} else if s.Timeout > 0 && s.GracePeriod > s.Timeout/2 {
		result.addWarning("shutdown.grace_period",
			fmt.Sprintf("grace_period %v is large relative to timeout %v", s.GracePeriod, s.Timeout),
			"a long grace period eats into the teardown budget")
	}
	if s.ActionTimeout < 0 {
		result.addError("shutdown.action_timeout", "action_timeout must not be negative", "0 inherits the remaining budget")
	}

	switch s.SecondSignal {
	case "", "ignore", "force":
	default:
		result.addError("shutdown.second_signal",
			fmt.Sprintf("unknown second_signal policy %q", s.SecondSignal), "use ignore or force")
	}
}

func (o *ObservabilityConfig) validate(result *ValidationResult) {
	switch o.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		result.addError("observability.logging.level",
			fmt.Sprintf("unknown log level %q", o.Logging.Level), "use debug, info, warn, or error")
	}
	switch o.Logging.Format {
	case "", "json", "text":
	default:
		result.addError("observability.logging.format",
			fmt.Sprintf("unknown log format %q", o.Logging.Format), "use json or text")
	}

	if o.TraceSampleRatio < 0 || o.TraceSampleRatio > 1 {
		result.addError("observability.trace_sample_ratio",
			fmt.Sprintf("trace_sample_ratio %v must be within [0, 1]", o.TraceSampleRatio), "")
	}

	if (o.Logging.ExportsEnabled || o.TracingEnabled) && strings.TrimSpace(o.OTLP.Endpoint) == "" {
		result.addError("observability.otlp.endpoint",
			"OTLP export enabled without an endpoint", "set observability.otlp.endpoint")
	}
	switch o.OTLP.Protocol {
	case "", "grpc", "http":
	default:
		result.addError("observability.otlp.protocol",
			fmt.Sprintf("unknown OTLP protocol %q", o.OTLP.Protocol), "use grpc or http")
	}
}
