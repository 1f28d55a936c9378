// Package config loads and validates the service configuration from flags,
// environment variables, and an optional YAML file.
package config

import "time"

// Config holds the application configuration.
type Config struct {
	Database      DatabaseConfig      `mapstructure:"database"`
	Server        ServerConfig        `mapstructure:"server"`
	Shutdown      ShutdownConfig      `mapstructure:"shutdown"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

// DatabaseConfig holds the storage connection settings.
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	// PasswordFile is a path to a file containing the password (use @- for stdin).
	PasswordFile string `mapstructure:"password_file"`
	// PasswordPrompt requests an interactive password prompt at startup.
	PasswordPrompt bool   `mapstructure:"password_prompt"`
	Database       string `mapstructure:"database"`
	// DSN, when set, overrides the discrete connection fields.
	DSN string `mapstructure:"dsn"`

	Pool PoolConfig `mapstructure:"pool"`

	// ConnectionTimeout bounds startup retries; zero means try once.
	ConnectionTimeout       time.Duration `mapstructure:"connection_timeout"`
	ConnectionRetryInterval time.Duration `mapstructure:"connection_retry_interval"`
}

// PoolConfig holds connection pool parameters.
type PoolConfig struct {
	MaxOpen     int           `mapstructure:"max_open"`
	MaxIdle     int           `mapstructure:"max_idle"`
	MaxLifetime time.Duration `mapstructure:"max_lifetime"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`

	HealthCheckTimeout time.Duration `mapstructure:"health_check_timeout"`

	// TLSMode: "off", "auto" (self-signed), or "file".
	TLSMode        string `mapstructure:"tls_mode"`
	TLSCertFile    string `mapstructure:"tls_cert_file"`
	TLSKeyFile     string `mapstructure:"tls_key_file"`
	TLSAutoCertDir string `mapstructure:"tls_auto_cert_dir"`

	CORSEnabled          bool          `mapstructure:"cors_enabled"`
	CORSAllowedOrigins   []string      `mapstructure:"cors_allowed_origins"`
	CORSAllowedMethods   []string      `mapstructure:"cors_allowed_methods"`
	CORSAllowedHeaders   []string      `mapstructure:"cors_allowed_headers"`
	CORSExposeHeaders    []string      `mapstructure:"cors_expose_headers"`
	CORSAllowCredentials bool          `mapstructure:"cors_allow_credentials"`
	CORSMaxAge           time.Duration `mapstructure:"cors_max_age"`

	RateLimitEnabled bool    `mapstructure:"rate_limit_enabled"`
	RateLimitRPS     float64 `mapstructure:"rate_limit_rps"`
	RateLimitBurst   int     `mapstructure:"rate_limit_burst"`

	Admin AdminConfig `mapstructure:"admin"`
}

// AdminConfig controls the administrative endpoints (remote shutdown).
type AdminConfig struct {
	ShutdownEnabled bool   `mapstructure:"shutdown_enabled"`
	AuthToken       string `mapstructure:"auth_token"`
	// AuthTokenFile is a path to a file containing the token (use @- for stdin).
	AuthTokenFile string `mapstructure:"auth_token_file"`
}

// ShutdownConfig controls the graceful-shutdown coordinator.
type ShutdownConfig struct {
	// Timeout is the absolute budget for the whole shutdown sequence.
	Timeout time.Duration `mapstructure:"timeout"`
	// DrainFraction is the share of Timeout spent waiting for in-flight
	// work before stragglers are cancelled.
	DrainFraction float64 `mapstructure:"drain_fraction"`
	// GracePeriod is the fixed wait for cancelled work to acknowledge.
	GracePeriod time.Duration `mapstructure:"grace_period"`
	// ActionTimeout bounds each teardown action; zero inherits the
	// remaining overall budget.
	ActionTimeout time.Duration `mapstructure:"action_timeout"`
	// SecondSignal selects the policy for repeat stop signals:
	// "ignore" (default) or "force".
	SecondSignal string `mapstructure:"second_signal"`
}

// ObservabilityConfig holds telemetry settings.
type ObservabilityConfig struct {
	ServiceName    string `mapstructure:"service_name"`
	ServiceVersion string `mapstructure:"service_version"`
	Environment    string `mapstructure:"environment"`

	MetricsEnabled bool `mapstructure:"metrics_enabled"`
	TracingEnabled bool `mapstructure:"tracing_enabled"`

	TraceSampleRatio float64 `mapstructure:"trace_sample_ratio"`

	Logging LoggingConfig `mapstructure:"logging"`
	OTLP    OTLPConfig    `mapstructure:"otlp"`
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	// ExportsEnabled turns on OTLP log export alongside stdout.
	ExportsEnabled bool `mapstructure:"exports_enabled"`
}

// OTLPConfig holds exporter settings shared by traces and logs.
type OTLPConfig struct {
	Endpoint    string        `mapstructure:"endpoint"`
	Protocol    string        `mapstructure:"protocol"` // grpc or http
	Insecure    bool          `mapstructure:"insecure"`
	TLSCertFile string        `mapstructure:"tls_cert_file"`
	Timeout     time.Duration `mapstructure:"timeout"`
}
