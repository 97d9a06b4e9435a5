// Package config loads configuration from files, env vars, and flags, and validates it.
package config

import (
	"fmt"
	"time"

	"splitquery-repro/internal/planner"
)

// Config holds the application configuration.
type Config struct {
	Database      DatabaseConfig      `mapstructure:"database"`
	Repro         ReproConfig         `mapstructure:"repro"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

// PoolConfig holds connection pool parameters.
type PoolConfig struct {
	MaxOpen     int           `mapstructure:"max_open"`
	MaxIdle     int           `mapstructure:"max_idle"`
	MaxLifetime time.Duration `mapstructure:"max_lifetime"`
}

// DatabaseTLSConfig holds TLS configuration for MySQL connections.
type DatabaseTLSConfig struct {
	// Mode controls TLS behavior:
	//   - "off": No TLS (plaintext connection)
	//   - "skip-verify": TLS without server certificate verification (insecure)
	//   - "verify-ca": TLS with CA verification but no hostname check
	//   - "verify-full": TLS with full verification including hostname
	Mode string `mapstructure:"mode"`

	// CAFile is the path to the CA certificate for server verification.
	// Required for verify-ca and verify-full modes.
	CAFile string `mapstructure:"ca_file"`

	// CertFile and KeyFile enable client certificate authentication.
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`

	// ServerName overrides the server name used for TLS verification.
	ServerName string `mapstructure:"server_name"`
}

// DatabaseConfig holds store connection parameters.
type DatabaseConfig struct {
	// Driver selects the store: "sqlite" (embedded, default) or "mysql".
	Driver string `mapstructure:"driver"`

	// ConnectionString is a complete driver DSN. For mysql it overrides the
	// discrete fields; for sqlite it overrides Path.
	ConnectionString string `mapstructure:"dsn"`
	// ConnectionStringFile is a path to a file containing the DSN.
	// Supports "@-" to read from stdin.
	ConnectionStringFile string `mapstructure:"dsn_file"`

	// Path is the sqlite database file, or ":memory:".
	Path string `mapstructure:"path"`

	// Discrete mysql connection fields (used when DSN is not set)
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	PasswordFile   string `mapstructure:"password_file"`
	PasswordPrompt bool   `mapstructure:"password_prompt"`
	Database       string `mapstructure:"database"`

	TLS DatabaseTLSConfig `mapstructure:"tls"`

	Pool PoolConfig `mapstructure:"pool"`
}

// ReproConfig controls seeding and the regression matrix.
type ReproConfig struct {
	// Seed reseeds the catalog before running the matrix.
	Seed             bool          `mapstructure:"seed"`
	SeedCount        int           `mapstructure:"seed_count"`
	LimitMin         int           `mapstructure:"limit_min"`
	LimitMax         int           `mapstructure:"limit_max"`
	OrderTag         string        `mapstructure:"order_tag"`
	OrderDesc        bool          `mapstructure:"order_desc"`
	FilterKey        string        `mapstructure:"filter_key"`
	Offset           int           `mapstructure:"offset"`
	Modes            []string      `mapstructure:"modes"`
	ParallelIncludes bool          `mapstructure:"parallel_includes"`
	MaxInClause      int           `mapstructure:"max_in_clause"`
	QueryTimeout     time.Duration `mapstructure:"query_timeout"`
}

// ParsedModes converts the configured mode names to planner modes.
func (r ReproConfig) ParsedModes() ([]planner.Mode, error) {
	modes := make([]planner.Mode, 0, len(r.Modes))
	seen := make(map[planner.Mode]bool, len(r.Modes))
	for _, name := range r.Modes {
		mode, err := planner.ParseMode(name)
		if err != nil {
			return nil, err
		}
		if seen[mode] {
			return nil, fmt.Errorf("mode %q listed twice", name)
		}
		seen[mode] = true
		modes = append(modes, mode)
	}
	return modes, nil
}

// LoggingConfig holds logging parameters.
type LoggingConfig struct {
	Level          string `mapstructure:"level"`           // debug, info, warn, error
	Format         string `mapstructure:"format"`          // json, text
	ExportsEnabled bool   `mapstructure:"exports_enabled"` // Enable OTLP log export
}

// ObservabilityConfig holds observability parameters.
type ObservabilityConfig struct {
	ServiceName      string        `mapstructure:"service_name"`
	ServiceVersion   string        `mapstructure:"service_version"`
	MetricsEnabled   bool          `mapstructure:"metrics_enabled"`
	MetricsFile      string        `mapstructure:"metrics_file"` // Prometheus text dump written after the run
	TracingEnabled   bool          `mapstructure:"tracing_enabled"`
	TraceSampleRatio float64       `mapstructure:"trace_sample_ratio"`
	Logging          LoggingConfig `mapstructure:"logging"`

	// Global OTLP settings (defaults for all signals)
	OTLP OTLPConfig `mapstructure:"otlp"`

	// Signal-specific overrides (optional)
	Traces *OTLPConfig `mapstructure:"traces,omitempty"`
	Logs   *OTLPConfig `mapstructure:"logs,omitempty"`
}

// OTLPConfig holds OTLP exporter configuration
type OTLPConfig struct {
	Endpoint    string            `mapstructure:"endpoint"`
	Protocol    string            `mapstructure:"protocol"` // "grpc", "http/protobuf"
	Insecure    bool              `mapstructure:"insecure"`
	TLSCertFile string            `mapstructure:"tls_cert_file"`
	Headers     map[string]string `mapstructure:"headers"`
	Timeout     time.Duration     `mapstructure:"timeout"`
	Compression string            `mapstructure:"compression"` // "none", "gzip"
}

// GetTracesConfig returns the effective OTLP config for traces
func (c *ObservabilityConfig) GetTracesConfig() OTLPConfig {
	if c.Traces != nil {
		return mergeOTLPConfigs(c.OTLP, *c.Traces)
	}
	return c.OTLP
}

// GetLogsConfig returns the effective OTLP config for logs
func (c *ObservabilityConfig) GetLogsConfig() OTLPConfig {
	if c.Logs != nil {
		return mergeOTLPConfigs(c.OTLP, *c.Logs)
	}
	return c.OTLP
}

// mergeOTLPConfigs merges signal-specific config over global defaults
func mergeOTLPConfigs(base OTLPConfig, override OTLPConfig) OTLPConfig {
	result := base

	if override.Endpoint != "" {
		result.Endpoint = override.Endpoint
	}
	if override.Protocol != "" {
		result.Protocol = override.Protocol
	}
	// Insecure cannot be told apart from an explicit false; a present override wins.
	result.Insecure = override.Insecure

	if override.TLSCertFile != "" {
		result.TLSCertFile = override.TLSCertFile
	}

	// Signal-specific headers override global
	if override.Headers != nil {
		result.Headers = make(map[string]string, len(base.Headers)+len(override.Headers))
		for k, v := range base.Headers {
			result.Headers[k] = v
		}
		for k, v := range override.Headers {
			result.Headers[k] = v
		}
	}

	if override.Timeout != 0 {
		result.Timeout = override.Timeout
	}
	if override.Compression != "" {
		result.Compression = override.Compression
	}

	return result
}
