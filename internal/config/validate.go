package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"
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
	c.Repro.validate(result)
	c.Observability.validate(result)
	return result
}

func (d *DatabaseConfig) validate(result *ValidationResult) {
	switch d.Driver {
	case DriverSQLite:
		if strings.TrimSpace(d.ConnectionString) == "" && strings.TrimSpace(d.Path) == "" {
			result.addError("database.path", "sqlite requires a path or dsn", "use :memory: for an in-process database")
		}
		if d.TLS.Mode != "" && d.TLS.Mode != "off" {
			result.addWarning("database.tls.mode", "TLS settings are ignored for sqlite", "")
		}
	case DriverMySQL:
		d.validateMySQL(result)
	default:
		result.addError("database.driver", fmt.Sprintf("unsupported driver %q", d.Driver), "valid values are: sqlite, mysql")
	}

	if d.Pool.MaxOpen < 0 {
		result.addError("database.pool.max_open", "max_open cannot be negative", "")
	}
	if d.Pool.MaxIdle < 0 {
		result.addError("database.pool.max_idle", "max_idle cannot be negative", "")
	}
	if d.Pool.MaxIdle > d.Pool.MaxOpen && d.Pool.MaxOpen > 0 {
		result.addWarning("database.pool.max_idle", "max_idle is greater than max_open", "idle connections will be limited to max_open")
	}
	if d.Pool.MaxLifetime < 0 {
		result.addError("database.pool.max_lifetime", "max_lifetime cannot be negative", "")
	}
}

func (d *DatabaseConfig) validateMySQL(result *ValidationResult) {
	if d.ConnectionString == "" && (d.Port < 1 || d.Port > 65535) {
		result.addError("database.port", fmt.Sprintf("port %d is out of valid range (1-65535)", d.Port), "")
	}

	name, err := d.DatabaseName()
	switch {
	case err != nil:
		result.addError("database.dsn", err.Error(), "set a valid MySQL DSN in database.dsn/database.dsn_file")
	case name == "":
		result.addError("database.database", "no database name configured", "set database.database or include /<database> in database.dsn")
	}

	d.TLS.validate(result)
}

func (t *DatabaseTLSConfig) validate(result *ValidationResult) {
	validModes := map[string]bool{"": true, "off": true, "skip-verify": true, "verify-ca": true, "verify-full": true}
	if !validModes[t.Mode] {
		result.addError("database.tls.mode", fmt.Sprintf("invalid TLS mode %q", t.Mode), "valid values are: off, skip-verify, verify-ca, verify-full")
	}

	if (t.Mode == "verify-ca" || t.Mode == "verify-full") && t.CAFile == "" {
		result.addError("database.tls.ca_file", "CA file is required for verify-ca and verify-full modes", "set ca_file to specify the CA certificate")
	}

	if (t.CertFile != "") != (t.KeyFile != "") {
		result.addError("database.tls.cert_file", "both cert_file and key_file must be specified for client certificate authentication", "provide both cert_file and key_file, or neither")
	}

	if t.Mode == "skip-verify" {
		result.addWarning("database.tls.mode", "skip-verify mode does not verify server certificates", "use verify-ca or verify-full in production")
	}
}

func (r *ReproConfig) validate(result *ValidationResult) {
	if r.SeedCount < 0 {
		result.addError("repro.seed_count", "seed_count cannot be negative", "")
	}
	if r.LimitMin < 0 {
		result.addError("repro.limit_min", "limit_min cannot be negative", "")
	}
	if r.LimitMax < r.LimitMin {
		result.addError("repro.limit_max", fmt.Sprintf("limit_max %d is below limit_min %d", r.LimitMax, r.LimitMin), "")
	}
	if strings.TrimSpace(r.OrderTag) == "" {
		result.addError("repro.order_tag", "order_tag cannot be empty", "the regression scenario orders by tag C")
	}
	if r.Offset < 0 {
		result.addError("repro.offset", "offset cannot be negative", "")
	}
	if len(r.Modes) == 0 {
		result.addError("repro.modes", "at least one mode is required", "valid values are: split, joined")
	} else if _, err := r.ParsedModes(); err != nil {
		result.addError("repro.modes", err.Error(), "valid values are: split, joined")
	}
	if r.MaxInClause < 1 {
		result.addError("repro.max_in_clause", "max_in_clause must be at least 1", "")
	}
	if r.QueryTimeout < 0 {
		result.addError("repro.query_timeout", "query_timeout cannot be negative", "use 0 to disable the per-case timeout")
	}
	if r.Seed && r.SeedCount > 0 && r.SeedCount < r.LimitMax {
		result.addWarning("repro.seed_count", "seed_count is below limit_max", "larger limits return every matching parent")
	}
}

func (o *ObservabilityConfig) validate(result *ValidationResult) {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[o.Logging.Level] {
		result.addError("observability.logging.level", fmt.Sprintf("invalid log level %q", o.Logging.Level), "valid values are: debug, info, warn, error")
	}

	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[o.Logging.Format] {
		result.addError("observability.logging.format", fmt.Sprintf("invalid log format %q", o.Logging.Format), "valid values are: json, text")
	}

	if o.TraceSampleRatio < 0 || o.TraceSampleRatio > 1 {
		result.addError("observability.trace_sample_ratio", fmt.Sprintf("trace_sample_ratio %v is outside [0, 1]", o.TraceSampleRatio), "")
	}

	if o.MetricsFile != "" && !o.MetricsEnabled {
		result.addWarning("observability.metrics_file", "metrics_file is set but metrics are disabled", "enable observability.metrics_enabled to write metrics")
	}

	if o.TracingEnabled || o.Logging.ExportsEnabled {
		o.OTLP.validate("observability.otlp", result)
		if o.Traces != nil {
			o.Traces.validate("observability.traces", result)
		}
		if o.Logs != nil {
			o.Logs.validate("observability.logs", result)
		}
	}
}

func (o *OTLPConfig) validate(prefix string, result *ValidationResult) {
	validProtocols := map[string]bool{"": true, "grpc": true, "http/protobuf": true}
	if !validProtocols[o.Protocol] {
		result.addError(prefix+".protocol", fmt.Sprintf("invalid OTLP protocol %q", o.Protocol), "valid values are: grpc, http/protobuf")
	}

	if o.Endpoint != "" && !validOTLPEndpoint(o.Endpoint) {
		result.addError(prefix+".endpoint", fmt.Sprintf("invalid OTLP endpoint %q", o.Endpoint), "use host:port or a full URL")
	}

	validCompressions := map[string]bool{"": true, "none": true, "gzip": true}
	if !validCompressions[o.Compression] {
		result.addError(prefix+".compression", fmt.Sprintf("invalid OTLP compression %q", o.Compression), "valid values are: none, gzip")
	}

	if o.Timeout < 0 {
		result.addError(prefix+".timeout", "timeout cannot be negative", "")
	}
}

func validOTLPEndpoint(endpoint string) bool {
	if strings.Contains(endpoint, "://") {
		parsed, err := url.Parse(endpoint)
		if err != nil {
			return false
		}
		return parsed.Host != ""
	}
	_, _, err := net.SplitHostPort(endpoint)
	return err == nil
}
