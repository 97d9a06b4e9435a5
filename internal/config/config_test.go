package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"splitquery-repro/internal/planner"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadWithArgs(t *testing.T, args ...string) (*Config, error) {
	t.Helper()
	fs := NewFlagSet("test")
	require.NoError(t, fs.Parse(args))
	return Load(fs)
}

func writeFile(t *testing.T, name, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := loadWithArgs(t)
	require.NoError(t, err)

	assert.Equal(t, DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, ":memory:", cfg.Database.Path)
	assert.True(t, cfg.Repro.Seed)
	assert.Equal(t, 500, cfg.Repro.SeedCount)
	assert.Equal(t, 1, cfg.Repro.LimitMin)
	assert.Equal(t, 20, cfg.Repro.LimitMax)
	assert.Equal(t, "C", cfg.Repro.OrderTag)
	assert.Equal(t, "kind", cfg.Repro.FilterKey)
	assert.Zero(t, cfg.Repro.Offset)
	assert.False(t, cfg.Repro.OrderDesc)
	assert.Equal(t, []string{"split", "joined"}, cfg.Repro.Modes)
	assert.Equal(t, 1000, cfg.Repro.MaxInClause)
	assert.Equal(t, 30*time.Second, cfg.Repro.QueryTimeout)
	assert.Equal(t, "info", cfg.Observability.Logging.Level)

	result := cfg.Validate()
	assert.False(t, result.HasErrors(), result.Error())
}

func TestLoad_Precedence(t *testing.T) {
	path := writeFile(t, "repro.yaml", `
repro:
  limit_max: 10
  order_tag: E
  query_timeout: 5s
database:
  pool:
    max_open: 3
`)
	t.Setenv("SQR_REPRO_ORDER_TAG", "D")
	t.Setenv("SQR_DATABASE_POOL_MAX_OPEN", "4")
	t.Setenv("SQR_REPRO_MODES", "joined")

	cfg, err := loadWithArgs(t, "--config", path, "--repro.limit_max=7", "--database.pool.max_open=6")
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Repro.LimitMax, "flag beats file")
	assert.Equal(t, "D", cfg.Repro.OrderTag, "env beats file")
	assert.Equal(t, 6, cfg.Database.Pool.MaxOpen, "flag beats env")
	assert.Equal(t, 5*time.Second, cfg.Repro.QueryTimeout)
	assert.Equal(t, []string{"joined"}, cfg.Repro.Modes)
}

func TestLoad_RejectsUnknownKeys(t *testing.T) {
	path := writeFile(t, "repro.yaml", `
repro:
  cursor_mode: true
`)
	_, err := loadWithArgs(t, "--config", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cursor_mode")
}

func TestLoad_MissingExplicitConfigFile(t *testing.T) {
	_, err := loadWithArgs(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoad_PasswordFile(t *testing.T) {
	path := writeFile(t, "password", "s3cret\n")
	cfg, err := loadWithArgs(t, "--database.password_file", path)
	require.NoError(t, err)
	assert.Equal(t, "s3cret", cfg.Database.Password)
}

func TestLoad_DSNFromStdin(t *testing.T) {
	orig := stdin
	t.Cleanup(func() { stdin = orig })
	stdin = strings.NewReader("file:repro.db?cache=shared\n")

	cfg, err := loadWithArgs(t, "--database.dsn_file", "@-")
	require.NoError(t, err)
	assert.Equal(t, "file:repro.db?cache=shared", cfg.Database.ConnectionString)
}

func TestLoad_PasswordPrompt(t *testing.T) {
	orig := passwordPrompt
	t.Cleanup(func() { passwordPrompt = orig })

	passwordPrompt = func() (string, error) { return "typed", nil }
	cfg, err := loadWithArgs(t, "--database.password_prompt")
	require.NoError(t, err)
	assert.Equal(t, "typed", cfg.Database.Password)

	passwordPrompt = func() (string, error) { return "", errors.New("no tty") }
	_, err = loadWithArgs(t, "--database.password_prompt")
	assert.ErrorContains(t, err, "no tty")

	// An explicit password skips the prompt.
	cfg, err = loadWithArgs(t, "--database.password_prompt", "--database.password", "given")
	require.NoError(t, err)
	assert.Equal(t, "given", cfg.Database.Password)
}

func TestLoad_RejectsMultipleStdinSources(t *testing.T) {
	_, err := loadWithArgs(t, "--database.dsn_file", "@-", "--database.password_file", " @- ")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.dsn_file")
	assert.Contains(t, err.Error(), "database.password_file")
}

func TestDatabaseConfig_DSN(t *testing.T) {
	tests := []struct {
		name     string
		config   DatabaseConfig
		expected string
	}{
		{
			name:     "sqlite path",
			config:   DatabaseConfig{Driver: DriverSQLite, Path: ":memory:"},
			expected: ":memory:",
		},
		{
			name:     "sqlite dsn wins over path",
			config:   DatabaseConfig{Driver: DriverSQLite, Path: "a.db", ConnectionString: "file:b.db"},
			expected: "file:b.db",
		},
		{
			name: "mysql discrete fields",
			config: DatabaseConfig{
				Driver:   DriverMySQL,
				Host:     "localhost",
				Port:     4000,
				User:     "root",
				Password: "password",
				Database: "test",
			},
			expected: "root:password@tcp(localhost:4000)/test?parseTime=true",
		},
		{
			name: "mysql empty password",
			config: DatabaseConfig{
				Driver:   DriverMySQL,
				Host:     "db.example.com",
				Port:     3306,
				User:     "admin",
				Database: "mydb",
			},
			expected: "admin@tcp(db.example.com:3306)/mydb?parseTime=true",
		},
		{
			name: "mysql connection string gains parseTime",
			config: DatabaseConfig{
				Driver:           DriverMySQL,
				ConnectionString: "u:p@tcp(h:1)/d",
			},
			expected: "u:p@tcp(h:1)/d?parseTime=true",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := tt.config.DSN()
			require.NoError(t, err)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestDatabaseConfig_DSNWithTLS(t *testing.T) {
	cfg := DatabaseConfig{Driver: DriverMySQL, Host: "h", Port: 4000, User: "u", Database: "d"}

	cfg.TLS.Mode = "skip-verify"
	dsn, err := cfg.DSN()
	require.NoError(t, err)
	assert.Contains(t, dsn, "tls=skip-verify")

	cfg.TLS.Mode = "verify-full"
	dsn, err = cfg.DSN()
	require.NoError(t, err)
	assert.Contains(t, dsn, "tls="+tlsConfigName)

	cfg.TLS.Mode = ""
	dsn, err = cfg.DSN()
	require.NoError(t, err)
	assert.NotContains(t, dsn, "tls=")
}

func TestDatabaseConfig_DSNErrors(t *testing.T) {
	_, err := (&DatabaseConfig{Driver: "postgres"}).DSN()
	assert.Error(t, err)

	_, err = (&DatabaseConfig{Driver: DriverMySQL, ConnectionString: "not a dsn"}).DSN()
	assert.ErrorContains(t, err, "database.dsn is invalid")
}

func TestRegisterTLS_SkipsNonVerifyModes(t *testing.T) {
	for _, mode := range []string{"", "off", "skip-verify"} {
		cfg := DatabaseConfig{Driver: DriverMySQL, TLS: DatabaseTLSConfig{Mode: mode}}
		assert.NoError(t, cfg.RegisterTLS(), mode)
	}
	cfg := DatabaseConfig{Driver: DriverMySQL, TLS: DatabaseTLSConfig{Mode: "verify-ca", CAFile: "/does/not/exist.pem"}}
	assert.Error(t, cfg.RegisterTLS())
}

func TestReproConfig_ParsedModes(t *testing.T) {
	modes, err := ReproConfig{Modes: []string{"joined", "split"}}.ParsedModes()
	require.NoError(t, err)
	assert.Equal(t, []planner.Mode{planner.ModeJoined, planner.ModeSplit}, modes)

	_, err = ReproConfig{Modes: []string{"split", "split"}}.ParsedModes()
	assert.Error(t, err)

	_, err = ReproConfig{Modes: []string{"batched"}}.ParsedModes()
	assert.ErrorIs(t, err, planner.ErrInvalidPlan)
}

func TestConfig_Validate(t *testing.T) {
	validConfig := func() *Config {
		return &Config{
			Database: DatabaseConfig{
				Driver: DriverMySQL,
				Host:   "localhost",
				Port:   4000,
				User:   "root",
				TLS:    DatabaseTLSConfig{Mode: "off"},
				Pool:   PoolConfig{MaxOpen: 10, MaxIdle: 5},
				// Database set below
				Database: "test",
			},
			Repro: ReproConfig{
				Seed:        true,
				SeedCount:   500,
				LimitMin:    1,
				LimitMax:    20,
				OrderTag:    "C",
				Modes:       []string{"split", "joined"},
				MaxInClause: 1000,
			},
			Observability: ObservabilityConfig{
				TraceSampleRatio: 1,
				Logging:          LoggingConfig{Level: "info", Format: "json"},
				OTLP:             OTLPConfig{Protocol: "grpc", Compression: "gzip"},
			},
		}
	}

	t.Run("valid config passes validation", func(t *testing.T) {
		result := validConfig().Validate()
		assert.False(t, result.HasErrors(), result.Error())
		assert.Empty(t, result.Warnings)
	})

	errorCases := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"unknown driver", func(c *Config) { c.Database.Driver = "oracle" }, "database.driver"},
		{"mysql port", func(c *Config) { c.Database.Port = 70000 }, "database.port"},
		{"mysql database", func(c *Config) { c.Database.Database = "" }, "database.database"},
		{"mysql dsn", func(c *Config) { c.Database.ConnectionString = "nope" }, "database.dsn"},
		{"tls mode", func(c *Config) { c.Database.TLS.Mode = "invalid" }, "database.tls.mode"},
		{"tls ca", func(c *Config) { c.Database.TLS.Mode = "verify-ca" }, "database.tls.ca_file"},
		{"tls pair", func(c *Config) { c.Database.TLS.CertFile = "c.pem" }, "database.tls.cert_file"},
		{"sqlite path", func(c *Config) { c.Database.Driver = DriverSQLite }, "database.path"},
		{"pool", func(c *Config) { c.Database.Pool.MaxOpen = -1 }, "database.pool.max_open"},
		{"seed count", func(c *Config) { c.Repro.SeedCount = -1 }, "repro.seed_count"},
		{"limit min", func(c *Config) { c.Repro.LimitMin = -1 }, "repro.limit_min"},
		{"limit range", func(c *Config) { c.Repro.LimitMax = 0 }, "repro.limit_max"},
		{"order tag", func(c *Config) { c.Repro.OrderTag = " " }, "repro.order_tag"},
		{"offset", func(c *Config) { c.Repro.Offset = -1 }, "repro.offset"},
		{"no modes", func(c *Config) { c.Repro.Modes = nil }, "repro.modes"},
		{"bad mode", func(c *Config) { c.Repro.Modes = []string{"lazy"} }, "repro.modes"},
		{"max in", func(c *Config) { c.Repro.MaxInClause = 0 }, "repro.max_in_clause"},
		{"timeout", func(c *Config) { c.Repro.QueryTimeout = -time.Second }, "repro.query_timeout"},
		{"log level", func(c *Config) { c.Observability.Logging.Level = "trace" }, "observability.logging.level"},
		{"log format", func(c *Config) { c.Observability.Logging.Format = "xml" }, "observability.logging.format"},
		{"sample ratio", func(c *Config) { c.Observability.TraceSampleRatio = 2 }, "observability.trace_sample_ratio"},
		{"otlp protocol", func(c *Config) {
			c.Observability.TracingEnabled = true
			c.Observability.OTLP.Protocol = "http"
		}, "observability.otlp.protocol"},
		{"otlp endpoint", func(c *Config) {
			c.Observability.TracingEnabled = true
			c.Observability.OTLP.Endpoint = "no-port"
		}, "observability.otlp.endpoint"},
		{"trace override", func(c *Config) {
			c.Observability.TracingEnabled = true
			c.Observability.Traces = &OTLPConfig{Compression: "zstd"}
		}, "observability.traces.compression"},
	}
	for _, tc := range errorCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)
			result := cfg.Validate()
			assert.True(t, result.HasErrors())
			assert.Contains(t, result.Error(), tc.field)
		})
	}

	t.Run("OTLP ignored when no export is enabled", func(t *testing.T) {
		cfg := validConfig()
		cfg.Observability.OTLP.Protocol = "http"
		assert.False(t, cfg.Validate().HasErrors())
	})

	t.Run("warnings", func(t *testing.T) {
		cfg := validConfig()
		cfg.Database.TLS.Mode = "skip-verify"
		cfg.Database.Pool.MaxIdle = 20
		cfg.Repro.SeedCount = 5
		cfg.Observability.MetricsFile = "metrics.prom"
		result := cfg.Validate()
		assert.False(t, result.HasErrors(), result.Error())

		fields := make([]string, 0, len(result.Warnings))
		for _, w := range result.Warnings {
			fields = append(fields, w.Field)
		}
		assert.ElementsMatch(t, []string{
			"database.tls.mode",
			"database.pool.max_idle",
			"repro.seed_count",
			"observability.metrics_file",
		}, fields)
	})
}

func TestObservabilityConfig_SignalOverrides(t *testing.T) {
	cfg := ObservabilityConfig{
		OTLP: OTLPConfig{
			Endpoint:    "collector:4317",
			Protocol:    "grpc",
			Headers:     map[string]string{"a": "1"},
			Timeout:     10 * time.Second,
			Compression: "gzip",
		},
		Traces: &OTLPConfig{
			Endpoint: "traces:4318",
			Protocol: "http/protobuf",
			Insecure: true,
			Headers:  map[string]string{"b": "2"},
		},
	}

	traces := cfg.GetTracesConfig()
	assert.Equal(t, "traces:4318", traces.Endpoint)
	assert.Equal(t, "http/protobuf", traces.Protocol)
	assert.True(t, traces.Insecure)
	assert.Equal(t, map[string]string{"a": "1", "b": "2"}, traces.Headers)
	assert.Equal(t, 10*time.Second, traces.Timeout)
	assert.Equal(t, "gzip", traces.Compression)

	assert.Equal(t, cfg.OTLP, cfg.GetLogsConfig())
}

func TestStringToStringSliceHook(t *testing.T) {
	cfg, err := loadWithArgs(t)
	require.NoError(t, err)
	assert.Len(t, cfg.Repro.Modes, 2)

	t.Setenv("SQR_REPRO_MODES", " split , joined ")
	cfg, err = loadWithArgs(t)
	require.NoError(t, err)
	assert.Equal(t, []string{"split", "joined"}, cfg.Repro.Modes)
}
