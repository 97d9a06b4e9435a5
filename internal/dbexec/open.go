package dbexec

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/XSAM/otelsql"
	_ "github.com/go-sql-driver/mysql"
	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	_ "modernc.org/sqlite"
)

// Supported driver names.
const (
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite"
)

// OpenOptions describes how to open a store handle.
type OpenOptions struct {
	Driver      string
	DSN         string
	Tracing     bool
	Metrics     bool
	MaxOpen     int
	MaxIdle     int
	MaxLifetime time.Duration
}

// Handle owns an opened database and its optional stats registration.
type Handle struct {
	DB       *sql.DB
	statsReg interface{ Unregister() error }
}

// Close unregisters stats metrics and closes the database.
func (h *Handle) Close() error {
	if h == nil || h.DB == nil {
		return nil
	}
	var errs []error
	if h.statsReg != nil {
		errs = append(errs, h.statsReg.Unregister())
	}
	errs = append(errs, h.DB.Close())
	return errors.Join(errs...)
}

// Open opens a database handle, instrumenting it with otelsql when tracing
// or metrics are enabled.
func Open(opts OpenOptions) (*Handle, error) {
	system, err := dbSystem(opts.Driver)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(opts.DSN) == "" {
		return nil, fmt.Errorf("%s: empty DSN", opts.Driver)
	}

	handle := &Handle{}
	if opts.Tracing || opts.Metrics {
		otelOpts := []otelsql.Option{otelsql.WithAttributes(system)}
		if opts.Tracing {
			otelOpts = append(otelOpts, otelsql.WithSpanOptions(otelsql.SpanOptions{
				DisableErrSkip: true,
			}))
		}
		handle.DB, err = otelsql.Open(opts.Driver, opts.DSN, otelOpts...)
		if err != nil {
			return nil, err
		}
		if opts.Metrics {
			handle.statsReg, err = otelsql.RegisterDBStatsMetrics(handle.DB, otelsql.WithAttributes(system))
			if err != nil {
				_ = handle.DB.Close()
				return nil, fmt.Errorf("failed to register DB stats metrics: %w", err)
			}
		}
	} else {
		handle.DB, err = sql.Open(opts.Driver, opts.DSN)
		if err != nil {
			return nil, err
		}
	}

	maxOpen, maxIdle, maxLifetime := opts.MaxOpen, opts.MaxIdle, opts.MaxLifetime
	if opts.Driver == DriverSQLite && IsSQLiteMemory(opts.DSN) {
		// Every connection to an unnamed in-memory database is a separate
		// database, so exactly one connection must stay alive.
		maxOpen, maxIdle, maxLifetime = 1, 1, 0
	}
	handle.DB.SetMaxOpenConns(maxOpen)
	if maxIdle > 0 {
		handle.DB.SetMaxIdleConns(maxIdle)
	}
	handle.DB.SetConnMaxLifetime(maxLifetime)
	return handle, nil
}

// IsSQLiteMemory reports whether a SQLite DSN names an in-memory database.
func IsSQLiteMemory(dsn string) bool {
	dsn = strings.TrimSpace(dsn)
	return dsn == ":memory:" || strings.HasPrefix(dsn, "file::memory:") || strings.Contains(dsn, "mode=memory")
}

func dbSystem(driver string) (attribute.KeyValue, error) {
	switch driver {
	case DriverMySQL:
		return semconv.DBSystemMySQL, nil
	case DriverSQLite:
		return semconv.DBSystemSqlite, nil
	default:
		return attribute.KeyValue{}, fmt.Errorf("unsupported database driver %q", driver)
	}
}
