// Package reproapp wires configuration, telemetry and the store into a
// single seed-and-verify run.
package reproapp

import (
	"fmt"
	"sync"

	"splitquery-repro/internal/config"
	"splitquery-repro/internal/dbexec"
	"splitquery-repro/internal/logging"
	"splitquery-repro/internal/observability"
	"splitquery-repro/internal/schema"

	"github.com/google/uuid"
)

// App owns runtime resources for one repro run.
type App struct {
	cfg    *config.Config
	logger *logging.Logger
	runID  string

	// baseLogger has no run ID attached; the harness adds its own.
	baseLogger *logging.Logger

	loggerProvider *observability.LoggerProvider

	meterProvider  *observability.MeterProvider
	queryMetrics   *observability.QueryMetrics
	harnessMetrics *observability.HarnessMetrics
	tracerProvider *observability.TracerProvider

	registry *schema.Registry
	dialect  schema.Dialect
	handle   *dbexec.Handle

	cleanup cleanupStack

	stateMu     sync.Mutex
	initialized bool

	shutdownOnce sync.Once
}

// New creates an App lifecycle wrapper with a fresh run ID.
func New(cfg *config.Config, logger *logging.Logger) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	dialect, err := schema.ParseDialect(cfg.Database.Driver)
	if err != nil {
		return nil, err
	}
	registry, err := schema.NewProductCatalogRegistry()
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	return &App{
		cfg:        cfg,
		logger:     logger.WithRunID(runID),
		baseLogger: logger,
		runID:      runID,
		registry:   registry,
		dialect:    dialect,
	}, nil
}

// RunID identifies this run in logs, metrics and the report.
func (a *App) RunID() string {
	return a.runID
}

// AttachLoggerProvider registers an optional logger provider for shutdown cleanup.
func (a *App) AttachLoggerProvider(provider *observability.LoggerProvider) {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	a.loggerProvider = provider
}
