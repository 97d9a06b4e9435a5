package reproapp

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"splitquery-repro/internal/dbexec"
	"splitquery-repro/internal/harness"
)

// Run seeds the store when configured, runs the matrix, writes the report
// to out and dumps metrics when a metrics file is set. It requires Init.
func (a *App) Run(ctx context.Context, out io.Writer) (*harness.Report, error) {
	a.stateMu.Lock()
	initialized := a.initialized
	handle := a.handle
	a.stateMu.Unlock()
	if !initialized {
		return nil, fmt.Errorf("app is not initialized")
	}

	repro := a.cfg.Repro
	if repro.Seed {
		a.logger.Info("seeding catalog", slog.Int("products", repro.SeedCount))
		if err := harness.Seed(ctx, handle.DB, a.registry, a.dialect, repro.SeedCount); err != nil {
			return nil, fmt.Errorf("seed failed: %w", err)
		}
	}

	modes, err := repro.ParsedModes()
	if err != nil {
		return nil, err
	}
	report, err := harness.RunMatrix(ctx, dbexec.NewStandardExecutor(handle.DB), harness.Config{
		LimitMin:         repro.LimitMin,
		LimitMax:         repro.LimitMax,
		OrderTag:         repro.OrderTag,
		OrderDesc:        repro.OrderDesc,
		FilterMetaKey:    repro.FilterKey,
		Offset:           repro.Offset,
		Modes:            modes,
		ParallelIncludes: repro.ParallelIncludes,
		MaxInClause:      repro.MaxInClause,
		QueryTimeout:     repro.QueryTimeout,
	},
		harness.WithRegistry(a.registry),
		harness.WithLogger(a.baseLogger),
		harness.WithRunID(a.runID),
		harness.WithQueryMetrics(a.queryMetrics),
		harness.WithHarnessMetrics(a.harnessMetrics),
	)
	if err != nil {
		return report, err
	}

	if err := report.Write(out); err != nil {
		return report, fmt.Errorf("failed to write report: %w", err)
	}

	if path := a.cfg.Observability.MetricsFile; path != "" && a.meterProvider != nil {
		if err := a.meterProvider.WriteTextfile(path); err != nil {
			return report, err
		}
		a.logger.Info("wrote metrics", slog.String("path", path))
	}
	return report, nil
}
