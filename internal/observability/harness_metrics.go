package observability

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// HarnessMetrics holds per-case outcome metrics of a regression run.
type HarnessMetrics struct {
	caseCounter    metric.Int64Counter
	failureCounter metric.Int64Counter
	caseDuration   metric.Float64Histogram
	lastFailures   atomic.Int64
}

// InitHarnessMetrics creates harness metrics on the global meter provider.
func InitHarnessMetrics(logger *slog.Logger) (*HarnessMetrics, error) {
	meter := otel.Meter(meterName)

	caseCounter, err := meter.Int64Counter(
		"repro.cases.total",
		metric.WithDescription("Total number of executed regression cases"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create case counter: %w", err)
	}

	failureCounter, err := meter.Int64Counter(
		"repro.cases.failed.total",
		metric.WithDescription("Total number of failed regression cases"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create case failure counter: %w", err)
	}

	caseDuration, err := meter.Float64Histogram(
		"repro.case.duration",
		metric.WithDescription("Duration of regression cases in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create case duration histogram: %w", err)
	}

	lastFailuresGauge, err := meter.Int64ObservableGauge(
		"repro.run.failures",
		metric.WithDescription("Number of failed cases in the most recent run"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create run failures gauge: %w", err)
	}

	metrics := &HarnessMetrics{
		caseCounter:    caseCounter,
		failureCounter: failureCounter,
		caseDuration:   caseDuration,
	}

	_, err = meter.RegisterCallback(
		func(ctx context.Context, observer metric.Observer) error {
			observer.ObserveInt64(lastFailuresGauge, metrics.lastFailures.Load())
			return nil
		},
		lastFailuresGauge,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to register run failures gauge callback: %w", err)
	}

	logger.Debug("harness metrics initialized")
	return metrics, nil
}

// RecordCase records one case outcome.
func (m *HarnessMetrics) RecordCase(ctx context.Context, duration time.Duration, mode string, passed bool) {
	if m == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("mode", mode),
		attribute.Bool("passed", passed),
	}
	m.caseCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.caseDuration.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
	if !passed {
		m.failureCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("mode", mode)))
	}
}

// RecordRun stores the failure count of a finished run.
func (m *HarnessMetrics) RecordRun(failures int) {
	if m == nil {
		return
	}
	m.lastFailures.Store(int64(failures))
}
