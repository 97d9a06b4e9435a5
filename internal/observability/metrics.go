package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "splitquery-repro"

// QueryMetrics holds engine metrics for plans and their physical queries.
type QueryMetrics struct {
	planDuration   metric.Float64Histogram
	planCounter    metric.Int64Counter
	errorCounter   metric.Int64Counter
	queryDuration  metric.Float64Histogram
	queryRows      metric.Int64Histogram
	parentKeys     metric.Int64Histogram
	relationChunks metric.Int64Counter
}

// InitQueryMetrics creates engine metrics on the global meter provider.
func InitQueryMetrics() (*QueryMetrics, error) {
	meter := otel.Meter(meterName)

	planDuration, err := meter.Float64Histogram(
		"repro.plan.duration",
		metric.WithDescription("Duration of plan execution including materialization in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create plan duration histogram: %w", err)
	}

	planCounter, err := meter.Int64Counter(
		"repro.plans.total",
		metric.WithDescription("Total number of executed plans"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create plan counter: %w", err)
	}

	errorCounter, err := meter.Int64Counter(
		"repro.plan.errors.total",
		metric.WithDescription("Total number of failed plans by error kind"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create plan error counter: %w", err)
	}

	queryDuration, err := meter.Float64Histogram(
		"repro.query.duration",
		metric.WithDescription("Duration of physical queries in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create query duration histogram: %w", err)
	}

	queryRows, err := meter.Int64Histogram(
		"repro.query.rows",
		metric.WithDescription("Number of rows returned by a physical query"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create query rows histogram: %w", err)
	}

	parentKeys, err := meter.Int64Histogram(
		"repro.relation.parent_keys",
		metric.WithDescription("Number of parent keys loaded for an include"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create parent keys histogram: %w", err)
	}

	relationChunks, err := meter.Int64Counter(
		"repro.relation.queries.total",
		metric.WithDescription("Number of relation queries issued after key chunking"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create relation query counter: %w", err)
	}

	return &QueryMetrics{
		planDuration:   planDuration,
		planCounter:    planCounter,
		errorCounter:   errorCounter,
		queryDuration:  queryDuration,
		queryRows:      queryRows,
		parentKeys:     parentKeys,
		relationChunks: relationChunks,
	}, nil
}

// RecordPlan records a finished plan. errorKind is empty on success.
func (m *QueryMetrics) RecordPlan(ctx context.Context, duration time.Duration, mode string, errorKind string) {
	if m == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("mode", mode),
		attribute.Bool("has_errors", errorKind != ""),
	}
	m.planDuration.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
	m.planCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	if errorKind != "" {
		m.errorCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("mode", mode),
			attribute.String("kind", errorKind),
		))
	}
}

// RecordQuery records one physical query.
func (m *QueryMetrics) RecordQuery(ctx context.Context, duration time.Duration, rows int64, kind string) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("query_kind", kind))
	m.queryDuration.Record(ctx, float64(duration.Milliseconds()), attrs)
	m.queryRows.Record(ctx, rows, attrs)
}

// RecordRelationLoad records the key snapshot size and chunk count of an include.
func (m *QueryMetrics) RecordRelationLoad(ctx context.Context, relation string, keys int64, chunks int64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("relation", relation))
	m.parentKeys.Record(ctx, keys, attrs)
	if chunks > 0 {
		m.relationChunks.Add(ctx, chunks, attrs)
	}
}
