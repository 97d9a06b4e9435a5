// Package engine executes query plans against a store and returns
// materialized result sets.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"splitquery-repro/internal/dbexec"
	"splitquery-repro/internal/logging"
	"splitquery-repro/internal/materializer"
	"splitquery-repro/internal/observability"
	"splitquery-repro/internal/planner"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

// DefaultMaxInClause bounds the number of parent keys per relation query.
const DefaultMaxInClause = 1000

// Engine runs plans. It holds no per-request state and is safe for concurrent use.
type Engine struct {
	exec     dbexec.QueryExecutor
	logger   *logging.Logger
	metrics  *observability.QueryMetrics
	parallel bool
	maxIn    int
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger; otherwise the context logger is used.
func WithLogger(logger *logging.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithMetrics records query metrics.
func WithMetrics(metrics *observability.QueryMetrics) Option {
	return func(e *Engine) { e.metrics = metrics }
}

// WithParallelIncludes loads includes concurrently once the parent keys are known.
func WithParallelIncludes(enabled bool) Option {
	return func(e *Engine) { e.parallel = enabled }
}

// WithMaxInClause sets the parent key chunk size for relation queries.
func WithMaxInClause(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxIn = n
		}
	}
}

// New creates an engine over exec.
func New(exec dbexec.QueryExecutor, opts ...Option) *Engine {
	e := &Engine{exec: exec, maxIn: DefaultMaxInClause}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Query executes plan and returns parents in plan order with every
// included collection fully loaded.
func (e *Engine) Query(ctx context.Context, plan *planner.QueryPlan) (result *materializer.ResultSet, err error) {
	if plan == nil {
		return nil, &planner.InvalidPlanError{Reason: "nil plan"}
	}
	start := time.Now()
	limit, limited := plan.Limit()
	ctx, span := startEngineSpan(ctx, "engine.query",
		attribute.String("repro.entity", plan.Entity().Name),
		attribute.String("repro.mode", plan.Mode().String()),
		attribute.Int("repro.limit", limit),
		attribute.Bool("repro.limited", limited),
		attribute.Int("repro.offset", plan.Offset()),
	)
	defer func() {
		if result != nil {
			span.SetAttributes(attribute.Int("repro.parents", result.Len()))
		}
		finishEngineSpan(span, err)
		e.metrics.RecordPlan(ctx, time.Since(start), plan.Mode().String(), errorKind(err))
	}()

	physical, err := planner.Split(plan)
	if err != nil {
		return nil, err
	}
	m, err := materializer.New(plan.Registry(), plan.Entity(), plan.Includes())
	if err != nil {
		return nil, err
	}

	switch physical.Mode {
	case planner.ModeJoined:
		err = e.runJoined(ctx, physical, m)
	default:
		err = e.runSplit(ctx, physical, m)
	}
	if err != nil {
		var merr *materializer.MaterializationError
		if errors.As(err, &merr) {
			e.loggerFor(ctx).Error("materialization failed",
				slog.String("relation", merr.Relation),
				slog.String("key", merr.Key),
				slog.String("reason", merr.Reason),
			)
		}
		return nil, err
	}
	return m.Result(), nil
}

func (e *Engine) runJoined(ctx context.Context, physical *planner.PhysicalPlan, m *materializer.Materializer) error {
	rows, err := e.run(ctx, physical.Base)
	if err != nil {
		return err
	}
	for _, row := range rows {
		if err := m.AddJoinedRow(row); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) runSplit(ctx context.Context, physical *planner.PhysicalPlan, m *materializer.Materializer) error {
	baseRows, err := e.run(ctx, physical.Base)
	if err != nil {
		return err
	}
	if err := m.AddParents(baseRows); err != nil {
		return err
	}

	keys := physical.SnapshotKeys(baseRows)
	queries, err := physical.RelationQueries(keys, e.maxIn)
	if err != nil {
		return err
	}
	chunks := make(map[string]int64, len(physical.Includes()))
	for _, q := range queries {
		chunks[q.Relation.Name]++
	}
	for _, rel := range physical.Includes() {
		e.metrics.RecordRelationLoad(ctx, rel.Name, int64(len(keys[rel.Name])), chunks[rel.Name])
	}
	if len(queries) == 0 {
		return nil
	}

	results := make([][]map[string]any, len(queries))
	if e.parallel && len(queries) > 1 {
		g, gctx := errgroup.WithContext(ctx)
		for i, q := range queries {
			g.Go(func() error {
				rows, err := e.run(gctx, q)
				if err != nil {
					return err
				}
				results[i] = rows
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	} else {
		for i, q := range queries {
			rows, err := e.run(ctx, q)
			if err != nil {
				return err
			}
			results[i] = rows
		}
	}

	// Attach in query order so output does not depend on completion order.
	for i, q := range queries {
		if err := m.Attach(q.Relation, results[i], q.ParentAliases); err != nil {
			return err
		}
	}
	return nil
}

// run executes one physical query and scans all of its rows.
func (e *Engine) run(ctx context.Context, q planner.PhysicalQuery) (rows []map[string]any, err error) {
	start := time.Now()
	ctx, span := startEngineSpan(ctx, "engine.physical_query",
		attribute.String("repro.query", q.Name),
		attribute.Int("repro.args", len(q.Args)),
	)
	defer func() {
		finishEngineSpan(span, err)
		e.metrics.RecordQuery(ctx, time.Since(start), int64(len(rows)), queryKind(q))
	}()

	e.loggerFor(ctx).Debug("executing query",
		slog.String("query", q.Name),
		slog.String("sql", q.SQL),
		slog.Int("args", len(q.Args)),
	)

	if e.exec == nil {
		return nil, &StoreExecutionError{Query: q.Name, SQL: q.SQL, Err: errors.New("no executor")}
	}
	result, err := e.exec.QueryContext(ctx, q.SQL, q.Args...)
	if err != nil {
		return nil, &StoreExecutionError{Query: q.Name, SQL: q.SQL, Err: err}
	}
	defer result.Close()

	rows, err = scanRows(result)
	if err != nil {
		return nil, &StoreExecutionError{Query: q.Name, SQL: q.SQL, Err: err}
	}
	span.SetAttributes(attribute.Int("repro.rows", len(rows)))
	return rows, nil
}

func scanRows(rows dbexec.Rows) ([]map[string]any, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var results []map[string]any
	for rows.Next() {
		values := make([]any, len(columns))
		valuePtrs := make([]any, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}

		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, err
		}

		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = convertValue(values[i])
		}
		results = append(results, row)
	}
	return results, rows.Err()
}

func convertValue(val any) any {
	if b, ok := val.([]byte); ok {
		return string(b)
	}
	return val
}

func (e *Engine) loggerFor(ctx context.Context) *logging.Logger {
	if e.logger != nil {
		return e.logger
	}
	return logging.FromContext(ctx)
}

func queryKind(q planner.PhysicalQuery) string {
	if q.Relation != nil {
		return "relation"
	}
	return q.Name
}

func errorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, planner.ErrInvalidPlan):
		return "invalid_plan"
	case errors.Is(err, ErrStoreExecution):
		return "store"
	case errors.Is(err, materializer.ErrMaterialization):
		return "materialization"
	default:
		return "other"
	}
}
