// Package harness seeds the product catalog and runs the limit by mode
// regression matrix, checking that every eager-loaded collection is complete.
package harness

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"splitquery-repro/internal/dbexec"
	"splitquery-repro/internal/engine"
	"splitquery-repro/internal/logging"
	"splitquery-repro/internal/materializer"
	"splitquery-repro/internal/observability"
	"splitquery-repro/internal/planner"
	"splitquery-repro/internal/schema"

	"github.com/google/uuid"
)

// Config controls the regression matrix. FilterMetaKey selects parents with
// a metadata row under that key; empty means MetaKeyKind, which every seeded
// product carries.
type Config struct {
	LimitMin         int
	LimitMax         int
	OrderTag         string
	OrderDesc        bool
	FilterMetaKey    string
	Offset           int
	Modes            []planner.Mode
	ParallelIncludes bool
	MaxInClause      int
	QueryTimeout     time.Duration
}

// DefaultConfig returns the canonical scenario: limits 1..20 ordered by the
// missing tag C in both modes.
func DefaultConfig() Config {
	return Config{
		LimitMin:      1,
		LimitMax:      20,
		OrderTag:      "C",
		FilterMetaKey: MetaKeyKind,
		Modes:         []planner.Mode{planner.ModeSplit, planner.ModeJoined},
		MaxInClause:   engine.DefaultMaxInClause,
		QueryTimeout:  30 * time.Second,
	}
}

// Option configures a matrix run.
type Option func(*runner)

// WithRegistry overrides the catalog registry.
func WithRegistry(registry *schema.Registry) Option {
	return func(r *runner) { r.registry = registry }
}

// WithLogger sets the run logger.
func WithLogger(logger *logging.Logger) Option {
	return func(r *runner) { r.logger = logger }
}

// WithQueryMetrics passes engine metrics through.
func WithQueryMetrics(metrics *observability.QueryMetrics) Option {
	return func(r *runner) { r.queryMetrics = metrics }
}

// WithHarnessMetrics records case outcomes.
func WithHarnessMetrics(metrics *observability.HarnessMetrics) Option {
	return func(r *runner) { r.harnessMetrics = metrics }
}

// WithRunID fixes the run ID instead of generating one.
func WithRunID(runID string) Option {
	return func(r *runner) { r.runID = runID }
}

type runner struct {
	exec           dbexec.QueryExecutor
	cfg            Config
	registry       *schema.Registry
	logger         *logging.Logger
	queryMetrics   *observability.QueryMetrics
	harnessMetrics *observability.HarnessMetrics
	runID          string
}

// RunMatrix runs every limit in [LimitMin, LimitMax] in every mode against
// already-seeded data. Case failures are reported, not returned; the error
// is reserved for setup failures and cancellation.
func RunMatrix(ctx context.Context, exec dbexec.QueryExecutor, cfg Config, opts ...Option) (*Report, error) {
	r := &runner{exec: exec, cfg: cfg}
	for _, opt := range opts {
		opt(r)
	}
	if err := r.init(); err != nil {
		return nil, err
	}
	ctx = logging.WithRunIDContext(logging.WithLogger(ctx, r.logger), r.runID)

	truth, err := loadTruth(ctx, exec, r.registry, r.cfg.OrderTag, r.cfg.FilterMetaKey)
	if err != nil {
		return nil, err
	}
	r.logger.Info("loaded store truth",
		slog.Int("parents", len(truth.parents)),
		slog.Int("matching", len(truth.matching)),
		slog.Int("lookup_hits", truth.lookupHits),
	)

	eng := engine.New(exec,
		engine.WithLogger(r.logger),
		engine.WithMetrics(r.queryMetrics),
		engine.WithParallelIncludes(cfg.ParallelIncludes),
		engine.WithMaxInClause(cfg.MaxInClause),
	)

	report := &Report{RunID: r.runID, OrderTag: cfg.OrderTag}
	for limit := cfg.LimitMin; limit <= cfg.LimitMax; limit++ {
		byMode := make(map[planner.Mode]*materializer.ResultSet, len(cfg.Modes))
		for _, mode := range cfg.Modes {
			if err := ctx.Err(); err != nil {
				return report, err
			}
			result, res := r.runCase(ctx, eng, truth, limit, mode)
			if result != nil {
				byMode[mode] = result
			}
			report.Cases = append(report.Cases, res)
		}
		compareModes(report, byMode, limit, cfg.Modes)
	}

	r.harnessMetrics.RecordRun(report.Failed())
	r.logger.Info("matrix finished",
		slog.Int("cases", len(report.Cases)),
		slog.Int("failed", report.Failed()),
	)
	return report, nil
}

func (r *runner) init() error {
	if r.exec == nil {
		return fmt.Errorf("harness requires a query executor")
	}
	if r.cfg.LimitMin < 0 || r.cfg.LimitMax < r.cfg.LimitMin {
		return fmt.Errorf("invalid limit range [%d, %d]", r.cfg.LimitMin, r.cfg.LimitMax)
	}
	if r.cfg.Offset < 0 {
		return fmt.Errorf("offset must be non-negative, got %d", r.cfg.Offset)
	}
	if r.cfg.FilterMetaKey == "" {
		r.cfg.FilterMetaKey = MetaKeyKind
	}
	if len(r.cfg.Modes) == 0 {
		return fmt.Errorf("at least one execution mode is required")
	}
	if r.registry == nil {
		registry, err := schema.NewProductCatalogRegistry()
		if err != nil {
			return err
		}
		r.registry = registry
	}
	if r.runID == "" {
		r.runID = uuid.NewString()
	}
	if r.logger == nil {
		r.logger = logging.Discard()
	}
	r.logger = r.logger.WithRunID(r.runID)
	return nil
}

// BuildPlan builds the regression query for one limit and mode.
func BuildPlan(registry *schema.Registry, cfg Config, limit int, mode planner.Mode) (*planner.QueryPlan, error) {
	filterKey := cfg.FilterMetaKey
	if filterKey == "" {
		filterKey = MetaKeyKind
	}
	order := planner.Lookup(schema.TranslationsRelation, "tag", cfg.OrderTag, "title")
	if cfg.OrderDesc {
		order = order.Desc()
	}
	return planner.NewQuery(registry, schema.ProductsTable).
		Include(schema.TranslationsRelation, schema.MetadataRelation).
		Where(planner.Some(schema.MetadataRelation, planner.Eq("meta_key", filterKey))).
		OrderBy(order).
		Limit(limit).
		Offset(cfg.Offset).
		Mode(mode).
		Build()
}

func (r *runner) runCase(ctx context.Context, eng *engine.Engine, truth *truth, limit int, mode planner.Mode) (*materializer.ResultSet, CaseResult) {
	start := time.Now()
	res := CaseResult{Limit: limit, Mode: mode}
	defer func() {
		res.Duration = time.Since(start)
		r.harnessMetrics.RecordCase(ctx, res.Duration, mode.String(), res.Passed())
	}()

	plan, err := BuildPlan(r.registry, r.cfg, limit, mode)
	if err != nil {
		res.Failures = append(res.Failures, fmt.Sprintf("build plan: %v", err))
		return nil, res
	}

	queryCtx := ctx
	if r.cfg.QueryTimeout > 0 {
		var cancel context.CancelFunc
		queryCtx, cancel = context.WithTimeout(ctx, r.cfg.QueryTimeout)
		defer cancel()
	}
	result, err := eng.Query(queryCtx, plan)
	if err != nil {
		res.Failures = append(res.Failures, fmt.Sprintf("query: %v", err))
		r.logger.Error("case query failed",
			slog.Int("limit", limit),
			slog.String("mode", mode.String()),
			slog.String("error", err.Error()),
		)
		return nil, res
	}

	res.Parents = result.Len()
	res.Failures = checkResult(result, truth, r.cfg.Offset, limit)
	for _, failure := range res.Failures {
		r.logger.Warn("case check failed",
			slog.Int("limit", limit),
			slog.String("mode", mode.String()),
			slog.String("failure", failure),
		)
	}
	return result, res
}

// checkResult verifies limit correctness, completeness and uniqueness for
// the window starting at offset.
func checkResult(result *materializer.ResultSet, truth *truth, offset, limit int) []string {
	var failures []string

	want := min(limit, max(len(truth.matching)-offset, 0))
	if result.Len() != want {
		failures = append(failures, fmt.Sprintf("parents: got %d want %d", result.Len(), want))
	}
	if truth.lookupHits == 0 && result.Len() == want {
		if got, expected := result.Keys(), truth.expectedWindow(offset, limit); !slices.Equal(got, expected) {
			failures = append(failures, fmt.Sprintf("parent order: got %v want %v", got, expected))
		}
	}

	seenParents := make(map[string]struct{}, result.Len())
	for _, parent := range result.Parents {
		if _, dup := seenParents[parent.Key]; dup {
			failures = append(failures, fmt.Sprintf("parent %s returned twice", parent.Key))
		}
		seenParents[parent.Key] = struct{}{}
		if _, ok := truth.matching[parent.Key]; !ok {
			failures = append(failures, fmt.Sprintf("parent %s does not satisfy the filter", parent.Key))
		}

		for _, relation := range result.Includes {
			got := childKeys(parent.Collection(relation))
			expected := truth.children[relation][parent.Key]
			if hasDuplicates(got) {
				failures = append(failures, fmt.Sprintf("parent %s %s: duplicate children %v", parent.Key, relation, got))
				continue
			}
			if !sameKeys(got, expected) {
				failures = append(failures, fmt.Sprintf("parent %s %s: got %d children %v want %d %v",
					parent.Key, relation, len(got), got, len(expected), expected))
			}
		}
	}
	return failures
}

// compareModes fails the later mode's case when collections differ between modes.
func compareModes(report *Report, byMode map[planner.Mode]*materializer.ResultSet, limit int, modes []planner.Mode) {
	if len(modes) < 2 {
		return
	}
	reference, ok := byMode[modes[0]]
	if !ok {
		return
	}
	for _, mode := range modes[1:] {
		other, ok := byMode[mode]
		if !ok {
			continue
		}
		if diff := diffResults(reference, other); diff != "" {
			report.addFailure(limit, mode, fmt.Sprintf("differs from %s: %s", modes[0], diff))
		}
	}
}

func diffResults(a, b *materializer.ResultSet) string {
	if !slices.Equal(a.Keys(), b.Keys()) {
		return fmt.Sprintf("parents %v vs %v", a.Keys(), b.Keys())
	}
	for i, parent := range a.Parents {
		for _, relation := range a.Includes {
			ka := childKeys(parent.Collection(relation))
			kb := childKeys(b.Parents[i].Collection(relation))
			if !sameKeys(ka, kb) {
				return fmt.Sprintf("parent %s %s: %v vs %v", parent.Key, relation, ka, kb)
			}
		}
	}
	return ""
}

func childKeys(children []*materializer.Entity) []string {
	keys := make([]string, len(children))
	for i, child := range children {
		keys[i] = child.Key
	}
	return keys
}

func hasDuplicates(keys []string) bool {
	seen := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		if _, ok := seen[key]; ok {
			return true
		}
		seen[key] = struct{}{}
	}
	return false
}

func sameKeys(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	sa := slices.Clone(a)
	sb := slices.Clone(b)
	slices.Sort(sa)
	slices.Sort(sb)
	return slices.Equal(sa, sb)
}
