package planner

import (
	"fmt"
	"math"

	"splitquery-repro/internal/schema"
	"splitquery-repro/internal/sqlutil"

	sq "github.com/Masterminds/squirrel"
)

// baseWindow is the parent window snapshot taken from a plan.
type baseWindow struct {
	limit   int
	limited bool
	offset  int
}

func windowOf(plan *QueryPlan) baseWindow {
	return baseWindow{limit: plan.limit, limited: plan.limited, offset: plan.offset}
}

func (w baseWindow) bounded() bool {
	return w.limited || w.offset > 0
}

// limitArgs returns LIMIT and OFFSET values; an unlimited window with an
// offset uses the largest representable limit.
func (w baseWindow) limitArgs() (int64, int64) {
	limit := int64(math.MaxInt64)
	if w.limited {
		limit = int64(w.limit)
	}
	return limit, int64(w.offset)
}

// KeySnapshot maps an include name to the parent keys its query must load.
// It is taken once from the limited base rows and never mutated afterwards.
type KeySnapshot map[string][]ParentTuple

// PhysicalPlan is the executable form of a QueryPlan.
type PhysicalPlan struct {
	Mode Mode
	Base PhysicalQuery

	registry *schema.Registry
	entity   *schema.Entity
	includes []*schema.Relation
}

// Includes returns the relations to load, in plan order.
func (p *PhysicalPlan) Includes() []*schema.Relation {
	return append([]*schema.Relation(nil), p.includes...)
}

// Entity returns the base entity.
func (p *PhysicalPlan) Entity() *schema.Entity {
	return p.entity
}

// Registry returns the registry the plan was validated against.
func (p *PhysicalPlan) Registry() *schema.Registry {
	return p.registry
}

// Split lowers a plan into its physical queries. Joined plans have only Base;
// split plans derive relation queries from base results via RelationQueries.
func Split(plan *QueryPlan) (*PhysicalPlan, error) {
	if plan == nil {
		return nil, invalidPlanf("nil plan")
	}
	var (
		base PhysicalQuery
		err  error
	)
	switch plan.mode {
	case ModeJoined:
		base, err = PlanJoined(plan)
	case ModeSplit:
		base, err = PlanSplitBase(plan)
	default:
		err = invalidPlanf("unknown execution mode %s", plan.mode)
	}
	if err != nil {
		return nil, err
	}
	return &PhysicalPlan{
		Mode:     plan.mode,
		Base:     base,
		registry: plan.registry,
		entity:   plan.entity,
		includes: plan.Includes(),
	}, nil
}

// PlanSplitBase builds the base query of a split plan: filter, order and the
// parent window, with no includes joined.
func PlanSplitBase(plan *QueryPlan) (PhysicalQuery, error) {
	entity := plan.entity
	if len(entity.PrimaryKeyColumns()) == 0 {
		return PhysicalQuery{}, fmt.Errorf("%s: %w", entity.Name, ErrNoPrimaryKey)
	}
	window := windowOf(plan)
	alias := entity.Name
	scope := newCompileScope(plan.registry, entity, alias)

	columns := entity.ColumnNames()
	builder := sq.Select(sqlutil.QuoteIdentifiers(alias, columns)...).
		From(sqlutil.QuoteIdentifier(entity.Name))
	if plan.filter != nil {
		cond, err := plan.filter.compile(scope)
		if err != nil {
			return PhysicalQuery{}, err
		}
		builder = builder.Where(cond)
	}
	orderSQL, orderArgs, err := compileOrder(scope, plan.order)
	if err != nil {
		return PhysicalQuery{}, err
	}
	builder = builder.OrderByClause(orderSQL, orderArgs...)
	if window.bounded() {
		limit, offset := window.limitArgs()
		builder = builder.Suffix("LIMIT ? OFFSET ?", limit, offset)
	}

	query, args, err := builder.PlaceholderFormat(sq.Question).ToSql()
	if err != nil {
		return PhysicalQuery{}, err
	}
	return PhysicalQuery{
		Name:     "base",
		SQLQuery: SQLQuery{SQL: query, Args: args},
		Columns:  columns,
	}, nil
}

// SnapshotKeys collects, per include, the distinct owner keys present in the
// base rows, in base order.
func (p *PhysicalPlan) SnapshotKeys(baseRows []map[string]any) KeySnapshot {
	snapshot := make(KeySnapshot, len(p.includes))
	for _, rel := range p.includes {
		snapshot[rel.Name] = UniqueParentTuples(baseRows, rel.OwnerColumns)
	}
	return snapshot
}

// RelationQueries builds one query per include and key chunk. Includes with
// no parent keys produce no query.
func (p *PhysicalPlan) RelationQueries(keys KeySnapshot, maxIn int) ([]PhysicalQuery, error) {
	if p.Mode != ModeSplit {
		return nil, nil
	}
	var queries []PhysicalQuery
	for _, rel := range p.includes {
		target, err := p.registry.RelationTarget(rel)
		if err != nil {
			return nil, err
		}
		chunks := ChunkParentTuples(keys[rel.Name], maxIn)
		for i, chunk := range chunks {
			query, err := PlanRelationBatch(RelationBatch{
				Relation: rel,
				Target:   target,
				Keys:     append([]ParentTuple(nil), chunk...),
			})
			if err != nil {
				return nil, err
			}
			if len(chunks) > 1 {
				query.Name = fmt.Sprintf("%s#%d", query.Name, i)
			}
			queries = append(queries, query)
		}
	}
	return queries, nil
}
