package planner

import (
	"fmt"

	"splitquery-repro/internal/sqlutil"

	sq "github.com/Masterminds/squirrel"
)

const rowNumberAlias = "__rn"

// PlanJoined builds the single-query form of a plan. Parents are ranked with
// ROW_NUMBER inside a derived table so the window bounds parents rather than
// joined fan-out rows; includes are LEFT JOINed onto the ranked parents.
func PlanJoined(plan *QueryPlan) (PhysicalQuery, error) {
	entity := plan.entity
	if len(entity.PrimaryKeyColumns()) == 0 {
		return PhysicalQuery{}, fmt.Errorf("%s: %w", entity.Name, ErrNoPrimaryKey)
	}
	window := windowOf(plan)
	scope := newCompileScope(plan.registry, entity, entity.Name)

	orderSQL, orderArgs, err := compileOrder(scope, plan.order)
	if err != nil {
		return PhysicalQuery{}, err
	}
	inner := sq.Select(sqlutil.QuoteIdentifiers(entity.Name, entity.ColumnNames())...).
		Column(sq.Expr(fmt.Sprintf("ROW_NUMBER() OVER (ORDER BY %s) AS %s", orderSQL, sqlutil.QuoteIdentifier(rowNumberAlias)), orderArgs...)).
		From(sqlutil.QuoteIdentifier(entity.Name))
	if plan.filter != nil {
		cond, err := plan.filter.compile(scope)
		if err != nil {
			return PhysicalQuery{}, err
		}
		inner = inner.Where(cond)
	}
	innerSQL, innerArgs, err := inner.PlaceholderFormat(sq.Question).ToSql()
	if err != nil {
		return PhysicalQuery{}, err
	}

	var (
		selects []string
		columns []string
		orderBy = []string{sqlutil.QualifiedIdentifier(JoinedBasePrefix, rowNumberAlias)}
	)
	for _, col := range entity.ColumnNames() {
		name := JoinedColumnAlias(JoinedBasePrefix, col)
		selects = append(selects, fmt.Sprintf("%s AS %s", sqlutil.QualifiedIdentifier(JoinedBasePrefix, col), sqlutil.QuoteIdentifier(name)))
		columns = append(columns, name)
	}

	outer := sq.Select().
		From(fmt.Sprintf("(%s) AS %s", innerSQL, sqlutil.QuoteIdentifier(JoinedBasePrefix)))
	for i, rel := range plan.includes {
		target, err := plan.registry.RelationTarget(rel)
		if err != nil {
			return PhysicalQuery{}, err
		}
		prefix := JoinedRelationPrefix(i)
		for _, col := range target.ColumnNames() {
			name := JoinedColumnAlias(prefix, col)
			selects = append(selects, fmt.Sprintf("%s AS %s", sqlutil.QualifiedIdentifier(prefix, col), sqlutil.QuoteIdentifier(name)))
			columns = append(columns, name)
		}
		outer = outer.LeftJoin(fmt.Sprintf("%s AS %s ON %s",
			sqlutil.QuoteIdentifier(target.Name),
			sqlutil.QuoteIdentifier(prefix),
			correlation(rel, prefix, JoinedBasePrefix),
		))
		orderBy = append(orderBy, sqlutil.QuoteIdentifiers(prefix, target.PrimaryKeyColumns())...)
	}
	outer = outer.Columns(selects...).OrderBy(orderBy...)

	rn := sqlutil.QualifiedIdentifier(JoinedBasePrefix, rowNumberAlias)
	if window.offset > 0 {
		outer = outer.Where(sq.Expr(rn+" > ?", window.offset))
	}
	if window.limited {
		outer = outer.Where(sq.Expr(rn+" <= ?", window.offset+window.limit))
	}

	outerSQL, outerArgs, err := outer.PlaceholderFormat(sq.Question).ToSql()
	if err != nil {
		return PhysicalQuery{}, err
	}
	return PhysicalQuery{
		Name:     "joined",
		SQLQuery: SQLQuery{SQL: outerSQL, Args: append(innerArgs, outerArgs...)},
		Columns:  columns,
	}, nil
}
