package planner

import (
	"errors"
	"fmt"
	"strings"

	"splitquery-repro/internal/schema"
	"splitquery-repro/internal/sqlutil"

	sq "github.com/Masterminds/squirrel"
)

// ErrNoParentKeys is returned when a relation batch has nothing to load.
var ErrNoParentKeys = errors.New("no parent keys")

// RelationBatch is the parameter snapshot for one relation query: the
// relation to load and the exact parent keys to load it for. It carries no
// window; the parent set was already limited by the base query.
type RelationBatch struct {
	Relation *schema.Relation
	Target   *schema.Entity
	Keys     []ParentTuple
}

// PlanRelationBatch builds the query loading every child row of the given
// parents. The correlation key is echoed back under BatchParentAliases so
// rows can be reattached without inspecting relation metadata.
func PlanRelationBatch(batch RelationBatch) (PhysicalQuery, error) {
	rel := batch.Relation
	target := batch.Target
	if rel == nil || target == nil {
		return PhysicalQuery{}, fmt.Errorf("relation batch requires a relation and its target")
	}
	if len(batch.Keys) == 0 {
		return PhysicalQuery{}, fmt.Errorf("relation batch %s: %w", rel.Name, ErrNoParentKeys)
	}
	pkCols := target.PrimaryKeyColumns()
	if len(pkCols) == 0 {
		return PhysicalQuery{}, fmt.Errorf("%s: %w", target.Name, ErrNoPrimaryKey)
	}

	alias := target.Name
	columns := target.ColumnNames()
	parentAliases := BatchParentAliases(len(rel.ForeignKeyColumns))
	selects := sqlutil.QuoteIdentifiers(alias, columns)
	for i, fk := range rel.ForeignKeyColumns {
		selects = append(selects, fmt.Sprintf("%s AS %s",
			sqlutil.QualifiedIdentifier(alias, fk), sqlutil.QuoteIdentifier(parentAliases[i])))
	}

	inCond, inArgs, err := buildTupleInCondition(sqlutil.QuoteIdentifiers(alias, rel.ForeignKeyColumns), batch.Keys)
	if err != nil {
		return PhysicalQuery{}, fmt.Errorf("relation batch %s: %w", rel.Name, err)
	}

	order := append(sqlutil.QuoteIdentifiers(alias, rel.ForeignKeyColumns), sqlutil.QuoteIdentifiers(alias, pkCols)...)
	query, args, err := sq.Select(selects...).
		From(sqlutil.QuoteIdentifier(target.Name)).
		Where(sq.Expr(inCond, inArgs...)).
		OrderBy(order...).
		PlaceholderFormat(sq.Question).
		ToSql()
	if err != nil {
		return PhysicalQuery{}, err
	}

	return PhysicalQuery{
		Name:          "include:" + rel.Name,
		SQLQuery:      SQLQuery{SQL: query, Args: args},
		Relation:      rel,
		Columns:       append(columns, parentAliases...),
		ParentAliases: parentAliases,
	}, nil
}

// buildTupleInCondition renders col IN (...) for single-column keys and an
// OR of AND groups for composite keys, which every supported dialect accepts.
func buildTupleInCondition(quotedColumns []string, tuples []ParentTuple) (string, []any, error) {
	if len(tuples) == 0 {
		return "", nil, nil
	}
	width := len(quotedColumns)
	if width == 0 {
		return "", nil, fmt.Errorf("tuple IN requires at least one column")
	}

	if width == 1 {
		placeholders := sq.Placeholders(len(tuples))
		args := make([]any, 0, len(tuples))
		for _, tuple := range tuples {
			if len(tuple.Values) != 1 {
				return "", nil, fmt.Errorf("tuple width mismatch: expected 1 value")
			}
			args = append(args, tuple.Values[0])
		}
		return fmt.Sprintf("%s IN (%s)", quotedColumns[0], placeholders), args, nil
	}

	args := make([]any, 0, len(tuples)*width)
	groups := make([]string, 0, len(tuples))
	conds := make([]string, width)
	for i, col := range quotedColumns {
		conds[i] = col + " = ?"
	}
	group := "(" + strings.Join(conds, " AND ") + ")"
	for _, tuple := range tuples {
		if len(tuple.Values) != width {
			return "", nil, fmt.Errorf("tuple width mismatch: expected %d values", width)
		}
		groups = append(groups, group)
		args = append(args, tuple.Values...)
	}
	return "(" + strings.Join(groups, " OR ") + ")", args, nil
}
