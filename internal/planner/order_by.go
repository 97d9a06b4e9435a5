package planner

import (
	"fmt"
	"strings"

	"splitquery-repro/internal/schema"
	"splitquery-repro/internal/sqlutil"
)

// Direction is an ORDER BY direction.
type Direction int

const (
	Ascending Direction = iota
	Descending
)

func (d Direction) String() string {
	if d == Descending {
		return "DESC"
	}
	return "ASC"
}

// OrderTerm is one ORDER BY term: a base column or a correlated lookup.
type OrderTerm struct {
	column    string
	lookup    *lookupTerm
	direction Direction
}

// lookupTerm orders parents by a value of the first related row matching
// matchColumn = matchValue. The relation need not be included.
type lookupTerm struct {
	relation    string
	matchColumn string
	matchValue  any
	valueColumn string
}

// Column orders by a base entity column.
func Column(name string) OrderTerm {
	return OrderTerm{column: name}
}

// Lookup orders by valueColumn of the first row (by primary key) of relation
// whose matchColumn equals matchValue. Parents with no match sort as NULL.
func Lookup(relation, matchColumn string, matchValue any, valueColumn string) OrderTerm {
	return OrderTerm{lookup: &lookupTerm{
		relation:    relation,
		matchColumn: matchColumn,
		matchValue:  matchValue,
		valueColumn: valueColumn,
	}}
}

// Asc returns the term ordered ascending.
func (t OrderTerm) Asc() OrderTerm {
	t.direction = Ascending
	return t
}

// Desc returns the term ordered descending.
func (t OrderTerm) Desc() OrderTerm {
	t.direction = Descending
	return t
}

// Direction reports the term direction.
func (t OrderTerm) Direction() Direction {
	return t.direction
}

// IsLookup reports whether the term is a correlated lookup.
func (t OrderTerm) IsLookup() bool {
	return t.lookup != nil
}

func (t OrderTerm) String() string {
	if t.lookup != nil {
		return fmt.Sprintf("lookup(%s.%s where %s=%v) %s",
			t.lookup.relation, t.lookup.valueColumn, t.lookup.matchColumn, t.lookup.matchValue, t.direction)
	}
	return fmt.Sprintf("%s %s", t.column, t.direction)
}

// orderClause is a compiled ORDER BY term.
type orderClause struct {
	expr string
	args []any
}

func (t OrderTerm) compile(scope *compileScope) (orderClause, error) {
	if t.lookup == nil {
		col, err := scope.column(t.column)
		if err != nil {
			return orderClause{}, err
		}
		return orderClause{expr: col + " " + t.direction.String()}, nil
	}
	expr, args, err := t.lookup.compile(scope)
	if err != nil {
		return orderClause{}, err
	}
	return orderClause{expr: expr + " " + t.direction.String(), args: args}, nil
}

// compile renders the scalar sub-query. It carries its own LIMIT 1 and its
// own alias so it never shares state with the outer query window.
func (l *lookupTerm) compile(scope *compileScope) (string, []any, error) {
	rel, target, err := scope.relation(l.relation)
	if err != nil {
		return "", nil, err
	}
	if !target.HasColumn(l.matchColumn) {
		return "", nil, invalidPlanf("unknown lookup match column %s.%s", target.Name, l.matchColumn)
	}
	if !target.HasColumn(l.valueColumn) {
		return "", nil, invalidPlanf("unknown lookup value column %s.%s", target.Name, l.valueColumn)
	}
	if l.matchValue == nil {
		return "", nil, invalidPlanf("lookup %s requires a non-nil match value", l.relation)
	}
	alias := scope.nextAlias(target.Name)
	order := sqlList(sqlutil.QuoteIdentifiers(alias, target.PrimaryKeyColumns()))
	sql := fmt.Sprintf("(SELECT %s FROM %s AS %s WHERE %s AND %s = ? ORDER BY %s LIMIT 1)",
		sqlutil.QualifiedIdentifier(alias, l.valueColumn),
		sqlutil.QuoteIdentifier(target.Name),
		sqlutil.QuoteIdentifier(alias),
		correlation(rel, alias, scope.alias),
		sqlutil.QualifiedIdentifier(alias, l.matchColumn),
		order,
	)
	return sql, []any{l.matchValue}, nil
}

// compileOrder renders the full ORDER BY list for an entity scope, appending
// primary key columns not already ordered on as ascending tie-breakers.
func compileOrder(scope *compileScope, terms []OrderTerm) (string, []any, error) {
	parts := make([]string, 0, len(terms)+1)
	var args []any
	ordered := make(map[string]struct{}, len(terms))
	for _, term := range terms {
		clause, err := term.compile(scope)
		if err != nil {
			return "", nil, err
		}
		parts = append(parts, clause.expr)
		args = append(args, clause.args...)
		if term.lookup == nil {
			ordered[term.column] = struct{}{}
		}
	}
	for _, pk := range scope.entity.PrimaryKeyColumns() {
		if _, ok := ordered[pk]; ok {
			continue
		}
		parts = append(parts, sqlutil.QualifiedIdentifier(scope.alias, pk)+" ASC")
	}
	return strings.Join(parts, ", "), args, nil
}

// validateOrderTerm checks a term against an entity without a real query.
func validateOrderTerm(registry *schema.Registry, entity *schema.Entity, term OrderTerm) error {
	_, err := term.compile(newCompileScope(registry, entity, entity.Name))
	return err
}
