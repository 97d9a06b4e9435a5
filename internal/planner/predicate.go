package planner

import (
	"fmt"
	"strings"

	"splitquery-repro/internal/schema"
	"splitquery-repro/internal/sqlutil"

	sq "github.com/Masterminds/squirrel"
)

// Predicate is a boolean expression over an entity and its relations.
// Predicates are values; they are compiled to SQL per physical query.
type Predicate interface {
	compile(scope *compileScope) (sq.Sqlizer, error)
}

// compileScope resolves columns for one entity under one alias.
// The alias counter is shared by nested scopes of the same physical query
// and never across physical queries.
type compileScope struct {
	registry *schema.Registry
	entity   *schema.Entity
	alias    string
	counter  *int
}

func newCompileScope(registry *schema.Registry, entity *schema.Entity, alias string) *compileScope {
	counter := 0
	return &compileScope{registry: registry, entity: entity, alias: alias, counter: &counter}
}

func (s *compileScope) nested(entity *schema.Entity, alias string) *compileScope {
	return &compileScope{registry: s.registry, entity: entity, alias: alias, counter: s.counter}
}

func (s *compileScope) nextAlias(prefix string) string {
	*s.counter++
	return fmt.Sprintf("__%s_%d", prefix, *s.counter)
}

func (s *compileScope) column(name string) (string, error) {
	if !s.entity.HasColumn(name) {
		return "", invalidPlanf("unknown column %s.%s", s.entity.Name, name)
	}
	return sqlutil.QualifiedIdentifier(s.alias, name), nil
}

// relation resolves a relation owned by the scope entity together with its target.
func (s *compileScope) relation(name string) (*schema.Relation, *schema.Entity, error) {
	rel, ok := s.entity.Relation(name)
	if !ok {
		return nil, nil, invalidPlanf("relation %s is not declared on %s", name, s.entity.Name)
	}
	target, err := s.registry.RelationTarget(rel)
	if err != nil {
		return nil, nil, invalidPlanf("relation %s: %v", name, err)
	}
	return rel, target, nil
}

// correlation returns "child.fk = parent.key" pairs for a relation.
func correlation(rel *schema.Relation, childAlias, parentAlias string) string {
	pairs := make([]string, len(rel.ForeignKeyColumns))
	for i := range rel.ForeignKeyColumns {
		pairs[i] = fmt.Sprintf("%s = %s",
			sqlutil.QualifiedIdentifier(childAlias, rel.ForeignKeyColumns[i]),
			sqlutil.QualifiedIdentifier(parentAlias, rel.OwnerColumns[i]),
		)
	}
	return strings.Join(pairs, " AND ")
}

type comparisonOp int

const (
	opEq comparisonOp = iota
	opNotEq
	opIn
	opIsNull
	opNotNull
)

type comparison struct {
	column string
	op     comparisonOp
	value  any
}

// Eq matches rows where column = value.
func Eq(column string, value any) Predicate {
	return comparison{column: column, op: opEq, value: value}
}

// NotEq matches rows where column <> value.
func NotEq(column string, value any) Predicate {
	return comparison{column: column, op: opNotEq, value: value}
}

// In matches rows where column is one of values. An empty list matches nothing.
func In(column string, values ...any) Predicate {
	return comparison{column: column, op: opIn, value: append([]any{}, values...)}
}

// IsNull matches rows where column IS NULL.
func IsNull(column string) Predicate {
	return comparison{column: column, op: opIsNull}
}

// NotNull matches rows where column IS NOT NULL.
func NotNull(column string) Predicate {
	return comparison{column: column, op: opNotNull}
}

func (c comparison) compile(scope *compileScope) (sq.Sqlizer, error) {
	col, err := scope.column(c.column)
	if err != nil {
		return nil, err
	}
	switch c.op {
	case opEq:
		if c.value == nil {
			return nil, invalidPlanf("Eq(%s) with nil value; use IsNull", c.column)
		}
		return sq.Eq{col: c.value}, nil
	case opNotEq:
		if c.value == nil {
			return nil, invalidPlanf("NotEq(%s) with nil value; use NotNull", c.column)
		}
		return sq.NotEq{col: c.value}, nil
	case opIn:
		return sq.Eq{col: c.value}, nil
	case opIsNull:
		return sq.Eq{col: nil}, nil
	case opNotNull:
		return sq.NotEq{col: nil}, nil
	default:
		return nil, fmt.Errorf("unknown comparison operator %d", c.op)
	}
}

type junction struct {
	any   bool
	parts []Predicate
}

// And matches rows satisfying every predicate.
func And(preds ...Predicate) Predicate {
	return junction{parts: preds}
}

// Or matches rows satisfying at least one predicate.
func Or(preds ...Predicate) Predicate {
	return junction{any: true, parts: preds}
}

func (j junction) compile(scope *compileScope) (sq.Sqlizer, error) {
	if len(j.parts) == 0 {
		return nil, invalidPlanf("empty And/Or predicate")
	}
	compiled := make([]sq.Sqlizer, 0, len(j.parts))
	for _, part := range j.parts {
		if part == nil {
			return nil, invalidPlanf("nil predicate in And/Or")
		}
		cond, err := part.compile(scope)
		if err != nil {
			return nil, err
		}
		compiled = append(compiled, cond)
	}
	if len(compiled) == 1 {
		return compiled[0], nil
	}
	if j.any {
		return sq.Or(compiled), nil
	}
	return sq.And(compiled), nil
}

type relationExists struct {
	relation string
	where    []Predicate
	exists   bool
}

// Some matches parents with at least one related row satisfying all preds.
func Some(relation string, preds ...Predicate) Predicate {
	return relationExists{relation: relation, where: preds, exists: true}
}

// None matches parents with no related row satisfying all preds.
func None(relation string, preds ...Predicate) Predicate {
	return relationExists{relation: relation, where: preds, exists: false}
}

func (r relationExists) compile(scope *compileScope) (sq.Sqlizer, error) {
	rel, target, err := scope.relation(r.relation)
	if err != nil {
		return nil, err
	}
	alias := scope.nextAlias(target.Name)
	inner := scope.nested(target, alias)

	builder := sq.Select("1").
		From(fmt.Sprintf("%s AS %s", sqlutil.QuoteIdentifier(target.Name), sqlutil.QuoteIdentifier(alias))).
		Where(correlation(rel, alias, scope.alias))
	for _, pred := range r.where {
		if pred == nil {
			return nil, invalidPlanf("nil predicate in relation filter %s", r.relation)
		}
		cond, err := pred.compile(inner)
		if err != nil {
			return nil, err
		}
		builder = builder.Where(cond)
	}

	subquery, args, err := builder.PlaceholderFormat(sq.Question).ToSql()
	if err != nil {
		return nil, err
	}
	prefix := "EXISTS"
	if !r.exists {
		prefix = "NOT EXISTS"
	}
	return sq.Expr(fmt.Sprintf("%s (%s)", prefix, subquery), args...), nil
}
