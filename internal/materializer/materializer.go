// Package materializer correlates flat query rows into parent entities with
// populated collections. Rows are expected as scanned by the engine, with
// byte slices already converted to strings.
package materializer

import (
	"fmt"

	"splitquery-repro/internal/planner"
	"splitquery-repro/internal/schema"
)

// Materializer builds one ResultSet. It is not safe for concurrent use.
type Materializer struct {
	entity   *schema.Entity
	includes []*schema.Relation
	targets  map[string]*schema.Entity

	parents []*Entity
	byKey   map[string]*Entity
	// owners indexes parents by each relation's owner key columns. Owner
	// columns need not be unique, so one key may map to several parents.
	owners map[string]map[string][]*Entity
	// seen tracks attached child keys per relation and parent.
	seen map[string]map[string]map[string]struct{}
}

// New returns a materializer for entity with the given includes.
func New(registry *schema.Registry, entity *schema.Entity, includes []*schema.Relation) (*Materializer, error) {
	if entity == nil {
		return nil, fmt.Errorf("materializer requires an entity")
	}
	m := &Materializer{
		entity:   entity,
		includes: append([]*schema.Relation(nil), includes...),
		targets:  make(map[string]*schema.Entity, len(includes)),
		byKey:    make(map[string]*Entity),
		owners:   make(map[string]map[string][]*Entity, len(includes)),
		seen:     make(map[string]map[string]map[string]struct{}, len(includes)),
	}
	for _, rel := range includes {
		target, err := registry.RelationTarget(rel)
		if err != nil {
			return nil, err
		}
		m.targets[rel.Name] = target
		m.owners[rel.Name] = make(map[string][]*Entity)
		m.seen[rel.Name] = make(map[string]map[string]struct{})
	}
	return m, nil
}

// AddParents appends base rows as parents, preserving their order.
func (m *Materializer) AddParents(rows []map[string]any) error {
	for _, row := range rows {
		if _, err := m.addParent(row, m.entity.ColumnNames()); err != nil {
			return err
		}
	}
	return nil
}

func (m *Materializer) addParent(values map[string]any, columns []string) (*Entity, error) {
	key, ok := keyOf(values, m.entity.PrimaryKeyColumns())
	if !ok {
		return nil, &MaterializationError{Key: key, Reason: "parent row without primary key"}
	}
	if existing, ok := m.byKey[key]; ok {
		return existing, &MaterializationError{Key: key, Reason: "duplicate parent"}
	}
	parent := &Entity{
		Key:       key,
		Values:    pick(values, columns),
		Relations: make(map[string][]*Entity, len(m.includes)),
	}
	for _, rel := range m.includes {
		parent.Relations[rel.Name] = []*Entity{}
		if ownerKey, ok := keyOf(values, rel.OwnerColumns); ok {
			m.owners[rel.Name][ownerKey] = append(m.owners[rel.Name][ownerKey], parent)
		}
	}
	m.parents = append(m.parents, parent)
	m.byKey[key] = parent
	return parent, nil
}

// Attach adds child rows of an include. Each row carries its parent key
// under parentAliases; rows whose parent is not in the result are an error.
func (m *Materializer) Attach(rel *schema.Relation, rows []map[string]any, parentAliases []string) error {
	if rel == nil {
		return fmt.Errorf("attach requires a relation")
	}
	target, ok := m.targets[rel.Name]
	if !ok {
		return &MaterializationError{Relation: rel.Name, Reason: "relation was not included"}
	}
	for _, row := range rows {
		parentKey, ok := keyOf(row, parentAliases)
		if !ok {
			return &MaterializationError{Relation: rel.Name, Key: parentKey, Reason: "child row without parent key"}
		}
		parents := m.owners[rel.Name][parentKey]
		if len(parents) == 0 {
			return &MaterializationError{Relation: rel.Name, Key: parentKey, Reason: "child row references unknown parent"}
		}
		childKey, ok := keyOf(row, target.PrimaryKeyColumns())
		if !ok {
			return &MaterializationError{Relation: rel.Name, Key: parentKey, Reason: "child row without primary key"}
		}
		for _, parent := range parents {
			m.appendChild(rel.Name, parent, childKey, pick(row, target.ColumnNames()))
		}
	}
	return nil
}

// AddJoinedRow decodes one joined-mode row. Parents appear in row order;
// children are deduplicated by primary key and all-null joined sides skipped.
func (m *Materializer) AddJoinedRow(row map[string]any) error {
	baseValues := unprefix(row, planner.JoinedBasePrefix, m.entity.ColumnNames())
	key, ok := keyOf(baseValues, m.entity.PrimaryKeyColumns())
	if !ok {
		return &MaterializationError{Key: key, Reason: "joined row without parent key"}
	}
	parent, exists := m.byKey[key]
	if !exists {
		var err error
		if parent, err = m.addParent(baseValues, m.entity.ColumnNames()); err != nil {
			return err
		}
	}

	for i, rel := range m.includes {
		target := m.targets[rel.Name]
		childValues := unprefix(row, planner.JoinedRelationPrefix(i), target.ColumnNames())
		childKey, ok := keyOf(childValues, target.PrimaryKeyColumns())
		if !ok {
			continue
		}
		m.appendChild(rel.Name, parent, childKey, childValues)
	}
	return nil
}

func (m *Materializer) appendChild(relation string, parent *Entity, childKey string, values map[string]any) {
	byParent := m.seen[relation]
	seen, ok := byParent[parent.Key]
	if !ok {
		seen = make(map[string]struct{})
		byParent[parent.Key] = seen
	}
	if _, dup := seen[childKey]; dup {
		return
	}
	seen[childKey] = struct{}{}
	parent.Relations[relation] = append(parent.Relations[relation], &Entity{
		Key:       childKey,
		Values:    values,
		Relations: map[string][]*Entity{},
	})
}

// Result returns the materialized parents in base order.
func (m *Materializer) Result() *ResultSet {
	includes := make([]string, len(m.includes))
	for i, rel := range m.includes {
		includes[i] = rel.Name
	}
	parents := m.parents
	if parents == nil {
		parents = []*Entity{}
	}
	return &ResultSet{Entity: m.entity.Name, Includes: includes, Parents: parents}
}

// keyOf returns the canonical key over columns; ok is false when any is null.
func keyOf(row map[string]any, columns []string) (string, bool) {
	if len(columns) == 0 {
		return "", false
	}
	values := make([]any, len(columns))
	for i, col := range columns {
		v, present := row[col]
		if !present || v == nil {
			return planner.TupleKey(values[:i]), false
		}
		values[i] = v
	}
	return planner.TupleKey(values), true
}

func pick(row map[string]any, columns []string) map[string]any {
	out := make(map[string]any, len(columns))
	for _, col := range columns {
		out[col] = row[col]
	}
	return out
}

func unprefix(row map[string]any, prefix string, columns []string) map[string]any {
	out := make(map[string]any, len(columns))
	for _, col := range columns {
		out[col] = row[planner.JoinedColumnAlias(prefix, col)]
	}
	return out
}
