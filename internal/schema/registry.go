package schema

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jinzhu/inflection"
)

// ErrUnknownEntity is returned when a lookup names an undeclared entity.
var ErrUnknownEntity = errors.New("unknown entity")

// Registry holds validated entity declarations.
// It is immutable after construction and safe for concurrent reads.
type Registry struct {
	entities []*Entity
	byName   map[string]*Entity
}

// NewRegistry validates and indexes the given entities.
// Relations declared without a name get one derived from the target table,
// e.g. products -> product_translations becomes "translations".
func NewRegistry(entities ...Entity) (*Registry, error) {
	r := &Registry{
		entities: make([]*Entity, 0, len(entities)),
		byName:   make(map[string]*Entity, len(entities)),
	}
	for i := range entities {
		entity := copyEntity(entities[i])
		if entity.Name == "" {
			return nil, fmt.Errorf("entity %d has no name", i)
		}
		if _, exists := r.byName[entity.Name]; exists {
			return nil, fmt.Errorf("duplicate entity %s", entity.Name)
		}
		if len(entity.PrimaryKeyColumns()) == 0 {
			return nil, fmt.Errorf("entity %s has no primary key", entity.Name)
		}
		seen := make(map[string]struct{}, len(entity.Columns))
		for _, col := range entity.Columns {
			if _, dup := seen[col.Name]; dup {
				return nil, fmt.Errorf("entity %s declares column %s twice", entity.Name, col.Name)
			}
			seen[col.Name] = struct{}{}
		}
		r.entities = append(r.entities, entity)
		r.byName[entity.Name] = entity
	}

	for _, entity := range r.entities {
		names := make(map[string]struct{}, len(entity.Relations))
		for i := range entity.Relations {
			rel := &entity.Relations[i]
			rel.Owner = entity.Name
			if rel.Name == "" {
				rel.Name = DefaultRelationName(entity.Name, rel.Target)
			}
			if _, dup := names[rel.Name]; dup {
				return nil, fmt.Errorf("entity %s declares relation %s twice", entity.Name, rel.Name)
			}
			names[rel.Name] = struct{}{}
			if err := r.validateRelation(entity, *rel); err != nil {
				return nil, err
			}
		}
	}
	return r, nil
}

func (r *Registry) validateRelation(owner *Entity, rel Relation) error {
	target, ok := r.byName[rel.Target]
	if !ok {
		return fmt.Errorf("relation %s.%s: %w %s", owner.Name, rel.Name, ErrUnknownEntity, rel.Target)
	}
	if len(rel.ForeignKeyColumns) == 0 {
		return fmt.Errorf("relation %s.%s has no foreign key columns", owner.Name, rel.Name)
	}
	if len(rel.OwnerColumns) != len(rel.ForeignKeyColumns) {
		return fmt.Errorf("relation %s.%s key mapping width mismatch", owner.Name, rel.Name)
	}
	for _, col := range rel.OwnerColumns {
		if !owner.HasColumn(col) {
			return fmt.Errorf("relation %s.%s references missing owner column %s", owner.Name, rel.Name, col)
		}
	}
	for _, col := range rel.ForeignKeyColumns {
		if !target.HasColumn(col) {
			return fmt.Errorf("relation %s.%s references missing foreign key column %s.%s", owner.Name, rel.Name, target.Name, col)
		}
	}
	return nil
}

// Entity returns the named entity.
func (r *Registry) Entity(name string) (*Entity, error) {
	entity, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntity, name)
	}
	return entity, nil
}

// Entities returns entities in declaration order.
func (r *Registry) Entities() []*Entity {
	return append([]*Entity(nil), r.entities...)
}

// RelationTarget resolves the entity a relation points at.
func (r *Registry) RelationTarget(rel *Relation) (*Entity, error) {
	if rel == nil {
		return nil, errors.New("relation is nil")
	}
	return r.Entity(rel.Target)
}

// DefaultRelationName derives a collection name from the owner and target tables.
func DefaultRelationName(owner, target string) string {
	prefix := inflection.Singular(owner) + "_"
	name := strings.TrimPrefix(target, prefix)
	return inflection.Plural(name)
}

func copyEntity(e Entity) *Entity {
	out := &Entity{
		Name:      e.Name,
		Columns:   append([]Column(nil), e.Columns...),
		Relations: make([]Relation, len(e.Relations)),
	}
	for i, rel := range e.Relations {
		rel.OwnerColumns = append([]string(nil), rel.OwnerColumns...)
		rel.ForeignKeyColumns = append([]string(nil), rel.ForeignKeyColumns...)
		out.Relations[i] = rel
	}
	return out
}
