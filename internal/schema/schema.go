// Package schema declares the entity model the planner and materializer work
// against: entities with scalar columns and one-to-many relations mapped by
// foreign key columns on the related side.
package schema

import (
	"fmt"
	"strings"
)

// ColumnType is the storage class of a scalar column.
type ColumnType string

const (
	TypeInt  ColumnType = "int"
	TypeText ColumnType = "text"
)

// Column is a scalar attribute of an entity.
type Column struct {
	Name         string
	Type         ColumnType
	IsPrimaryKey bool
	IsNullable   bool
}

// Relation describes a one-to-many link from an owning entity to a related entity.
// OwnerColumns[i] on the owner is referenced by ForeignKeyColumns[i] on the target.
// OwnerColumns need not be unique; several owners may share the same children.
type Relation struct {
	Name              string
	Owner             string
	Target            string
	OwnerColumns      []string
	ForeignKeyColumns []string
}

// Entity is a row-backed type with a primary key, scalar columns, and relations.
type Entity struct {
	Name      string
	Columns   []Column
	Relations []Relation
}

// Column returns the named column, if declared.
func (e *Entity) Column(name string) (Column, bool) {
	for _, col := range e.Columns {
		if col.Name == name {
			return col, true
		}
	}
	return Column{}, false
}

// HasColumn reports whether the entity declares the column.
func (e *Entity) HasColumn(name string) bool {
	_, ok := e.Column(name)
	return ok
}

// Relation returns the named relation owned by this entity.
func (e *Entity) Relation(name string) (*Relation, bool) {
	for i := range e.Relations {
		if e.Relations[i].Name == name {
			return &e.Relations[i], true
		}
	}
	return nil, false
}

// PrimaryKeyColumns returns primary key column names in declaration order.
func (e *Entity) PrimaryKeyColumns() []string {
	var cols []string
	for _, col := range e.Columns {
		if col.IsPrimaryKey {
			cols = append(cols, col.Name)
		}
	}
	return cols
}

// ColumnNames returns all column names in declaration order.
func (e *Entity) ColumnNames() []string {
	names := make([]string, len(e.Columns))
	for i, col := range e.Columns {
		names[i] = col.Name
	}
	return names
}

// String renders the relation as owner.name -> target(fk).
func (r Relation) String() string {
	return fmt.Sprintf("%s.%s -> %s(%s)", r.Owner, r.Name, r.Target, strings.Join(r.ForeignKeyColumns, ","))
}
