package materializer

// Entity is one materialized row with its eager-loaded collections.
type Entity struct {
	// Key is the canonical primary key.
	Key       string
	Values    map[string]any
	Relations map[string][]*Entity
}

// Value returns a scalar column value.
func (e *Entity) Value(column string) any {
	return e.Values[column]
}

// Collection returns the loaded children for a relation.
func (e *Entity) Collection(relation string) []*Entity {
	return e.Relations[relation]
}

// ResultSet holds parents in base query order.
type ResultSet struct {
	Entity   string
	Includes []string
	Parents  []*Entity
}

// Len returns the number of parents.
func (r *ResultSet) Len() int {
	if r == nil {
		return 0
	}
	return len(r.Parents)
}

// Keys returns parent keys in order.
func (r *ResultSet) Keys() []string {
	if r == nil {
		return nil
	}
	keys := make([]string, len(r.Parents))
	for i, parent := range r.Parents {
		keys[i] = parent.Key
	}
	return keys
}
