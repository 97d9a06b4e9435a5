package planner

import (
	"errors"
	"fmt"
	"strings"

	"splitquery-repro/internal/schema"
)

// ErrNoPrimaryKey indicates a required primary key is missing for a plan.
var ErrNoPrimaryKey = errors.New("no primary key")

// BatchParentAlias is the column alias used to return parent keys in relation batch queries.
const BatchParentAlias = "__batch_parent_id"

const batchParentAliasPrefix = "__batch_parent_"

// ParentTuple represents an ordered (possibly composite) parent key.
type ParentTuple struct {
	Values []any
}

// BatchParentAliases returns the extra scan aliases emitted by relation batch SQL.
func BatchParentAliases(columnCount int) []string {
	if columnCount <= 1 {
		return []string{BatchParentAlias}
	}
	aliases := make([]string, columnCount)
	for i := 0; i < columnCount; i++ {
		aliases[i] = batchParentAliasPrefix + fmt.Sprint(i)
	}
	return aliases
}

// SQLQuery represents a planned SQL statement with bound args.
type SQLQuery struct {
	SQL  string
	Args []any
}

// PhysicalQuery is one executable unit of a plan.
type PhysicalQuery struct {
	// Name identifies the query in logs, spans and errors ("base", "joined", "include:translations").
	Name string
	SQLQuery
	// Relation is the relation this query loads; nil for base and joined queries.
	Relation *schema.Relation
	// Columns lists scan names in select order.
	Columns []string
	// ParentAliases are the trailing columns carrying the parent correlation key.
	ParentAliases []string
}

// JoinedBasePrefix is the alias prefix of base entity columns in joined output.
const JoinedBasePrefix = "__base"

// JoinedRelationPrefix returns the alias prefix for the i-th included relation.
func JoinedRelationPrefix(i int) string {
	return fmt.Sprintf("__r%d", i)
}

// JoinedColumnAlias names a column in joined-mode output: __base__id, __r0__title.
func JoinedColumnAlias(prefix, column string) string {
	return prefix + "__" + column
}

func sqlList(parts []string) string {
	return strings.Join(parts, ", ")
}
