package harness

import (
	"context"
	"fmt"

	"splitquery-repro/internal/dbexec"
	"splitquery-repro/internal/planner"
	"splitquery-repro/internal/schema"
	"splitquery-repro/internal/sqlutil"

	sq "github.com/Masterminds/squirrel"
)

// truth is the store's view of the dataset, loaded with plain per-table
// queries that share nothing with the engine under test.
type truth struct {
	// parents lists parent keys in primary key order.
	parents []string
	// children maps relation -> parent key -> child keys in primary key order.
	children map[string]map[string][]string
	// matching is the set of parents that satisfy the matrix filter.
	matching map[string]struct{}
	// lookupHits counts parents with at least one row matching the order lookup.
	lookupHits int
}

func quote(name string) string {
	return sqlutil.QuoteIdentifier(name)
}

func quoteAll(names []string) []string {
	return sqlutil.QuoteIdentifiers("", names)
}

func loadTruth(ctx context.Context, exec dbexec.QueryExecutor, registry *schema.Registry, orderTag, filterKey string) (*truth, error) {
	products, err := registry.Entity(schema.ProductsTable)
	if err != nil {
		return nil, err
	}
	t := &truth{
		children: make(map[string]map[string][]string),
		matching: make(map[string]struct{}),
	}

	pk := products.PrimaryKeyColumns()
	rows, err := selectAll(ctx, exec, products.Name, pk, pk)
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		t.parents = append(t.parents, rowKey(row, pk))
	}

	lookupParents := make(map[string]struct{})
	for _, rel := range products.Relations {
		target, err := registry.RelationTarget(&rel)
		if err != nil {
			return nil, err
		}
		childPK := target.PrimaryKeyColumns()
		order := append(append([]string{}, rel.ForeignKeyColumns...), childPK...)
		rows, err := selectAll(ctx, exec, target.Name, target.ColumnNames(), order)
		if err != nil {
			return nil, err
		}
		byParent := make(map[string][]string)
		for _, row := range rows {
			parent := rowKey(row, rel.ForeignKeyColumns)
			byParent[parent] = append(byParent[parent], rowKey(row, childPK))

			switch rel.Name {
			case schema.MetadataRelation:
				if fmt.Sprint(row["meta_key"]) == filterKey {
					t.matching[parent] = struct{}{}
				}
			case schema.TranslationsRelation:
				if fmt.Sprint(row["tag"]) == orderTag {
					lookupParents[parent] = struct{}{}
				}
			}
		}
		t.children[rel.Name] = byParent
	}
	t.lookupHits = len(lookupParents)
	return t, nil
}

// expectedWindow returns the parent keys a query with offset and limit must
// return when the order lookup matches nothing, so ordering falls through to
// the key.
func (t *truth) expectedWindow(offset, limit int) []string {
	var keys []string
	skipped := 0
	for _, key := range t.parents {
		if _, ok := t.matching[key]; !ok {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		if len(keys) == limit {
			break
		}
		keys = append(keys, key)
	}
	return keys
}

func selectAll(ctx context.Context, exec dbexec.QueryExecutor, table string, columns, order []string) ([]map[string]any, error) {
	query, args, err := sq.Select(quoteAll(columns)...).
		From(quote(table)).
		OrderBy(quoteAll(order)...).
		PlaceholderFormat(sq.Question).
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := exec.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", table, err)
	}
	defer rows.Close()

	var out []map[string]any
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("load %s: %w", table, err)
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
				continue
			}
			row[col] = values[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func rowKey(row map[string]any, columns []string) string {
	values := make([]any, len(columns))
	for i, col := range columns {
		values[i] = row[col]
	}
	return planner.TupleKey(values)
}
