package harness

import (
	"context"
	"database/sql"
	"fmt"

	"splitquery-repro/internal/dbexec"
	"splitquery-repro/internal/schema"

	sq "github.com/Masterminds/squirrel"
)

const (
	seedBatchSize = 200

	// MetaKeyKind is present on every seeded product; the matrix filters on it.
	MetaKeyKind = "kind"
	// MetaKeyExtra is seeded on even product ids only.
	MetaKeyExtra = "extra"
)

// SeedTags are the translation tags every product gets. No product has tag C.
var SeedTags = []string{"A", "B"}

// Seed ensures the catalog schema exists and replaces its contents with n
// products, each with one translation per SeedTags entry and one or two
// metadata rows. Schema DDL runs outside the data transaction because MySQL
// commits implicitly on DDL.
func Seed(ctx context.Context, db *sql.DB, registry *schema.Registry, dialect schema.Dialect, n int) error {
	if n < 0 {
		return fmt.Errorf("seed count must be non-negative, got %d", n)
	}
	ddl, err := registry.EnsureSchemaSQL(dialect)
	if err != nil {
		return err
	}
	exec := dbexec.NewStandardExecutor(db)
	for _, stmt := range ddl {
		if _, err := exec.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}

	return dbexec.WithTx(ctx, db, nil, func(ctx context.Context, tx dbexec.QueryExecutor) error {
		for _, table := range []string{schema.TranslationsTable, schema.MetadataTable, schema.ProductsTable} {
			query, args, err := sq.Delete(quote(table)).ToSql()
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, query, args...); err != nil {
				return fmt.Errorf("clear %s: %w", table, err)
			}
		}

		products, translations, metadata := seedRows(n)
		if err := insertRows(ctx, tx, schema.ProductsTable, []string{"id", "name"}, products); err != nil {
			return err
		}
		if err := insertRows(ctx, tx, schema.TranslationsTable, []string{"id", "product_id", "tag", "title"}, translations); err != nil {
			return err
		}
		return insertRows(ctx, tx, schema.MetadataTable, []string{"id", "product_id", "meta_key", "meta_value"}, metadata)
	})
}

// seedRows builds the fixed dataset. Ids are dense and start at 1.
func seedRows(n int) (products, translations, metadata [][]any) {
	metaID := int64(0)
	for i := 1; i <= n; i++ {
		id := int64(i)
		products = append(products, []any{id, fmt.Sprintf("product-%04d", i)})
		for j, tag := range SeedTags {
			translations = append(translations, []any{
				(id-1)*int64(len(SeedTags)) + int64(j) + 1,
				id,
				tag,
				fmt.Sprintf("%s title %04d", tag, i),
			})
		}
		metaID++
		metadata = append(metadata, []any{metaID, id, MetaKeyKind, "standard"})
		if i%2 == 0 {
			metaID++
			metadata = append(metadata, []any{metaID, id, MetaKeyExtra, nil})
		}
	}
	return products, translations, metadata
}

func insertRows(ctx context.Context, exec dbexec.QueryExecutor, table string, columns []string, rows [][]any) error {
	for start := 0; start < len(rows); start += seedBatchSize {
		end := start + seedBatchSize
		if end > len(rows) {
			end = len(rows)
		}
		insert := sq.Insert(quote(table)).Columns(quoteAll(columns)...)
		for _, row := range rows[start:end] {
			insert = insert.Values(row...)
		}
		query, args, err := insert.PlaceholderFormat(sq.Question).ToSql()
		if err != nil {
			return err
		}
		if _, err := exec.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("insert into %s: %w", table, err)
		}
	}
	return nil
}
