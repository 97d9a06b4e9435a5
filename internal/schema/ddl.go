package schema

import (
	"fmt"
	"strings"

	"splitquery-repro/internal/sqlutil"
)

// Dialect selects SQL flavor differences for DDL.
type Dialect string

const (
	DialectMySQL  Dialect = "mysql"
	DialectSQLite Dialect = "sqlite"
)

// ParseDialect maps a driver name onto a dialect.
func ParseDialect(name string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "mysql", "tidb":
		return DialectMySQL, nil
	case "sqlite", "sqlite3":
		return DialectSQLite, nil
	default:
		return "", fmt.Errorf("unsupported dialect %q (use mysql or sqlite)", name)
	}
}

// EnsureSchemaSQL returns idempotent CREATE statements for every entity, in
// declaration order, followed by foreign key indexes where the dialect needs them.
func (r *Registry) EnsureSchemaSQL(dialect Dialect) ([]string, error) {
	if dialect != DialectMySQL && dialect != DialectSQLite {
		return nil, fmt.Errorf("unsupported dialect %q", dialect)
	}

	var stmts []string
	var indexes []string
	for _, entity := range r.entities {
		var defs []string
		for _, col := range entity.Columns {
			defs = append(defs, columnDefinition(dialect, col))
		}
		defs = append(defs, fmt.Sprintf("PRIMARY KEY (%s)", strings.Join(sqlutil.QuoteIdentifiers("", entity.PrimaryKeyColumns()), ", ")))

		for _, owner := range r.entities {
			for _, rel := range owner.Relations {
				if rel.Target != entity.Name {
					continue
				}
				fkCols := strings.Join(sqlutil.QuoteIdentifiers("", rel.ForeignKeyColumns), ", ")
				defs = append(defs, fmt.Sprintf(
					"FOREIGN KEY (%s) REFERENCES %s (%s)",
					fkCols,
					sqlutil.QuoteIdentifier(owner.Name),
					strings.Join(sqlutil.QuoteIdentifiers("", rel.OwnerColumns), ", "),
				))
				if dialect == DialectSQLite {
					indexName := fmt.Sprintf("idx_%s_%s", entity.Name, strings.Join(rel.ForeignKeyColumns, "_"))
					indexes = append(indexes, fmt.Sprintf(
						"CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
						sqlutil.QuoteIdentifier(indexName),
						sqlutil.QuoteIdentifier(entity.Name),
						fkCols,
					))
				}
			}
		}

		stmts = append(stmts, fmt.Sprintf(
			"CREATE TABLE IF NOT EXISTS %s (%s)",
			sqlutil.QuoteIdentifier(entity.Name),
			strings.Join(defs, ", "),
		))
	}
	return append(stmts, indexes...), nil
}

func columnDefinition(dialect Dialect, col Column) string {
	var sqlType string
	switch {
	case col.Type == TypeInt && dialect == DialectSQLite:
		sqlType = "INTEGER"
	case col.Type == TypeInt:
		sqlType = "BIGINT"
	case dialect == DialectSQLite:
		sqlType = "TEXT"
	default:
		sqlType = "VARCHAR(255)"
	}
	def := sqlutil.QuoteIdentifier(col.Name) + " " + sqlType
	if !col.IsNullable || col.IsPrimaryKey {
		def += " NOT NULL"
	}
	return def
}
