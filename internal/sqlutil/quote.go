// Package sqlutil provides SQL identifier and literal quoting helpers shared by
// the planner, the schema DDL emitter, and the harness.
package sqlutil

import "strings"

// QuoteIdentifier quotes a SQL identifier (table name, column name, alias)
// with backticks and escapes any backticks within the identifier.
// Both MySQL and SQLite accept backtick-quoted identifiers.
func QuoteIdentifier(name string) string {
	escaped := strings.ReplaceAll(name, "`", "``")
	return "`" + escaped + "`"
}

// QualifiedIdentifier returns alias.column with both parts quoted.
// An empty alias yields the bare quoted column.
func QualifiedIdentifier(alias, column string) string {
	if alias == "" {
		return QuoteIdentifier(column)
	}
	return QuoteIdentifier(alias) + "." + QuoteIdentifier(column)
}

// QuoteIdentifiers quotes each identifier, optionally qualified by alias.
func QuoteIdentifiers(alias string, columns []string) []string {
	quoted := make([]string, len(columns))
	for i, col := range columns {
		quoted[i] = QualifiedIdentifier(alias, col)
	}
	return quoted
}

// QuoteString quotes a SQL string literal with single quotes and escapes
// any single quotes within the string by doubling them.
func QuoteString(s string) string {
	escaped := strings.ReplaceAll(s, "'", "''")
	return "'" + escaped + "'"
}
