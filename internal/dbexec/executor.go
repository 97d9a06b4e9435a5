// Package dbexec provides database query execution abstractions.
// Connections and transactions are explicit handles with scoped acquisition
// and guaranteed release.
package dbexec

import (
	"context"
	"database/sql"
)

// Rows abstracts sql.Rows to allow wrapped cleanup behavior.
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Columns() ([]string, error)
	Err() error
	Close() error
}

// QueryExecutor abstracts SQL execution over a pool, a pinned connection or a transaction.
type QueryExecutor interface {
	QueryContext(ctx context.Context, query string, args ...any) (Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// StandardExecutor executes queries directly against a database handle.
type StandardExecutor struct {
	db *sql.DB
}

// NewStandardExecutor creates an executor that runs queries directly against the database.
func NewStandardExecutor(db *sql.DB) *StandardExecutor {
	return &StandardExecutor{db: db}
}

func (e *StandardExecutor) QueryContext(ctx context.Context, query string, args ...any) (Rows, error) {
	if e.db == nil {
		return nil, sql.ErrConnDone
	}
	return e.db.QueryContext(ctx, query, args...)
}

func (e *StandardExecutor) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if e.db == nil {
		return nil, sql.ErrConnDone
	}
	return e.db.ExecContext(ctx, query, args...)
}

// sqlQueryer is the subset shared by *sql.Conn and *sql.Tx.
type sqlQueryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// handleExecutor adapts a pinned connection or transaction to QueryExecutor.
type handleExecutor struct {
	handle sqlQueryer
}

func (e handleExecutor) QueryContext(ctx context.Context, query string, args ...any) (Rows, error) {
	return e.handle.QueryContext(ctx, query, args...)
}

func (e handleExecutor) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return e.handle.ExecContext(ctx, query, args...)
}
