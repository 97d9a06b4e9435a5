package dbexec

import (
	"context"
	"database/sql"
	"fmt"
)

// ConnProvider hands out dedicated connections; *sql.DB satisfies it.
type ConnProvider interface {
	Conn(ctx context.Context) (*sql.Conn, error)
}

// TxStarter begins transactions; *sql.DB and *sql.Conn satisfy it.
type TxStarter interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// WithConn runs fn on one dedicated connection and always returns it to the pool.
// Statements in init run on the connection before fn.
func WithConn(ctx context.Context, db ConnProvider, fn func(context.Context, QueryExecutor) error, init ...string) (err error) {
	if db == nil {
		return sql.ErrConnDone
	}
	conn, err := db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer func() {
		if closeErr := conn.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to release connection: %w", closeErr)
		}
	}()

	for _, stmt := range init {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to initialize connection: %w", err)
		}
	}
	return fn(ctx, handleExecutor{handle: conn})
}

// WithTx runs fn inside a transaction. The transaction commits when fn
// returns nil and rolls back on error or panic.
func WithTx(ctx context.Context, db TxStarter, opts *sql.TxOptions, fn func(context.Context, QueryExecutor) error) (err error) {
	if db == nil {
		return sql.ErrConnDone
	}
	tx, err := db.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	committed := false
	defer func() {
		if committed {
			return
		}
		if rbErr := tx.Rollback(); rbErr != nil && err == nil {
			err = fmt.Errorf("failed to roll back transaction: %w", rbErr)
		}
	}()

	if err := fn(ctx, handleExecutor{handle: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		committed = true
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	committed = true
	return nil
}
