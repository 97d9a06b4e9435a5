package engine

import (
	"errors"
	"fmt"
)

// ErrStoreExecution marks failures reported by the store while running a physical query.
var ErrStoreExecution = errors.New("store execution failed")

// StoreExecutionError wraps a store failure with the query that caused it.
type StoreExecutionError struct {
	Query string
	SQL   string
	Err   error
}

func (e *StoreExecutionError) Error() string {
	return fmt.Sprintf("store execution failed for %s query: %v", e.Query, e.Err)
}

func (e *StoreExecutionError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrStoreExecution.
func (e *StoreExecutionError) Is(target error) bool {
	return target == ErrStoreExecution
}
