package materializer

import (
	"errors"
	"fmt"
)

// ErrMaterialization marks rows that cannot be correlated into a result.
var ErrMaterialization = errors.New("materialization failed")

// MaterializationError reports a row that could not be attached.
type MaterializationError struct {
	Relation string
	Key      string
	Reason   string
}

func (e *MaterializationError) Error() string {
	if e.Relation == "" {
		return fmt.Sprintf("materialize: %s (key %q)", e.Reason, e.Key)
	}
	return fmt.Sprintf("materialize %s: %s (key %q)", e.Relation, e.Reason, e.Key)
}

// Is reports whether target is ErrMaterialization.
func (e *MaterializationError) Is(target error) bool {
	return target == ErrMaterialization
}
