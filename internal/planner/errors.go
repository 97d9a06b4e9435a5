package planner

import (
	"errors"
	"fmt"
)

// ErrInvalidPlan marks builder-time rejections of unsatisfiable queries.
var ErrInvalidPlan = errors.New("invalid plan")

// InvalidPlanError describes why a query could not be planned.
type InvalidPlanError struct {
	Reason string
}

func (e *InvalidPlanError) Error() string {
	return fmt.Sprintf("invalid plan: %s", e.Reason)
}

// Is reports whether target is ErrInvalidPlan.
func (e *InvalidPlanError) Is(target error) bool {
	return target == ErrInvalidPlan
}

func invalidPlanf(format string, args ...any) error {
	return &InvalidPlanError{Reason: fmt.Sprintf(format, args...)}
}
