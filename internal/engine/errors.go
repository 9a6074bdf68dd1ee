package engine

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the analytics core. Callers match them with
// errors.Is; the wrapped message carries the offending detail.
var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrInvalidParameter   = errors.New("invalid parameter")
	ErrMissingWeight      = errors.New("missing weight")
	ErrOptimizationFailed = errors.New("optimization failed")
)

// OptimizationError reports a solver that did not converge or a constraint
// set with no feasible point. It matches ErrOptimizationFailed.
type OptimizationError struct {
	Objective Objective
	Message   string
}

func (e *OptimizationError) Error() string {
	return fmt.Sprintf("%s optimization failed: %s", e.Objective, e.Message)
}

func (e *OptimizationError) Is(target error) bool {
	return target == ErrOptimizationFailed
}

func invalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

func invalidParameter(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidParameter, fmt.Sprintf(format, args...))
}
