package lua

import (
	"errors"
	"fmt"
)

var (
	// ErrStateClosed is returned when operating on a closed state.
	ErrStateClosed = errors.New("lua state is closed")

	// ErrExecutionTimeout is returned when a call exceeds its budget.
	ErrExecutionTimeout = errors.New("lua execution timeout")

	// ErrNoApply is returned when a script defines no apply function.
	ErrNoApply = errors.New("script defines no apply function")
)

// ScriptError wraps a failure raised while loading or running a script.
type ScriptError struct {
	Script string
	Err    error
}

func (e *ScriptError) Error() string {
	return fmt.Sprintf("lua script %s: %v", e.Script, e.Err)
}

func (e *ScriptError) Unwrap() error { return e.Err }
