package event

import (
	"errors"
	"fmt"
)

// Sentinel errors for the hook bus.
var (
	// ErrNilListener is returned when a nil listener is registered.
	ErrNilListener = errors.New("listener cannot be nil")

	// ErrListenerPanic is matched by PanicError.
	ErrListenerPanic = errors.New("listener panicked")
)

// ListenerError wraps an error returned by a listener.
type ListenerError struct {
	// HookID identifies the failing hook.
	HookID string

	// Event is the emitted event name.
	Event string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *ListenerError) Error() string {
	return fmt.Sprintf("listener %s on %q: %v", e.HookID, e.Event, e.Err)
}

// Unwrap returns the underlying error.
func (e *ListenerError) Unwrap() error {
	return e.Err
}

// PanicError wraps a value recovered from a panicking listener.
type PanicError struct {
	HookID string
	Event  string
	Value  any
	Stack  []byte
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("listener %s on %q panicked: %v", e.HookID, e.Event, e.Value)
}

// Is allows errors.Is to match PanicError with ErrListenerPanic.
func (e *PanicError) Is(target error) bool {
	return target == ErrListenerPanic
}
