package app

import "errors"

var (
	// ErrAlreadyRunning is returned by Start on a running application.
	ErrAlreadyRunning = errors.New("application already running")

	// ErrNotRunning is returned by Stop before Start.
	ErrNotRunning = errors.New("application not running")
)

// InitError reports the component that failed to initialize.
type InitError struct {
	Component string
	Err       error
}

func (e *InitError) Error() string {
	return "init " + e.Component + ": " + e.Err.Error()
}

func (e *InitError) Unwrap() error {
	return e.Err
}
