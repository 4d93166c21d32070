package core

import (
	"errors"
	"fmt"
)

// Configuration errors. These are returned (or panicked, for builder
// methods without an error result) at registration time.
var (
	// ErrInvalidPlugin is matched by *InvalidPluginError.
	ErrInvalidPlugin = errors.New("invalid plugin")

	// ErrDuplicateCommand is matched by *DuplicateCommandError.
	ErrDuplicateCommand = errors.New("duplicate command")

	// ErrInterpolationDepth is returned when $(...) nests deeper than
	// Options.MaxInterpolationDepth.
	ErrInterpolationDepth = errors.New("interpolation nested too deeply")
)

// InvalidPluginError reports a value that cannot be applied as a plugin.
type InvalidPluginError struct {
	Value any
}

// Error implements the error interface.
func (e *InvalidPluginError) Error() string {
	return fmt.Sprintf("invalid plugin: %T is not a plugin", e.Value)
}

// Is allows errors.Is to match ErrInvalidPlugin.
func (e *InvalidPluginError) Is(target error) bool {
	return target == ErrInvalidPlugin
}

// DuplicateCommandError reports a command name or alias that is already
// taken by another command.
type DuplicateCommandError struct {
	Name  string
	Owner string
}

// Error implements the error interface.
func (e *DuplicateCommandError) Error() string {
	return fmt.Sprintf("duplicate command name %q: already used by %q", e.Name, e.Owner)
}

// Is allows errors.Is to match ErrDuplicateCommand.
func (e *DuplicateCommandError) Is(target error) bool {
	return target == ErrDuplicateCommand
}

// PluginPanicError wraps a panic raised while applying a plugin.
type PluginPanicError struct {
	Plugin string
	Value  any
}

// Error implements the error interface.
func (e *PluginPanicError) Error() string {
	return fmt.Sprintf("plugin %s panicked: %v", e.Plugin, e.Value)
}

// Unwrap returns the panic value when it is an error.
func (e *PluginPanicError) Unwrap() error {
	err, _ := e.Value.(error)
	return err
}
