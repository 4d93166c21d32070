package argv

import (
	"errors"
	"fmt"
)

// Parse errors.
var (
	// ErrInvalidValue is returned when a value cannot be coerced to its declared type.
	ErrInvalidValue = errors.New("invalid value")

	// ErrMissingValue is returned when an option requiring a value has none.
	ErrMissingValue = errors.New("missing option value")

	// ErrUnknownType is returned when a declaration names an unregistered type.
	ErrUnknownType = errors.New("unknown type")

	// ErrDuplicateOption is returned when two options share an alias.
	ErrDuplicateOption = errors.New("duplicate option alias")

	// ErrInvalidDeclaration is returned for malformed declarations.
	ErrInvalidDeclaration = errors.New("invalid declaration")
)

// ValidationError describes a user input problem found while parsing.
// It is reported back to the user rather than treated as a failure.
type ValidationError struct {
	// Kind is "argument" or "option".
	Kind string

	// Name is the declared argument or option name.
	Name string

	// Source is the offending input.
	Source string

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s: %q: %v", e.Kind, e.Name, e.Source, e.Err)
}

// Unwrap returns the underlying error.
func (e *ValidationError) Unwrap() error {
	return e.Err
}
