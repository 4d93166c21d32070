package plugin

import "errors"

var (
	// ErrPluginNotFound is returned when a configured name has no plugin.
	ErrPluginNotFound = errors.New("plugin not found")

	// ErrAlreadyRegistered is returned when a name is registered twice.
	ErrAlreadyRegistered = errors.New("plugin name already registered")
)
