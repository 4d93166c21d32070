// Package model holds the open field registry for user and channel
// records. Plugins extend it at runtime with RegisterField; the
// database layer and sessions reject field names that were never
// registered.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"reflect"
	"slices"
	"sync"
)

// Table names a record kind.
type Table string

// Record tables.
const (
	TableUser    Table = "user"
	TableChannel Table = "channel"
)

// User flags.
const (
	UserFlagIgnore = 1 << iota
)

// Channel flags.
const (
	ChannelFlagIgnore = 1 << iota
	ChannelFlagSilent
)

// Well-known fields.
const (
	FieldID        = "id"
	FieldName      = "name"
	FieldAuthority = "authority"
	FieldFlag      = "flag"
	FieldUsage     = "usage"
	FieldTimers    = "timers"
	FieldAssignee  = "assignee"
)

var (
	// ErrUnknownField is returned when a field was never registered for a table.
	ErrUnknownField = errors.New("unknown field")

	// ErrUnknownTable is returned for tables other than user and channel.
	ErrUnknownTable = errors.New("unknown table")

	// ErrFieldExists is returned when a field is registered twice.
	ErrFieldExists = errors.New("field already registered")
)

// Field describes one column. Default returns a fresh zero value whose
// dynamic type is also used to decode stored JSON.
type Field struct {
	Name    string
	Default func() any
}

// Schema is a set of registered fields per table.
// It is safe for concurrent use.
type Schema struct {
	mu     sync.RWMutex
	fields map[Table]map[string]Field
}

// NewSchema returns a schema with the builtin user and channel fields.
func NewSchema() *Schema {
	s := &Schema{fields: map[Table]map[string]Field{
		TableUser:    {},
		TableChannel: {},
	}}
	str := func() any { return "" }
	num := func() any { return 0 }

	s.mustRegister(TableUser, FieldID, str)
	s.mustRegister(TableUser, FieldName, str)
	s.mustRegister(TableUser, FieldAuthority, num)
	s.mustRegister(TableUser, FieldFlag, num)
	s.mustRegister(TableUser, FieldUsage, func() any { return map[string]int{} })
	s.mustRegister(TableUser, FieldTimers, func() any { return map[string]int64{} })

	s.mustRegister(TableChannel, FieldID, str)
	s.mustRegister(TableChannel, FieldFlag, num)
	s.mustRegister(TableChannel, FieldAssignee, str)
	return s
}

func (s *Schema) mustRegister(t Table, name string, def func() any) {
	if err := s.RegisterField(t, name, def); err != nil {
		panic(err)
	}
}

// RegisterField adds a field to a table. A nil def defaults to nil.
func (s *Schema) RegisterField(t Table, name string, def func() any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fields, ok := s.fields[t]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownTable, t)
	}
	if _, exists := fields[name]; exists {
		return fmt.Errorf("%w: %s.%s", ErrFieldExists, t, name)
	}
	if def == nil {
		def = func() any { return nil }
	}
	fields[name] = Field{Name: name, Default: def}
	return nil
}

// Field returns the named field.
func (s *Schema) Field(t Table, name string) (Field, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.fields[t][name]
	return f, ok
}

// Names returns the sorted field names of a table.
func (s *Schema) Names(t Table) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Sorted(maps.Keys(s.fields[t]))
}

// Validate returns ErrUnknownField for the first unregistered name.
func (s *Schema) Validate(t Table, names []string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	fields, ok := s.fields[t]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownTable, t)
	}
	for _, n := range names {
		if _, ok := fields[n]; !ok {
			return fmt.Errorf("%w: %s.%s", ErrUnknownField, t, n)
		}
	}
	return nil
}

// Defaults returns a fresh default row. With no names, every field is included.
func (s *Schema) Defaults(t Table, names ...string) map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(names) == 0 {
		names = slices.Collect(maps.Keys(s.fields[t]))
	}
	row := make(map[string]any, len(names))
	for _, n := range names {
		if f, ok := s.fields[t][n]; ok {
			row[n] = f.Default()
		}
	}
	return row
}

// Decode converts stored JSON into the field's default type. Unknown
// fields and untyped defaults decode into plain JSON values.
func (s *Schema) Decode(t Table, name string, raw []byte) (any, error) {
	var zero any
	if f, ok := s.Field(t, name); ok {
		zero = f.Default()
	}
	if zero == nil {
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return v, nil
	}
	ptr := reflect.New(reflect.TypeOf(zero))
	if err := json.Unmarshal(raw, ptr.Interface()); err != nil {
		return nil, fmt.Errorf("decode %s.%s: %w", t, name, err)
	}
	return ptr.Elem().Interface(), nil
}
