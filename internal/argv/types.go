package argv

import (
	"errors"
	"maps"
	"strconv"
	"strings"
	"sync"
)

// Transform converts raw input into a typed value.
type Transform func(source string) (any, error)

// Types is a registry of named value transforms.
// It is safe for concurrent use.
type Types struct {
	mu         sync.RWMutex
	transforms map[string]Transform
}

// NewTypes returns a registry preloaded with the builtin types:
// string, text, number, integer, posint, natural and boolean.
func NewTypes() *Types {
	return &Types{transforms: map[string]Transform{
		"string":  transformString,
		"text":    transformString,
		"number":  transformNumber,
		"integer": transformInteger,
		"posint":  transformBounded(1),
		"natural": transformBounded(0),
		"boolean": transformBoolean,
	}}
}

// Register adds or replaces a named transform.
func (t *Types) Register(name string, fn Transform) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.transforms[name] = fn
}

// Has reports whether name is registered.
func (t *Types) Has(name string) bool {
	if name == "" {
		return true
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.transforms[name]
	return ok
}

// Names returns a copy of the registered transforms keyed by name.
func (t *Types) Names() map[string]Transform {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return maps.Clone(t.transforms)
}

// Coerce converts source with the named transform. An empty name keeps the string.
func (t *Types) Coerce(name, source string) (any, error) {
	if name == "" {
		return source, nil
	}
	t.mu.RLock()
	fn, ok := t.transforms[name]
	t.mu.RUnlock()
	if !ok {
		return nil, ErrUnknownType
	}
	return fn(source)
}

func transformString(source string) (any, error) {
	return source, nil
}

func transformNumber(source string) (any, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(source), 64)
	if err != nil {
		return nil, ErrInvalidValue
	}
	return v, nil
}

func transformInteger(source string) (any, error) {
	v, err := strconv.Atoi(strings.TrimSpace(source))
	if err != nil {
		return nil, ErrInvalidValue
	}
	return v, nil
}

func transformBounded(min int) Transform {
	return func(source string) (any, error) {
		v, err := transformInteger(source)
		if err != nil {
			return nil, err
		}
		if v.(int) < min {
			return nil, errors.New("out of range")
		}
		return v, nil
	}
}

func transformBoolean(source string) (any, error) {
	switch strings.ToLower(strings.TrimSpace(source)) {
	case "true", "yes", "on", "1", "y":
		return true, nil
	case "false", "no", "off", "0", "n":
		return false, nil
	default:
		return nil, ErrInvalidValue
	}
}

// isNumeric reports whether s parses as a number, such as "-5".
func isNumeric(s string) bool {
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}

// CamelCase converts a param-case name such as "foo-bar" to "fooBar".
func CamelCase(name string) string {
	parts := strings.Split(name, "-")
	var b strings.Builder
	b.WriteString(parts[0])
	for _, p := range parts[1:] {
		if p == "" {
			continue
		}
		b.WriteString(strings.ToUpper(p[:1]))
		b.WriteString(p[1:])
	}
	return b.String()
}

// ParamCase converts a camelCase name such as "fooBar" to "foo-bar".
func ParamCase(name string) string {
	var b strings.Builder
	for i, r := range name {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('-')
			}
			b.WriteRune(r + ('a' - 'A'))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
