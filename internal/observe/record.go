// Package observe provides diff-tracked records: in-memory projections
// of database rows that remember which fields changed since the last
// flush.
package observe

import (
	"maps"
	"slices"
	"sync"
)

// Record is a set of loaded fields plus the set of fields modified since
// the last Flush. It is safe for concurrent use.
type Record struct {
	mu    sync.RWMutex
	data  map[string]any
	dirty map[string]struct{}
}

// New returns a clean record holding data.
func New(data map[string]any) *Record {
	r := &Record{
		data:  make(map[string]any, len(data)),
		dirty: make(map[string]struct{}),
	}
	maps.Copy(r.data, data)
	return r
}

// Get returns a field value, or nil when the field is not loaded.
func (r *Record) Get(key string) any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.data[key]
}

// Has reports whether the field is loaded.
func (r *Record) Has(key string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.data[key]
	return ok
}

// Set assigns a field and marks it dirty.
func (r *Record) Set(key string, v any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data[key] = v
	r.dirty[key] = struct{}{}
}

// Touch marks a field dirty after an in-place change to a map value.
func (r *Record) Touch(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.data[key]; ok {
		r.dirty[key] = struct{}{}
	}
}

// Merge loads fields that are not already present without marking them
// dirty. Loaded and modified fields win over fetched ones.
func (r *Record) Merge(data map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, v := range data {
		if _, ok := r.data[k]; !ok {
			r.data[k] = v
		}
	}
}

// Missing returns the names in fields that are not loaded yet.
func (r *Record) Missing(fields []string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for _, f := range fields {
		if _, ok := r.data[f]; !ok {
			out = append(out, f)
		}
	}
	return out
}

// Fields returns the sorted names of loaded fields.
func (r *Record) Fields() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.data))
}

// Snapshot returns a shallow copy of the loaded fields.
func (r *Record) Snapshot() map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return maps.Clone(r.data)
}

// Dirty reports whether any field changed since the last flush.
func (r *Record) Dirty() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.dirty) > 0
}

// Diff returns the modified fields and their current values.
func (r *Record) Diff() map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.dirty) == 0 {
		return nil
	}
	out := make(map[string]any, len(r.dirty))
	for k := range r.dirty {
		out[k] = r.data[k]
	}
	return out
}

// Flush passes the diff to write and clears it when write succeeds.
// With no diff, write is not called.
func (r *Record) Flush(write func(diff map[string]any) error) error {
	diff := r.Diff()
	if len(diff) == 0 {
		return nil
	}
	if err := write(diff); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for k := range diff {
		delete(r.dirty, k)
	}
	return nil
}

// Int returns an integer field, converting float64 values decoded from JSON.
func (r *Record) Int(key string) int {
	switch v := r.Get(key).(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

// String returns a string field or "".
func (r *Record) String(key string) string {
	s, _ := r.Get(key).(string)
	return s
}
