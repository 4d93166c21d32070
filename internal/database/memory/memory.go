// Package memory is an in-process database driver. Nothing is persisted;
// it backs tests and the default configuration.
package memory

import (
	"context"
	"maps"
	"sync"

	"github.com/dshills/koishi/internal/database"
	"github.com/dshills/koishi/internal/model"
)

type key struct {
	table    model.Table
	platform string
	id       string
}

// Store keeps records in a map guarded by a mutex.
type Store struct {
	mu      sync.RWMutex
	schema  *model.Schema
	records map[key]map[string]any
	closed  bool
}

var _ database.Service = (*Store)(nil)

// New creates an empty store validating fields against schema.
func New(schema *model.Schema) *Store {
	return &Store{
		schema:  schema,
		records: make(map[key]map[string]any),
	}
}

// Get implements database.Service.
func (s *Store) Get(_ context.Context, table model.Table, platform, id string, fields []string) (map[string]any, error) {
	if err := s.schema.Validate(table, fields); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, database.ErrClosed
	}
	row, ok := s.records[key{table, platform, id}]
	if !ok {
		return nil, database.ErrNotFound
	}
	if len(fields) == 0 {
		return cloneRow(row), nil
	}
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		if v, ok := row[f]; ok {
			out[f] = cloneValue(v)
		} else {
			out[f] = s.schema.Defaults(table, f)[f]
		}
	}
	return out, nil
}

// Create implements database.Service.
func (s *Store) Create(_ context.Context, table model.Table, platform, id string, data map[string]any) error {
	if err := s.schema.Validate(table, keys(data)); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return database.ErrClosed
	}
	k := key{table, platform, id}
	if _, ok := s.records[k]; ok {
		return database.ErrExists
	}
	row := cloneRow(data)
	row[model.FieldID] = id
	s.records[k] = row
	return nil
}

// Set implements database.Service.
func (s *Store) Set(_ context.Context, table model.Table, platform, id string, data map[string]any) error {
	if err := s.schema.Validate(table, keys(data)); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return database.ErrClosed
	}
	row, ok := s.records[key{table, platform, id}]
	if !ok {
		return database.ErrNotFound
	}
	for k, v := range data {
		row[k] = cloneValue(v)
	}
	return nil
}

// Remove implements database.Service.
func (s *Store) Remove(_ context.Context, table model.Table, platform, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return database.ErrClosed
	}
	delete(s.records, key{table, platform, id})
	return nil
}

// Stats implements database.Service.
func (s *Store) Stats(context.Context) (database.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var st database.Stats
	for k := range s.records {
		switch k.table {
		case model.TableUser:
			st.Users++
		case model.TableChannel:
			st.Channels++
		}
	}
	return st, nil
}

// Close implements database.Service.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func keys(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func cloneRow(row map[string]any) map[string]any {
	out := make(map[string]any, len(row))
	for k, v := range row {
		out[k] = cloneValue(v)
	}
	return out
}

// cloneValue copies the container types records use so callers never
// share maps with the store.
func cloneValue(v any) any {
	switch x := v.(type) {
	case map[string]int:
		return maps.Clone(x)
	case map[string]int64:
		return maps.Clone(x)
	case map[string]any:
		return cloneRow(x)
	case []string:
		return append([]string(nil), x...)
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}
