// Package database defines the storage contract the core uses for user
// and channel records. Drivers live in subpackages; records are plain
// field maps validated against a model.Schema.
package database

import (
	"context"
	"errors"

	"github.com/dshills/koishi/internal/model"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrExists is returned when creating a record that already exists.
	ErrExists = errors.New("record already exists")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("database closed")
)

// Stats summarizes stored records.
type Stats struct {
	Users    int `json:"users"`
	Channels int `json:"channels"`
}

// Service is the storage contract for user and channel records.
// Records are addressed by platform and platform-local id.
type Service interface {
	// Get returns the requested fields of a record, or ErrNotFound.
	// An empty field list returns every stored field.
	Get(ctx context.Context, table model.Table, platform, id string, fields []string) (map[string]any, error)

	// Create inserts a record, or returns ErrExists.
	Create(ctx context.Context, table model.Table, platform, id string, data map[string]any) error

	// Set merges data into an existing record, or returns ErrNotFound.
	Set(ctx context.Context, table model.Table, platform, id string, data map[string]any) error

	// Remove deletes a record. Removing a missing record is not an error.
	Remove(ctx context.Context, table model.Table, platform, id string) error

	// Stats counts stored records.
	Stats(ctx context.Context) (Stats, error)

	// Close releases driver resources.
	Close() error
}

// GetUser is shorthand for Get on the user table.
func GetUser(ctx context.Context, s Service, platform, id string, fields ...string) (map[string]any, error) {
	return s.Get(ctx, model.TableUser, platform, id, fields)
}

// SetUser is shorthand for Set on the user table.
func SetUser(ctx context.Context, s Service, platform, id string, data map[string]any) error {
	return s.Set(ctx, model.TableUser, platform, id, data)
}

// GetChannel is shorthand for Get on the channel table.
func GetChannel(ctx context.Context, s Service, platform, id string, fields ...string) (map[string]any, error) {
	return s.Get(ctx, model.TableChannel, platform, id, fields)
}

// SetChannel is shorthand for Set on the channel table.
func SetChannel(ctx context.Context, s Service, platform, id string, data map[string]any) error {
	return s.Set(ctx, model.TableChannel, platform, id, data)
}

// CreateUser is shorthand for Create on the user table.
func CreateUser(ctx context.Context, s Service, platform, id string, data map[string]any) error {
	return s.Create(ctx, model.TableUser, platform, id, data)
}

// CreateChannel is shorthand for Create on the channel table.
func CreateChannel(ctx context.Context, s Service, platform, id string, data map[string]any) error {
	return s.Create(ctx, model.TableChannel, platform, id, data)
}
