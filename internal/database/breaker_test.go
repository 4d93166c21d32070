package database_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dshills/koishi/internal/database"
	"github.com/dshills/koishi/internal/database/memory"
	"github.com/dshills/koishi/internal/model"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flaky fails every call while down is set.
type flaky struct {
	database.Service
	down  bool
	calls int
}

var errDown = errors.New("backend down")

func (f *flaky) Get(ctx context.Context, table model.Table, platform, id string, fields []string) (map[string]any, error) {
	f.calls++
	if f.down {
		return nil, errDown
	}
	return f.Service.Get(ctx, table, platform, id, fields)
}

func TestWithBreaker_OpensAfterFailures(t *testing.T) {
	ctx := context.Background()
	backend := &flaky{Service: memory.New(model.NewSchema()), down: true}
	db := database.WithBreaker(backend, database.BreakerConfig{Failures: 2, Timeout: time.Hour})

	for range 2 {
		_, err := database.GetUser(ctx, db, "mock", "1")
		assert.ErrorIs(t, err, errDown)
	}
	_, err := database.GetUser(ctx, db, "mock", "1")
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 2, backend.calls)
}

func TestWithBreaker_NotFoundIsHealthy(t *testing.T) {
	ctx := context.Background()
	backend := &flaky{Service: memory.New(model.NewSchema())}
	db := database.WithBreaker(backend, database.BreakerConfig{Failures: 1, Timeout: time.Hour})

	for range 3 {
		_, err := database.GetUser(ctx, db, "mock", "1")
		assert.ErrorIs(t, err, database.ErrNotFound)
	}
	assert.Equal(t, 3, backend.calls)

	require.NoError(t, db.Create(ctx, model.TableUser, "mock", "1", map[string]any{"authority": 1}))
	row, err := database.GetUser(ctx, db, "mock", "1", "authority")
	require.NoError(t, err)
	assert.Equal(t, 1, row["authority"])

	st, err := db.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Users)
	require.NoError(t, db.Close())
}
