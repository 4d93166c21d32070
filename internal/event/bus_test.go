package event

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func record(mu *sync.Mutex, out *[]string, tag string, ret any) Listener {
	return func(ctx context.Context, args ...any) (any, error) {
		mu.Lock()
		*out = append(*out, tag)
		mu.Unlock()
		return ret, nil
	}
}

func TestBus_SerialOrder(t *testing.T) {
	b := NewBus()
	var mu sync.Mutex
	var got []string

	b.On("e", record(&mu, &got, "a", nil))
	b.On("e", record(&mu, &got, "b", nil))
	b.On("e", record(&mu, &got, "p1", nil), WithPrepend())
	b.On("e", record(&mu, &got, "p2", nil), WithPrepend())
	b.On("other", record(&mu, &got, "x", nil))

	require.NoError(t, b.Serial(context.Background(), "e"))
	assert.Equal(t, []string{"p2", "p1", "a", "b"}, got)
}

func TestBus_SerialAbortsOnError(t *testing.T) {
	b := NewBus()
	boom := errors.New("boom")
	var after atomic.Int32

	b.On("e", func(ctx context.Context, args ...any) (any, error) { return nil, boom })
	b.On("e", func(ctx context.Context, args ...any) (any, error) {
		after.Add(1)
		return nil, nil
	})

	err := b.Serial(context.Background(), "e")
	assert.ErrorIs(t, err, boom)
	var le *ListenerError
	assert.ErrorAs(t, err, &le)
	assert.Equal(t, "e", le.Event)
	assert.Equal(t, int32(0), after.Load())
}

func TestBus_Bail(t *testing.T) {
	tests := []struct {
		name    string
		returns []any
		want    any
		calls   int
	}{
		{"none truthy", []any{nil, false, ""}, nil, 3},
		{"first truthy wins", []any{nil, "stop", "late"}, "stop", 2},
		{"true counts", []any{true, "late"}, true, 1},
		{"no listeners", nil, nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBus()
			calls := 0
			for _, ret := range tt.returns {
				b.On("e", func(ctx context.Context, args ...any) (any, error) {
					calls++
					return ret, nil
				})
			}
			got, err := b.Bail(context.Background(), "e")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.calls, calls)
		})
	}
}

func TestBus_ParallelIsolatesFailures(t *testing.T) {
	var failures []string
	var mu sync.Mutex
	b := NewBus(WithErrorHandler(func(name string, err error) {
		mu.Lock()
		failures = append(failures, err.Error())
		mu.Unlock()
	}))

	var ran atomic.Int32
	b.On("e", func(ctx context.Context, args ...any) (any, error) {
		return nil, errors.New("bad")
	})
	b.On("e", func(ctx context.Context, args ...any) (any, error) {
		panic("worse")
	})
	b.On("e", func(ctx context.Context, args ...any) (any, error) {
		ran.Add(1)
		return nil, nil
	})

	b.Parallel(context.Background(), "e")
	assert.Equal(t, int32(1), ran.Load())
	assert.Len(t, failures, 2)
}

func TestBus_ParallelRunsConcurrently(t *testing.T) {
	b := NewBus()
	release := make(chan struct{})
	var started sync.WaitGroup
	started.Add(2)
	for range 2 {
		b.On("e", func(ctx context.Context, args ...any) (any, error) {
			started.Done()
			<-release
			return nil, nil
		})
	}

	done := make(chan struct{})
	go func() {
		b.Emit(context.Background(), "e")
		close(done)
	}()

	started.Wait()
	close(release)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Parallel did not return")
	}
}

func TestBus_Filter(t *testing.T) {
	b := NewBus()
	var got []any
	b.On("e", func(ctx context.Context, args ...any) (any, error) {
		got = append(got, args[0])
		return nil, nil
	}, WithFilter(func(args []any) bool {
		return len(args) > 0 && args[0] == "yes"
	}))

	require.NoError(t, b.Serial(context.Background(), "e", "no"))
	require.NoError(t, b.Serial(context.Background(), "e", "yes"))
	assert.Equal(t, []any{"yes"}, got)
}

func TestBus_Once(t *testing.T) {
	b := NewBus()
	calls := 0
	h := b.On("e", func(ctx context.Context, args ...any) (any, error) {
		calls++
		return nil, nil
	}, WithOnce())

	require.NoError(t, b.Serial(context.Background(), "e"))
	require.NoError(t, b.Serial(context.Background(), "e"))
	assert.Equal(t, 1, calls)
	assert.False(t, h.Active())
	assert.Equal(t, 0, b.Count("e"))
}

func TestBus_CancelIdempotent(t *testing.T) {
	b := NewBus()
	noop := func(ctx context.Context, args ...any) (any, error) { return nil, nil }
	h1 := b.On("a", noop)
	b.On("a", noop)
	b.On("b", noop)
	assert.Equal(t, 3, b.Total())

	h1.Cancel()
	h1.Cancel()
	assert.Equal(t, 2, b.Total())
	assert.Equal(t, 1, b.Count("a"))
	assert.False(t, b.Off(h1))
	assert.Equal(t, map[string]int{"a": 1, "b": 1}, b.Events())
}

func TestBus_CancelDuringEmission(t *testing.T) {
	b := NewBus()
	var second bool
	var h *Hook
	h = b.On("e", func(ctx context.Context, args ...any) (any, error) {
		h.Cancel()
		return nil, nil
	})
	b.On("e", func(ctx context.Context, args ...any) (any, error) {
		second = true
		return nil, nil
	})

	require.NoError(t, b.Serial(context.Background(), "e"))
	assert.True(t, second)
	assert.Equal(t, 1, b.Count("e"))
}

func TestBus_NilListenerPanics(t *testing.T) {
	assert.PanicsWithValue(t, ErrNilListener, func() {
		NewBus().On("e", nil)
	})
}

func TestPanicError_Is(t *testing.T) {
	b := NewBus()
	b.On("e", func(ctx context.Context, args ...any) (any, error) { panic("x") })
	_, err := b.Bail(context.Background(), "e")
	assert.ErrorIs(t, err, ErrListenerPanic)
}

func TestTruthy(t *testing.T) {
	assert.False(t, Truthy(nil))
	assert.False(t, Truthy(false))
	assert.False(t, Truthy(""))
	assert.False(t, Truthy(0))
	assert.True(t, Truthy("x"))
	assert.True(t, Truthy(struct{}{}))
}
