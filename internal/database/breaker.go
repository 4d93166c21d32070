package database

import (
	"context"
	"errors"
	"time"

	"github.com/dshills/koishi/internal/model"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// BreakerConfig tunes WithBreaker.
type BreakerConfig struct {
	// Failures is the number of consecutive failures that opens the breaker.
	Failures uint32

	// Timeout is how long the breaker stays open before probing again.
	Timeout time.Duration

	Logger *zap.Logger
}

type breaker struct {
	next Service
	cb   *gobreaker.CircuitBreaker
}

// WithBreaker wraps s so that a failing backend is short-circuited with
// gobreaker.ErrOpenState instead of being hit by every dispatch.
// ErrNotFound and ErrExists count as successful calls.
func WithBreaker(s Service, cfg BreakerConfig) Service {
	if cfg.Failures == 0 {
		cfg.Failures = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	settings := gobreaker.Settings{
		Name:    "database",
		Timeout: cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.Failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, ErrExists) ||
				errors.Is(err, context.Canceled)
		},
	}
	return &breaker{next: s, cb: gobreaker.NewCircuitBreaker(settings)}
}

func (b *breaker) Get(ctx context.Context, table model.Table, platform, id string, fields []string) (map[string]any, error) {
	v, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.Get(ctx, table, platform, id, fields)
	})
	if err != nil {
		return nil, err
	}
	return v.(map[string]any), nil
}

func (b *breaker) Create(ctx context.Context, table model.Table, platform, id string, data map[string]any) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, b.next.Create(ctx, table, platform, id, data)
	})
	return err
}

func (b *breaker) Set(ctx context.Context, table model.Table, platform, id string, data map[string]any) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, b.next.Set(ctx, table, platform, id, data)
	})
	return err
}

func (b *breaker) Remove(ctx context.Context, table model.Table, platform, id string) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, b.next.Remove(ctx, table, platform, id)
	})
	return err
}

func (b *breaker) Stats(ctx context.Context) (Stats, error) {
	v, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.Stats(ctx)
	})
	if err != nil {
		return Stats{}, err
	}
	return v.(Stats), nil
}

func (b *breaker) Close() error {
	return b.next.Close()
}
