package event

import (
	"context"
	"runtime/debug"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Bus dispatches named events to registered hooks.
// It is safe for concurrent use.
type Bus struct {
	registry *registry
	config   busConfig
}

// NewBus creates an empty bus.
func NewBus(opts ...BusOption) *Bus {
	cfg := defaultBusConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Bus{
		registry: newRegistry(),
		config:   cfg,
	}
}

// On registers l for the named event and returns its hook.
// It panics if l is nil.
func (b *Bus) On(name string, l Listener, opts ...HookOption) *Hook {
	if l == nil {
		panic(ErrNilListener)
	}
	h := newHook(b, name, l, opts)
	b.registry.add(h)
	return h
}

// Off cancels h and reports whether it was still registered.
func (b *Bus) Off(h *Hook) bool {
	if h == nil || h.bus != b || h.cancelled.Swap(true) {
		return false
	}
	return b.registry.remove(h)
}

// Count returns the number of hooks registered for name.
func (b *Bus) Count(name string) int {
	return b.registry.count(name)
}

// Total returns the number of hooks registered for all events.
func (b *Bus) Total() int {
	return b.registry.size()
}

// Events returns the hook count per event name.
func (b *Bus) Events() map[string]int {
	return b.registry.names()
}

// Emit is an alias for Parallel.
func (b *Bus) Emit(ctx context.Context, name string, args ...any) {
	b.Parallel(ctx, name, args...)
}

// Parallel invokes every accepting hook concurrently and waits for all of
// them. Errors and panics are logged and do not affect other hooks.
func (b *Bus) Parallel(ctx context.Context, name string, args ...any) {
	hooks := b.accepting(name, args)
	if len(hooks) == 0 {
		return
	}
	var g errgroup.Group
	if b.config.concurrency > 0 {
		g.SetLimit(b.config.concurrency)
	}
	for _, h := range hooks {
		g.Go(func() error {
			if _, err := b.invoke(ctx, h, args); err != nil {
				b.report(name, err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// Serial invokes accepting hooks in order. The first error aborts the
// emission and is returned.
func (b *Bus) Serial(ctx context.Context, name string, args ...any) error {
	for _, h := range b.registry.snapshot(name) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !h.accepts(args) {
			continue
		}
		if _, err := b.invoke(ctx, h, args); err != nil {
			return err
		}
	}
	return nil
}

// Bail invokes accepting hooks in order and returns the first truthy
// result. A listener error stops the emission and is returned.
func (b *Bus) Bail(ctx context.Context, name string, args ...any) (any, error) {
	for _, h := range b.registry.snapshot(name) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !h.accepts(args) {
			continue
		}
		v, err := b.invoke(ctx, h, args)
		if err != nil {
			return nil, err
		}
		if Truthy(v) {
			return v, nil
		}
	}
	return nil, nil
}

func (b *Bus) accepting(name string, args []any) []*Hook {
	snap := b.registry.snapshot(name)
	out := make([]*Hook, 0, len(snap))
	for _, h := range snap {
		if h.accepts(args) {
			out = append(out, h)
		}
	}
	return out
}

// invoke runs one listener, converting a panic into *PanicError.
func (b *Bus) invoke(ctx context.Context, h *Hook, args []any) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			v = nil
			err = &PanicError{HookID: h.id, Event: h.name, Value: r, Stack: debug.Stack()}
		}
	}()
	v, err = h.listener(ctx, args...)
	if err != nil {
		err = &ListenerError{HookID: h.id, Event: h.name, Err: err}
	}
	return v, err
}

func (b *Bus) report(name string, err error) {
	fields := []zap.Field{zap.String("event", name), zap.Error(err)}
	if pe, ok := err.(*PanicError); ok {
		fields = append(fields, zap.ByteString("stack", pe.Stack))
	}
	b.config.logger.Error("listener failed", fields...)
	if b.config.onError != nil {
		b.config.onError(name, err)
	}
}

// Truthy reports whether v counts as a result for Bail: anything except
// nil, false, the empty string and zero numbers.
func Truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != ""
	case int:
		return x != 0
	case int64:
		return x != 0
	case float64:
		return x != 0
	default:
		return true
	}
}
