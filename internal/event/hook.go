package event

import (
	"context"
	"sync/atomic"

	"github.com/google/uuid"
)

// Listener handles one emitted event. The returned value is only
// inspected by Bail.
type Listener func(ctx context.Context, args ...any) (any, error)

// FilterFunc decides whether a hook receives an emission.
type FilterFunc func(args []any) bool

// HookOption configures a hook at registration time.
type HookOption func(*hookConfig)

type hookConfig struct {
	prepend bool
	filter  FilterFunc
	once    bool
}

// WithPrepend places the hook before every hook already registered for
// the same event.
func WithPrepend() HookOption {
	return func(c *hookConfig) {
		c.prepend = true
	}
}

// WithFilter skips the hook for emissions whose arguments f rejects.
func WithFilter(f FilterFunc) HookOption {
	return func(c *hookConfig) {
		c.filter = f
	}
}

// WithOnce cancels the hook after its first invocation.
func WithOnce() HookOption {
	return func(c *hookConfig) {
		c.once = true
	}
}

// Hook is a registered listener. It is returned by Bus.On and removed
// with Cancel.
type Hook struct {
	id       string
	name     string
	listener Listener
	config   hookConfig
	bus      *Bus

	fired     atomic.Bool
	cancelled atomic.Bool
}

func newHook(bus *Bus, name string, l Listener, opts []HookOption) *Hook {
	h := &Hook{
		id:       uuid.NewString(),
		name:     name,
		listener: l,
		bus:      bus,
	}
	for _, opt := range opts {
		opt(&h.config)
	}
	return h
}

// ID returns the unique hook identifier.
func (h *Hook) ID() string {
	return h.id
}

// Name returns the event name the hook listens to.
func (h *Hook) Name() string {
	return h.name
}

// Active reports whether the hook is still registered.
func (h *Hook) Active() bool {
	return !h.cancelled.Load()
}

// Cancel removes the hook from its bus. It is safe to call more than once.
func (h *Hook) Cancel() {
	if h.cancelled.Swap(true) {
		return
	}
	h.bus.registry.remove(h)
}

// accepts reports whether the hook should run for args, claiming the
// single invocation of a once hook.
func (h *Hook) accepts(args []any) bool {
	if h.cancelled.Load() {
		return false
	}
	if h.config.filter != nil && !h.config.filter(args) {
		return false
	}
	if h.config.once {
		if h.fired.Swap(true) {
			return false
		}
		h.Cancel()
	}
	return true
}
