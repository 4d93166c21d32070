package plugin

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/dshills/koishi/internal/config"
	"github.com/dshills/koishi/internal/core"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// EventType classifies manager events.
type EventType int

const (
	// EventApplied is emitted when a plugin was applied.
	EventApplied EventType = iota
	// EventDisposed is emitted when a plugin was disposed.
	EventDisposed
	// EventReloaded is emitted when a plugin was applied again with a
	// new config.
	EventReloaded
	// EventSkipped is emitted when a config change was not applied.
	EventSkipped
	// EventError is emitted when applying or disposing failed.
	EventError
)

// String returns a string representation of the event type.
func (t EventType) String() string {
	switch t {
	case EventApplied:
		return "applied"
	case EventDisposed:
		return "disposed"
	case EventReloaded:
		return "reloaded"
	case EventSkipped:
		return "skipped"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event reports one reconciliation step.
type Event struct {
	Type   EventType
	Plugin string
	Error  error
}

// EventHandler observes manager events. Handlers run synchronously
// while the manager is locked and must not call back into it.
type EventHandler func(Event)

type entry struct {
	plugin any
	config map[string]any
}

// Manager applies the configured plugins to a context.
type Manager struct {
	ctx     *core.Context
	catalog *Catalog
	logger  *zap.Logger

	mu       sync.Mutex
	applied  map[string]*entry
	order    []string
	handlers []EventHandler
}

// NewManager creates a manager applying plugins from catalog to ctx.
func NewManager(ctx *core.Context, catalog *Catalog) *Manager {
	return &Manager{
		ctx:     ctx,
		catalog: catalog,
		logger:  ctx.Logger().Named("plugins"),
		applied: make(map[string]*entry),
	}
}

// OnEvent registers a handler.
func (m *Manager) OnEvent(h EventHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, h)
}

// Applied returns the names of applied plugins in application order.
func (m *Manager) Applied() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.order))
	copy(out, m.order)
	return out
}

// Sync reconciles the applied plugins with entries. Every failure is
// reported; a failing entry does not stop the others.
func (m *Manager) Sync(entries []config.PluginConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	want := make(map[string]config.PluginConfig)
	for _, e := range entries {
		if !e.Disabled {
			want[e.Name] = e
		}
	}

	var err error
	for _, name := range append([]string(nil), m.order...) {
		if _, ok := want[name]; !ok {
			err = multierr.Append(err, m.dispose(name))
		}
	}

	for _, e := range entries {
		if e.Disabled {
			continue
		}
		cur, ok := m.applied[e.Name]
		switch {
		case !ok:
			err = multierr.Append(err, m.apply(e, EventApplied))
		case reflect.DeepEqual(cur.config, e.Config):
		default:
			err = multierr.Append(err, m.reload(e, cur))
		}
	}
	return err
}

// Close disposes every applied plugin, latest first.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var err error
	for i := len(m.order) - 1; i >= 0; i-- {
		err = multierr.Append(err, m.dispose(m.order[i]))
	}
	return err
}

func (m *Manager) apply(e config.PluginConfig, typ EventType) error {
	p, ok := m.catalog.Lookup(e.Name)
	if !ok {
		err := fmt.Errorf("%w: %s", ErrPluginNotFound, e.Name)
		m.emit(Event{Type: EventError, Plugin: e.Name, Error: err})
		return err
	}
	var cfg any
	if e.Config != nil {
		cfg = e.Config
	}
	if _, err := m.ctx.Plugin(p, cfg); err != nil {
		m.emit(Event{Type: EventError, Plugin: e.Name, Error: err})
		return err
	}
	m.applied[e.Name] = &entry{plugin: p, config: e.Config}
	m.order = append(m.order, e.Name)
	m.logger.Info("plugin "+typ.String(), zap.String("plugin", e.Name))
	m.emit(Event{Type: typ, Plugin: e.Name})
	return nil
}

func (m *Manager) dispose(name string) error {
	cur, ok := m.applied[name]
	if !ok {
		return nil
	}
	delete(m.applied, name)
	for i, n := range m.order {
		if n == name {
			m.order = append(m.order[:i:i], m.order[i+1:]...)
			break
		}
	}
	if err := m.ctx.Dispose(cur.plugin); err != nil {
		m.emit(Event{Type: EventError, Plugin: name, Error: err})
		return fmt.Errorf("dispose %s: %w", name, err)
	}
	m.logger.Info("plugin disposed", zap.String("plugin", name))
	m.emit(Event{Type: EventDisposed, Plugin: name})
	return nil
}

func (m *Manager) reload(e config.PluginConfig, cur *entry) error {
	if state, ok := m.ctx.App().Registry().Get(cur.plugin); ok && state.SideEffect() {
		m.logger.Warn("plugin has side effects, config change applies after restart",
			zap.String("plugin", e.Name))
		m.emit(Event{Type: EventSkipped, Plugin: e.Name})
		return nil
	}
	if err := m.dispose(e.Name); err != nil {
		return err
	}
	return m.apply(e, EventReloaded)
}

func (m *Manager) emit(ev Event) {
	for _, h := range m.handlers {
		h(ev)
	}
}
