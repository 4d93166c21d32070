package core

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Registry tracks applied plugins by identity.
// It is safe for concurrent use.
type Registry struct {
	app  *App
	root *State

	mu     sync.RWMutex
	states map[pluginKey]*State
}

func newRegistry(app *App) *Registry {
	root := newState(nil, nil, nil)
	root.name = "app"
	return &Registry{
		app:    app,
		root:   root,
		states: make(map[pluginKey]*State),
	}
}

// Root returns the state of the App itself.
func (r *Registry) Root() *State {
	return r.root
}

// Get returns the state of an applied plugin.
func (r *Registry) Get(p any) (*State, bool) {
	info, err := resolvePlugin(p)
	if err != nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.states[info.key]
	return s, ok
}

// Len returns the number of applied plugins.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.states)
}

// Snapshot returns the plugin tree below the root.
func (r *Registry) Snapshot() StateInfo {
	return r.root.Info()
}

func (r *Registry) apply(parent *Context, info *pluginInfo, config any) error {
	r.mu.Lock()
	if existing, ok := r.states[info.key]; ok {
		r.mu.Unlock()
		r.app.logger.Warn("plugin already applied",
			zap.String("plugin", info.name),
			zap.String("state", existing.id))
		return nil
	}
	state := newState(info, config, parent.state)
	state.ctx = &Context{app: r.app, sel: parent.sel, state: state}
	r.states[info.key] = state
	parent.state.addChild(state)
	r.mu.Unlock()

	if err := safeApply(info, state.ctx, config); err != nil {
		// Partial registrations are released without announcing a
		// plugin that never finished applying.
		if derr := r.dispose(state, false); derr != nil {
			r.app.logger.Warn("dispose after failed apply", zap.Error(derr))
		}
		return fmt.Errorf("apply plugin %s: %w", info.name, err)
	}

	r.app.metrics.Plugins.Set(float64(r.Len()))
	ctx := context.Background()
	r.app.bus.Parallel(ctx, EventRegistryAdded, state)
	r.app.bus.Parallel(ctx, EventRegistry, r.Snapshot())
	return nil
}

func safeApply(info *pluginInfo, ctx *Context, config any) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = &PluginPanicError{Plugin: info.name, Value: rec}
		}
	}()
	return info.apply(ctx, config)
}

// dispose tears down state and its subtree. With announce set,
// registry-removed is emitted per state and registry once at the end.
func (r *Registry) dispose(state *State, announce bool) error {
	if state == r.root || state.Disposed() {
		return nil
	}
	var removed []*State
	err := state.teardown(func(s *State) {
		r.mu.Lock()
		if r.states[s.key] == s {
			delete(r.states, s.key)
		}
		r.mu.Unlock()
		removed = append(removed, s)
	})
	if state.parent != nil {
		state.parent.removeChild(state)
	}
	r.app.metrics.Plugins.Set(float64(r.Len()))

	if announce {
		ctx := context.Background()
		for _, s := range removed {
			r.app.bus.Parallel(ctx, EventRegistryRemoved, s)
		}
		r.app.bus.Parallel(ctx, EventRegistry, r.Snapshot())
	}
	return err
}

// disposeAll tears down every plugin applied to the root.
func (r *Registry) disposeAll() error {
	var err error
	children := r.root.Children()
	for i := len(children) - 1; i >= 0; i-- {
		err = multierr.Append(err, r.dispose(children[i], true))
	}
	return err
}
