package core

import (
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/multierr"
)

// State is the registration record of one applied plugin. It owns the
// plugin's disposables and nested plugin states.
type State struct {
	id         string
	name       string
	key        pluginKey
	plugin     any
	config     any
	sideEffect bool
	parent     *State
	ctx        *Context

	mu          sync.Mutex
	children    []*State
	disposables []*disposable
	disposed    atomic.Bool
}

type disposable struct {
	once sync.Once
	fn   func()
}

func newState(info *pluginInfo, config any, parent *State) *State {
	s := &State{
		id:     uuid.NewString(),
		parent: parent,
		config: config,
	}
	if info != nil {
		s.name = info.name
		s.key = info.key
		s.plugin = info.value
		s.sideEffect = info.sideEffect
	}
	return s
}

// ID returns the unique state identifier.
func (s *State) ID() string { return s.id }

// Name returns the plugin name.
func (s *State) Name() string { return s.name }

// Plugin returns the applied plugin value. It is nil for the root state.
func (s *State) Plugin() any { return s.plugin }

// Config returns the config the plugin was applied with.
func (s *State) Config() any { return s.config }

// SideEffect reports whether the plugin declared irreversible effects.
func (s *State) SideEffect() bool { return s.sideEffect }

// Parent returns the state the plugin was applied under.
func (s *State) Parent() *State { return s.parent }

// Context returns the context passed to the plugin.
func (s *State) Context() *Context { return s.ctx }

// Disposed reports whether the state has been torn down.
func (s *State) Disposed() bool { return s.disposed.Load() }

// Children returns a snapshot of nested plugin states.
func (s *State) Children() []*State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.children)
}

// track registers fn to run when the state is disposed and returns a
// function that runs it early. fn runs at most once either way.
func (s *State) track(fn func()) func() {
	d := &disposable{fn: fn}
	s.mu.Lock()
	if s.disposed.Load() {
		s.mu.Unlock()
		d.once.Do(fn)
		return func() {}
	}
	s.disposables = append(s.disposables, d)
	s.mu.Unlock()

	return func() {
		d.once.Do(fn)
		s.mu.Lock()
		defer s.mu.Unlock()
		if i := slices.Index(s.disposables, d); i >= 0 {
			s.disposables = slices.Delete(s.disposables, i, i+1)
		}
	}
}

func (s *State) addChild(c *State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.children = append(s.children, c)
}

func (s *State) removeChild(c *State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := slices.Index(s.children, c); i >= 0 {
		s.children = slices.Delete(s.children, i, i+1)
	}
}

// teardown disposes children deepest first, then runs own disposables
// in reverse registration order. visit is called for every state torn
// down, after its resources are released. Lists are snapshotted so a
// disposable may dispose other states.
func (s *State) teardown(visit func(*State)) error {
	if s.disposed.Swap(true) {
		return nil
	}
	s.mu.Lock()
	children := slices.Clone(s.children)
	disposables := slices.Clone(s.disposables)
	s.children = nil
	s.disposables = nil
	s.mu.Unlock()

	var err error
	for i := len(children) - 1; i >= 0; i-- {
		err = multierr.Append(err, children[i].teardown(visit))
	}
	for i := len(disposables) - 1; i >= 0; i-- {
		err = multierr.Append(err, runDisposable(s, disposables[i]))
	}
	if visit != nil {
		visit(s)
	}
	return err
}

func runDisposable(s *State, d *disposable) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("dispose %s: panic: %v", s.name, r)
		}
	}()
	d.once.Do(d.fn)
	return nil
}

// StateInfo is a serializable view of a state subtree.
type StateInfo struct {
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	Config     any         `json:"config,omitempty"`
	SideEffect bool        `json:"sideEffect,omitempty"`
	Children   []StateInfo `json:"children,omitempty"`
}

// Info returns a snapshot of the state subtree.
func (s *State) Info() StateInfo {
	info := StateInfo{
		ID:         s.id,
		Name:       s.name,
		Config:     s.config,
		SideEffect: s.sideEffect,
	}
	for _, c := range s.Children() {
		info.Children = append(info.Children, c.Info())
	}
	return info
}
