package lua

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// DefaultExecutionTimeout bounds one top-level call into a state.
const DefaultExecutionTimeout = 5 * time.Second

// State is a sandboxed Lua interpreter.
//
// gopher-lua states are single threaded. State hands the interpreter to
// one caller at a time; a caller that already owns it further up the
// same call chain (tracked through the context) re-enters without
// waiting.
type State struct {
	L *lua.LState

	timeout time.Duration
	logger  *zap.Logger

	mu     sync.Mutex
	cond   *sync.Cond
	owner  *holder
	closed bool

	// active is the context of the innermost running call. Only the
	// owner reads or writes it.
	active context.Context
}

type holder struct {
	parent *holder
}

type holderKey struct {
	s *State
}

// StateOption configures a State.
type StateOption func(*State)

// WithExecutionTimeout bounds each top-level call. Zero disables the
// bound.
func WithExecutionTimeout(d time.Duration) StateOption {
	return func(s *State) {
		s.timeout = d
	}
}

// WithLogger receives print output and script diagnostics.
func WithLogger(l *zap.Logger) StateOption {
	return func(s *State) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewState creates a sandboxed state with the base, table, string and
// math libraries.
func NewState(opts ...StateOption) *State {
	s := &State{
		timeout: DefaultExecutionTimeout,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.cond = sync.NewCond(&s.mu)

	s.L = lua.NewState(lua.Options{SkipOpenLibs: true})
	for _, lib := range []struct {
		name string
		open lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.LoadLibName, lua.OpenPackage},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		s.L.Push(s.L.NewFunction(lib.open))
		s.L.Push(lua.LString(lib.name))
		s.L.Call(1, 0)
	}
	installSandbox(s.L, s.logger)
	return s
}

// enter waits until the caller may use the interpreter. The returned
// context marks the caller as owner for calls made further down.
func (s *State) enter(ctx context.Context) (context.Context, func(), error) {
	parent, _ := ctx.Value(holderKey{s}).(*holder)

	s.mu.Lock()
	for !s.closed && s.owner != parent {
		s.cond.Wait()
	}
	if s.closed {
		s.mu.Unlock()
		return nil, nil, ErrStateClosed
	}
	h := &holder{parent: parent}
	s.owner = h
	s.mu.Unlock()

	inner := context.WithValue(ctx, holderKey{s}, h)
	cancel := func() {}
	if parent == nil {
		runCtx := inner
		if s.timeout > 0 {
			var stop context.CancelFunc
			runCtx, stop = context.WithTimeout(inner, s.timeout)
			cancel = stop
		}
		s.L.SetContext(runCtx)
		inner = runCtx
	}
	prev := s.active
	s.active = inner

	return inner, func() {
		s.active = prev
		if parent == nil {
			s.L.RemoveContext()
			cancel()
		}
		s.mu.Lock()
		s.owner = parent
		release := parent == nil && s.closed
		s.cond.Broadcast()
		s.mu.Unlock()
		if release {
			s.L.Close()
		}
	}, nil
}

// DoString runs a chunk. name labels it in error messages.
func (s *State) DoString(ctx context.Context, name, code string) error {
	ctx, leave, err := s.enter(ctx)
	if err != nil {
		return err
	}
	defer leave()

	fn, err := s.L.Load(strings.NewReader(code), name)
	if err != nil {
		return err
	}
	_, err = s.protect(ctx, fn, nil)
	return err
}

// Global returns a global variable.
func (s *State) Global(ctx context.Context, name string) (lua.LValue, error) {
	_, leave, err := s.enter(ctx)
	if err != nil {
		return lua.LNil, err
	}
	defer leave()
	return s.L.GetGlobal(name), nil
}

// Call invokes fn and returns its results. The arguments are built
// once the state is owned, since building them touches the interpreter.
func (s *State) Call(ctx context.Context, fn *lua.LFunction, args ...func() lua.LValue) ([]lua.LValue, error) {
	ctx, leave, err := s.enter(ctx)
	if err != nil {
		return nil, err
	}
	defer leave()

	vals := make([]lua.LValue, len(args))
	for i, build := range args {
		vals[i] = build()
	}
	return s.protect(ctx, fn, vals)
}

// current returns the context of the running call. Go functions called
// from Lua pass it on so the calls they make can re-enter the state.
func (s *State) current() context.Context {
	if s.active == nil {
		return context.Background()
	}
	return s.active
}

// protect calls fn with the interpreter already owned.
func (s *State) protect(ctx context.Context, fn *lua.LFunction, args []lua.LValue) (out []lua.LValue, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("lua panic: %v", r)
		}
		if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %v", ErrExecutionTimeout, err)
		}
	}()

	top := s.L.GetTop()
	s.L.Push(fn)
	for _, a := range args {
		s.L.Push(a)
	}
	if err := s.L.PCall(len(args), lua.MultRet, nil); err != nil {
		s.L.SetTop(top)
		return nil, err
	}
	n := s.L.GetTop() - top
	out = make([]lua.LValue, n)
	for i := range n {
		out[i] = s.L.Get(top + i + 1)
	}
	s.L.SetTop(top)
	return out, nil
}

// Logger returns the script logger.
func (s *State) Logger() *zap.Logger { return s.logger }

// Closed reports whether Close was called.
func (s *State) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close rejects further calls and releases the interpreter, at once
// when idle or when the running call returns. It may be called from a
// callback of the state itself.
func (s *State) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	idle := s.owner == nil
	s.cond.Broadcast()
	s.mu.Unlock()

	if idle {
		s.L.Close()
	}
	return nil
}
