package lua

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/dshills/koishi/internal/core"
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// Script is a plugin implemented by a Lua source file.
type Script struct {
	name    string
	path    string
	source  string
	timeout time.Duration
}

// ScriptOption configures a Script.
type ScriptOption func(*Script)

// WithTimeout bounds each call into the script. Defaults to
// DefaultExecutionTimeout.
func WithTimeout(d time.Duration) ScriptOption {
	return func(s *Script) {
		s.timeout = d
	}
}

// WithName overrides the plugin name, which defaults to the file name
// without extension.
func WithName(name string) ScriptOption {
	return func(s *Script) {
		if name != "" {
			s.name = name
		}
	}
}

// NewScript creates a script plugin from source.
func NewScript(name, source string, opts ...ScriptOption) *Script {
	s := &Script{name: name, path: name, source: source, timeout: DefaultExecutionTimeout}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load reads a script plugin from path.
func Load(path string, opts ...ScriptOption) (*Script, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading lua script: %w", err)
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	s := NewScript(name, string(raw), opts...)
	s.path = path
	return s, nil
}

// Discover loads every *.lua file directly inside dirs, sorted by path.
// Missing directories are skipped.
func Discover(dirs []string, opts ...ScriptOption) ([]*Script, error) {
	var paths []string
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("scanning %s: %w", dir, err)
		}
		for _, e := range entries {
			if !e.IsDir() && strings.EqualFold(filepath.Ext(e.Name()), ".lua") {
				paths = append(paths, filepath.Join(dir, e.Name()))
			}
		}
	}
	slices.Sort(paths)

	out := make([]*Script, 0, len(paths))
	for _, p := range paths {
		s, err := Load(p, opts...)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// Name implements core.Named.
func (s *Script) Name() string { return s.name }

// Path returns the file the script was loaded from.
func (s *Script) Path() string { return s.path }

// Apply runs the script in a fresh state and calls its apply function
// with ctx and config. The state is closed when the plugin is disposed.
func (s *Script) Apply(ctx *core.Context, config any) error {
	logger := ctx.Logger().Named("lua").With(zap.String("script", s.name))
	state := NewState(WithExecutionTimeout(s.timeout), WithLogger(logger))
	b := newBinding(state)

	if err := state.DoString(context.Background(), s.path, s.source); err != nil {
		_ = state.Close()
		return &ScriptError{Script: s.name, Err: err}
	}
	apply, err := state.Global(context.Background(), "apply")
	if err != nil {
		_ = state.Close()
		return &ScriptError{Script: s.name, Err: err}
	}
	fn, ok := apply.(*lua.LFunction)
	if !ok {
		_ = state.Close()
		return &ScriptError{Script: s.name, Err: ErrNoApply}
	}

	ctx.OnDispose(func() {
		_ = state.Close()
	})
	_, err = state.Call(context.Background(), fn,
		func() lua.LValue { return b.wrap(contextType, ctx) },
		func() lua.LValue { return ToLua(state.L, config) },
	)
	if err != nil {
		return &ScriptError{Script: s.name, Err: err}
	}
	logger.Debug("script applied")
	return nil
}
