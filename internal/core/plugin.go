package core

import (
	"fmt"
	"reflect"
	"runtime"
	"strings"
	"unsafe"
)

// Plugin registers behavior on the context it is applied to.
type Plugin interface {
	Apply(ctx *Context, config any) error
}

// PluginFunc adapts a function to Plugin.
type PluginFunc func(ctx *Context, config any) error

// Apply implements Plugin.
func (f PluginFunc) Apply(ctx *Context, config any) error {
	return f(ctx, config)
}

// Named is implemented by plugins that report their own name.
type Named interface {
	Name() string
}

// SideEffecter is implemented by plugins whose disposal cannot undo
// everything they did. Such plugins are never reloaded in place.
type SideEffecter interface {
	SideEffect() bool
}

// pluginKey identifies a plugin across applications within one App.
// Functions are identified by their closure object, other values by
// equality. Two closures built from one literal are distinct plugins.
type pluginKey struct {
	fn  uintptr
	val any
}

type pluginInfo struct {
	key        pluginKey
	name       string
	apply      func(*Context, any) error
	sideEffect bool
	value      any
}

// resolvePlugin accepts a Plugin, a PluginFunc or one of the plain
// function forms func(*Context), func(*Context, any) and
// func(*Context, any) error.
func resolvePlugin(p any) (*pluginInfo, error) {
	if p == nil {
		return nil, &InvalidPluginError{Value: p}
	}
	info := &pluginInfo{value: p}

	switch v := p.(type) {
	case PluginFunc:
		info.apply = v
	case func(*Context, any) error:
		info.apply = v
	case func(*Context, any):
		info.apply = func(ctx *Context, cfg any) error {
			v(ctx, cfg)
			return nil
		}
	case func(*Context):
		info.apply = func(ctx *Context, _ any) error {
			v(ctx)
			return nil
		}
	case Plugin:
		info.apply = v.Apply
	default:
		return nil, &InvalidPluginError{Value: p}
	}

	rv := reflect.ValueOf(p)
	switch {
	case rv.Kind() == reflect.Func:
		if rv.IsNil() {
			return nil, &InvalidPluginError{Value: p}
		}
		info.key = pluginKey{fn: closureAddr(rv)}
		info.name = funcName(rv.Pointer())
	case rv.Type().Comparable():
		info.key = pluginKey{val: p}
		info.name = typeName(rv.Type())
	default:
		// Values that cannot be compared are identified by type.
		info.key = pluginKey{val: rv.Type().String()}
		info.name = typeName(rv.Type())
	}

	if n, ok := p.(Named); ok && n.Name() != "" {
		info.name = n.Name()
	}
	if s, ok := p.(SideEffecter); ok {
		info.sideEffect = s.SideEffect()
	}
	return info, nil
}

// closureAddr returns the address of the closure object behind a func
// value. Unlike the code pointer it differs for every closure a literal
// creates, and stays fixed while the value is held by the state.
func closureAddr(fn reflect.Value) uintptr {
	slot := reflect.New(fn.Type())
	slot.Elem().Set(fn)
	return uintptr(*(*unsafe.Pointer)(slot.UnsafePointer()))
}

func funcName(pc uintptr) string {
	fn := runtime.FuncForPC(pc)
	if fn == nil {
		return "anonymous"
	}
	name := fn.Name()
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	return name
}

func typeName(t reflect.Type) string {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Name() == "" {
		return t.String()
	}
	return fmt.Sprintf("%s.%s", pathBase(t.PkgPath()), t.Name())
}

func pathBase(p string) string {
	if i := strings.LastIndex(p, "/"); i >= 0 {
		return p[i+1:]
	}
	return p
}
