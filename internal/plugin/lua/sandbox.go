package lua

import (
	"strings"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// allowedModules are the libraries require may return.
var allowedModules = map[string]bool{
	lua.TabLibName:    true,
	lua.StringLibName: true,
	lua.MathLibName:   true,
}

// installSandbox strips file and code loading from L, limits require to
// allowedModules and routes print to logger.
func installSandbox(L *lua.LState, logger *zap.Logger) {
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring", "module"} {
		L.SetGlobal(name, lua.LNil)
	}

	if pkg, ok := L.GetGlobal(lua.LoadLibName).(*lua.LTable); ok {
		L.SetField(pkg, "path", lua.LString(""))
		L.SetField(pkg, "cpath", lua.LString(""))
		if loaded, ok := L.GetField(pkg, "loaded").(*lua.LTable); ok {
			var drop []string
			loaded.ForEach(func(k, _ lua.LValue) {
				if ks, ok := k.(lua.LString); ok && !allowedModules[string(ks)] && string(ks) != "_G" {
					drop = append(drop, string(ks))
				}
			})
			for _, k := range drop {
				loaded.RawSetString(k, lua.LNil)
			}
		}
	}
	L.SetGlobal(lua.LoadLibName, lua.LNil)

	L.SetGlobal("require", L.NewFunction(func(L *lua.LState) int {
		name := L.CheckString(1)
		if !allowedModules[name] {
			L.RaiseError("module %q is not available", name)
			return 0
		}
		L.Push(L.GetGlobal(name))
		return 1
	}))

	L.SetGlobal("print", L.NewFunction(func(L *lua.LState) int {
		parts := make([]string, L.GetTop())
		for i := range parts {
			parts[i] = L.ToStringMeta(L.Get(i + 1)).String()
		}
		logger.Info(strings.Join(parts, "\t"))
		return 0
	}))
}
