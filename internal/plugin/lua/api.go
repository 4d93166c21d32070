package lua

import (
	"context"
	"time"

	"github.com/dshills/koishi/internal/core"
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

const (
	contextType = "koishi.context"
	commandType = "koishi.command"
	sessionType = "koishi.session"
)

// binding exposes the core API of one plugin context to a state.
type binding struct {
	state *State
	L     *lua.LState
}

func newBinding(s *State) *binding {
	b := &binding{state: s, L: s.L}
	b.register(contextType, map[string]lua.LGFunction{
		"command":        b.ctxCommand,
		"middleware":     b.ctxMiddleware,
		"on":             b.ctxOn,
		"platform":       b.derive((*core.Context).Platform),
		"self":           b.derive((*core.Context).Self),
		"user":           b.derive((*core.Context).User),
		"guild":          b.derive((*core.Context).Guild),
		"channel":        b.derive((*core.Context).Channel),
		"private":        b.derive((*core.Context).Private),
		"except_user":    b.derive((*core.Context).ExceptUser),
		"except_guild":   b.derive((*core.Context).ExceptGuild),
		"except_private": b.ctxExceptPrivate,
	})
	b.register(commandType, map[string]lua.LGFunction{
		"option":     b.cmdOption,
		"alias":      b.cmdAlias,
		"action":     b.cmdAction,
		"check":      b.cmdCheck,
		"usage":      b.cmdUsage,
		"example":    b.cmdExample,
		"shortcut":   b.cmdShortcut,
		"subcommand": b.cmdSubcommand,
		"dispose":    b.cmdDispose,
	})

	mt := s.L.NewTypeMetatable(sessionType)
	s.L.SetField(mt, "__index", s.L.NewFunction(b.sessionIndex))
	return b
}

func (b *binding) register(name string, methods map[string]lua.LGFunction) {
	mt := b.L.NewTypeMetatable(name)
	b.L.SetField(mt, "__index", b.L.SetFuncs(b.L.NewTable(), methods))
}

func (b *binding) wrap(typ string, v any) *lua.LUserData {
	ud := b.L.NewUserData()
	ud.Value = v
	b.L.SetMetatable(ud, b.L.GetTypeMetatable(typ))
	return ud
}

func checkContext(L *lua.LState) *core.Context {
	if c, ok := L.CheckUserData(1).Value.(*core.Context); ok {
		return c
	}
	L.ArgError(1, "context expected")
	return nil
}

func checkCommand(L *lua.LState) *core.Command {
	if c, ok := L.CheckUserData(1).Value.(*core.Command); ok {
		return c
	}
	L.ArgError(1, "command expected")
	return nil
}

func checkSession(L *lua.LState, n int) *core.Session {
	if s, ok := L.CheckUserData(n).Value.(*core.Session); ok {
		return s
	}
	L.ArgError(n, "session expected")
	return nil
}

// varargs collects string arguments from position n on.
func varargs(L *lua.LState, n int) []string {
	var out []string
	for i := n; i <= L.GetTop(); i++ {
		out = append(out, L.CheckString(i))
	}
	return out
}

// first returns the first result as a string, or "" for nil and false.
func first(out []lua.LValue) string {
	if len(out) == 0 || !lua.LVAsBool(out[0]) {
		return ""
	}
	return lua.LVAsString(out[0])
}

// disposer returns a Lua function calling dispose.
func (b *binding) disposer(dispose func()) *lua.LFunction {
	return b.L.NewFunction(func(*lua.LState) int {
		dispose()
		return 0
	})
}

func (b *binding) derive(fn func(*core.Context, ...string) *core.Context) lua.LGFunction {
	return func(L *lua.LState) int {
		c := checkContext(L)
		L.Push(b.wrap(contextType, fn(c, varargs(L, 2)...)))
		return 1
	}
}

func (b *binding) ctxExceptPrivate(L *lua.LState) int {
	L.Push(b.wrap(contextType, checkContext(L).ExceptPrivate()))
	return 1
}

// ctx:command(decl [, description [, config]])
func (b *binding) ctxCommand(L *lua.LState) int {
	c := checkContext(L)
	decl := L.CheckString(2)
	desc := L.OptString(3, "")
	var cfg core.CommandConfig
	if t := L.OptTable(4, nil); t != nil {
		cfg = commandConfig(t)
	}
	L.Push(b.wrap(commandType, c.Command(decl, desc, cfg)))
	return 1
}

func commandConfig(t *lua.LTable) core.CommandConfig {
	cfg := core.CommandConfig{
		Authority:     optInt(t, "authority"),
		MaxUsage:      optInt(t, "max_usage"),
		UsageName:     optString(t, "usage_name"),
		CheckArgCount: optBool(t, "check_arg_count"),
		CheckUnknown:  optBool(t, "check_unknown"),
		Hidden:        optBool(t, "hidden"),
	}
	if n, ok := t.RawGetString("min_interval").(lua.LNumber); ok {
		cfg.MinInterval = time.Duration(float64(n) * float64(time.Second))
	}
	if v, ok := t.RawGetString("show_warning").(lua.LBool); ok {
		show := bool(v)
		cfg.ShowWarning = &show
	}
	return cfg
}

// ctx:middleware(fn [, prepend]) returns a dispose function.
func (b *binding) ctxMiddleware(L *lua.LState) int {
	c := checkContext(L)
	fn := L.CheckFunction(2)
	prepend := L.OptBool(3, false)

	dispose := c.Middleware(func(ctx context.Context, s *core.Session, next core.Next) (string, error) {
		out, err := b.state.Call(ctx, fn,
			func() lua.LValue { return b.wrap(sessionType, s) },
			func() lua.LValue {
				return b.L.NewFunction(func(L *lua.LState) int {
					reply, err := next(b.state.current())
					if err != nil {
						L.RaiseError("%s", err.Error())
					}
					L.Push(lua.LString(reply))
					return 1
				})
			})
		if err != nil {
			return "", err
		}
		return first(out), nil
	}, prepend)
	L.Push(b.disposer(dispose))
	return 1
}

// ctx:on(event, fn) returns a dispose function.
func (b *binding) ctxOn(L *lua.LState) int {
	c := checkContext(L)
	name := L.CheckString(2)
	fn := L.CheckFunction(3)

	dispose := c.On(name, func(ctx context.Context, args ...any) (any, error) {
		builders := make([]func() lua.LValue, len(args))
		for i, arg := range args {
			builders[i] = func() lua.LValue { return b.value(arg) }
		}
		out, err := b.state.Call(ctx, fn, builders...)
		if err != nil || len(out) == 0 {
			return nil, err
		}
		return ToGo(out[0]), nil
	})
	L.Push(b.disposer(dispose))
	return 1
}

// value converts an event argument, wrapping core types.
func (b *binding) value(v any) lua.LValue {
	switch x := v.(type) {
	case *core.Session:
		return b.wrap(sessionType, x)
	case *core.Argv:
		return b.argv(x)
	case *core.Command:
		return lua.LString(x.Name())
	case *core.State:
		return ToLua(b.L, map[string]any{"id": x.ID(), "name": x.Name()})
	case *core.App:
		return lua.LNil
	}
	return ToLua(b.L, v)
}

// argv builds the table passed to actions and checks.
func (b *binding) argv(a *core.Argv) lua.LValue {
	t := b.L.NewTable()
	t.RawSetString("name", lua.LString(a.Name))
	if a.Command != nil {
		t.RawSetString("command", lua.LString(a.Command.Name()))
	}
	t.RawSetString("args", ToLua(b.L, a.Args))
	opts := b.L.NewTable()
	for k, v := range a.Options {
		opts.RawSetString(k, ToLua(b.L, v))
	}
	t.RawSetString("options", opts)
	t.RawSetString("rest", lua.LString(a.Rest))
	t.RawSetString("source", lua.LString(a.Source))
	if a.Session != nil {
		t.RawSetString("session", b.wrap(sessionType, a.Session))
	}
	return t
}

// cmd:option(name, decl [, config])
func (b *binding) cmdOption(L *lua.LState) int {
	cmd := checkCommand(L)
	name := L.CheckString(2)
	decl := L.OptString(3, "")
	var cfg core.OptionConfig
	if t := L.OptTable(4, nil); t != nil {
		cfg = core.OptionConfig{
			Fallback:  ToGo(t.RawGetString("fallback")),
			Value:     ToGo(t.RawGetString("value")),
			Authority: optInt(t, "authority"),
			NoNegated: optBool(t, "no_negated"),
			Hidden:    optBool(t, "hidden"),
			Type:      optString(t, "type"),
		}
	}
	cmd.Option(name, decl, cfg)
	L.Push(L.Get(1))
	return 1
}

func (b *binding) cmdAlias(L *lua.LState) int {
	checkCommand(L).Alias(varargs(L, 2)...)
	L.Push(L.Get(1))
	return 1
}

// cmd:action(fn): fn(argv) returns the reply or nil.
func (b *binding) cmdAction(L *lua.LState) int {
	cmd := checkCommand(L)
	fn := L.CheckFunction(2)
	cmd.Action(func(ctx context.Context, a *core.Argv) (string, error) {
		out, err := b.state.Call(ctx, fn, func() lua.LValue { return b.argv(a) })
		if err != nil {
			return "", err
		}
		return first(out), nil
	})
	L.Push(L.Get(1))
	return 1
}

// cmd:check(fn): a string result blocks the command.
func (b *binding) cmdCheck(L *lua.LState) int {
	cmd := checkCommand(L)
	fn := L.CheckFunction(2)
	logger := b.state.Logger()
	cmd.Check(func(ctx context.Context, a *core.Argv) string {
		out, err := b.state.Call(ctx, fn, func() lua.LValue { return b.argv(a) })
		if err != nil {
			logger.Warn("command check failed", zap.String("command", cmd.Name()), zap.Error(err))
			return ""
		}
		return first(out)
	})
	L.Push(L.Get(1))
	return 1
}

func (b *binding) cmdUsage(L *lua.LState) int {
	checkCommand(L).Usage(L.CheckString(2))
	L.Push(L.Get(1))
	return 1
}

func (b *binding) cmdExample(L *lua.LState) int {
	checkCommand(L).Example(L.CheckString(2))
	L.Push(L.Get(1))
	return 1
}

// cmd:shortcut(text [, {args=, options=, prefix=, fuzzy=}])
func (b *binding) cmdShortcut(L *lua.LState) int {
	cmd := checkCommand(L)
	text := L.CheckString(2)
	var cfg core.ShortcutConfig
	if t := L.OptTable(3, nil); t != nil {
		cfg.Prefix = optBool(t, "prefix")
		cfg.Fuzzy = optBool(t, "fuzzy")
		if args, ok := ToGo(t.RawGetString("args")).([]any); ok {
			for _, a := range args {
				if s, ok := a.(string); ok {
					cfg.Args = append(cfg.Args, s)
				}
			}
		}
		if opts, ok := ToGo(t.RawGetString("options")).(map[string]any); ok {
			cfg.Options = opts
		}
	}
	cmd.Shortcut(text, cfg)
	L.Push(L.Get(1))
	return 1
}

func (b *binding) cmdSubcommand(L *lua.LState) int {
	cmd := checkCommand(L)
	var cfg core.CommandConfig
	if t := L.OptTable(4, nil); t != nil {
		cfg = commandConfig(t)
	}
	L.Push(b.wrap(commandType, cmd.Subcommand(L.CheckString(2), L.OptString(3, ""), cfg)))
	return 1
}

func (b *binding) cmdDispose(L *lua.LState) int {
	checkCommand(L).Dispose()
	return 0
}

// sessionIndex resolves session fields and methods.
func (b *binding) sessionIndex(L *lua.LState) int {
	s := checkSession(L, 1)
	switch key := L.CheckString(2); key {
	case "id":
		L.Push(lua.LString(s.ID))
	case "type":
		L.Push(lua.LString(s.Type))
	case "subtype":
		L.Push(lua.LString(s.Subtype))
	case "platform":
		L.Push(lua.LString(s.Platform))
	case "self_id":
		L.Push(lua.LString(s.SelfID))
	case "user_id":
		L.Push(lua.LString(s.UserID))
	case "guild_id":
		L.Push(lua.LString(s.GuildID))
	case "channel_id":
		L.Push(lua.LString(s.ChannelID))
	case "message_id":
		L.Push(lua.LString(s.MessageID))
	case "content":
		L.Push(lua.LString(s.Content))
	case "author":
		L.Push(lua.LString(s.Author))
	case "private":
		L.Push(lua.LBool(s.Private()))
	case "send":
		L.Push(L.NewFunction(b.sessionSend))
	case "execute":
		L.Push(L.NewFunction(b.sessionExecute))
	case "field":
		L.Push(L.NewFunction(b.sessionField))
	default:
		L.Push(lua.LNil)
	}
	return 1
}

// session:send(text)
func (b *binding) sessionSend(L *lua.LState) int {
	s := checkSession(L, 1)
	if err := s.Send(b.state.current(), L.CheckString(2)); err != nil {
		L.RaiseError("%s", err.Error())
	}
	return 0
}

// session:execute(text) returns the reply.
func (b *binding) sessionExecute(L *lua.LState) int {
	s := checkSession(L, 1)
	reply, err := s.Execute(b.state.current(), L.CheckString(2))
	if err != nil {
		L.RaiseError("%s", err.Error())
	}
	L.Push(lua.LString(reply))
	return 1
}

// session:field("user", name) or session:field("channel", name) reads
// an attached record field.
func (b *binding) sessionField(L *lua.LState) int {
	s := checkSession(L, 1)
	ctx := b.state.current()
	table := L.CheckString(2)
	name := L.CheckString(3)
	var (
		v   any
		err error
	)
	switch table {
	case "user":
		rec, oerr := s.ObserveUser(ctx, name)
		if err = oerr; err == nil {
			v = rec.Get(name)
		}
	case "channel":
		rec, oerr := s.ObserveChannel(ctx, name)
		if err = oerr; err == nil {
			v = rec.Get(name)
		}
	default:
		L.ArgError(2, "user or channel expected")
	}
	if err != nil {
		L.RaiseError("%s", err.Error())
	}
	L.Push(ToLua(L, v))
	return 1
}
