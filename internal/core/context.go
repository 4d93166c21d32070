package core

import (
	"context"

	"github.com/dshills/koishi/internal/event"
	"github.com/dshills/koishi/internal/selector"
	"go.uber.org/zap"
)

// Context is a plugin's handle into the App, scoped by a selector.
// Contexts derived with the selector methods share the plugin state, so
// their registrations are released together with the plugin.
type Context struct {
	app   *App
	sel   selector.Selector
	state *State
}

// App returns the owning App.
func (c *Context) App() *App { return c.app }

// Selector returns the session filter of the context.
func (c *Context) Selector() selector.Selector { return c.sel }

// State returns the plugin state the context belongs to.
func (c *Context) State() *State { return c.state }

// Logger returns the app logger named after the plugin.
func (c *Context) Logger() *zap.Logger {
	return c.app.logger.Named(c.state.name)
}

// Match reports whether a session is inside the context scope.
func (c *Context) Match(s *Session) bool {
	return c.sel.Match(s.Target())
}

func (c *Context) derive(sel selector.Selector) *Context {
	return &Context{app: c.app, sel: sel, state: c.state}
}

// Platform narrows the scope to the given platforms.
func (c *Context) Platform(ids ...string) *Context { return c.derive(c.sel.Platform(ids...)) }

// Self narrows the scope to the given bot accounts.
func (c *Context) Self(ids ...string) *Context { return c.derive(c.sel.Self(ids...)) }

// User narrows the scope to the given users.
func (c *Context) User(ids ...string) *Context { return c.derive(c.sel.User(ids...)) }

// Guild narrows the scope to the given guilds.
func (c *Context) Guild(ids ...string) *Context { return c.derive(c.sel.Guild(ids...)) }

// Channel narrows the scope to the given channels.
func (c *Context) Channel(ids ...string) *Context { return c.derive(c.sel.Channel(ids...)) }

// Private narrows the scope to private messages, optionally from the given users.
func (c *Context) Private(userIDs ...string) *Context { return c.derive(c.sel.Private(userIDs...)) }

// ExceptPlatform excludes sessions from the given platforms.
func (c *Context) ExceptPlatform(ids ...string) *Context {
	return c.derive(c.sel.ExceptPlatform(ids...))
}

// ExceptSelf excludes sessions from the given bot accounts.
func (c *Context) ExceptSelf(ids ...string) *Context { return c.derive(c.sel.ExceptSelf(ids...)) }

// ExceptUser excludes sessions from the given users.
func (c *Context) ExceptUser(ids ...string) *Context { return c.derive(c.sel.ExceptUser(ids...)) }

// ExceptGuild excludes sessions from the given guilds.
func (c *Context) ExceptGuild(ids ...string) *Context { return c.derive(c.sel.ExceptGuild(ids...)) }

// ExceptChannel excludes sessions from the given channels.
func (c *Context) ExceptChannel(ids ...string) *Context {
	return c.derive(c.sel.ExceptChannel(ids...))
}

// ExceptPrivate narrows the scope to guild messages.
func (c *Context) ExceptPrivate() *Context { return c.derive(c.sel.ExceptPrivate()) }

// Intersect returns a context matching sessions in both scopes.
func (c *Context) Intersect(other *Context) *Context {
	return c.derive(c.sel.Intersect(other.sel))
}

// Union returns a context matching sessions in either scope.
func (c *Context) Union(other *Context) *Context {
	return c.derive(c.sel.Union(other.sel))
}

// On registers a listener scoped to the context. Emissions whose first
// argument is a *Session outside the scope skip it. The returned
// function removes the listener early.
func (c *Context) On(name string, l event.Listener, opts ...event.HookOption) (dispose func()) {
	opts = append(opts, event.WithFilter(c.sessionFilter))
	h := c.app.bus.On(name, l, opts...)
	return c.state.track(h.Cancel)
}

// Once is On with event.WithOnce.
func (c *Context) Once(name string, l event.Listener, opts ...event.HookOption) (dispose func()) {
	return c.On(name, l, append(opts, event.WithOnce())...)
}

func (c *Context) sessionFilter(args []any) bool {
	if len(args) == 0 {
		return true
	}
	if s, ok := args[0].(*Session); ok && s != nil {
		return c.Match(s)
	}
	return true
}

// Emit runs listeners concurrently and waits for them.
func (c *Context) Emit(ctx context.Context, name string, args ...any) {
	c.app.bus.Parallel(ctx, name, args...)
}

// Parallel is Emit.
func (c *Context) Parallel(ctx context.Context, name string, args ...any) {
	c.app.bus.Parallel(ctx, name, args...)
}

// Serial runs listeners in order and stops at the first error.
func (c *Context) Serial(ctx context.Context, name string, args ...any) error {
	return c.app.bus.Serial(ctx, name, args...)
}

// Bail runs listeners in order and returns the first truthy result.
func (c *Context) Bail(ctx context.Context, name string, args ...any) (any, error) {
	return c.app.bus.Bail(ctx, name, args...)
}

// OnDispose registers fn to run when the plugin is disposed.
func (c *Context) OnDispose(fn func()) (dispose func()) {
	return c.state.track(fn)
}

// Plugin applies p under this context with config and returns the
// receiver. A config of false skips the plugin. Applying a plugin that
// is already registered in the App is a no-op.
func (c *Context) Plugin(p any, config any) (*Context, error) {
	if b, ok := config.(bool); ok && !b {
		return c, nil
	}
	info, err := resolvePlugin(p)
	if err != nil {
		return c, err
	}
	return c, c.app.registry.apply(c, info, config)
}

// MustPlugin is Plugin that panics on error.
func (c *Context) MustPlugin(p any, config any) *Context {
	if _, err := c.Plugin(p, config); err != nil {
		panic(err)
	}
	return c
}

// Dispose tears down an applied plugin with everything it registered.
// Disposing a plugin that is not applied is a no-op.
func (c *Context) Dispose(p any) error {
	state, ok := c.app.registry.Get(p)
	if !ok {
		return nil
	}
	return c.app.registry.dispose(state, true)
}

// Middleware appends mw to the chain, or prepends it. The middleware
// only sees sessions inside the context scope.
func (c *Context) Middleware(mw Middleware, prepend bool) (dispose func()) {
	remove := c.app.chain.add(c, mw, prepend)
	return c.state.track(remove)
}

// Command declares a command or returns the existing one with that name.
func (c *Context) Command(decl, description string, cfg ...CommandConfig) *Command {
	return c.app.commands.declare(c, decl, description, cfg...)
}
