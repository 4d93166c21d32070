// Package core is the bot host: the plugin registry with scoped
// contexts, the event bus and middleware chain, the command pipeline
// and sessions.
//
// An App owns all mutable state. Plugins receive a *Context whose
// selector limits which sessions their listeners, middleware and
// commands see; everything a plugin registers is released when the
// plugin is disposed.
//
//	app := core.New(core.WithPrefix("/"))
//	app.Context().Guild("42").MustPlugin(core.PluginFunc(func(ctx *core.Context, _ any) error {
//		ctx.Command("echo <message:text>", "Repeat a message").
//			Action(func(_ context.Context, a *core.Argv) (string, error) {
//				return a.Arg(0), nil
//			})
//		return nil
//	}), nil)
//
// Adapters wrap inbound messages in a *Session and call App.Dispatch,
// which returns at most one reply.
package core
