package core

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/dshills/koishi/internal/argv"
	"github.com/dshills/koishi/internal/model"
)

// Action runs a command. A non-empty result is the reply and stops
// later actions.
type Action func(ctx context.Context, a *Argv) (string, error)

// Check runs before the actions. A non-empty result blocks the command
// and becomes the reply.
type Check func(ctx context.Context, a *Argv) string

// CommandConfig holds command limits. Zero fields keep their defaults
// when passed to Context.Command.
type CommandConfig struct {
	// Authority is the minimum user authority. Defaults to 1.
	Authority int

	// MaxUsage limits executions per user per day.
	MaxUsage int

	// MinInterval is the minimum time between executions per user.
	MinInterval time.Duration

	// UsageName is the key shared by commands counting toward one limit.
	// Defaults to the command name.
	UsageName string

	// CheckArgCount rejects missing required and surplus arguments.
	CheckArgCount bool

	// CheckUnknown rejects undeclared options.
	CheckUnknown bool

	// ShowWarning replies when a check blocks the command. Defaults to true.
	ShowWarning *bool

	// Hidden hides the command from help.
	Hidden bool
}

func defaultCommandConfig() CommandConfig {
	show := true
	return CommandConfig{Authority: 1, ShowWarning: &show}
}

func (c *CommandConfig) merge(o CommandConfig) {
	if o.Authority != 0 {
		c.Authority = o.Authority
	}
	if o.MaxUsage != 0 {
		c.MaxUsage = o.MaxUsage
	}
	if o.MinInterval != 0 {
		c.MinInterval = o.MinInterval
	}
	if o.UsageName != "" {
		c.UsageName = o.UsageName
	}
	if o.ShowWarning != nil {
		c.ShowWarning = o.ShowWarning
	}
	c.CheckArgCount = c.CheckArgCount || o.CheckArgCount
	c.CheckUnknown = c.CheckUnknown || o.CheckUnknown
	c.Hidden = c.Hidden || o.Hidden
}

// OptionConfig refines an option declaration.
type OptionConfig struct {
	Fallback  any
	Value     any
	Authority int
	NoNegated bool
	Hidden    bool

	// Type overrides the type of the value slot.
	Type string
}

// ShortcutConfig maps a trigger text to a preset invocation.
type ShortcutConfig struct {
	// Args are prepended to the arguments typed after the trigger.
	Args []string

	// Options are applied unless given explicitly.
	Options map[string]any

	// Prefix requires the command prefix or the nickname.
	Prefix bool

	// Fuzzy lets the trigger be followed by more text.
	Fuzzy bool
}

type shortcut struct {
	name    string
	command *Command
	config  ShortcutConfig
}

// Command is a node of the command tree.
type Command struct {
	app    *App
	ctx    *Context
	name   string
	parent *Command
	schema *argv.Schema

	mu            sync.RWMutex
	decl          string
	description   string
	config        CommandConfig
	aliases       []string
	children      []*Command
	actions       []Action
	checks        []Check
	userFields    []string
	channelFields []string
	usage         string
	examples      []string
	disposed      bool
	untrack       func()
}

// Name returns the full dotted name.
func (c *Command) Name() string { return c.name }

// Parent returns the parent command, or nil for a root command.
func (c *Command) Parent() *Command { return c.parent }

// Schema returns the argument and option declarations.
func (c *Command) Schema() *argv.Schema { return c.schema }

// Context returns the context that declared the command.
func (c *Command) Context() *Context { return c.ctx }

// Description returns the help text.
func (c *Command) Description() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.description
}

// Declaration returns the declaration the command was created with.
func (c *Command) Declaration() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.decl
}

// Config returns the command limits.
func (c *Command) Config() CommandConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.config
}

// Aliases returns the alternative names.
func (c *Command) Aliases() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.aliases)
}

// Children returns the subcommands.
func (c *Command) Children() []*Command {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.children)
}

// Disposed reports whether the command has been removed.
func (c *Command) Disposed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.disposed
}

// Option declares an option such as "-a, --all-in [value:number] description".
// It panics on conflicting aliases or unknown types.
func (c *Command) Option(name, decl string, cfg ...OptionConfig) *Command {
	opt, err := argv.ParseOptionDecl(name, decl)
	if err != nil {
		panic(err)
	}
	for _, o := range cfg {
		if o.Type != "" {
			opt.Type = o.Type
		}
		if o.Fallback != nil {
			opt.Fallback = o.Fallback
		}
		if o.Value != nil {
			opt.Value = o.Value
		}
		if o.Authority != 0 {
			opt.Authority = o.Authority
		}
		opt.NoNegated = opt.NoNegated || o.NoNegated
		opt.Hidden = opt.Hidden || o.Hidden
	}
	if err := c.schema.AddOption(opt); err != nil {
		panic(err)
	}
	return c
}

// Alias registers alternative names. It panics with
// *DuplicateCommandError when a name belongs to another command.
func (c *Command) Alias(names ...string) *Command {
	for _, n := range names {
		n = strings.ToLower(n)
		c.app.commands.claim(n, c)
		c.mu.Lock()
		if !slices.Contains(c.aliases, n) {
			c.aliases = append(c.aliases, n)
		}
		c.mu.Unlock()
	}
	return c
}

// Shortcut maps text to an invocation of this command.
func (c *Command) Shortcut(text string, cfg ShortcutConfig) *Command {
	c.app.commands.addShortcut(&shortcut{name: text, command: c, config: cfg})
	return c
}

// Action appends an action.
func (c *Command) Action(fn Action) *Command {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.actions = append(c.actions, fn)
	return c
}

// Check appends a check.
func (c *Command) Check(fn Check) *Command {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks = append(c.checks, fn)
	return c
}

// UserFields declares user fields the actions read.
func (c *Command) UserFields(fields ...string) *Command {
	if err := c.app.schema.Validate(model.TableUser, fields); err != nil {
		panic(err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userFields = appendUnique(c.userFields, fields...)
	return c
}

// ChannelFields declares channel fields the actions read.
func (c *Command) ChannelFields(fields ...string) *Command {
	if err := c.app.schema.Validate(model.TableChannel, fields); err != nil {
		panic(err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.channelFields = appendUnique(c.channelFields, fields...)
	return c
}

// Usage sets extra help text.
func (c *Command) Usage(text string) *Command {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.usage = text
	return c
}

// Example adds a help example.
func (c *Command) Example(text string) *Command {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.examples = append(c.examples, text)
	return c
}

// Subcommand declares a child command. A leading "." is relative to c.
func (c *Command) Subcommand(decl, description string, cfg ...CommandConfig) *Command {
	if strings.HasPrefix(decl, ".") {
		decl = c.name + decl
	}
	return c.ctx.Command(decl, description, cfg...)
}

// Dispose removes the command, its subcommands, aliases and shortcuts.
func (c *Command) Dispose() {
	c.release()
	if c.untrack != nil {
		c.untrack()
	}
}

// release is the disposable tracked by the owning plugin state.
func (c *Command) release() {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	c.disposed = true
	children := slices.Clone(c.children)
	c.mu.Unlock()

	for _, child := range children {
		child.Dispose()
	}
	c.app.commands.remove(c)
	if c.parent != nil {
		c.parent.mu.Lock()
		if i := slices.Index(c.parent.children, c); i >= 0 {
			c.parent.children = slices.Delete(c.parent.children, i, i+1)
		}
		c.parent.mu.Unlock()
	}
}

// ancestry returns c and its parents, nearest first.
func (c *Command) ancestry() []*Command {
	var out []*Command
	for cur := c; cur != nil; cur = cur.parent {
		out = append(out, cur)
	}
	return out
}

// requiredFields lists user and channel fields needed to run c,
// including those of its ancestors and of its limits.
func (c *Command) requiredFields() (user, channel []string) {
	user = []string{model.FieldAuthority}
	for _, cur := range c.ancestry() {
		cur.mu.RLock()
		user = appendUnique(user, cur.userFields...)
		channel = appendUnique(channel, cur.channelFields...)
		if cur.config.MaxUsage > 0 {
			user = appendUnique(user, model.FieldUsage)
		}
		if cur.config.MinInterval > 0 {
			user = appendUnique(user, model.FieldTimers)
		}
		cur.mu.RUnlock()
	}
	return user, channel
}

func appendUnique(list []string, items ...string) []string {
	for _, it := range items {
		if !slices.Contains(list, it) {
			list = append(list, it)
		}
	}
	return list
}

// Argv is a resolved command invocation.
type Argv struct {
	Session *Session
	Command *Command

	// Name is the command name as typed.
	Name    string
	Args    []any
	Options map[string]any
	Rest    string
	Unknown []string

	// Source is the invocation text after interpolation.
	Source string

	tokens []argv.Token
	preset map[string]any
}

// Arg returns positional argument i formatted as a string, or "".
func (a *Argv) Arg(i int) string {
	if i < 0 || i >= len(a.Args) {
		return ""
	}
	return formatValue(a.Args[i])
}

// Option returns an option value.
func (a *Argv) Option(name string) (any, bool) {
	v, ok := a.Options[name]
	return v, ok
}

// Flag reports whether a boolean option is set.
func (a *Argv) Flag(name string) bool {
	b, _ := a.Options[name].(bool)
	return b
}
