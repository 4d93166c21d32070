package core

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/dshills/koishi/internal/argv"
)

// commandTable indexes commands by name and alias.
// It is safe for concurrent use.
type commandTable struct {
	app *App

	mu        sync.RWMutex
	byName    map[string]*Command
	order     []*Command
	shortcuts []*shortcut
}

func newCommandTable(app *App) *commandTable {
	return &commandTable{app: app, byName: make(map[string]*Command)}
}

// declare creates the command named by decl, with any missing parents,
// or returns the existing one.
func (t *commandTable) declare(ctx *Context, decl, description string, cfgs ...CommandConfig) *Command {
	name, args, err := argv.ParseDeclaration(decl)
	if err != nil {
		panic(err)
	}

	var parent *Command
	if i := strings.LastIndex(name, "."); i > 0 {
		parent = t.get(name[:i])
		if parent == nil {
			parent = t.declare(ctx, name[:i], "")
		}
	}

	if existing := t.get(name); existing != nil {
		existing.mu.Lock()
		if description != "" && existing.description == "" {
			existing.description = description
		}
		for _, cfg := range cfgs {
			existing.config.merge(cfg)
		}
		existing.mu.Unlock()
		return existing
	}

	cmd := &Command{
		app:         t.app,
		ctx:         ctx,
		name:        name,
		parent:      parent,
		decl:        strings.TrimSpace(decl),
		description: description,
		config:      defaultCommandConfig(),
		schema:      argv.NewSchema(args, t.app.types),
	}
	for _, cfg := range cfgs {
		cmd.config.merge(cfg)
	}
	if cmd.config.UsageName == "" {
		cmd.config.UsageName = name
	}
	if !t.app.opts.DisableHelp {
		opt, _ := argv.ParseOptionDecl("help", "-h, --help")
		opt.Hidden = true
		_ = cmd.schema.AddOption(opt)
	}

	t.claim(name, cmd)
	t.mu.Lock()
	t.order = append(t.order, cmd)
	t.mu.Unlock()

	if parent != nil {
		parent.mu.Lock()
		parent.children = append(parent.children, cmd)
		parent.mu.Unlock()
	}
	cmd.untrack = ctx.state.track(cmd.release)
	return cmd
}

// claim binds name to cmd. It panics when another command owns name.
func (t *commandTable) claim(name string, cmd *Command) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if owner, ok := t.byName[name]; ok && owner != cmd {
		panic(&DuplicateCommandError{Name: name, Owner: owner.name})
	}
	t.byName[name] = cmd
}

func (t *commandTable) get(name string) *Command {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.byName[strings.ToLower(name)]
}

func (t *commandTable) remove(cmd *Command) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for name, owner := range t.byName {
		if owner == cmd {
			delete(t.byName, name)
		}
	}
	if i := slices.Index(t.order, cmd); i >= 0 {
		t.order = slices.Delete(slices.Clone(t.order), i, i+1)
	}
	t.shortcuts = slices.DeleteFunc(slices.Clone(t.shortcuts), func(s *shortcut) bool {
		return s.command == cmd
	})
}

// list returns commands in registration order.
func (t *commandTable) list() []*Command {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return slices.Clone(t.order)
}

// names returns every name and alias in registration order.
func (t *commandTable) names() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []string
	for _, cmd := range t.order {
		out = append(out, cmd.name)
		cmd.mu.RLock()
		out = append(out, cmd.aliases...)
		cmd.mu.RUnlock()
	}
	return out
}

func (t *commandTable) addShortcut(s *shortcut) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, cur := range t.shortcuts {
		if cur.name == s.name && cur.command != s.command {
			panic(fmt.Errorf("%w: shortcut %q already maps to %q", ErrDuplicateCommand, s.name, cur.command.name))
		}
	}
	t.shortcuts = append(t.shortcuts, s)
}

// matchShortcut finds the shortcut triggered by content. It returns the
// shortcut and the text following the trigger.
func (t *commandTable) matchShortcut(content string, prefixed bool) (*shortcut, string) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, s := range t.shortcuts {
		if s.config.Prefix && !prefixed {
			continue
		}
		if content == s.name {
			return s, ""
		}
		if s.config.Fuzzy && strings.HasPrefix(content, s.name) {
			return s, strings.TrimSpace(content[len(s.name):])
		}
	}
	return nil, ""
}
