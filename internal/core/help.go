package core

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/dshills/koishi/internal/model"
)

// helpPlugin provides the builtin help command.
type helpPlugin struct{}

func (helpPlugin) Name() string { return "help" }

func (helpPlugin) Apply(ctx *Context, _ any) error {
	app := ctx.App()
	ctx.Command("help [command:string]", "Show available commands or details of one").
		Action(func(c context.Context, a *Argv) (string, error) {
			if name := a.Arg(0); name != "" {
				cmd := app.commands.get(strings.ToLower(name))
				if cmd == nil || !cmd.ctx.Match(a.Session) {
					return app.Text(MsgHelpNotFound, name), nil
				}
				return app.helpFor(c, a.Session, cmd)
			}
			return app.helpList(c, a.Session)
		})
	return nil
}

func (app *App) callerAuthority(ctx context.Context, s *Session) (int, error) {
	user, err := s.ObserveUser(ctx, model.FieldAuthority)
	if err != nil {
		return 0, err
	}
	return user.Int(model.FieldAuthority), nil
}

// helpList lists root commands the caller may run.
func (app *App) helpList(ctx context.Context, s *Session) (string, error) {
	authority, err := app.callerAuthority(ctx, s)
	if err != nil {
		return "", err
	}
	var visible []*Command
	for _, cmd := range app.commands.list() {
		cfg := cmd.Config()
		if cmd.parent != nil || cfg.Hidden || cfg.Authority > authority || !cmd.ctx.Match(s) {
			continue
		}
		visible = append(visible, cmd)
	}
	slices.SortFunc(visible, func(x, y *Command) int { return strings.Compare(x.name, y.name) })

	var b strings.Builder
	b.WriteString(app.Text(MsgHelpHeader))
	for _, cmd := range visible {
		fmt.Fprintf(&b, "\n    %s", cmd.name)
		if desc := cmd.Description(); desc != "" {
			b.WriteString("  " + desc)
		}
	}
	b.WriteString("\n" + app.Text(MsgHelpFooter))
	return b.String(), nil
}

// helpFor describes one command.
func (app *App) helpFor(ctx context.Context, s *Session, cmd *Command) (string, error) {
	cfg := cmd.Config()
	lines := []string{cmd.Declaration()}
	if desc := cmd.Description(); desc != "" {
		lines = append(lines, desc)
	}
	if aliases := cmd.Aliases(); len(aliases) > 0 {
		lines = append(lines, app.Text(MsgHelpAliases, strings.Join(aliases, ", ")))
	}
	if cfg.Authority > 1 {
		lines = append(lines, app.Text(MsgHelpAuthority, cfg.Authority))
	}
	if cfg.MaxUsage > 0 {
		name := cfg.UsageName
		if name == "" {
			name = cmd.name
		}
		used, err := s.Usage(ctx, name)
		if err != nil {
			return "", err
		}
		lines = append(lines, app.Text(MsgHelpUsage, used, cfg.MaxUsage))
	}

	var opts []string
	for _, opt := range cmd.schema.Options() {
		if opt.Hidden {
			continue
		}
		line := "    " + opt.Syntax()
		if opt.Description != "" {
			line += "  " + opt.Description
		}
		opts = append(opts, line)
	}
	if len(opts) > 0 {
		lines = append(lines, app.Text(MsgHelpOptions))
		lines = append(lines, opts...)
	}

	var subs []string
	for _, child := range cmd.Children() {
		if child.Config().Hidden {
			continue
		}
		line := "    " + child.name
		if desc := child.Description(); desc != "" {
			line += "  " + desc
		}
		subs = append(subs, line)
	}
	if len(subs) > 0 {
		lines = append(lines, app.Text(MsgHelpSubcommands))
		lines = append(lines, subs...)
	}

	cmd.mu.RLock()
	usage, examples := cmd.usage, slices.Clone(cmd.examples)
	cmd.mu.RUnlock()
	if usage != "" {
		lines = append(lines, usage)
	}
	if len(examples) > 0 {
		lines = append(lines, app.Text(MsgHelpExamples))
		for _, ex := range examples {
			lines = append(lines, "    "+ex)
		}
	}
	return strings.Join(lines, "\n"), nil
}
