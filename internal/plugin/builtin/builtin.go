// Package builtin holds the plugins shipped with the bot. Each is
// applied by name from the plugins section of the configuration.
package builtin

import (
	"context"
	"errors"
	"fmt"

	"github.com/dshills/koishi/internal/core"
	"github.com/dshills/koishi/internal/database"
	"github.com/dshills/koishi/internal/model"
)

// All returns every builtin plugin keyed by name.
func All() map[string]core.Plugin {
	return map[string]core.Plugin{
		Echo{}.Name():      Echo{},
		Authorize{}.Name(): Authorize{},
		Assign{}.Name():    Assign{},
		Status{}.Name():    Status{},
	}
}

// Echo declares "echo <message:text>", which repeats its argument.
type Echo struct{}

func (Echo) Name() string { return "echo" }

func (Echo) Apply(ctx *core.Context, _ any) error {
	ctx.Command("echo <message:text>", "Repeat a message").
		Action(func(_ context.Context, a *core.Argv) (string, error) {
			return a.Arg(0), nil
		})
	return nil
}

// Authorize declares "authorize <user> <authority:natural>", which sets
// the authority of another user on the same platform. Callers can only
// grant levels below their own, to users below their own.
type Authorize struct{}

func (Authorize) Name() string { return "authorize" }

func (Authorize) Apply(ctx *core.Context, _ any) error {
	ctx.Command("authorize <user:string> <authority:natural>", "Set the authority of a user",
		core.CommandConfig{Authority: 4, CheckArgCount: true}).
		UserFields(model.FieldAuthority).
		Action(authorize)
	return nil
}

func authorize(ctx context.Context, a *core.Argv) (string, error) {
	s := a.Session
	db := s.App().Database()
	if db == nil {
		return "No database is configured.", nil
	}
	target, _ := a.Args[0].(string)
	level, _ := a.Args[1].(int)
	if target == s.UserID {
		return "You cannot change your own authority.", nil
	}
	own := s.User().Int(model.FieldAuthority)
	if level >= own {
		return "You can only grant authority below your own.", nil
	}

	current, err := database.GetUser(ctx, db, s.Platform, target, model.FieldAuthority)
	switch {
	case errors.Is(err, database.ErrNotFound):
		row := s.App().Schema().Defaults(model.TableUser)
		row[model.FieldAuthority] = level
		if err := database.CreateUser(ctx, db, s.Platform, target, row); err != nil {
			return "", err
		}
	case err != nil:
		return "", err
	default:
		if toInt(current[model.FieldAuthority]) >= own {
			return "You cannot change the authority of that user.", nil
		}
		if err := database.SetUser(ctx, db, s.Platform, target, map[string]any{model.FieldAuthority: level}); err != nil {
			return "", err
		}
	}
	return fmt.Sprintf("Authority of %s set to %d.", target, level), nil
}

// Assign declares "assign [bot]", which makes a bot the only one
// answering in the current channel. It defaults to the receiving bot.
type Assign struct{}

func (Assign) Name() string { return "assign" }

func (Assign) Apply(ctx *core.Context, _ any) error {
	ctx.ExceptPrivate().Command("assign [bot:string]", "Assign a bot to this channel",
		core.CommandConfig{Authority: 4}).
		ChannelFields(model.FieldAssignee).
		Action(func(_ context.Context, a *core.Argv) (string, error) {
			ch := a.Session.Channel()
			if ch == nil {
				return "No database is configured.", nil
			}
			bot := a.Arg(0)
			if bot == "" {
				bot = a.Session.SelfID
			}
			ch.Set(model.FieldAssignee, bot)
			return fmt.Sprintf("Channel assigned to %s.", bot), nil
		})
	return nil
}

// Status declares "status", which reports plugin and record counts.
type Status struct{}

func (Status) Name() string { return "status" }

func (Status) Apply(ctx *core.Context, _ any) error {
	ctx.Command("status", "Show bot status").
		Action(func(c context.Context, a *core.Argv) (string, error) {
			app := a.Session.App()
			out := fmt.Sprintf("Plugins: %d\nCommands: %d", app.Registry().Len(), len(app.Commands()))
			if db := app.Database(); db != nil {
				st, err := db.Stats(c)
				if err != nil {
					return "", err
				}
				out += fmt.Sprintf("\nUsers: %d\nChannels: %d", st.Users, st.Channels)
			}
			return out, nil
		})
	return nil
}

func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}
