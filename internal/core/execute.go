package core

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"

	"github.com/dshills/koishi/internal/argv"
	"github.com/dshills/koishi/internal/event"
	"github.com/dshills/koishi/internal/metrics"
	"go.uber.org/zap"
)

type depthKey struct{}

func interpolationDepth(ctx context.Context) int {
	d, _ := ctx.Value(depthKey{}).(int)
	return d
}

// Execute runs content as a command line on behalf of the session and
// returns the reply. Content not naming a command yields "".
func (s *Session) Execute(ctx context.Context, content string) (string, error) {
	tokens := argv.Tokenize(content)
	if len(tokens) == 0 {
		return "", nil
	}
	return s.ExecuteArgv(ctx, &Argv{Session: s, tokens: tokens})
}

// ExecuteArgv runs a resolved or unresolved invocation. When Command is
// nil the first token names it.
func (s *Session) ExecuteArgv(ctx context.Context, a *Argv) (string, error) {
	app := s.app
	a.Session = s
	if err := s.expand(ctx, a.tokens); err != nil {
		if errors.Is(err, ErrInterpolationDepth) && interpolationDepth(ctx) == 0 {
			app.logger.Info("interpolation too deep", zap.String("session", s.ID))
			return app.Text(MsgInterpolationDepth), nil
		}
		return "", err
	}

	if a.Command == nil {
		if len(a.tokens) == 0 {
			return "", nil
		}
		a.Name = strings.ToLower(a.tokens[0].Content)
		a.Command = app.commands.get(a.Name)
		if a.Command == nil || !a.Command.ctx.Match(s) {
			return "", nil
		}
		a.tokens = a.tokens[1:]
	}
	if a.Name == "" {
		a.Name = a.Command.name
	}
	a.Source = strings.TrimSpace(a.Name + " " + argv.Stringify(a.tokens))
	return app.run(ctx, a)
}

// expand evaluates $(...) interpolations as nested commands.
func (s *Session) expand(ctx context.Context, tokens []argv.Token) error {
	if !argv.HasInters(tokens) {
		return nil
	}
	depth := interpolationDepth(ctx)
	if depth >= s.app.opts.MaxInterpolationDepth {
		return ErrInterpolationDepth
	}
	inner := context.WithValue(ctx, depthKey{}, depth+1)
	for i := range tokens {
		if err := tokens[i].Expand(func(src string) (string, error) {
			return s.Execute(inner, src)
		}); err != nil {
			return err
		}
	}
	return nil
}

func (app *App) run(ctx context.Context, a *Argv) (string, error) {
	s, cmd := a.Session, a.Command
	res, err := cmd.schema.Parse(a.tokens)
	if err != nil {
		var verr *argv.ValidationError
		if !errors.As(err, &verr) {
			return "", fmt.Errorf("parse %s: %w", cmd.name, err)
		}
		app.metrics.Commands.WithLabelValues(cmd.name, metrics.StatusInvalid).Inc()
		key := MsgInvalidArgument
		if verr.Kind == "option" {
			key = MsgInvalidOption
		}
		return app.Text(key, verr.Name, verr.Err), nil
	}
	a.Args, a.Options, a.Rest, a.Unknown = res.Args, res.Options, res.Rest, res.Unknown
	if a.Options == nil {
		a.Options = make(map[string]any)
	}
	for k, v := range a.preset {
		if _, ok := a.Options[k]; !ok {
			a.Options[k] = v
		}
	}

	if !app.opts.DisableHelp && a.Flag("help") {
		return app.helpFor(ctx, s, cmd)
	}

	v, err := app.bus.Bail(ctx, EventBeforeCommand, s, a)
	if err != nil {
		app.logger.Warn("before-command listener failed", zap.String("command", cmd.name), zap.Error(err))
	}
	if event.Truthy(v) {
		app.metrics.Commands.WithLabelValues(cmd.name, metrics.StatusBlocked).Inc()
		text, _ := v.(string)
		return text, nil
	}

	if msg, ok := app.validate(ctx, a); !ok {
		app.metrics.Commands.WithLabelValues(cmd.name, metrics.StatusBlocked).Inc()
		if show := cmd.Config().ShowWarning; show == nil || *show {
			return msg, nil
		}
		return "", nil
	}

	out, failed := app.runActions(ctx, a)
	status := metrics.StatusOK
	if failed {
		status = metrics.StatusError
	}
	app.metrics.Commands.WithLabelValues(cmd.name, status).Inc()
	app.bus.Parallel(ctx, EventCommand, s, a)

	if interpolationDepth(ctx) == 0 {
		if err := s.Update(ctx); err != nil {
			app.logger.Warn("flush after command", zap.String("command", cmd.name), zap.Error(err))
		}
	}
	return out, nil
}

// runActions runs actions until one replies. A failing action ends the
// run with the internal error message.
func (app *App) runActions(ctx context.Context, a *Argv) (out string, failed bool) {
	a.Command.mu.RLock()
	actions := append([]Action(nil), a.Command.actions...)
	a.Command.mu.RUnlock()

	for _, act := range actions {
		text, err := app.callAction(ctx, act, a)
		if err != nil {
			app.logger.Error("command failed",
				zap.String("command", a.Command.name),
				zap.String("source", a.Source),
				zap.Error(err))
			return app.Text(MsgInternalError), true
		}
		if text != "" {
			return text, false
		}
	}
	return "", false
}

func (app *App) callAction(ctx context.Context, act Action, a *Argv) (out string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("action panicked: %v\n%s", rec, debug.Stack())
		}
	}()
	return act(ctx, a)
}
