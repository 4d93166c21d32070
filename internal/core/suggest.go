package core

import (
	"context"
	"strings"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/dshills/koishi/internal/suggest"
	"go.uber.org/zap"
)

// suggestCommand answers an unknown command with the closest names and
// waits for the user to confirm the first one.
func (app *App) suggestCommand(ctx context.Context, s *Session, target, remainder string, next Next) (string, error) {
	var names []string
	for _, cmd := range app.commands.list() {
		if cmd.Config().Hidden || !cmd.ctx.Match(s) {
			continue
		}
		names = append(names, cmd.name)
		names = append(names, cmd.Aliases()...)
	}
	cands := suggest.Rank(target, names, suggest.Options{
		MinSimilarity: app.opts.MinSimilarity,
		MinLength:     3,
	})
	if len(cands) == 0 {
		return next(ctx)
	}
	found := suggest.Names(cands)
	app.logger.Debug("suggesting command", zap.String("input", target), zap.Strings("candidates", found))

	app.awaitConfirmation(s, strings.TrimSpace(found[0]+" "+remainder))
	return app.Text(MsgSuggestion, suggest.Disjunction(found)) + app.Text(MsgSuggestionConfirm), nil
}

// confirmation is a pending suggestion for one user in one channel.
type confirmation struct {
	mu      sync.Mutex
	once    sync.Once
	dispose func()
	timer   *clock.Timer
}

func (c *confirmation) cancel() {
	c.once.Do(func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.dispose()
		c.timer.Stop()
	})
}

func isConfirmation(content string) bool {
	switch strings.TrimSpace(content) {
	case "", ".", "。":
		return true
	}
	return false
}

// awaitConfirmation installs a one-shot middleware that runs command
// when the same user confirms in the same channel before the timeout.
func (app *App) awaitConfirmation(origin *Session, command string) {
	uid, cid := origin.UID(), origin.CID()
	c := &confirmation{}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dispose = app.root.Middleware(func(ctx context.Context, s *Session, next Next) (string, error) {
		if s.UID() != uid || s.CID() != cid {
			return next(ctx)
		}
		c.cancel()
		if !isConfirmation(s.Content) {
			return next(ctx)
		}
		return s.Execute(ctx, command)
	}, true)
	c.timer = app.clock.AfterFunc(app.opts.SuggestionTimeout, c.cancel)
}
