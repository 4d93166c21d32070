package core

import (
	"context"
	"strings"
	"unicode"

	"github.com/dshills/koishi/internal/argv"
	"github.com/dshills/koishi/internal/event"
	"github.com/dshills/koishi/internal/model"
	"go.uber.org/zap"
)

// preprocessStep is the head of every chain. It parses the content,
// applies the flood guard, attaches records and runs commands.
func (app *App) preprocessStep(s *Session) Fallback {
	return func(ctx context.Context, next Next) (string, error) {
		return app.preprocess(ctx, s, next)
	}
}

func (app *App) preprocess(ctx context.Context, s *Session, next Next) (string, error) {
	s.setParsed(app.parse(s.Content))
	parsed := s.Parsed()

	if app.limiter != nil && !app.limiter.Allow(s.UID()) {
		app.metrics.Dropped.Inc()
		app.logger.Debug("message dropped by flood guard", zap.String("user", s.UID()))
		return "", nil
	}

	inv := app.resolve(s, parsed)

	if app.db != nil {
		if app.attach(ctx, s, inv) {
			app.metrics.Dropped.Inc()
			return "", nil
		}
	}

	if inv != nil {
		return s.ExecuteArgv(ctx, inv)
	}

	tokens := s.Tokens()
	if len(tokens) > 0 && (parsed.Appel || s.Private() || parsed.Prefix != "") {
		target := tokens[0].Content
		remainder := argv.Stringify(tokens[1:])
		return next(ctx, func(ctx context.Context, next Next) (string, error) {
			return app.suggestCommand(ctx, s, target, remainder, next)
		})
	}
	return next(ctx)
}

// parse strips a leading nickname and the longest matching prefix.
func (app *App) parse(content string) Parsed {
	content = strings.TrimSpace(content)
	var p Parsed
	for _, nick := range app.opts.Nickname {
		if rest, ok := stripNickname(content, nick); ok {
			p.Appel = true
			content = rest
			break
		}
	}
	for _, prefix := range app.prefixes {
		if strings.HasPrefix(content, prefix) {
			p.Prefix = prefix
			p.HasPrefix = true
			content = content[len(prefix):]
			break
		}
	}
	p.Content = strings.TrimSpace(content)
	return p
}

// stripNickname matches "nick", "nick," or "nick text". A nickname
// directly followed by a letter is part of a longer word.
func stripNickname(content, nick string) (string, bool) {
	if nick == "" || !strings.HasPrefix(content, nick) {
		return "", false
	}
	rest := content[len(nick):]
	switch {
	case rest == "":
		return "", true
	case strings.HasPrefix(rest, ","):
		return strings.TrimSpace(rest[1:]), true
	case strings.HasPrefix(rest, "，"):
		return strings.TrimSpace(rest[len("，"):]), true
	case unicode.IsSpace([]rune(rest)[0]):
		return strings.TrimSpace(rest), true
	}
	return "", false
}

// resolve finds the command the message invokes, or nil.
func (app *App) resolve(s *Session, parsed Parsed) *Argv {
	prefixed := parsed.HasPrefix || parsed.Appel
	if sc, rest := app.commands.matchShortcut(parsed.Content, prefixed); sc != nil && sc.command.ctx.Match(s) {
		tokens := make([]argv.Token, 0, len(sc.config.Args))
		for _, arg := range sc.config.Args {
			tokens = append(tokens, argv.Tokenize(arg)...)
		}
		tokens = append(tokens, argv.Tokenize(rest)...)
		return &Argv{
			Session: s,
			Command: sc.command,
			Name:    sc.command.name,
			tokens:  tokens,
			preset:  sc.config.Options,
		}
	}

	if !prefixed && !s.Private() {
		return nil
	}
	tokens := s.Tokens()
	if len(tokens) == 0 || len(tokens[0].Inters) > 0 {
		return nil
	}
	name := strings.ToLower(tokens[0].Content)
	cmd := app.commands.get(name)
	if cmd == nil || !cmd.ctx.Match(s) {
		return nil
	}
	return &Argv{Session: s, Command: cmd, Name: name, tokens: tokens[1:]}
}

// attach loads the records dispatch needs and reports whether the
// session must be dropped.
func (app *App) attach(ctx context.Context, s *Session, inv *Argv) bool {
	userFields := []string{model.FieldFlag, model.FieldAuthority}
	var channelFields []string
	if inv != nil {
		uf, cf := inv.Command.requiredFields()
		userFields = appendUnique(userFields, uf...)
		channelFields = cf
	}

	user, err := s.ObserveUser(ctx, userFields...)
	if err != nil {
		app.logger.Warn("attach user", zap.String("user", s.UID()), zap.Error(err))
		return false
	}
	if user.Int(model.FieldFlag)&model.UserFlagIgnore != 0 {
		return true
	}

	if !s.Private() {
		fields := appendUnique([]string{model.FieldFlag, model.FieldAssignee}, channelFields...)
		channel, err := s.ObserveChannel(ctx, fields...)
		if err != nil {
			app.logger.Warn("attach channel", zap.String("channel", s.CID()), zap.Error(err))
			return false
		}
		if assignee := channel.String(model.FieldAssignee); assignee != "" && assignee != s.SelfID {
			return true
		}
		if channel.Int(model.FieldFlag)&model.ChannelFlagIgnore != 0 {
			return true
		}
	}

	v, err := app.bus.Bail(ctx, EventAttachUser, s)
	if err != nil {
		app.logger.Warn("attach-user listener failed", zap.Error(err))
	}
	if event.Truthy(v) {
		return true
	}
	app.bus.Parallel(ctx, EventAttach, s)
	return false
}
