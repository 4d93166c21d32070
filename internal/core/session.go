package core

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/dshills/koishi/internal/argv"
	"github.com/dshills/koishi/internal/database"
	"github.com/dshills/koishi/internal/event"
	"github.com/dshills/koishi/internal/model"
	"github.com/dshills/koishi/internal/observe"
	"github.com/dshills/koishi/internal/selector"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Session subtypes.
const (
	SubtypePrivate = "private"
	SubtypeGroup   = "group"
)

// Parsed is the result of prefix and nickname stripping.
type Parsed struct {
	// Content is the message text with prefix and nickname removed.
	Content string

	// Prefix is the matched command prefix, if any.
	Prefix string

	// HasPrefix reports whether a prefix matched. The empty prefix
	// matches every message when configured.
	HasPrefix bool

	// Appel reports whether the message addressed the bot by nickname.
	Appel bool
}

// Session carries one inbound message through the dispatch pipeline.
// Adapters fill the identity fields and Content, then call App.Dispatch.
type Session struct {
	ID        string
	Type      string
	Subtype   string
	Platform  string
	SelfID    string
	UserID    string
	GuildID   string
	ChannelID string
	MessageID string
	Content   string
	Author    string
	Timestamp time.Time

	app    *App
	parsed Parsed

	mu      sync.Mutex
	tokens  []argv.Token
	argvSet bool
	user    *observe.Record
	channel *observe.Record
	sent    []string
}

// bind attaches the session to app and fills defaults.
func (s *Session) bind(app *App) {
	s.app = app
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.Type == "" {
		s.Type = "message"
	}
	if s.Subtype == "" {
		if s.GuildID == "" {
			s.Subtype = SubtypePrivate
		} else {
			s.Subtype = SubtypeGroup
		}
	}
	if s.Timestamp.IsZero() {
		s.Timestamp = app.clock.Now()
	}
	if s.parsed.Content == "" {
		s.parsed.Content = strings.TrimSpace(s.Content)
	}
}

// App returns the app the session was dispatched on.
func (s *Session) App() *App { return s.app }

// Target returns the identity the selectors match against.
func (s *Session) Target() selector.Target {
	return selector.Target{
		Platform:  s.Platform,
		SelfID:    s.SelfID,
		UserID:    s.UserID,
		GuildID:   s.GuildID,
		ChannelID: s.ChannelID,
	}
}

// Private reports whether the message has no guild.
func (s *Session) Private() bool { return s.GuildID == "" }

// SID identifies the bot account.
func (s *Session) SID() string { return s.Platform + ":" + s.SelfID }

// UID identifies the user across platforms.
func (s *Session) UID() string { return s.Platform + ":" + s.UserID }

// CID identifies the channel across platforms.
func (s *Session) CID() string { return s.Platform + ":" + s.ChannelID }

// GID identifies the guild across platforms.
func (s *Session) GID() string { return s.Platform + ":" + s.GuildID }

// Parsed returns the prefix and nickname analysis of the content.
func (s *Session) Parsed() Parsed {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.parsed
}

// Tokens returns the tokenized parsed content. The result is cached.
func (s *Session) Tokens() []argv.Token {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.argvSet {
		s.tokens = argv.Tokenize(s.parsed.Content)
		s.argvSet = true
	}
	return slices.Clone(s.tokens)
}

// User returns the observed user record, or nil before ObserveUser.
func (s *Session) User() *observe.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user
}

// Channel returns the observed channel record, or nil before ObserveChannel.
func (s *Session) Channel() *observe.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channel
}

// ObserveUser loads the given user fields. The first call fetches them,
// later calls fetch only fields not loaded yet. The same record is
// returned for the lifetime of the session.
func (s *Session) ObserveUser(ctx context.Context, fields ...string) (*observe.Record, error) {
	return s.observe(ctx, model.TableUser, s.UserID, &s.user, fields)
}

// ObserveChannel is ObserveUser for the channel record.
func (s *Session) ObserveChannel(ctx context.Context, fields ...string) (*observe.Record, error) {
	return s.observe(ctx, model.TableChannel, s.ChannelID, &s.channel, fields)
}

func (s *Session) observe(ctx context.Context, table model.Table, id string, slot **observe.Record, fields []string) (*observe.Record, error) {
	app := s.app
	if err := app.schema.Validate(table, fields); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if *slot != nil {
		missing := (*slot).Missing(fields)
		if len(missing) == 0 {
			return *slot, nil
		}
		row, err := s.fetch(ctx, table, id, missing)
		if err != nil {
			return nil, err
		}
		(*slot).Merge(row)
		return *slot, nil
	}

	row, err := s.fetch(ctx, table, id, fields)
	if err != nil {
		return nil, err
	}
	*slot = observe.New(row)
	return *slot, nil
}

// fetch reads fields, creating the record on first contact. Without a
// database the defaults are used and nothing is stored.
func (s *Session) fetch(ctx context.Context, table model.Table, id string, fields []string) (map[string]any, error) {
	app := s.app
	if app.db == nil {
		row := app.schema.Defaults(table, fields...)
		s.applyCreateDefaults(table, id, row)
		return project(row, fields), nil
	}

	row, err := app.db.Get(ctx, table, s.Platform, id, fields)
	if err == nil {
		return row, nil
	}
	if !errors.Is(err, database.ErrNotFound) {
		return nil, fmt.Errorf("load %s %s: %w", table, id, err)
	}

	created := app.schema.Defaults(table)
	s.applyCreateDefaults(table, id, created)
	if err := app.db.Create(ctx, table, s.Platform, id, created); err != nil && !errors.Is(err, database.ErrExists) {
		return nil, fmt.Errorf("create %s %s: %w", table, id, err)
	}
	return project(created, fields), nil
}

func (s *Session) applyCreateDefaults(table model.Table, id string, row map[string]any) {
	if _, ok := row[model.FieldID]; ok {
		row[model.FieldID] = id
	}
	switch table {
	case model.TableUser:
		if _, ok := row[model.FieldAuthority]; ok {
			row[model.FieldAuthority] = s.app.opts.AutoAuthorize
		}
		if _, ok := row[model.FieldName]; ok && s.Author != "" {
			row[model.FieldName] = s.Author
		}
	case model.TableChannel:
		if _, ok := row[model.FieldAssignee]; ok {
			row[model.FieldAssignee] = s.SelfID
		}
	}
}

func project(row map[string]any, fields []string) map[string]any {
	if len(fields) == 0 {
		return row
	}
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		out[f] = row[f]
	}
	return out
}

// Update writes pending user and channel changes, one write per record.
// Without changes nothing is written.
func (s *Session) Update(ctx context.Context) error {
	s.mu.Lock()
	user, channel := s.user, s.channel
	s.mu.Unlock()

	db := s.app.db
	flush := func(rec *observe.Record, table model.Table, id string) error {
		if rec == nil {
			return nil
		}
		return rec.Flush(func(diff map[string]any) error {
			if db == nil {
				return nil
			}
			return db.Set(ctx, table, s.Platform, id, diff)
		})
	}
	if err := flush(user, model.TableUser, s.UserID); err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if err := flush(channel, model.TableChannel, s.ChannelID); err != nil {
		return fmt.Errorf("update channel: %w", err)
	}
	return nil
}

// Send delivers text to the session channel. A truthy before-send
// listener cancels it. Without a bot the text is buffered in Sent.
func (s *Session) Send(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}
	v, err := s.app.bus.Bail(ctx, EventBeforeSend, s, text)
	if err != nil {
		s.app.logger.Warn("before-send listener failed", zap.Error(err))
	}
	if event.Truthy(v) {
		return nil
	}

	if bot := s.app.Bot(s.Platform, s.SelfID); bot != nil {
		if _, err := bot.SendMessage(ctx, s.ChannelID, text); err != nil {
			return fmt.Errorf("send to %s: %w", s.CID(), err)
		}
	} else {
		s.mu.Lock()
		s.sent = append(s.sent, text)
		s.mu.Unlock()
	}
	s.app.bus.Parallel(ctx, EventSend, s, text)
	return nil
}

// Sent returns messages buffered by Send when no bot was available.
func (s *Session) Sent() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.sent)
}

func (s *Session) setParsed(p Parsed) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.parsed = p
	s.argvSet = false
}
