package core

import (
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dshills/koishi/internal/database"
	"github.com/dshills/koishi/internal/metrics"
	"github.com/dshills/koishi/internal/model"
	"go.uber.org/zap"
)

// RateLimit configures the per-user flood guard.
type RateLimit struct {
	// Rate is the number of messages allowed per Per.
	Rate int64

	// Burst is the bucket capacity.
	Burst int64

	// Per is the refill window. Defaults to one second.
	Per time.Duration
}

// Options holds the App configuration.
type Options struct {
	// Prefix lists command prefixes. The empty prefix matches every message.
	Prefix []string

	// Nickname lists names that address the bot, as in "bot, echo hi".
	Nickname []string

	// AutoAuthorize is the authority given to users created on first contact.
	AutoAuthorize int

	// MinSimilarity scales the edit distance accepted for suggestions.
	MinSimilarity float64

	// SuggestionTimeout bounds how long a suggestion waits for confirmation.
	SuggestionTimeout time.Duration

	// MaxInterpolationDepth bounds $(...) nesting.
	MaxInterpolationDepth int

	// Location decides the day boundary for usage limits.
	Location *time.Location

	// RateLimit enables the flood guard when Rate is positive.
	RateLimit RateLimit

	// DisableHelp skips the builtin help command.
	DisableHelp bool

	// Messages overrides message templates.
	Messages map[string]string

	// Concurrency caps parallel listeners per emission. Zero is unlimited.
	Concurrency int

	Clock    clock.Clock
	Logger   *zap.Logger
	Metrics  *metrics.Metrics
	Database database.Service
	Schema   *model.Schema
}

// DefaultOptions returns the defaults New starts from.
func DefaultOptions() Options {
	return Options{
		Prefix:                []string{""},
		AutoAuthorize:         1,
		MinSimilarity:         0.4,
		SuggestionTimeout:     time.Minute,
		MaxInterpolationDepth: 16,
		Location:              time.Local,
	}
}

// Option configures an App.
type Option func(*Options)

// WithOptions replaces the whole option set. Later options still apply.
func WithOptions(o Options) Option {
	return func(opts *Options) {
		*opts = o
	}
}

// WithPrefix sets the command prefixes.
func WithPrefix(prefixes ...string) Option {
	return func(o *Options) {
		o.Prefix = prefixes
	}
}

// WithNickname sets the names that address the bot.
func WithNickname(names ...string) Option {
	return func(o *Options) {
		o.Nickname = names
	}
}

// WithAutoAuthorize sets the authority of new users.
func WithAutoAuthorize(level int) Option {
	return func(o *Options) {
		o.AutoAuthorize = level
	}
}

// WithMinSimilarity sets the suggestion threshold.
func WithMinSimilarity(v float64) Option {
	return func(o *Options) {
		o.MinSimilarity = v
	}
}

// WithSuggestionTimeout sets how long suggestions wait for confirmation.
func WithSuggestionTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.SuggestionTimeout = d
	}
}

// WithMaxInterpolationDepth bounds $(...) nesting.
func WithMaxInterpolationDepth(n int) Option {
	return func(o *Options) {
		o.MaxInterpolationDepth = n
	}
}

// WithLocation sets the time zone of the usage day boundary.
func WithLocation(loc *time.Location) Option {
	return func(o *Options) {
		o.Location = loc
	}
}

// WithRateLimit enables the per-user flood guard.
func WithRateLimit(rl RateLimit) Option {
	return func(o *Options) {
		o.RateLimit = rl
	}
}

// WithoutHelp disables the builtin help command.
func WithoutHelp() Option {
	return func(o *Options) {
		o.DisableHelp = true
	}
}

// WithMessages overrides message templates.
func WithMessages(m map[string]string) Option {
	return func(o *Options) {
		o.Messages = m
	}
}

// WithConcurrency caps parallel listeners per emission.
func WithConcurrency(n int) Option {
	return func(o *Options) {
		o.Concurrency = n
	}
}

// WithClock sets the clock used for usage, timers, prompts and suggestions.
func WithClock(c clock.Clock) Option {
	return func(o *Options) {
		o.Clock = c
	}
}

// WithLogger sets the root logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Options) {
		o.Logger = l
	}
}

// WithMetrics sets the collector set.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Options) {
		o.Metrics = m
	}
}

// WithDatabase sets the storage service.
func WithDatabase(db database.Service) Option {
	return func(o *Options) {
		o.Database = db
	}
}

// WithSchema sets the field registry shared with the database.
func WithSchema(s *model.Schema) Option {
	return func(o *Options) {
		o.Schema = s
	}
}
