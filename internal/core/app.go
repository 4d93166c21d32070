package core

import (
	"cmp"
	"context"
	"fmt"
	"runtime/debug"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dshills/koishi/internal/argv"
	"github.com/dshills/koishi/internal/database"
	"github.com/dshills/koishi/internal/event"
	"github.com/dshills/koishi/internal/metrics"
	"github.com/dshills/koishi/internal/model"
	"github.com/dshills/koishi/internal/selector"
	"github.com/yasserelgammal/rate-limiter/limiter"
	"github.com/yasserelgammal/rate-limiter/store"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// App is the root of one bot instance. Apps share no state, so several
// may run in one process.
type App struct {
	opts      Options
	prefixes  []string
	root      *Context
	registry  *Registry
	bus       *event.Bus
	chain     *middlewareChain
	commands  *commandTable
	types     *argv.Types
	schema    *model.Schema
	db        database.Service
	clock     clock.Clock
	logger    *zap.Logger
	metrics   *metrics.Metrics
	templates *Templates
	limiter   *limiter.TokenBucket

	mu       sync.RWMutex
	adapters []Adapter
	bots     map[string]Bot
}

// New creates an App. The builtin help command is applied unless
// disabled.
func New(opts ...Option) *App {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.Clock == nil {
		o.Clock = clock.New()
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Metrics == nil {
		o.Metrics = metrics.New(false)
	}
	if o.Schema == nil {
		o.Schema = model.NewSchema()
	}
	if o.Location == nil {
		o.Location = time.Local
	}
	if o.Prefix == nil {
		o.Prefix = []string{""}
	}
	if o.MaxInterpolationDepth <= 0 {
		o.MaxInterpolationDepth = 16
	}
	if o.SuggestionTimeout <= 0 {
		o.SuggestionTimeout = time.Minute
	}

	app := &App{
		opts:      o,
		clock:     o.Clock,
		logger:    o.Logger,
		metrics:   o.Metrics,
		schema:    o.Schema,
		db:        o.Database,
		types:     argv.NewTypes(),
		chain:     &middlewareChain{},
		templates: NewTemplates(o.Messages),
		bots:      make(map[string]Bot),
	}
	app.bus = event.NewBus(
		event.WithLogger(o.Logger.Named("event")),
		event.WithConcurrency(o.Concurrency),
		event.WithErrorHandler(func(name string, _ error) {
			app.metrics.ListenerErrors.WithLabelValues(name).Inc()
		}),
	)
	app.registry = newRegistry(app)
	app.root = &Context{app: app, sel: selector.All(), state: app.registry.root}
	app.registry.root.ctx = app.root
	app.commands = newCommandTable(app)

	// Longest prefix first so "//" wins over "/" and "" comes last.
	app.prefixes = slices.Clone(o.Prefix)
	slices.SortStableFunc(app.prefixes, func(x, y string) int {
		return cmp.Compare(len(y), len(x))
	})

	if rl := o.RateLimit; rl.Rate > 0 {
		per := rl.Per
		if per <= 0 {
			per = time.Second
		}
		burst := rl.Burst
		if burst <= 0 {
			burst = rl.Rate
		}
		tb, err := limiter.NewTokenBucket(limiter.Config{
			Rate:     rl.Rate,
			Duration: per,
			Burst:    burst,
		}, store.NewMemoryStore(time.Minute))
		if err != nil {
			app.logger.Warn("flood guard disabled", zap.Error(err))
		} else {
			app.limiter = tb
		}
	}

	if !o.DisableHelp {
		app.root.MustPlugin(helpPlugin{}, nil)
	}
	return app
}

// Context returns the root context, which matches every session.
func (app *App) Context() *Context { return app.root }

// Registry returns the plugin registry.
func (app *App) Registry() *Registry { return app.registry }

// Bus returns the event bus.
func (app *App) Bus() *event.Bus { return app.bus }

// Logger returns the root logger.
func (app *App) Logger() *zap.Logger { return app.logger }

// Metrics returns the collector set.
func (app *App) Metrics() *metrics.Metrics { return app.metrics }

// Clock returns the clock used for limits and timeouts.
func (app *App) Clock() clock.Clock { return app.clock }

// Templates returns the message templates.
func (app *App) Templates() *Templates { return app.templates }

// Schema returns the field registry.
func (app *App) Schema() *model.Schema { return app.schema }

// Database returns the storage service, or nil.
func (app *App) Database() database.Service { return app.db }

// Options returns the effective options.
func (app *App) Options() Options { return app.opts }

// RegisterType adds an argument type usable in declarations.
func (app *App) RegisterType(name string, fn argv.Transform) {
	app.types.Register(name, fn)
}

// Command returns the command with the given name or alias.
func (app *App) Command(name string) *Command {
	return app.commands.get(name)
}

// Commands returns all commands in registration order.
func (app *App) Commands() []*Command {
	return app.commands.list()
}

// Text renders a message template.
func (app *App) Text(key string, args ...any) string {
	return app.templates.Text(key, args...)
}

// Dispatch runs a session through the middleware chain and returns the
// reply, or "" for none. It never panics.
func (app *App) Dispatch(ctx context.Context, s *Session) (reply string) {
	start := app.clock.Now()
	s.bind(app)
	app.metrics.Dispatches.Inc()
	defer func() {
		if rec := recover(); rec != nil {
			app.logger.Error("dispatch panicked",
				zap.String("session", s.ID),
				zap.Any("panic", rec),
				zap.ByteString("stack", debug.Stack()))
			reply = ""
		}
		app.metrics.DispatchSeconds.Observe(app.clock.Since(start).Seconds())
	}()

	app.bus.Parallel(ctx, EventMessage, s)

	run := &chainRun{app: app, steps: app.chain.steps(s, app.preprocessStep(s))}
	reply = run.run(ctx)

	if err := s.Update(ctx); err != nil {
		app.logger.Warn("flush session records", zap.String("session", s.ID), zap.Error(err))
	}
	app.bus.Parallel(ctx, EventMiddleware, s)
	if reply != "" {
		app.metrics.Replies.Inc()
	}
	return reply
}

// Start emits before-connect, starts adapters and emits connect.
func (app *App) Start(ctx context.Context) error {
	if err := app.bus.Serial(ctx, EventBeforeConnect, app); err != nil {
		return fmt.Errorf("before-connect: %w", err)
	}
	var err error
	for _, ad := range app.Adapters() {
		if serr := ad.Start(ctx, app); serr != nil {
			err = multierr.Append(err, fmt.Errorf("start %s adapter: %w", ad.Platform(), serr))
		}
	}
	if err != nil {
		return err
	}
	app.bus.Parallel(ctx, EventConnect, app)
	app.logger.Info("app started", zap.Int("adapters", len(app.Adapters())), zap.Int("plugins", app.registry.Len()))
	return nil
}

// Stop emits before-disconnect, stops adapters, disposes every plugin
// and emits disconnect.
func (app *App) Stop(ctx context.Context) error {
	err := app.bus.Serial(ctx, EventBeforeDisconnect, app)
	adapters := app.Adapters()
	for i := len(adapters) - 1; i >= 0; i-- {
		if serr := adapters[i].Stop(ctx); serr != nil {
			err = multierr.Append(err, fmt.Errorf("stop %s adapter: %w", adapters[i].Platform(), serr))
		}
	}
	err = multierr.Append(err, app.registry.disposeAll())
	app.bus.Parallel(ctx, EventDisconnect, app)
	app.logger.Info("app stopped")
	return err
}

// formatValue renders a parsed argument for display and splicing.
func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprint(x)
	}
}
