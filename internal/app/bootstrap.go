package app

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/dshills/koishi/internal/adapter/cli"
	"github.com/dshills/koishi/internal/adapter/mcp"
	"github.com/dshills/koishi/internal/adapter/websocket"
	"github.com/dshills/koishi/internal/config"
	"github.com/dshills/koishi/internal/console"
	"github.com/dshills/koishi/internal/core"
	"github.com/dshills/koishi/internal/database"
	"github.com/dshills/koishi/internal/database/memory"
	"github.com/dshills/koishi/internal/database/sqlite"
	"github.com/dshills/koishi/internal/logging"
	"github.com/dshills/koishi/internal/metrics"
	"github.com/dshills/koishi/internal/model"
	"github.com/dshills/koishi/internal/plugin"
	"github.com/dshills/koishi/internal/plugin/builtin"
	"go.uber.org/zap"
)

// bootstrapper initializes components in dependency order and undoes
// the finished steps when a later one fails.
type bootstrapper struct {
	app    *Application
	schema *model.Schema
}

func newBootstrapper(app *Application) *bootstrapper {
	return &bootstrapper{app: app, schema: model.NewSchema()}
}

func (b *bootstrapper) bootstrap() error {
	steps := []struct {
		name string
		fn   func() error
	}{
		{"config", b.initConfig},
		{"logging", b.initLogging},
		{"database", b.initDatabase},
		{"core", b.initCore},
		{"adapters", b.initAdapters},
		{"plugins", b.initPlugins},
		{"console", b.initConsole},
	}
	for _, step := range steps {
		if err := step.fn(); err != nil {
			_ = b.app.close()
			return &InitError{Component: step.name, Err: err}
		}
	}
	return nil
}

func (b *bootstrapper) initConfig() error {
	cfg := b.app.opts.Config
	if cfg == nil {
		var err error
		if cfg, err = config.Load(b.app.opts.ConfigPath); err != nil {
			return err
		}
	}
	if b.app.opts.Configure != nil {
		b.app.opts.Configure(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	b.app.cfg = cfg
	return nil
}

func (b *bootstrapper) initLogging() error {
	cfg := b.app.cfg.Log
	out := b.app.opts.LogOutput
	if out == nil {
		w, f, err := logOutput(cfg.Output)
		if err != nil {
			return err
		}
		out, b.app.logFile = w, f
	}
	b.app.logger, b.app.level = logging.New(logging.Config{
		Level:  cfg.Level,
		Format: cfg.Format,
		Output: out,
	})
	return nil
}

// logOutput resolves stderr, stdout or a file path.
func logOutput(dest string) (io.Writer, *os.File, error) {
	switch strings.ToLower(dest) {
	case "", "stderr":
		return os.Stderr, nil, nil
	case "stdout":
		return os.Stdout, nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return nil, nil, err
	}
	f, err := os.OpenFile(dest, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, err
	}
	return f, f, nil
}

func (b *bootstrapper) initDatabase() error {
	cfg := b.app.cfg.Database
	var db database.Service
	switch cfg.Driver {
	case "none":
		return nil
	case "memory":
		db = memory.New(b.schema)
	case "sqlite":
		store, err := sqlite.Open(cfg.Path, b.schema)
		if err != nil {
			return err
		}
		db = store
	default:
		return fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
	if cfg.Breaker.Failures > 0 {
		db = database.WithBreaker(db, database.BreakerConfig{
			Failures: cfg.Breaker.Failures,
			Timeout:  cfg.Breaker.Timeout,
			Logger:   b.app.logger.Named("database"),
		})
	}
	b.app.db = db
	b.app.logger.Info("database ready", zap.String("driver", cfg.Driver))
	return nil
}

func (b *bootstrapper) initCore() error {
	cfg := b.app.cfg
	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	opts := []core.Option{
		core.WithLogger(b.app.logger),
		core.WithMetrics(metrics.New(cfg.Console.Addr != "")),
		core.WithSchema(b.schema),
		core.WithPrefix(cfg.Prefix...),
		core.WithNickname(cfg.Nickname...),
		core.WithAutoAuthorize(cfg.AutoAuthorize),
		core.WithMinSimilarity(cfg.MinSimilarity),
		core.WithSuggestionTimeout(cfg.SuggestionTimeout),
		core.WithMaxInterpolationDepth(cfg.MaxInterpolationDepth),
		core.WithLocation(loc),
		core.WithRateLimit(core.RateLimit{
			Rate:  cfg.RateLimit.Rate,
			Burst: cfg.RateLimit.Burst,
			Per:   cfg.RateLimit.Per,
		}),
		core.WithMessages(cfg.Messages),
	}
	if b.app.db != nil {
		opts = append(opts, core.WithDatabase(b.app.db))
	}
	if cfg.DisableHelp {
		opts = append(opts, core.WithoutHelp())
	}
	b.app.bot = core.New(opts...)
	return nil
}

func (b *bootstrapper) initAdapters() error {
	cfg := b.app.cfg.Adapters
	bot := b.app.bot
	if cfg.CLI.Enabled {
		b.app.cli = cli.New(b.app.opts.Stdin, b.app.opts.Stdout, cli.WithUserID(cfg.CLI.UserID))
		bot.AddAdapter(b.app.cli)
	}
	if cfg.MCP.Enabled {
		b.app.mcp = mcp.New(b.app.opts.Stdin, b.app.opts.Stdout,
			mcp.WithUserID(cfg.MCP.UserID),
			mcp.WithVersion(b.app.opts.Version))
		bot.AddAdapter(b.app.mcp)
	}
	if cfg.WebSocket.Addr != "" {
		bot.AddAdapter(websocket.New(cfg.WebSocket.Addr,
			websocket.WithPath(cfg.WebSocket.Path),
			websocket.WithToken(cfg.WebSocket.Token)))
	}
	return nil
}

func (b *bootstrapper) initPlugins() error {
	catalog := plugin.NewCatalog()
	all := builtin.All()
	names := make([]string, 0, len(all))
	for name := range all {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		if err := catalog.Register(name, all[name]); err != nil {
			return err
		}
	}
	if err := catalog.RegisterScripts(b.app.cfg.Lua.Paths); err != nil {
		return err
	}
	b.app.catalog = catalog

	b.app.plugins = plugin.NewManager(b.app.bot.Context(), catalog)
	b.app.plugins.OnEvent(func(ev plugin.Event) {
		if ev.Type == plugin.EventError {
			b.app.logger.Warn("plugin event", zap.String("type", ev.Type.String()),
				zap.String("plugin", ev.Plugin), zap.Error(ev.Error))
			return
		}
		b.app.logger.Debug("plugin event", zap.String("type", ev.Type.String()), zap.String("plugin", ev.Plugin))
	})
	b.app.logger.Info("plugin catalog ready", zap.Strings("plugins", catalog.Names()))
	return nil
}

func (b *bootstrapper) initConsole() error {
	if b.app.cfg.Console.Addr != "" {
		b.app.console = console.New(b.app.bot)
	}
	return nil
}
