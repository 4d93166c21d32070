// Package app wires a bot together from its configuration: logging,
// storage, the core App, adapters, plugins, the console and config
// reloading.
package app

import (
	"context"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/dshills/koishi/internal/adapter/cli"
	"github.com/dshills/koishi/internal/adapter/mcp"
	"github.com/dshills/koishi/internal/config"
	"github.com/dshills/koishi/internal/console"
	"github.com/dshills/koishi/internal/core"
	"github.com/dshills/koishi/internal/database"
	"github.com/dshills/koishi/internal/logging"
	"github.com/dshills/koishi/internal/plugin"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Options configures the application.
type Options struct {
	// ConfigPath is the configuration file. Empty means defaults plus
	// environment overrides.
	ConfigPath string

	// Config is used instead of loading ConfigPath when set.
	Config *config.Config

	// Configure adjusts the loaded configuration before validation.
	Configure func(*config.Config)

	// Watch reloads the plugin list and log level when ConfigPath
	// changes.
	Watch bool

	// Stdin and Stdout back the cli and mcp adapters. They default to
	// the process streams.
	Stdin  io.Reader
	Stdout io.Writer

	// LogOutput overrides the configured log destination.
	LogOutput io.Writer

	// Version is reported by the mcp adapter.
	Version string
}

// Application owns one configured bot.
type Application struct {
	opts Options

	mu  sync.Mutex
	cfg *config.Config

	logger  *zap.Logger
	level   zap.AtomicLevel
	logFile *os.File

	db      database.Service
	bot     *core.App
	catalog *plugin.Catalog
	plugins *plugin.Manager
	console *console.Console
	watcher *config.Watcher

	cli *cli.Adapter
	mcp *mcp.Adapter

	running atomic.Bool
}

// New loads the configuration and builds every component. Nothing
// listens or reads input until Start.
func New(opts Options) (*Application, error) {
	if opts.Stdin == nil {
		opts.Stdin = os.Stdin
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	app := &Application{opts: opts}
	if err := newBootstrapper(app).bootstrap(); err != nil {
		return nil, err
	}
	return app, nil
}

// Bot returns the core App.
func (app *Application) Bot() *core.App { return app.bot }

// Logger returns the root logger.
func (app *Application) Logger() *zap.Logger { return app.logger }

// Plugins returns the plugin manager.
func (app *Application) Plugins() *plugin.Manager { return app.plugins }

// Console returns the HTTP console, or nil when disabled.
func (app *Application) Console() *console.Console { return app.console }

// Config returns the active configuration.
func (app *Application) Config() *config.Config {
	app.mu.Lock()
	defer app.mu.Unlock()
	return app.cfg
}

// Done is closed when an input-driven adapter reaches the end of its
// input. It is nil, and so never ready, without one.
func (app *Application) Done() <-chan struct{} {
	switch {
	case app.cli != nil:
		return app.cli.Done()
	case app.mcp != nil:
		return app.mcp.Done()
	default:
		return nil
	}
}

// Start applies the configured plugins, then starts the console, the
// adapters and the config watcher.
func (app *Application) Start(ctx context.Context) error {
	if !app.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	cfg := app.Config()

	if err := app.plugins.Sync(cfg.Plugins); err != nil {
		// A broken plugin does not keep the others from running.
		app.logger.Error("plugins failed to apply", zap.Error(err))
	}
	if app.console != nil {
		if err := app.console.Start(cfg.Console.Addr); err != nil {
			app.running.Store(false)
			return &InitError{Component: "console", Err: err}
		}
	}
	if err := app.bot.Start(ctx); err != nil {
		app.running.Store(false)
		return err
	}
	if app.opts.Watch && app.opts.ConfigPath != "" {
		w, err := config.Watch(app.opts.ConfigPath, app.Reload, config.WithWatchLogger(app.logger))
		if err != nil {
			app.logger.Warn("config watching disabled", zap.Error(err))
		} else {
			app.watcher = w
		}
	}
	return nil
}

// Reload applies the reloadable part of cfg: the log level and the
// plugin list. Other settings take effect on restart.
func (app *Application) Reload(cfg *config.Config) {
	app.mu.Lock()
	app.cfg = cfg
	app.mu.Unlock()

	app.level.SetLevel(logging.ParseLevel(cfg.Log.Level))
	if err := app.plugins.Sync(cfg.Plugins); err != nil {
		app.logger.Error("plugin reload incomplete", zap.Error(err))
	}
}

// Stop tears everything down in reverse order.
func (app *Application) Stop(ctx context.Context) error {
	if !app.running.CompareAndSwap(true, false) {
		return ErrNotRunning
	}
	var err error
	if app.watcher != nil {
		err = multierr.Append(err, app.watcher.Close())
	}
	if app.console != nil {
		err = multierr.Append(err, app.console.Stop(ctx))
	}
	err = multierr.Append(err, app.plugins.Close())
	err = multierr.Append(err, app.bot.Stop(ctx))
	err = multierr.Append(err, app.close())
	return err
}

// close releases storage and logging. It is also the cleanup path of a
// failed bootstrap.
func (app *Application) close() error {
	var err error
	if app.db != nil {
		err = multierr.Append(err, app.db.Close())
		app.db = nil
	}
	if app.logger != nil {
		_ = app.logger.Sync()
	}
	if app.logFile != nil {
		err = multierr.Append(err, app.logFile.Close())
		app.logFile = nil
	}
	return err
}
