package app

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dshills/koishi/internal/config"
	"github.com/dshills/koishi/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func private(content string) *core.Session {
	return &core.Session{Platform: "test", SelfID: "bot", UserID: "u1", Content: content}
}

func newTestApp(t *testing.T, cfg *config.Config, opts Options) *Application {
	t.Helper()
	opts.Config = cfg
	if opts.LogOutput == nil {
		opts.LogOutput = io.Discard
	}
	app, err := New(opts)
	require.NoError(t, err)
	return app
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Log.Level = "loud"
	_, err := New(Options{Config: cfg, LogOutput: io.Discard})
	require.Error(t, err)

	var ierr *InitError
	require.ErrorAs(t, err, &ierr)
	assert.Equal(t, "config", ierr.Component)
	assert.ErrorIs(t, err, config.ErrValidationFailed)
}

func TestNewMissingConfigFile(t *testing.T) {
	_, err := New(Options{ConfigPath: filepath.Join(t.TempDir(), "absent.yaml"), LogOutput: io.Discard})
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestConfigureHook(t *testing.T) {
	app := newTestApp(t, config.Default(), Options{Configure: func(c *config.Config) {
		c.Prefix = []string{"!"}
	}})
	assert.Equal(t, []string{"!"}, app.Config().Prefix)
	assert.Equal(t, []string{"!"}, app.Bot().Options().Prefix)
}

func TestCLISession(t *testing.T) {
	cfg := config.Default()
	cfg.Adapters.CLI.Enabled = true
	cfg.Plugins = []config.PluginConfig{{Name: "echo"}, {Name: "status"}}
	out := &syncBuffer{}
	app := newTestApp(t, cfg, Options{Stdin: strings.NewReader("echo hi\nstatus\n"), Stdout: out})

	ctx := context.Background()
	require.NoError(t, app.Start(ctx))
	select {
	case <-app.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("cli input not consumed")
	}
	require.NoError(t, app.Stop(ctx))

	assert.True(t, strings.HasPrefix(out.String(), "hi\n"), out.String())
	assert.Contains(t, out.String(), "Plugins:")
}

func TestStartStop(t *testing.T) {
	app := newTestApp(t, config.Default(), Options{})
	ctx := context.Background()

	assert.ErrorIs(t, app.Stop(ctx), ErrNotRunning)
	require.NoError(t, app.Start(ctx))
	assert.ErrorIs(t, app.Start(ctx), ErrAlreadyRunning)
	assert.Nil(t, app.Done())
	assert.Nil(t, app.Console())
	require.NoError(t, app.Stop(ctx))
}

func TestUnknownPluginDoesNotBlockStart(t *testing.T) {
	cfg := config.Default()
	cfg.Plugins = []config.PluginConfig{{Name: "missing"}, {Name: "echo"}}
	app := newTestApp(t, cfg, Options{})
	ctx := context.Background()
	require.NoError(t, app.Start(ctx))
	defer app.Stop(ctx)

	assert.Equal(t, "ok", app.Bot().Dispatch(ctx, private("echo ok")))
}

func TestReload(t *testing.T) {
	app := newTestApp(t, config.Default(), Options{})
	ctx := context.Background()
	require.NoError(t, app.Start(ctx))
	defer app.Stop(ctx)
	assert.Nil(t, app.Bot().Command("echo"))

	next := config.Default()
	next.Plugins = []config.PluginConfig{{Name: "echo"}}
	app.Reload(next)
	assert.Equal(t, "again", app.Bot().Dispatch(ctx, private("echo again")))
	assert.Same(t, next, app.Config())

	app.Reload(config.Default())
	assert.Nil(t, app.Bot().Command("echo"))
}

func TestWatchConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "koishi.yaml")
	require.NoError(t, os.WriteFile(path, []byte("plugins:\n  - name: echo\n"), 0o644))

	app, err := New(Options{ConfigPath: path, Watch: true, LogOutput: io.Discard})
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, app.Start(ctx))
	defer app.Stop(ctx)
	require.NotNil(t, app.Bot().Command("echo"))

	require.NoError(t, os.WriteFile(path, []byte("plugins:\n  - name: status\n"), 0o644))
	assert.Eventually(t, func() bool {
		return app.Bot().Command("echo") == nil && app.Bot().Command("status") != nil
	}, 5*time.Second, 20*time.Millisecond)
}

func TestLuaScriptPlugin(t *testing.T) {
	dir := t.TempDir()
	script := `
function apply(ctx, config)
  ctx:command("greet <name>", "Greet someone"):action(function(argv)
    return config.greeting .. ", " .. argv.args[1]
  end)
end
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "greet.lua"), []byte(script), 0o644))

	cfg := config.Default()
	cfg.Lua.Paths = []string{dir}
	cfg.Plugins = []config.PluginConfig{{Name: "greet", Config: map[string]any{"greeting": "Hello"}}}
	app := newTestApp(t, cfg, Options{})
	ctx := context.Background()
	require.NoError(t, app.Start(ctx))
	defer app.Stop(ctx)

	assert.Equal(t, "Hello, bob", app.Bot().Dispatch(ctx, private("greet bob")))
}

func TestSQLiteDatabase(t *testing.T) {
	cfg := config.Default()
	cfg.Database.Driver = "sqlite"
	cfg.Database.Path = filepath.Join(t.TempDir(), "data", "koishi.db")
	cfg.Database.Breaker.Failures = 3
	app := newTestApp(t, cfg, Options{})
	require.NotNil(t, app.Bot().Database())

	ctx := context.Background()
	require.NoError(t, app.Start(ctx))
	require.NoError(t, app.Stop(ctx))
	assert.FileExists(t, cfg.Database.Path)
}

func TestLogFile(t *testing.T) {
	cfg := config.Default()
	cfg.Log.Output = filepath.Join(t.TempDir(), "logs", "koishi.log")
	cfg.Log.Format = "json"
	app, err := New(Options{Config: cfg})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, app.Start(ctx))
	require.NoError(t, app.Stop(ctx))

	data, err := os.ReadFile(cfg.Log.Output)
	require.NoError(t, err)
	assert.Contains(t, string(data), "app started")
}

func TestConsole(t *testing.T) {
	cfg := config.Default()
	cfg.Console.Addr = "127.0.0.1:0"
	app := newTestApp(t, cfg, Options{})
	require.NotNil(t, app.Console())

	ctx := context.Background()
	require.NoError(t, app.Start(ctx))
	defer app.Stop(ctx)
	assert.NotEmpty(t, app.Console().Addr())
}
