package plugin

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/dshills/koishi/internal/config"
	"github.com/dshills/koishi/internal/core"
	"github.com/dshills/koishi/internal/plugin/builtin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// greeter replies to "greet" with its configured text.
type greeter struct {
	sideEffect bool
	applied    *int
}

func (g *greeter) Name() string     { return "greeter" }
func (g *greeter) SideEffect() bool { return g.sideEffect }

func (g *greeter) Apply(ctx *core.Context, cfg any) error {
	*g.applied++
	text := "hello"
	if m, ok := cfg.(map[string]any); ok {
		if s, ok := m["text"].(string); ok {
			text = s
		}
	}
	ctx.Command("greet", "").Action(func(context.Context, *core.Argv) (string, error) {
		return text, nil
	})
	return nil
}

func setup(t *testing.T, sideEffect bool) (*core.App, *Manager, *int) {
	t.Helper()
	app := core.New(core.WithLogger(zap.NewNop()))
	t.Cleanup(func() { _ = app.Stop(context.Background()) })

	applied := new(int)
	cat := NewCatalog()
	require.NoError(t, cat.Register("greeter", &greeter{sideEffect: sideEffect, applied: applied}))
	require.NoError(t, cat.Register("echo", builtin.Echo{}))
	return app, NewManager(app.Context(), cat), applied
}

func say(app *core.App, content string) string {
	s := &core.Session{Platform: "test", SelfID: "bot", UserID: "alice", ChannelID: "private:alice", Content: content}
	return app.Dispatch(context.Background(), s)
}

func TestCatalog(t *testing.T) {
	cat := NewCatalog()
	require.NoError(t, cat.Register("b", builtin.Echo{}))
	require.NoError(t, cat.Register("a", builtin.Status{}))
	assert.ErrorIs(t, cat.Register("a", builtin.Echo{}), ErrAlreadyRegistered)
	assert.Equal(t, []string{"a", "b"}, cat.Names())

	_, ok := cat.Lookup("missing")
	assert.False(t, ok)
}

func TestCatalogScripts(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ping.lua"), []byte(`
function apply(ctx)
  ctx:command("ping"):action(function() return "pong" end)
end`), 0o644))

	cat := NewCatalog()
	require.NoError(t, cat.RegisterScripts([]string{dir}))
	assert.Equal(t, []string{"ping"}, cat.Names())

	app := core.New(core.WithLogger(zap.NewNop()))
	t.Cleanup(func() { _ = app.Stop(context.Background()) })
	m := NewManager(app.Context(), cat)
	require.NoError(t, m.Sync([]config.PluginConfig{{Name: "ping"}}))
	assert.Equal(t, "pong", say(app, "ping"))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "echo.lua"), []byte(`x = 1`), 0o644))
	cat2 := NewCatalog()
	require.NoError(t, cat2.Register("echo", builtin.Echo{}))
	assert.ErrorIs(t, cat2.RegisterScripts([]string{dir}), ErrAlreadyRegistered)
}

func TestSyncApplies(t *testing.T) {
	app, m, applied := setup(t, false)
	var events []Event
	m.OnEvent(func(e Event) { events = append(events, e) })

	err := m.Sync([]config.PluginConfig{
		{Name: "greeter", Config: map[string]any{"text": "hi"}},
		{Name: "echo", Disabled: true},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"greeter"}, m.Applied())
	assert.Equal(t, "hi", say(app, "greet"))
	assert.Equal(t, "", say(app, "echo x"))
	assert.Equal(t, 1, *applied)
	require.Len(t, events, 1)
	assert.Equal(t, EventApplied, events[0].Type)
}

func TestSyncReconciles(t *testing.T) {
	app, m, applied := setup(t, false)
	require.NoError(t, m.Sync([]config.PluginConfig{
		{Name: "greeter", Config: map[string]any{"text": "hi"}},
		{Name: "echo"},
	}))

	// Unchanged entries are left alone.
	require.NoError(t, m.Sync([]config.PluginConfig{
		{Name: "greeter", Config: map[string]any{"text": "hi"}},
		{Name: "echo"},
	}))
	assert.Equal(t, 1, *applied)

	var types []EventType
	m.OnEvent(func(e Event) { types = append(types, e.Type) })
	require.NoError(t, m.Sync([]config.PluginConfig{
		{Name: "greeter", Config: map[string]any{"text": "hey"}},
	}))
	assert.Equal(t, 2, *applied)
	assert.Equal(t, "hey", say(app, "greet"))
	assert.Equal(t, "", say(app, "echo x"))
	assert.Equal(t, []string{"greeter"}, m.Applied())
	assert.Equal(t, []EventType{EventDisposed, EventDisposed, EventReloaded}, types)
}

func TestSyncSkipsSideEffects(t *testing.T) {
	app, m, applied := setup(t, true)
	require.NoError(t, m.Sync([]config.PluginConfig{{Name: "greeter", Config: map[string]any{"text": "hi"}}}))

	var types []EventType
	m.OnEvent(func(e Event) { types = append(types, e.Type) })
	require.NoError(t, m.Sync([]config.PluginConfig{{Name: "greeter", Config: map[string]any{"text": "hey"}}}))
	assert.Equal(t, 1, *applied)
	assert.Equal(t, "hi", say(app, "greet"))
	assert.Equal(t, []EventType{EventSkipped}, types)

	// Removal still disposes.
	require.NoError(t, m.Sync(nil))
	assert.Equal(t, "", say(app, "greet"))
}

func TestSyncUnknownPlugin(t *testing.T) {
	app, m, _ := setup(t, false)
	err := m.Sync([]config.PluginConfig{{Name: "nope"}, {Name: "echo"}})
	assert.ErrorIs(t, err, ErrPluginNotFound)
	assert.Equal(t, []string{"echo"}, m.Applied())
	assert.Equal(t, "x", say(app, "echo x"))
}

func TestManagerClose(t *testing.T) {
	app, m, _ := setup(t, false)
	require.NoError(t, m.Sync([]config.PluginConfig{{Name: "greeter"}, {Name: "echo"}}))
	require.NoError(t, m.Close())
	assert.Empty(t, m.Applied())
	assert.Nil(t, app.Command("greet"))
	assert.Nil(t, app.Command("echo"))
}
