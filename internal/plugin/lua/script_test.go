package lua

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/dshills/koishi/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newApp(t *testing.T) *core.App {
	t.Helper()
	app := core.New(core.WithLogger(zap.NewNop()))
	t.Cleanup(func() { _ = app.Stop(context.Background()) })
	return app
}

func private(content string) *core.Session {
	return &core.Session{Platform: "test", SelfID: "bot", UserID: "alice", ChannelID: "private:alice", Content: content}
}

func group(guild, content string) *core.Session {
	return &core.Session{Platform: "test", SelfID: "bot", UserID: "alice", GuildID: guild, ChannelID: guild + "-main", Content: content}
}

const greetScript = `
function apply(ctx, config)
  ctx:command("greet <name>", "Greet someone")
    :alias("hi")
    :option("loud", "-l, --loud")
    :action(function(argv)
      local text = config.greeting .. ", " .. argv.args[1]
      if argv.options.loud then text = string.upper(text) end
      return text
    end)
end
`

func TestScriptCommand(t *testing.T) {
	app := newApp(t)
	script := NewScript("greet", greetScript)
	_, err := app.Context().Plugin(script, map[string]any{"greeting": "Hello"})
	require.NoError(t, err)

	ctx := context.Background()
	assert.Equal(t, "Hello, bob", app.Dispatch(ctx, private("greet bob")))
	assert.Equal(t, "Hello, bob", app.Dispatch(ctx, private("hi bob")))
	assert.Equal(t, "HELLO, BOB", app.Dispatch(ctx, private("greet -l bob")))

	state, ok := app.Registry().Get(script)
	require.True(t, ok)
	assert.Equal(t, "greet", state.Name())
}

func TestScriptDispose(t *testing.T) {
	app := newApp(t)
	script := NewScript("greet", greetScript)
	_, err := app.Context().Plugin(script, map[string]any{"greeting": "Hello"})
	require.NoError(t, err)
	require.NotNil(t, app.Command("greet"))

	require.NoError(t, app.Context().Dispose(script))
	assert.Nil(t, app.Command("greet"))
	assert.Nil(t, app.Command("hi"))
	assert.Equal(t, "", app.Dispatch(context.Background(), private("greet bob")))
}

func TestScriptScopedMiddleware(t *testing.T) {
	app := newApp(t)
	script := NewScript("pong", `
function apply(ctx)
  ctx:guild("g1"):middleware(function(session, next)
    if session.content == "ping" then return "pong from " .. session.guild_id end
    return next()
  end)
end
`)
	_, err := app.Context().Plugin(script, nil)
	require.NoError(t, err)

	ctx := context.Background()
	assert.Equal(t, "pong from g1", app.Dispatch(ctx, group("g1", "ping")))
	assert.Equal(t, "", app.Dispatch(ctx, group("g2", "ping")))
	assert.Equal(t, "", app.Dispatch(ctx, group("g1", "other")))
}

func TestScriptReentersItself(t *testing.T) {
	app := newApp(t)
	script := NewScript("announce", `
local seen = {}
function apply(ctx)
  ctx:on("before-send", function(session, text)
    table.insert(seen, text)
  end)
  ctx:command("announce <text:text>"):action(function(argv)
    argv.session:send(argv.args[1])
    return "sent " .. #seen
  end)
end
`)
	_, err := app.Context().Plugin(script, nil)
	require.NoError(t, err)

	s := private("announce hello there")
	assert.Equal(t, "sent 1", app.Dispatch(context.Background(), s))
	assert.Equal(t, []string{"hello there"}, s.Sent())
}

func TestScriptCheck(t *testing.T) {
	app := newApp(t)
	script := NewScript("guarded", `
function apply(ctx)
  ctx:command("secret"):check(function(argv)
    if argv.session.user_id ~= "alice" then return "denied" end
  end):action(function() return "the secret" end)
end
`)
	_, err := app.Context().Plugin(script, nil)
	require.NoError(t, err)

	ctx := context.Background()
	assert.Equal(t, "the secret", app.Dispatch(ctx, private("secret")))

	s := private("secret")
	s.UserID = "mallory"
	assert.Equal(t, "denied", app.Dispatch(ctx, s))
}

func TestScriptExecute(t *testing.T) {
	app := newApp(t)
	app.Context().Command("echo <text:text>", "").Action(func(_ context.Context, a *core.Argv) (string, error) {
		return a.Arg(0), nil
	})
	script := NewScript("twice", `
function apply(ctx)
  ctx:command("twice <text:text>"):action(function(argv)
    local once = argv.session:execute("echo " .. argv.args[1])
    return once .. " " .. once
  end)
end
`)
	_, err := app.Context().Plugin(script, nil)
	require.NoError(t, err)
	assert.Equal(t, "hey hey", app.Dispatch(context.Background(), private("twice hey")))
}

func TestScriptActionError(t *testing.T) {
	app := newApp(t)
	script := NewScript("broken", `
function apply(ctx)
  ctx:command("fail"):action(function() error("boom") end)
end
`)
	_, err := app.Context().Plugin(script, nil)
	require.NoError(t, err)
	assert.Equal(t, app.Text(core.MsgInternalError), app.Dispatch(context.Background(), private("fail")))
}

func TestScriptApplyErrors(t *testing.T) {
	tests := []struct {
		name   string
		source string
		is     error
	}{
		{"syntax", `function apply(`, nil},
		{"no apply", `x = 1`, ErrNoApply},
		{"apply raises", `function apply(ctx) ctx:command("half") error("boom") end`, nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			app := newApp(t)
			base := app.Registry().Len()
			_, err := app.Context().Plugin(NewScript(tc.name, tc.source), nil)
			require.Error(t, err)
			var serr *ScriptError
			assert.ErrorAs(t, err, &serr)
			if tc.is != nil {
				assert.ErrorIs(t, err, tc.is)
			}
			assert.Nil(t, app.Command("half"))
			assert.Equal(t, base, app.Registry().Len())
		})
	}
}

func TestDiscover(t *testing.T) {
	dir := t.TempDir()
	for name, body := range map[string]string{
		"b.lua":    "function apply() end",
		"a.lua":    "function apply() end",
		"note.txt": "not a script",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.lua"), 0o755))

	scripts, err := Discover([]string{dir, filepath.Join(dir, "missing")})
	require.NoError(t, err)
	require.Len(t, scripts, 2)
	assert.Equal(t, "a", scripts[0].Name())
	assert.Equal(t, "b", scripts[1].Name())
	assert.Equal(t, filepath.Join(dir, "a.lua"), scripts[0].Path())
}
