package console

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dshills/koishi/internal/core"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type demo struct{}

func (demo) Name() string { return "demo" }

func (demo) Apply(ctx *core.Context, _ any) error {
	ctx.Command("ping", "Reply with pong").Alias("p").Action(func(context.Context, *core.Argv) (string, error) {
		return "pong", nil
	})
	return nil
}

func setup(t *testing.T) (*core.App, *httptest.Server) {
	t.Helper()
	app := core.New(core.WithLogger(zap.NewNop()))
	c := New(app)
	srv := httptest.NewServer(c.Handler())
	t.Cleanup(func() {
		_ = c.Stop(context.Background())
		srv.Close()
	})
	return app, srv
}

func get(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, body
}

func names(info core.StateInfo) []string {
	var out []string
	for _, c := range info.Children {
		out = append(out, c.Name)
	}
	return out
}

func TestRegistrySnapshot(t *testing.T) {
	app, srv := setup(t)
	app.Context().MustPlugin(demo{}, map[string]any{"greeting": "hi"})

	resp, body := get(t, srv.URL+"/registry")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var info core.StateInfo
	require.NoError(t, json.Unmarshal(body, &info))
	assert.Contains(t, names(info), "demo")
}

func TestCommands(t *testing.T) {
	app, srv := setup(t)
	app.Context().MustPlugin(demo{}, nil)

	_, body := get(t, srv.URL+"/commands")
	var cmds []commandInfo
	require.NoError(t, json.Unmarshal(body, &cmds))

	var ping *commandInfo
	for i := range cmds {
		if cmds[i].Name == "ping" {
			ping = &cmds[i]
		}
	}
	require.NotNil(t, ping)
	assert.Equal(t, "Reply with pong", ping.Description)
	assert.Equal(t, []string{"p"}, ping.Aliases)
	assert.Equal(t, 1, ping.Authority)
}

func TestMetrics(t *testing.T) {
	app, srv := setup(t)
	app.Context().MustPlugin(demo{}, nil)
	app.Dispatch(context.Background(), &core.Session{Platform: "test", SelfID: "b", UserID: "u", Content: "ping"})

	resp, body := get(t, srv.URL+"/metrics")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "koishi_dispatches_total 1")
}

func TestRegistryFeed(t *testing.T) {
	app, srv := setup(t)
	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/registry/ws", nil)
	require.NoError(t, err)
	defer ws.Close()

	read := func() core.StateInfo {
		t.Helper()
		require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
		var info core.StateInfo
		require.NoError(t, ws.ReadJSON(&info))
		return info
	}

	assert.NotContains(t, names(read()), "demo")

	app.Context().MustPlugin(demo{}, nil)
	require.NoError(t, app.Context().Dispose(demo{}))
	added := read()
	assert.Contains(t, names(added), "demo")
	removed := read()
	assert.NotContains(t, names(removed), "demo")
}

func TestStopClosesFeeds(t *testing.T) {
	app := core.New(core.WithLogger(zap.NewNop()))
	c := New(app)
	require.NoError(t, c.Start("127.0.0.1:0"))
	require.NotEmpty(t, c.Addr())
	assert.Error(t, c.Start("127.0.0.1:0"))

	ws, _, err := websocket.DefaultDialer.Dial("ws://"+c.Addr()+"/registry/ws", nil)
	require.NoError(t, err)
	defer ws.Close()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	var info core.StateInfo
	require.NoError(t, ws.ReadJSON(&info))

	require.NoError(t, c.Stop(context.Background()))
	_, _, err = ws.ReadMessage()
	assert.Error(t, err)
}
