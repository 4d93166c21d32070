package config

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, []string{""}, cfg.Prefix)
	assert.Equal(t, 1, cfg.AutoAuthorize)
	assert.Equal(t, time.Minute, cfg.SuggestionTimeout)
	assert.Equal(t, "memory", cfg.Database.Driver)
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, t.TempDir(), "koishi.yaml", `
prefix: ["/", "!"]
nickname: [koishi]
autoAuthorize: 2
suggestionTimeout: 30s
timezone: UTC
log:
  level: debug
database:
  driver: sqlite
  path: data/koishi.db
messages:
  low-authority: "Nope."
plugins:
  - name: echo
  - name: greet
    config:
      greeting: hi
  - name: old
    disabled: true
`)
	cfg, err := LoadEnv(path, nil)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, []string{"/", "!"}, cfg.Prefix)
	assert.Equal(t, []string{"koishi"}, cfg.Nickname)
	assert.Equal(t, 2, cfg.AutoAuthorize)
	assert.Equal(t, 30*time.Second, cfg.SuggestionTimeout)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format, "unset keys keep defaults")
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "Nope.", cfg.Messages["low-authority"])
	require.Len(t, cfg.Plugins, 3)
	assert.Equal(t, "hi", cfg.Plugins[1].Config["greeting"])

	enabled := cfg.EnabledPlugins()
	require.Len(t, enabled, 2)
	assert.Equal(t, "greet", enabled[1].Name)

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, time.UTC, loc)
}

func TestLoadTOML(t *testing.T) {
	path := writeFile(t, t.TempDir(), "koishi.toml", `
prefix = ["#"]
minSimilarity = 0.5
suggestionTimeout = "2m"

[console]
addr = ":9090"

[adapters.websocket]
addr = ":8080"

[[plugins]]
name = "echo"
`)
	cfg, err := LoadEnv(path, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"#"}, cfg.Prefix)
	assert.Equal(t, 0.5, cfg.MinSimilarity)
	assert.Equal(t, 2*time.Minute, cfg.SuggestionTimeout)
	assert.Equal(t, ":9090", cfg.Console.Addr)
	assert.Equal(t, ":8080", cfg.Adapters.WebSocket.Addr)
	assert.Equal(t, "/bridge", cfg.Adapters.WebSocket.Path)
	require.Len(t, cfg.Plugins, 1)
}

func TestEnvOverrides(t *testing.T) {
	path := writeFile(t, t.TempDir(), "koishi.yaml", "log:\n  level: warn\n  format: json\n")
	cfg, err := LoadEnv(path, []string{
		"KOISHI_LOG_LEVEL=debug",
		"KOISHI_PREFIX=/, !",
		"KOISHI_AUTO_AUTHORIZE=3",
		"KOISHI_SUGGESTION_TIMEOUT=45s",
		"KOISHI_DATABASE_PATH=/tmp/k.db",
		"KOISHI_WEBSOCKET_ADDR=127.0.0.1:8080",
		"KOISHI_CLI_ENABLED=true",
		"OTHER_VAR=ignored",
	})
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, []string{"/", "!"}, cfg.Prefix)
	assert.Equal(t, 3, cfg.AutoAuthorize)
	assert.Equal(t, 45*time.Second, cfg.SuggestionTimeout)
	assert.Equal(t, "/tmp/k.db", cfg.Database.Path)
	assert.Equal(t, "127.0.0.1:8080", cfg.Adapters.WebSocket.Addr)
	assert.True(t, cfg.Adapters.CLI.Enabled)
}

func TestEnvToPath(t *testing.T) {
	tests := []struct {
		env  string
		want string
	}{
		{"KOISHI_LOG_LEVEL", "log.level"},
		{"KOISHI_DATABASE_PATH", "database.path"},
		{"KOISHI_CONSOLE_ADDR", "console.addr"},
		{"KOISHI_LOG_OUTPUT_FILE", "log.outputFile"},
		{"KOISHI_SINGLE", ""},
	}
	for _, tc := range tests {
		t.Run(tc.env, func(t *testing.T) {
			assert.Equal(t, tc.want, envToPath(tc.env))
		})
	}
}

func TestParseValue(t *testing.T) {
	assert.Equal(t, true, parseValue("yes"))
	assert.Equal(t, false, parseValue("off"))
	assert.Equal(t, int64(1), parseValue("1"))
	assert.Equal(t, 0.25, parseValue("0.25"))
	assert.Equal(t, "30s", parseValue("30s"))
	assert.Equal(t, "localhost:80", parseValue("localhost:80"))
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadEnv(filepath.Join(dir, "missing.yaml"), nil)
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = LoadEnv(writeFile(t, dir, "koishi.ini", "x=1"), nil)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	_, err = LoadEnv(writeFile(t, dir, "bad.yaml", "prefix: [unclosed"), nil)
	var perr *ParseError
	assert.ErrorAs(t, err, &perr)

	_, err = LoadEnv(writeFile(t, dir, "typed.yaml", "autoAuthorize: lots"), nil)
	assert.ErrorAs(t, err, &perr)
}

func TestLoadWithoutFile(t *testing.T) {
	cfg, err := LoadEnv("", []string{"KOISHI_NICKNAME=bot"})
	require.NoError(t, err)
	assert.Equal(t, []string{"bot"}, cfg.Nickname)
	assert.Equal(t, []string{""}, cfg.Prefix)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative authority", func(c *Config) { c.AutoAuthorize = -1 }},
		{"similarity range", func(c *Config) { c.MinSimilarity = 1.5 }},
		{"depth", func(c *Config) { c.MaxInterpolationDepth = 0 }},
		{"timezone", func(c *Config) { c.Timezone = "Mars/Olympus" }},
		{"log level", func(c *Config) { c.Log.Level = "loud" }},
		{"log format", func(c *Config) { c.Log.Format = "xml" }},
		{"driver", func(c *Config) { c.Database.Driver = "mongo" }},
		{"sqlite path", func(c *Config) { c.Database.Driver = "sqlite" }},
		{"stdin adapters", func(c *Config) { c.Adapters.CLI.Enabled, c.Adapters.MCP.Enabled = true, true }},
		{"plugin name", func(c *Config) { c.Plugins = []PluginConfig{{}} }},
		{"duplicate plugin", func(c *Config) { c.Plugins = []PluginConfig{{Name: "a"}, {Name: "a"}} }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			assert.ErrorIs(t, err, ErrValidationFailed)
			var verr *ValidationError
			assert.ErrorAs(t, err, &verr)
		})
	}
}

func TestWatcherReloads(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "koishi.yaml", "autoAuthorize: 1\n")

	var mu sync.Mutex
	var got []*Config
	w, err := Watch(path, func(cfg *Config) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, cfg)
	}, WithDebounce(20*time.Millisecond))
	require.NoError(t, err)
	defer w.Close()

	writeFile(t, dir, "koishi.yaml", "autoAuthorize: 4\n")
	writeFile(t, dir, "other.yaml", "autoAuthorize: 9\n")

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) > 0 && got[len(got)-1].AutoAuthorize == 4
	}, 5*time.Second, 10*time.Millisecond)
}

func TestWatcherSkipsInvalid(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "koishi.yaml", "autoAuthorize: 1\n")

	calls := make(chan *Config, 4)
	w, err := Watch(path, func(cfg *Config) { calls <- cfg }, WithDebounce(10*time.Millisecond))
	require.NoError(t, err)

	writeFile(t, dir, "koishi.yaml", "autoAuthorize: -5\n")
	select {
	case <-calls:
		t.Fatal("invalid config was delivered")
	case <-time.After(300 * time.Millisecond):
	}

	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
}
