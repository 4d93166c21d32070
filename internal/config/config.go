package config

import (
	"slices"
	"time"

	"go.uber.org/multierr"
)

// Config is the complete bot configuration.
type Config struct {
	Prefix                []string          `yaml:"prefix" toml:"prefix"`
	Nickname              []string          `yaml:"nickname" toml:"nickname"`
	AutoAuthorize         int               `yaml:"autoAuthorize" toml:"autoAuthorize"`
	MinSimilarity         float64           `yaml:"minSimilarity" toml:"minSimilarity"`
	SuggestionTimeout     time.Duration     `yaml:"suggestionTimeout" toml:"suggestionTimeout"`
	MaxInterpolationDepth int               `yaml:"maxInterpolationDepth" toml:"maxInterpolationDepth"`
	Timezone              string            `yaml:"timezone" toml:"timezone"`
	DisableHelp           bool              `yaml:"disableHelp" toml:"disableHelp"`
	Log                   LogConfig         `yaml:"log" toml:"log"`
	Database              DatabaseConfig    `yaml:"database" toml:"database"`
	Console               ConsoleConfig     `yaml:"console" toml:"console"`
	Adapters              AdaptersConfig    `yaml:"adapters" toml:"adapters"`
	RateLimit             RateLimitConfig   `yaml:"rateLimit" toml:"rateLimit"`
	Messages              map[string]string `yaml:"messages" toml:"messages"`
	Plugins               []PluginConfig    `yaml:"plugins" toml:"plugins"`
	Lua                   LuaConfig         `yaml:"lua" toml:"lua"`
}

// LogConfig selects the log level, encoding and destination.
type LogConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
	Output string `yaml:"output" toml:"output"`
}

// DatabaseConfig selects the storage driver.
type DatabaseConfig struct {
	// Driver is "memory", "sqlite" or "none".
	Driver  string        `yaml:"driver" toml:"driver"`
	Path    string        `yaml:"path" toml:"path"`
	Breaker BreakerConfig `yaml:"breaker" toml:"breaker"`
}

// BreakerConfig guards the database with a circuit breaker. Zero
// Failures disables it.
type BreakerConfig struct {
	Failures uint32        `yaml:"failures" toml:"failures"`
	Timeout  time.Duration `yaml:"timeout" toml:"timeout"`
}

// ConsoleConfig enables the HTTP console when Addr is set.
type ConsoleConfig struct {
	Addr string `yaml:"addr" toml:"addr"`
}

// AdaptersConfig enables platform adapters.
type AdaptersConfig struct {
	CLI       CLIConfig       `yaml:"cli" toml:"cli"`
	WebSocket WebSocketConfig `yaml:"websocket" toml:"websocket"`
	MCP       MCPConfig       `yaml:"mcp" toml:"mcp"`
}

// CLIConfig configures the terminal adapter.
type CLIConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	UserID  string `yaml:"userId" toml:"userId"`
}

// WebSocketConfig configures the bridge server. Empty Addr disables it.
type WebSocketConfig struct {
	Addr  string `yaml:"addr" toml:"addr"`
	Path  string `yaml:"path" toml:"path"`
	Token string `yaml:"token" toml:"token"`
}

// MCPConfig configures the MCP stdio server.
type MCPConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	UserID  string `yaml:"userId" toml:"userId"`
}

// RateLimitConfig is the per-user flood guard. Zero Rate disables it.
type RateLimitConfig struct {
	Rate  int64         `yaml:"rate" toml:"rate"`
	Burst int64         `yaml:"burst" toml:"burst"`
	Per   time.Duration `yaml:"per" toml:"per"`
}

// PluginConfig names a plugin to apply at the root context.
type PluginConfig struct {
	Name     string         `yaml:"name" toml:"name"`
	Config   map[string]any `yaml:"config" toml:"config"`
	Disabled bool           `yaml:"disabled" toml:"disabled"`
}

// LuaConfig lists directories searched for script plugins.
type LuaConfig struct {
	Paths []string `yaml:"paths" toml:"paths"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Prefix:                []string{""},
		AutoAuthorize:         1,
		MinSimilarity:         0.4,
		SuggestionTimeout:     time.Minute,
		MaxInterpolationDepth: 16,
		Log: LogConfig{
			Level:  "info",
			Format: "console",
			Output: "stderr",
		},
		Database: DatabaseConfig{Driver: "memory"},
		Adapters: AdaptersConfig{
			CLI:       CLIConfig{UserID: "cli"},
			WebSocket: WebSocketConfig{Path: "/bridge"},
			MCP:       MCPConfig{UserID: "mcp"},
		},
		RateLimit: RateLimitConfig{Per: time.Second},
	}
}

// Location resolves Timezone, defaulting to the local zone.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}

// EnabledPlugins returns the plugin entries not disabled, in order.
func (c *Config) EnabledPlugins() []PluginConfig {
	return slices.DeleteFunc(slices.Clone(c.Plugins), func(p PluginConfig) bool {
		return p.Disabled
	})
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var err error
	invalid := func(path string, value any, msg string) {
		err = multierr.Append(err, &ValidationError{Path: path, Value: value, Message: msg})
	}

	if c.AutoAuthorize < 0 {
		invalid("autoAuthorize", c.AutoAuthorize, "must not be negative")
	}
	if c.MinSimilarity < 0 || c.MinSimilarity > 1 {
		invalid("minSimilarity", c.MinSimilarity, "must be between 0 and 1")
	}
	if c.MaxInterpolationDepth < 1 {
		invalid("maxInterpolationDepth", c.MaxInterpolationDepth, "must be at least 1")
	}
	if c.SuggestionTimeout < 0 {
		invalid("suggestionTimeout", c.SuggestionTimeout, "must not be negative")
	}
	if _, lerr := c.Location(); lerr != nil {
		invalid("timezone", c.Timezone, lerr.Error())
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		invalid("log.level", c.Log.Level, "must be debug, info, warn or error")
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		invalid("log.format", c.Log.Format, "must be console or json")
	}
	switch c.Database.Driver {
	case "memory", "none":
	case "sqlite":
		if c.Database.Path == "" {
			invalid("database.path", c.Database.Path, "required for the sqlite driver")
		}
	default:
		invalid("database.driver", c.Database.Driver, "must be memory, sqlite or none")
	}
	if c.Adapters.CLI.Enabled && c.Adapters.MCP.Enabled {
		invalid("adapters", "cli,mcp", "cli and mcp cannot share standard input")
	}
	if c.RateLimit.Rate < 0 || c.RateLimit.Burst < 0 {
		invalid("rateLimit", c.RateLimit.Rate, "must not be negative")
	}

	seen := make(map[string]bool)
	for i, p := range c.Plugins {
		if p.Name == "" {
			invalid("plugins", i, "entry has no name")
			continue
		}
		if seen[p.Name] {
			invalid("plugins", p.Name, "listed twice")
		}
		seen[p.Name] = true
	}
	return err
}
