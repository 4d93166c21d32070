// Package logging builds the zap loggers used across the bot.
package logging

import (
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config configures the root logger.
type Config struct {
	// Level is debug, info, warn or error. Unknown values mean info.
	Level string `yaml:"level" toml:"level"`

	// Format is console or json.
	Format string `yaml:"format" toml:"format"`

	// Output is where logs are written. Defaults to os.Stderr.
	Output io.Writer `yaml:"-" toml:"-"`
}

// ParseLevel parses a level name, defaulting to info.
func ParseLevel(s string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// New builds a logger from cfg. The returned AtomicLevel changes the
// level of the logger and all of its children at runtime.
func New(cfg Config) (*zap.Logger, zap.AtomicLevel) {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	level := zap.NewAtomicLevelAt(ParseLevel(cfg.Level))

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "time"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var enc zapcore.Encoder
	if strings.EqualFold(cfg.Format, "json") {
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	}

	core := zapcore.NewCore(enc, zapcore.AddSync(out), level)
	return zap.New(core), level
}

// Component returns a child logger tagged with a component name.
func Component(l *zap.Logger, name string) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l.Named(name)
}
