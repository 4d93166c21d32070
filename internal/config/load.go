package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "KOISHI_"

// envPaths names overrides whose path the generic SECTION_KEY rule
// cannot express.
var envPaths = map[string]string{
	"KOISHI_PREFIX":                    "prefix",
	"KOISHI_NICKNAME":                  "nickname",
	"KOISHI_AUTO_AUTHORIZE":            "autoAuthorize",
	"KOISHI_MIN_SIMILARITY":            "minSimilarity",
	"KOISHI_SUGGESTION_TIMEOUT":        "suggestionTimeout",
	"KOISHI_MAX_INTERPOLATION_DEPTH":   "maxInterpolationDepth",
	"KOISHI_TIMEZONE":                  "timezone",
	"KOISHI_DISABLE_HELP":              "disableHelp",
	"KOISHI_RATE_LIMIT_RATE":           "rateLimit.rate",
	"KOISHI_RATE_LIMIT_BURST":          "rateLimit.burst",
	"KOISHI_RATE_LIMIT_PER":            "rateLimit.per",
	"KOISHI_DATABASE_BREAKER_FAILURES": "database.breaker.failures",
	"KOISHI_DATABASE_BREAKER_TIMEOUT":  "database.breaker.timeout",
	"KOISHI_CLI_ENABLED":               "adapters.cli.enabled",
	"KOISHI_CLI_USER_ID":               "adapters.cli.userId",
	"KOISHI_WEBSOCKET_ADDR":            "adapters.websocket.addr",
	"KOISHI_WEBSOCKET_PATH":            "adapters.websocket.path",
	"KOISHI_WEBSOCKET_TOKEN":           "adapters.websocket.token",
	"KOISHI_MCP_ENABLED":               "adapters.mcp.enabled",
	"KOISHI_LUA_PATHS":                 "lua.paths",
}

// listPaths hold comma separated lists.
var listPaths = map[string]bool{
	"prefix":    true,
	"nickname":  true,
	"lua.paths": true,
}

// Load reads the file at path, which may be empty, and applies
// KOISHI_* environment overrides on top of the defaults.
func Load(path string) (*Config, error) {
	return LoadEnv(path, os.Environ())
}

// LoadEnv is Load with an explicit environment in KEY=VALUE form.
func LoadEnv(path string, environ []string) (*Config, error) {
	data := make(map[string]any)
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		data, err = decode(path, raw)
		if err != nil {
			return nil, err
		}
	}
	data = merge(data, envOverrides(environ))

	cfg := Default()
	if len(data) == 0 {
		return cfg, nil
	}
	// The merged tree is re-encoded once so a single set of struct
	// tags drives decoding for every source format.
	buf, err := yaml.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encoding merged config: %w", err)
	}
	if err := yaml.Unmarshal(buf, cfg); err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	return cfg, nil
}

// decode parses raw by the file extension.
func decode(path string, raw []byte) (map[string]any, error) {
	out := make(map[string]any)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(raw, &out); err != nil {
			return nil, &ParseError{Path: path, Err: err}
		}
	case ".toml":
		dec := toml.NewDecoder(bytes.NewReader(raw))
		if err := dec.Decode(&out); err != nil {
			return nil, &ParseError{Path: path, Err: err}
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
	return out, nil
}

// envOverrides builds a config tree from prefixed variables.
func envOverrides(environ []string) map[string]any {
	out := make(map[string]any)
	for _, kv := range environ {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(name, EnvPrefix) {
			continue
		}
		path, mapped := envPaths[name]
		if !mapped {
			path = envToPath(name)
		}
		if path == "" {
			continue
		}
		if listPaths[path] {
			setPath(out, path, splitList(value))
			continue
		}
		setPath(out, path, parseValue(value))
	}
	return out
}

// envToPath converts KOISHI_LOG_LEVEL to log.level and
// KOISHI_DATABASE_PATH to database.path. Words after the section are
// joined in camel case.
func envToPath(env string) string {
	parts := strings.Split(strings.ToLower(strings.TrimPrefix(env, EnvPrefix)), "_")
	if len(parts) < 2 || parts[0] == "" {
		return ""
	}
	key := parts[1]
	for _, p := range parts[2:] {
		if p != "" {
			key += strings.ToUpper(p[:1]) + p[1:]
		}
	}
	return parts[0] + "." + key
}

// parseValue types an environment value. Durations stay strings and are
// parsed by the decoder.
func parseValue(s string) any {
	switch strings.ToLower(s) {
	case "true", "yes", "on":
		return true
	case "false", "no", "off":
		return false
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if strings.Contains(s, ".") {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	}
	return s
}

func splitList(s string) []any {
	parts := strings.Split(s, ",")
	out := make([]any, 0, len(parts))
	for _, p := range parts {
		out = append(out, strings.TrimSpace(p))
	}
	return out
}

// setPath stores value under a dotted path, creating sections.
func setPath(data map[string]any, path string, value any) {
	parts := strings.Split(path, ".")
	cur := data
	for _, p := range parts[:len(parts)-1] {
		next, ok := cur[p].(map[string]any)
		if !ok {
			next = make(map[string]any)
			cur[p] = next
		}
		cur = next
	}
	cur[parts[len(parts)-1]] = value
}

// merge overlays src onto dst. Sections merge recursively; other
// values are replaced.
func merge(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = make(map[string]any)
	}
	for k, sv := range src {
		sm, srcIsMap := sv.(map[string]any)
		dm, dstIsMap := dst[k].(map[string]any)
		if srcIsMap && dstIsMap {
			dst[k] = merge(dm, sm)
			continue
		}
		dst[k] = sv
	}
	return dst
}
