package core

import (
	"fmt"
	"maps"
	"sync"
)

// Message template keys.
const (
	MsgLowAuthority          = "low-authority"
	MsgUsageExhausted        = "usage-exhausted"
	MsgTooFrequent           = "too-frequent"
	MsgInvalidArgument       = "invalid-argument"
	MsgInvalidOption         = "invalid-option"
	MsgUnknownOption         = "unknown-option"
	MsgInsufficientArguments = "insufficient-arguments"
	MsgRedundantArguments    = "redundant-arguments"
	MsgInternalError         = "internal-error"
	MsgInterpolationDepth    = "interpolation-too-deep"
	MsgSuggestion            = "suggestion"
	MsgSuggestionConfirm     = "suggestion-confirm"
	MsgHelpHeader            = "help-header"
	MsgHelpFooter            = "help-footer"
	MsgHelpNotFound          = "help-not-found"
	MsgHelpAliases           = "help-aliases"
	MsgHelpOptions           = "help-options"
	MsgHelpSubcommands       = "help-subcommands"
	MsgHelpAuthority         = "help-authority"
	MsgHelpUsage             = "help-usage"
	MsgHelpExamples          = "help-examples"
)

var defaultTemplates = map[string]string{
	MsgLowAuthority:          "Insufficient authority.",
	MsgUsageExhausted:        "Daily usage limit reached.",
	MsgTooFrequent:           "Please wait a moment before using this command again.",
	MsgInvalidArgument:       "Invalid argument %s: %s",
	MsgInvalidOption:         "Invalid value for option %s: %s",
	MsgUnknownOption:         "Unknown option: %s.",
	MsgInsufficientArguments: "Missing arguments.",
	MsgRedundantArguments:    "Too many arguments.",
	MsgInternalError:         "An internal error occurred.",
	MsgInterpolationDepth:    "Interpolation is nested too deeply.",
	MsgSuggestion:            "Did you mean %s?",
	MsgSuggestionConfirm:     " Send a period to apply the suggestion.",
	MsgHelpHeader:            "Available commands:",
	MsgHelpFooter:            `Type "help <command>" for details.`,
	MsgHelpNotFound:          "Command %q not found.",
	MsgHelpAliases:           "Aliases: %s",
	MsgHelpOptions:           "Options:",
	MsgHelpSubcommands:       "Subcommands:",
	MsgHelpAuthority:         "Minimum authority: %d",
	MsgHelpUsage:             "Used today: %d/%d",
	MsgHelpExamples:          "Examples:",
}

// Templates maps message keys to fmt formats. Unknown keys render as
// the key itself. It is safe for concurrent use.
type Templates struct {
	mu sync.RWMutex
	m  map[string]string
}

// NewTemplates returns the english defaults overlaid with overrides.
func NewTemplates(overrides map[string]string) *Templates {
	m := maps.Clone(defaultTemplates)
	maps.Copy(m, overrides)
	return &Templates{m: m}
}

// Set overrides one template.
func (t *Templates) Set(key, format string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.m[key] = format
}

// Text renders the template for key with args.
func (t *Templates) Text(key string, args ...any) string {
	t.mu.RLock()
	format, ok := t.m[key]
	t.mu.RUnlock()
	if !ok {
		return key
	}
	if len(args) == 0 {
		return format
	}
	return fmt.Sprintf(format, args...)
}
