// Package selector provides immutable session filters.
//
// A Selector is built by narrowing: every call returns a new Selector that
// is the logical AND of the receiver and the new constraint. Repeated calls
// on the same dimension therefore intersect, and disjoint narrowing yields a
// selector that never matches.
package selector

import (
	"slices"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Dimension names one identity field of a session.
type Dimension int

// Session identity dimensions.
const (
	DimPlatform Dimension = iota
	DimSelf
	DimUser
	DimGuild
	DimChannel
)

// String returns the dimension name.
func (d Dimension) String() string {
	switch d {
	case DimPlatform:
		return "platform"
	case DimSelf:
		return "self"
	case DimUser:
		return "user"
	case DimGuild:
		return "guild"
	case DimChannel:
		return "channel"
	default:
		return "unknown"
	}
}

// Target is the identity a selector is evaluated against.
type Target struct {
	Platform  string
	SelfID    string
	UserID    string
	GuildID   string
	ChannelID string
}

// Private reports whether the target has no guild context.
func (t Target) Private() bool {
	return t.GuildID == ""
}

func (t Target) field(d Dimension) string {
	switch d {
	case DimPlatform:
		return t.Platform
	case DimSelf:
		return t.SelfID
	case DimUser:
		return t.UserID
	case DimGuild:
		return t.GuildID
	case DimChannel:
		return t.ChannelID
	default:
		return ""
	}
}

type kind uint8

const (
	kindAll kind = iota
	kindAny
	kindIn
	kindNotIn
	kindPrivate
	kindNotPrivate
)

// Selector is an immutable predicate over a Target.
// The zero value matches every target.
type Selector struct {
	kind  kind
	dim   Dimension
	ids   []string
	parts []Selector
}

// All returns a selector that matches every target.
func All() Selector {
	return Selector{}
}

// Normalize canonicalizes an identifier for comparison.
func Normalize(id string) string {
	return norm.NFC.String(strings.TrimSpace(id))
}

func normalizeAll(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, Normalize(id))
	}
	return out
}

// and returns the conjunction of s and other, flattening nested conjunctions.
func (s Selector) and(other Selector) Selector {
	parts := make([]Selector, 0, 2)
	for _, p := range []Selector{s, other} {
		if p.kind == kindAll {
			parts = append(parts, p.parts...)
			continue
		}
		parts = append(parts, p)
	}
	return Selector{kind: kindAll, parts: parts}
}

func (s Selector) narrow(d Dimension, ids []string, exclude bool) Selector {
	if len(ids) == 0 {
		return s
	}
	k := kindIn
	if exclude {
		k = kindNotIn
	}
	return s.and(Selector{kind: k, dim: d, ids: normalizeAll(ids)})
}

// Platform narrows to sessions whose platform is one of ids.
func (s Selector) Platform(ids ...string) Selector { return s.narrow(DimPlatform, ids, false) }

// Self narrows to sessions received by one of the given bot ids.
func (s Selector) Self(ids ...string) Selector { return s.narrow(DimSelf, ids, false) }

// User narrows to sessions sent by one of ids.
func (s Selector) User(ids ...string) Selector { return s.narrow(DimUser, ids, false) }

// Guild narrows to sessions in one of the given guilds.
func (s Selector) Guild(ids ...string) Selector { return s.narrow(DimGuild, ids, false) }

// Channel narrows to sessions in one of the given channels.
func (s Selector) Channel(ids ...string) Selector { return s.narrow(DimChannel, ids, false) }

// Private narrows to sessions without a guild, optionally from one of userIDs.
func (s Selector) Private(userIDs ...string) Selector {
	return s.and(Selector{kind: kindPrivate}).User(userIDs...)
}

// ExceptPlatform excludes sessions on the given platforms.
func (s Selector) ExceptPlatform(ids ...string) Selector { return s.narrow(DimPlatform, ids, true) }

// ExceptSelf excludes sessions received by the given bot ids.
func (s Selector) ExceptSelf(ids ...string) Selector { return s.narrow(DimSelf, ids, true) }

// ExceptUser excludes sessions sent by the given users.
func (s Selector) ExceptUser(ids ...string) Selector { return s.narrow(DimUser, ids, true) }

// ExceptGuild excludes sessions in the given guilds.
func (s Selector) ExceptGuild(ids ...string) Selector { return s.narrow(DimGuild, ids, true) }

// ExceptChannel excludes sessions in the given channels.
func (s Selector) ExceptChannel(ids ...string) Selector { return s.narrow(DimChannel, ids, true) }

// ExceptPrivate excludes sessions without a guild.
func (s Selector) ExceptPrivate() Selector {
	return s.and(Selector{kind: kindNotPrivate})
}

// Intersect returns a selector matching targets matched by both s and other.
func (s Selector) Intersect(other Selector) Selector {
	return s.and(other)
}

// Union returns a selector matching targets matched by s or other.
func (s Selector) Union(other Selector) Selector {
	return Selector{kind: kindAny, parts: []Selector{s, other}}
}

// Match reports whether t satisfies every constraint of s.
func (s Selector) Match(t Target) bool {
	switch s.kind {
	case kindAll:
		for _, p := range s.parts {
			if !p.Match(t) {
				return false
			}
		}
		return true
	case kindAny:
		for _, p := range s.parts {
			if p.Match(t) {
				return true
			}
		}
		return false
	case kindIn:
		return slices.Contains(s.ids, Normalize(t.field(s.dim)))
	case kindNotIn:
		return !slices.Contains(s.ids, Normalize(t.field(s.dim)))
	case kindPrivate:
		return t.Private()
	case kindNotPrivate:
		return !t.Private()
	default:
		return false
	}
}

// IsAll reports whether s has no constraints at all.
func (s Selector) IsAll() bool {
	return s.kind == kindAll && len(s.parts) == 0
}

// String renders a readable description of the selector.
func (s Selector) String() string {
	switch s.kind {
	case kindAll:
		if len(s.parts) == 0 {
			return "*"
		}
		return join(s.parts, " && ")
	case kindAny:
		return "(" + join(s.parts, " || ") + ")"
	case kindIn:
		return s.dim.String() + " in [" + strings.Join(s.ids, ",") + "]"
	case kindNotIn:
		return s.dim.String() + " not in [" + strings.Join(s.ids, ",") + "]"
	case kindPrivate:
		return "private"
	case kindNotPrivate:
		return "!private"
	default:
		return "?"
	}
}

func join(parts []Selector, sep string) string {
	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = p.String()
	}
	return strings.Join(out, sep)
}
