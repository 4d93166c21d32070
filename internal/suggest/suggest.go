// Package suggest ranks known names by similarity to a mistyped one.
package suggest

import (
	"sort"
	"strings"
)

// Options configures Rank.
type Options struct {
	// MinSimilarity scales the accepted edit distance by name length.
	// A name is a candidate when distance <= len(name) * MinSimilarity.
	MinSimilarity float64

	// MinLength is the shortest name considered. Shorter names are too
	// easy to hit by accident.
	MinLength int

	// Limit caps the number of candidates. Zero means no limit.
	Limit int
}

// DefaultOptions returns the thresholds used by the command pipeline.
func DefaultOptions() Options {
	return Options{
		MinSimilarity: 0.4,
		MinLength:     3,
	}
}

// Candidate is a name close enough to the target.
type Candidate struct {
	Name     string
	Distance int

	// Index is the position of Name in the input, used as the tie-break.
	Index int
}

// Rank returns the names similar to target, nearest first. Names the
// target is a prefix of always qualify. Ties keep input order.
func Rank(target string, names []string, opts Options) []Candidate {
	target = strings.ToLower(strings.TrimSpace(target))
	if target == "" {
		return nil
	}
	var out []Candidate
	for i, name := range names {
		n := len([]rune(name))
		if n < opts.MinLength || name == target {
			continue
		}
		d := Distance(target, strings.ToLower(name))
		if float64(d) <= float64(n)*opts.MinSimilarity || strings.HasPrefix(strings.ToLower(name), target) {
			out = append(out, Candidate{Name: name, Distance: d, Index: i})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Distance < out[j].Distance
	})
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out
}

// Names returns the candidate names in order.
func Names(cands []Candidate) []string {
	out := make([]string, len(cands))
	for i, c := range cands {
		out[i] = c.Name
	}
	return out
}

// Distance returns the Levenshtein edit distance between a and b,
// counted in runes.
func Distance(a, b string) int {
	if a == b {
		return 0
	}
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	cur := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		cur[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(rb)]
}

// Disjunction joins quoted items as `"a"`, `"a" or "b"`, `"a", "b" or "c"`.
func Disjunction(items []string) string {
	quoted := make([]string, len(items))
	for i, it := range items {
		quoted[i] = `"` + it + `"`
	}
	switch len(quoted) {
	case 0:
		return ""
	case 1:
		return quoted[0]
	default:
		return strings.Join(quoted[:len(quoted)-1], ", ") + " or " + quoted[len(quoted)-1]
	}
}
