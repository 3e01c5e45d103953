// Package matcher scores column names against candidate patterns.
//
// Names are compared case-insensitively after normalization (diacritics
// stripped, separators and camelCase boundaries turned into spaces). A
// pattern matches the best-scoring column whose similarity reaches the
// threshold; ties go to the earliest column so results are deterministic.
package matcher

import (
	"math"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// DefaultThreshold is the minimum similarity for a match.
const DefaultThreshold = 0.6

// Match is the best column for one pattern.
type Match struct {
	Pattern string  `json:"pattern"`
	Column  string  `json:"column,omitempty"`
	Index   int     `json:"index"`
	Score   float64 `json:"score"`
	Found   bool    `json:"found"`
}

// Matcher holds the similarity threshold. The zero value uses DefaultThreshold.
type Matcher struct {
	Threshold float64
}

var std = Matcher{}

// Best returns the best column for pattern using the default threshold.
func Best(pattern string, columns []string) Match { return std.Best(pattern, columns) }

// MatchAll returns one Match per pattern using the default threshold.
func MatchAll(patterns, columns []string) []Match { return std.MatchAll(patterns, columns) }

// Find returns the found matches of patterns, in pattern order, without
// repeating a column.
func Find(patterns, columns []string) []Match { return std.Find(patterns, columns) }

func (m Matcher) threshold() float64 {
	if m.Threshold <= 0 {
		return DefaultThreshold
	}
	return m.Threshold
}

func (m Matcher) Best(pattern string, columns []string) Match {
	best := Match{Pattern: pattern, Index: -1}
	p := newKey(pattern)
	for i, col := range columns {
		s := p.similarity(newKey(col))
		if s > best.Score {
			best.Score = s
			best.Column = col
			best.Index = i
		}
	}
	if best.Index >= 0 && best.Score >= m.threshold() {
		best.Found = true
		return best
	}
	return Match{Pattern: pattern, Index: -1, Score: best.Score}
}

func (m Matcher) MatchAll(patterns, columns []string) []Match {
	out := make([]Match, len(patterns))
	for i, p := range patterns {
		out[i] = m.Best(p, columns)
	}
	return out
}

func (m Matcher) Find(patterns, columns []string) []Match {
	var out []Match
	seen := make(map[int]struct{})
	for _, p := range patterns {
		b := m.Best(p, columns)
		if !b.Found {
			continue
		}
		if _, dup := seen[b.Index]; dup {
			continue
		}
		seen[b.Index] = struct{}{}
		out = append(out, b)
	}
	return out
}

// Similarity scores two names in [0,1].
func Similarity(a, b string) float64 {
	return newKey(a).similarity(newKey(b))
}

// Normalize lowercases s, strips diacritics, splits camelCase and turns
// '_', '-', '.', '/' into single spaces.
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	var prev rune
	space := true
	for _, r := range norm.NFD.String(strings.TrimSpace(s)) {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		switch {
		case r == '_' || r == '-' || r == '.' || r == '/' || unicode.IsSpace(r):
			if !space {
				b.WriteByte(' ')
				space = true
			}
		default:
			if unicode.IsUpper(r) && unicode.IsLower(prev) && !space {
				b.WriteByte(' ')
			}
			b.WriteRune(unicode.ToLower(r))
			space = false
		}
		prev = r
	}
	return strings.TrimSpace(b.String())
}

// generic tokens carry no meaning on their own ("Customer Name" vs "Customer").
var generic = map[string]struct{}{
	"name": {}, "number": {}, "no": {}, "num": {}, "the": {}, "of": {},
}

type key struct {
	norm    string
	compact string
	tokens  map[string]struct{}
}

func newKey(s string) key {
	n := Normalize(s)
	k := key{norm: n, compact: strings.ReplaceAll(n, " ", ""), tokens: map[string]struct{}{}}
	for _, t := range strings.Fields(n) {
		if _, g := generic[t]; g {
			continue
		}
		k.tokens[t] = struct{}{}
	}
	return k
}

func (a key) similarity(b key) float64 {
	switch {
	case a.norm == "" || b.norm == "":
		return 0
	case a.norm == b.norm:
		return 1
	case a.compact == b.compact:
		return 0.95
	case len(a.tokens) > 0 && sameSet(a.tokens, b.tokens):
		return 0.9
	}
	tok := 0.9 * jaccard(a.tokens, b.tokens)
	if tok == 0 && !closeShort(a.compact, b.compact) {
		return 0
	}
	return math.Max(levenshteinSimilarity(a.compact, b.compact), tok)
}

// shortKey is the length up to which edit distance alone is not trusted:
// "name" and "game" are one edit apart.
const shortKey = 5

// closeShort reports whether edit distance may score a and b when they share
// no token. Short names must contain one another and differ by at most a
// quarter of the longer length ("mail" and "email", not "date" and "update").
func closeShort(a, b string) bool {
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	if min(la, lb) > shortKey {
		return true
	}
	if !strings.Contains(a, b) && !strings.Contains(b, a) {
		return false
	}
	return 4*min(la, lb) >= 3*max(la, lb)
}

func sameSet(a, b map[string]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for t := range a {
		if _, ok := b[t]; !ok {
			return false
		}
	}
	return true
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for t := range a {
		if _, ok := b[t]; ok {
			inter++
		}
	}
	return float64(inter) / float64(len(a)+len(b)-inter)
}

func levenshteinSimilarity(a, b string) float64 {
	if a == b {
		return 1
	}
	ar, br := []rune(a), []rune(b)
	denom := max(len(ar), len(br))
	if denom == 0 {
		return 1
	}
	return math.Max(0, 1-float64(levenshtein(ar, br))/float64(denom))
}

func levenshtein(a, b []rune) int {
	if len(a) < len(b) {
		a, b = b, a
	}
	if len(b) == 0 {
		return len(a)
	}
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i, ca := range a {
		curr[0] = i + 1
		for j, cb := range b {
			sub := prev[j]
			if ca != cb {
				sub++
			}
			curr[j+1] = min(curr[j]+1, prev[j+1]+1, sub)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}
