// Package artistmatch normalizes artist names and ranks existing library
// artists by similarity to a typed name, so spelling variants of the same
// artist (spacing, Arabic diacritics, letter variants, extra honorifics)
// converge on one directory.
package artistmatch

import (
	"cmp"
	"math"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/pmezard/go-difflib/difflib"
	"golang.org/x/text/unicode/norm"
)

// DefaultLimit is the number of suggestions returned when none is requested.
const DefaultLimit = 10

const tatweel = 'ـ'

var letterVariants = strings.NewReplacer(
	"أ", "ا",
	"إ", "ا",
	"آ", "ا",
	"ٱ", "ا",
	"ى", "ي",
	"ؤ", "و",
	"ئ", "ي",
	"ة", "ه",
)

func isArabicMark(r rune) bool {
	return (r >= 0x0610 && r <= 0x061A) ||
		(r >= 0x064B && r <= 0x065F) ||
		r == 0x0670 ||
		(r >= 0x06D6 && r <= 0x06ED)
}

// Normalize folds an artist name to its matching form: NFKC, lowercase,
// without Arabic diacritics or tatweel, with Arabic letter variants unified,
// punctuation and symbols turned into spaces and whitespace collapsed.
func Normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(norm.NFKC.String(s)))
	s = strings.Map(func(r rune) rune {
		if r == tatweel || isArabicMark(r) {
			return -1
		}
		return r
	}, s)
	s = letterVariants.Replace(s)
	s = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsNumber(r) {
			return r
		}
		return ' '
	}, s)
	return strings.Join(strings.Fields(s), " ")
}

// Key holds the forms of a name used for scoring.
type Key struct {
	Original   string
	Normalized string
	Tokens     []string
	Unspaced   string
}

// NewKey builds the matching key for name.
func NewKey(name string) Key {
	original := strings.TrimSpace(name)
	normalized := Normalize(original)
	tokens := strings.Fields(normalized)
	return Key{
		Original:   original,
		Normalized: normalized,
		Tokens:     tokens,
		Unspaced:   strings.Join(tokens, ""),
	}
}

// sequenceScore is the 0-100 similarity ratio of two strings compared rune by rune.
func sequenceScore(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 100
	}
	m := difflib.NewMatcher(runes(a), runes(b))
	return m.Ratio() * 100
}

func runes(s string) []string {
	out := make([]string, 0, utf8.RuneCountInString(s))
	for _, r := range s {
		out = append(out, string(r))
	}
	return out
}

type tokenStats struct {
	jaccard           float64
	queryCoverage     float64
	candidateCoverage float64
}

func compareTokens(query, candidate []string) tokenStats {
	if len(query) == 0 || len(candidate) == 0 {
		return tokenStats{}
	}
	qs := make(map[string]bool, len(query))
	for _, t := range query {
		qs[t] = true
	}
	cs := make(map[string]bool, len(candidate))
	for _, t := range candidate {
		cs[t] = true
	}

	var inter int
	for t := range qs {
		if cs[t] {
			inter++
		}
	}
	if inter == 0 {
		return tokenStats{}
	}
	union := len(qs) + len(cs) - inter
	return tokenStats{
		jaccard:           float64(inter) / float64(union),
		queryCoverage:     float64(inter) / float64(len(qs)),
		candidateCoverage: float64(inter) / float64(len(cs)),
	}
}

// Score returns a 0-100 similarity between two keys, rounded to two decimals.
// A name contained in the other (at least three letters once spaces are
// removed) scores at least 92; names equal once spaces are removed score at
// least 97.
func Score(query, candidate Key) float64 {
	if query.Normalized == "" || candidate.Normalized == "" {
		return 0
	}
	if query.Normalized == candidate.Normalized {
		return 100
	}

	spaced := sequenceScore(query.Normalized, candidate.Normalized)
	unspaced := sequenceScore(query.Unspaced, candidate.Unspaced)

	stats := compareTokens(query.Tokens, candidate.Tokens)
	jaccard := stats.jaccard * 100
	coverage := max(stats.queryCoverage, stats.candidateCoverage) * 100

	score := max(
		0.62*unspaced+0.38*spaced,
		0.55*coverage+0.45*jaccard,
		0.70*unspaced+0.30*coverage,
	)

	q, c := query.Unspaced, candidate.Unspaced
	if q != "" && c != "" && (strings.Contains(c, q) || strings.Contains(q, c)) &&
		min(utf8.RuneCountInString(q), utf8.RuneCountInString(c)) >= 3 {
		score = max(score, 92)
	}
	if q == c {
		score = max(score, 97)
	}

	score = min(100, max(0, score))
	return math.Round(score*100) / 100
}

// Candidate is an existing artist offered for matching.
type Candidate struct {
	Name       string
	TrackCount int
}

// Match is a scored candidate.
type Match struct {
	Name           string  `json:"name"`
	Score          float64 `json:"score"`
	TrackCount     int     `json:"track_count"`
	NormalizedName string  `json:"normalized_name"`
}

// Rank scores every candidate against query and returns the best limit
// matches. Ties go to the artist with more tracks, then the shorter name.
// Duplicate and blank candidates are ignored; a blank query matches nothing.
func Rank(query string, candidates []Candidate, limit int) []Match {
	qk := NewKey(query)
	if qk.Original == "" {
		return []Match{}
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	seen := make(map[string]bool, len(candidates))
	matches := make([]Match, 0, len(candidates))
	for _, c := range candidates {
		name := strings.TrimSpace(c.Name)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true

		ck := NewKey(name)
		if ck.Normalized == "" {
			continue
		}
		matches = append(matches, Match{
			Name:           name,
			Score:          Score(qk, ck),
			TrackCount:     c.TrackCount,
			NormalizedName: ck.Normalized,
		})
	}

	slices.SortFunc(matches, func(a, b Match) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		if c := cmp.Compare(b.TrackCount, a.TrackCount); c != 0 {
			return c
		}
		if c := cmp.Compare(utf8.RuneCountInString(a.Name), utf8.RuneCountInString(b.Name)); c != 0 {
			return c
		}
		return cmp.Compare(b.Name, a.Name)
	})

	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches
}
