package searcher

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"

	"github.com/dshills/codemorph/pkg/types"
)

// Weights combine the score components:
// score = Vector*max(similarity, 0) + Name*text + Graph*proximity
type Weights struct {
	Vector float64 `json:"vector" yaml:"vector" toml:"vector"`
	Name   float64 `json:"name" yaml:"name" toml:"name"`
	Graph  float64 `json:"graph" yaml:"graph" toml:"graph"`
}

// DefaultWeights keep Name >= Vector + Graph, so a symbol whose name occurs
// in the query ranks at or above any symbol matched by vector alone.
var DefaultWeights = Weights{Vector: 1.0, Name: 1.2, Graph: 0.2}

// IsZero reports whether no weight is set
func (w Weights) IsZero() bool {
	return w.Vector == 0 && w.Name == 0 && w.Graph == 0
}

func (w Weights) combine(similarity, text, proximity float64) float64 {
	return w.Vector*clamp(similarity) + w.Name*text + w.Graph*proximity
}

// clamp limits a tree similarity to [0, 1]
func clamp(x float64) float64 {
	switch {
	case x < 0:
		return 0
	case x > 1:
		return 1
	}
	return x
}

// minNameMatch is the shortest name that counts as occurring in a query
const minNameMatch = 3

var queryWord = regexp.MustCompile(`[\p{L}\p{N}_]+`)

// stopWords never count as query terms
var stopWords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"by": true, "for": true, "from": true, "in": true, "is": true, "of": true,
	"on": true, "or": true, "that": true, "the": true, "this": true, "to": true,
	"used": true, "with": true, "which": true, "where": true, "code": true,
}

// textMatcher scores symbols by how well their name and path match the
// query. Matching is case-folded.
type textMatcher struct {
	fold   cases.Caser
	phrase string   // folded positive query text
	terms  []string // distinct folded query terms
}

func newTextMatcher(texts []string) *textMatcher {
	m := &textMatcher{fold: cases.Fold()}
	m.phrase = m.fold.String(strings.Join(texts, " "))

	seen := make(map[string]bool)
	for _, word := range queryWord.FindAllString(m.phrase, -1) {
		for _, term := range splitTerm(word) {
			if len(term) < 2 || stopWords[term] || seen[term] {
				continue
			}
			seen[term] = true
			m.terms = append(m.terms, term)
		}
	}
	return m
}

// splitTerm returns word and, for snake_case words, its parts
func splitTerm(word string) []string {
	parts := strings.FieldsFunc(word, func(r rune) bool { return r == '_' })
	if len(parts) <= 1 {
		return []string{strings.Trim(word, "_")}
	}
	return append([]string{word}, parts...)
}

// score returns 1 when the name occurs in the query or the query in the
// name, 0.5 plus half the fraction of terms found in the name or qualified
// name, a quarter of the fraction found only in the path, and 0 otherwise.
func (m *textMatcher) score(sym *types.Symbol) float64 {
	if m.phrase == "" {
		return 0
	}
	name := m.fold.String(sym.Name)
	if utf8.RuneCountInString(name) >= minNameMatch && strings.Contains(m.phrase, name) {
		return 1
	}
	if q := strings.TrimSpace(m.phrase); utf8.RuneCountInString(q) >= minNameMatch && strings.Contains(name, q) {
		return 1
	}
	if len(m.terms) == 0 {
		return 0
	}

	qualified := m.fold.String(sym.QualifiedName)
	nameHits := 0
	for _, term := range m.terms {
		if term == name {
			return 1
		}
		if strings.Contains(name, term) || strings.Contains(qualified, term) {
			nameHits++
		}
	}
	if nameHits > 0 {
		return 0.5 + 0.5*float64(nameHits)/float64(len(m.terms))
	}

	path := m.fold.String(sym.Path)
	pathHits := 0
	for _, term := range m.terms {
		if strings.Contains(path, term) {
			pathHits++
		}
	}
	return 0.25 * float64(pathHits) / float64(len(m.terms))
}
