// Package textnorm cleans OCR text and applies conservative, vocabulary-driven
// spelling correction.
package textnorm

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/pmezard/go-difflib/difflib"
	"golang.org/x/text/unicode/norm"
)

// maxLengthDelta bounds how far a replacement's length may drift from the token.
const maxLengthDelta = 3

// DomainTerms are always part of the correction dictionary.
var DomainTerms = []string{
	"decision", "tree", "pruning", "prepruning", "postpruning",
	"overfitting", "outliers", "simplify", "reduce",
	"training", "data", "model", "classification",
	"early", "stopping", "nodes", "branches", "algorithm",
	"learning", "supervised", "unsupervised", "regression",
}

// Clean lowercases text, folds accents, keeps only ASCII letters, digits,
// whitespace, hyphens, commas and periods, and collapses whitespace.
// Clean is idempotent.
func Clean(text string) string {
	if text == "" {
		return ""
	}
	folded := norm.NFKD.String(text)

	var sb strings.Builder
	sb.Grow(len(folded))
	space := false
	for _, r := range folded {
		r = unicode.ToLower(r)
		switch {
		case unicode.IsSpace(r):
			space = true
			continue
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == ',', r == '.':
		default:
			continue
		}
		if space && sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		space = false
		sb.WriteRune(r)
	}
	return sb.String()
}

// Dictionary is the vocabulary spelling correction pulls tokens toward.
type Dictionary struct {
	words []string
	set   map[string]struct{}
}

// NewDictionary builds a dictionary from DomainTerms plus the given vocabulary.
func NewDictionary(vocab ...string) *Dictionary {
	d := &Dictionary{set: make(map[string]struct{}, len(DomainTerms)+len(vocab))}
	for _, w := range DomainTerms {
		d.add(w)
	}
	for _, w := range vocab {
		d.add(w)
	}
	sort.Strings(d.words)
	return d
}

// VocabularyOf returns every distinct whitespace-separated word of the texts.
func VocabularyOf(texts ...string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, t := range texts {
		for _, w := range strings.Fields(t) {
			if _, ok := seen[w]; ok {
				continue
			}
			seen[w] = struct{}{}
			out = append(out, w)
		}
	}
	return out
}

func (d *Dictionary) add(w string) {
	if w == "" {
		return
	}
	if _, ok := d.set[w]; ok {
		return
	}
	d.set[w] = struct{}{}
	d.words = append(d.words, w)
}

// Contains reports whether w is in the dictionary verbatim.
func (d *Dictionary) Contains(w string) bool {
	_, ok := d.set[w]
	return ok
}

// Closest returns the dictionary word with the highest similarity ratio to
// token, provided it reaches cutoff.
func (d *Dictionary) Closest(token string, cutoff float64) (string, float64, bool) {
	m := difflib.NewMatcher(nil, chars(token))
	best, bestScore := "", -1.0
	for _, w := range d.words {
		m.SetSeq1(chars(w))
		if m.RealQuickRatio() < cutoff || m.QuickRatio() < cutoff {
			continue
		}
		score := m.Ratio()
		if score < cutoff {
			continue
		}
		if score > bestScore || (score == bestScore && w > best) {
			best, bestScore = w, score
		}
	}
	if bestScore < 0 {
		return "", 0, false
	}
	return best, bestScore, true
}

// CorrectSpelling replaces tokens longer than three characters with their
// closest dictionary word when the ratio reaches cutoff and the lengths differ
// by at most three characters. Everything else passes through unchanged.
func CorrectSpelling(text string, dict *Dictionary, cutoff float64) string {
	if text == "" || dict == nil {
		return text
	}
	words := strings.Fields(text)
	for i, w := range words {
		n := utf8.RuneCountInString(w)
		if n <= 3 || dict.Contains(w) {
			continue
		}
		match, _, ok := dict.Closest(w, cutoff)
		if !ok {
			continue
		}
		if abs(utf8.RuneCountInString(match)-n) > maxLengthDelta {
			continue
		}
		words[i] = match
	}
	return strings.Join(words, " ")
}

func chars(s string) []string {
	out := make([]string, 0, len(s))
	for _, r := range s {
		out = append(out, string(r))
	}
	return out
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
