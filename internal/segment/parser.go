// Package segment splits the OCR text of an answer document into per-question
// answers.
package segment

import (
	"log/slog"
	"strconv"
	"strings"

	"github.com/pavelanni/sheetgrader/internal/model"
)

const (
	minSubPartChars  = 3
	snippetRunes     = 30
	minSnippetRunes  = 10
	minPoolChars     = 30
	overConsumedRate = 0.9
)

// Options tunes a Parser.
type Options struct {
	// MinContent drops markers whose content is shorter than this many
	// characters. Zero keeps every marker.
	MinContent int
	// RecoverRate is the share of expected keys below which page-aware
	// recovery runs.
	RecoverRate float64
}

// Parser turns document text into a SegmentMap.
type Parser struct {
	markers   Chain
	subParts  Chain
	splitters []Splitter
	opts      Options
}

// New returns a parser with the default marker rules and splitters.
func New(opts Options) *Parser {
	return &Parser{
		markers:   DefaultMarkers(),
		subParts:  DefaultSubParts(),
		splitters: DefaultSplitters(),
		opts:      opts,
	}
}

// WithRules replaces the marker and sub-part rule chains.
func (p *Parser) WithRules(markers, subParts Chain) *Parser {
	c := *p
	c.markers, c.subParts = markers, subParts
	return &c
}

// Parse splits text into question answers. expected lists the question keys
// the caller knows about (from the schema or the sibling document); it may be
// nil. Keys never map to empty content.
func (p *Parser) Parse(text string, expected []string) model.SegmentMap {
	segs := p.split(text, newKeySet(expected))
	if len(expected) == 0 {
		return segs
	}
	return p.recover(text, segs, expected)
}

func (p *Parser) split(text string, expected keySet) model.SegmentMap {
	segs := make(model.SegmentMap)
	clean := strings.ReplaceAll(text, model.PageBreak, "\n")
	if strings.TrimSpace(clean) == "" {
		return segs
	}

	hits := validMarkers(p.markers.Find(clean))
	if len(hits) == 0 {
		segs["1"] = strings.TrimSpace(clean)
		return segs
	}

	for i, h := range hits {
		end := len(clean)
		if i+1 < len(hits) {
			end = hits[i+1].Start
		}
		content := strings.TrimSpace(clean[h.End:end])
		if p.opts.MinContent > 0 && len(content) < p.opts.MinContent {
			slog.Debug("dropped marker with short content", "key", h.Label, "chars", len(content))
			continue
		}
		base := model.BaseNumber(h.Label)
		parts := p.extractSubParts(content, base, expected)
		if parts == nil {
			segs.Append(h.Label, content)
			continue
		}
		segs.Append(h.Label, parts.intro)
		for _, k := range parts.order {
			segs.Append(k, parts.text[k])
		}
	}

	if len(segs) == 0 {
		segs["1"] = strings.TrimSpace(clean)
	}
	return segs
}

// validMarkers normalizes labels to "<n><letter>" and drops hits whose number
// is not a plausible question; their text stays with the previous answer.
func validMarkers(hits []Hit) []Hit {
	out := hits[:0]
	for _, h := range hits {
		n, ok := model.ParseBase(h.Label)
		if !ok {
			continue
		}
		h.Label = strconv.Itoa(n) + strings.TrimLeft(h.Label, "0123456789")
		out = append(out, h)
	}
	return out
}

type subParts struct {
	intro string
	order []string
	text  map[string]string
}

// extractSubParts splits one answer into lettered sub-parts. With expected
// keys, only sub-parts the caller expects are split off; unexpected ones stay
// with the preceding part, and if none is expected the answer is not split.
func (p *Parser) extractSubParts(content, base string, expected keySet) *subParts {
	hits := p.subParts.Find(content)
	if len(hits) == 0 {
		return nil
	}

	sp := &subParts{intro: content[:hits[0].Start], text: make(map[string]string)}
	last := ""
	appendLast := func(s string) {
		if last == "" {
			sp.intro = joinNonEmpty(sp.intro, s)
			return
		}
		sp.text[last] = joinNonEmpty(sp.text[last], s)
	}

	valid := 0
	for i, h := range hits {
		end := len(content)
		if i+1 < len(hits) {
			end = hits[i+1].Start
		}
		body := strings.TrimSpace(content[h.End:end])
		key := base + h.Label
		if len(body) < minSubPartChars {
			continue
		}
		if expected != nil && !expected.has(key) {
			appendLast(strings.TrimSpace(content[h.Start:end]))
			continue
		}
		if _, seen := sp.text[key]; !seen {
			sp.order = append(sp.order, key)
		}
		sp.text[key] = joinNonEmpty(sp.text[key], body)
		last = key
		valid++
	}
	if valid == 0 {
		return nil
	}
	sp.intro = strings.TrimSpace(sp.intro)
	return sp
}

// recover runs page-aware parsing when the marker split found too few of the
// expected keys: the unconsumed text is divided among the missing keys.
func (p *Parser) recover(text string, segs model.SegmentMap, expected []string) model.SegmentMap {
	want := questionKeys(expected)
	if len(want) == 0 {
		return segs
	}
	missing := missingKeys(segs, want)
	found := len(want) - len(missing)
	if float64(found) >= p.opts.RecoverRate*float64(len(want)) || len(missing) == 0 {
		return segs
	}

	consumed := consumedOffset(text, segs)
	pool := text
	if float64(consumed) < overConsumedRate*float64(len(text)) {
		pool = text[consumed:]
	}
	if len(strings.TrimSpace(pool)) < minPoolChars {
		return segs
	}

	chunks, how := splitChunks(p.splitters, pool, len(missing))
	slog.Debug("page-aware recovery",
		"found", found, "expected", len(want), "missing", missing,
		"consumed", consumed, "pool", len(pool), "chunks", len(chunks), "splitter", how)
	if len(chunks) == 0 {
		return segs
	}

	out := make(model.SegmentMap, len(segs)+len(missing))
	for k, v := range segs {
		out[k] = v
	}
	n := min(len(chunks), len(missing))
	for i := 0; i < n; i++ {
		out[missing[i]] = chunks[i]
	}
	lastKey := missing[n-1]
	for _, extra := range chunks[n:] {
		out[lastKey] += " " + extra
	}
	return out
}

// consumedOffset estimates how far into text the parsed answers reach, by
// locating each answer's opening snippet.
func consumedOffset(text string, segs model.SegmentMap) int {
	clean := strings.ReplaceAll(text, model.PageBreak, "\n")
	furthest := 0
	for _, v := range segs {
		snippet := strings.TrimSpace(firstRunes(v, snippetRunes))
		if len([]rune(snippet)) < minSnippetRunes {
			continue
		}
		pos := strings.Index(clean, snippet)
		if pos < 0 {
			continue
		}
		furthest = max(furthest, pos+len(v))
	}
	return rawOffset(text, min(furthest, len(clean)))
}

// rawOffset maps an offset in text with page breaks collapsed to newlines back
// onto text itself.
func rawOffset(text string, off int) int {
	shift := 0
	for start := 0; ; {
		i := strings.Index(text[start:], model.PageBreak)
		if i < 0 {
			break
		}
		at := start + i
		if at-shift >= off {
			break
		}
		shift += len(model.PageBreak) - 1
		start = at + len(model.PageBreak)
	}
	return min(off+shift, len(text))
}

// missingKeys returns the expected keys with neither an exact nor a
// base-number answer, in natural order.
func missingKeys(segs model.SegmentMap, want []string) []string {
	have := make(map[string]bool, 2*len(segs))
	for k := range segs {
		have[k] = true
		have[model.BaseNumber(k)] = true
	}
	var missing []string
	for _, k := range want {
		if !have[k] && !have[model.BaseNumber(k)] {
			missing = append(missing, k)
		}
	}
	return missing
}

// questionKeys returns the distinct non-internal keys in natural order.
func questionKeys(keys []string) []string {
	seen := make(map[string]bool, len(keys))
	var out []string
	for _, k := range keys {
		if model.IsInternalKey(k) || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	model.SortKeys(out)
	return out
}

type keySet map[string]struct{}

func newKeySet(keys []string) keySet {
	if len(keys) == 0 {
		return nil
	}
	s := make(keySet, len(keys))
	for _, k := range keys {
		s[k] = struct{}{}
	}
	return s
}

func (s keySet) has(k string) bool {
	_, ok := s[k]
	return ok
}

func joinNonEmpty(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	}
	return a + " " + b
}

func firstRunes(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
