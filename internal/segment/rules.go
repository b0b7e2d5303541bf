package segment

import (
	"regexp"
	"sort"
	"strings"
)

// Hit is one marker found in a text: the marker occupies text[Start:End] and
// its content starts at End.
type Hit struct {
	Label string
	Start int
	End   int
}

// Rule finds markers of one shape. A rule that does not apply returns nil.
type Rule interface {
	Name() string
	Find(text string) []Hit
}

// regexRule turns every match of a pattern into a hit labelled by its first
// capture group, optionally rewritten (or rejected) by label.
type regexRule struct {
	name  string
	re    *regexp.Regexp
	label func(string) (string, bool)
}

func (r regexRule) Name() string { return r.name }

func (r regexRule) Find(text string) []Hit {
	var hits []Hit
	for _, m := range r.re.FindAllStringSubmatchIndex(text, -1) {
		label := strings.ToLower(text[m[2]:m[3]])
		if r.label != nil {
			var ok bool
			if label, ok = r.label(label); !ok {
				continue
			}
		}
		hits = append(hits, Hit{Label: label, Start: m[0], End: m[1]})
	}
	return hits
}

// Chain runs rules in order and merges their hits by position. When two hits
// overlap, the one that starts first wins; on a tie, the earlier rule wins.
type Chain []Rule

func (c Chain) Find(text string) []Hit {
	type ranked struct {
		Hit
		rule int
	}
	var all []ranked
	for i, r := range c {
		for _, h := range r.Find(text) {
			all = append(all, ranked{Hit: h, rule: i})
		}
	}
	sort.SliceStable(all, func(i, j int) bool {
		if all[i].Start != all[j].Start {
			return all[i].Start < all[j].Start
		}
		return all[i].rule < all[j].rule
	})

	hits := make([]Hit, 0, len(all))
	end := -1
	for _, h := range all {
		if h.Start < end {
			continue
		}
		hits = append(hits, h.Hit)
		end = h.End
	}
	return hits
}

var (
	// "1.", "Q1)", "Ans 3:", "Question-4", "9a)" at the start of a line.
	questionMarker = regexRule{
		name: "question-number",
		re:   regexp.MustCompile(`(?i)(?:^|\n)\s*(?:Q|Question|Ans|Answer)?\.?\s*[\.\-]?\s*(\d+[a-z]?)\s*[\.:\-\)_ ]`),
	}

	// "a)", "b.", "c -" at the start of a line.
	letterMarker = regexRule{
		name: "sub-part-letter",
		re:   regexp.MustCompile(`(?i)(?:^|\n)\s*([a-h])\s*[\)\.\-]\s*`),
	}

	// "i)", "ii.", "iv -" at the start of a line, mapped onto a..h.
	romanMarker = regexRule{
		name:  "sub-part-roman",
		re:    regexp.MustCompile(`(?i)(?:^|\n)\s*([ivx]+)\s*[\)\.\-]\s*`),
		label: romanToLetter,
	}
)

var romanLetters = map[string]string{
	"i": "a", "ii": "b", "iii": "c", "iv": "d",
	"v": "e", "vi": "f", "vii": "g", "viii": "h",
}

func romanToLetter(s string) (string, bool) {
	l, ok := romanLetters[s]
	return l, ok
}

// DefaultMarkers finds question-start markers.
func DefaultMarkers() Chain {
	return Chain{questionMarker}
}

// DefaultSubParts finds sub-part markers inside one question's content.
func DefaultSubParts() Chain {
	return Chain{letterMarker, romanMarker}
}
