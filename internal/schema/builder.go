// Package schema derives the marks structure of an exam from the OCR text of
// its question paper.
package schema

import (
	"log/slog"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/pavelanni/sheetgrader/internal/model"
)

// Table rows look like "7 a) Explain pruning.  8  CO2" or "3 | Define entropy | 2 | CO1".
var rowPattern = regexp.MustCompile(
	`(?i)^\s*(?:Q(?:uestion)?\s*)?(\d{1,2})(?:([a-h])\b|\b)\s*[\.\):\-]?\s*` +
		`(?:\(?([a-h])\s*[\)\.]\s+)?` +
		`(.*?)\s*\|?\s*\b(\d{1,2})\s*\|?\s*(?:CO|PO)\s*\d`)

// Looser forms: "[3 Marks]", "(5M)", "Marks: 3", "[3]", "3 marks".
var loosePattern = regexp.MustCompile(
	`(?i)(?:^|\n)[ \t]*(?:Q|Question)?[ \t]*(\d{1,2}(?:[a-h]\b|\b))[ \t]*[\.:\)\]\-_]?[ \t]*([^\n]*?)` +
		`(?:\[(\d+)\s*m(?:arks)?\]|\((\d+)\s*m(?:arks)?\)|marks?\s*[:=]\s*(\d+)|[\[\(]\s*(\d+)\s*[\]\)]|(\d+)\s+marks?)`)

var (
	challengePattern = regexp.MustCompile(`(?i)\b(?:challenge|bonus|extra\s+credit)\b`)
	totalPatterns    = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(?:total|max(?:imum)?)\.?\s*marks?\s*[:\-=]?\s*(\d{2,3})\b`),
		regexp.MustCompile(`(?i)\b(\d{2,3})\s*total\s+marks?\b`),
	}
)

const (
	maxRowMarks   = 100
	maxLooseMarks = 20
	minTotalMarks = 20
	maxTotalMarks = 100
)

// occurrence is one detected question row and where it sits in the text.
type occurrence struct {
	key        string
	base       int
	start, end int
}

// Build parses question-paper OCR text into a schema. It never fails: empty
// text or a paper without any detectable marks yields an empty schema, and
// callers fall back to default marks.
func Build(text string) *model.Schema {
	s := model.NewSchema()
	if strings.TrimSpace(text) == "" {
		slog.Warn("question paper text is empty")
		return s
	}

	s.TotalMarks = detectTotal(text)

	marks, occs := scanRows(text)
	if len(marks) == 0 {
		slog.Debug("no strict question rows, trying loose marks pattern")
		marks, occs = scanLoose(text)
	}
	if len(marks) == 0 {
		slog.Warn("no marks detected in question paper")
		return s
	}

	groups := make(map[string]string, len(marks))
	for k := range marks {
		groups[k] = k
	}
	applyOrGroups(text, occs, groups)
	challenge := detectChallenge(text, occs)

	members := make(map[string]int)
	for _, g := range groups {
		members[g]++
	}
	for k, m := range marks {
		e := model.SchemaEntry{MaxMarks: m, Type: model.TypeMandatory, Group: groups[k]}
		switch {
		case challenge > 0 && baseOf(k) == challenge:
			e.Type = model.TypeChallenge
		case members[e.Group] > 1:
			e.Type = model.TypeOptional
		}
		s.Entries[k] = e
	}
	slog.Debug("question paper schema built", "questions", len(s.Entries), "total_marks", s.TotalMarks)
	return s
}

func scanRows(text string) (map[string]int, []occurrence) {
	marks := make(map[string]int)
	var occs []occurrence
	offset := 0
	for _, line := range strings.SplitAfter(text, "\n") {
		start := offset
		offset += len(line)
		m := rowPattern.FindStringSubmatch(strings.TrimRight(line, "\r\n"))
		if m == nil {
			continue
		}
		q, err := strconv.Atoi(m[1])
		if err != nil || q < 1 || q > model.MaxQuestionNumber {
			slog.Debug("rejected question row", "reason", "question number out of range", "line", line)
			continue
		}
		mk, err := strconv.Atoi(m[5])
		if err != nil || mk < 1 || mk > maxRowMarks {
			slog.Debug("rejected question row", "reason", "marks out of range", "line", line)
			continue
		}
		key := strconv.Itoa(q) + strings.ToLower(firstNonEmpty(m[2], m[3]))
		occs = append(occs, occurrence{key: key, base: q, start: start, end: offset})
		if _, dup := marks[key]; dup {
			slog.Debug("dropped repeated question row", "key", key)
			continue
		}
		marks[key] = mk
	}
	return marks, occs
}

func scanLoose(text string) (map[string]int, []occurrence) {
	marks := make(map[string]int)
	var occs []occurrence
	for _, idx := range loosePattern.FindAllStringSubmatchIndex(text, -1) {
		key := strings.ToLower(text[idx[2]:idx[3]])
		q, ok := model.ParseBase(key)
		if !ok {
			continue
		}
		mk := 0
		for g := 3; g <= 7; g++ {
			if idx[2*g] < 0 {
				continue
			}
			mk, _ = strconv.Atoi(text[idx[2*g]:idx[2*g+1]])
			break
		}
		if mk < 1 || mk > maxLooseMarks {
			continue
		}
		key = strconv.Itoa(q) + strings.TrimLeft(key, "0123456789")
		occs = append(occs, occurrence{key: key, base: q, start: idx[0], end: idx[1]})
		if _, dup := marks[key]; !dup {
			marks[key] = mk
		}
	}
	return marks, occs
}

// applyOrGroups merges the groups of the questions on either side of every
// line consisting solely of "OR". The merged group takes the lowest base number.
func applyOrGroups(text string, occs []occurrence, groups map[string]string) {
	sort.SliceStable(occs, func(i, j int) bool { return occs[i].start < occs[j].start })

	offset := 0
	for _, line := range strings.SplitAfter(text, "\n") {
		pos := offset
		offset += len(line)
		if !strings.EqualFold(strings.TrimSpace(line), "or") {
			continue
		}
		var prev, next *occurrence
		for i := range occs {
			if occs[i].end <= pos {
				prev = &occs[i]
			}
			if occs[i].start > pos {
				next = &occs[i]
				break
			}
		}
		if prev == nil || next == nil {
			slog.Debug("OR marker without neighbours", "offset", pos)
			continue
		}
		if prev.base == next.base {
			slog.Debug("OR marker between parts of one question ignored", "question", prev.base)
			continue
		}
		mergeGroups(groups, prev.base, next.base)
		slog.Debug("OR group", "prev", prev.key, "next", next.key)
	}
}

func mergeGroups(groups map[string]string, a, b int) {
	old := make(map[string]bool)
	for k, g := range groups {
		if base := baseOf(k); base == a || base == b {
			old[g] = true
		}
	}
	shared := min(a, b)
	for g := range old {
		if n, err := strconv.Atoi(g); err == nil && n < shared {
			shared = n
		}
	}
	id := strconv.Itoa(shared)
	for k, g := range groups {
		if base := baseOf(k); base == a || base == b || old[g] {
			groups[k] = id
		}
	}
}

// detectChallenge returns the base number of the bonus question, or 0.
// A paper lists one challenge question: the highest-numbered question at or
// after the first challenge keyword, else the highest-numbered question overall.
func detectChallenge(text string, occs []occurrence) int {
	loc := challengePattern.FindStringIndex(text)
	if loc == nil {
		return 0
	}
	after, highest := 0, 0
	for _, o := range occs {
		highest = max(highest, o.base)
		if o.end > loc[0] {
			after = max(after, o.base)
		}
	}
	if after > 0 {
		slog.Debug("challenge question", "question", after)
		return after
	}
	slog.Debug("challenge keyword precedes no question, using highest", "question", highest)
	return highest
}

func detectTotal(text string) int {
	for _, p := range totalPatterns {
		for _, m := range p.FindAllStringSubmatch(text, -1) {
			n, err := strconv.Atoi(m[1])
			if err == nil && n >= minTotalMarks && n <= maxTotalMarks {
				return n
			}
		}
	}
	return 0
}

func baseOf(key string) int {
	n, _ := model.ParseBase(key)
	return n
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
