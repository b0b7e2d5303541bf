package segment

import (
	"regexp"
	"strings"

	"github.com/pavelanni/sheetgrader/internal/model"
)

// Header phrases printed on every page of a scanned answer booklet, tolerant
// of common OCR confusions.
var pageHeader = regexp.MustCompile(`(?i)` + strings.Join([]string{
	`muthoo?t\s+in?s[it]i?t?u?t?e?\b`,
	`\b(?:main|additional)\s+(?:sh[ea][ea]t|answer)`,
	`\baddit[io][ao]n[ae]l\s+sh[ea][ea]t`,
	`space\s+for\s+writing`,
	`marks\s+to\s+be\s+filled`,
	`(?:main|additional)\s*sh[a-z]*t\b`,
	`i(?:nst|ule)\s+\d+\s+(?:of\s+)?technology\s*&?\s*(?:main|additional)`,
}, "|"))

// Booklet boilerplate that occupies a whole line.
var boilerplateLine = regexp.MustCompile(`(?i)^\s*(?:sub\s+total|maximum\s+marks|marks\s+secured|co\s*\d|onos)\s*$`)

var (
	tripleBreak = regexp.MustCompile(`\n\s*\n\s*\n`)
	doubleBreak = regexp.MustCompile(`\n\s*\n`)
)

const (
	minPageChars      = 20
	minParagraphChars = 15
	headerMergeWindow = 100
	headerTrailLines  = 2
)

// Splitter divides a text pool into chunks. ok is false when the heuristic
// cannot produce at least want chunks.
type Splitter interface {
	Name() string
	Split(text string, want int) (chunks []string, ok bool)
}

// DefaultSplitters returns page-break, page-header, then paragraph splitting.
func DefaultSplitters() []Splitter {
	return []Splitter{
		pageBreakSplitter{},
		headerSplitter{},
		paragraphSplitter{name: "paragraph-triple", re: tripleBreak},
		paragraphSplitter{name: "paragraph-double", re: doubleBreak},
	}
}

// splitChunks asks each splitter in turn and falls back to the whole pool.
// Header lines and boilerplate are stripped from every resulting chunk.
func splitChunks(splitters []Splitter, pool string, want int) ([]string, string) {
	for _, s := range splitters {
		chunks, ok := s.Split(pool, want)
		if !ok {
			continue
		}
		if cleaned := cleanChunks(chunks); len(cleaned) > 0 {
			return cleaned, s.Name()
		}
	}
	return cleanChunks([]string{strings.ReplaceAll(pool, model.PageBreak, "\n")}), "whole"
}

func cleanChunks(chunks []string) []string {
	out := make([]string, 0, len(chunks))
	for _, c := range chunks {
		if c = strings.TrimSpace(stripHeaders(c)); c != "" {
			out = append(out, c)
		}
	}
	return out
}

type pageBreakSplitter struct{}

func (pageBreakSplitter) Name() string { return "page-break" }

func (pageBreakSplitter) Split(text string, want int) ([]string, bool) {
	if !strings.Contains(text, model.PageBreak) {
		return nil, false
	}
	pages := keepLonger(strings.Split(text, model.PageBreak), minPageChars)
	return pages, len(pages) > 1 && len(pages) >= want
}

type headerSplitter struct{}

func (headerSplitter) Name() string { return "page-header" }

func (headerSplitter) Split(text string, want int) ([]string, bool) {
	text = strings.ReplaceAll(text, model.PageBreak, "\n")
	starts := headerLineStarts(text)
	if len(starts) <= 1 {
		return nil, false
	}
	// Text before the first header belongs to the page it continues.
	starts[0] = 0
	raw := make([]string, 0, len(starts))
	for i, start := range starts {
		end := len(text)
		if i+1 < len(starts) {
			end = starts[i+1]
		}
		raw = append(raw, text[start:end])
	}
	pages := keepLonger(raw, minPageChars)
	return pages, len(pages) > 1 && len(pages) >= want
}

// headerLineStarts returns the line offsets of page headers, merging headers
// that sit close together (multi-line headers on one page).
func headerLineStarts(text string) []int {
	var starts []int
	for _, m := range pageHeader.FindAllStringIndex(text, -1) {
		start := strings.LastIndexByte(text[:m[0]], '\n') + 1
		if len(starts) > 0 && start-starts[len(starts)-1] <= headerMergeWindow {
			continue
		}
		starts = append(starts, start)
	}
	return starts
}

type paragraphSplitter struct {
	name string
	re   *regexp.Regexp
}

func (p paragraphSplitter) Name() string { return p.name }

func (p paragraphSplitter) Split(text string, want int) ([]string, bool) {
	text = stripHeaders(strings.ReplaceAll(text, model.PageBreak, "\n"))
	paras := keepLonger(p.re.Split(text, -1), minParagraphChars)
	if want < 1 || len(paras) < want {
		return nil, false
	}
	per := max(1, len(paras)/want)
	var chunks []string
	for i := 0; i < len(paras); i += per {
		chunks = append(chunks, strings.Join(paras[i:min(i+per, len(paras))], "\n\n"))
	}
	return chunks, true
}

// stripHeaders drops page-header lines together with the lines that follow
// them on the header block, plus whole-line booklet boilerplate.
func stripHeaders(text string) string {
	lines := strings.Split(text, "\n")
	kept := make([]string, 0, len(lines))
	skip := 0
	for _, line := range lines {
		if skip > 0 {
			skip--
			continue
		}
		if pageHeader.MatchString(line) {
			skip = headerTrailLines
			continue
		}
		if boilerplateLine.MatchString(line) {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}

func keepLonger(parts []string, n int) []string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); len(p) > n {
			out = append(out, p)
		}
	}
	return out
}
