package segment

import (
	"math/rand"
	"strings"
	"testing"

	"github.com/pavelanni/sheetgrader/internal/model"
)

func newTestParser() *Parser {
	return New(Options{RecoverRate: 0.6})
}

func TestParse(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		expected []string
		want     model.SegmentMap
	}{
		{
			name: "numbered answers",
			text: "1. Photosynthesis converts light.\n2. Newton's laws of motion.\n",
			want: model.SegmentMap{"1": "Photosynthesis converts light.", "2": "Newton's laws of motion."},
		},
		{
			name: "label words",
			text: "Q1) foo bar baz\nAns 2: qux quux\nQuestion 3 - corge grault",
			want: model.SegmentMap{"1": "foo bar baz", "2": "qux quux", "3": "corge grault"},
		},
		{
			name: "repeated key is concatenated",
			text: "1. first part here\n2. second\n1. more of first",
			want: model.SegmentMap{"1": "first part here more of first", "2": "second"},
		},
		{
			name: "no markers",
			text: "  just some text without numbers  ",
			want: model.SegmentMap{"1": "just some text without numbers"},
		},
		{
			name: "empty",
			text: "",
			want: model.SegmentMap{},
		},
		{
			name: "page breaks are line breaks",
			text: "1. first answer" + model.PageBreak + "2. second answer",
			want: model.SegmentMap{"1": "first answer", "2": "second answer"},
		},
		{
			name:     "expected sub-parts are split",
			text:     "9. Pruning reduces overfitting because:\na) Simple trees\nb) Easy to read\n",
			expected: []string{"9a", "9b"},
			want: model.SegmentMap{
				"9":  "Pruning reduces overfitting because:",
				"9a": "Simple trees",
				"9b": "Easy to read",
			},
		},
		{
			name:     "unexpected sub-part stays with previous part",
			text:     "9. Pruning reduces overfitting because:\na) Simple trees\nb) Easy to read\n",
			expected: []string{"9a"},
			want: model.SegmentMap{
				"9":  "Pruning reduces overfitting because:",
				"9a": "Simple trees b) Easy to read",
			},
		},
		{
			name: "roman numerals map to letters",
			text: "4. Types:\ni) bagging method\nii) boosting method",
			want: model.SegmentMap{"4": "Types:", "4a": "bagging method", "4b": "boosting method"},
		},
		{
			name: "direct sub-part marker",
			text: "7a) Explain pre-pruning here\n7b) Explain post-pruning here",
			want: model.SegmentMap{"7a": "Explain pre-pruning here", "7b": "Explain post-pruning here"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := newTestParser().Parse(tt.text, tt.expected)
			assertSegments(t, got, tt.want)
		})
	}
}

func TestParseKeepsEnumerationWhenSubPartsUnexpected(t *testing.T) {
	text := "9. Pruning reduces overfitting because:\na) Simple trees\nb) Easy to read\n"
	got := newTestParser().Parse(text, []string{"9"})

	if len(got) != 1 {
		t.Fatalf("got keys %v, want only 9", got.Keys())
	}
	for _, part := range []string{"Pruning reduces overfitting", "a) Simple trees", "b) Easy to read"} {
		if !strings.Contains(got["9"], part) {
			t.Errorf("answer 9 = %q, missing %q", got["9"], part)
		}
	}
}

func TestParseOutOfRangeNumberIsContent(t *testing.T) {
	got := newTestParser().Parse("1. Intro answer text\n75. not a question really\n2. second answer", nil)
	if _, ok := got["75"]; ok {
		t.Fatal("75 must not become a key")
	}
	if !strings.Contains(got["1"], "not a question really") {
		t.Errorf("answer 1 = %q, want the out-of-range line kept", got["1"])
	}
	if got["2"] != "second answer" {
		t.Errorf("answer 2 = %q", got["2"])
	}
}

func TestParseMinContent(t *testing.T) {
	p := New(Options{MinContent: 10, RecoverRate: 0.6})
	got := p.Parse("1. ok\n2. A proper answer here", nil)
	assertSegments(t, got, model.SegmentMap{"2": "A proper answer here"})
}

func TestParsePageAwareRecovery(t *testing.T) {
	page := func(header, body string) string {
		return header + "\nRoll No 12\nName X\n" + body + "\n"
	}
	text := page("Main Sheet", "Photosynthesis converts light energy into chemical energy in plants.") +
		model.PageBreak + "\n" +
		page("Additional Sheet", "Newton's laws describe motion and forces acting on bodies.") +
		model.PageBreak + "\n" +
		page("Additional Sheet", "The water cycle moves water through evaporation and rain.")

	got := newTestParser().Parse(text, []string{"1", "2", "3"})

	for _, k := range []string{"1", "2", "3"} {
		if strings.TrimSpace(got[k]) == "" {
			t.Errorf("key %s missing after recovery: %v", k, got.Keys())
		}
	}
	if !strings.Contains(got["3"], "water cycle") {
		t.Errorf("surplus chunk not appended to last missing key: %q", got["3"])
	}
	for _, k := range []string{"2", "3"} {
		if strings.Contains(got[k], "Roll No") || strings.Contains(got[k], "Sheet") {
			t.Errorf("header lines left in recovered answer %s: %q", k, got[k])
		}
	}
}

func TestParseNoRecoveryWhenEnoughFound(t *testing.T) {
	text := "1. Photosynthesis converts light.\n2. Newton's laws of motion.\n\n\nA stray paragraph that is long enough."
	got := newTestParser().Parse(text, []string{"1", "2", "3"})
	if _, ok := got["3"]; ok {
		t.Errorf("recovery ran although 2 of 3 keys were found: %v", got)
	}
}

func TestConsumedOffset(t *testing.T) {
	text := "1. first answer text here" + model.PageBreak + "second page"

	tests := []struct {
		name string
		segs model.SegmentMap
		want int
	}{
		{"before break", model.SegmentMap{"1": "first answer text here"}, 25},
		{"across break", model.SegmentMap{"1": "first answer text here\nsecond page"}, len(text)},
		{"short snippets ignored", model.SegmentMap{"1": "first"}, 0},
		{"not found", model.SegmentMap{"1": "something else entirely"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := consumedOffset(text, tt.segs); got != tt.want {
				t.Errorf("consumedOffset() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestParseNeverProducesEmptyContent(t *testing.T) {
	tokens := []string{
		"1.", "2)", "Q3:", "Ans 4 -", "7a)", "51.", "a)", "b.", "ii)", "iv.",
		"word", "answer text", "\n", "\n\n\n", "   ", model.PageBreak, "Main Sheet", "Sub Total",
	}
	expectations := [][]string{nil, {"1", "2", "3"}, {"1", "2a", "2b", "7a"}, {"4", "9"}}

	r := rand.New(rand.NewSource(7))
	for i := 0; i < 500; i++ {
		var sb strings.Builder
		for n := r.Intn(30); n > 0; n-- {
			sb.WriteString(tokens[r.Intn(len(tokens))])
			sb.WriteByte(' ')
		}
		text := sb.String()
		expected := expectations[r.Intn(len(expectations))]

		for k, v := range newTestParser().Parse(text, expected) {
			if strings.TrimSpace(v) == "" {
				t.Fatalf("key %q has empty content for input %q (expected %v)", k, text, expected)
			}
		}
	}
}

func TestChainOverlap(t *testing.T) {
	c := Chain{letterMarker, romanMarker}
	hits := c.Find("intro\na) one\ni) two\nb) three")
	var labels []string
	for _, h := range hits {
		labels = append(labels, h.Label)
	}
	if got := strings.Join(labels, ","); got != "a,a,b" {
		t.Errorf("labels = %s, want a,a,b", got)
	}
}

func TestWithRules(t *testing.T) {
	part := regexRule{
		name: "part-number",
		re:   questionMarker.re,
	}
	p := newTestParser().WithRules(Chain{part}, Chain{})
	got := p.Parse("1. intro\na) first item\nb) second item", nil)
	if _, ok := got["1a"]; ok {
		t.Errorf("empty sub-part chain must not split: %v", got)
	}
}

func assertSegments(t *testing.T, got, want model.SegmentMap) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got keys %v (%v), want %v", got.Keys(), got, want.Keys())
	}
	for k, w := range want {
		if got[k] != w {
			t.Errorf("segment %q = %q, want %q", k, got[k], w)
		}
	}
}
