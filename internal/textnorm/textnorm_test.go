package textnorm

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestClean(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"lowercase and punctuation", "Hello, World! (Q1)", "hello, world q1"},
		{"keeps hyphen and period", "Pre-pruning stops early.", "pre-pruning stops early."},
		{"collapses whitespace", "  a \n\n b\t\tc  ", "a b c"},
		{"folds accents", "Café naïve", "cafe naive"},
		{"drops symbols", "x = y + z; [ok]", "x y z ok"},
		{"only symbols", "!!! ###", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Clean(tt.in); got != tt.want {
				t.Errorf("Clean(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestCleanIdempotent(t *testing.T) {
	inputs := []string{
		"",
		"Photosynthesis converts LIGHT → chemical energy!!",
		"1. Ans:  Newton's   laws\n\nof motion (F=ma)",
		"---PAGE_BREAK--- Main Sheet\tÆther ½ ﬁle",
		"    ",
		"a-b,c.d e_f",
	}
	for _, in := range inputs {
		once := Clean(in)
		if twice := Clean(once); twice != once {
			t.Errorf("Clean not idempotent for %q: %q then %q", in, once, twice)
		}
	}
}

func TestCorrectSpelling(t *testing.T) {
	dict := NewDictionary("photosynthesis", "chlorophyll", "energy")

	tests := []struct {
		name   string
		in     string
		cutoff float64
		want   string
	}{
		{"fixes ocr noise", "photosynthesls needs chlorophyl", 0.75, "photosynthesis needs chlorophyll"},
		{"short tokens untouched", "tre an ok", 0.6, "tre an ok"},
		{"exact words untouched", "energy tree", 0.6, "energy tree"},
		{"no close match", "xylophone", 0.75, "xylophone"},
		{"domain term", "overfiting", 0.75, "overfitting"},
		{"empty", "", 0.6, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CorrectSpelling(tt.in, dict, tt.cutoff); got != tt.want {
				t.Errorf("CorrectSpelling(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestCorrectSpellingLengthGuard(t *testing.T) {
	// "classi" reaches the ratio cutoff against "classification" but is eight
	// characters shorter.
	dict := NewDictionary("classificationsystem")
	in := "classification classi classificationsystems"
	out := CorrectSpelling(in, dict, 0.5)

	inWords := strings.Fields(in)
	outWords := strings.Fields(out)
	if len(inWords) != len(outWords) {
		t.Fatalf("token count changed: %q -> %q", in, out)
	}
	for i := range inWords {
		if inWords[i] == outWords[i] {
			continue
		}
		d := utf8.RuneCountInString(inWords[i]) - utf8.RuneCountInString(outWords[i])
		if d > 3 || d < -3 {
			t.Errorf("replaced %q with %q despite length delta %d", inWords[i], outWords[i], d)
		}
	}
}

func TestVocabularyOf(t *testing.T) {
	got := VocabularyOf("a b a", "c b")
	if strings.Join(got, ",") != "a,b,c" {
		t.Errorf("VocabularyOf() = %v", got)
	}
}
