package scoring

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/pavelanni/sheetgrader/internal/embed"
	"github.com/pavelanni/sheetgrader/internal/model"
)

func newScorer() *Scorer {
	return New(embed.NewHashing(0), model.DefaultGradingConfig())
}

func TestScoreEmpty(t *testing.T) {
	s := newScorer()
	for _, pair := range [][2]string{{"", "model"}, {"student", "  "}, {"\n", ""}} {
		got, err := s.Score(context.Background(), pair[0], pair[1])
		if err != nil {
			t.Fatalf("Score: %v", err)
		}
		if got.Score != 0 || got.Feedback != "Empty answer" || got.Details != nil {
			t.Errorf("Score(%q, %q) = %+v", pair[0], pair[1], got)
		}
	}
}

func TestScoreRelatedVsUnrelated(t *testing.T) {
	s := newScorer()
	ctx := context.Background()

	good, err := s.Score(ctx, "Plants convert light into chemical energy.", "Photosynthesis converts light to chemical energy.")
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if good.Score <= 5 {
		t.Errorf("paraphrased answer scored %.1f, want > 5 (%+v)", good.Score, good.Details)
	}

	bad, err := s.Score(ctx, "Gravity pulls objects down.", "Newton's laws of motion.")
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if bad.Score >= 5 {
		t.Errorf("unrelated answer scored %.1f, want < 5 (%+v)", bad.Score, bad.Details)
	}
	if !strings.Contains(bad.Feedback, "Consider mentioning:") {
		t.Errorf("feedback %q should name missing concepts", bad.Feedback)
	}
}

func TestScoreIdentical(t *testing.T) {
	text := "The mitochondria is the powerhouse of the cell and produces ATP."
	got, err := newScorer().Score(context.Background(), text, text)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if got.Score != MaxScore {
		t.Errorf("identical answer scored %.1f", got.Score)
	}
	if got.Details.ConceptCoverage != 1 || len(got.Details.MissingConcepts) != 0 {
		t.Errorf("details = %+v", got.Details)
	}
	if got.Feedback != "Excellent answer!" {
		t.Errorf("feedback = %q", got.Feedback)
	}
}

func TestScoreBounds(t *testing.T) {
	s := newScorer()
	answers := []string{
		"x",
		"completely unrelated words about football and weather today",
		"energy",
		"light light light light light light light light light light",
	}
	for _, a := range answers {
		got, err := s.Score(context.Background(), a, "Photosynthesis converts light to chemical energy.")
		if err != nil {
			t.Fatalf("Score: %v", err)
		}
		if got.Score < 0 || got.Score > MaxScore {
			t.Errorf("Score(%q) = %v out of range", a, got.Score)
		}
		if math.Abs(got.Score*10-math.Round(got.Score*10)) > 1e-9 {
			t.Errorf("Score(%q) = %v not rounded to one decimal", a, got.Score)
		}
	}
}

func TestScoreLongAnswerFloor(t *testing.T) {
	got, err := newScorer().Score(context.Background(),
		"football weather tomorrow seems rainy again", "Newton's laws of motion.")
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if got.Score < 2 {
		t.Errorf("five-word answer scored %.1f, want floor of 2.0", got.Score)
	}
}

type failingEmbedder struct{ err error }

func (f failingEmbedder) Embed(context.Context, []string) ([][]float32, error) { return nil, f.err }

func TestScoreEmbedderError(t *testing.T) {
	want := errors.New("model offline")
	s := New(failingEmbedder{want}, model.DefaultGradingConfig())
	if _, err := s.Score(context.Background(), "a b", "c d"); !errors.Is(err, want) {
		t.Errorf("err = %v, want %v", err, want)
	}
}

func TestCombine(t *testing.T) {
	tests := []struct {
		name          string
		coverage, sim float64
		sw, rw        int
		want          float64
	}{
		{"nothing", 0, 0, 3, 10, 0},
		{"full coverage no similarity", 1, 0, 10, 10, 0.95},
		{"similarity floor", 0, 0.8, 2, 10, 0.95*0.8 + 0.1*0.2},
		{"long answer floor", 0, 0.1, 5, 10, 0.20},
		{"clamped", 1, 1, 10, 10, 1},
		{"partial", 0.5, 0.4, 4, 8, 0.425 + 0.15*(0.1/0.7) + 0.05},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := combine(tt.coverage, tt.sim, tt.sw, tt.rw); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("combine() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMatchRule(t *testing.T) {
	s := newScorer()
	studentText := "plants convert light into chemical energy"
	keys := keywords(studentText)
	tests := []struct {
		concept string
		best    float64
		want    string
	}{
		{"chlorophyll", 0.75, "strong"},
		{"chemical bonds", 0.6, "keyword"},
		{"converts sunlight", 0.5, "fuzzy-similar"},
		{"light into", 0.1, "literal"},
		{"converts", 0.1, "fuzzy"},
		{"photosynthesis", 0.5, ""},
	}
	for _, tt := range tests {
		t.Run(tt.concept, func(t *testing.T) {
			if got := s.matchRule(tt.concept, tt.best, keys, studentText); got != tt.want {
				t.Errorf("matchRule(%q, %.2f) = %q, want %q", tt.concept, tt.best, got, tt.want)
			}
		})
	}
}
