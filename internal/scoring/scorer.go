// Package scoring grades one student answer against one model answer by
// hybrid concept coverage and overall semantic similarity.
package scoring

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strings"

	"github.com/pavelanni/sheetgrader/internal/embed"
	"github.com/pavelanni/sheetgrader/internal/i18n"
	"github.com/pavelanni/sheetgrader/internal/model"
)

// MaxScore is the top of the raw score scale.
const MaxScore = 10.0

// Result is the outcome of scoring one answer pair.
type Result struct {
	Score    float64 // 0..MaxScore, one decimal
	Feedback string
	Details  *model.ScoreDetails // nil for empty input
}

// Scorer computes concept-coverage scores. It is safe for concurrent use if
// its Embedder is.
type Scorer struct {
	emb embed.Embedder
	cfg model.GradingConfig
}

// New creates a Scorer.
func New(emb embed.Embedder, cfg model.GradingConfig) *Scorer {
	return &Scorer{emb: emb, cfg: cfg}
}

// Score grades student against reference. Feedback is localized through the
// localizer carried by ctx.
func (s *Scorer) Score(ctx context.Context, student, reference string) (Result, error) {
	if strings.TrimSpace(student) == "" || strings.TrimSpace(reference) == "" {
		return Result{Feedback: i18n.T(ctx, "FeedbackEmpty")}, nil
	}
	student = strings.ReplaceAll(student, "\n", " ")
	reference = strings.ReplaceAll(reference, "\n", " ")

	concepts, refVec, err := s.extractConcepts(ctx, reference)
	if err != nil {
		return Result{}, err
	}

	wins := windows(student, s.cfg.WindowSize, s.cfg.WindowStride)
	vecs, err := s.emb.Embed(ctx, append(slices.Clone(wins), student))
	if err != nil {
		return Result{}, fmt.Errorf("embed student answer: %w", err)
	}
	if len(vecs) != len(wins)+1 {
		return Result{}, fmt.Errorf("embed student answer: got %d vectors for %d texts", len(vecs), len(wins)+1)
	}
	winVecs, studentVec := vecs[:len(wins)], vecs[len(wins)]

	studentKeys := keywords(student)
	lowerStudent := strings.ToLower(student)
	matched := []string{}
	missing := []string{}
	for _, c := range concepts {
		best := -1.0
		for _, w := range winVecs {
			best = max(best, embed.Cosine(c.vec, w))
		}
		if rule := s.matchRule(c.text, best, studentKeys, lowerStudent); rule != "" {
			slog.Debug("concept matched", "concept", c.text, "rule", rule, "similarity", round(best, 3))
			matched = append(matched, c.text)
		} else {
			missing = append(missing, c.text)
		}
	}

	var coverage float64
	if len(concepts) > 0 {
		coverage = float64(len(matched)) / float64(len(concepts))
	}
	sim := embed.Cosine(studentVec, refVec)
	final := combine(coverage, sim, len(strings.Fields(student)), len(strings.Fields(reference)))

	return Result{
		Score:    round(final*MaxScore, 1),
		Feedback: feedback(ctx, final, missing),
		Details: &model.ScoreDetails{
			Similarity:      round(sim, 2),
			ConceptCoverage: round(coverage, 2),
			MatchedConcepts: matched,
			MissingConcepts: missing,
		},
	}, nil
}

type concept struct {
	text string
	vec  []float32
}

// extractConcepts ranks the reference's n-grams by similarity to the whole
// reference and keeps the top MaxConcepts. It also returns the reference vector.
func (s *Scorer) extractConcepts(ctx context.Context, reference string) ([]concept, []float32, error) {
	cands := candidateConcepts(reference)
	vecs, err := s.emb.Embed(ctx, append([]string{reference}, cands...))
	if err != nil {
		return nil, nil, fmt.Errorf("embed reference concepts: %w", err)
	}
	if len(vecs) != len(cands)+1 {
		return nil, nil, fmt.Errorf("embed reference concepts: got %d vectors for %d texts", len(vecs), len(cands)+1)
	}
	refVec := vecs[0]
	if len(cands) == 0 {
		return []concept{{text: reference, vec: refVec}}, refVec, nil
	}

	type ranked struct {
		concept
		sim float64
	}
	all := make([]ranked, len(cands))
	for i, c := range cands {
		all[i] = ranked{concept{c, vecs[i+1]}, embed.Cosine(vecs[i+1], refVec)}
	}
	slices.SortStableFunc(all, func(a, b ranked) int { return cmp.Compare(b.sim, a.sim) })

	n := min(len(all), max(s.cfg.MaxConcepts, 1))
	out := make([]concept, n)
	for i := range out {
		out[i] = all[i].concept
	}
	return out, refVec, nil
}

// matchRule returns the name of the first rule under which the concept counts
// as present in the student answer, or "".
func (s *Scorer) matchRule(c string, best float64, studentKeys map[string]bool, lowerStudent string) string {
	conceptKeys := keywords(c)
	fuzzy := fuzzyOverlap(conceptKeys, studentKeys)
	switch {
	case best > s.cfg.StrongMatch:
		return "strong"
	case best > s.cfg.KeywordMatch && intersects(conceptKeys, studentKeys):
		return "keyword"
	case best > s.cfg.FuzzyMatch && fuzzy:
		return "fuzzy-similar"
	case strings.Contains(lowerStudent, strings.ToLower(c)):
		return "literal"
	case fuzzy:
		return "fuzzy"
	}
	return ""
}

// combine blends concept coverage and overall similarity into a 0..1 score.
func combine(coverage, sim float64, studentWords, refWords int) float64 {
	score := 0.85 * coverage
	if sim > 0.3 {
		score += 0.15 * clamp((sim-0.3)/0.7)
	}

	switch {
	case sim > 0.6:
		score = max(score, 0.95*sim)
	case sim > 0.45:
		score = max(score, 0.85*sim)
	case sim > 0.3:
		score = max(score, 0.7*sim)
	}

	if (coverage > 0 || sim > 0.3) && refWords > 0 {
		score += 0.1 * min(1, float64(studentWords)/float64(refWords))
	}
	if studentWords >= 5 {
		score = max(score, 0.20)
	}
	return clamp(score)
}

func feedback(ctx context.Context, final float64, missing []string) string {
	var band string
	switch {
	case final >= 0.75:
		band = "FeedbackExcellent"
	case final >= 0.5:
		band = "FeedbackGood"
	case final >= 0.25:
		band = "FeedbackPartial"
	default:
		band = "FeedbackNeedsDetail"
	}
	msg := i18n.T(ctx, band)
	if len(missing) == 0 {
		return msg
	}
	named := missing[:min(2, len(missing))]
	quoted := make([]string, len(named))
	for i, m := range named {
		quoted[i] = "'" + m + "'"
	}
	return msg + " " + i18n.Td(ctx, "FeedbackConsider", map[string]any{"Concepts": strings.Join(quoted, ", ")})
}

func clamp(x float64) float64 {
	return max(0, min(1, x))
}

func round(x float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(x*p) / p
}
