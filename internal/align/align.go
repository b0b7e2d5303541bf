// Package align pairs a student's answers with the model answers, scores each
// pair, and folds the records into an exam report honoring OR groups,
// challenge questions and the paper's detected total.
package align

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"unicode"

	"github.com/pavelanni/sheetgrader/internal/embed"
	"github.com/pavelanni/sheetgrader/internal/i18n"
	"github.com/pavelanni/sheetgrader/internal/model"
	"github.com/pavelanni/sheetgrader/internal/scoring"
)

// Scorer grades one student answer against one model answer.
type Scorer interface {
	Score(ctx context.Context, student, reference string) (scoring.Result, error)
}

// Aligner builds exam reports.
type Aligner struct {
	scorer Scorer
	emb    embed.Embedder
	cfg    model.GradingConfig
}

// New creates an Aligner. emb is used only for the similarity fallback.
func New(scorer Scorer, emb embed.Embedder, cfg model.GradingConfig) *Aligner {
	return &Aligner{scorer: scorer, emb: emb, cfg: cfg}
}

// question is a model key with its resolved schema entry.
type question struct {
	key   string
	marks float64
	typ   model.QuestionType
	group string
}

// match is the student answer chosen for a model key.
type match struct {
	studentKey string
	strategy   model.MatchStrategy
}

// Align scores student against reference under schema, which may be nil.
// Missing answers become "Not Attempted" records; only embedding or scoring
// backend failures return an error.
func (a *Aligner) Align(ctx context.Context, student, reference model.SegmentMap, schema *model.Schema) (*model.Report, error) {
	questions := a.resolve(reference, schema)

	consumed := make(map[string]bool)
	matches := matchByKey(questions, student, consumed)
	if err := a.matchBySimilarity(ctx, questions, student, reference, matches, consumed); err != nil {
		return nil, err
	}

	records := make([]model.ScoreRecord, 0, len(questions))
	for _, q := range questions {
		rec, err := a.score(ctx, q, matches[q.key], student, reference)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	report := tally(ctx, records)
	if schema != nil && schema.TotalMarks > 0 {
		rescale(report, float64(schema.TotalMarks))
	}
	slices.SortStableFunc(report.Breakdown, func(x, y model.ScoreRecord) int {
		return model.CompareKeys(x.Question, y.Question)
	})
	return report, nil
}

// resolve looks up every model key in the schema. Keys without an entry get
// the default marks; keys resolved through their base number share the base
// entry's marks evenly with their siblings.
func (a *Aligner) resolve(reference model.SegmentMap, schema *model.Schema) []question {
	var keys []string
	for _, k := range reference.Keys() {
		if !model.IsInternalKey(k) {
			keys = append(keys, k)
		}
	}

	defaultMarks := float64(a.cfg.DefaultMarks)
	if schema != nil && schema.TotalMarks > 0 && len(keys) > 0 {
		defaultMarks = float64(schema.TotalMarks) / float64(len(keys))
	}
	if schema.IsEmpty() {
		slog.Debug("no schema entries, using default marks", "marks", defaultMarks)
	}

	viaBase := make(map[string]int)
	for _, k := range keys {
		if _, via := schema.Lookup(k); via != "" && via != k {
			viaBase[via]++
		}
	}

	out := make([]question, 0, len(keys))
	for _, k := range keys {
		q := question{key: k, marks: defaultMarks, typ: model.TypeMandatory, group: k}
		entry, via := schema.Lookup(k)
		if via != "" {
			q.typ = entry.Type
			if entry.Group != "" {
				q.group = entry.Group
			}
			if entry.MaxMarks > 0 {
				q.marks = float64(entry.MaxMarks)
				if via != k {
					q.marks /= float64(viaBase[via])
				}
			}
		}
		out = append(out, q)
	}
	return out
}

// matchByKey pairs model keys with the identical student key, else with the
// student key equal to their base number. Matched student keys are added to
// consumed and never reused.
func matchByKey(questions []question, student model.SegmentMap, consumed map[string]bool) map[string]match {
	matches := make(map[string]match)
	for _, q := range questions {
		if _, ok := student[q.key]; ok && !consumed[q.key] {
			consumed[q.key] = true
			matches[q.key] = match{q.key, model.MatchExact}
			continue
		}
		base := model.BaseNumber(q.key)
		if _, ok := student[base]; ok && base != q.key && !consumed[base] {
			consumed[base] = true
			matches[q.key] = match{base, model.MatchBase}
		}
	}
	return matches
}

// matchBySimilarity assigns each still-unmatched model key the unconsumed
// student answer most similar to it, if the similarity clears the fallback
// threshold. Each accepted student key is consumed before the next model key
// is considered.
func (a *Aligner) matchBySimilarity(ctx context.Context, questions []question, student, reference model.SegmentMap, matches map[string]match, consumed map[string]bool) error {
	var pending []string
	for _, q := range questions {
		if _, ok := matches[q.key]; !ok {
			pending = append(pending, q.key)
		}
	}
	var candidates []string
	for _, k := range student.Keys() {
		if !consumed[k] && !model.IsInternalKey(k) && nonSpaceLen(student[k]) >= a.cfg.FallbackMinChars {
			candidates = append(candidates, k)
		}
	}
	if len(pending) == 0 || len(candidates) == 0 {
		return nil
	}

	texts := make([]string, 0, len(pending)+len(candidates))
	for _, k := range pending {
		texts = append(texts, a.truncate(reference[k]))
	}
	for _, k := range candidates {
		texts = append(texts, a.truncate(student[k]))
	}
	vecs, err := a.emb.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed fallback candidates: %w", err)
	}
	if len(vecs) != len(texts) {
		return fmt.Errorf("embed fallback candidates: got %d vectors for %d texts", len(vecs), len(texts))
	}
	candVecs := vecs[len(pending):]

	for i, k := range pending {
		best, bestSim := -1, a.cfg.FallbackSimilarity
		for j, c := range candidates {
			if consumed[c] {
				continue
			}
			if sim := embed.Cosine(vecs[i], candVecs[j]); sim > bestSim {
				best, bestSim = j, sim
			}
		}
		if best < 0 {
			slog.Debug("no fallback match", "question", k)
			continue
		}
		c := candidates[best]
		consumed[c] = true
		matches[k] = match{c, model.MatchSemantic}
		slog.Debug("fallback match", "question", k, "student_key", c, "similarity", math.Round(bestSim*100)/100)
	}
	return nil
}

func (a *Aligner) truncate(s string) string {
	if a.cfg.FallbackTruncate <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= a.cfg.FallbackTruncate {
		return s
	}
	return string(r[:a.cfg.FallbackTruncate])
}

func (a *Aligner) score(ctx context.Context, q question, m match, student, reference model.SegmentMap) (model.ScoreRecord, error) {
	rec := model.ScoreRecord{
		Question: q.key,
		MaxMarks: q.marks,
		Type:     q.typ,
		Group:    q.group,
		Strategy: model.MatchNone,
	}
	if m.studentKey == "" {
		rec.Feedback = i18n.T(ctx, "NotAttempted")
		return rec, nil
	}

	res, err := a.scorer.Score(ctx, student[m.studentKey], reference[q.key])
	if err != nil {
		return rec, fmt.Errorf("score question %s: %w", q.key, err)
	}
	rec.Score = round1(res.Score / scoring.MaxScore * q.marks)
	rec.Feedback = res.Feedback
	rec.Details = res.Details
	rec.StudentKey = m.studentKey
	rec.Strategy = m.strategy
	return rec, nil
}

// tally selects the counted records and sums them. Challenge questions never
// count. Inside a group, records are gathered into alternatives by base
// number and only the best-scoring alternative counts.
func tally(ctx context.Context, records []model.ScoreRecord) *model.Report {
	report := &model.Report{Breakdown: records}

	var groups []string
	buckets := make(map[string][]int)
	for i := range records {
		r := &records[i]
		if r.Type == model.TypeChallenge {
			r.Selected = false
			r.Feedback = appendNote(r.Feedback, i18n.T(ctx, "NotCountedChallenge"))
			continue
		}
		if _, ok := buckets[r.Group]; !ok {
			groups = append(groups, r.Group)
		}
		buckets[r.Group] = append(buckets[r.Group], i)
	}

	for _, g := range groups {
		idx := buckets[g]
		winner := bestAlternative(records, idx)
		if len(idx) > 1 {
			slog.Debug("OR group resolved", "group", g, "alternative", winner, "records", len(idx))
		}
		for _, i := range idx {
			r := &records[i]
			if model.BaseNumber(r.Question) == winner {
				r.Selected = true
				report.TotalScore += r.Score
				report.MaxScore += r.MaxMarks
				continue
			}
			r.Selected = false
			r.Feedback = appendNote(r.Feedback, i18n.Td(ctx, "NotCountedAlternative", map[string]any{"Group": g}))
		}
	}
	report.TotalScore = round1(report.TotalScore)
	report.MaxScore = round1(report.MaxScore)
	return report
}

// bestAlternative returns the base number whose records in idx have the
// highest summed score. Ties go to the alternative seen first.
func bestAlternative(records []model.ScoreRecord, idx []int) string {
	var order []string
	sums := make(map[string]float64)
	for _, i := range idx {
		b := model.BaseNumber(records[i].Question)
		if _, ok := sums[b]; !ok {
			order = append(order, b)
		}
		sums[b] += records[i].Score
	}
	best := order[0]
	for _, b := range order[1:] {
		if sums[b] > sums[best] {
			best = b
		}
	}
	return best
}

// rescale maps the counted totals onto the paper's detected total.
func rescale(report *model.Report, total float64) {
	computed := report.MaxScore
	if computed <= 0 || computed == total {
		return
	}
	f := total / computed
	slog.Debug("rescaling to detected total", "computed", computed, "detected", total)
	for i := range report.Breakdown {
		r := &report.Breakdown[i]
		if !r.Selected {
			continue
		}
		r.Score = round1(r.Score * f)
		r.MaxMarks = round1(r.MaxMarks * f)
	}
	report.TotalScore = round1(report.TotalScore * f)
	report.MaxScore = total
}

func appendNote(feedback, note string) string {
	if feedback == "" {
		return note
	}
	return feedback + " " + note
}

func nonSpaceLen(s string) int {
	n := 0
	for _, r := range s {
		if !unicode.IsSpace(r) {
			n++
		}
	}
	return n
}

func round1(x float64) float64 {
	return math.Round(x*10) / 10
}
