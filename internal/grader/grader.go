// Package grader runs the full evaluation pipeline: document extraction,
// schema detection, segmentation, normalization and alignment.
package grader

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/pavelanni/sheetgrader/internal/align"
	"github.com/pavelanni/sheetgrader/internal/embed"
	"github.com/pavelanni/sheetgrader/internal/i18n"
	"github.com/pavelanni/sheetgrader/internal/llm/prompts"
	"github.com/pavelanni/sheetgrader/internal/model"
	"github.com/pavelanni/sheetgrader/internal/schema"
	"github.com/pavelanni/sheetgrader/internal/scoring"
	"github.com/pavelanni/sheetgrader/internal/segment"
	"github.com/pavelanni/sheetgrader/internal/textnorm"
)

// twoFileMinContent is the marker content floor used when there is no
// question paper to say which markers are real.
const twoFileMinContent = 10

// Extractor returns the raw text of a multi-page document.
type Extractor interface {
	Document(ctx context.Context, kind prompts.Kind, paths []string) (string, error)
}

// ProgressFunc is told when the pipeline enters a stage.
type ProgressFunc func(stage model.Stage, percent int)

// Texts are the raw OCR texts of the three documents.
type Texts struct {
	QuestionPaper string
	ModelAnswer   string
	StudentAnswer string
}

// Result is everything one evaluation produced.
type Result struct {
	Report  *model.Report
	Schema  *model.Schema
	Model   model.SegmentMap
	Student model.SegmentMap
}

// Grader evaluates answer sheets.
type Grader struct {
	extractor Extractor
	aligner   *align.Aligner
	cfg       model.GradingConfig
}

// New creates a Grader. emb is shared by concept scoring and fallback matching.
func New(extractor Extractor, emb embed.Embedder, cfg model.GradingConfig) *Grader {
	return &Grader{
		extractor: extractor,
		aligner:   align.New(scoring.New(emb, cfg), emb, cfg),
		cfg:       cfg,
	}
}

// Run extracts the documents and evaluates them. override, when non-nil,
// replaces the schema detected from the question paper.
func (g *Grader) Run(ctx context.Context, docs model.Documents, override *model.Schema, progress ProgressFunc) (*Result, error) {
	progress = orNop(progress)
	progress(model.StageExtracting, 10)

	texts, err := g.extract(ctx, docs, override != nil)
	if err != nil {
		return nil, err
	}
	return g.Evaluate(ctx, texts, override, progress)
}

func (g *Grader) extract(ctx context.Context, docs model.Documents, skipPaper bool) (Texts, error) {
	var texts Texts
	eg, ctx := errgroup.WithContext(ctx)
	run := func(dst *string, kind prompts.Kind, paths []string) {
		if len(paths) == 0 {
			return
		}
		eg.Go(func() error {
			text, err := g.extractor.Document(ctx, kind, paths)
			if err != nil {
				return fmt.Errorf("extract %s: %w", kind, err)
			}
			*dst = text
			return nil
		})
	}
	if !skipPaper {
		run(&texts.QuestionPaper, prompts.KindQuestionPaper, docs.QuestionPaper)
	}
	run(&texts.ModelAnswer, prompts.KindAnswerSheet, docs.ModelAnswer)
	run(&texts.StudentAnswer, prompts.KindAnswerSheet, docs.StudentAnswer)
	if err := eg.Wait(); err != nil {
		return Texts{}, err
	}
	return texts, nil
}

// Evaluate grades already-extracted texts.
func (g *Grader) Evaluate(ctx context.Context, texts Texts, override *model.Schema, progress ProgressFunc) (*Result, error) {
	progress = orNop(progress)
	if i18n.LangFrom(ctx) == "" {
		ctx = i18n.WithLang(ctx, g.cfg.Lang)
	}

	if strings.TrimSpace(texts.ModelAnswer) == "" {
		slog.Warn("model answer produced no text")
	}
	if strings.TrimSpace(texts.StudentAnswer) == "" {
		slog.Warn("student answer produced no text")
	}

	progress(model.StageSchema, 30)
	sch := override
	twoFile := false
	if sch == nil {
		if strings.TrimSpace(texts.QuestionPaper) == "" {
			twoFile = true
			sch = model.NewSchema()
		} else {
			sch = schema.Build(texts.QuestionPaper)
		}
	}
	if sch.IsEmpty() {
		slog.Warn("no question schema, using default marks", "default_marks", g.cfg.DefaultMarks)
	}

	progress(model.StageSegmenting, 45)
	opts := segment.Options{MinContent: g.cfg.MinSegmentChars, RecoverRate: g.cfg.PageAwareRecoverRate}
	if twoFile && opts.MinContent == 0 {
		opts.MinContent = twoFileMinContent
	}
	parser := segment.New(opts)
	modelSegs := parser.Parse(texts.ModelAnswer, sch.Keys())
	studentSegs := parser.Parse(texts.StudentAnswer, modelSegs.Keys())
	slog.Debug("segmented", "model_keys", modelSegs.Keys(), "student_keys", studentSegs.Keys())

	progress(model.StageNormalizing, 60)
	modelSegs, studentSegs = g.normalize(modelSegs, studentSegs)

	progress(model.StageAligning, 75)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	report, err := g.aligner.Align(ctx, studentSegs, modelSegs, sch)
	if err != nil {
		return nil, fmt.Errorf("align answers: %w", err)
	}

	progress(model.StageDone, 100)
	slog.Info("evaluation finished",
		"questions", len(report.Breakdown),
		"total", report.TotalScore,
		"max", report.MaxScore)
	return &Result{Report: report, Schema: sch, Model: modelSegs, Student: studentSegs}, nil
}

// normalize cleans both maps and corrects student spelling toward the model's
// vocabulary. Keys left without content are dropped.
func (g *Grader) normalize(modelSegs, studentSegs model.SegmentMap) (model.SegmentMap, model.SegmentMap) {
	cleanModel := make(model.SegmentMap, len(modelSegs))
	var vocabText []string
	for k, v := range modelSegs {
		c := textnorm.Clean(v)
		cleanModel.Append(k, c)
		vocabText = append(vocabText, c)
	}
	dict := textnorm.NewDictionary(textnorm.VocabularyOf(vocabText...)...)

	cleanStudent := make(model.SegmentMap, len(studentSegs))
	for k, v := range studentSegs {
		cleanStudent.Append(k, textnorm.CorrectSpelling(textnorm.Clean(v), dict, g.cfg.SpellingCutoff))
	}
	return cleanModel, cleanStudent
}

func orNop(p ProgressFunc) ProgressFunc {
	if p == nil {
		return func(model.Stage, int) {}
	}
	return p
}
