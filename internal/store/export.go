package store

import (
	"fmt"
	"time"

	"github.com/pavelanni/sheetgrader/internal/model"
)

// ExportEvaluations builds the export document with every evaluation and its report.
func (s *Store) ExportEvaluations() (model.EvaluationExport, error) {
	list, err := s.ListEvaluations()
	if err != nil {
		return model.EvaluationExport{}, fmt.Errorf("list evaluations: %w", err)
	}

	evals := make([]model.Evaluation, 0, len(list))
	for _, ev := range list {
		full, err := s.GetEvaluation(ev.ID)
		if err != nil {
			return model.EvaluationExport{}, fmt.Errorf("get evaluation %s: %w", ev.ID, err)
		}
		evals = append(evals, full)
	}

	return model.EvaluationExport{
		ExportedAt:  time.Now().UTC(),
		Count:       len(evals),
		Evaluations: evals,
	}, nil
}
