package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pavelanni/sheetgrader/internal/model"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when an evaluation does not exist.
var ErrNotFound = errors.New("not found")

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every pooled connection would get its own empty database.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS evaluations (
		id TEXT PRIMARY KEY,
		label TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'queued',
		stage TEXT NOT NULL DEFAULT 'queued',
		progress INTEGER NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT '',
		total_score REAL NOT NULL DEFAULT 0,
		max_score REAL NOT NULL DEFAULT 0,
		report TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS embeddings (
		key TEXT PRIMARY KEY,
		dim INTEGER NOT NULL,
		vector BLOB NOT NULL
	);

	CREATE TABLE IF NOT EXISTS store_metadata (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// CreateEvaluation stores a new queued evaluation and returns its ID.
// A missing ID is generated.
func (s *Store) CreateEvaluation(ev model.Evaluation) (string, error) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Status == "" {
		ev.Status = model.StatusQueued
	}
	if ev.Stage == "" {
		ev.Stage = model.StageQueued
	}
	now := time.Now().UTC()
	_, err := s.db.Exec(
		`INSERT INTO evaluations (id, label, status, stage, progress, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.Label, ev.Status, ev.Stage, ev.Progress, now, now,
	)
	if err != nil {
		return "", fmt.Errorf("insert evaluation: %w", err)
	}
	return ev.ID, nil
}

const evaluationColumns = `id, label, status, stage, progress, error, total_score, max_score, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanEvaluation(row scanner, report *sql.NullString) (model.Evaluation, error) {
	var ev model.Evaluation
	dest := []any{&ev.ID, &ev.Label, &ev.Status, &ev.Stage, &ev.Progress, &ev.Error,
		&ev.TotalScore, &ev.MaxScore, &ev.CreatedAt, &ev.UpdatedAt}
	if report != nil {
		dest = append(dest, report)
	}
	if err := row.Scan(dest...); err != nil {
		return ev, err
	}
	if report != nil && report.Valid && report.String != "" {
		var r model.Report
		if err := json.Unmarshal([]byte(report.String), &r); err != nil {
			return ev, fmt.Errorf("decode report %s: %w", ev.ID, err)
		}
		ev.Report = &r
	}
	return ev, nil
}

// GetEvaluation returns an evaluation with its report.
func (s *Store) GetEvaluation(id string) (model.Evaluation, error) {
	var report sql.NullString
	ev, err := scanEvaluation(s.db.QueryRow(
		`SELECT `+evaluationColumns+`, report FROM evaluations WHERE id = ?`, id,
	), &report)
	if errors.Is(err, sql.ErrNoRows) {
		return ev, ErrNotFound
	}
	return ev, err
}

// ListEvaluations returns all evaluations, newest first, without reports.
func (s *Store) ListEvaluations() ([]model.Evaluation, error) {
	rows, err := s.db.Query(`SELECT ` + evaluationColumns + ` FROM evaluations ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var evals []model.Evaluation
	for rows.Next() {
		ev, err := scanEvaluation(rows, nil)
		if err != nil {
			return nil, err
		}
		evals = append(evals, ev)
	}
	return evals, rows.Err()
}

// UpdateProgress records the running stage of an evaluation.
func (s *Store) UpdateProgress(id string, stage model.Stage, progress int) error {
	return s.update(id,
		`UPDATE evaluations SET status = ?, stage = ?, progress = ?, updated_at = ? WHERE id = ?`,
		model.StatusRunning, stage, progress, time.Now().UTC(), id)
}

// CompleteEvaluation stores the final report.
func (s *Store) CompleteEvaluation(id string, report *model.Report) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return s.update(id,
		`UPDATE evaluations SET status = ?, stage = ?, progress = 100, error = '',
		 total_score = ?, max_score = ?, report = ?, updated_at = ? WHERE id = ?`,
		model.StatusCompleted, model.StageDone, report.TotalScore, report.MaxScore, string(data), time.Now().UTC(), id)
}

// FailEvaluation marks an evaluation as failed with a message.
func (s *Store) FailEvaluation(id, msg string) error {
	return s.update(id,
		`UPDATE evaluations SET status = ?, error = ?, updated_at = ? WHERE id = ?`,
		model.StatusFailed, msg, time.Now().UTC(), id)
}

func (s *Store) update(id, query string, args ...any) error {
	res, err := s.db.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("update evaluation %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}
