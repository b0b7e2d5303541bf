package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/sheetgrader/internal/i18n"
	"github.com/pavelanni/sheetgrader/internal/model"
	"github.com/pavelanni/sheetgrader/internal/ocr"
	"github.com/pavelanni/sheetgrader/internal/schema"
	"github.com/pavelanni/sheetgrader/internal/store"
	"github.com/pavelanni/sheetgrader/internal/worker"
)

const maxUploadBytes = 64 << 20

// Submitter queues evaluation jobs.
type Submitter interface {
	Submit(job worker.Job) error
}

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store     *store.Store
	jobs      Submitter
	uploadDir string
}

// New creates a new Handler. Uploaded pages are kept under uploadDir until
// their evaluation finishes.
func New(s *store.Store, jobs Submitter, uploadDir string) (*Handler, error) {
	if err := os.MkdirAll(uploadDir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &Handler{store: s, jobs: jobs, uploadDir: uploadDir}, nil
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/healthz", h.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Post("/schema", h.handleSchema)
		r.Post("/evaluations", h.handleCreateEvaluation)
		r.Get("/evaluations", h.handleListEvaluations)
		r.Get("/evaluations/{id}", h.handleGetEvaluation)
		r.Get("/evaluations/{id}/report", h.handleGetReport)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleSchema parses question paper text from the request body.
func (h *Handler) handleSchema(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxUploadBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	writeJSON(w, http.StatusOK, schema.Build(string(data)))
}

func (h *Handler) handleCreateEvaluation(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(16 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart upload")
		return
	}
	form := r.MultipartForm
	defer form.RemoveAll()

	if len(form.File["model_answer"]) == 0 || len(form.File["student_answer"]) == 0 {
		writeError(w, http.StatusBadRequest, "model_answer and student_answer are required")
		return
	}

	var override *model.Schema
	if files := form.File["schema"]; len(files) > 0 {
		s, err := readSchema(files[0])
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		override = s
	}

	dir, err := os.MkdirTemp(h.uploadDir, "eval-*")
	if err != nil {
		slog.Error("create upload dir", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	cleanup := func() {
		if err := os.RemoveAll(dir); err != nil {
			slog.Warn("remove upload dir", "dir", dir, "error", err)
		}
	}

	var docs model.Documents
	for _, f := range []struct {
		field string
		dst   *[]string
	}{
		{"question_paper", &docs.QuestionPaper},
		{"model_answer", &docs.ModelAnswer},
		{"student_answer", &docs.StudentAnswer},
	} {
		paths, err := savePages(dir, f.field, form.File[f.field])
		if err != nil {
			cleanup()
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		*f.dst = paths
	}

	id, err := h.store.CreateEvaluation(model.Evaluation{Label: r.FormValue("label")})
	if err != nil {
		cleanup()
		slog.Error("create evaluation", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	if err := h.jobs.Submit(worker.Job{
		ID:      id,
		Docs:    docs,
		Schema:  override,
		Lang:    i18n.LangFrom(r.Context()),
		Cleanup: cleanup,
	}); err != nil {
		cleanup()
		_ = h.store.FailEvaluation(id, err.Error())
		status := http.StatusInternalServerError
		if errors.Is(err, worker.ErrQueueFull) {
			status = http.StatusServiceUnavailable
		}
		writeError(w, status, err.Error())
		return
	}

	slog.Info("evaluation queued", "id", id, "pages",
		len(docs.QuestionPaper)+len(docs.ModelAnswer)+len(docs.StudentAnswer))
	writeJSON(w, http.StatusAccepted, map[string]string{"id": id})
}

func readSchema(fh *multipart.FileHeader) (*model.Schema, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("open schema: %w", err)
	}
	defer f.Close()
	var s model.Schema
	if err := json.NewDecoder(f).Decode(&s); err != nil {
		return nil, fmt.Errorf("invalid schema JSON: %w", err)
	}
	return &s, nil
}

// savePages copies uploaded pages into dir, keeping their order and extension.
func savePages(dir, field string, files []*multipart.FileHeader) ([]string, error) {
	paths := make([]string, 0, len(files))
	for i, fh := range files {
		name := filepath.Base(fh.Filename)
		if !ocr.IsSupported(name) {
			return nil, fmt.Errorf("%s: unsupported file type %q", field, name)
		}
		dst := filepath.Join(dir, fmt.Sprintf("%s-%03d%s", field, i+1, filepath.Ext(name)))
		if err := copyUpload(fh, dst); err != nil {
			return nil, fmt.Errorf("%s: %w", field, err)
		}
		paths = append(paths, dst)
	}
	return paths, nil
}

func copyUpload(fh *multipart.FileHeader, dst string) error {
	src, err := fh.Open()
	if err != nil {
		return fmt.Errorf("open upload: %w", err)
	}
	defer src.Close()
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create page file: %w", err)
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		return fmt.Errorf("write page file: %w", err)
	}
	return out.Close()
}

func (h *Handler) handleListEvaluations(w http.ResponseWriter, r *http.Request) {
	evals, err := h.store.ListEvaluations()
	if err != nil {
		slog.Error("list evaluations", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if evals == nil {
		evals = []model.Evaluation{}
	}
	writeJSON(w, http.StatusOK, evals)
}

func (h *Handler) getEvaluation(w http.ResponseWriter, r *http.Request) (model.Evaluation, bool) {
	ev, err := h.store.GetEvaluation(chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "evaluation not found")
		return ev, false
	}
	if err != nil {
		slog.Error("get evaluation", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return ev, false
	}
	return ev, true
}

func (h *Handler) handleGetEvaluation(w http.ResponseWriter, r *http.Request) {
	ev, ok := h.getEvaluation(w, r)
	if !ok {
		return
	}
	ev.Report = nil
	writeJSON(w, http.StatusOK, ev)
}

func (h *Handler) handleGetReport(w http.ResponseWriter, r *http.Request) {
	ev, ok := h.getEvaluation(w, r)
	if !ok {
		return
	}
	if ev.Status != model.StatusCompleted || ev.Report == nil {
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":  "evaluation not completed",
			"status": ev.Status,
			"stage":  ev.Stage,
		})
		return
	}
	writeJSON(w, http.StatusOK, ev.Report)
}
