// Package worker runs evaluations in the background so HTTP clients can poll
// their progress.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/pavelanni/sheetgrader/internal/grader"
	"github.com/pavelanni/sheetgrader/internal/i18n"
	"github.com/pavelanni/sheetgrader/internal/model"
)

// ErrQueueFull is returned by Submit when no queue slot is free.
var ErrQueueFull = errors.New("evaluation queue is full")

// Job is one queued evaluation.
type Job struct {
	ID     string
	Docs   model.Documents
	Schema *model.Schema // optional override
	Lang   string        // feedback language; empty uses the grader's default
	// Cleanup runs after the job finishes, successfully or not.
	Cleanup func()
}

// Runner executes the grading pipeline.
type Runner interface {
	Run(ctx context.Context, docs model.Documents, override *model.Schema, progress grader.ProgressFunc) (*grader.Result, error)
}

// Tracker records job state.
type Tracker interface {
	UpdateProgress(id string, stage model.Stage, progress int) error
	CompleteEvaluation(id string, report *model.Report) error
	FailEvaluation(id, msg string) error
}

// Pool is a fixed set of workers draining a job queue.
type Pool struct {
	runner  Runner
	tracker Tracker
	jobs    chan Job
	workers int
	timeout time.Duration
	log     *slog.Logger
	wg      sync.WaitGroup
}

// New creates a pool. timeout bounds each job; zero means no limit.
func New(runner Runner, tracker Tracker, workers, queue int, timeout time.Duration) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queue < 1 {
		queue = 1
	}
	return &Pool{
		runner:  runner,
		tracker: tracker,
		jobs:    make(chan Job, queue),
		workers: workers,
		timeout: timeout,
		log:     slog.With("component", "worker"),
	}
}

// Start launches the workers. They stop when ctx is cancelled; queued jobs
// that never started are failed.
func (p *Pool) Start(ctx context.Context) {
	p.log.Info("worker pool started", "workers", p.workers)
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.loop(ctx)
		}()
	}
}

// Wait blocks until every worker has returned.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Submit queues a job without blocking.
func (p *Pool) Submit(job Job) error {
	select {
	case p.jobs <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

func (p *Pool) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.drain()
			return
		case job := <-p.jobs:
			p.run(ctx, job)
		}
	}
}

func (p *Pool) drain() {
	for {
		select {
		case job := <-p.jobs:
			p.fail(job.ID, "server shutting down")
			if job.Cleanup != nil {
				job.Cleanup()
			}
		default:
			return
		}
	}
}

func (p *Pool) run(ctx context.Context, job Job) {
	if job.Cleanup != nil {
		defer job.Cleanup()
	}
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	if job.Lang != "" {
		ctx = i18n.WithLang(ctx, job.Lang)
	}

	log := p.log.With("evaluation", job.ID)
	log.Info("evaluation started")
	start := time.Now()

	res, err := p.runner.Run(ctx, job.Docs, job.Schema, func(stage model.Stage, percent int) {
		if err := p.tracker.UpdateProgress(job.ID, stage, percent); err != nil {
			log.Warn("progress update failed", "stage", stage, "error", err)
		}
	})
	if err != nil {
		log.Error("evaluation failed", "error", err)
		p.fail(job.ID, err.Error())
		return
	}
	if err := p.tracker.CompleteEvaluation(job.ID, res.Report); err != nil {
		log.Error("store report", "error", err)
		return
	}
	log.Info("evaluation completed", "total", res.Report.TotalScore, "max", res.Report.MaxScore, "duration", time.Since(start))
}

func (p *Pool) fail(id, msg string) {
	if err := p.tracker.FailEvaluation(id, msg); err != nil {
		p.log.Error("mark evaluation failed", "evaluation", id, "error", err)
	}
}
