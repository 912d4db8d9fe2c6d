package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/desertthunder/lsync/internal/models"
	"github.com/desertthunder/lsync/internal/shared"
	"github.com/desertthunder/lsync/internal/tasks"
)

// JobRunner runs one job to completion.
type JobRunner interface {
	Run(ctx context.Context, kind models.JobKind, jobID int64, progress chan<- tasks.ProgressUpdate) (*tasks.Result, error)
}

// Pool consumes a queue with a fixed number of workers.
type Pool struct {
	queue   Queue
	runner  JobRunner
	workers int
	logger  *log.Logger
}

// NewPool creates a pool of workers (default: 1).
func NewPool(q Queue, runner JobRunner, workers int, logger *log.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Pool{
		queue:   q,
		runner:  runner,
		workers: workers,
		logger:  shared.WithLogger(logger, "component", "pool"),
	}
}

// Run blocks until ctx is done and every worker has returned.
func (p *Pool) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	p.logger.Info("worker pool started", "workers", p.workers)
	for i := range p.workers {
		logger := shared.WithLogger(p.logger, "worker", i)
		g.Go(func() error {
			if err := p.queue.Consume(gctx, p.handler(logger)); err != nil {
				return fmt.Errorf("worker %d: %w", i, err)
			}
			return nil
		})
	}

	err := g.Wait()
	p.logger.Info("worker pool stopped")
	return err
}

// handler returns an error only for ledger failures, so the backend may redeliver. Workflow failures are already
// recorded on the job, and a message the runner rejects as invalid is acknowledged since redelivery cannot fix it.
func (p *Pool) handler(logger *log.Logger) Handler {
	return func(ctx context.Context, msg Message) error {
		logger.Info("job received", "job_id", msg.JobID, "kind", msg.Kind)

		result, err := p.runner.Run(ctx, msg.Kind, msg.JobID, nil)
		if errors.Is(err, shared.ErrInvalidInput) {
			logger.Error("discarding invalid job message", "job_id", msg.JobID, "kind", msg.Kind, "error", err)
			return nil
		}
		if err != nil {
			return err
		}
		if result.OK {
			logger.Info("job done", "job_id", msg.JobID, "message", result.Message)
		} else {
			logger.Warn("job not successful", "job_id", msg.JobID, "error", result.Error)
		}
		return nil
	}
}
