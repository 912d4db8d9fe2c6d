package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"

	"github.com/desertthunder/lsync/internal/models"
	"github.com/desertthunder/lsync/internal/services"
	"github.com/desertthunder/lsync/internal/shared"
)

// resultPreview caps how many created task ids an import result carries.
const resultPreview = 10

// LabelingClient defines the Label Studio operations the runners need.
// This abstraction allows for easier testing and decoupling from the concrete client.
type LabelingClient interface {
	MaxTaskID(ctx context.Context, projectID int64) (int64, error)
	ListNewTaskIDs(ctx context.Context, projectID, afterID int64, limit int) ([]int64, error)
	BulkImport(ctx context.Context, projectID int64, payload any) (json.RawMessage, error)
	PollImport(ctx context.Context, projectID, importID int64) error
	FetchTask(ctx context.Context, taskID int64) (*services.TaskDetail, error)
}

// JobStore persists job state transitions.
type JobStore interface {
	Get(ctx context.Context, id int64) (*models.Job, error)
	MarkRunning(ctx context.Context, id int64) error
	Finish(ctx context.Context, id int64, status models.JobStatus, message string) error
}

// DatasetStore loads datasets with their items.
type DatasetStore interface {
	Get(ctx context.Context, id int64) (*models.Dataset, error)
}

// TaskStore records imported tasks and their labels.
type TaskStore interface {
	CreateImported(ctx context.Context, datasetID, projectID int64, lsTaskIDs []int64) (int, error)
	ListImported(ctx context.Context, datasetID int64) ([]*models.Task, error)
	MarkLabeled(ctx context.Context, id int64, annotationJSON json.RawMessage, label *string) error
}

// SnapshotWriter stores a rendered copy of a dataset's labeled tasks and returns where it was written.
type SnapshotWriter interface {
	WriteSnapshot(ctx context.Context, datasetID, jobID int64, tasks []*models.Task) ([]string, error)
}

// Result is the outcome of a single run, as reported to the scheduler and the CLI.
type Result struct {
	OK        bool             `json:"ok"`
	JobID     int64            `json:"job_id"`
	Kind      models.JobKind   `json:"kind"`
	Status    models.JobStatus `json:"status,omitempty"`
	Message   string           `json:"message,omitempty"`
	Error     string           `json:"error,omitempty"`
	Imported  int              `json:"imported,omitempty"`
	Exported  int              `json:"exported,omitempty"`
	LSTaskIDs []int64          `json:"ls_task_ids,omitempty"`
	Artifacts []string         `json:"artifacts,omitempty"`
}

// EngineOpts contains configuration for an [Engine].
type EngineOpts struct {
	ProjectID int64          // Label Studio project every job targets
	RateLimit float64        // Export task fetches per second (default: 5)
	Snapshots SnapshotWriter // Optional export snapshot sink
	Logger    *log.Logger
}

// Engine runs import and export jobs.
//
// The export rate limiter is shared by every run on the engine, so concurrent exports stay within one budget.
type Engine struct {
	client    LabelingClient
	jobs      JobStore
	datasets  DatasetStore
	tasks     TaskStore
	projectID int64
	limiter   *rate.Limiter
	snapshots SnapshotWriter
	logger    *log.Logger
}

// NewEngine creates an Engine with the provided client and stores.
func NewEngine(client LabelingClient, jobs JobStore, datasets DatasetStore, tasks TaskStore, opts EngineOpts) *Engine {
	if opts.RateLimit <= 0 {
		opts.RateLimit = 5.0
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}

	return &Engine{
		client:    client,
		jobs:      jobs,
		datasets:  datasets,
		tasks:     tasks,
		projectID: opts.ProjectID,
		limiter:   rate.NewLimiter(rate.Limit(opts.RateLimit), 1),
		snapshots: opts.Snapshots,
		logger:    shared.WithLogger(opts.Logger, "component", "engine"),
	}
}

// Run dispatches to the runner for kind.
func (e *Engine) Run(ctx context.Context, kind models.JobKind, jobID int64, progress chan<- ProgressUpdate) (*Result, error) {
	switch kind {
	case models.JobImport:
		return e.RunImport(ctx, jobID, progress)
	case models.JobExport:
		return e.RunExport(ctx, jobID, progress)
	default:
		return nil, fmt.Errorf("%w: unknown job kind %q", shared.ErrInvalidInput, kind)
	}
}

// sendProgress sends a progress update through the channel without blocking.
func (e *Engine) sendProgress(progress chan<- ProgressUpdate, update ProgressUpdate) {
	if progress == nil {
		return
	}
	select {
	case progress <- update:
	default:
	}
}

// loadJob returns a nil job and nil error when the job does not exist; result explains why.
func (e *Engine) loadJob(ctx context.Context, logger *log.Logger, result *Result) (*models.Job, error) {
	job, err := e.jobs.Get(ctx, result.JobID)
	if errors.Is(err, shared.ErrJobNotFound) {
		logger.Warn("job not found")
		result.Error = "job not found"
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load job: %w", err)
	}
	return job, nil
}

// markRunning returns false when the job already left queued.
func (e *Engine) markRunning(ctx context.Context, logger *log.Logger, job *models.Job, result *Result) (bool, error) {
	err := e.jobs.MarkRunning(ctx, job.ID)
	if errors.Is(err, shared.ErrInvalidTransition) {
		logger.Warn("refusing to run job twice", "status", job.Status)
		result.Status = job.Status
		result.Error = fmt.Sprintf("job is already %s", job.Status)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to mark job running: %w", err)
	}
	return true, nil
}

// fail records a failed terminal state. Only a ledger write error is returned.
func (e *Engine) fail(ctx context.Context, logger *log.Logger, result *Result, message string) (*Result, error) {
	message = shared.Truncate(message, models.MessageLimit)
	if err := e.jobs.Finish(ctx, result.JobID, models.JobFailed, message); err != nil {
		if errors.Is(err, shared.ErrInvalidTransition) {
			logger.Warn("job already finished", "error", err)
			result.Error = message
			return result, nil
		}
		return nil, fmt.Errorf("failed to record job failure: %w", err)
	}

	logger.Error("job failed", "message", message)
	result.OK = false
	result.Status = models.JobFailed
	result.Error = message
	return result, nil
}

// succeed records a successful terminal state.
func (e *Engine) succeed(ctx context.Context, logger *log.Logger, result *Result, message string) (*Result, error) {
	if err := e.jobs.Finish(ctx, result.JobID, models.JobSuccess, message); err != nil {
		return nil, fmt.Errorf("failed to record job success: %w", err)
	}

	logger.Info("job finished", "status", models.JobSuccess, "message", message)
	result.OK = true
	result.Status = models.JobSuccess
	result.Message = message
	return result, nil
}
