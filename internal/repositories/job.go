package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/desertthunder/lsync/internal/models"
	"github.com/desertthunder/lsync/internal/shared"
)

var _ models.Repository[*models.Job] = (*JobRepository)(nil)

// DefaultJobLimit is the page size when listing jobs without a limit.
const DefaultJobLimit = 50

// JobRepository implements [models.Repository] for [models.Job].
//
// Status changes go through [JobRepository.Transition], which only updates rows whose current status may legally
// move to the requested one.
type JobRepository struct {
	base
	now func() time.Time
}

// NewJobRepository creates a new job repository
func NewJobRepository(db *sql.DB) *JobRepository {
	return &JobRepository{base: newBase(db), now: func() time.Time { return time.Now().UTC() }}
}

var jobColumns = []string{"id", "kind", "status", "dataset_id", "message", "created_by", "created_at", "updated_at"}

// Create inserts a new job and sets its ID.
func (r *JobRepository) Create(ctx context.Context, j *models.Job) error {
	if j.Status == "" {
		j.Status = models.JobQueued
	}
	if err := j.Validate(); err != nil {
		return fmt.Errorf("%w: %v", shared.ErrInvalidInput, err)
	}
	if j.CreatedAt.IsZero() {
		j.CreatedAt = r.now()
	}
	if j.UpdatedAt.IsZero() {
		j.UpdatedAt = j.CreatedAt
	}

	id, err := r.insert(ctx, r.db, r.sq.Insert("jobs").
		Columns("kind", "status", "dataset_id", "message", "created_by", "created_at", "updated_at").
		Values(string(j.Kind), string(j.Status), j.DatasetID, shared.Truncate(j.Message, models.MessageLimit),
			j.CreatedBy, j.CreatedAt, j.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	j.ID = id
	return nil
}

// Get retrieves a job by ID.
func (r *JobRepository) Get(ctx context.Context, id int64) (*models.Job, error) {
	row := r.queryRow(ctx, r.db, r.sq.Select(jobColumns...).From("jobs").Where(sq.Eq{"id": id}))
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", shared.ErrJobNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return j, nil
}

// List retrieves jobs newest first, narrowed by dataset, kind and status.
func (r *JobRepository) List(ctx context.Context, filter models.Filter) ([]*models.Job, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultJobLimit
	}

	q := r.sq.Select(jobColumns...).From("jobs").OrderBy("id DESC").Limit(uint64(limit))
	if filter.DatasetID > 0 {
		q = q.Where(sq.Eq{"dataset_id": filter.DatasetID})
	}
	if filter.Kind != "" {
		q = q.Where(sq.Eq{"kind": filter.Kind})
	}
	if filter.Status != "" {
		q = q.Where(sq.Eq{"status": filter.Status})
	}

	rows, err := r.query(ctx, r.db, q)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return jobs, nil
}

// MarkRunning moves a queued job to running.
func (r *JobRepository) MarkRunning(ctx context.Context, id int64) error {
	return r.Transition(ctx, id, models.JobRunning, "")
}

// Finish moves a job to a terminal status with a message truncated to [models.MessageLimit] characters.
func (r *JobRepository) Finish(ctx context.Context, id int64, status models.JobStatus, message string) error {
	if !status.IsTerminal() {
		return fmt.Errorf("%w: %s is not terminal", shared.ErrInvalidTransition, status)
	}
	return r.Transition(ctx, id, status, message)
}

// Transition moves the job to next when its current status allows it.
//
// Returns [shared.ErrJobNotFound] when the row is missing and [shared.ErrInvalidTransition] when it exists in a
// status that cannot reach next.
func (r *JobRepository) Transition(ctx context.Context, id int64, next models.JobStatus, message string) error {
	from := models.Predecessors(next)
	if len(from) == 0 {
		return fmt.Errorf("%w: nothing moves to %s", shared.ErrInvalidTransition, next)
	}
	allowed := make([]string, len(from))
	for i, s := range from {
		allowed[i] = string(s)
	}

	n, err := r.exec(ctx, r.db, r.sq.Update("jobs").
		Set("status", string(next)).
		Set("message", shared.Truncate(message, models.MessageLimit)).
		Set("updated_at", r.now()).
		Where(sq.Eq{"id": id, "status": allowed}))
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	if n > 0 {
		return nil
	}

	current, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: job %d is %s, cannot become %s", shared.ErrInvalidTransition, id, current.Status, next)
}

func scanJob(row scanner) (*models.Job, error) {
	var (
		j      models.Job
		kind   string
		status string
	)
	err := row.Scan(&j.ID, &kind, &status, &j.DatasetID, &j.Message, &j.CreatedBy, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	j.Kind = models.JobKind(kind)
	j.Status = models.JobStatus(status)
	return &j, nil
}
