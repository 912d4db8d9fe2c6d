package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/desertthunder/lsync/internal/models"
	"github.com/desertthunder/lsync/internal/shared"
)

var _ models.Repository[*models.Task] = (*TaskRepository)(nil)

const (
	// DefaultAssignCount is used when auto-assign is called without a count.
	DefaultAssignCount = 20
	// MaxAssignCount caps a single auto-assign call.
	MaxAssignCount = 500
	// DefaultAssignedLimit is the page size for an annotator's task list.
	DefaultAssignedLimit = 50
	// MaxAssignedLimit caps an annotator's task list.
	MaxAssignedLimit = 200
)

// TaskRepository implements [models.Repository] for [models.Task].
type TaskRepository struct {
	base
}

// NewTaskRepository creates a new task repository
func NewTaskRepository(db *sql.DB) *TaskRepository {
	return &TaskRepository{base: newBase(db)}
}

var taskColumns = []string{
	"id", "dataset_id", "ls_project_id", "ls_task_id", "status",
	"assigned_to", "assigned_at", "label", "annotation_json", "created_at",
}

// Create inserts a single task and sets its ID.
func (r *TaskRepository) Create(ctx context.Context, t *models.Task) error {
	if t.Status == "" {
		t.Status = models.TaskNew
	}
	if err := t.Validate(); err != nil {
		return fmt.Errorf("%w: %v", shared.ErrInvalidInput, err)
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}

	var annotation sql.NullString
	if len(t.AnnotationJSON) > 0 {
		annotation = sql.NullString{String: string(t.AnnotationJSON), Valid: true}
	}

	id, err := r.insert(ctx, r.db, r.sq.Insert("tasks").
		Columns("dataset_id", "ls_project_id", "ls_task_id", "status", "label", "annotation_json", "created_at").
		Values(t.DatasetID, nullInt64(t.LSProjectID), nullInt64(t.LSTaskID), string(t.Status),
			nullString(t.Label), annotation, t.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	t.ID = id
	return nil
}

// Get retrieves a task by ID.
func (r *TaskRepository) Get(ctx context.Context, id int64) (*models.Task, error) {
	row := r.queryRow(ctx, r.db, r.sq.Select(taskColumns...).From("tasks").Where(sq.Eq{"id": id}))
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", shared.ErrTaskNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return t, nil
}

// List retrieves tasks ordered by id, narrowed by dataset, status and assignee.
func (r *TaskRepository) List(ctx context.Context, filter models.Filter) ([]*models.Task, error) {
	q := r.sq.Select(taskColumns...).From("tasks").OrderBy("id ASC")
	if filter.DatasetID > 0 {
		q = q.Where(sq.Eq{"dataset_id": filter.DatasetID})
	}
	if filter.Status != "" {
		q = q.Where(sq.Eq{"status": filter.Status})
	}
	if filter.AssignedTo != "" {
		q = q.Where(sq.Eq{"assigned_to": filter.AssignedTo})
	}
	if filter.Limit > 0 {
		q = q.Limit(uint64(filter.Limit))
	}
	return r.list(ctx, q)
}

// ListImported returns the dataset's tasks that carry an external id, ordered by id.
func (r *TaskRepository) ListImported(ctx context.Context, datasetID int64) ([]*models.Task, error) {
	return r.list(ctx, r.sq.Select(taskColumns...).From("tasks").
		Where(sq.Eq{"dataset_id": datasetID}).
		Where(sq.NotEq{"ls_task_id": nil}).
		OrderBy("id ASC"))
}

// ListAssigned returns an annotator's tasks. The limit defaults to 50 and is capped at 200.
func (r *TaskRepository) ListAssigned(ctx context.Context, username string, filter models.Filter) ([]*models.Task, error) {
	filter.AssignedTo = username
	switch {
	case filter.Limit <= 0:
		filter.Limit = DefaultAssignedLimit
	case filter.Limit > MaxAssignedLimit:
		filter.Limit = MaxAssignedLimit
	}
	return r.List(ctx, filter)
}

// CreateImported inserts one imported task per external id in a single transaction.
//
// Inserts are chunked so large imports stay within the driver's variable limit.
func (r *TaskRepository) CreateImported(ctx context.Context, datasetID, projectID int64, lsTaskIDs []int64) (int, error) {
	if len(lsTaskIDs) == 0 {
		return 0, nil
	}

	now := time.Now().UTC()
	err := WithTx(ctx, r.db, func(tx *sql.Tx) error {
		for start := 0; start < len(lsTaskIDs); start += maxBatchRows {
			end := min(start+maxBatchRows, len(lsTaskIDs))

			q := r.sq.Insert("tasks").Columns("dataset_id", "ls_project_id", "ls_task_id", "status", "created_at")
			for _, id := range lsTaskIDs[start:end] {
				q = q.Values(datasetID, projectID, id, string(models.TaskImported), now)
			}
			if _, err := r.exec(ctx, tx, q); err != nil {
				return fmt.Errorf("failed to insert imported tasks: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(lsTaskIDs), nil
}

// MarkLabeled stores the verbatim annotations and extracted label and moves the task to labeled.
func (r *TaskRepository) MarkLabeled(ctx context.Context, id int64, annotationJSON json.RawMessage, label *string) error {
	n, err := r.exec(ctx, r.db, r.sq.Update("tasks").
		Set("annotation_json", string(annotationJSON)).
		Set("label", nullString(label)).
		Set("status", string(models.TaskLabeled)).
		Where(sq.Eq{"id": id}).
		Where(sq.Eq{"status": []string{string(models.TaskImported), string(models.TaskLabeled)}}))
	if err != nil {
		return fmt.Errorf("failed to mark task labeled: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %d", shared.ErrTaskNotFound, id)
	}
	return nil
}

// Assign sets the task's assignee and returns the updated row.
func (r *TaskRepository) Assign(ctx context.Context, id int64, username string) (*models.Task, error) {
	n, err := r.exec(ctx, r.db, r.sq.Update("tasks").
		Set("assigned_to", username).
		Set("assigned_at", time.Now().UTC()).
		Where(sq.Eq{"id": id}))
	if err != nil {
		return nil, fmt.Errorf("failed to assign task: %w", err)
	}
	if n == 0 {
		return nil, fmt.Errorf("%w: %d", shared.ErrTaskNotFound, id)
	}
	return r.Get(ctx, id)
}

// AutoAssign gives up to count unassigned tasks of the dataset to username, lowest ids first.
//
// count is clamped to [1, 500]; zero means the default of 20.
func (r *TaskRepository) AutoAssign(ctx context.Context, datasetID int64, username string, count int) ([]int64, error) {
	switch {
	case count == 0:
		count = DefaultAssignCount
	case count < 1:
		count = 1
	case count > MaxAssignCount:
		count = MaxAssignCount
	}

	var ids []int64
	err := WithTx(ctx, r.db, func(tx *sql.Tx) error {
		rows, err := r.query(ctx, tx, r.sq.Select("id").From("tasks").
			Where(sq.Eq{"dataset_id": datasetID, "assigned_to": nil}).
			OrderBy("id ASC").
			Limit(uint64(count)))
		if err != nil {
			return fmt.Errorf("failed to select unassigned tasks: %w", err)
		}
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return fmt.Errorf("failed to scan task id: %w", err)
			}
			ids = append(ids, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("row iteration error: %w", err)
		}
		if len(ids) == 0 {
			return nil
		}

		_, err = r.exec(ctx, tx, r.sq.Update("tasks").
			Set("assigned_to", username).
			Set("assigned_at", time.Now().UTC()).
			Where(sq.Eq{"id": ids}))
		if err != nil {
			return fmt.Errorf("failed to assign tasks: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// Stats counts the dataset's tasks. Imported includes labeled tasks.
func (r *TaskRepository) Stats(ctx context.Context, datasetID int64) (*models.TaskStats, error) {
	stats := &models.TaskStats{DatasetID: datasetID}
	row := r.queryRow(ctx, r.db, r.sq.Select(
		"COUNT(*)",
		"COALESCE(SUM(CASE WHEN status IN ('imported', 'labeled') THEN 1 ELSE 0 END), 0)",
		"COALESCE(SUM(CASE WHEN status = 'labeled' THEN 1 ELSE 0 END), 0)",
	).From("tasks").Where(sq.Eq{"dataset_id": datasetID}))

	if err := row.Scan(&stats.Total, &stats.Imported, &stats.Labeled); err != nil {
		return nil, fmt.Errorf("failed to count tasks: %w", err)
	}
	return stats, nil
}

// AssignedStats counts an annotator's tasks, optionally within one dataset.
func (r *TaskRepository) AssignedStats(ctx context.Context, username string, datasetID *int64) (*models.AssignedStats, error) {
	stats := &models.AssignedStats{DatasetID: datasetID, Me: username}
	q := r.sq.Select(
		"COUNT(*)",
		"COALESCE(SUM(CASE WHEN status = 'imported' THEN 1 ELSE 0 END), 0)",
		"COALESCE(SUM(CASE WHEN status = 'labeled' THEN 1 ELSE 0 END), 0)",
	).From("tasks").Where(sq.Eq{"assigned_to": username})
	if datasetID != nil {
		q = q.Where(sq.Eq{"dataset_id": *datasetID})
	}

	if err := r.queryRow(ctx, r.db, q).Scan(&stats.AssignedTotal, &stats.AssignedImported, &stats.AssignedLabeled); err != nil {
		return nil, fmt.Errorf("failed to count assigned tasks: %w", err)
	}
	return stats, nil
}

func (r *TaskRepository) list(ctx context.Context, q sq.SelectBuilder) ([]*models.Task, error) {
	rows, err := r.query(ctx, r.db, q)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return tasks, nil
}

func scanTask(row scanner) (*models.Task, error) {
	var (
		t          models.Task
		status     string
		projectID  sql.NullInt64
		lsTaskID   sql.NullInt64
		assignedTo sql.NullString
		assignedAt sql.NullTime
		label      sql.NullString
		annotation sql.NullString
	)
	err := row.Scan(&t.ID, &t.DatasetID, &projectID, &lsTaskID, &status,
		&assignedTo, &assignedAt, &label, &annotation, &t.CreatedAt)
	if err != nil {
		return nil, err
	}

	t.Status = models.TaskStatus(status)
	t.LSProjectID = int64Ptr(projectID)
	t.LSTaskID = int64Ptr(lsTaskID)
	t.AssignedTo = stringPtr(assignedTo)
	t.Label = stringPtr(label)
	if assignedAt.Valid {
		at := assignedAt.Time
		t.AssignedAt = &at
	}
	if annotation.Valid && annotation.String != "" {
		t.AnnotationJSON = json.RawMessage(annotation.String)
	}
	return &t, nil
}
