package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// TaskStatus is the lifecycle of a local task. It only moves forward.
type TaskStatus string

const (
	TaskNew      TaskStatus = "new"
	TaskImported TaskStatus = "imported"
	TaskLabeled  TaskStatus = "labeled"
)

func (s TaskStatus) rank() int {
	switch s {
	case TaskNew:
		return 0
	case TaskImported:
		return 1
	case TaskLabeled:
		return 2
	default:
		return -1
	}
}

// Valid reports whether s is a known status.
func (s TaskStatus) Valid() bool { return s.rank() >= 0 }

// CanAdvance reports whether moving from s to next keeps the lifecycle order.
func (s TaskStatus) CanAdvance(next TaskStatus) bool {
	return s.Valid() && next.Valid() && next.rank() >= s.rank()
}

// Task is the local record of one labeling unit mirrored in the external service.
type Task struct {
	ID             int64           `json:"id"`
	DatasetID      int64           `json:"dataset_id"`
	LSProjectID    *int64          `json:"ls_project_id"`
	LSTaskID       *int64          `json:"ls_task_id"`
	Status         TaskStatus      `json:"status"`
	AssignedTo     *string         `json:"assigned_to"`
	AssignedAt     *time.Time      `json:"assigned_at"`
	Label          *string         `json:"label,omitempty"`
	AnnotationJSON json.RawMessage `json:"annotation_json,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

func (t *Task) GetID() int64            { return t.ID }
func (t *Task) GetCreatedAt() time.Time { return t.CreatedAt }

// Validate checks the dataset reference and status.
func (t *Task) Validate() error {
	if t.DatasetID <= 0 {
		return fmt.Errorf("task dataset is required")
	}
	if !t.Status.Valid() {
		return fmt.Errorf("unknown task status %q", t.Status)
	}
	if t.Status != TaskNew && t.LSTaskID == nil {
		return fmt.Errorf("task in status %s needs an external task id", t.Status)
	}
	return nil
}

// TaskStats are per-dataset counts. Imported includes labeled tasks.
type TaskStats struct {
	DatasetID int64 `json:"dataset_id"`
	Total     int   `json:"total_tasks"`
	Imported  int   `json:"imported_tasks"`
	Labeled   int   `json:"labeled_tasks"`
}

// AssignedStats are an annotator's own counts, optionally scoped to a dataset.
type AssignedStats struct {
	DatasetID        *int64 `json:"dataset_id"`
	AssignedTotal    int    `json:"assigned_total"`
	AssignedImported int    `json:"assigned_imported"`
	AssignedLabeled  int    `json:"assigned_labeled"`
	Me               string `json:"me"`
}
