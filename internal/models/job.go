package models

import (
	"fmt"
	"time"
)

// MessageLimit caps the stored job message in characters.
const MessageLimit = 500

// JobKind names the asynchronous workflow a job runs.
type JobKind string

const (
	JobImport JobKind = "import_to_ls"
	JobExport JobKind = "export_from_ls"
)

// Valid reports whether k is a known kind.
func (k JobKind) Valid() bool {
	return k == JobImport || k == JobExport
}

// JobStatus is the job state machine: queued → running → success | failed.
type JobStatus string

const (
	JobQueued  JobStatus = "queued"
	JobRunning JobStatus = "running"
	JobSuccess JobStatus = "success"
	JobFailed  JobStatus = "failed"
)

// IsTerminal reports whether no further transition is allowed.
func (s JobStatus) IsTerminal() bool {
	return s == JobSuccess || s == JobFailed
}

// Valid reports whether s is a known status.
func (s JobStatus) Valid() bool {
	switch s {
	case JobQueued, JobRunning, JobSuccess, JobFailed:
		return true
	}
	return false
}

// CanTransition reports whether s may move to next.
//
// queued may fail directly when the dataset is missing.
func (s JobStatus) CanTransition(next JobStatus) bool {
	for _, from := range Predecessors(next) {
		if from == s {
			return true
		}
	}
	return false
}

// Predecessors lists the statuses a job may be in before entering next.
func Predecessors(next JobStatus) []JobStatus {
	switch next {
	case JobRunning:
		return []JobStatus{JobQueued}
	case JobSuccess:
		return []JobStatus{JobRunning}
	case JobFailed:
		return []JobStatus{JobQueued, JobRunning}
	default:
		return nil
	}
}

// Job records one asynchronous unit of work against a dataset.
type Job struct {
	ID        int64     `json:"id"`
	Kind      JobKind   `json:"type"`
	Status    JobStatus `json:"status"`
	DatasetID int64     `json:"dataset_id"`
	Message   string    `json:"message"`
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewJob returns a queued job for the dataset.
func NewJob(kind JobKind, datasetID int64, createdBy string) *Job {
	now := time.Now().UTC()
	return &Job{
		Kind:      kind,
		Status:    JobQueued,
		DatasetID: datasetID,
		CreatedBy: createdBy,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (j *Job) GetID() int64            { return j.ID }
func (j *Job) GetCreatedAt() time.Time { return j.CreatedAt }

// Validate checks kind, status and ownership.
func (j *Job) Validate() error {
	if !j.Kind.Valid() {
		return fmt.Errorf("unknown job kind %q", j.Kind)
	}
	if !j.Status.Valid() {
		return fmt.Errorf("unknown job status %q", j.Status)
	}
	if j.DatasetID <= 0 {
		return fmt.Errorf("job dataset is required")
	}
	if j.CreatedBy == "" {
		return fmt.Errorf("job creator is required")
	}
	return nil
}
