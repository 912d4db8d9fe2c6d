// package services defines the Label Studio client and the credential cache it authenticates with
package services

import (
	"context"
	"encoding/json"

	"golang.org/x/oauth2"
)

// Service is the set of Label Studio operations the import and export workflows rely on.
type Service interface {
	// MaxTaskID returns the highest existing task id in the project.
	MaxTaskID(ctx context.Context, projectID int64) (int64, error)

	// ListNewTaskIDs returns at most limit task ids above afterID, ascending.
	ListNewTaskIDs(ctx context.Context, projectID, afterID int64, limit int) ([]int64, error)

	// BulkImport creates tasks from payload and returns the raw response.
	BulkImport(ctx context.Context, projectID int64, payload any) (json.RawMessage, error)

	// PollImport blocks until an asynchronous import reports completion or failure.
	PollImport(ctx context.Context, projectID, importID int64) error

	// FetchTask retrieves a task with its annotations.
	FetchTask(ctx context.Context, taskID int64) (*TaskDetail, error)
}

var (
	_ Service            = (*LabelStudio)(nil)
	_ AccessTokenSource  = (*TokenCache)(nil)
	_ oauth2.TokenSource = (*TokenCache)(nil)
)

// ImportTask is one element of a bulk import payload.
type ImportTask struct {
	Data ImportData `json:"data"`
}

// ImportData carries the text shown to annotators.
type ImportData struct {
	Text string `json:"text"`
}
