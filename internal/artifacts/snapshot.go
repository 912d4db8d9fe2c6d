package artifacts

import (
	"context"
	"fmt"

	"github.com/desertthunder/lsync/internal/formatter"
	"github.com/desertthunder/lsync/internal/models"
	"github.com/desertthunder/lsync/internal/shared"
)

// Snapshotter renders export snapshots and saves them to a [Store].
type Snapshotter struct {
	store Store
}

func NewSnapshotter(store Store) *Snapshotter {
	return &Snapshotter{store: store}
}

// SnapshotKey is the key prefix for a job's snapshot files.
func SnapshotKey(datasetID, jobID int64) string {
	return fmt.Sprintf("datasets/%d/export-%d", datasetID, jobID)
}

// WriteSnapshot stores the tasks as {key}.json and {key}.csv and returns both locations.
func (s *Snapshotter) WriteSnapshot(ctx context.Context, datasetID, jobID int64, tasks []*models.Task) ([]string, error) {
	if s.store == nil {
		return nil, shared.ErrArtifactStoreMissing
	}

	snap := formatter.NewSnapshot(datasetID, jobID, tasks)
	key := SnapshotKey(datasetID, jobID)

	jsonData, err := formatter.ExportToJSON(snap)
	if err != nil {
		return nil, err
	}
	csvData, err := formatter.ExportToCSV(snap)
	if err != nil {
		return nil, err
	}

	jsonLoc, err := s.store.Put(ctx, key+".json", jsonData, "application/json")
	if err != nil {
		return nil, fmt.Errorf("failed to store JSON snapshot: %w", err)
	}
	csvLoc, err := s.store.Put(ctx, key+".csv", csvData, "text/csv")
	if err != nil {
		return []string{jsonLoc}, fmt.Errorf("failed to store CSV snapshot: %w", err)
	}
	return []string{jsonLoc, csvLoc}, nil
}
