package tasks

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/lsync/internal/models"
	"github.com/desertthunder/lsync/internal/shared"
)

// RunExport pulls annotations for every imported task of the job's dataset and stores a label for each annotated task.
//
// Tasks without annotations are left untouched. The first fetch or write error aborts the pass and fails the job;
// tasks labeled earlier in the pass keep their updates.
func (e *Engine) RunExport(ctx context.Context, jobID int64, progress chan<- ProgressUpdate) (*Result, error) {
	ctx = context.WithoutCancel(ctx)
	logger := shared.WithLogger(e.logger, "job_id", jobID, "kind", models.JobExport)
	result := &Result{JobID: jobID, Kind: models.JobExport}

	job, err := e.loadJob(ctx, logger, result)
	if err != nil || job == nil {
		return result, err
	}

	ok, err := e.markRunning(ctx, logger, job, result)
	if err != nil || !ok {
		return result, err
	}
	e.sendProgress(progress, loadJobUpdate(job.ID, job.DatasetID))

	imported, err := e.tasks.ListImported(ctx, job.DatasetID)
	if err != nil {
		res, ferr := e.fail(ctx, logger, result, err.Error())
		return e.finish(progress, res, ferr)
	}

	exported := 0
	for i, task := range imported {
		labeled, err := e.exportTask(ctx, task)
		if err != nil {
			res, ferr := e.fail(ctx, logger, result, err.Error())
			return e.finish(progress, res, ferr)
		}
		if labeled {
			exported++
		}
		e.sendProgress(progress, fetchAnnotationsUpdate(i+1, len(imported), *task.LSTaskID, labeled))
	}

	result.Exported = exported
	e.writeSnapshot(ctx, logger, job, result, progress)
	res, err := e.succeed(ctx, logger, result, fmt.Sprintf("exported %d labeled tasks", exported))
	return e.finish(progress, res, err)
}

// exportTask reports whether the task was labeled.
func (e *Engine) exportTask(ctx context.Context, task *models.Task) (bool, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return false, err
	}

	detail, err := e.client.FetchTask(ctx, *task.LSTaskID)
	if err != nil {
		return false, err
	}
	if len(detail.Annotations) == 0 {
		return false, nil
	}

	raw, err := json.Marshal(map[string]any{"annotations": detail.Annotations})
	if err != nil {
		return false, fmt.Errorf("failed to encode annotations: %w", err)
	}

	if err := e.tasks.MarkLabeled(ctx, task.ID, raw, ExtractLabel(detail.Annotations)); err != nil {
		return false, err
	}
	return true, nil
}

// writeSnapshot stores the dataset's labeled tasks when a snapshot sink is configured. Failures only log.
func (e *Engine) writeSnapshot(ctx context.Context, logger *log.Logger, job *models.Job, result *Result, progress chan<- ProgressUpdate) {
	if e.snapshots == nil {
		return
	}

	all, err := e.tasks.ListImported(ctx, job.DatasetID)
	if err != nil {
		logger.Warn("snapshot skipped", "error", err)
		return
	}

	labeled := make([]*models.Task, 0, len(all))
	for _, t := range all {
		if t.Status == models.TaskLabeled {
			labeled = append(labeled, t)
		}
	}

	locations, err := e.snapshots.WriteSnapshot(ctx, job.DatasetID, job.ID, labeled)
	if err != nil {
		logger.Warn("snapshot failed", "error", err)
		return
	}

	result.Artifacts = locations
	e.sendProgress(progress, writeSnapshotUpdate(locations))
	logger.Info("snapshot written", "locations", locations)
}
