package tasks

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/lsync/internal/models"
	"github.com/desertthunder/lsync/internal/services"
	"github.com/desertthunder/lsync/internal/shared"
)

// RunImport pushes a dataset's items into Label Studio and records one local task per created task.
//
// The run is detached from ctx cancellation so a started job always reaches a terminal state. Workflow failures
// end in a failed job and a nil error; an error is returned only when the ledger itself cannot be read or written.
// Nothing already created in Label Studio is rolled back on failure.
func (e *Engine) RunImport(ctx context.Context, jobID int64, progress chan<- ProgressUpdate) (*Result, error) {
	ctx = context.WithoutCancel(ctx)
	logger := shared.WithLogger(e.logger, "job_id", jobID, "kind", models.JobImport)
	result := &Result{JobID: jobID, Kind: models.JobImport}

	job, err := e.loadJob(ctx, logger, result)
	if err != nil || job == nil {
		return result, err
	}

	ds, err := e.datasets.Get(ctx, job.DatasetID)
	if errors.Is(err, shared.ErrDatasetNotFound) {
		return e.fail(ctx, logger, result, "dataset not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load dataset: %w", err)
	}

	ok, err := e.markRunning(ctx, logger, job, result)
	if err != nil || !ok {
		return result, err
	}
	e.sendProgress(progress, loadJobUpdate(job.ID, ds.ID))

	if len(ds.Items) == 0 {
		res, err := e.fail(ctx, logger, result, "dataset has no items")
		return e.finish(progress, res, err)
	}

	ids, err := e.importItems(ctx, logger, ds.Items, progress)
	if err != nil {
		res, ferr := e.fail(ctx, logger, result, err.Error())
		return e.finish(progress, res, ferr)
	}

	e.sendProgress(progress, recordTasksUpdate(ids))
	n, err := e.tasks.CreateImported(ctx, ds.ID, e.projectID, ids)
	if err != nil {
		res, ferr := e.fail(ctx, logger, result, err.Error())
		return e.finish(progress, res, ferr)
	}

	result.Imported = n
	result.LSTaskIDs = ids[:min(len(ids), resultPreview)]
	res, err := e.succeed(ctx, logger, result, fmt.Sprintf("imported %d tasks", n))
	return e.finish(progress, res, err)
}

// importItems runs the external half of an import and returns the created task ids.
//
// Ids come from the import response when it carries them; otherwise an asynchronous import is awaited and the ids
// are discovered by listing tasks above the pre-import baseline.
func (e *Engine) importItems(ctx context.Context, logger *log.Logger, items []models.Item, progress chan<- ProgressUpdate) ([]int64, error) {
	payload := make([]services.ImportTask, len(items))
	for i, it := range items {
		payload[i] = services.ImportTask{Data: services.ImportData{Text: it.Text}}
	}

	baseline, err := e.client.MaxTaskID(ctx, e.projectID)
	if err != nil {
		return nil, err
	}
	e.sendProgress(progress, baselineUpdate(baseline))
	logger.Debug("recorded baseline", "max_task_id", baseline)

	e.sendProgress(progress, bulkImportUpdate(len(items)))
	raw, err := e.client.BulkImport(ctx, e.projectID, payload)
	if err != nil {
		return nil, err
	}

	ids := services.ExtractCreatedTaskIDs(raw)
	if len(ids) > 0 {
		return ids, nil
	}

	if importID, ok := services.ImportJobID(raw); ok {
		e.sendProgress(progress, pollImportUpdate(importID))
		err := e.client.PollImport(ctx, e.projectID, importID)
		switch {
		case errors.Is(err, shared.ErrImportPollExhausted):
			logger.Warn("import still pending, listing tasks anyway", "import_id", importID)
		case err != nil:
			return nil, err
		}
	}

	e.sendProgress(progress, discoverTasksUpdate(baseline))
	ids, err = e.client.ListNewTaskIDs(ctx, e.projectID, baseline, len(items))
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		logger.Warn("no new tasks found after import", "baseline", baseline)
	}
	return ids, nil
}

// finish reports the final result on the progress channel.
func (e *Engine) finish(progress chan<- ProgressUpdate, result *Result, err error) (*Result, error) {
	if err == nil && result != nil {
		e.sendProgress(progress, finishedUpdate(result))
	}
	return result, err
}
