package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/lsync/internal/models"
	"github.com/desertthunder/lsync/internal/queue"
	"github.com/desertthunder/lsync/internal/repositories"
	"github.com/desertthunder/lsync/internal/shared"
	"github.com/desertthunder/lsync/internal/tasks"
)

// JobsImport creates an import job for a dataset.
func (r *Runner) JobsImport(ctx context.Context, cmd *cli.Command) error {
	return r.createJob(ctx, cmd, models.JobImport)
}

// JobsExport creates an export job for a dataset.
func (r *Runner) JobsExport(ctx context.Context, cmd *cli.Command) error {
	return r.createJob(ctx, cmd, models.JobExport)
}

// createJob records a queued job, then runs it here (--wait, or the memory backend) or hands it to the queue.
func (r *Runner) createJob(ctx context.Context, cmd *cli.Command, kind models.JobKind) error {
	db, err := r.openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	jobs := repositories.NewJobRepository(db)
	job := models.NewJob(kind, cmd.Int64("dataset"), cmd.String("by"))
	if err := jobs.Create(ctx, job); err != nil {
		return err
	}
	r.logger.Info("job created", "job_id", job.ID, "kind", kind, "dataset_id", job.DatasetID)

	backend := r.config.Queue.Backend
	if cmd.Bool("wait") || backend == "" || backend == "memory" {
		return r.runJob(ctx, db, job)
	}

	q, err := queue.New(ctx, r.config.Queue, r.logger)
	if err != nil {
		return r.enqueueFailed(ctx, jobs, job, err)
	}
	defer q.Close()

	if err := q.Enqueue(ctx, queue.Message{JobID: job.ID, Kind: kind}); err != nil {
		return r.enqueueFailed(ctx, jobs, job, err)
	}
	return r.writePlain("✓ Job %d queued (%s, dataset %d) on %s\n", job.ID, kind, job.DatasetID, backend)
}

func (r *Runner) enqueueFailed(ctx context.Context, jobs *repositories.JobRepository, job *models.Job, cause error) error {
	msg := shared.Truncate(fmt.Sprintf("enqueue failed: %v", cause), models.MessageLimit)
	if err := jobs.Finish(context.WithoutCancel(ctx), job.ID, models.JobFailed, msg); err != nil {
		r.logger.Error("failed to record enqueue failure", "job_id", job.ID, "error", err)
	}
	return fmt.Errorf("job %d: %w", job.ID, cause)
}

// JobsRun runs an existing job in this process.
func (r *Runner) JobsRun(ctx context.Context, cmd *cli.Command) error {
	db, err := r.openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	job, err := repositories.NewJobRepository(db).Get(ctx, cmd.Int64("id"))
	if err != nil {
		return err
	}
	return r.runJob(ctx, db, job)
}

// runJob runs the job with live progress and prints a summary.
func (r *Runner) runJob(ctx context.Context, db *sql.DB, job *models.Job) error {
	engine, err := r.engine(ctx, db)
	if err != nil {
		return err
	}

	r.writePlain("Running job %d (%s) for dataset %d...\n\n", job.ID, job.Kind, job.DatasetID)

	progressCh := make(chan tasks.ProgressUpdate, 50)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for update := range progressCh {
			switch update.Phase {
			case tasks.FetchAnnotations:
				r.writePlain("   %s\n", update.Message)
			case tasks.Finished:
			default:
				r.writePlain("• %s\n", update.Message)
			}
		}
	}()

	result, err := engine.Run(ctx, job.Kind, job.ID, progressCh)
	close(progressCh)
	<-done

	if err != nil {
		return err
	}

	r.writePlain("\n")
	if result.OK {
		r.writePlainHeader("Job Complete!")
	} else {
		r.writePlainHeader("Job Failed")
	}
	r.writePlain("Job: %d (%s)\n", result.JobID, result.Kind)
	if result.Status != "" {
		r.writePlain("Status: %s\n", result.Status)
	}
	if result.Message != "" {
		r.writePlain("Message: %s\n", result.Message)
	}
	if result.Error != "" {
		r.writePlain("Error: %s\n", result.Error)
	}
	if len(result.LSTaskIDs) > 0 {
		r.writePlain("Task ids: %v\n", result.LSTaskIDs)
	}
	for _, loc := range result.Artifacts {
		r.writePlain("Snapshot: %s\n", loc)
	}
	return nil
}

// JobsShow prints one job as JSON.
func (r *Runner) JobsShow(ctx context.Context, cmd *cli.Command) error {
	db, err := r.openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	job, err := repositories.NewJobRepository(db).Get(ctx, cmd.Int64("id"))
	if err != nil {
		return err
	}
	return r.writeJSON(job, true)
}

// JobsList prints jobs newest first.
func (r *Runner) JobsList(ctx context.Context, cmd *cli.Command) error {
	db, err := r.openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	list, err := repositories.NewJobRepository(db).List(ctx, models.Filter{
		DatasetID: cmd.Int64("dataset"),
		Status:    cmd.String("status"),
		Kind:      cmd.String("type"),
		Limit:     cmd.Int("limit"),
	})
	if err != nil {
		return err
	}
	if cmd.Bool("json") {
		return r.writeJSON(list, true)
	}

	if len(list) == 0 {
		return r.writePlain("No jobs\n")
	}
	for _, j := range list {
		r.writePlain("%4d  %-14s  %-8s  dataset %-4d  %s\n", j.ID, j.Kind, j.Status, j.DatasetID, shared.Truncate(j.Message, 60))
	}
	return nil
}
