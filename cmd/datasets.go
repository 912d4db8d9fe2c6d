package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/lsync/internal/formatter"
	"github.com/desertthunder/lsync/internal/models"
	"github.com/desertthunder/lsync/internal/repositories"
	"github.com/desertthunder/lsync/internal/shared"
)

// DatasetsCreate stores a new dataset. Items come from --items, or are generated demo items.
func (r *Runner) DatasetsCreate(ctx context.Context, cmd *cli.Command) error {
	items, err := readItems(cmd.String("items"), cmd.Int("demo"))
	if err != nil {
		return err
	}

	db, err := r.openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	ds := &models.Dataset{Name: cmd.String("name"), Items: items, CreatedBy: cmd.String("owner")}
	if err := repositories.NewDatasetRepository(db).Create(ctx, ds); err != nil {
		return err
	}

	r.logger.Info("dataset created", "id", ds.ID, "items", len(items))
	return r.writePlain("✓ Dataset %d created: %s (%d items)\n", ds.ID, ds.Name, len(ds.Items))
}

func readItems(path string, demo int) ([]models.Item, error) {
	if path == "" {
		if demo <= 0 {
			return nil, fmt.Errorf("%w: --demo must be positive when --items is not given", shared.ErrInvalidFlag)
		}
		return models.DemoItems(demo), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read items file: %w", err)
	}
	var items []models.Item
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("%w: items file is not a JSON array of items: %v", shared.ErrInvalidInput, err)
	}
	for i := range items {
		if items[i].ID == 0 {
			items[i].ID = int64(i + 1)
		}
	}
	return items, nil
}

// DatasetsList prints datasets newest first.
func (r *Runner) DatasetsList(ctx context.Context, cmd *cli.Command) error {
	db, err := r.openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	list, err := repositories.NewDatasetRepository(db).List(ctx, models.Filter{Limit: cmd.Int("limit")})
	if err != nil {
		return err
	}
	if cmd.Bool("json") {
		return r.writeJSON(list, true)
	}

	if len(list) == 0 {
		return r.writePlain("No datasets\n")
	}
	for _, ds := range list {
		r.writePlain("%4d  %-30s  %-12s  %s\n", ds.ID, ds.Name, ds.CreatedBy, ds.CreatedAt.Format("2006-01-02 15:04"))
	}
	return nil
}

// DatasetsShow prints one dataset as JSON.
func (r *Runner) DatasetsShow(ctx context.Context, cmd *cli.Command) error {
	db, err := r.openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	ds, err := repositories.NewDatasetRepository(db).Get(ctx, cmd.Int64("dataset"))
	if err != nil {
		return err
	}
	if !cmd.Bool("items") {
		ds.Items = nil
	}
	return r.writeJSON(ds, true)
}

// DatasetsStats prints task counts for a dataset.
func (r *Runner) DatasetsStats(ctx context.Context, cmd *cli.Command) error {
	db, err := r.openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	stats, err := repositories.NewTaskRepository(db).Stats(ctx, cmd.Int64("dataset"))
	if err != nil {
		return err
	}
	if cmd.Bool("json") {
		return r.writeJSON(stats, true)
	}

	r.writePlainHeader(fmt.Sprintf("Dataset %d", stats.DatasetID))
	r.writePlain("Total:    %d\n", stats.Total)
	r.writePlain("Imported: %d\n", stats.Imported)
	r.writePlain("Labeled:  %d\n", stats.Labeled)
	return nil
}

// DatasetsAssign gives one task to a user.
func (r *Runner) DatasetsAssign(ctx context.Context, cmd *cli.Command) error {
	db, err := r.openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	task, err := repositories.NewTaskRepository(db).Assign(ctx, cmd.Int64("task"), cmd.String("user"))
	if err != nil {
		return err
	}
	return r.writePlain("✓ Task %d assigned to %s\n", task.ID, *task.AssignedTo)
}

// DatasetsAutoAssign gives up to --count unassigned tasks to a user.
func (r *Runner) DatasetsAutoAssign(ctx context.Context, cmd *cli.Command) error {
	db, err := r.openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	datasetID := cmd.Int64("dataset")
	if _, err := repositories.NewDatasetRepository(db).Get(ctx, datasetID); err != nil {
		return err
	}

	count := max(1, min(cmd.Int("count"), repositories.MaxAssignCount))
	ids, err := repositories.NewTaskRepository(db).AutoAssign(ctx, datasetID, cmd.String("user"), count)
	if err != nil {
		return err
	}
	return r.writePlain("✓ Assigned %d tasks of dataset %d to %s\n", len(ids), datasetID, cmd.String("user"))
}

// DatasetsExport writes the dataset's labeled tasks to <output>.csv and <output>.json.
func (r *Runner) DatasetsExport(ctx context.Context, cmd *cli.Command) error {
	db, err := r.openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	datasetID := cmd.Int64("dataset")
	list, err := repositories.NewTaskRepository(db).List(ctx, models.Filter{
		DatasetID: datasetID,
		Status:    string(models.TaskLabeled),
	})
	if err != nil {
		return err
	}

	output := cmd.String("output")
	if output == "" {
		output = fmt.Sprintf("export-%d", datasetID)
	}
	files, err := formatter.WriteExport(formatter.NewSnapshot(datasetID, 0, list), output)
	if err != nil {
		return err
	}

	r.logger.Info("dataset exported", "dataset_id", datasetID, "tasks", len(list))
	r.writePlain("✓ Exported %d labeled tasks\n", len(list))
	r.writePlain("  %s\n  %s\n", files.CSVFile, files.JSONFile)
	return nil
}
