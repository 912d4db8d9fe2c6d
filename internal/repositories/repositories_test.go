package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"

	"github.com/desertthunder/lsync/internal/models"
	"github.com/desertthunder/lsync/internal/shared"
)

// setupTestDB creates an in-memory SQLite database with migrations applied
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := shared.NewDatabase(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}

	if _, err := shared.RunMigrations(db); err != nil {
		db.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}

	t.Cleanup(func() { db.Close() })
	return db
}

func createDataset(t *testing.T, db *sql.DB, items int) *models.Dataset {
	t.Helper()

	d := &models.Dataset{Name: "demo", Items: models.DemoItems(items), CreatedBy: "admin"}
	if err := NewDatasetRepository(db).Create(context.Background(), d); err != nil {
		t.Fatalf("failed to create dataset: %v", err)
	}
	return d
}

func TestDatasetRepository(t *testing.T) {
	ctx := context.Background()

	t.Run("Create", func(t *testing.T) {
		db := setupTestDB(t)
		d := createDataset(t, db, 3)

		if d.ID == 0 {
			t.Error("dataset ID should be set after creation")
		}
		if d.CreatedAt.IsZero() {
			t.Error("dataset created_at should be set")
		}
	})

	t.Run("Create Invalid", func(t *testing.T) {
		db := setupTestDB(t)
		err := NewDatasetRepository(db).Create(ctx, &models.Dataset{Name: "", CreatedBy: "admin"})
		if !errors.Is(err, shared.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("Get", func(t *testing.T) {
		db := setupTestDB(t)
		d := createDataset(t, db, 3)

		got, err := NewDatasetRepository(db).Get(ctx, d.ID)
		if err != nil {
			t.Fatalf("failed to get dataset: %v", err)
		}
		if got.Name != "demo" {
			t.Errorf("expected name demo, got %s", got.Name)
		}
		if len(got.Items) != 3 {
			t.Fatalf("expected 3 items, got %d", len(got.Items))
		}
		if got.Items[2].ID != 3 || got.Items[2].Text != "demo text 3" {
			t.Errorf("expected items to keep order, got %+v", got.Items[2])
		}
	})

	t.Run("Get Empty Items", func(t *testing.T) {
		db := setupTestDB(t)
		d := createDataset(t, db, 0)

		got, err := NewDatasetRepository(db).Get(ctx, d.ID)
		if err != nil {
			t.Fatalf("failed to get dataset: %v", err)
		}
		if got.Items == nil || len(got.Items) != 0 {
			t.Errorf("expected empty item list, got %v", got.Items)
		}
	})

	t.Run("Get Not Found", func(t *testing.T) {
		db := setupTestDB(t)
		if _, err := NewDatasetRepository(db).Get(ctx, 99); !errors.Is(err, shared.ErrDatasetNotFound) {
			t.Errorf("expected ErrDatasetNotFound, got %v", err)
		}
	})

	t.Run("List", func(t *testing.T) {
		db := setupTestDB(t)
		first := createDataset(t, db, 1)
		second := createDataset(t, db, 1)

		got, err := NewDatasetRepository(db).List(ctx, models.Filter{})
		if err != nil {
			t.Fatalf("failed to list datasets: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("expected 2 datasets, got %d", len(got))
		}
		if got[0].ID != second.ID || got[1].ID != first.ID {
			t.Errorf("expected newest first, got %d then %d", got[0].ID, got[1].ID)
		}
		if got[0].Items != nil {
			t.Error("list should omit items")
		}
	})
}

func TestTaskRepository(t *testing.T) {
	ctx := context.Background()

	t.Run("CreateImported", func(t *testing.T) {
		db := setupTestDB(t)
		d := createDataset(t, db, 3)
		repo := NewTaskRepository(db)

		n, err := repo.CreateImported(ctx, d.ID, 7, []int64{101, 102, 103})
		if err != nil {
			t.Fatalf("failed to create imported tasks: %v", err)
		}
		if n != 3 {
			t.Errorf("expected 3 tasks, got %d", n)
		}

		tasks, err := repo.ListImported(ctx, d.ID)
		if err != nil {
			t.Fatalf("failed to list imported: %v", err)
		}
		if len(tasks) != 3 {
			t.Fatalf("expected 3 imported tasks, got %d", len(tasks))
		}
		for i, task := range tasks {
			if task.Status != models.TaskImported {
				t.Errorf("expected status imported, got %s", task.Status)
			}
			if task.LSTaskID == nil || *task.LSTaskID != int64(101+i) {
				t.Errorf("expected ls task id %d, got %v", 101+i, task.LSTaskID)
			}
			if task.LSProjectID == nil || *task.LSProjectID != 7 {
				t.Errorf("expected project 7, got %v", task.LSProjectID)
			}
		}
	})

	t.Run("CreateImported Chunks Large Batches", func(t *testing.T) {
		db := setupTestDB(t)
		d := createDataset(t, db, 0)
		repo := NewTaskRepository(db)

		ids := make([]int64, 1200)
		for i := range ids {
			ids[i] = int64(i + 1)
		}
		if _, err := repo.CreateImported(ctx, d.ID, 1, ids); err != nil {
			t.Fatalf("failed to create imported tasks: %v", err)
		}

		stats, err := repo.Stats(ctx, d.ID)
		if err != nil {
			t.Fatalf("failed to get stats: %v", err)
		}
		if stats.Total != 1200 {
			t.Errorf("expected 1200 tasks, got %d", stats.Total)
		}
	})

	t.Run("CreateImported Empty", func(t *testing.T) {
		db := setupTestDB(t)
		d := createDataset(t, db, 0)

		n, err := NewTaskRepository(db).CreateImported(ctx, d.ID, 1, nil)
		if err != nil || n != 0 {
			t.Errorf("expected no-op, got %d, %v", n, err)
		}
	})

	t.Run("ListImported Skips Local Only Tasks", func(t *testing.T) {
		db := setupTestDB(t)
		d := createDataset(t, db, 0)
		repo := NewTaskRepository(db)

		if err := repo.Create(ctx, &models.Task{DatasetID: d.ID}); err != nil {
			t.Fatalf("failed to create task: %v", err)
		}
		if _, err := repo.CreateImported(ctx, d.ID, 1, []int64{5}); err != nil {
			t.Fatalf("failed to create imported tasks: %v", err)
		}

		tasks, err := repo.ListImported(ctx, d.ID)
		if err != nil {
			t.Fatalf("failed to list imported: %v", err)
		}
		if len(tasks) != 1 || *tasks[0].LSTaskID != 5 {
			t.Errorf("expected only the imported task, got %d", len(tasks))
		}
	})

	t.Run("MarkLabeled", func(t *testing.T) {
		db := setupTestDB(t)
		d := createDataset(t, db, 0)
		repo := NewTaskRepository(db)

		if _, err := repo.CreateImported(ctx, d.ID, 1, []int64{11}); err != nil {
			t.Fatalf("failed to create imported tasks: %v", err)
		}
		tasks, _ := repo.ListImported(ctx, d.ID)

		label := "positive"
		annotations := json.RawMessage(`{"annotations":[{"id":1}]}`)
		if err := repo.MarkLabeled(ctx, tasks[0].ID, annotations, &label); err != nil {
			t.Fatalf("failed to mark labeled: %v", err)
		}

		got, err := repo.Get(ctx, tasks[0].ID)
		if err != nil {
			t.Fatalf("failed to get task: %v", err)
		}
		if got.Status != models.TaskLabeled {
			t.Errorf("expected labeled, got %s", got.Status)
		}
		if got.Label == nil || *got.Label != "positive" {
			t.Errorf("expected label positive, got %v", got.Label)
		}
		if string(got.AnnotationJSON) != string(annotations) {
			t.Errorf("expected annotations stored verbatim, got %s", got.AnnotationJSON)
		}
	})

	t.Run("MarkLabeled Refuses New Task", func(t *testing.T) {
		db := setupTestDB(t)
		d := createDataset(t, db, 0)
		repo := NewTaskRepository(db)

		task := &models.Task{DatasetID: d.ID}
		if err := repo.Create(ctx, task); err != nil {
			t.Fatalf("failed to create task: %v", err)
		}
		err := repo.MarkLabeled(ctx, task.ID, json.RawMessage(`{}`), nil)
		if !errors.Is(err, shared.ErrTaskNotFound) {
			t.Errorf("expected ErrTaskNotFound, got %v", err)
		}
	})

	t.Run("Create Rejects Imported Without External ID", func(t *testing.T) {
		db := setupTestDB(t)
		d := createDataset(t, db, 0)

		err := NewTaskRepository(db).Create(ctx, &models.Task{DatasetID: d.ID, Status: models.TaskImported})
		if !errors.Is(err, shared.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("Assign", func(t *testing.T) {
		db := setupTestDB(t)
		d := createDataset(t, db, 0)
		repo := NewTaskRepository(db)

		task := &models.Task{DatasetID: d.ID}
		if err := repo.Create(ctx, task); err != nil {
			t.Fatalf("failed to create task: %v", err)
		}

		got, err := repo.Assign(ctx, task.ID, "ann1")
		if err != nil {
			t.Fatalf("failed to assign: %v", err)
		}
		if got.AssignedTo == nil || *got.AssignedTo != "ann1" {
			t.Errorf("expected ann1, got %v", got.AssignedTo)
		}
		if got.AssignedAt == nil {
			t.Error("assigned_at should be set")
		}

		if _, err := repo.Assign(ctx, 999, "ann1"); !errors.Is(err, shared.ErrTaskNotFound) {
			t.Errorf("expected ErrTaskNotFound, got %v", err)
		}
	})

	t.Run("AutoAssign", func(t *testing.T) {
		tt := []struct {
			name   string
			tasks  int
			count  int
			wantN  int
			wantID int64
		}{
			{name: "default count", tasks: 30, count: 0, wantN: 20, wantID: 1},
			{name: "explicit count", tasks: 30, count: 5, wantN: 5, wantID: 1},
			{name: "negative clamps to one", tasks: 30, count: -4, wantN: 1, wantID: 1},
			{name: "fewer than requested", tasks: 3, count: 10, wantN: 3, wantID: 1},
			{name: "capped at max", tasks: 600, count: 9000, wantN: MaxAssignCount, wantID: 1},
		}

		for _, tc := range tt {
			t.Run(tc.name, func(t *testing.T) {
				db := setupTestDB(t)
				d := createDataset(t, db, 0)
				repo := NewTaskRepository(db)

				ids := make([]int64, tc.tasks)
				for i := range ids {
					ids[i] = int64(i + 1)
				}
				if _, err := repo.CreateImported(ctx, d.ID, 1, ids); err != nil {
					t.Fatalf("failed to create tasks: %v", err)
				}

				got, err := repo.AutoAssign(ctx, d.ID, "ann1", tc.count)
				if err != nil {
					t.Fatalf("failed to auto assign: %v", err)
				}
				if len(got) != tc.wantN {
					t.Errorf("expected %d assigned, got %d", tc.wantN, len(got))
				}
				if len(got) > 0 && got[0] != tc.wantID {
					t.Errorf("expected lowest id first, got %d", got[0])
				}
			})
		}
	})

	t.Run("AutoAssign Skips Assigned", func(t *testing.T) {
		db := setupTestDB(t)
		d := createDataset(t, db, 0)
		repo := NewTaskRepository(db)

		if _, err := repo.CreateImported(ctx, d.ID, 1, []int64{1, 2, 3, 4}); err != nil {
			t.Fatalf("failed to create tasks: %v", err)
		}
		first, _ := repo.AutoAssign(ctx, d.ID, "ann1", 2)
		second, err := repo.AutoAssign(ctx, d.ID, "ann2", 10)
		if err != nil {
			t.Fatalf("failed to auto assign: %v", err)
		}
		if len(first) != 2 || len(second) != 2 {
			t.Fatalf("expected 2 and 2, got %d and %d", len(first), len(second))
		}
		if second[0] <= first[1] {
			t.Errorf("expected second batch after first, got %v then %v", first, second)
		}
	})

	t.Run("Stats", func(t *testing.T) {
		db := setupTestDB(t)
		d := createDataset(t, db, 0)
		repo := NewTaskRepository(db)

		if err := repo.Create(ctx, &models.Task{DatasetID: d.ID}); err != nil {
			t.Fatalf("failed to create task: %v", err)
		}
		if _, err := repo.CreateImported(ctx, d.ID, 1, []int64{1, 2}); err != nil {
			t.Fatalf("failed to create tasks: %v", err)
		}
		imported, _ := repo.ListImported(ctx, d.ID)
		if err := repo.MarkLabeled(ctx, imported[0].ID, json.RawMessage(`{"annotations":[]}`), nil); err != nil {
			t.Fatalf("failed to mark labeled: %v", err)
		}

		stats, err := repo.Stats(ctx, d.ID)
		if err != nil {
			t.Fatalf("failed to get stats: %v", err)
		}
		if stats.Total != 3 || stats.Imported != 2 || stats.Labeled != 1 {
			t.Errorf("expected 3/2/1, got %d/%d/%d", stats.Total, stats.Imported, stats.Labeled)
		}
	})

	t.Run("Stats Empty Dataset", func(t *testing.T) {
		db := setupTestDB(t)
		d := createDataset(t, db, 0)

		stats, err := NewTaskRepository(db).Stats(ctx, d.ID)
		if err != nil {
			t.Fatalf("failed to get stats: %v", err)
		}
		if stats.Total != 0 || stats.Imported != 0 || stats.Labeled != 0 {
			t.Errorf("expected zero counts, got %+v", stats)
		}
	})

	t.Run("ListAssigned And AssignedStats", func(t *testing.T) {
		db := setupTestDB(t)
		d := createDataset(t, db, 0)
		other := createDataset(t, db, 0)
		repo := NewTaskRepository(db)

		if _, err := repo.CreateImported(ctx, d.ID, 1, []int64{1, 2, 3}); err != nil {
			t.Fatalf("failed to create tasks: %v", err)
		}
		if _, err := repo.CreateImported(ctx, other.ID, 1, []int64{4}); err != nil {
			t.Fatalf("failed to create tasks: %v", err)
		}
		if _, err := repo.AutoAssign(ctx, d.ID, "ann1", 2); err != nil {
			t.Fatalf("failed to auto assign: %v", err)
		}
		if _, err := repo.AutoAssign(ctx, other.ID, "ann1", 1); err != nil {
			t.Fatalf("failed to auto assign: %v", err)
		}

		all, err := repo.ListAssigned(ctx, "ann1", models.Filter{})
		if err != nil {
			t.Fatalf("failed to list assigned: %v", err)
		}
		if len(all) != 3 {
			t.Errorf("expected 3 assigned tasks, got %d", len(all))
		}

		scoped, err := repo.ListAssigned(ctx, "ann1", models.Filter{DatasetID: d.ID, Status: "imported"})
		if err != nil {
			t.Fatalf("failed to list assigned: %v", err)
		}
		if len(scoped) != 2 {
			t.Errorf("expected 2 scoped tasks, got %d", len(scoped))
		}

		stats, err := repo.AssignedStats(ctx, "ann1", &d.ID)
		if err != nil {
			t.Fatalf("failed to get assigned stats: %v", err)
		}
		if stats.AssignedTotal != 2 || stats.AssignedImported != 2 || stats.AssignedLabeled != 0 {
			t.Errorf("expected 2/2/0, got %+v", stats)
		}
		if stats.Me != "ann1" {
			t.Errorf("expected me ann1, got %s", stats.Me)
		}

		global, err := repo.AssignedStats(ctx, "ann1", nil)
		if err != nil {
			t.Fatalf("failed to get assigned stats: %v", err)
		}
		if global.AssignedTotal != 3 {
			t.Errorf("expected 3 across datasets, got %d", global.AssignedTotal)
		}
	})
}

func TestJobRepository(t *testing.T) {
	ctx := context.Background()

	newQueued := func(t *testing.T, db *sql.DB) *models.Job {
		t.Helper()
		d := createDataset(t, db, 1)
		j := models.NewJob(models.JobImport, d.ID, "admin")
		if err := NewJobRepository(db).Create(ctx, j); err != nil {
			t.Fatalf("failed to create job: %v", err)
		}
		return j
	}

	t.Run("Create And Get", func(t *testing.T) {
		db := setupTestDB(t)
		j := newQueued(t, db)

		got, err := NewJobRepository(db).Get(ctx, j.ID)
		if err != nil {
			t.Fatalf("failed to get job: %v", err)
		}
		if got.Status != models.JobQueued {
			t.Errorf("expected queued, got %s", got.Status)
		}
		if got.Kind != models.JobImport {
			t.Errorf("expected import kind, got %s", got.Kind)
		}
	})

	t.Run("Get Not Found", func(t *testing.T) {
		db := setupTestDB(t)
		if _, err := NewJobRepository(db).Get(ctx, 42); !errors.Is(err, shared.ErrJobNotFound) {
			t.Errorf("expected ErrJobNotFound, got %v", err)
		}
	})

	t.Run("Lifecycle", func(t *testing.T) {
		db := setupTestDB(t)
		j := newQueued(t, db)
		repo := NewJobRepository(db)

		if err := repo.MarkRunning(ctx, j.ID); err != nil {
			t.Fatalf("failed to mark running: %v", err)
		}
		if err := repo.Finish(ctx, j.ID, models.JobSuccess, "imported 1 tasks"); err != nil {
			t.Fatalf("failed to finish: %v", err)
		}

		got, _ := repo.Get(ctx, j.ID)
		if got.Status != models.JobSuccess || got.Message != "imported 1 tasks" {
			t.Errorf("expected success with message, got %s %q", got.Status, got.Message)
		}
	})

	t.Run("Refuses Second Run", func(t *testing.T) {
		db := setupTestDB(t)
		j := newQueued(t, db)
		repo := NewJobRepository(db)

		if err := repo.MarkRunning(ctx, j.ID); err != nil {
			t.Fatalf("failed to mark running: %v", err)
		}
		if err := repo.MarkRunning(ctx, j.ID); !errors.Is(err, shared.ErrInvalidTransition) {
			t.Errorf("expected ErrInvalidTransition, got %v", err)
		}
	})

	t.Run("Queued Can Fail Directly", func(t *testing.T) {
		db := setupTestDB(t)
		j := newQueued(t, db)

		if err := NewJobRepository(db).Finish(ctx, j.ID, models.JobFailed, "dataset not found"); err != nil {
			t.Errorf("expected queued to fail directly, got %v", err)
		}
	})

	t.Run("Terminal Is Final", func(t *testing.T) {
		tt := []struct {
			name     string
			terminal models.JobStatus
			next     models.JobStatus
		}{
			{name: "success to failed", terminal: models.JobSuccess, next: models.JobFailed},
			{name: "failed to success", terminal: models.JobFailed, next: models.JobSuccess},
			{name: "failed to running", terminal: models.JobFailed, next: models.JobRunning},
		}

		for _, tc := range tt {
			t.Run(tc.name, func(t *testing.T) {
				db := setupTestDB(t)
				j := newQueued(t, db)
				repo := NewJobRepository(db)

				if err := repo.MarkRunning(ctx, j.ID); err != nil {
					t.Fatalf("failed to mark running: %v", err)
				}
				if err := repo.Finish(ctx, j.ID, tc.terminal, ""); err != nil {
					t.Fatalf("failed to finish: %v", err)
				}
				if err := repo.Transition(ctx, j.ID, tc.next, ""); !errors.Is(err, shared.ErrInvalidTransition) {
					t.Errorf("expected ErrInvalidTransition, got %v", err)
				}
			})
		}
	})

	t.Run("Finish Rejects Non Terminal", func(t *testing.T) {
		db := setupTestDB(t)
		j := newQueued(t, db)
		if err := NewJobRepository(db).Finish(ctx, j.ID, models.JobRunning, ""); !errors.Is(err, shared.ErrInvalidTransition) {
			t.Errorf("expected ErrInvalidTransition, got %v", err)
		}
	})

	t.Run("Transition Missing Job", func(t *testing.T) {
		db := setupTestDB(t)
		if err := NewJobRepository(db).MarkRunning(ctx, 77); !errors.Is(err, shared.ErrJobNotFound) {
			t.Errorf("expected ErrJobNotFound, got %v", err)
		}
	})

	t.Run("Truncates Message", func(t *testing.T) {
		db := setupTestDB(t)
		j := newQueued(t, db)
		repo := NewJobRepository(db)

		long := make([]rune, 900)
		for i := range long {
			long[i] = 'é'
		}
		if err := repo.Finish(ctx, j.ID, models.JobFailed, string(long)); err != nil {
			t.Fatalf("failed to finish: %v", err)
		}

		got, _ := repo.Get(ctx, j.ID)
		if n := len([]rune(got.Message)); n != models.MessageLimit {
			t.Errorf("expected %d characters, got %d", models.MessageLimit, n)
		}
	})

	t.Run("List", func(t *testing.T) {
		db := setupTestDB(t)
		first := newQueued(t, db)
		second := newQueued(t, db)
		repo := NewJobRepository(db)

		if err := repo.MarkRunning(ctx, second.ID); err != nil {
			t.Fatalf("failed to mark running: %v", err)
		}

		all, err := repo.List(ctx, models.Filter{})
		if err != nil {
			t.Fatalf("failed to list jobs: %v", err)
		}
		if len(all) != 2 || all[0].ID != second.ID {
			t.Errorf("expected newest first, got %d jobs", len(all))
		}

		queued, err := repo.List(ctx, models.Filter{Status: string(models.JobQueued)})
		if err != nil {
			t.Fatalf("failed to list jobs: %v", err)
		}
		if len(queued) != 1 || queued[0].ID != first.ID {
			t.Errorf("expected only the queued job, got %d", len(queued))
		}
	})
}
