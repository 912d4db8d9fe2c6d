package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/lsync/internal/models"
	"github.com/desertthunder/lsync/internal/queue"
	"github.com/desertthunder/lsync/internal/shared"
)

const (
	demoItemCount    = 100
	defaultAutoCount = 20
	maxAutoCount     = 500
	assignPreview    = 50
)

// Pinger reports whether the ledger database is reachable.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// DatasetStore is the dataset ledger the API reads and writes.
type DatasetStore interface {
	Create(ctx context.Context, d *models.Dataset) error
	Get(ctx context.Context, id int64) (*models.Dataset, error)
	List(ctx context.Context, filter models.Filter) ([]*models.Dataset, error)
}

// TaskStore is the task ledger the API reads and writes.
type TaskStore interface {
	Get(ctx context.Context, id int64) (*models.Task, error)
	ListAssigned(ctx context.Context, username string, filter models.Filter) ([]*models.Task, error)
	Assign(ctx context.Context, id int64, username string) (*models.Task, error)
	AutoAssign(ctx context.Context, datasetID int64, username string, count int) ([]int64, error)
	Stats(ctx context.Context, datasetID int64) (*models.TaskStats, error)
	AssignedStats(ctx context.Context, username string, datasetID *int64) (*models.AssignedStats, error)
}

// JobStore is the job ledger the API reads and writes.
type JobStore interface {
	Create(ctx context.Context, j *models.Job) error
	Get(ctx context.Context, id int64) (*models.Job, error)
	List(ctx context.Context, filter models.Filter) ([]*models.Job, error)
	Finish(ctx context.Context, id int64, status models.JobStatus, message string) error
}

// Enqueuer hands a job to the workers.
type Enqueuer interface {
	Enqueue(ctx context.Context, msg queue.Message) error
}

// APIDeps wires the API to its stores and queue.
type APIDeps struct {
	DB           Pinger
	Datasets     DatasetStore
	Tasks        TaskStore
	Jobs         JobStore
	Queue        Enqueuer
	QueueBackend string
	Auth         *Authenticator
	Logger       *log.Logger
}

// API serves the dataset, job, assignment and annotator routes.
type API struct {
	db       Pinger
	datasets DatasetStore
	tasks    TaskStore
	jobs     JobStore
	queue    Enqueuer
	backend  string
	auth     *Authenticator
	logger   *log.Logger
}

// NewAPI creates an API over deps.
func NewAPI(deps APIDeps) *API {
	if deps.Logger == nil {
		deps.Logger = log.Default()
	}
	if deps.QueueBackend == "" {
		deps.QueueBackend = "memory"
	}
	return &API{
		db:       deps.DB,
		datasets: deps.Datasets,
		tasks:    deps.Tasks,
		jobs:     deps.Jobs,
		queue:    deps.Queue,
		backend:  deps.QueueBackend,
		auth:     deps.Auth,
		logger:   shared.WithLogger(deps.Logger, "component", "api"),
	}
}

// Register adds every route to router, each behind its role check.
func (a *API) Register(router *BasicRouter) {
	anyone := a.auth.Require()
	admin := a.auth.Require(RoleAdmin)
	annotator := a.auth.Require(RoleAdmin, RoleAnnotator)

	router.HandleFunc(http.MethodGet, "/health", a.handleHealth)
	router.HandleFunc(http.MethodPost, "/auth/login", a.handleLogin)
	router.Handle(http.MethodGet, "/me", anyone(http.HandlerFunc(a.handleMe)))
	router.Handle(http.MethodGet, "/admin/ping", admin(http.HandlerFunc(a.handleAdminPing)))
	router.Handle(http.MethodGet, "/annotator/ping", annotator(http.HandlerFunc(a.handleAnnotatorPing)))

	router.Handle(http.MethodPost, "/datasets", admin(http.HandlerFunc(a.handleCreateDataset)))
	router.Handle(http.MethodGet, "/datasets", admin(http.HandlerFunc(a.handleListDatasets)))
	router.Handle(http.MethodGet, "/datasets/{id}", anyone(http.HandlerFunc(a.handleGetDataset)))
	router.Handle(http.MethodGet, "/datasets/{id}/stats", anyone(http.HandlerFunc(a.handleDatasetStats)))
	router.Handle(http.MethodPost, "/datasets/{id}/import_to_ls", admin(a.handleCreateJob(models.JobImport)))
	router.Handle(http.MethodPost, "/datasets/{id}/export_from_ls", admin(a.handleCreateJob(models.JobExport)))
	router.Handle(http.MethodPost, "/datasets/{id}/auto_assign", admin(http.HandlerFunc(a.handleAutoAssign)))
	router.Handle(http.MethodPost, "/tasks/{id}/assign/{username}", admin(http.HandlerFunc(a.handleAssign)))

	router.Handle(http.MethodGet, "/jobs", admin(http.HandlerFunc(a.handleListJobs)))
	router.Handle(http.MethodGet, "/jobs/{id}", anyone(http.HandlerFunc(a.handleGetJob)))

	router.Handle(http.MethodGet, "/annotator/tasks", annotator(http.HandlerFunc(a.handleAnnotatorTasks)))
	router.Handle(http.MethodGet, "/annotator/stats", annotator(http.HandlerFunc(a.handleAnnotatorStats)))
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := a.db.PingContext(r.Context()); err != nil {
		a.logger.Error("health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "error", "db": err.Error(), "queue": a.backend})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "db": "ok", "queue": a.backend})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body loginRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	token, user, err := a.auth.Login(body.Username, body.Password)
	if errors.Is(err, shared.ErrAuthFailed) {
		writeError(w, http.StatusUnauthorized, "Invalid username or password")
		return
	}
	if err != nil {
		a.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"access_token": token, "token_type": "bearer", "role": user.Role})
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	user, _ := UserFrom(r.Context())
	writeJSON(w, http.StatusOK, user)
}

func (a *API) handleAdminPing(w http.ResponseWriter, r *http.Request) {
	user, _ := UserFrom(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "as": RoleAdmin, "user": user})
}

func (a *API) handleAnnotatorPing(w http.ResponseWriter, r *http.Request) {
	user, _ := UserFrom(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "as": RoleAnnotator, "user": user})
}

type createDatasetRequest struct {
	Name  string        `json:"name"`
	Items []models.Item `json:"items"`
}

type datasetResponse struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	CreatedBy string `json:"created_by"`
}

func (a *API) handleCreateDataset(w http.ResponseWriter, r *http.Request) {
	var body createDatasetRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if len(body.Items) == 0 {
		body.Items = models.DemoItems(demoItemCount)
	}

	user, _ := UserFrom(r.Context())
	ds := &models.Dataset{Name: body.Name, Items: body.Items, CreatedBy: user.Username}
	if err := a.datasets.Create(r.Context(), ds); err != nil {
		if errors.Is(err, shared.ErrInvalidInput) {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		a.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, datasetResponse{ID: ds.ID, Name: ds.Name, CreatedBy: ds.CreatedBy})
}

func (a *API) handleListDatasets(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(w, r, "limit")
	if !ok {
		return
	}
	list, err := a.datasets.List(r.Context(), models.Filter{Limit: limit})
	if err != nil {
		a.internalError(w, r, err)
		return
	}

	items := make([]datasetResponse, 0, len(list))
	for _, ds := range list {
		items = append(items, datasetResponse{ID: ds.ID, Name: ds.Name, CreatedBy: ds.CreatedBy})
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(items), "items": items})
}

func (a *API) handleGetDataset(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	ds, err := a.datasets.Get(r.Context(), id)
	if errors.Is(err, shared.ErrDatasetNotFound) {
		writeError(w, http.StatusNotFound, "Dataset not found")
		return
	}
	if err != nil {
		a.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, datasetResponse{ID: ds.ID, Name: ds.Name, CreatedBy: ds.CreatedBy})
}

func (a *API) handleDatasetStats(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	stats, err := a.tasks.Stats(r.Context(), id)
	if err != nil {
		a.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleCreateJob records a queued job and hands it to the workers. The dataset is checked by the worker, not here.
func (a *API) handleCreateJob(kind models.JobKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}

		user, _ := UserFrom(r.Context())
		job := models.NewJob(kind, id, user.Username)
		if err := a.jobs.Create(r.Context(), job); err != nil {
			a.internalError(w, r, err)
			return
		}

		if err := a.queue.Enqueue(r.Context(), queue.Message{JobID: job.ID, Kind: kind}); err != nil {
			msg := shared.Truncate(fmt.Sprintf("enqueue failed: %v", err), models.MessageLimit)
			if ferr := a.jobs.Finish(context.WithoutCancel(r.Context()), job.ID, models.JobFailed, msg); ferr != nil {
				a.logger.Error("failed to record enqueue failure", "job_id", job.ID, "error", ferr)
			}
			a.logger.Error("enqueue failed", "job_id", job.ID, "kind", kind, "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"detail": msg, "job_id": job.ID, "status": models.JobFailed})
			return
		}

		a.logger.Info("job queued", "job_id", job.ID, "kind", kind, "dataset_id", id, "by", user.Username)
		writeJSON(w, http.StatusOK, map[string]any{"job_id": job.ID, "status": job.Status})
	}
}

func (a *API) handleAutoAssign(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	username := strings.TrimSpace(r.URL.Query().Get("username"))
	if username == "" {
		writeError(w, http.StatusBadRequest, "username is required")
		return
	}

	count := defaultAutoCount
	if raw := r.URL.Query().Get("count"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "count must be int")
			return
		}
		count = max(1, min(n, maxAutoCount))
	}

	if _, err := a.datasets.Get(r.Context(), id); err != nil {
		if errors.Is(err, shared.ErrDatasetNotFound) {
			writeError(w, http.StatusNotFound, "Dataset not found")
			return
		}
		a.internalError(w, r, err)
		return
	}

	ids, err := a.tasks.AutoAssign(r.Context(), id, username, count)
	if err != nil {
		a.internalError(w, r, err)
		return
	}
	if ids == nil {
		ids = []int64{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":          true,
		"dataset_id":  id,
		"assigned_to": username,
		"assigned":    len(ids),
		"task_ids":    ids[:min(len(ids), assignPreview)],
	})
}

func (a *API) handleAssign(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	username := r.PathValue("username")

	task, err := a.tasks.Assign(r.Context(), id, username)
	if errors.Is(err, shared.ErrTaskNotFound) {
		writeError(w, http.StatusNotFound, "Task not found")
		return
	}
	if err != nil {
		a.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "task_id": task.ID, "assigned_to": task.AssignedTo})
}

func (a *API) handleListJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	datasetID, ok := queryInt(w, r, "dataset_id")
	if !ok {
		return
	}
	limit, ok := queryInt(w, r, "limit")
	if !ok {
		return
	}

	jobs, err := a.jobs.List(r.Context(), models.Filter{
		DatasetID: int64(datasetID),
		Status:    q.Get("status"),
		Kind:      q.Get("type"),
		Limit:     limit,
	})
	if err != nil {
		a.internalError(w, r, err)
		return
	}
	if jobs == nil {
		jobs = []*models.Job{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(jobs), "items": jobs})
}

func (a *API) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	job, err := a.jobs.Get(r.Context(), id)
	if errors.Is(err, shared.ErrJobNotFound) {
		writeError(w, http.StatusNotFound, "Job not found")
		return
	}
	if err != nil {
		a.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

type assignedTask struct {
	ID          int64             `json:"id"`
	DatasetID   int64             `json:"dataset_id"`
	LSProjectID *int64            `json:"ls_project_id"`
	LSTaskID    *int64            `json:"ls_task_id"`
	Status      models.TaskStatus `json:"status"`
	AssignedTo  *string           `json:"assigned_to"`
	AssignedAt  *string           `json:"assigned_at"`
}

func (a *API) handleAnnotatorTasks(w http.ResponseWriter, r *http.Request) {
	user, ok := a.annotator(w, r)
	if !ok {
		return
	}
	datasetID, ok := queryInt(w, r, "dataset_id")
	if !ok {
		return
	}
	limit, ok := queryInt(w, r, "limit")
	if !ok {
		return
	}

	list, err := a.tasks.ListAssigned(r.Context(), user.Username, models.Filter{
		DatasetID: int64(datasetID),
		Status:    r.URL.Query().Get("status"),
		Limit:     limit,
	})
	if err != nil {
		a.internalError(w, r, err)
		return
	}

	items := make([]assignedTask, 0, len(list))
	for _, t := range list {
		item := assignedTask{
			ID:          t.ID,
			DatasetID:   t.DatasetID,
			LSProjectID: t.LSProjectID,
			LSTaskID:    t.LSTaskID,
			Status:      t.Status,
			AssignedTo:  t.AssignedTo,
		}
		if t.AssignedAt != nil {
			at := t.AssignedAt.UTC().Format(time.RFC3339)
			item.AssignedAt = &at
		}
		items = append(items, item)
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(items), "items": items})
}

func (a *API) handleAnnotatorStats(w http.ResponseWriter, r *http.Request) {
	user, ok := a.annotator(w, r)
	if !ok {
		return
	}
	datasetID, ok := queryInt(w, r, "dataset_id")
	if !ok {
		return
	}

	var scope *int64
	if datasetID > 0 {
		id := int64(datasetID)
		scope = &id
	}
	stats, err := a.tasks.AssignedStats(r.Context(), user.Username, scope)
	if err != nil {
		a.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// annotator returns the caller, rejecting tokens whose subject is blank.
func (a *API) annotator(w http.ResponseWriter, r *http.Request) (*User, bool) {
	user, ok := UserFrom(r.Context())
	if !ok || strings.TrimSpace(user.Username) == "" {
		writeError(w, http.StatusUnauthorized, "Invalid user in token")
		return nil, false
	}
	return user, true
}

func (a *API) internalError(w http.ResponseWriter, r *http.Request, err error) {
	a.logger.Error("request failed", "path", r.URL.Path, "request_id", RequestIDFrom(r.Context()), "error", err)
	writeError(w, http.StatusInternalServerError, "Internal server error")
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusUnprocessableEntity, "id must be a positive integer")
		return 0, false
	}
	return id, true
}

// queryInt reads an optional integer query parameter; absent means zero.
func queryInt(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, name+" must be int")
		return 0, false
	}
	return n, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
