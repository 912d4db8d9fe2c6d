package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-resty/resty/v2"

	"github.com/desertthunder/lsync/internal/shared"
)

const (
	maxTaskIDTimeout  = 60 * time.Second
	listTasksTimeout  = 120 * time.Second
	bulkImportTimeout = 120 * time.Second
	pollTickTimeout   = 30 * time.Second
	fetchTaskTimeout  = 30 * time.Second

	listPageSize = 1000
)

// LabelStudioOptions configures a [LabelStudio] client.
type LabelStudioOptions struct {
	UserAgent    string        // Sent on every request; defaults to [shared.DefaultUserAgent]
	PollInterval time.Duration // Delay between import status polls (default: 2s)
	PollAttempts int           // Import status polls before giving up (default: 60)
	HTTPClient   *http.Client  // Underlying transport; nil uses resty's default
	Logger       *log.Logger
}

// DefaultLabelStudioOptions returns the production polling budget.
func DefaultLabelStudioOptions() LabelStudioOptions {
	return LabelStudioOptions{
		UserAgent:    shared.DefaultUserAgent,
		PollInterval: 2 * time.Second,
		PollAttempts: 60,
	}
}

// LabelStudio is a minimal client for the Label Studio REST API.
//
// Every request carries a bearer access token from an [AccessTokenSource]. A 401 triggers one forced refresh and a
// single retry.
type LabelStudio struct {
	baseURL      string
	userAgent    string
	tokens       AccessTokenSource
	http         *resty.Client
	pollInterval time.Duration
	pollAttempts int
	logger       *log.Logger
}

// TaskDetail is the part of a Label Studio task the export reads.
type TaskDetail struct {
	ID          int64             `json:"id"`
	Annotations []json.RawMessage `json:"annotations"`
}

// NewLabelStudio creates a client rooted at baseURL.
func NewLabelStudio(baseURL string, tokens AccessTokenSource, opts LabelStudioOptions) *LabelStudio {
	defaults := DefaultLabelStudioOptions()
	if opts.UserAgent == "" {
		opts.UserAgent = defaults.UserAgent
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaults.PollInterval
	}
	if opts.PollAttempts <= 0 {
		opts.PollAttempts = defaults.PollAttempts
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}

	client := resty.New()
	if opts.HTTPClient != nil {
		client = resty.NewWithClient(opts.HTTPClient)
	}

	return &LabelStudio{
		baseURL:      strings.TrimRight(baseURL, "/"),
		userAgent:    opts.UserAgent,
		tokens:       tokens,
		http:         client,
		pollInterval: opts.PollInterval,
		pollAttempts: opts.PollAttempts,
		logger:       shared.WithLogger(opts.Logger, "component", "labelstudio"),
	}
}

// Do performs one authenticated request against path, retrying once with a fresh token on 401.
//
// Non-2xx responses are returned as-is; only transport and token errors produce an error.
func (c *LabelStudio) Do(ctx context.Context, method, path string, body any, timeout time.Duration) (*resty.Response, error) {
	token, err := c.tokens.AccessToken(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := c.send(ctx, method, path, body, timeout, token)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() != http.StatusUnauthorized {
		return resp, nil
	}

	c.logger.Debug("access token rejected, refreshing", "method", method, "path", path)
	token, err = c.tokens.Refresh(ctx)
	if err != nil {
		return nil, err
	}
	return c.send(ctx, method, path, body, timeout, token)
}

func (c *LabelStudio) send(ctx context.Context, method, path string, body any, timeout time.Duration, token string) (*resty.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req := c.http.R().
		SetContext(ctx).
		SetHeader("Authorization", "Bearer "+token).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", c.userAgent)
	if body != nil {
		req.SetBody(body)
	}
	return req.Execute(method, c.baseURL+path)
}

type taskRef struct {
	ID int64 `json:"id"`
}

// MaxTaskID returns the highest task id in the project, or 0 when the project is empty.
//
// A read timeout is treated as an empty project. A body that is not JSON is an error.
func (c *LabelStudio) MaxTaskID(ctx context.Context, projectID int64) (int64, error) {
	path := fmt.Sprintf("/api/projects/%d/tasks?ordering=-id&page_size=1", projectID)
	resp, err := c.Do(ctx, http.MethodGet, path, nil, maxTaskIDTimeout)
	if err != nil {
		if isReadTimeout(err) {
			c.logger.Warn("max task id timed out, assuming empty project", "project", projectID)
			return 0, nil
		}
		return 0, fmt.Errorf("get max task id failed: %w", err)
	}
	if !resp.IsSuccess() {
		return 0, newHTTPError("get max task id failed", resp.StatusCode(), resp.String())
	}

	var body any
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return 0, fmt.Errorf("get max task id failed: %w", err)
	}
	// only a paged object carries results
	if _, ok := body.(map[string]any); !ok {
		return 0, nil
	}

	var page struct {
		Results []taskRef `json:"results"`
	}
	if err := json.Unmarshal(resp.Body(), &page); err != nil {
		return 0, fmt.Errorf("get max task id failed: %w", err)
	}
	if len(page.Results) == 0 {
		return 0, nil
	}
	return page.Results[0].ID, nil
}

// ListNewTaskIDs returns up to limit ids greater than afterID, ascending, keeping the highest ones.
//
// A read timeout yields an empty list.
func (c *LabelStudio) ListNewTaskIDs(ctx context.Context, projectID, afterID int64, limit int) ([]int64, error) {
	path := fmt.Sprintf("/api/projects/%d/tasks?ordering=-id&page_size=%d", projectID, listPageSize)
	resp, err := c.Do(ctx, http.MethodGet, path, nil, listTasksTimeout)
	if err != nil {
		if isReadTimeout(err) {
			c.logger.Warn("listing new tasks timed out", "project", projectID, "after", afterID)
			return []int64{}, nil
		}
		return nil, fmt.Errorf("list new tasks failed: %w", err)
	}
	if !resp.IsSuccess() {
		return nil, newHTTPError("list new tasks failed", resp.StatusCode(), resp.String())
	}

	refs, err := decodeTaskRefs(resp.Body())
	if err != nil {
		return nil, fmt.Errorf("list new tasks failed: %w", err)
	}

	ids := make([]int64, 0, len(refs))
	for _, ref := range refs {
		if ref.ID > afterID {
			ids = append(ids, ref.ID)
		}
	}
	slices.Sort(ids)
	if limit >= 0 && len(ids) > limit {
		ids = ids[len(ids)-limit:]
	}
	return ids, nil
}

// decodeTaskRefs accepts both {"results": [...]} and a bare list.
func decodeTaskRefs(body []byte) ([]taskRef, error) {
	var refs []taskRef
	if err := json.Unmarshal(body, &refs); err == nil {
		return refs, nil
	}

	var page struct {
		Results []taskRef `json:"results"`
	}
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("unexpected task list payload: %w", err)
	}
	return page.Results, nil
}

// BulkImport posts tasks to the project and returns the raw response body, `{}` when empty.
//
// A 404 on /import is retried once on /import/.
func (c *LabelStudio) BulkImport(ctx context.Context, projectID int64, payload any) (json.RawMessage, error) {
	paths := []string{
		fmt.Sprintf("/api/projects/%d/import", projectID),
		fmt.Sprintf("/api/projects/%d/import/", projectID),
	}

	var resp *resty.Response
	for _, path := range paths {
		var err error
		resp, err = c.Do(ctx, http.MethodPost, path, payload, bulkImportTimeout)
		if err != nil {
			return nil, fmt.Errorf("import tasks failed: %w", err)
		}
		if resp.StatusCode() != http.StatusNotFound {
			break
		}
	}

	if !resp.IsSuccess() {
		return nil, newHTTPError("import tasks failed", resp.StatusCode(), resp.String())
	}

	body := strings.TrimSpace(resp.String())
	if body == "" {
		return json.RawMessage(`{}`), nil
	}
	return json.RawMessage(body), nil
}

// PollImport waits for an asynchronous import to finish.
//
// Returns [shared.ErrImportPollExhausted] when the job is still pending after the poll budget.
func (c *LabelStudio) PollImport(ctx context.Context, projectID, importID int64) error {
	path := fmt.Sprintf("/api/projects/%d/import/%d", projectID, importID)

	for attempt := 1; attempt <= c.pollAttempts; attempt++ {
		resp, err := c.Do(ctx, http.MethodGet, path, nil, pollTickTimeout)
		if err != nil {
			return fmt.Errorf("poll import status failed: %w", err)
		}
		if !resp.IsSuccess() {
			return newHTTPError("poll import status failed", resp.StatusCode(), resp.String())
		}

		switch importState(resp.Body()) {
		case "completed", "success", "finished":
			c.logger.Debug("import finished", "import", importID, "attempt", attempt)
			return nil
		case "failed", "error":
			return fmt.Errorf("LS import failed: %s", shared.Truncate(resp.String(), 300))
		}

		if attempt == c.pollAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("poll import status failed: %w", ctx.Err())
		case <-time.After(c.pollInterval):
		}
	}

	return fmt.Errorf("%w: import %d after %d attempts", shared.ErrImportPollExhausted, importID, c.pollAttempts)
}

// importState reads status, falling back to state, lowercased.
func importState(body []byte) string {
	var st struct {
		Status string `json:"status"`
		State  string `json:"state"`
	}
	if err := json.Unmarshal(body, &st); err != nil {
		return ""
	}
	state := st.Status
	if state == "" {
		state = st.State
	}
	return strings.ToLower(state)
}

// FetchTask retrieves a task with its annotations kept verbatim.
func (c *LabelStudio) FetchTask(ctx context.Context, taskID int64) (*TaskDetail, error) {
	prefix := fmt.Sprintf("fetch ls task %d failed", taskID)

	resp, err := c.Do(ctx, http.MethodGet, fmt.Sprintf("/api/tasks/%d", taskID), nil, fetchTaskTimeout)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", prefix, err)
	}
	if !resp.IsSuccess() {
		return nil, newHTTPError(prefix, resp.StatusCode(), resp.String())
	}

	var task TaskDetail
	if err := json.Unmarshal(resp.Body(), &task); err != nil {
		return nil, fmt.Errorf("%s: failed to decode task: %w", prefix, err)
	}
	if task.ID == 0 {
		task.ID = taskID
	}
	return &task, nil
}
