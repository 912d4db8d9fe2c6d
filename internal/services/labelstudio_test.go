package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/desertthunder/lsync/internal/shared"
	tu "github.com/desertthunder/lsync/internal/testing"
)

// staticTokens hands out fixed tokens and counts refreshes.
type staticTokens struct {
	refreshes atomic.Int32
}

func (s *staticTokens) AccessToken(context.Context) (string, error) { return "static", nil }
func (s *staticTokens) Refresh(context.Context) (string, error) {
	s.refreshes.Add(1)
	return "static", nil
}

func newTestClient(t *testing.T) (*LabelStudio, *tu.FakeLabelStudio) {
	t.Helper()
	fake := tu.NewFakeLabelStudio(t)
	cache, err := NewTokenCache(fake.URL, tu.RefreshToken)
	if err != nil {
		t.Fatalf("failed to create token cache: %v", err)
	}
	client := NewLabelStudio(fake.URL, cache, LabelStudioOptions{PollInterval: time.Millisecond, PollAttempts: 3})
	return client, fake
}

func tasksPage(ids ...int64) map[string]any {
	results := make([]map[string]int64, 0, len(ids))
	for _, id := range ids {
		results = append(results, map[string]int64{"id": id})
	}
	return map[string]any{"results": results}
}

func TestLabelStudio(t *testing.T) {
	ctx := context.Background()

	t.Run("Do", func(t *testing.T) {
		t.Run("Sends Headers", func(t *testing.T) {
			client, fake := newTestClient(t)
			fake.Handle("GET /api/projects/1/tasks", func(w http.ResponseWriter, r *http.Request) {
				if r.Header.Get("Accept") != "application/json" {
					t.Errorf("expected Accept header, got %q", r.Header.Get("Accept"))
				}
				if r.Header.Get("Content-Type") != "application/json" {
					t.Errorf("expected Content-Type header, got %q", r.Header.Get("Content-Type"))
				}
				tu.WriteJSON(w, http.StatusOK, tasksPage())
			})

			if _, err := client.MaxTaskID(ctx, 1); err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			agents := fake.UserAgents()
			if len(agents) != 1 || agents[0] != shared.DefaultUserAgent {
				t.Errorf("expected default user agent, got %v", agents)
			}
		})

		t.Run("Refreshes Once On 401", func(t *testing.T) {
			client, fake := newTestClient(t)
			fake.Handle("GET /api/projects/1/tasks", func(w http.ResponseWriter, r *http.Request) {
				tu.WriteJSON(w, http.StatusOK, tasksPage(5))
			})

			if _, err := client.MaxTaskID(ctx, 1); err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			fake.RevokeTokens()

			got, err := client.MaxTaskID(ctx, 1)
			if err != nil {
				t.Fatalf("expected no error after refresh, got %v", err)
			}
			if got != 5 {
				t.Errorf("expected 5, got %d", got)
			}
			if n := fake.Calls("POST /api/token/refresh"); n != 2 {
				t.Errorf("expected 2 refreshes, got %d", n)
			}
			if n := fake.Calls("GET /api/projects/1/tasks"); n != 3 {
				t.Errorf("expected 3 task calls, got %d", n)
			}
		})

		t.Run("Does Not Retry Twice", func(t *testing.T) {
			tokens := &staticTokens{}
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(http.StatusUnauthorized)
			}))
			defer srv.Close()

			client := NewLabelStudio(srv.URL, tokens, LabelStudioOptions{})
			_, err := client.MaxTaskID(ctx, 1)

			var httpErr *HTTPError
			if !errors.As(err, &httpErr) || httpErr.StatusCode != http.StatusUnauthorized {
				t.Fatalf("expected HTTP 401 error, got %v", err)
			}
			if calls.Load() != 2 || tokens.refreshes.Load() != 1 {
				t.Errorf("expected 2 calls and 1 refresh, got %d and %d", calls.Load(), tokens.refreshes.Load())
			}
		})

		t.Run("Custom User Agent", func(t *testing.T) {
			fake := tu.NewFakeLabelStudio(t)
			fake.Handle("GET /api/tasks/1", func(w http.ResponseWriter, r *http.Request) {
				tu.WriteJSON(w, http.StatusOK, map[string]any{"id": 1, "annotations": []any{}})
			})
			cache, _ := NewTokenCache(fake.URL, tu.RefreshToken)
			client := NewLabelStudio(fake.URL, cache, LabelStudioOptions{UserAgent: "lsync-test/1"})

			if _, err := client.FetchTask(ctx, 1); err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if agents := fake.UserAgents(); agents[0] != "lsync-test/1" {
				t.Errorf("expected custom user agent, got %v", agents)
			}
		})
	})

	t.Run("MaxTaskID", func(t *testing.T) {
		tt := []struct {
			name string
			body any
			want int64
		}{
			{name: "highest first", body: tasksPage(42, 41), want: 42},
			{name: "empty project", body: tasksPage(), want: 0},
			{name: "bare list", body: []map[string]int{{"id": 9}}, want: 0},
		}

		for _, tc := range tt {
			t.Run(tc.name, func(t *testing.T) {
				client, fake := newTestClient(t)
				fake.Handle("GET /api/projects/3/tasks", func(w http.ResponseWriter, r *http.Request) {
					if r.URL.Query().Get("ordering") != "-id" || r.URL.Query().Get("page_size") != "1" {
						t.Errorf("unexpected query %s", r.URL.RawQuery)
					}
					tu.WriteJSON(w, http.StatusOK, tc.body)
				})

				got, err := client.MaxTaskID(ctx, 3)
				if err != nil {
					t.Fatalf("expected no error, got %v", err)
				}
				if got != tc.want {
					t.Errorf("expected %d, got %d", tc.want, got)
				}
			})
		}

		t.Run("HTTP Error", func(t *testing.T) {
			client, fake := newTestClient(t)
			fake.Handle("GET /api/projects/3/tasks", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadGateway)
				w.Write([]byte("upstream down"))
			})

			_, err := client.MaxTaskID(ctx, 3)
			if err == nil || err.Error() != "get max task id failed: HTTP 502 - upstream down" {
				t.Errorf("unexpected error %v", err)
			}
			if !errors.Is(err, shared.ErrAPIRequest) {
				t.Error("expected error to unwrap to ErrAPIRequest")
			}
		})

		t.Run("Unparseable Body", func(t *testing.T) {
			client, fake := newTestClient(t)
			fake.Handle("GET /api/projects/3/tasks", func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "text/html")
				w.Write([]byte("<html>proxy error</html>"))
			})

			got, err := client.MaxTaskID(ctx, 3)
			if err == nil || !strings.HasPrefix(err.Error(), "get max task id failed: ") {
				t.Errorf("expected decode error, got %d, %v", got, err)
			}
		})

		t.Run("Read Timeout Degrades To Zero", func(t *testing.T) {
			client, fake := newTestClient(t)
			fake.Handle("GET /api/projects/3/tasks", func(w http.ResponseWriter, r *http.Request) {
				time.Sleep(200 * time.Millisecond)
				tu.WriteJSON(w, http.StatusOK, tasksPage(99))
			})

			if _, err := client.tokens.AccessToken(ctx); err != nil {
				t.Fatalf("failed to prime token: %v", err)
			}
			tctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
			defer cancel()

			got, err := client.MaxTaskID(tctx, 3)
			if err != nil {
				t.Fatalf("expected timeout to degrade, got %v", err)
			}
			if got != 0 {
				t.Errorf("expected 0, got %d", got)
			}
		})

		t.Run("Connection Failure Propagates", func(t *testing.T) {
			srv := httptest.NewServer(http.NotFoundHandler())
			base := srv.URL
			srv.Close()

			client := NewLabelStudio(base, &staticTokens{}, LabelStudioOptions{})
			_, err := client.MaxTaskID(ctx, 1)
			if err == nil || !strings.HasPrefix(err.Error(), "get max task id failed: ") {
				t.Errorf("expected wrapped transport error, got %v", err)
			}
		})
	})

	t.Run("ListNewTaskIDs", func(t *testing.T) {
		tt := []struct {
			name  string
			body  any
			after int64
			limit int
			want  []int64
		}{
			{name: "paged keeps highest", body: tasksPage(105, 104, 103, 102, 101, 100), after: 100, limit: 3, want: []int64{103, 104, 105}},
			{name: "bare list", body: []map[string]int64{{"id": 12}, {"id": 11}, {"id": 3}}, after: 10, limit: 5, want: []int64{11, 12}},
			{name: "nothing new", body: tasksPage(4, 3), after: 10, limit: 5, want: []int64{}},
		}

		for _, tc := range tt {
			t.Run(tc.name, func(t *testing.T) {
				client, fake := newTestClient(t)
				fake.Handle("GET /api/projects/1/tasks", func(w http.ResponseWriter, r *http.Request) {
					if r.URL.Query().Get("page_size") != "1000" {
						t.Errorf("expected page_size 1000, got %s", r.URL.Query().Get("page_size"))
					}
					tu.WriteJSON(w, http.StatusOK, tc.body)
				})

				got, err := client.ListNewTaskIDs(ctx, 1, tc.after, tc.limit)
				if err != nil {
					t.Fatalf("expected no error, got %v", err)
				}
				if fmt.Sprint(got) != fmt.Sprint(tc.want) {
					t.Errorf("expected %v, got %v", tc.want, got)
				}
			})
		}

		t.Run("Read Timeout Degrades To Empty", func(t *testing.T) {
			client, fake := newTestClient(t)
			fake.Handle("GET /api/projects/1/tasks", func(w http.ResponseWriter, r *http.Request) {
				time.Sleep(200 * time.Millisecond)
			})
			client.tokens.AccessToken(ctx)

			tctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
			defer cancel()

			got, err := client.ListNewTaskIDs(tctx, 1, 0, 10)
			if err != nil {
				t.Fatalf("expected timeout to degrade, got %v", err)
			}
			if got == nil || len(got) != 0 {
				t.Errorf("expected empty list, got %v", got)
			}
		})
	})

	t.Run("BulkImport", func(t *testing.T) {
		payload := []ImportTask{{Data: ImportData{Text: "a"}}, {Data: ImportData{Text: "b"}}}

		t.Run("Sends Payload", func(t *testing.T) {
			client, fake := newTestClient(t)
			fake.Handle("POST /api/projects/1/import", func(w http.ResponseWriter, r *http.Request) {
				body, _ := io.ReadAll(r.Body)
				var got []ImportTask
				if err := json.Unmarshal(body, &got); err != nil || len(got) != 2 || got[1].Data.Text != "b" {
					t.Errorf("unexpected payload %s", body)
				}
				tu.WriteJSON(w, http.StatusCreated, map[string]any{"task_ids": []int{1, 2}})
			})

			raw, err := client.BulkImport(ctx, 1, payload)
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if ids := ExtractCreatedTaskIDs(raw); len(ids) != 2 {
				t.Errorf("expected 2 ids, got %v", ids)
			}
		})

		t.Run("Retries Trailing Slash On 404", func(t *testing.T) {
			client, fake := newTestClient(t)
			fake.Handle("POST /api/projects/1/import/", func(w http.ResponseWriter, r *http.Request) {
				tu.WriteJSON(w, http.StatusCreated, map[string]int{"import": 77})
			})

			raw, err := client.BulkImport(ctx, 1, payload)
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if id, ok := ImportJobID(raw); !ok || id != 77 {
				t.Errorf("expected import handle 77, got %d", id)
			}
			if fake.Calls("POST /api/projects/1/import") != 1 {
				t.Error("expected the plain path to be tried first")
			}
		})

		t.Run("Empty Body Is Empty Object", func(t *testing.T) {
			client, fake := newTestClient(t)
			fake.Handle("POST /api/projects/1/import", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusCreated)
			})

			raw, err := client.BulkImport(ctx, 1, payload)
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if string(raw) != "{}" {
				t.Errorf("expected {}, got %s", raw)
			}
		})

		t.Run("Failure", func(t *testing.T) {
			client, fake := newTestClient(t)
			fake.Handle("POST /api/projects/1/import", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadRequest)
				w.Write([]byte(`{"detail":"bad payload"}`))
			})

			_, err := client.BulkImport(ctx, 1, payload)
			want := `import tasks failed: HTTP 400 - {"detail":"bad payload"}`
			if err == nil || err.Error() != want {
				t.Errorf("expected %q, got %v", want, err)
			}
		})

		t.Run("Both Paths Missing", func(t *testing.T) {
			client, _ := newTestClient(t)

			_, err := client.BulkImport(ctx, 1, payload)
			if err == nil || !strings.HasPrefix(err.Error(), "import tasks failed: HTTP 404") {
				t.Errorf("expected 404 import failure, got %v", err)
			}
		})
	})

	t.Run("PollImport", func(t *testing.T) {
		const path = "GET /api/projects/1/import/77"

		sequence := func(states ...string) http.HandlerFunc {
			var i atomic.Int32
			return func(w http.ResponseWriter, r *http.Request) {
				n := int(i.Add(1)) - 1
				if n >= len(states) {
					n = len(states) - 1
				}
				w.Write([]byte(states[n]))
			}
		}

		t.Run("Completes", func(t *testing.T) {
			client, fake := newTestClient(t)
			fake.Handle(path, sequence(`{"status":"queued"}`, `{"status":"in_progress"}`, `{"status":"completed"}`))

			if err := client.PollImport(ctx, 1, 77); err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if n := fake.Calls(path); n != 3 {
				t.Errorf("expected 3 polls, got %d", n)
			}
		})

		t.Run("State Fallback And Case", func(t *testing.T) {
			client, fake := newTestClient(t)
			fake.Handle(path, sequence(`{"state":"FINISHED"}`))

			if err := client.PollImport(ctx, 1, 77); err != nil {
				t.Errorf("expected no error, got %v", err)
			}
		})

		t.Run("Failed Import", func(t *testing.T) {
			client, fake := newTestClient(t)
			fake.Handle(path, sequence(`{"status":"failed","error":"bad file"}`))

			err := client.PollImport(ctx, 1, 77)
			if err == nil || !strings.HasPrefix(err.Error(), "LS import failed: ") {
				t.Errorf("expected import failure, got %v", err)
			}
			if err != nil && !strings.Contains(err.Error(), "bad file") {
				t.Errorf("expected payload in message, got %v", err)
			}
		})

		t.Run("Exhausted", func(t *testing.T) {
			client, fake := newTestClient(t)
			fake.Handle(path, sequence(`{"status":"queued"}`))

			err := client.PollImport(ctx, 1, 77)
			if !errors.Is(err, shared.ErrImportPollExhausted) {
				t.Errorf("expected ErrImportPollExhausted, got %v", err)
			}
			if n := fake.Calls(path); n != 3 {
				t.Errorf("expected 3 polls, got %d", n)
			}
		})

		t.Run("HTTP Error", func(t *testing.T) {
			client, fake := newTestClient(t)
			fake.Handle(path, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			})

			err := client.PollImport(ctx, 1, 77)
			if err == nil || !strings.HasPrefix(err.Error(), "poll import status failed: HTTP 500") {
				t.Errorf("expected poll failure, got %v", err)
			}
		})
	})

	t.Run("FetchTask", func(t *testing.T) {
		t.Run("Keeps Annotations Verbatim", func(t *testing.T) {
			client, fake := newTestClient(t)
			fake.Handle("GET /api/tasks/9", func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{"id":9,"annotations":[{"id":1,"result":[{"value":{"choices":["pos"]}}]}]}`))
			})

			task, err := client.FetchTask(ctx, 9)
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if len(task.Annotations) != 1 {
				t.Fatalf("expected 1 annotation, got %d", len(task.Annotations))
			}
			if string(task.Annotations[0]) != `{"id":1,"result":[{"value":{"choices":["pos"]}}]}` {
				t.Errorf("expected raw annotation, got %s", task.Annotations[0])
			}
		})

		t.Run("Not Found", func(t *testing.T) {
			client, _ := newTestClient(t)

			_, err := client.FetchTask(ctx, 9)
			if err == nil || !strings.HasPrefix(err.Error(), "fetch ls task 9 failed: HTTP 404") {
				t.Errorf("expected fetch failure, got %v", err)
			}
		})
	})
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestIsReadTimeout(t *testing.T) {
	tt := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "deadline", err: context.DeadlineExceeded, want: true},
		{name: "url wrapped deadline", err: &url.Error{Op: "Get", URL: "http://ls", Err: context.DeadlineExceeded}, want: true},
		{name: "read timeout", err: &net.OpError{Op: "read", Err: timeoutErr{}}, want: true},
		{name: "dial timeout", err: &url.Error{Op: "Get", URL: "http://ls", Err: &net.OpError{Op: "dial", Err: timeoutErr{}}}, want: false},
		{name: "refused", err: &net.OpError{Op: "dial", Err: errors.New("connection refused")}, want: false},
		{name: "plain", err: errors.New("boom"), want: false},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			if got := isReadTimeout(tc.err); got != tc.want {
				t.Errorf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestHTTPError(t *testing.T) {
	err := newHTTPError("import tasks failed", 400, strings.Repeat("é", 600))
	if !errors.Is(err, shared.ErrAPIRequest) {
		t.Error("expected HTTPError to unwrap to ErrAPIRequest")
	}
	if n := len([]rune(err.Body)); n != 500 {
		t.Errorf("expected body truncated to 500 characters, got %d", n)
	}
	if !strings.HasPrefix(err.Error(), "import tasks failed: HTTP 400 - ") {
		t.Errorf("unexpected message %q", err.Error())
	}
}
