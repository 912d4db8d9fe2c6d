package services

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	tu "github.com/desertthunder/lsync/internal/testing"
)

func TestAPIService(t *testing.T) {
	t.Run("New", func(t *testing.T) {
		t.Run("With Custom BaseURL and Client", func(t *testing.T) {
			customClient := &http.Client{}
			srv := NewAPIService("http://example.com/", customClient)

			if srv.baseURL != "http://example.com" {
				t.Errorf("expected trailing slash trimmed, got %s", srv.baseURL)
			}
			if srv.httpClient != customClient {
				t.Error("expected custom client to be used")
			}
		})

		t.Run("With Empty BaseURL And Nil Client", func(t *testing.T) {
			srv := NewAPIService("", nil)

			if srv.baseURL != "http://localhost:8080" {
				t.Errorf("expected default baseURL 'http://localhost:8080', got %s", srv.baseURL)
			}
			if srv.httpClient == nil {
				t.Error("expected a default client")
			}
		})
	})

	t.Run("Get", func(t *testing.T) {
		t.Run("JSON Response", func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodGet {
					t.Errorf("expected GET method, got %s", r.Method)
				}
				if r.URL.Path != "/api/projects/1" {
					t.Errorf("expected path '/api/projects/1', got %s", r.URL.Path)
				}
				w.Header().Set("X-Custom-Header", "test-value")
				tu.WriteJSON(w, http.StatusOK, map[string]any{"id": 1, "title": "demo"})
			}))
			defer server.Close()

			resp, err := NewAPIService(server.URL, nil).Get(context.Background(), "/api/projects/1")
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if resp.StatusCode != http.StatusOK {
				t.Errorf("expected status 200, got %d", resp.StatusCode)
			}
			if !resp.IsJSON {
				t.Fatal("expected response to be JSON")
			}
			if m, ok := resp.JSONData.(map[string]any); !ok || m["title"] != "demo" {
				t.Errorf("expected decoded JSON, got %v", resp.JSONData)
			}
			if resp.Headers.Get("X-Custom-Header") != "test-value" {
				t.Errorf("expected response headers preserved, got %v", resp.Headers)
			}
		})

		t.Run("Non-JSON Response", func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "text/plain")
				w.Write([]byte("plain text response"))
			}))
			defer server.Close()

			resp, err := NewAPIService(server.URL, nil).Get(context.Background(), "/")
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if resp.IsJSON || resp.JSONData != nil {
				t.Error("expected response to not be JSON")
			}
			if string(resp.Body) != "plain text response" {
				t.Errorf("expected body 'plain text response', got %s", string(resp.Body))
			}
		})

		t.Run("Error Status Is Not An Error", func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				tu.WriteJSON(w, http.StatusForbidden, map[string]string{"detail": "nope"})
			}))
			defer server.Close()

			resp, err := NewAPIService(server.URL, nil).Get(context.Background(), "/")
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if resp.StatusCode != http.StatusForbidden {
				t.Errorf("expected status 403, got %d", resp.StatusCode)
			}
		})

		t.Run("Failed HTTP Request", func(t *testing.T) {
			client := &http.Client{Transport: tu.NewMockRoundTripper(nil, errors.New("connection failed"))}

			_, err := NewAPIService("http://example.com", client).Get(context.Background(), "/test")
			if err == nil || !strings.Contains(err.Error(), "request failed") {
				t.Errorf("expected 'request failed' error, got %v", err)
			}
		})

		t.Run("With Canceled Context", func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))
			defer server.Close()

			ctx, cancel := context.WithCancel(context.Background())
			cancel()

			if _, err := NewAPIService(server.URL, nil).Get(ctx, "/"); err == nil {
				t.Error("expected error for canceled context")
			}
		})
	})

	t.Run("Post", func(t *testing.T) {
		t.Run("Sends JSON Body", func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPost {
					t.Errorf("expected POST method, got %s", r.Method)
				}
				if r.Header.Get("Content-Type") != "application/json" {
					t.Errorf("expected Content-Type 'application/json', got %s", r.Header.Get("Content-Type"))
				}

				body, _ := io.ReadAll(r.Body)
				var data []map[string]map[string]string
				if err := json.Unmarshal(body, &data); err != nil {
					t.Errorf("failed to unmarshal request body: %v", err)
				}
				if len(data) != 1 || data[0]["data"]["text"] != "hello" {
					t.Errorf("unexpected request data %v", data)
				}
				tu.WriteJSON(w, http.StatusCreated, map[string]int{"task_count": 1})
			}))
			defer server.Close()

			payload, _ := json.Marshal([]ImportTask{{Data: ImportData{Text: "hello"}}})
			resp, err := NewAPIService(server.URL, nil).Post(context.Background(), "/api/projects/1/import", payload)
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if resp.StatusCode != http.StatusCreated {
				t.Errorf("expected status 201, got %d", resp.StatusCode)
			}
			if !resp.IsJSON {
				t.Error("expected response to be JSON")
			}
		})

		t.Run("Failed HTTP Request", func(t *testing.T) {
			client := &http.Client{Transport: tu.NewMockRoundTripper(nil, errors.New("connection failed"))}

			_, err := NewAPIService("http://example.com", client).Post(context.Background(), "/test", []byte("{}"))
			if err == nil || !strings.Contains(err.Error(), "request failed") {
				t.Errorf("expected 'request failed' error, got %v", err)
			}
		})
	})

	t.Run("Authorized Client", func(t *testing.T) {
		fake := tu.NewFakeLabelStudio(t)
		fake.Handle("GET /api/current-user/whoami", func(w http.ResponseWriter, r *http.Request) {
			tu.WriteJSON(w, http.StatusOK, map[string]string{"username": "admin"})
		})

		cache, err := NewTokenCache(fake.URL, tu.RefreshToken)
		if err != nil {
			t.Fatalf("failed to create token cache: %v", err)
		}

		ctx := context.Background()
		srv := NewAPIService(fake.URL, NewAuthorizedClient(ctx, cache))
		resp, err := srv.Get(ctx, "/api/current-user/whoami")
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if resp.StatusCode != http.StatusOK {
			t.Errorf("expected bearer token to be accepted, got status %d", resp.StatusCode)
		}
		if fake.Calls("POST /api/token/refresh") != 1 {
			t.Errorf("expected one refresh, got %d", fake.Calls("POST /api/token/refresh"))
		}
	})
}
