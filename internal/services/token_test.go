package services

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/desertthunder/lsync/internal/shared"
	tu "github.com/desertthunder/lsync/internal/testing"
)

// refreshServer answers the refresh endpoint with access and counts calls.
func refreshServer(t *testing.T, access func() string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/token/refresh" {
			tu.WriteJSON(w, http.StatusNotFound, map[string]string{"detail": "not found"})
			return
		}
		calls.Add(1)
		tu.WriteJSON(w, http.StatusOK, map[string]string{"access": access()})
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestTokenCache(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	t.Run("NewTokenCache", func(t *testing.T) {
		t.Run("Rejects Legacy Token", func(t *testing.T) {
			_, err := NewTokenCache("http://ls", "0123456789abcdef")
			if !errors.Is(err, shared.ErrInvalidCredentials) {
				t.Errorf("expected ErrInvalidCredentials, got %v", err)
			}
			if err != nil && !strings.Contains(err.Error(), "Personal Access Token") {
				t.Errorf("expected hint about the Personal Access Token, got %v", err)
			}
		})

		t.Run("Accepts Three Part Token", func(t *testing.T) {
			if _, err := NewTokenCache("http://ls", tu.RefreshToken); err != nil {
				t.Errorf("expected no error, got %v", err)
			}
		})
	})

	t.Run("Caches Until Expiry Skew", func(t *testing.T) {
		exp := start.Add(10 * time.Minute)
		access := tu.MakeJWT(t, exp)
		srv, calls := refreshServer(t, func() string { return access })

		clock := start
		cache, err := NewTokenCache(srv.URL, tu.RefreshToken, WithClock(func() time.Time { return clock }))
		if err != nil {
			t.Fatalf("failed to create cache: %v", err)
		}

		for range 3 {
			got, err := cache.AccessToken(ctx)
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if got != access {
				t.Errorf("expected cached access token")
			}
		}
		if calls.Load() != 1 {
			t.Errorf("expected 1 refresh, got %d", calls.Load())
		}

		wantExpiry := exp.Add(-30 * time.Second)
		if !cache.Expiry().Equal(wantExpiry) {
			t.Errorf("expected expiry %v, got %v", wantExpiry, cache.Expiry())
		}

		clock = wantExpiry.Add(-time.Second)
		if _, err := cache.AccessToken(ctx); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if calls.Load() != 1 {
			t.Errorf("expected still 1 refresh just before expiry, got %d", calls.Load())
		}

		clock = wantExpiry
		if _, err := cache.AccessToken(ctx); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if calls.Load() != 2 {
			t.Errorf("expected a refresh at expiry, got %d", calls.Load())
		}
	})

	t.Run("Falls Back To Sixty Seconds", func(t *testing.T) {
		tt := []struct {
			name   string
			access func(t *testing.T) string
		}{
			{name: "opaque token", access: func(t *testing.T) string { return "opaque-access" }},
			{name: "expired token", access: func(t *testing.T) string { return tu.MakeJWT(t, start.Add(-time.Hour)) }},
		}

		for _, tc := range tt {
			t.Run(tc.name, func(t *testing.T) {
				access := tc.access(t)
				srv, _ := refreshServer(t, func() string { return access })

				cache, err := NewTokenCache(srv.URL, tu.RefreshToken, WithClock(func() time.Time { return start }))
				if err != nil {
					t.Fatalf("failed to create cache: %v", err)
				}
				if _, err := cache.AccessToken(ctx); err != nil {
					t.Fatalf("expected no error, got %v", err)
				}
				if want := start.Add(60 * time.Second); !cache.Expiry().Equal(want) {
					t.Errorf("expected expiry %v, got %v", want, cache.Expiry())
				}
			})
		}
	})

	t.Run("Refresh Forces Exchange", func(t *testing.T) {
		access := tu.MakeJWT(t, start.Add(time.Hour))
		srv, calls := refreshServer(t, func() string { return access })

		cache, _ := NewTokenCache(srv.URL, tu.RefreshToken, WithClock(func() time.Time { return start }))
		cache.AccessToken(ctx)
		if _, err := cache.Refresh(ctx); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if calls.Load() != 2 {
			t.Errorf("expected 2 refreshes, got %d", calls.Load())
		}

		cache.Invalidate()
		cache.AccessToken(ctx)
		if calls.Load() != 3 {
			t.Errorf("expected invalidate to force a refresh, got %d", calls.Load())
		}
	})

	t.Run("Concurrent Callers Share One Refresh", func(t *testing.T) {
		access := tu.MakeJWT(t, time.Now().Add(time.Hour))
		srv, calls := refreshServer(t, func() string {
			time.Sleep(20 * time.Millisecond)
			return access
		})
		cache, _ := NewTokenCache(srv.URL, tu.RefreshToken)

		var wg sync.WaitGroup
		for range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := cache.AccessToken(ctx); err != nil {
					t.Errorf("expected no error, got %v", err)
				}
			}()
		}
		wg.Wait()

		if calls.Load() != 1 {
			t.Errorf("expected 1 refresh, got %d", calls.Load())
		}
	})

	t.Run("Uses Trailing Slash On 404", func(t *testing.T) {
		fake := tu.NewFakeLabelStudio(t)
		fake.Unhandle("POST /api/token/refresh")
		fake.Handle("POST /api/token/refresh/", func(w http.ResponseWriter, r *http.Request) {
			tu.WriteJSON(w, http.StatusOK, map[string]string{"access": "slash-access"})
		})

		cache, _ := NewTokenCache(fake.URL, tu.RefreshToken)
		got, err := cache.AccessToken(ctx)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if got != "slash-access" {
			t.Errorf("expected slash-access, got %s", got)
		}
		if fake.Calls("POST /api/token/refresh") != 1 || fake.Calls("POST /api/token/refresh/") != 1 {
			t.Error("expected both refresh paths to be tried once")
		}
	})

	t.Run("Errors", func(t *testing.T) {
		tt := []struct {
			name    string
			handler http.HandlerFunc
			want    string
		}{
			{
				name: "both paths missing",
				handler: func(w http.ResponseWriter, r *http.Request) {
					w.WriteHeader(http.StatusNotFound)
				},
				want: "LS refresh access token failed: endpoint not found",
			},
			{
				name: "rejected credential",
				handler: func(w http.ResponseWriter, r *http.Request) {
					w.WriteHeader(http.StatusUnauthorized)
					w.Write([]byte(`{"detail":"Token is invalid or expired"}`))
				},
				want: `LS refresh access token failed: HTTP 401 - {"detail":"Token is invalid or expired"}`,
			},
			{
				name: "access missing",
				handler: func(w http.ResponseWriter, r *http.Request) {
					w.Write([]byte(`{"refresh":"x"}`))
				},
				want: `LS refresh ok but access missing: HTTP 200 - {"refresh":"x"}`,
			},
			{
				name: "long body truncated",
				handler: func(w http.ResponseWriter, r *http.Request) {
					w.WriteHeader(http.StatusInternalServerError)
					w.Write([]byte(strings.Repeat("x", 900)))
				},
				want: "LS refresh access token failed: HTTP 500 - " + strings.Repeat("x", 500),
			},
		}

		for _, tc := range tt {
			t.Run(tc.name, func(t *testing.T) {
				srv := httptest.NewServer(tc.handler)
				defer srv.Close()

				cache, _ := NewTokenCache(srv.URL, tu.RefreshToken)
				_, err := cache.AccessToken(ctx)
				if err == nil {
					t.Fatal("expected error")
				}
				if err.Error() != tc.want {
					t.Errorf("expected %q, got %q", tc.want, err.Error())
				}
			})
		}
	})

	t.Run("Token Satisfies TokenSource", func(t *testing.T) {
		exp := start.Add(time.Hour)
		access := tu.MakeJWT(t, exp)
		srv, _ := refreshServer(t, func() string { return access })

		cache, _ := NewTokenCache(srv.URL, tu.RefreshToken, WithClock(func() time.Time { return start }))
		tok, err := cache.Token()
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if tok.AccessToken != access || tok.TokenType != "Bearer" {
			t.Errorf("unexpected token %+v", tok)
		}
		if !tok.Expiry.Equal(exp.Add(-30 * time.Second)) {
			t.Errorf("expected expiry carried over, got %v", tok.Expiry)
		}
	})
}
