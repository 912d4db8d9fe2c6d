package testing

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

// FakeLabelStudio is an in-process Label Studio stand-in.
//
// It issues access tokens from POST /api/token/refresh and rejects requests whose bearer token it did not issue.
// Other routes are registered with [FakeLabelStudio.Handle] using "METHOD /path" keys; unregistered routes 404.
type FakeLabelStudio struct {
	*httptest.Server

	t   *testing.T
	ttl time.Duration

	mu       sync.Mutex
	handlers map[string]http.HandlerFunc
	issued   map[string]bool
	calls    map[string]int
	agents   []string
}

// NewFakeLabelStudio starts a fake server that is closed when the test ends.
func NewFakeLabelStudio(t *testing.T) *FakeLabelStudio {
	t.Helper()
	f := &FakeLabelStudio{
		t:        t,
		ttl:      time.Hour,
		handlers: make(map[string]http.HandlerFunc),
		issued:   make(map[string]bool),
		calls:    make(map[string]int),
	}
	f.handlers["POST /api/token/refresh"] = f.refresh
	f.Server = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.Close)
	return f
}

// Handle registers h for key, replacing any previous handler.
func (f *FakeLabelStudio) Handle(key string, h http.HandlerFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[key] = h
}

// Unhandle removes the handler for key so it answers 404.
func (f *FakeLabelStudio) Unhandle(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.handlers, key)
}

// Calls returns how many requests reached key.
func (f *FakeLabelStudio) Calls(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[key]
}

// RevokeTokens forgets every issued access token, so the next authenticated call gets a 401.
func (f *FakeLabelStudio) RevokeTokens() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.issued = make(map[string]bool)
}

// UserAgents lists the User-Agent header of every authenticated request.
func (f *FakeLabelStudio) UserAgents() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.agents...)
}

// SetTokenTTL changes the lifetime of tokens issued from now on.
func (f *FakeLabelStudio) SetTokenTTL(ttl time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ttl = ttl
}

func (f *FakeLabelStudio) serve(w http.ResponseWriter, r *http.Request) {
	key := r.Method + " " + r.URL.Path

	f.mu.Lock()
	f.calls[key]++
	h, ok := f.handlers[key]
	isRefresh := strings.HasPrefix(r.URL.Path, "/api/token/refresh")
	authorized := f.issued[strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")]
	if !isRefresh {
		f.agents = append(f.agents, r.Header.Get("User-Agent"))
	}
	f.mu.Unlock()

	if !isRefresh && !authorized {
		WriteJSON(w, http.StatusUnauthorized, map[string]string{"detail": "invalid token"})
		return
	}
	if !ok {
		WriteJSON(w, http.StatusNotFound, map[string]string{"detail": "not found"})
		return
	}
	h(w, r)
}

func (f *FakeLabelStudio) refresh(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	ttl := f.ttl
	f.mu.Unlock()

	access := MakeJWT(f.t, time.Now().Add(ttl))

	f.mu.Lock()
	f.issued[access] = true
	f.mu.Unlock()

	WriteJSON(w, http.StatusOK, map[string]string{"access": access})
}
