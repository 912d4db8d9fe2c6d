package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"

	"github.com/desertthunder/lsync/internal/shared"
)

const (
	refreshTimeout = 30 * time.Second
	// expirySkew is subtracted from a token's exp claim so it is never used at the edge of validity.
	expirySkew = 30 * time.Second
	// fallbackTTL caches a token whose expiry cannot be read.
	fallbackTTL = 60 * time.Second
)

var refreshPaths = []string{"/api/token/refresh", "/api/token/refresh/"}

// AccessTokenSource hands out short-lived access tokens.
type AccessTokenSource interface {
	AccessToken(ctx context.Context) (string, error)
	Refresh(ctx context.Context) (string, error)
}

// TokenCache exchanges a long-lived refresh credential for access tokens and caches the result until shortly
// before it expires.
//
// The mutex is held across the exchange so concurrent callers share a single refresh.
type TokenCache struct {
	baseURL string
	refresh string
	http    *resty.Client
	now     func() time.Time

	mu     sync.Mutex
	access string
	expiry time.Time
}

// TokenCacheOption configures a [TokenCache].
type TokenCacheOption func(*TokenCache)

// WithClock replaces the time source.
func WithClock(now func() time.Time) TokenCacheOption {
	return func(c *TokenCache) { c.now = now }
}

// WithTokenHTTPClient sets the HTTP client used for refresh calls.
func WithTokenHTTPClient(client *http.Client) TokenCacheOption {
	return func(c *TokenCache) { c.http = resty.NewWithClient(client) }
}

// NewTokenCache validates the refresh credential and returns an empty cache.
func NewTokenCache(baseURL, refresh string, opts ...TokenCacheOption) (*TokenCache, error) {
	if err := shared.ValidateRefreshToken(refresh); err != nil {
		return nil, err
	}

	c := &TokenCache{
		baseURL: strings.TrimRight(baseURL, "/"),
		refresh: refresh,
		http:    resty.New(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// AccessToken returns the cached token while it is valid and refreshes it otherwise.
func (c *TokenCache) AccessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.access != "" && c.now().Before(c.expiry) {
		return c.access, nil
	}
	return c.fetch(ctx)
}

// Refresh drops the cached token and fetches a new one.
func (c *TokenCache) Refresh(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.access, c.expiry = "", time.Time{}
	return c.fetch(ctx)
}

// Invalidate drops the cached token.
func (c *TokenCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.access, c.expiry = "", time.Time{}
}

// Token implements [oauth2.TokenSource].
func (c *TokenCache) Token() (*oauth2.Token, error) {
	access, err := c.AccessToken(context.Background())
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	expiry := c.expiry
	c.mu.Unlock()

	return &oauth2.Token{AccessToken: access, TokenType: "Bearer", Expiry: expiry}, nil
}

// Expiry reports when the cached token stops being served.
func (c *TokenCache) Expiry() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.expiry
}

// fetch performs the exchange. The caller holds mu.
func (c *TokenCache) fetch(ctx context.Context) (string, error) {
	for _, path := range refreshPaths {
		resp, err := c.post(ctx, path)
		if err != nil {
			return "", fmt.Errorf("LS refresh access token failed: %w", err)
		}

		if resp.StatusCode() == http.StatusNotFound {
			continue
		}
		if !resp.IsSuccess() {
			return "", newHTTPError("LS refresh access token failed", resp.StatusCode(), resp.String())
		}

		var body struct {
			Access string `json:"access"`
		}
		if raw := resp.Body(); len(raw) > 0 {
			_ = json.Unmarshal(raw, &body)
		}
		access := strings.TrimSpace(body.Access)
		if access == "" {
			return "", newHTTPError("LS refresh ok but access missing", resp.StatusCode(), resp.String())
		}

		c.access = access
		c.expiry = c.expiryFor(access)
		return access, nil
	}

	return "", fmt.Errorf("LS refresh access token failed: endpoint not found")
}

func (c *TokenCache) post(ctx context.Context, path string) (*resty.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, refreshTimeout)
	defer cancel()

	return c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetBody(map[string]string{"refresh": c.refresh}).
		Post(c.baseURL + path)
}

// expiryFor reads the unverified exp claim. A future exp caches until exp-30s, anything else for 60s.
func (c *TokenCache) expiryFor(access string) time.Time {
	now := c.now()

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(access, claims); err != nil {
		return now.Add(fallbackTTL)
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil || !exp.After(now) {
		return now.Add(fallbackTTL)
	}
	return exp.Add(-expirySkew)
}
