package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/desertthunder/lsync/internal/shared"
)

const defaultTokenTTL = 2 * time.Hour

// Role gates which routes a user may call.
type Role string

const (
	RoleAdmin     Role = "admin"
	RoleAnnotator Role = "annotator"
)

// User is the authenticated caller.
type User struct {
	Username string `json:"username"`
	Role     Role   `json:"role"`
}

type claims struct {
	Role Role `json:"role"`
	jwt.RegisteredClaims
}

type account struct {
	role Role
	hash []byte
}

// Authenticator checks passwords against the configured accounts and issues HS256 session tokens.
type Authenticator struct {
	secret   []byte
	ttl      time.Duration
	accounts map[string]account
	now      func() time.Time
}

// NewAuthenticator builds an Authenticator from the server section of the config.
func NewAuthenticator(cfg shared.ServerConfig) (*Authenticator, error) {
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("%w: server.jwt_secret is empty", shared.ErrMissingConfig)
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}

	accounts := make(map[string]account, len(cfg.Users))
	for _, u := range cfg.Users {
		accounts[u.Username] = account{role: Role(u.Role), hash: []byte(u.PasswordHash)}
	}
	return &Authenticator{secret: []byte(cfg.JWTSecret), ttl: ttl, accounts: accounts, now: time.Now}, nil
}

// Login returns a session token for valid credentials.
func (a *Authenticator) Login(username, password string) (string, *User, error) {
	acct, ok := a.accounts[username]
	if !ok {
		return "", nil, shared.ErrAuthFailed
	}
	if err := bcrypt.CompareHashAndPassword(acct.hash, []byte(password)); err != nil {
		return "", nil, shared.ErrAuthFailed
	}

	user := &User{Username: username, Role: acct.role}
	tok, err := a.Issue(user)
	if err != nil {
		return "", nil, err
	}
	return tok, user, nil
}

// Issue signs a token carrying the user's name and role.
func (a *Authenticator) Issue(user *User) (string, error) {
	now := a.now()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Role: user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.Username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		},
	})
	signed, err := tok.SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify parses a session token. Expired, malformed and foreign tokens all fail with [shared.ErrNotAuthenticated].
func (a *Authenticator) Verify(token string) (*User, error) {
	var c claims
	_, err := jwt.ParseWithClaims(token, &c, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(a.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %w", shared.ErrNotAuthenticated, shared.ErrTokenExpired)
		}
		return nil, fmt.Errorf("%w: %v", shared.ErrNotAuthenticated, err)
	}
	if c.Subject == "" {
		return nil, fmt.Errorf("%w: token has no subject", shared.ErrNotAuthenticated)
	}
	return &User{Username: c.Subject, Role: c.Role}, nil
}

// Require rejects requests without a valid bearer token, or whose role is not in roles.
// With no roles any authenticated user passes.
func (a *Authenticator) Require(roles ...Role) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				writeError(w, http.StatusUnauthorized, "Missing Authorization header")
				return
			}
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				writeError(w, http.StatusUnauthorized, "Invalid token")
				return
			}

			user, err := a.Verify(token)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "Invalid token")
				return
			}
			if len(roles) > 0 && !slices.Contains(roles, user.Role) {
				writeError(w, http.StatusForbidden, "Forbidden")
				return
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKeyUser, user)))
		})
	}
}

// UserFrom returns the user set by [Authenticator.Require].
func UserFrom(ctx context.Context) (*User, bool) {
	u, ok := ctx.Value(ctxKeyUser).(*User)
	return u, ok && u != nil
}

// HashPassword returns the bcrypt hash stored in server.users.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", fmt.Errorf("%w: password is empty", shared.ErrInvalidInput)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}
