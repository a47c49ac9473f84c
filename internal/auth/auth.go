// Package auth authenticates gateway callers with static API tokens and
// authorizes the tables a compiled statement joins.
package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"slices"
	"sync"
	"time"

	"github.com/canonica-labs/dealquery/internal/errors"
)

// Anonymous is the user attached when authentication is disabled.
var Anonymous = &User{ID: "anonymous", Name: "anonymous"}

// User represents an authenticated caller.
type User struct {
	// ID is the unique identifier for this user.
	ID string `json:"id"`

	// Name is the display name of the user.
	Name string `json:"name"`

	// Roles are access roles, matched against table grants. They are
	// unrelated to schema join roles.
	Roles []string `json:"roles"`

	// ExpiresAt is when the token stops being accepted.
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// IsExpired checks if the user's token has expired.
func (u *User) IsExpired() bool {
	if u.ExpiresAt.IsZero() {
		return false
	}
	return time.Now().After(u.ExpiresAt)
}

// HasRole checks if the user has the given access role.
func (u *User) HasRole(role string) bool {
	return slices.Contains(u.Roles, role)
}

// Authenticator validates tokens and returns user information.
type Authenticator interface {
	// ValidateToken returns the user a token belongs to.
	ValidateToken(ctx context.Context, token string) (*User, error)

	// Enabled reports whether requests must carry a token.
	Enabled() bool
}

// StaticTokenAuthenticator checks tokens from configuration. Tokens are
// held as SHA-256 digests and compared in constant time.
type StaticTokenAuthenticator struct {
	mu     sync.RWMutex
	tokens map[[sha256.Size]byte]*User
}

// NewStaticTokenAuthenticator creates an authenticator with no tokens;
// it is disabled until one is registered.
func NewStaticTokenAuthenticator() *StaticTokenAuthenticator {
	return &StaticTokenAuthenticator{tokens: make(map[[sha256.Size]byte]*User)}
}

// RegisterToken adds a token-to-user mapping.
func (a *StaticTokenAuthenticator) RegisterToken(token string, user *User) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tokens[sha256.Sum256([]byte(token))] = user
}

// Enabled reports whether any token is registered.
func (a *StaticTokenAuthenticator) Enabled() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.tokens) > 0
}

// ValidateToken validates a static token.
func (a *StaticTokenAuthenticator) ValidateToken(_ context.Context, token string) (*User, error) {
	if token == "" {
		return nil, errors.NewAuthFailed("token required")
	}
	digest := sha256.Sum256([]byte(token))

	a.mu.RLock()
	var user *User
	for d, u := range a.tokens {
		if subtle.ConstantTimeCompare(d[:], digest[:]) == 1 {
			user = u
		}
	}
	a.mu.RUnlock()

	if user == nil {
		return nil, errors.NewAuthFailed("invalid token")
	}
	if user.IsExpired() {
		return nil, errors.NewAuthExpired()
	}
	return user, nil
}

type contextKey string

const userContextKey contextKey = "dealquery_user"

// ContextWithUser returns a new context with the user attached.
func ContextWithUser(ctx context.Context, user *User) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

// UserFromContext extracts the user from the context, or Anonymous.
func UserFromContext(ctx context.Context) *User {
	if user, ok := ctx.Value(userContextKey).(*User); ok && user != nil {
		return user
	}
	return Anonymous
}
