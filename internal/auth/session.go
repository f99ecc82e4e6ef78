// Package auth resolves request credentials to principals.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/org/clipguard/internal/cache"
	"github.com/org/clipguard/internal/crypto"
	"github.com/org/clipguard/internal/errs"
	"github.com/org/clipguard/internal/storage"
	"github.com/org/clipguard/pkg/models"
)

const (
	// SessionCookie carries the session token for browser clients.
	SessionCookie = "clipguard_session"

	DefaultSessionTTL = time.Minute
)

// SessionStore looks up persisted sessions by token hash.
type SessionStore interface {
	GetSession(ctx context.Context, tokenHash string) (*models.Session, error)
}

// SessionResolver turns session tokens into principals, caching successful
// lookups briefly. Failed lookups are never cached.
type SessionResolver struct {
	store SessionStore
	now   func() time.Time
	ttl   time.Duration
	cache *cache.Cache[string, cachedSession]
}

type cachedSession struct {
	principal models.Principal
	expiresAt time.Time
}

// NewSessionResolver creates a SessionResolver. A zero ttl uses
// DefaultSessionTTL; a nil now uses time.Now.
func NewSessionResolver(store SessionStore, ttl time.Duration, now func() time.Time) *SessionResolver {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	if now == nil {
		now = time.Now
	}
	return &SessionResolver{
		store: store,
		now:   now,
		ttl:   ttl,
		cache: cache.New[string, cachedSession](ttl, cache.WithClock(now)),
	}
}

// Resolve returns the principal for a plaintext session token.
func (r *SessionResolver) Resolve(ctx context.Context, token string) (models.Principal, error) {
	if token == "" {
		return models.Principal{}, errs.New(errs.CodeAuthenticationFailed, "missing session token")
	}
	hash := crypto.HashToken(token)
	now := r.now()

	if c, ok := r.cache.Get(hash); ok && (c.expiresAt.IsZero() || !now.After(c.expiresAt)) {
		return c.principal, nil
	}

	s, err := r.store.GetSession(ctx, hash)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return models.Principal{}, errs.New(errs.CodeAuthenticationFailed, "unknown session")
		}
		return models.Principal{}, errs.Wrap(errs.CodeSystem, "looking up session", fmt.Errorf("session store: %w", err))
	}
	if s.IsRevoked() {
		return models.Principal{}, errs.New(errs.CodeAuthenticationFailed, "session revoked")
	}
	if s.IsExpired(now) {
		return models.Principal{}, errs.New(errs.CodeAuthenticationFailed, "session expired")
	}
	p := s.Principal()
	if !p.Role.Valid() {
		return models.Principal{}, errs.New(errs.CodeAuthenticationFailed, "session has unknown role")
	}

	ttl := r.ttl
	if !s.ExpiresAt.IsZero() {
		if remaining := s.ExpiresAt.Sub(now); remaining < ttl {
			ttl = remaining
		}
	}
	if ttl > 0 {
		r.cache.SetWithTTL(hash, cachedSession{principal: p, expiresAt: s.ExpiresAt}, ttl)
	}
	return p, nil
}

// Forget drops any cached resolution of token, e.g. after logout.
func (r *SessionResolver) Forget(token string) {
	r.cache.Delete(crypto.HashToken(token))
}

// ForgetPrincipal drops every cached session of principalID.
func (r *SessionResolver) ForgetPrincipal(principalID string) int {
	return r.cache.DeleteFunc(func(_ string, c cachedSession) bool {
		return c.principal.ID == principalID
	})
}

// Close stops the cache sweeper.
func (r *SessionResolver) Close() {
	r.cache.Close()
}

// TokenFromRequest extracts a session token from the Authorization bearer
// header or, failing that, the session cookie.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if scheme, token, ok := strings.Cut(h, " "); ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	if c, err := r.Cookie(SessionCookie); err == nil {
		return c.Value
	}
	return ""
}
