package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/org/clipguard/internal/crypto"
	"github.com/org/clipguard/internal/errs"
	"github.com/org/clipguard/internal/storage"
	"github.com/org/clipguard/pkg/models"
)

type memSessions struct {
	mu       sync.Mutex
	sessions map[string]*models.Session
	calls    int
	err      error
}

func (m *memSessions) GetSession(_ context.Context, hash string) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	s, ok := m.sessions[hash]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *memSessions) put(token string, s models.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.TokenHash = crypto.HashToken(token)
	m.sessions[s.TokenHash] = &s
}

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func newResolver(t *testing.T) (*SessionResolver, *memSessions, *clock) {
	t.Helper()
	store := &memSessions{sessions: map[string]*models.Session{}}
	c := &clock{now: time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)}
	r := NewSessionResolver(store, 0, c.Now)
	t.Cleanup(r.Close)
	return r, store, c
}

func TestResolveCachesForOneMinute(t *testing.T) {
	r, store, c := newResolver(t)
	store.put("tok", models.Session{PrincipalID: "u1", Role: models.RoleUser, ExpiresAt: c.now.Add(time.Hour)})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		p, err := r.Resolve(ctx, "tok")
		if err != nil {
			t.Fatalf("Resolve: %v", err)
		}
		if p.ID != "u1" || p.Role != models.RoleUser {
			t.Errorf("principal = %+v", p)
		}
	}
	if store.calls != 1 {
		t.Errorf("store calls = %d, want 1", store.calls)
	}

	c.now = c.now.Add(time.Minute + time.Second)
	if _, err := r.Resolve(ctx, "tok"); err != nil {
		t.Fatalf("Resolve after ttl: %v", err)
	}
	if store.calls != 2 {
		t.Errorf("store calls = %d, want 2 after cache expiry", store.calls)
	}
}

func TestResolveCacheNeverOutlivesSession(t *testing.T) {
	r, store, c := newResolver(t)
	store.put("tok", models.Session{PrincipalID: "u1", Role: models.RoleUser, ExpiresAt: c.now.Add(10 * time.Second)})
	ctx := context.Background()

	if _, err := r.Resolve(ctx, "tok"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	c.now = c.now.Add(11 * time.Second)
	_, err := r.Resolve(ctx, "tok")
	if !errors.Is(err, errs.ErrAuthenticationFailed) {
		t.Fatalf("err = %v, want authentication failure", err)
	}
}

func TestResolveRejections(t *testing.T) {
	r, store, c := newResolver(t)
	revoked := c.now.Add(-time.Minute)
	store.put("revoked", models.Session{PrincipalID: "u1", Role: models.RoleUser, ExpiresAt: c.now.Add(time.Hour), RevokedAt: &revoked})
	store.put("expired", models.Session{PrincipalID: "u1", Role: models.RoleUser, ExpiresAt: c.now.Add(-time.Second)})
	store.put("badrole", models.Session{PrincipalID: "u1", Role: "root", ExpiresAt: c.now.Add(time.Hour)})

	for _, token := range []string{"", "unknown", "revoked", "expired", "badrole"} {
		_, err := r.Resolve(context.Background(), token)
		if errs.CodeOf(err) != errs.CodeAuthenticationFailed {
			t.Errorf("Resolve(%q) code = %s, want AUTHENTICATION_FAILED", token, errs.CodeOf(err))
		}
	}
}

func TestResolveStoreFailureIsSystemError(t *testing.T) {
	r, store, _ := newResolver(t)
	store.err = errors.New("connection reset")

	_, err := r.Resolve(context.Background(), "tok")
	if errs.CodeOf(err) != errs.CodeSystem {
		t.Fatalf("code = %s, want SYSTEM_ERROR", errs.CodeOf(err))
	}
}

func TestForgetPrincipal(t *testing.T) {
	r, store, c := newResolver(t)
	store.put("a", models.Session{PrincipalID: "u1", Role: models.RoleUser, ExpiresAt: c.now.Add(time.Hour)})
	store.put("b", models.Session{PrincipalID: "u1", Role: models.RoleUser, ExpiresAt: c.now.Add(time.Hour)})
	ctx := context.Background()
	_, _ = r.Resolve(ctx, "a")
	_, _ = r.Resolve(ctx, "b")

	if n := r.ForgetPrincipal("u1"); n != 2 {
		t.Errorf("ForgetPrincipal = %d, want 2", n)
	}
	r.Forget("a")
	_, _ = r.Resolve(ctx, "a")
	if store.calls != 3 {
		t.Errorf("store calls = %d, want 3", store.calls)
	}
}

func TestTokenFromRequest(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer abc123")
	if got := TokenFromRequest(req); got != "abc123" {
		t.Errorf("bearer token = %q", got)
	}

	req = httptest.NewRequest("GET", "/", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: "cookie-tok"})
	if got := TokenFromRequest(req); got != "cookie-tok" {
		t.Errorf("cookie token = %q", got)
	}

	req = httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	if got := TokenFromRequest(req); got != "" {
		t.Errorf("basic auth yielded token %q", got)
	}
}
