package access

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/org/clipguard/internal/audit"
	"github.com/org/clipguard/internal/ownership"
	"github.com/org/clipguard/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// owners is a resource-owner table with a lookup counter.
type owners struct {
	mu     sync.Mutex
	rows   map[string]string
	calls  atomic.Int32
	err    error
	panics bool

	// when gate is set, a lookup reads its verdict and then waits on gate
	entered chan struct{}
	gate    chan struct{}
}

func (o *owners) set(resourceID, principalID string) {
	o.mu.Lock()
	o.rows[resourceID] = principalID
	o.mu.Unlock()
}

func (o *owners) VerifyOwnership(_ context.Context, principalID, resourceID string) (bool, error) {
	o.calls.Add(1)
	if o.panics {
		panic("owner table corrupted")
	}
	if o.err != nil {
		return false, o.err
	}
	o.mu.Lock()
	owned := o.rows[resourceID] == principalID
	o.mu.Unlock()
	if o.gate != nil {
		select {
		case o.entered <- struct{}{}:
		default:
		}
		<-o.gate
	}
	return owned, nil
}

type fixture struct {
	engine *Engine
	owners *owners
	store  *audit.MemoryStore
	log    *audit.Logger
	clock  *fakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)}
	table := &owners{rows: map[string]string{"v1": "u1", "j2": "u1"}}

	reg := ownership.NewRegistry()
	for _, rt := range models.ResourceTypes {
		reg.Register(rt, table)
	}
	oc := ownership.NewCache(reg, ownership.Options{Now: clock.Now})
	t.Cleanup(oc.Close)

	store := audit.NewMemoryStore()
	logger, err := audit.NewLogger(store, audit.MultiSink{}, audit.Config{Now: clock.Now, FlushInterval: time.Hour})
	require.NoError(t, err)
	t.Cleanup(func() { _ = logger.Close(context.Background()) })

	engine := NewEngine(oc, logger, Options{Now: clock.Now})
	t.Cleanup(engine.Close)
	return &fixture{engine: engine, owners: table, store: store, log: logger, clock: clock}
}

func (f *fixture) events(t *testing.T) []*models.AuditEvent {
	t.Helper()
	events, err := f.log.Query(context.Background(), models.AuditFilter{})
	require.NoError(t, err)
	return events
}

var (
	alice = models.Principal{ID: "u1", Role: models.RoleUser}
	mod   = models.Principal{ID: "m1", Role: models.RoleModerator}
	root  = models.Principal{ID: "a1", Role: models.RoleAdmin}
)

func TestDeleteUnownedJobIsOwnershipViolation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	d := f.engine.Decide(ctx, alice, models.OpDelete, models.ResourceJob, "j1", WithRequestID("req-1"))
	assert.False(t, d.Allowed)
	assert.Equal(t, models.PermissionDenied, d.Permission)
	assert.Equal(t, []models.ViolationKind{models.ViolationOwnership}, d.Violations)

	events := f.events(t)
	require.Len(t, events, 1)
	assert.Equal(t, models.ViolationOwnership, events[0].Violation)
	assert.Equal(t, "u1", events[0].PrincipalID)
	assert.Equal(t, "j1", events[0].ResourceID)
	assert.Equal(t, "req-1", events[0].RequestID)
	assert.False(t, events[0].Success)
}

func TestOwnerIsAllowed(t *testing.T) {
	f := newFixture(t)

	d := f.engine.Decide(context.Background(), alice, models.OpDelete, models.ResourceJob, "j2")
	assert.True(t, d.Allowed)
	assert.Equal(t, models.PermissionFull, d.Permission)
	assert.Empty(t, d.Violations)

	events := f.events(t)
	require.Len(t, events, 1)
	assert.True(t, events[0].Success)
	assert.Equal(t, "user", events[0].Metadata["role"])
}

func TestIdenticalDecisionsAreCachedAndNotReaudited(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.engine.Decide(ctx, alice, models.OpRead, models.ResourceVideo, "v1")
	second := f.engine.Decide(ctx, alice, models.OpRead, models.ResourceVideo, "v1")
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), f.owners.calls.Load())
	assert.Len(t, f.events(t), 1)
}

func TestReturnedDecisionCannotCorruptCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	d := f.engine.Decide(ctx, alice, models.OpRead, models.ResourceVideo, "v9")
	require.Len(t, d.Violations, 1)
	d.Violations[0] = models.ViolationSuspiciousActivity

	again := f.engine.Decide(ctx, alice, models.OpRead, models.ResourceVideo, "v9")
	assert.Equal(t, []models.ViolationKind{models.ViolationOwnership}, again.Violations)
}

func TestInvalidatePrincipalForcesReverification(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	d := f.engine.Decide(ctx, alice, models.OpUpdate, models.ResourceVideo, "v7")
	require.False(t, d.Allowed)

	// ownership granted later is not visible while cached
	f.owners.set("v7", "u1")
	d = f.engine.Decide(ctx, alice, models.OpUpdate, models.ResourceVideo, "v7")
	assert.False(t, d.Allowed)
	assert.Equal(t, int32(1), f.owners.calls.Load())

	assert.Positive(t, f.engine.InvalidatePrincipal("u1"))
	d = f.engine.Decide(ctx, alice, models.OpUpdate, models.ResourceVideo, "v7")
	assert.True(t, d.Allowed)
	assert.Equal(t, int32(2), f.owners.calls.Load())
}

func TestInvalidateResource(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.True(t, f.engine.Decide(ctx, alice, models.OpRead, models.ResourceVideo, "v1").Allowed)
	f.owners.set("v1", "someone-else")
	require.True(t, f.engine.Decide(ctx, alice, models.OpRead, models.ResourceVideo, "v1").Allowed)

	f.engine.InvalidateResource(models.ResourceVideo, "v1")
	assert.False(t, f.engine.Decide(ctx, alice, models.OpRead, models.ResourceVideo, "v1").Allowed)
}

func TestDecisionExpiresAfterTTL(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.engine.Decide(ctx, alice, models.OpRead, models.ResourceVideo, "v1")
	f.clock.Advance(DefaultDecisionTTL + time.Second)
	f.engine.Decide(ctx, alice, models.OpRead, models.ResourceVideo, "v1")

	assert.Equal(t, int32(2), f.owners.calls.Load())
	assert.Len(t, f.events(t), 2)
}

func TestWithoutCacheReevaluates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.engine.Decide(ctx, alice, models.OpRead, models.ResourceVideo, "v1")
	f.engine.Decide(ctx, alice, models.OpRead, models.ResourceVideo, "v1", WithoutCache())
	assert.Len(t, f.events(t), 2)
}

func TestPermissionDenials(t *testing.T) {
	tests := []struct {
		name string
		p    models.Principal
		op   models.Operation
		rt   models.ResourceType
	}{
		{"user cannot update jobs", alice, models.OpUpdate, models.ResourceJob},
		{"user cannot create usage", alice, models.OpCreate, models.ResourceUsage},
		{"moderator is read only on videos", mod, models.OpUpdate, models.ResourceVideo},
		{"moderator has no subscription access", mod, models.OpList, models.ResourceSubscription},
		{"unknown role", models.Principal{ID: "x", Role: "guest"}, models.OpRead, models.ResourceVideo},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			d := f.engine.Decide(context.Background(), tt.p, tt.op, tt.rt, "r1")
			assert.False(t, d.Allowed)
			assert.Equal(t, models.PermissionDenied, d.Permission)
			assert.True(t, d.HasViolation(models.ViolationInsufficientPermissions))
			assert.Equal(t, int32(0), f.owners.calls.Load(), "ownership is never consulted after a permission denial")
			require.Len(t, f.events(t), 1)
		})
	}
}

func TestAdminBypassesOwnership(t *testing.T) {
	f := newFixture(t)

	d := f.engine.Decide(context.Background(), root, models.OpDelete, models.ResourceSubscription, "s1")
	assert.True(t, d.Allowed)
	assert.Equal(t, int32(0), f.owners.calls.Load())
}

func TestModeratorOwnershipOnlyForOwnerOnlyOperations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	d := f.engine.Decide(ctx, mod, models.OpRead, models.ResourceVideo, "v1")
	assert.True(t, d.Allowed)
	assert.Equal(t, models.PermissionReadOnly, d.Permission)
	assert.Equal(t, int32(0), f.owners.calls.Load())
}

func TestCollectionRequestsSkipOwnership(t *testing.T) {
	f := newFixture(t)

	d := f.engine.Decide(context.Background(), alice, models.OpList, models.ResourceVideo, "")
	assert.True(t, d.Allowed)
	assert.Equal(t, int32(0), f.owners.calls.Load())
}

func TestLookupErrorDeniesWithoutViolationOrCaching(t *testing.T) {
	f := newFixture(t)
	f.owners.err = errors.New("connection refused")
	ctx := context.Background()

	d := f.engine.Decide(ctx, alice, models.OpRead, models.ResourceVideo, "v1")
	assert.False(t, d.Allowed)
	assert.Equal(t, models.PermissionDenied, d.Permission)
	assert.Contains(t, d.Reason, "connection refused")
	assert.Empty(t, d.Violations)

	f.engine.Decide(ctx, alice, models.OpRead, models.ResourceVideo, "v1")
	assert.Equal(t, int32(2), f.owners.calls.Load())

	events := f.events(t)
	require.Len(t, events, 2)
	assert.False(t, events[0].Success)
	assert.Empty(t, events[0].Violation)
	assert.Contains(t, events[0].Metadata["error"], "connection refused")
}

func TestPanicBecomesDenial(t *testing.T) {
	f := newFixture(t)
	f.owners.panics = true

	var d models.AccessDecision
	require.NotPanics(t, func() {
		d = f.engine.Decide(context.Background(), alice, models.OpRead, models.ResourceVideo, "v1")
	})
	assert.False(t, d.Allowed)
	assert.Equal(t, models.PermissionDenied, d.Permission)
}

func TestInvalidTargets(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	d := f.engine.Decide(ctx, alice, models.OpRead, models.ResourceType("invoice"), "i1")
	assert.False(t, d.Allowed)
	assert.True(t, d.HasViolation(models.ViolationInvalidResourceType))

	d = f.engine.Decide(ctx, alice, models.Operation("PURGE"), models.ResourceVideo, "v1")
	assert.True(t, d.HasViolation(models.ViolationInvalidResourceType))
}

func TestAnonymousPrincipalIsUnauthorized(t *testing.T) {
	f := newFixture(t)

	d := f.engine.Decide(context.Background(), models.Principal{}, models.OpRead, models.ResourceVideo, "v1")
	assert.False(t, d.Allowed)
	assert.True(t, d.HasViolation(models.ViolationUnauthorizedAccess))
}

func TestAllowedDecisionsNeverCarryViolations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, p := range []models.Principal{alice, mod, root} {
		for _, rt := range models.ResourceTypes {
			for _, op := range models.Operations {
				d := f.engine.Decide(ctx, p, op, rt, "v1")
				if d.Allowed {
					assert.Empty(t, d.Violations, "%s %s %s", p.Role, op, rt)
				} else {
					assert.Equal(t, models.PermissionDenied, d.Permission, "%s %s %s", p.Role, op, rt)
				}
			}
		}
	}
}

func TestDecisionCacheIsScopedByRole(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.owners.set("v-other", "u2")

	asAdmin := models.Principal{ID: "u1", Role: models.RoleAdmin}
	require.True(t, f.engine.Decide(ctx, asAdmin, models.OpDelete, models.ResourceVideo, "v-other").Allowed)

	d := f.engine.Decide(ctx, alice, models.OpDelete, models.ResourceVideo, "v-other")
	assert.False(t, d.Allowed)
	assert.True(t, d.HasViolation(models.ViolationOwnership))
}

func TestInvalidationDuringLookupIsNotCached(t *testing.T) {
	for _, tt := range []struct {
		name       string
		invalidate func(e *Engine)
	}{
		{"principal", func(e *Engine) { e.InvalidatePrincipal("u1") }},
		{"resource", func(e *Engine) { e.InvalidateResource(models.ResourceVideo, "v1") }},
	} {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			f.owners.entered = make(chan struct{}, 1)
			f.owners.gate = make(chan struct{})

			done := make(chan models.AccessDecision, 1)
			go func() {
				done <- f.engine.Decide(ctx, alice, models.OpDelete, models.ResourceVideo, "v1")
			}()
			<-f.owners.entered

			// ownership moves away while the lookup is in flight
			f.owners.set("v1", "u2")
			tt.invalidate(f.engine)
			close(f.owners.gate)
			require.True(t, (<-done).Allowed, "the in-flight decision reflects what it read")

			d := f.engine.Decide(ctx, alice, models.OpDelete, models.ResourceVideo, "v1")
			assert.False(t, d.Allowed)
			assert.Equal(t, int32(2), f.owners.calls.Load())
		})
	}
}

func TestInvalidateResourceDropsDependentDecisions(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)}
	videos := &owners{rows: map[string]string{"v1": "u1"}}
	reg := ownership.NewRegistry()
	reg.Register(models.ResourceVideo, videos)
	oc := ownership.NewCache(reg, ownership.Options{Now: clock.Now})
	t.Cleanup(oc.Close)
	reg.Register(models.ResourceSettings, ownership.NewParentVerifier(oc, models.ResourceSettings, models.ResourceVideo,
		func(_ context.Context, id string) (string, error) {
			if id == "s1" {
				return "v1", nil
			}
			return "", nil
		}))

	logger, err := audit.NewLogger(audit.NewMemoryStore(), audit.MultiSink{}, audit.Config{Now: clock.Now, FlushInterval: time.Hour})
	require.NoError(t, err)
	t.Cleanup(func() { _ = logger.Close(context.Background()) })
	engine := NewEngine(oc, logger, Options{Now: clock.Now})
	t.Cleanup(engine.Close)
	ctx := context.Background()

	require.True(t, engine.Decide(ctx, alice, models.OpUpdate, models.ResourceSettings, "s1").Allowed)

	videos.set("v1", "")
	assert.Positive(t, engine.InvalidateResource(models.ResourceVideo, "v1"))
	assert.Zero(t, engine.CachedDecisions())
	assert.False(t, engine.Decide(ctx, alice, models.OpUpdate, models.ResourceSettings, "s1").Allowed)
}
