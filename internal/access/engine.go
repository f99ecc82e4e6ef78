// Package access composes the policy matrix, ownership cache and audit log
// into a single per-request access decision.
package access

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/org/clipguard/internal/cache"
	"github.com/org/clipguard/internal/ownership"
	"github.com/org/clipguard/internal/policy"
	"github.com/org/clipguard/pkg/models"
	"github.com/rs/zerolog/log"
)

// DefaultDecisionTTL is how long a decision is reused for identical requests.
const DefaultDecisionTTL = 5 * time.Minute

const (
	reasonUnauthenticated = "no authenticated principal"
	reasonInvalidTarget   = "invalid resource type or operation"
	reasonPermission      = "insufficient permissions for operation"
	reasonAdminOnly       = "operation restricted to administrators"
	reasonOwnership       = "resource not owned by principal"
	reasonInternal        = "internal error while deciding access"
)

// Auditor is the audit sink the engine reports every decision to.
type Auditor interface {
	LogSuccess(ctx context.Context, e models.AuditEvent) models.AuditEvent
	LogFailure(ctx context.Context, e models.AuditEvent, reason string) models.AuditEvent
	LogViolation(ctx context.Context, e models.AuditEvent, kind models.ViolationKind) models.AuditEvent
}

// OwnershipChecker verifies and forgets ownership verdicts.
type OwnershipChecker interface {
	Verify(ctx context.Context, principalID string, rt models.ResourceType, resourceID string) (bool, error)
	InvalidateForPrincipal(principalID string) int
	InvalidateForResource(rt models.ResourceType, resourceID string) int
	Dependents(rt models.ResourceType, resourceID string) []ownership.Ref
}

// decisionKey includes the role so a verdict reached under one role is never
// served to the same principal acting under another.
type decisionKey struct {
	principalID  string
	role         models.Role
	operation    models.Operation
	resourceType models.ResourceType
	resourceID   string
}

// Options configures an Engine.
type Options struct {
	DecisionTTL   time.Duration
	SweepInterval time.Duration
	Now           func() time.Time
}

// Engine decides whether a principal may perform an operation on a resource.
type Engine struct {
	owners    OwnershipChecker
	auditor   Auditor
	decisions *cache.Cache[decisionKey, models.AccessDecision]

	// epoch is bumped by every invalidation; a decision evaluated across an
	// invalidation is returned but not cached.
	mu    sync.Mutex
	epoch uint64
}

// NewEngine creates an Engine.
func NewEngine(owners OwnershipChecker, auditor Auditor, opts Options) *Engine {
	if opts.DecisionTTL <= 0 {
		opts.DecisionTTL = DefaultDecisionTTL
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = 5 * time.Minute
	}
	cacheOpts := []cache.Option{cache.WithSweepInterval(opts.SweepInterval)}
	if opts.Now != nil {
		cacheOpts = append(cacheOpts, cache.WithClock(opts.Now))
	}
	return &Engine{
		owners:    owners,
		auditor:   auditor,
		decisions: cache.New[decisionKey, models.AccessDecision](opts.DecisionTTL, cacheOpts...),
	}
}

type decideOptions struct {
	useCache  bool
	requestID string
	metadata  map[string]any
}

// DecideOption adjusts a single Decide call.
type DecideOption func(*decideOptions)

// WithoutCache forces a fresh evaluation. The result is still cached.
func WithoutCache() DecideOption {
	return func(o *decideOptions) { o.useCache = false }
}

// WithRequestID tags the audit event with the caller's request id.
func WithRequestID(id string) DecideOption {
	return func(o *decideOptions) { o.requestID = id }
}

// WithMetadata attaches extra fields to the audit event.
func WithMetadata(meta map[string]any) DecideOption {
	return func(o *decideOptions) { o.metadata = meta }
}

// Decide returns the access decision for p performing op on the resource.
// An empty resourceID addresses the collection and skips ownership. Decide
// always returns a decision; internal failures become denials.
func (e *Engine) Decide(ctx context.Context, p models.Principal, op models.Operation, rt models.ResourceType, resourceID string, opts ...DecideOption) (decision models.AccessDecision) {
	o := decideOptions{useCache: true}
	for _, opt := range opts {
		opt(&o)
	}
	ev := models.AuditEvent{
		PrincipalID:  p.ID,
		Operation:    op,
		ResourceType: rt,
		ResourceID:   resourceID,
		RequestID:    o.requestID,
		Metadata:     withRole(o.metadata, p.Role),
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("principal", p.ID).Msg("access decision panicked")
			decision = models.AccessDecision{Allowed: false, Permission: models.PermissionDenied, Reason: reasonInternal}
			e.auditor.LogFailure(ctx, ev, fmt.Sprint(r))
			record(string(rt), string(op), outcomeError)
		}
	}()

	if p.ID == "" {
		return e.deny(ctx, ev, models.ViolationUnauthorizedAccess, reasonUnauthenticated, nil)
	}
	if !rt.Valid() || !op.Valid() {
		return e.deny(ctx, ev, models.ViolationInvalidResourceType, reasonInvalidTarget, nil)
	}

	key := decisionKey{principalID: p.ID, role: p.Role, operation: op, resourceType: rt, resourceID: resourceID}
	if o.useCache {
		if d, ok := e.decisions.Get(key); ok {
			decisionCacheHits.Inc()
			return d.Clone()
		}
	}
	e.mu.Lock()
	epoch := e.epoch
	e.mu.Unlock()
	slot := &cacheSlot{key: key, epoch: epoch}

	level := policy.Level(p.Role, rt, op)
	if !policy.IsAllowed(level, op) {
		return e.deny(ctx, ev, models.ViolationInsufficientPermissions, reasonPermission, slot)
	}
	if policy.RequiredAccessLevel(rt, op) == models.AccessAdminOnly && p.Role != models.RoleAdmin {
		return e.deny(ctx, ev, models.ViolationInsufficientPermissions, reasonAdminOnly, slot)
	}

	if resourceID != "" && policy.RequiresOwnership(p.Role, rt, op) {
		owned, err := e.owners.Verify(ctx, p.ID, rt, resourceID)
		if err != nil {
			log.Warn().Err(err).Str("principal", p.ID).Str("resource_type", string(rt)).
				Str("resource_id", resourceID).Msg("ownership lookup failed; denying")
			e.auditor.LogFailure(ctx, ev, err.Error())
			record(string(rt), string(op), outcomeError)
			return models.AccessDecision{Allowed: false, Permission: models.PermissionDenied, Reason: err.Error()}
		}
		if !owned {
			return e.deny(ctx, ev, models.ViolationOwnership, reasonOwnership, slot)
		}
	}

	d := models.AccessDecision{Allowed: true, Permission: level}
	e.auditor.LogSuccess(ctx, ev)
	e.store(slot, d)
	record(string(rt), string(op), outcomeAllowed)
	return d.Clone()
}

// cacheSlot is where a decision will be cached, and the invalidation epoch
// observed before it was evaluated.
type cacheSlot struct {
	key   decisionKey
	epoch uint64
}

// store caches d unless an invalidation ran since slot was taken.
func (e *Engine) store(slot *cacheSlot, d models.AccessDecision) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.epoch == slot.epoch {
		e.decisions.Set(slot.key, d)
	}
}

// deny audits a violation and caches the decision when slot is non-nil.
func (e *Engine) deny(ctx context.Context, ev models.AuditEvent, kind models.ViolationKind, reason string, slot *cacheSlot) models.AccessDecision {
	d := models.AccessDecision{
		Allowed:    false,
		Permission: models.PermissionDenied,
		Reason:     reason,
		Violations: []models.ViolationKind{kind},
	}
	e.auditor.LogViolation(ctx, ev, kind)
	if slot != nil {
		e.store(slot, d)
	}
	record(string(ev.ResourceType), string(ev.Operation), outcomeDenied)
	return d.Clone()
}

// InvalidatePrincipal forgets every cached decision and ownership verdict
// about principalID.
func (e *Engine) InvalidatePrincipal(principalID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.epoch++
	n := e.decisions.DeleteFunc(func(k decisionKey, _ models.AccessDecision) bool {
		return k.principalID == principalID
	})
	return n + e.owners.InvalidateForPrincipal(principalID)
}

// InvalidateResource forgets every cached decision and ownership verdict
// about one resource and the resources owned through it.
func (e *Engine) InvalidateResource(rt models.ResourceType, resourceID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.epoch++
	gone := map[ownership.Ref]struct{}{{Type: rt, ID: resourceID}: {}}
	for _, ref := range e.owners.Dependents(rt, resourceID) {
		gone[ref] = struct{}{}
	}
	n := e.decisions.DeleteFunc(func(k decisionKey, _ models.AccessDecision) bool {
		_, ok := gone[ownership.Ref{Type: k.resourceType, ID: k.resourceID}]
		return ok
	})
	return n + e.owners.InvalidateForResource(rt, resourceID)
}

// CachedDecisions reports how many decisions are held.
func (e *Engine) CachedDecisions() int {
	return e.decisions.Len()
}

// Close stops the decision cache sweeper.
func (e *Engine) Close() {
	e.decisions.Close()
}

func withRole(meta map[string]any, role models.Role) map[string]any {
	out := make(map[string]any, len(meta)+1)
	for k, v := range meta {
		out[k] = v
	}
	if role != "" {
		out["role"] = string(role)
	}
	return out
}
