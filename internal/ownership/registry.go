// Package ownership verifies that a principal owns a resource, caching the
// verdict for a bounded time.
package ownership

import (
	"context"
	"sync"

	"github.com/org/clipguard/pkg/models"
)

// Verifier answers whether principalID owns resourceID for one resource type.
// Implementations must be idempotent and side-effect free.
type Verifier interface {
	VerifyOwnership(ctx context.Context, principalID, resourceID string) (bool, error)
}

// VerifierFunc adapts a function to Verifier.
type VerifierFunc func(ctx context.Context, principalID, resourceID string) (bool, error)

// VerifyOwnership calls f.
func (f VerifierFunc) VerifyOwnership(ctx context.Context, principalID, resourceID string) (bool, error) {
	return f(ctx, principalID, resourceID)
}

// Registry maps resource types to their verifier.
type Registry struct {
	mu        sync.RWMutex
	verifiers map[models.ResourceType]Verifier
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{verifiers: make(map[models.ResourceType]Verifier)}
}

// Register installs v for rt, replacing any previous verifier.
func (r *Registry) Register(rt models.ResourceType, v Verifier) {
	r.mu.Lock()
	r.verifiers[rt] = v
	r.mu.Unlock()
}

// Lookup returns the verifier for rt.
func (r *Registry) Lookup(rt models.ResourceType) (Verifier, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.verifiers[rt]
	return v, ok
}

// ParentResolver returns the id of the parent resource owning childID, or ""
// when the child does not exist.
type ParentResolver func(ctx context.Context, childID string) (string, error)

// ParentVerifier grants ownership of a child resource to whoever owns its
// parent, e.g. clip settings owned through their video. The parent check goes
// through the cache, so parent verdicts are cached too. Invalidating a parent
// also invalidates every child resolved through it.
type ParentVerifier struct {
	cache      *Cache
	childType  models.ResourceType
	parentType models.ResourceType
	resolve    ParentResolver
}

// NewParentVerifier creates a verifier for childType delegating to the owner
// of the parent.
func NewParentVerifier(c *Cache, childType, parentType models.ResourceType, resolve ParentResolver) *ParentVerifier {
	return &ParentVerifier{cache: c, childType: childType, parentType: parentType, resolve: resolve}
}

// VerifyOwnership implements Verifier.
func (p *ParentVerifier) VerifyOwnership(ctx context.Context, principalID, resourceID string) (bool, error) {
	parentID, err := p.resolve(ctx, resourceID)
	if err != nil {
		return false, err
	}
	if parentID == "" {
		return false, nil
	}
	p.cache.link(Ref{Type: p.parentType, ID: parentID}, Ref{Type: p.childType, ID: resourceID})
	return p.cache.Verify(ctx, principalID, p.parentType, parentID)
}
