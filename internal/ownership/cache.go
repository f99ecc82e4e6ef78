package ownership

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/org/clipguard/internal/cache"
	"github.com/org/clipguard/internal/errs"
	"github.com/org/clipguard/pkg/models"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// DefaultTTL is how long an ownership verdict is trusted.
const DefaultTTL = 5 * time.Minute

type key struct {
	principalID  string
	resourceType models.ResourceType
	resourceID   string
}

func (k key) String() string {
	return k.principalID + "|" + string(k.resourceType) + "|" + k.resourceID
}

// Ref names one resource.
type Ref struct {
	Type models.ResourceType
	ID   string
}

// Options configures a Cache.
type Options struct {
	TTL           time.Duration
	LookupTimeout time.Duration
	Concurrency   int
	SweepInterval time.Duration
	Now           func() time.Time
}

// Cache wraps the registered verifiers with a TTL cache. Verdicts (true and
// false) are cached; lookup errors are not.
type Cache struct {
	registry *Registry
	verdicts *cache.Cache[key, bool]
	group    singleflight.Group
	timeout  time.Duration
	fanout   int

	// epoch guards against a slow lookup re-populating an entry that was
	// invalidated while the lookup was in flight.
	mu    sync.Mutex
	epoch uint64
	// children maps a parent resource to the resources owned through it.
	children map[Ref]map[Ref]struct{}
}

// NewCache creates a Cache over registry.
func NewCache(registry *Registry, opts Options) *Cache {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.LookupTimeout <= 0 {
		opts.LookupTimeout = 5 * time.Second
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 8
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = 5 * time.Minute
	}
	cacheOpts := []cache.Option{cache.WithSweepInterval(opts.SweepInterval)}
	if opts.Now != nil {
		cacheOpts = append(cacheOpts, cache.WithClock(opts.Now))
	}
	return &Cache{
		registry: registry,
		verdicts: cache.New[key, bool](opts.TTL, cacheOpts...),
		timeout:  opts.LookupTimeout,
		fanout:   opts.Concurrency,
		children: make(map[Ref]map[Ref]struct{}),
	}
}

type lookupResult struct {
	owned bool
	epoch uint64
}

// Verify reports whether principalID owns resourceID of type rt. A cached,
// unexpired verdict is returned without consulting the verifier.
func (c *Cache) Verify(ctx context.Context, principalID string, rt models.ResourceType, resourceID string) (bool, error) {
	k := key{principalID: principalID, resourceType: rt, resourceID: resourceID}
	if owned, ok := c.verdicts.Get(k); ok {
		return owned, nil
	}

	v, ok := c.registry.Lookup(rt)
	if !ok {
		return false, errs.New(errs.CodeInvalidResourceType, fmt.Sprintf("no ownership verifier for %q", rt))
	}

	ch := c.group.DoChan(k.String(), func() (res any, err error) {
		// DoChan re-panics on its own goroutine, which would take the
		// process down.
		defer func() {
			if r := recover(); r != nil {
				res, err = nil, fmt.Errorf("owner lookup panicked: %v", r)
			}
		}()
		// Taken inside the shared lookup so callers joining it late cannot
		// cache a verdict read before their own invalidation.
		c.mu.Lock()
		epoch := c.epoch
		c.mu.Unlock()

		// Detached from the first caller so one cancelled request does not
		// fail every request sharing this lookup.
		lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		owned, err := v.VerifyOwnership(lookupCtx, principalID, resourceID)
		if err != nil {
			return nil, err
		}
		return lookupResult{owned: owned, epoch: epoch}, nil
	})

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return false, fmt.Errorf("verifying %s ownership: %w", rt, res.Err)
		}
		lr := res.Val.(lookupResult)
		c.mu.Lock()
		if c.epoch == lr.epoch {
			c.verdicts.Set(k, lr.owned)
		}
		c.mu.Unlock()
		return lr.owned, nil
	}
}

// VerifyMany checks ownership of every id concurrently and partitions them,
// preserving input order. Any lookup failure counts as not owned.
func (c *Cache) VerifyMany(ctx context.Context, principalID string, rt models.ResourceType, resourceIDs []string) (owned, unauthorized []string) {
	verdicts := make([]bool, len(resourceIDs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.fanout)
	for i, id := range resourceIDs {
		g.Go(func() error {
			ok, err := c.Verify(gctx, principalID, rt, id)
			if err != nil {
				log.Warn().Err(err).Str("principal", principalID).Str("resource_type", string(rt)).
					Str("resource_id", id).Msg("ownership lookup failed; treating as not owned")
				return nil
			}
			verdicts[i] = ok
			return nil
		})
	}
	_ = g.Wait()

	for i, id := range resourceIDs {
		if verdicts[i] {
			owned = append(owned, id)
		} else {
			unauthorized = append(unauthorized, id)
		}
	}
	return owned, unauthorized
}

// InvalidateForPrincipal drops every cached verdict about principalID.
func (c *Cache) InvalidateForPrincipal(principalID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch++
	return c.verdicts.DeleteFunc(func(k key, _ bool) bool { return k.principalID == principalID })
}

// InvalidateForResource drops every cached verdict about one resource and
// about the resources owned through it.
func (c *Cache) InvalidateForResource(rt models.ResourceType, resourceID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch++
	root := Ref{Type: rt, ID: resourceID}
	gone := map[Ref]struct{}{root: {}}
	for _, ref := range c.dependentsLocked(root) {
		gone[ref] = struct{}{}
	}
	for ref := range gone {
		delete(c.children, ref)
	}
	return c.verdicts.DeleteFunc(func(k key, _ bool) bool {
		_, ok := gone[Ref{Type: k.resourceType, ID: k.resourceID}]
		return ok
	})
}

// Dependents lists the resources whose ownership derives from the given
// one, directly or transitively.
func (c *Cache) Dependents(rt models.ResourceType, resourceID string) []Ref {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dependentsLocked(Ref{Type: rt, ID: resourceID})
}

func (c *Cache) dependentsLocked(root Ref) []Ref {
	var out []Ref
	seen := map[Ref]bool{root: true}
	queue := []Ref{root}
	for len(queue) > 0 {
		parent := queue[0]
		queue = queue[1:]
		for child := range c.children[parent] {
			if seen[child] {
				continue
			}
			seen[child] = true
			out = append(out, child)
			queue = append(queue, child)
		}
	}
	return out
}

// link records that child is owned through parent.
func (c *Cache) link(parent, child Ref) {
	c.mu.Lock()
	defer c.mu.Unlock()
	kids, ok := c.children[parent]
	if !ok {
		kids = make(map[Ref]struct{})
		c.children[parent] = kids
	}
	kids[child] = struct{}{}
}

// Len reports how many verdicts are held.
func (c *Cache) Len() int {
	return c.verdicts.Len()
}

// Close stops the background sweep.
func (c *Cache) Close() {
	c.verdicts.Close()
}
