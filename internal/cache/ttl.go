// Package cache provides a concurrency-safe TTL map. Expiry is checked on
// every read and expired entries are physically removed by a janitor sweep.
package cache

import (
	"sync"
	"time"
)

type entry[V any] struct {
	value     V
	writtenAt time.Time
	ttl       time.Duration
}

func (e entry[V]) expired(now time.Time) bool {
	return now.After(e.writtenAt.Add(e.ttl))
}

type options struct {
	now           func() time.Time
	sweepInterval time.Duration
}

// Option configures a Cache.
type Option func(*options)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithSweepInterval sets how often the janitor removes expired entries.
// Zero disables the janitor.
func WithSweepInterval(d time.Duration) Option {
	return func(o *options) { o.sweepInterval = d }
}

// Cache is a TTL-bounded map safe for concurrent use.
type Cache[K comparable, V any] struct {
	mu    sync.RWMutex
	items map[K]entry[V]
	ttl   time.Duration
	now   func() time.Time

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a Cache whose entries live for ttl unless set otherwise.
func New[K comparable, V any](ttl time.Duration, opts ...Option) *Cache[K, V] {
	o := options{now: time.Now, sweepInterval: time.Minute}
	for _, opt := range opts {
		opt(&o)
	}
	c := &Cache[K, V]{
		items: make(map[K]entry[V]),
		ttl:   ttl,
		now:   o.now,
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	if o.sweepInterval > 0 {
		go c.janitor(o.sweepInterval)
	} else {
		close(c.done)
	}
	return c
}

// Get returns the value for key if present and not expired.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	e, ok := c.items[key]
	c.mu.RUnlock()
	if !ok || e.expired(c.now()) {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Set stores value under key with the default TTL.
func (c *Cache[K, V]) Set(key K, value V) {
	c.SetWithTTL(key, value, c.ttl)
}

// SetWithTTL stores value under key with an explicit TTL.
func (c *Cache[K, V]) SetWithTTL(key K, value V, ttl time.Duration) {
	c.mu.Lock()
	c.items[key] = entry[V]{value: value, writtenAt: c.now(), ttl: ttl}
	c.mu.Unlock()
}

// Delete removes key.
func (c *Cache[K, V]) Delete(key K) {
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()
}

// DeleteFunc removes every entry for which match returns true and reports how
// many were removed. match runs under the write lock and must not call back
// into the cache.
func (c *Cache[K, V]) DeleteFunc(match func(K, V) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k, e := range c.items {
		if match(k, e.value) {
			delete(c.items, k)
			n++
		}
	}
	return n
}

// Sweep removes expired entries and reports how many were removed.
func (c *Cache[K, V]) Sweep() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k, e := range c.items {
		if e.expired(now) {
			delete(c.items, k)
			n++
		}
	}
	return n
}

// Clear drops every entry.
func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	c.items = make(map[K]entry[V])
	c.mu.Unlock()
}

// Len reports the number of physically stored entries, expired or not.
func (c *Cache[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Close stops the janitor. The cache stays usable afterwards.
func (c *Cache[K, V]) Close() {
	c.closeOnce.Do(func() { close(c.stop) })
	<-c.done
}

func (c *Cache[K, V]) janitor(interval time.Duration) {
	defer close(c.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.Sweep()
		case <-c.stop:
			return
		}
	}
}
