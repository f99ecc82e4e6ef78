// Package ratelimit implements a fixed-window request counter keyed by an
// arbitrary identifier. A request that would exceed the window's maximum is
// rejected without incrementing the stored count.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/org/clipguard/pkg/models"
)

// Result is the outcome of one Allow call.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RetryAfter is how long a rejected caller should wait, rounded up to whole
// seconds and never less than one second.
func (r Result) RetryAfter(now time.Time) time.Duration {
	d := r.ResetAt.Sub(now)
	if d <= 0 {
		return time.Second
	}
	if rem := d % time.Second; rem != 0 {
		d += time.Second - rem
	}
	return d
}

// Store is the contract shared by the in-memory limiter and the Redis store.
type Store interface {
	Take(ctx context.Context, key string, window time.Duration, maxRequests int) (Result, error)
}

// Limiter keeps windows in process memory. All window mutations happen under
// one mutex, including the background sweep.
type Limiter struct {
	mu      sync.Mutex
	windows map[string]models.RateWindow
	now     func() time.Time

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// New creates a Limiter and starts its sweeper. A sweepInterval of zero
// disables background sweeping.
func New(sweepInterval time.Duration, opts ...Option) *Limiter {
	l := &Limiter{
		windows: make(map[string]models.RateWindow),
		now:     time.Now,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	if sweepInterval > 0 {
		go l.sweeper(sweepInterval)
	} else {
		close(l.done)
	}
	return l
}

// Allow counts one request against key.
func (l *Limiter) Allow(key string, window time.Duration, maxRequests int) Result {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok || w.Expired(now) {
		w = models.RateWindow{Count: 1, ResetAt: now.Add(window)}
		l.windows[key] = w
		return Result{Allowed: true, Limit: maxRequests, Remaining: max(maxRequests-1, 0), ResetAt: w.ResetAt}
	}
	if w.Count < maxRequests {
		w.Count++
		l.windows[key] = w
		return Result{Allowed: true, Limit: maxRequests, Remaining: maxRequests - w.Count, ResetAt: w.ResetAt}
	}
	return Result{Allowed: false, Limit: maxRequests, Remaining: 0, ResetAt: w.ResetAt}
}

// Take implements Store.
func (l *Limiter) Take(_ context.Context, key string, window time.Duration, maxRequests int) (Result, error) {
	return l.Allow(key, window, maxRequests), nil
}

// Reset forgets the window for key.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	delete(l.windows, key)
	l.mu.Unlock()
}

// Sweep drops every window whose reset time has passed.
func (l *Limiter) Sweep() int {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for k, w := range l.windows {
		if w.Expired(now) {
			delete(l.windows, k)
			n++
		}
	}
	return n
}

// Len reports how many windows are held.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

// Close stops the sweeper.
func (l *Limiter) Close() {
	l.closeOnce.Do(func() { close(l.stop) })
	<-l.done
}

func (l *Limiter) sweeper(interval time.Duration) {
	defer close(l.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.Sweep()
		case <-l.stop:
			return
		}
	}
}
