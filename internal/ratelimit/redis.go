package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// fixedWindowScript applies the same rule as Limiter.Allow atomically on the
// Redis side. Returns {allowed, count, pttl}.
var fixedWindowScript = redis.NewScript(`
local max = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
  redis.call('SET', KEYS[1], 1, 'PX', window)
  return {1, 1, window}
end
local count = tonumber(redis.call('GET', KEYS[1]))
if count < max then
  count = redis.call('INCR', KEYS[1])
  return {1, count, ttl}
end
return {0, count, ttl}
`)

// RedisStore shares fixed windows between replicas through Redis.
type RedisStore struct {
	client redis.Scripter
	prefix string
	now    func() time.Time
}

// NewRedisStore creates a RedisStore. Keys are stored under prefix.
func NewRedisStore(client redis.Scripter, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix, now: time.Now}
}

// Take implements Store.
func (s *RedisStore) Take(ctx context.Context, key string, window time.Duration, maxRequests int) (Result, error) {
	now := s.now()
	res, err := fixedWindowScript.Run(ctx, s.client, []string{s.prefix + key}, maxRequests, window.Milliseconds()).Int64Slice()
	if err != nil {
		return Result{}, fmt.Errorf("ratelimit: redis take: %w", err)
	}
	if len(res) != 3 {
		return Result{}, fmt.Errorf("ratelimit: unexpected script reply %v", res)
	}
	allowed, count, ttl := res[0] == 1, int(res[1]), time.Duration(res[2])*time.Millisecond
	r := Result{
		Allowed:   allowed,
		Limit:     maxRequests,
		Remaining: max(maxRequests-count, 0),
		ResetAt:   now.Add(ttl),
	}
	if !allowed {
		r.Remaining = 0
	}
	return r, nil
}
