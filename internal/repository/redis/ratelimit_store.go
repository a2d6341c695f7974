package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"pulse-backend/internal/database"
)

// fixedWindowScript increments the counter and starts the window on the first
// hit. A key that somehow lost its TTL gets a fresh one so it cannot stick.
var fixedWindowScript = goredis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
	ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

// RateLimitStore keeps fixed-window counters in Redis so limits hold across
// gateway restarts
type RateLimitStore struct {
	client *database.RedisClient
	prefix string
}

// NewRateLimitStore creates a new RateLimitStore
func NewRateLimitStore(client *database.RedisClient) *RateLimitStore {
	return &RateLimitStore{client: client, prefix: "ratelimit:"}
}

// Increment counts one hit against key and returns the count in the current
// window plus the time left until it resets
func (s *RateLimitStore) Increment(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	if s.client.IsDegraded() {
		return 0, 0, database.ErrRedisDegraded
	}

	res, err := fixedWindowScript.Run(ctx, s.client.Client, []string{s.prefix + key}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return 0, 0, fmt.Errorf("failed to increment rate limit counter: %w", err)
	}
	if len(res) != 2 {
		return 0, 0, fmt.Errorf("unexpected rate limit script reply: %v", res)
	}

	return res[0], time.Duration(res[1]) * time.Millisecond, nil
}
