package ratelimiter

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// checkRateLimitScript atomically prunes expired entries, counts the
// remainder, and conditionally records the current call, all in one round
// trip: ZREMRANGEBYSCORE then ZCARD then (if under limit) ZADD.
var checkRateLimitScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window_ms = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window_ms)
local count = redis.call('ZCARD', key)

if limit > 0 and count >= limit then
	return 0
end

redis.call('ZADD', key, now, member)
redis.call('PEXPIRE', key, window_ms)
return 1
`)

// RedisLimiter backs spec.md §4.3's optional Redis-backed variant: sorted
// sets keyed per rate-limited identity, scored by call timestamp. It fails
// open (allows the call) whenever Redis is unreachable, since a degraded
// Redis must never become an outage amplifier for gated traffic.
type RedisLimiter struct {
	client *redis.Client
	logger zerolog.Logger
}

// NewRedisLimiter constructs a Redis-backed limiter from a connection URL
// (redis://[:pass@]host[:port][/db]).
func NewRedisLimiter(url string, logger zerolog.Logger) (*RedisLimiter, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("ratelimiter: parse redis url: %w", err)
	}
	return &RedisLimiter{client: redis.NewClient(opts), logger: logger}, nil
}

// CheckRateLimit atomically checks and records a call against key, allowing
// up to maxCalls within windowMs. On any Redis error, it logs and allows
// the call through (fail-open), per spec.md §4.3.
func (r *RedisLimiter) CheckRateLimit(ctx context.Context, key string, maxCalls int, windowMs int64) bool {
	if windowMs <= 0 {
		windowMs = windowMillis
	}
	now := time.Now().UnixMilli()
	member := fmt.Sprintf("%d-%d", now, callSeq())

	result, err := checkRateLimitScript.Run(ctx, r.client, []string{"ratelimit:" + key}, now, windowMs, maxCalls, member).Int()
	if err != nil {
		r.logger.Warn().Err(err).Str("key", key).Msg("ratelimiter: redis unreachable, failing open")
		return true
	}
	return result == 1
}

// Close releases the underlying Redis connection pool.
func (r *RedisLimiter) Close() error {
	return r.client.Close()
}

var seqCounter atomic.Uint32

// callSeq disambiguates members added within the same millisecond so
// concurrent callers don't collide on the sorted-set member string.
func callSeq() uint32 {
	return seqCounter.Add(1)
}
