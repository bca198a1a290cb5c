package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// attemptWindowScript counts one attempt in a fixed window keyed by
// scope/subject. A key that lost its TTL (flush, eviction edge) gets a fresh
// window instead of counting forever.
var attemptWindowScript = redis.NewScript(`
local hits = redis.call("INCR", KEYS[1])
if hits == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
  return {hits, tonumber(ARGV[1])}
end
local remaining = redis.call("PTTL", KEYS[1])
if remaining < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
  remaining = tonumber(ARGV[1])
end
return {hits, remaining}
`)

// RateLimiter counts attempts per scope/subject within a rolling window.
// Implementations must be safe for concurrent use.
type RateLimiter interface {
	ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (count int, retryAfterSeconds int, err error)
}

// RedisPaymentRateLimiter implements distributed rate limiting using Redis.
// A nil limiter or nil client disables limiting entirely.
type RedisPaymentRateLimiter struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisPaymentRateLimiter(client redis.UniversalClient, prefix string) *RedisPaymentRateLimiter {
	trimmedPrefix := strings.TrimSpace(prefix)
	if trimmedPrefix == "" {
		trimmedPrefix = "billing:rate_limit"
	}
	trimmedPrefix = strings.TrimSuffix(trimmedPrefix, ":")

	return &RedisPaymentRateLimiter{
		client: client,
		prefix: trimmedPrefix,
	}
}

func (r *RedisPaymentRateLimiter) ConsumeRateLimit(
	ctx context.Context,
	scope string,
	subject string,
	limit int,
	window time.Duration,
) (count int, retryAfterSeconds int, err error) {
	if r == nil || r.client == nil || limit <= 0 || window <= 0 {
		return 0, 0, nil
	}

	scope = strings.TrimSpace(scope)
	subject = strings.TrimSpace(subject)
	if scope == "" || subject == "" {
		return 0, 0, nil
	}

	windowMs := window.Milliseconds()
	if windowMs < 1000 {
		windowMs = 1000
	}

	values, err := attemptWindowScript.Run(ctx, r.client, []string{r.key(scope, subject)}, windowMs).Int64Slice()
	if err != nil {
		return 0, 0, err
	}
	if len(values) != 2 {
		return 0, 0, fmt.Errorf("unexpected redis limiter response length %d", len(values))
	}

	return int(values[0]), retryAfterFromTTL(values[1], windowMs), nil
}

func (r *RedisPaymentRateLimiter) key(scope, subject string) string {
	return r.prefix + ":" + scope + ":" + subject
}

// retryAfterFromTTL rounds the window's remaining millisecond TTL up to whole
// seconds; a caller is never told to retry in zero seconds.
func retryAfterFromTTL(ttlMs, windowMs int64) int {
	if ttlMs < 0 {
		ttlMs = windowMs
	}
	secs := int((ttlMs + 999) / 1000)
	if secs < 1 {
		secs = 1
	}
	return secs
}
