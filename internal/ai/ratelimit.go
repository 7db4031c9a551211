package ai

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// Lua script for atomic check-and-increment of the per-minute counter.
// Checking before incrementing keeps a denied request from consuming quota.
const minuteLimitScript = `
local key = KEYS[1]
local limit = tonumber(ARGV[1])
local ttl = tonumber(ARGV[2])

local current = tonumber(redis.call("GET", key) or "0")

if current + 1 > limit then
    return {0, current}
end

local newVal = redis.call("INCR", key)
if newVal == 1 then
    redis.call("EXPIRE", key, ttl)
end

return {1, newVal}
`

// RateLimiter caps generations per provider per minute across all
// instances. A nil limiter allows everything, so single-instance deploys
// without Redis just skip the check.
type RateLimiter struct {
	redis  *redis.Client
	script *redis.Script
}

// NewRateLimiter creates a limiter with its Lua script pre-compiled.
func NewRateLimiter(redisClient *redis.Client) *RateLimiter {
	return &RateLimiter{
		redis:  redisClient,
		script: redis.NewScript(minuteLimitScript),
	}
}

// Allow reports whether one more generation may proceed in the current
// minute window. perMinute <= 0 disables the limit. Redis failures allow
// the request rather than blocking generation on cache availability.
func (r *RateLimiter) Allow(ctx context.Context, provider string, perMinute int) bool {
	if r == nil || r.redis == nil || perMinute <= 0 {
		return true
	}

	now := time.Now()
	key := fmt.Sprintf("ai:ratelimit:%s:%d", provider, now.Unix()/60)

	result, err := r.script.Run(ctx, r.redis, []string{key}, perMinute, 120).Slice()
	if err != nil {
		log.Printf("[AI] rate limit check error, allowing: %v", err)
		return true
	}

	allowed, ok := result[0].(int64)
	return ok && allowed == 1
}
