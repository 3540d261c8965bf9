package service

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const rateLimitKeyPrefix = "echopersona:ratelimit:"

// slidingWindowScript counts hits in a sorted set per key and returns
// {allowed, remaining, resetAt}.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)

local count = redis.call('ZCARD', key)

if count >= limit then
    local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
    local resetAt = now + window
    if #oldest >= 2 then
        resetAt = tonumber(oldest[2]) + window
    end
    return {0, 0, resetAt}
end

redis.call('ZADD', key, now, now .. '-' .. math.random())
redis.call('EXPIRE', key, window + 10)

return {1, limit - count - 1, now + window}
`)

// Decision is the outcome of one rate limit check.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RateLimiter is a Redis sliding-window limiter shared by every instance.
type RateLimiter struct {
	client *redis.Client
}

func NewRateLimiter(client *redis.Client) *RateLimiter {
	return &RateLimiter{client: client}
}

// Check records a hit for key. When Redis is unreachable the request is
// allowed and a warning is logged.
func (rl *RateLimiter) Check(ctx context.Context, key string, limit int, window time.Duration) Decision {
	now := time.Now().Unix()

	result, err := slidingWindowScript.Run(
		ctx,
		rl.client,
		[]string{rateLimitKeyPrefix + key},
		now,
		int64(window.Seconds()),
		limit,
	).Int64Slice()

	if err != nil || len(result) != 3 {
		log.Warn().Err(err).Str("key", key).Msg("rate limit check failed, allowing request")
		return Decision{
			Allowed:   true,
			Limit:     limit,
			Remaining: limit - 1,
			ResetAt:   time.Now().Add(window),
		}
	}

	return Decision{
		Allowed:   result[0] == 1,
		Limit:     limit,
		Remaining: int(result[1]),
		ResetAt:   time.Unix(result[2], 0),
	}
}

// CheckLimit is Check reduced to the allow flag and reset time.
func (rl *RateLimiter) CheckLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, time.Time) {
	d := rl.Check(ctx, key, limit, window)
	return d.Allowed, d.ResetAt
}
