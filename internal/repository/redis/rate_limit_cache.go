package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"access-service/internal/client"
	"access-service/internal/util"
)

const rateLimitPrefix = "rate_limit:"

// slidingWindowScript drops entries older than the window, then admits the
// request if fewer than limit remain. Returns {allowed, count}.
var slidingWindowScript = goredis.NewScript(`
local now = tonumber(ARGV[1])
local window_start = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', window_start)
local count = redis.call('ZCARD', KEYS[1])
if count < limit then
    redis.call('ZADD', KEYS[1], now, ARGV[5])
    redis.call('PEXPIRE', KEYS[1], ARGV[4])
    return {1, count + 1}
end
return {0, count}
`)

// RateLimitCache throttles challenge issuance per identifier so the send
// endpoint cannot be used to flood a mailbox or phone.
type RateLimitCache struct {
	client *client.RedisClient
}

func NewRateLimitCache(client *client.RedisClient) *RateLimitCache {
	return &RateLimitCache{client: client}
}

// SlidingWindow admits at most limit events per window for key.
func (c *RateLimitCache) SlidingWindow(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (bool, int, error) {
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	nowMs := now.UnixMilli()
	res, err := c.client.Run(ctx, slidingWindowScript, []string{rateLimitPrefix + key},
		nowMs, nowMs-window.Milliseconds(), limit, window.Milliseconds(), uuid.NewString())
	if err != nil {
		util.Error("Failed to execute sliding window rate limit",
			zap.String("key", key),
			zap.Int("limit", limit),
			zap.Duration("window", window),
			zap.Error(err))
		return false, 0, fmt.Errorf("failed to execute sliding window rate limit: %w", err)
	}

	vals, ok := res.([]interface{})
	if !ok || len(vals) != 2 {
		return false, 0, fmt.Errorf("unexpected result format from sliding window script")
	}
	allowed, _ := vals[0].(int64)
	count, _ := vals[1].(int64)

	util.Debug("Sliding window rate limit check",
		zap.String("key", key),
		zap.Bool("allowed", allowed == 1),
		zap.Int64("count", count),
		zap.Int("limit", limit))

	return allowed == 1, int(count), nil
}
