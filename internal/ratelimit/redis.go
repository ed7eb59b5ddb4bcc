package ratelimit

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements the sliding window on a Redis sorted set per
// key, scored by timestamp. A Lua script does prune+count+append in one
// round trip so concurrent checks across instances stay atomic.
type RedisStore struct {
	client *redis.Client
	script *redis.Script
}

// allowScript returns {allowed, remaining, oldest} after pruning
// members older than the window and conditionally adding the new one.
var allowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
if count >= limit then
	local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
	return {0, 0, tonumber(oldest[2])}
end
redis.call('ZADD', key, now, tostring(now) .. '-' .. tostring(count))
redis.call('PEXPIRE', key, window)
return {1, limit - count - 1, 0}
`)

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, script: allowScript}
}

func (s *RedisStore) Allow(ctx context.Context, key string, limit int, window time.Duration) (Decision, error) {
	now := time.Now()

	result, err := s.script.Run(ctx, s.client, []string{"ratelimit:" + key},
		now.UnixMilli(), window.Milliseconds(), limit).Slice()
	if err != nil {
		return Decision{}, err
	}

	allowed := toInt64(result[0]) == 1
	decision := Decision{
		Allowed:   allowed,
		Remaining: int(toInt64(result[1])),
	}
	if !allowed {
		oldest := time.UnixMilli(toInt64(result[2]))
		decision.RetryAfter = oldest.Add(window).Sub(now)
	}

	return decision, nil
}

func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case string:
		parsed, _ := strconv.ParseInt(n, 10, 64)
		return parsed
	}
	return 0
}
