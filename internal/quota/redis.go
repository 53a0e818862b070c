package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fleetflow/outreach/control-plane/pkg/models"
)

// callQuotaScript checks and increments a daily counter atomically.
// KEYS[1] = counter key (e.g. "outreach:calls:<agent>:2025-03-03")
// ARGV[1] = max calls for the day
// ARGV[2] = key TTL in seconds
// Returns {allowed, count}.
var callQuotaScript = redis.NewScript(`
local key = KEYS[1]
local max = tonumber(ARGV[1])
local ttl = tonumber(ARGV[2])

local count = tonumber(redis.call("GET", key) or "0")
if count >= max then
    return {0, count}
end

count = redis.call("INCR", key)
if count == 1 then
    redis.call("EXPIRE", key, ttl)
end
return {1, count}
`)

// releaseScript decrements a daily counter, stopping at zero.
// KEYS[1] = counter key
// Returns the new count.
var releaseScript = redis.NewScript(`
local key = KEYS[1]
local count = tonumber(redis.call("GET", key) or "0")
if count <= 0 then
    return 0
end
return redis.call("DECR", key)
`)

// keyTTL outlives any timezone's version of the same calendar day.
const keyTTL = 48 * time.Hour

// RedisCounter shares call counts across control-plane replicas.
type RedisCounter struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisCounter creates a counter backed by a standalone Redis server.
func NewRedisCounter(addr, password string, db int) *RedisCounter {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisCounter{client: rdb, prefix: "outreach:calls"}
}

// NewRedisCounterWithClient wraps an existing client, e.g. a cluster client.
func NewRedisCounterWithClient(client redis.UniversalClient, prefix string) *RedisCounter {
	if prefix == "" {
		prefix = "outreach:calls"
	}
	return &RedisCounter{client: client, prefix: prefix}
}

func (c *RedisCounter) key(agentID string, day time.Time) string {
	return fmt.Sprintf("%s:%s:%s", c.prefix, agentID, dayKey(day))
}

// Ping checks the connection.
func (c *RedisCounter) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCounter) Close() error {
	return c.client.Close()
}

func (c *RedisCounter) TryIncrement(ctx context.Context, agentID string, day time.Time, max int) (int, error) {
	res, err := callQuotaScript.Run(ctx, c.client, []string{c.key(agentID, day)}, max, int(keyTTL.Seconds())).Result()
	if err != nil {
		return 0, fmt.Errorf("redis call quota: %w", err)
	}
	results, ok := res.([]interface{})
	if !ok || len(results) != 2 {
		return 0, fmt.Errorf("invalid response from call quota script")
	}
	allowed, _ := results[0].(int64)
	count, _ := results[1].(int64)
	if allowed != 1 {
		return int(count), models.ErrQuotaExceeded
	}
	return int(count), nil
}

func (c *RedisCounter) Release(ctx context.Context, agentID string, day time.Time) error {
	if err := releaseScript.Run(ctx, c.client, []string{c.key(agentID, day)}).Err(); err != nil {
		return fmt.Errorf("redis call release: %w", err)
	}
	return nil
}

func (c *RedisCounter) Count(ctx context.Context, agentID string, day time.Time) (int, error) {
	n, err := c.client.Get(ctx, c.key(agentID, day)).Int()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis call count: %w", err)
	}
	return n, nil
}
