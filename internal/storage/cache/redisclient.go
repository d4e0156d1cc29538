// --- File: internal/storage/cache/redisclient.go ---
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// hsetCapped writes a field unless the hash is full. Overwriting a field that
// already exists never counts against the capacity.
// Returns 1 when written, 0 when the hash is full.
var hsetCapped = redis.NewScript(`
local cap = tonumber(ARGV[3])
if cap > 0 and redis.call('HEXISTS', KEYS[1], ARGV[1]) == 0 and redis.call('HLEN', KEYS[1]) >= cap then
	return 0
end
redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
return 1
`)

// hpopN removes up to ARGV[1] fields (all when <= 0) and returns them as a
// flat field, value list.
var hpopN = redis.NewScript(`
local limit = tonumber(ARGV[1])
local all = redis.call('HGETALL', KEYS[1])
local out = {}
for i = 1, #all, 2 do
	if limit > 0 and (#out / 2) >= limit then
		break
	end
	out[#out + 1] = all[i]
	out[#out + 1] = all[i + 1]
	redis.call('HDEL', KEYS[1], all[i])
end
return out
`)

// RedisClient wraps go-redis for the variant cache and the shared
// invalid-token hash.
type RedisClient struct {
	rdb *redis.Client
}

func NewRedisClient(addr, password string, db int) (*RedisClient, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// Fail fast if connection is bad
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &RedisClient{rdb: rdb}, nil
}

func (c *RedisClient) Get(ctx context.Context, key string, dest interface{}) error {
	val, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return err // redis.Nil signals a miss
	}
	return json.Unmarshal(val, dest)
}

func (c *RedisClient) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	bytes, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, key, bytes, ttl).Err()
}

func (c *RedisClient) Del(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, key).Err()
}

// HSetCapped stores value under field in the hash at key. A capacity <= 0
// leaves the hash unbounded. It reports false when the hash is full.
func (c *RedisClient) HSetCapped(ctx context.Context, key, field, value string, capacity int64) (bool, error) {
	n, err := hsetCapped.Run(ctx, c.rdb, []string{key}, field, value, capacity).Int()
	if err != nil {
		return false, fmt.Errorf("redis hset failed: %w", err)
	}
	return n == 1, nil
}

// HPopN atomically removes and returns up to count fields of the hash at
// key, all of them when count <= 0.
func (c *RedisClient) HPopN(ctx context.Context, key string, count int64) (map[string]string, error) {
	flat, err := hpopN.Run(ctx, c.rdb, []string{key}, count).StringSlice()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("redis hpop failed: %w", err)
	}
	out := make(map[string]string, len(flat)/2)
	for i := 0; i+1 < len(flat); i += 2 {
		out[flat[i]] = flat[i+1]
	}
	return out, nil
}

func (c *RedisClient) Close() error {
	return c.rdb.Close()
}
