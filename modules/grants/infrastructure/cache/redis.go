// Package cache holds the shared PoolCache backend used when several
// replicas serve the same database.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/fsystem/portal/modules/grants/domain/pool"
	"github.com/fsystem/portal/modules/grants/services"
)

const defaultPrefix = "grants:pool:v1"

// RedisPoolCache stores pool reports as JSON strings with a TTL.
type RedisPoolCache struct {
	redis  redis.Cmdable
	prefix string
	ttl    time.Duration
}

func NewRedisPoolCache(client redis.Cmdable, ttl time.Duration) *RedisPoolCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisPoolCache{redis: client, prefix: defaultPrefix, ttl: ttl}
}

func (c *RedisPoolCache) key(k string) string {
	return c.prefix + ":" + k
}

func (c *RedisPoolCache) Get(ctx context.Context, key string) (pool.Report, bool, error) {
	raw, err := c.redis.Get(ctx, c.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return pool.Report{}, false, nil
	}
	if err != nil {
		return pool.Report{}, false, err
	}
	var r pool.Report
	if err := json.Unmarshal(raw, &r); err != nil {
		// A report written by an older build is treated as a miss.
		return pool.Report{}, false, nil
	}
	return r, true, nil
}

func (c *RedisPoolCache) Set(ctx context.Context, key string, r pool.Report) error {
	if key == "" {
		return nil
	}
	raw, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return c.redis.Set(ctx, c.key(key), raw, c.ttl).Err()
}

func (c *RedisPoolCache) Invalidate(ctx context.Context, cycleIDs ...uuid.UUID) error {
	keys := make([]string, 0, len(cycleIDs)+1)
	keys = append(keys, c.key(services.PoolCacheKey(nil)))
	for _, id := range cycleIDs {
		keys = append(keys, c.key(services.PoolCacheKey(&id)))
	}
	return c.redis.Del(ctx, keys...).Err()
}

// Open parses a redis:// URL, or a bare host:port, and pings the server.
func Open(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		opts = &redis.Options{Addr: url}
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

var _ services.PoolCache = (*RedisPoolCache)(nil)
