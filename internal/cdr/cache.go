package cdr

import (
    "context"
    "encoding/json"
    "fmt"
    "time"

    "github.com/go-redis/redis/v8"

    "github.com/etncore/ars/pkg/errors"
    "github.com/etncore/ars/pkg/logger"
)

type CacheConfig struct {
    Host         string
    Port         int
    Password     string
    DB           int
    PoolSize     int
    MinIdleConns int
    MaxRetries   int
}

// Cache holds live per-call fields in Redis so operators can inspect a
// call in flight before its detail record is written. A nil client is
// a no-op cache; the engine never depends on Redis being up.
type Cache struct {
    client *redis.Client
    prefix string
}

var cacheInstance *Cache

func InitializeCache(cfg CacheConfig, prefix string) error {
    client := redis.NewClient(&redis.Options{
        Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
        Password:     cfg.Password,
        DB:           cfg.DB,
        PoolSize:     cfg.PoolSize,
        MinIdleConns: cfg.MinIdleConns,
        MaxRetries:   cfg.MaxRetries,
    })

    ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
    defer cancel()

    if err := client.Ping(ctx).Err(); err != nil {
        return errors.Wrap(err, errors.ErrRedis, "failed to connect to Redis")
    }

    cacheInstance = &Cache{
        client: client,
        prefix: prefix,
    }

    logger.Info("Redis cache initialized")
    return nil
}

func GetCache() *Cache {
    if cacheInstance == nil {
        // Return nil cache that doesn't error
        return &Cache{}
    }
    return cacheInstance
}

// Ping reports cache reachability. A no-op cache is always healthy.
func (c *Cache) Ping(ctx context.Context) error {
    if c.client == nil {
        return nil
    }
    return c.client.Ping(ctx).Err()
}

func (c *Cache) key(k string) string {
    if c.prefix != "" {
        return fmt.Sprintf("%s:%s", c.prefix, k)
    }
    return k
}

// SetCallField writes one live field onto the call's hash. Best effort.
func (c *Cache) SetCallField(ctx context.Context, legID, field, value string) {
    if c.client == nil {
        return
    }

    key := c.key(fmt.Sprintf("call:%s", legID))
    pipe := c.client.Pipeline()
    pipe.HSet(ctx, key, field, value)
    pipe.Expire(ctx, key, 4*time.Hour)
    if _, err := pipe.Exec(ctx); err != nil {
        logger.WithContext(ctx).WithField("leg_id", legID).WithField("error", err.Error()).Warn("Cache call-field set failed")
    }
}

// CallFields returns every live field recorded for a call, or nil on a
// miss or cache error.
func (c *Cache) CallFields(ctx context.Context, legID string) map[string]string {
    if c.client == nil {
        return nil
    }

    fields, err := c.client.HGetAll(ctx, c.key(fmt.Sprintf("call:%s", legID))).Result()
    if err != nil {
        logger.WithContext(ctx).WithField("leg_id", legID).WithField("error", err.Error()).Warn("Cache call-field get failed")
        return nil
    }
    if len(fields) == 0 {
        return nil
    }
    return fields
}

// DropCall removes the live hash once the detail record is persisted.
func (c *Cache) DropCall(ctx context.Context, legID string) {
    if c.client == nil {
        return
    }

    if err := c.client.Del(ctx, c.key(fmt.Sprintf("call:%s", legID))).Err(); err != nil {
        logger.WithContext(ctx).WithField("error", err.Error()).Warn("Cache delete failed")
    }
}

// Publish writes a JSON snapshot under a fixed key so operators can
// read the daemon's materialized state from Redis. Best effort.
func (c *Cache) Publish(ctx context.Context, key string, value interface{}) {
    if c.client == nil {
        return
    }

    data, err := json.Marshal(value)
    if err != nil {
        return
    }

    if err := c.client.Set(ctx, c.key(key), data, 0).Err(); err != nil {
        logger.WithContext(ctx).WithField("key", key).WithField("error", err.Error()).Warn("Cache publish failed")
    }
}
