package leaderboard

import (
	"context"
	"encoding/json"
	"time"

	redisclient "github.com/CDeX-Labs/TypeSprint-Socket-Service/internal/redis"
	"github.com/rs/zerolog"
)

const (
	cacheKeyPrefix = "leaderboard:snapshot:"
	cacheKeySet    = "leaderboard:snapshot-keys"
)

// KV is the subset of the redis client the snapshot cache needs.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Del(ctx context.Context, keys ...string) error
	SAdd(ctx context.Context, key string, members ...interface{}) error
	SMembers(ctx context.Context, key string) ([]string, error)
}

// RedisCache keeps serialized snapshots in redis so every instance shares them.
type RedisCache struct {
	kv     KV
	ttl    time.Duration
	logger zerolog.Logger
}

func NewRedisCache(kv KV, ttl time.Duration, logger zerolog.Logger) *RedisCache {
	return &RedisCache{
		kv:     kv,
		ttl:    ttl,
		logger: logger.With().Str("component", "leaderboard-cache").Logger(),
	}
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]Row, bool) {
	raw, err := c.kv.Get(ctx, cacheKeyPrefix+key)
	if err != nil {
		if !redisclient.IsMiss(err) {
			c.logger.Warn().Err(err).Str("key", key).Msg("Failed to read cached leaderboard")
		}
		return nil, false
	}
	var rows []Row
	if err := json.Unmarshal([]byte(raw), &rows); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("Discarding corrupt cached leaderboard")
		return nil, false
	}
	return rows, true
}

func (c *RedisCache) Set(ctx context.Context, key string, rows []Row) error {
	data, err := json.Marshal(rows)
	if err != nil {
		return err
	}
	if err := c.kv.Set(ctx, cacheKeyPrefix+key, data, c.ttl); err != nil {
		return err
	}
	return c.kv.SAdd(ctx, cacheKeySet, cacheKeyPrefix+key)
}

func (c *RedisCache) Invalidate(ctx context.Context) error {
	keys, err := c.kv.SMembers(ctx, cacheKeySet)
	if err != nil {
		return err
	}
	return c.kv.Del(ctx, append(keys, cacheKeySet)...)
}
