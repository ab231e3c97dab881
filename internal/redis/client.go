package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/CDeX-Labs/TypeSprint-Socket-Service/internal/metrics"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type Options struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type Client struct {
	rdb     redis.UniversalClient
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

func NewClient(opts Options, m *metrics.Metrics, logger zerolog.Logger) (*Client, error) {
	addr := fmt.Sprintf("%s:%d", opts.Host, opts.Port)
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 5,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info().Str("addr", addr).Msg("Connected to Redis")

	return Wrap(rdb, m, logger), nil
}

// Wrap adapts an existing go-redis client.
func Wrap(rdb redis.UniversalClient, m *metrics.Metrics, logger zerolog.Logger) *Client {
	return &Client{
		rdb:     rdb,
		metrics: m,
		logger:  logger.With().Str("component", "redis").Logger(),
	}
}

// IsMiss reports whether err is a cache or key miss.
func IsMiss(err error) bool {
	return errors.Is(err, redis.Nil)
}

func (c *Client) observe(op string, err error) error {
	switch {
	case err == nil, IsMiss(err):
		c.metrics.IncRedisOperation(op, "ok")
	default:
		c.metrics.IncRedisOperation(op, "error")
	}
	return err
}

func (c *Client) Close() error {
	return c.rdb.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.observe("ping", c.rdb.Ping(ctx).Err())
}

func (c *Client) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return c.observe("set", c.rdb.Set(ctx, key, value, expiration).Err())
}

func (c *Client) Get(ctx context.Context, key string) (string, error) {
	v, err := c.rdb.Get(ctx, key).Result()
	return v, c.observe("get", err)
}

func (c *Client) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.observe("del", c.rdb.Del(ctx, keys...).Err())
}

func (c *Client) HSet(ctx context.Context, key string, field string, value interface{}) error {
	return c.observe("hset", c.rdb.HSet(ctx, key, field, value).Err())
}

func (c *Client) HDel(ctx context.Context, key string, fields ...string) error {
	return c.observe("hdel", c.rdb.HDel(ctx, key, fields...).Err())
}

func (c *Client) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	v, err := c.rdb.HGetAll(ctx, key).Result()
	return v, c.observe("hgetall", err)
}

func (c *Client) HLen(ctx context.Context, key string) (int64, error) {
	v, err := c.rdb.HLen(ctx, key).Result()
	return v, c.observe("hlen", err)
}

func (c *Client) SAdd(ctx context.Context, key string, members ...interface{}) error {
	return c.observe("sadd", c.rdb.SAdd(ctx, key, members...).Err())
}

func (c *Client) SMembers(ctx context.Context, key string) ([]string, error) {
	v, err := c.rdb.SMembers(ctx, key).Result()
	return v, c.observe("smembers", err)
}

func (c *Client) Expire(ctx context.Context, key string, expiration time.Duration) error {
	return c.observe("expire", c.rdb.Expire(ctx, key, expiration).Err())
}

func (c *Client) Publish(ctx context.Context, channel string, message interface{}) error {
	return c.observe("publish", c.rdb.Publish(ctx, channel, message).Err())
}

func (c *Client) Subscribe(ctx context.Context, channels ...string) *redis.PubSub {
	return c.rdb.Subscribe(ctx, channels...)
}
