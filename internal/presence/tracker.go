package presence

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	presenceKeyFmt = "presence:user:%s"
	presenceTTL    = 5 * time.Minute
)

// HashStore is the subset of the redis client the tracker needs.
type HashStore interface {
	HSet(ctx context.Context, key string, field string, value interface{}) error
	HDel(ctx context.Context, key string, fields ...string) error
	HLen(ctx context.Context, key string) (int64, error)
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	Expire(ctx context.Context, key string, expiration time.Duration) error
}

// Tracker mirrors local connections into redis so any instance can answer
// whether a user is online. Each connection is its own hash field, so one
// tab closing leaves the user's other connections in place.
type Tracker struct {
	redis      HashStore
	instanceID string
	logger     zerolog.Logger
}

func NewTracker(redis HashStore, instanceID string, logger zerolog.Logger) *Tracker {
	return &Tracker{
		redis:      redis,
		instanceID: instanceID,
		logger:     logger.With().Str("component", "presence-tracker").Logger(),
	}
}

func (t *Tracker) field(connectionID string) string {
	return t.instanceID + ":" + connectionID
}

func (t *Tracker) SetOnline(ctx context.Context, userID, connectionID string) error {
	key := fmt.Sprintf(presenceKeyFmt, userID)
	if err := t.redis.HSet(ctx, key, t.field(connectionID), time.Now().Unix()); err != nil {
		return err
	}
	return t.redis.Expire(ctx, key, presenceTTL)
}

func (t *Tracker) SetOffline(ctx context.Context, userID, connectionID string) error {
	key := fmt.Sprintf(presenceKeyFmt, userID)
	return t.redis.HDel(ctx, key, t.field(connectionID))
}

// Refresh extends the TTL for a connection that is still open.
func (t *Tracker) Refresh(ctx context.Context, userID, connectionID string) error {
	return t.SetOnline(ctx, userID, connectionID)
}

func (t *Tracker) IsOnline(ctx context.Context, userID string) (bool, error) {
	key := fmt.Sprintf(presenceKeyFmt, userID)
	count, err := t.redis.HLen(ctx, key)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// UserInstances returns the instance ids currently holding a connection for
// userID, one entry per connection.
func (t *Tracker) UserInstances(ctx context.Context, userID string) ([]string, error) {
	key := fmt.Sprintf(presenceKeyFmt, userID)
	fields, err := t.redis.HGetAll(ctx, key)
	if err != nil {
		return nil, err
	}
	instances := make([]string, 0, len(fields))
	for field := range fields {
		instance, _, _ := strings.Cut(field, ":")
		instances = append(instances, instance)
	}
	return instances, nil
}
