package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	availabilityKeyPrefix = "avail:"

	// Hints go stale as holds expire, so they live briefly. Admission never
	// reads them; correctness does not depend on this TTL.
	availabilityHintTTL = 30 * time.Second
)

// RedisAdapter caches non-authoritative availability hints for the read-only
// probe endpoint.
type RedisAdapter struct {
	client *redis.Client
}

func NewRedisAdapter(client *redis.Client) *RedisAdapter {
	return &RedisAdapter{client: client}
}

func (r *RedisAdapter) PublishAvailability(ctx context.Context, resourceID int64, available int) error {
	return r.client.Set(ctx, availabilityKey(resourceID), available, availabilityHintTTL).Err()
}

func (r *RedisAdapter) CachedAvailability(ctx context.Context, resourceID int64) (int, bool, error) {
	v, err := r.client.Get(ctx, availabilityKey(resourceID)).Int()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return v, true, nil
}

func (r *RedisAdapter) InvalidateAvailability(ctx context.Context, resourceID int64) error {
	return r.client.Del(ctx, availabilityKey(resourceID)).Err()
}

func availabilityKey(resourceID int64) string {
	return fmt.Sprintf("%s%d", availabilityKeyPrefix, resourceID)
}
