package throttle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisStore implements CounterStore on a Redis instance. The sliding window
// is a sorted set scored by unix timestamp; cadence stamps are plain keys
// with a TTL matching the cadence interval.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore builds a RedisStore over an existing client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// SlidingWindowCount purges window-expired members, counts the survivors,
// records the new hit, and refreshes the key's TTL in a single pipeline.
// The returned count excludes the hit just added.
func (s *RedisStore) SlidingWindowCount(ctx context.Context, key string, now time.Time, window time.Duration) (int64, error) {
	cutoff := now.Add(-window)

	pipe := s.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", fmt.Sprintf("%d", cutoff.UnixNano()))
	card := pipe.ZCard(ctx, key)
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(now.UnixNano()),
		Member: uuid.NewString(),
	})
	pipe.Expire(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("sliding window pipeline: %w", err)
	}
	return card.Val(), nil
}

// GetTime reads a cadence stamp.
func (s *RedisStore) GetTime(ctx context.Context, key string) (time.Time, bool, error) {
	raw, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("get %s: %w", key, err)
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse stamp %s: %w", key, err)
	}
	return t, true, nil
}

// SetTime writes a cadence stamp with a TTL equal to the cadence interval,
// so stale stamps expire on their own.
func (s *RedisStore) SetTime(ctx context.Context, key string, t time.Time, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, t.UTC().Format(time.RFC3339Nano), ttl).Err(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}
