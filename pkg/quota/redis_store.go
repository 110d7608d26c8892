package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is an optional distributed backend for quota counters, for
// kernel deployments running more than one instance behind a shared quota
// view. CheckAndIncrement counts with INCR+EXPIRE, which gives a fixed
// window starting at the first request of each window (not Tracker's
// sliding window), at the cost of a network round trip per check.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore wraps an existing *redis.Client.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "agentgovernor:quota:"
	}
	return &RedisStore{client: client, prefix: prefix}
}

// CheckAndIncrement atomically increments the counter for key within the
// given window and reports whether it is still within limit. limit<=0
// means unlimited (no Redis round trip is made in that case).
func (s *RedisStore) CheckAndIncrement(ctx context.Context, key string, window time.Duration, limit int) (bool, error) {
	if limit <= 0 {
		return true, nil
	}
	fullKey := s.prefix + key
	count, err := s.client.Incr(ctx, fullKey).Result()
	if err != nil {
		return false, fmt.Errorf("quota: redis incr: %w", err)
	}
	if count == 1 {
		if err := s.client.Expire(ctx, fullKey, window).Err(); err != nil {
			return false, fmt.Errorf("quota: redis expire: %w", err)
		}
	}
	return count <= int64(limit), nil
}

// AcquireConcurrent tracks in-flight counts using a sorted set keyed by a unique
// token per in-flight request, so stale entries can be trimmed by score
// (timestamp) even if Release is never called (e.g. crashed worker).
func (s *RedisStore) AcquireConcurrent(ctx context.Context, key, token string, limit int, ttl time.Duration) (bool, error) {
	if limit <= 0 {
		return true, nil
	}
	fullKey := s.prefix + "concurrent:" + key
	now := time.Now()
	cutoff := now.Add(-ttl).UnixNano()

	pipe := s.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, fullKey, "-inf", fmt.Sprintf("%d", cutoff))
	card := pipe.ZCard(ctx, fullKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("quota: redis pipeline: %w", err)
	}
	if card.Val() >= int64(limit) {
		return false, nil
	}
	if err := s.client.ZAdd(ctx, fullKey, redis.Z{Score: float64(now.UnixNano()), Member: token}).Err(); err != nil {
		return false, fmt.Errorf("quota: redis zadd: %w", err)
	}
	return true, nil
}

// ReleaseConcurrent removes token from the in-flight set for key.
func (s *RedisStore) ReleaseConcurrent(ctx context.Context, key, token string) error {
	fullKey := s.prefix + "concurrent:" + key
	return s.client.ZRem(ctx, fullKey, token).Err()
}
