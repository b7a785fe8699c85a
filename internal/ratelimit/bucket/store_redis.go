package bucket

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"fitgate/internal/ratelimit"
)

// RedisStore implements the bucket contract on a shared Redis counter so
// every instance enforces the same per-IP budget. Fixed window: one INCR per
// request with the expiry pinned to the first hit of the window.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Allow(ctx context.Context, key string, limit int, window time.Duration) (*ratelimit.Result, error) {
	bucketKey := fmt.Sprintf("ratelimit:%s", key)

	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, bucketKey)
	pipe.ExpireNX(ctx, bucketKey, window)
	ttl := pipe.PTTL(ctx, bucketKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("redis rate limit incr: %w", err)
	}

	count := int(incr.Val())
	resetAt := time.Now().Add(ttl.Val())

	if count > limit {
		return &ratelimit.Result{Allowed: false, Limit: limit, ResetAt: resetAt}, nil
	}
	return &ratelimit.Result{
		Allowed:   true,
		Limit:     limit,
		Remaining: limit - count,
		ResetAt:   resetAt,
	}, nil
}

func (s *RedisStore) Reset(ctx context.Context, key string) error {
	return s.client.Del(ctx, fmt.Sprintf("ratelimit:%s", key)).Err()
}
