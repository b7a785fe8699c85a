//go:build integration

package containers

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

// RedisContainer wraps a testcontainers Redis instance.
type RedisContainer struct {
	Container testcontainers.Container
	Addr      string
	Client    *redis.Client
}

var (
	redisOnce     sync.Once
	redisInstance *RedisContainer
	redisErr      error
)

// GetRedis returns a shared Redis container for the test binary.
func GetRedis(t *testing.T) *RedisContainer {
	t.Helper()

	redisOnce.Do(func() {
		redisInstance, redisErr = newRedisContainer()
	})
	if redisErr != nil {
		t.Fatalf("failed to start redis container: %v", redisErr)
	}
	return redisInstance
}

func newRedisContainer() (*RedisContainer, error) {
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		return nil, fmt.Errorf("run redis container: %w", err)
	}

	addr, err := container.ConnectionString(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("redis connection string: %w", err)
	}

	opts, err := redis.ParseURL(addr)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &RedisContainer{Container: container, Addr: opts.Addr, Client: client}, nil
}

// FlushAll clears all keys between tests.
func (r *RedisContainer) FlushAll(ctx context.Context) error {
	return r.Client.FlushAll(ctx).Err()
}
