package bucket

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryStoreAllow(t *testing.T) {
	ctx := context.Background()

	t.Run("admits up to the limit then refuses", func(t *testing.T) {
		store := NewInMemoryStore()

		for i := 0; i < 3; i++ {
			result, err := store.Allow(ctx, "203.0.113.1", 3, time.Minute)
			require.NoError(t, err)
			assert.True(t, result.Allowed)
			assert.Equal(t, 2-i, result.Remaining)
		}

		result, err := store.Allow(ctx, "203.0.113.1", 3, time.Minute)
		require.NoError(t, err)
		assert.False(t, result.Allowed)
		assert.Equal(t, 0, result.Remaining)
		assert.False(t, result.ResetAt.IsZero())
	})

	t.Run("keys are independent", func(t *testing.T) {
		store := NewInMemoryStore()

		_, err := store.Allow(ctx, "203.0.113.1", 1, time.Minute)
		require.NoError(t, err)

		result, err := store.Allow(ctx, "203.0.113.2", 1, time.Minute)
		require.NoError(t, err)
		assert.True(t, result.Allowed)
	})

	t.Run("window slides", func(t *testing.T) {
		store := NewInMemoryStore()

		_, err := store.Allow(ctx, "203.0.113.1", 1, 10*time.Millisecond)
		require.NoError(t, err)

		denied, err := store.Allow(ctx, "203.0.113.1", 1, 10*time.Millisecond)
		require.NoError(t, err)
		assert.False(t, denied.Allowed)

		time.Sleep(15 * time.Millisecond)

		allowed, err := store.Allow(ctx, "203.0.113.1", 1, 10*time.Millisecond)
		require.NoError(t, err)
		assert.True(t, allowed.Allowed)
	})

	t.Run("reset clears the bucket", func(t *testing.T) {
		store := NewInMemoryStore()

		_, err := store.Allow(ctx, "203.0.113.1", 1, time.Minute)
		require.NoError(t, err)
		require.NoError(t, store.Reset(ctx, "203.0.113.1"))

		result, err := store.Allow(ctx, "203.0.113.1", 1, time.Minute)
		require.NoError(t, err)
		assert.True(t, result.Allowed)
	})
}

func TestInMemoryStoreConcurrent(t *testing.T) {
	// The last slot must go to exactly one of the racing requests.
	store := NewInMemoryStore()
	ctx := context.Background()

	var allowed atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := store.Allow(ctx, "203.0.113.1", 10, time.Minute)
			require.NoError(t, err)
			if result.Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(10), allowed.Load())
}
