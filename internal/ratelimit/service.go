package ratelimit

import (
	"context"
	"time"
)

// BucketStore is the counter backend. Implementations must make Allow a
// single atomic check-and-record so concurrent requests cannot both claim
// the last slot.
type BucketStore interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (*Result, error)
	Reset(ctx context.Context, key string) error
}

// Limiter applies one limit and window over a bucket store.
type Limiter struct {
	store  BucketStore
	limit  int
	window time.Duration
}

func NewLimiter(store BucketStore, limit int, window time.Duration) *Limiter {
	return &Limiter{store: store, limit: limit, window: window}
}

func (l *Limiter) Allow(ctx context.Context, key string) (*Result, error) {
	return l.store.Allow(ctx, key, l.limit, l.window)
}

func (l *Limiter) Reset(ctx context.Context, key string) error {
	return l.store.Reset(ctx, key)
}
