package bucket

import (
	"context"
	"sync"
	"time"

	"fitgate/internal/ratelimit"
)

// InMemoryStore implements the bucket contract with an in-process sliding
// window. Single-instance deployments only; multi-instance setups need the
// Redis store so all instances see one counter.
type InMemoryStore struct {
	mu      sync.Mutex
	buckets map[string]*slidingWindow
}

type slidingWindow struct {
	timestamps []time.Time
	window     time.Duration
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{buckets: make(map[string]*slidingWindow)}
}

// Allow records the request if it fits under the limit and reports the
// verdict. The sliding window avoids the double-burst at fixed-window edges.
func (s *InMemoryStore) Allow(_ context.Context, key string, limit int, window time.Duration) (*ratelimit.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	sw := s.buckets[key]
	if sw == nil {
		sw = &slidingWindow{window: window}
		s.buckets[key] = sw
	}
	sw.cleanup(now)

	if len(sw.timestamps) >= limit {
		return &ratelimit.Result{
			Allowed: false,
			Limit:   limit,
			ResetAt: sw.timestamps[0].Add(window),
		}, nil
	}

	sw.timestamps = append(sw.timestamps, now)
	return &ratelimit.Result{
		Allowed:   true,
		Limit:     limit,
		Remaining: limit - len(sw.timestamps),
		ResetAt:   sw.timestamps[0].Add(window),
	}, nil
}

func (s *InMemoryStore) Reset(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.buckets, key)
	return nil
}

func (sw *slidingWindow) cleanup(now time.Time) {
	cutoff := now.Add(-sw.window)
	i := 0
	for ; i < len(sw.timestamps); i++ {
		if sw.timestamps[i].After(cutoff) {
			break
		}
	}
	sw.timestamps = sw.timestamps[i:]
}
