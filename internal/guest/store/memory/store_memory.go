// Package memory implements the identity record store with an in-process map.
// It backs unit tests and single-instance deployments; multi-instance
// deployments need the postgres store.
package memory

import (
	"context"
	"sync"
	"time"

	"fitgate/internal/guest/models"
	"fitgate/pkg/platform/sentinel"
)

type Store struct {
	mu      sync.Mutex
	records map[string]*models.IdentityRecord
	now     func() time.Time
}

func New() *Store {
	return &Store{
		records: make(map[string]*models.IdentityRecord),
		now:     time.Now,
	}
}

// WithClock overrides the time source. Window-reset tests need to move time.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

func (s *Store) Upsert(_ context.Context, key string, defaults models.UpsertDefaults) (*models.IdentityRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	rec, exists := s.records[key]
	if !exists {
		rec = &models.IdentityRecord{
			IdentityKey:      key,
			Fingerprint:      defaults.Fingerprint,
			UsageLimit:       defaults.UsageLimit,
			DailyWindowStart: now,
			BurstWindowStart: now,
			Platform:         defaults.Platform,
			AppVersion:       defaults.AppVersion,
			LastSeenAt:       now,
			CreatedAt:        now,
		}
		s.records[key] = rec
	}

	rec.LastSeenAt = now
	if defaults.Platform != "" {
		rec.Platform = defaults.Platform
	}
	if defaults.AppVersion != "" {
		rec.AppVersion = defaults.AppVersion
	}
	if defaults.ClientIP != "" {
		rec.KnownIPs = appendIP(rec.KnownIPs, defaults.ClientIP, defaults.KnownIPCap)
	}

	return copyOf(rec), nil
}

func (s *Store) Get(_ context.Context, key string) (*models.IdentityRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists := s.records[key]
	if !exists {
		return nil, sentinel.ErrNotFound
	}
	return copyOf(rec), nil
}

func (s *Store) TryReserveUsage(_ context.Context, key string, limit int) (*models.IdentityRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists := s.records[key]
	if !exists {
		return nil, sentinel.ErrNotFound
	}
	if rec.UsedCount >= limit {
		return nil, sentinel.ErrLimitReached
	}
	rec.UsedCount++
	return copyOf(rec), nil
}

func (s *Store) ReleaseUsage(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists := s.records[key]
	if !exists {
		return sentinel.ErrNotFound
	}
	if rec.UsedCount > 0 {
		rec.UsedCount--
	}
	return nil
}

func (s *Store) BumpDaily(_ context.Context, key string, window time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists := s.records[key]
	if !exists {
		return 0, sentinel.ErrNotFound
	}
	now := s.now()
	if now.Sub(rec.DailyWindowStart) >= window {
		rec.DailyRequestCount = 0
		rec.DailyWindowStart = now
	}
	rec.DailyRequestCount++
	return rec.DailyRequestCount, nil
}

func (s *Store) BumpBurst(_ context.Context, key string, window time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists := s.records[key]
	if !exists {
		return 0, sentinel.ErrNotFound
	}
	now := s.now()
	if now.Sub(rec.BurstWindowStart) >= window {
		rec.BurstRequestCount = 0
		rec.BurstWindowStart = now
	}
	rec.BurstRequestCount++
	return rec.BurstRequestCount, nil
}

func (s *Store) AddRisk(_ context.Context, key string, delta int, inconsistency bool) (*models.IdentityRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists := s.records[key]
	if !exists {
		return nil, sentinel.ErrNotFound
	}
	rec.RiskScore += delta
	if inconsistency {
		rec.InconsistencyCount++
	}
	return copyOf(rec), nil
}

func (s *Store) SetBlocked(_ context.Context, key string, blocked bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists := s.records[key]
	if !exists {
		return sentinel.ErrNotFound
	}
	rec.Blocked = blocked
	return nil
}

func (s *Store) ResetUsage(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists := s.records[key]
	if !exists {
		return sentinel.ErrNotFound
	}
	rec.UsedCount = 0
	return nil
}

func (s *Store) ResetRisk(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists := s.records[key]
	if !exists {
		return sentinel.ErrNotFound
	}
	rec.RiskScore = 0
	rec.InconsistencyCount = 0
	rec.Blocked = false
	return nil
}

func (s *Store) SweepBurst(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	swept := 0
	for _, rec := range s.records {
		if rec.BurstRequestCount != 0 {
			rec.BurstRequestCount = 0
			swept++
		}
	}
	return swept, nil
}

// appendIP keeps the most recent distinct addresses, newest last, capped.
func appendIP(ips []string, ip string, limit int) []string {
	for i, known := range ips {
		if known == ip {
			// Move to the end so eviction drops the stalest address.
			return append(append(ips[:i:i], ips[i+1:]...), ip)
		}
	}
	ips = append(ips, ip)
	if limit > 0 && len(ips) > limit {
		ips = ips[len(ips)-limit:]
	}
	return ips
}

func copyOf(rec *models.IdentityRecord) *models.IdentityRecord {
	dup := *rec
	dup.KnownIPs = append([]string(nil), rec.KnownIPs...)
	return &dup
}
