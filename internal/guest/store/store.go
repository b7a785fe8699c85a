// Package store defines the identity record store contract. Every mutation of
// a record's counters goes through these primitives; no caller is permitted to
// read-then-write counter state from application memory.
package store

import (
	"context"
	"time"

	"fitgate/internal/guest/models"
)

// Store is the durable per-identity record adapter. Implementations must make
// each method a single atomic operation at the store level: concurrent first
// requests for a brand-new identity must not create divergent records, and
// concurrent reservations at usedCount = limit-1 must not both succeed.
type Store interface {
	// Upsert atomically creates the record with defaults if absent, or
	// refreshes lastSeenAt and contextual metadata if present. createdAt and
	// usedCount survive conflicts untouched.
	Upsert(ctx context.Context, key string, defaults models.UpsertDefaults) (*models.IdentityRecord, error)

	// Get returns the record or sentinel.ErrNotFound.
	Get(ctx context.Context, key string) (*models.IdentityRecord, error)

	// TryReserveUsage atomically increments usedCount iff usedCount < limit
	// and returns the updated record. Returns sentinel.ErrLimitReached,
	// without mutating state, when the quota is full.
	TryReserveUsage(ctx context.Context, key string, limit int) (*models.IdentityRecord, error)

	// ReleaseUsage atomically decrements usedCount, floored at zero. Used to
	// compensate a reservation whose protected operation failed.
	ReleaseUsage(ctx context.Context, key string) error

	// BumpDaily applies the lazy window reset (zero the counter when the
	// window has elapsed) and increments, in one atomic step. Returns the
	// post-increment count.
	BumpDaily(ctx context.Context, key string, window time.Duration) (int, error)

	// BumpBurst is BumpDaily over the short burst window.
	BumpBurst(ctx context.Context, key string, window time.Duration) (int, error)

	// AddRisk applies a commutative atomic increment to riskScore, and bumps
	// inconsistencyCount when inconsistency is set. The score is never clamped
	// at write time. Returns the updated record.
	AddRisk(ctx context.Context, key string, delta int, inconsistency bool) (*models.IdentityRecord, error)

	// SetBlocked flips the blocked flag.
	SetBlocked(ctx context.Context, key string, blocked bool) error

	// ResetUsage zeroes usedCount (admin action).
	ResetUsage(ctx context.Context, key string) error

	// ResetRisk zeroes riskScore and inconsistencyCount and unblocks (admin
	// action; the only sanctioned way scores decrease).
	ResetRisk(ctx context.Context, key string) error

	// SweepBurst zeroes burstRequestCount for all identities and reports how
	// many records changed. Called by the maintenance sweeper.
	SweepBurst(ctx context.Context) (int, error)
}
