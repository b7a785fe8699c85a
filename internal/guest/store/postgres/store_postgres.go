// Package postgres persists identity records in PostgreSQL.
// This store is pure I/O; all policy (limits, thresholds, risk deltas) belongs
// in the services. Every counter mutation is a single atomic statement so
// concurrent requests for the same identity cannot interleave a
// read-check-write.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"fitgate/internal/guest/models"
	"fitgate/pkg/platform/sentinel"
)

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Schema is the table this store owns. Applied by deploy tooling and the
// integration-test harness.
const Schema = `
CREATE TABLE IF NOT EXISTS identity_records (
    identity_key        TEXT PRIMARY KEY,
    fingerprint         TEXT NOT NULL DEFAULT '',
    used_count          INTEGER NOT NULL DEFAULT 0 CHECK (used_count >= 0),
    usage_limit         INTEGER NOT NULL,
    daily_request_count INTEGER NOT NULL DEFAULT 0,
    daily_window_start  TIMESTAMPTZ NOT NULL DEFAULT now(),
    burst_request_count INTEGER NOT NULL DEFAULT 0,
    burst_window_start  TIMESTAMPTZ NOT NULL DEFAULT now(),
    risk_score          INTEGER NOT NULL DEFAULT 0,
    inconsistency_count INTEGER NOT NULL DEFAULT 0,
    blocked             BOOLEAN NOT NULL DEFAULT FALSE,
    known_ips           TEXT[] NOT NULL DEFAULT '{}',
    platform            TEXT NOT NULL DEFAULT '',
    app_version         TEXT NOT NULL DEFAULT '',
    last_seen_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
    created_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_identity_records_blocked ON identity_records (blocked) WHERE blocked;
`

// EnsureSchema creates the identity_records table if it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("ensure identity schema: %w", err)
	}
	return nil
}

const recordColumns = `
	identity_key, fingerprint, used_count, usage_limit,
	daily_request_count, daily_window_start,
	burst_request_count, burst_window_start,
	risk_score, inconsistency_count, blocked,
	known_ips, platform, app_version, last_seen_at, created_at`

func (s *Store) Upsert(ctx context.Context, key string, defaults models.UpsertDefaults) (*models.IdentityRecord, error) {
	// Native upsert: concurrent first requests for a brand-new identity race
	// on the primary key, and the loser becomes a touch. The conflict branch
	// only refreshes metadata; created_at and used_count survive untouched.
	// known_ips keeps the most recent distinct addresses, newest last.
	query := `
		INSERT INTO identity_records (identity_key, fingerprint, usage_limit, known_ips, platform, app_version)
		VALUES ($1, $2, $3, CASE WHEN $4 = '' THEN '{}'::text[] ELSE ARRAY[$4] END, $5, $6)
		ON CONFLICT (identity_key) DO UPDATE SET
			last_seen_at = now(),
			platform     = COALESCE(NULLIF($5, ''), identity_records.platform),
			app_version  = COALESCE(NULLIF($6, ''), identity_records.app_version),
			known_ips    = CASE
				WHEN $4 = '' THEN identity_records.known_ips
				ELSE (array_remove(identity_records.known_ips, $4) || $4)
					[GREATEST(1, cardinality(array_remove(identity_records.known_ips, $4)) + 2 - $7):]
			END
		RETURNING` + recordColumns
	rec, err := scanRecord(s.db.QueryRowContext(ctx, query,
		key, defaults.Fingerprint, defaults.UsageLimit,
		defaults.ClientIP, defaults.Platform, defaults.AppVersion, defaults.KnownIPCap,
	))
	if err != nil {
		return nil, fmt.Errorf("upsert identity record: %w", err)
	}
	return rec, nil
}

func (s *Store) Get(ctx context.Context, key string) (*models.IdentityRecord, error) {
	query := `SELECT` + recordColumns + ` FROM identity_records WHERE identity_key = $1`
	rec, err := scanRecord(s.db.QueryRowContext(ctx, query, key))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get identity record: %w", err)
	}
	return rec, nil
}

// TryReserveUsage is the one place quota correctness lives: a conditional
// atomic increment. Two concurrent requests at used_count = limit-1 contend on
// the row lock and only one matches the WHERE clause.
func (s *Store) TryReserveUsage(ctx context.Context, key string, limit int) (*models.IdentityRecord, error) {
	query := `
		UPDATE identity_records
		SET used_count = used_count + 1
		WHERE identity_key = $1 AND used_count < $2
		RETURNING` + recordColumns
	rec, err := scanRecord(s.db.QueryRowContext(ctx, query, key, limit))
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("reserve usage: %w", err)
	}

	// No row matched: either the identity is unknown or the quota is full.
	var exists bool
	if err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM identity_records WHERE identity_key = $1)`, key,
	).Scan(&exists); err != nil {
		return nil, fmt.Errorf("reserve usage existence check: %w", err)
	}
	if !exists {
		return nil, sentinel.ErrNotFound
	}
	return nil, sentinel.ErrLimitReached
}

func (s *Store) ReleaseUsage(ctx context.Context, key string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE identity_records
		SET used_count = GREATEST(used_count - 1, 0)
		WHERE identity_key = $1`, key)
	if err != nil {
		return fmt.Errorf("release usage: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *Store) BumpDaily(ctx context.Context, key string, window time.Duration) (int, error) {
	return s.bumpWindow(ctx, key, window, "daily_request_count", "daily_window_start")
}

func (s *Store) BumpBurst(ctx context.Context, key string, window time.Duration) (int, error) {
	return s.bumpWindow(ctx, key, window, "burst_request_count", "burst_window_start")
}

// bumpWindow applies the lazy reset-then-increment in one statement: a stale
// window restarts at 1, a live window increments. Column names come from the
// two callers above, never from input.
func (s *Store) bumpWindow(ctx context.Context, key string, window time.Duration, countCol, startCol string) (int, error) {
	query := fmt.Sprintf(`
		UPDATE identity_records
		SET %[1]s = CASE WHEN now() - %[2]s >= make_interval(secs => $2) THEN 1 ELSE %[1]s + 1 END,
		    %[2]s = CASE WHEN now() - %[2]s >= make_interval(secs => $2) THEN now() ELSE %[2]s END
		WHERE identity_key = $1
		RETURNING %[1]s`, countCol, startCol)

	var count int
	err := s.db.QueryRowContext(ctx, query, key, window.Seconds()).Scan(&count)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, sentinel.ErrNotFound
		}
		return 0, fmt.Errorf("bump %s: %w", countCol, err)
	}
	return count, nil
}

// AddRisk is a commutative increment so concurrent signals for the same
// identity can interleave in any order. No clamp at write time.
func (s *Store) AddRisk(ctx context.Context, key string, delta int, inconsistency bool) (*models.IdentityRecord, error) {
	inc := 0
	if inconsistency {
		inc = 1
	}
	query := `
		UPDATE identity_records
		SET risk_score = risk_score + $2,
		    inconsistency_count = inconsistency_count + $3
		WHERE identity_key = $1
		RETURNING` + recordColumns
	rec, err := scanRecord(s.db.QueryRowContext(ctx, query, key, delta, inc))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("add risk: %w", err)
	}
	return rec, nil
}

func (s *Store) SetBlocked(ctx context.Context, key string, blocked bool) error {
	return s.exec(ctx, `UPDATE identity_records SET blocked = $2 WHERE identity_key = $1`, key, blocked)
}

func (s *Store) ResetUsage(ctx context.Context, key string) error {
	return s.exec(ctx, `UPDATE identity_records SET used_count = 0 WHERE identity_key = $1`, key)
}

func (s *Store) ResetRisk(ctx context.Context, key string) error {
	return s.exec(ctx, `
		UPDATE identity_records
		SET risk_score = 0, inconsistency_count = 0, blocked = FALSE
		WHERE identity_key = $1`, key)
}

func (s *Store) SweepBurst(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE identity_records SET burst_request_count = 0 WHERE burst_request_count <> 0`)
	if err != nil {
		return 0, fmt.Errorf("sweep burst counters: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sweep burst counters: %w", err)
	}
	return int(n), nil
}

func (s *Store) exec(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update identity record: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func scanRecord(row *sql.Row) (*models.IdentityRecord, error) {
	var rec models.IdentityRecord
	err := row.Scan(
		&rec.IdentityKey, &rec.Fingerprint, &rec.UsedCount, &rec.UsageLimit,
		&rec.DailyRequestCount, &rec.DailyWindowStart,
		&rec.BurstRequestCount, &rec.BurstWindowStart,
		&rec.RiskScore, &rec.InconsistencyCount, &rec.Blocked,
		pq.Array(&rec.KnownIPs), &rec.Platform, &rec.AppVersion,
		&rec.LastSeenAt, &rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}
