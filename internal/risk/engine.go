// Package risk accumulates abuse signals into a per-identity score and owns
// the block decision. Scores only go up; the sole sanctioned decrease is the
// admin reset on the store.
package risk

import (
	"context"
	"log/slog"

	"fitgate/internal/guest/models"
	"fitgate/internal/guest/store"
	dErrors "fitgate/pkg/domainerrors"
)

// Signal weights. Tuned against observed guest abuse; changing them shifts
// how fast an identity reaches the block threshold.
const (
	ipChurnThreshold = 5
	ipChurnDelta     = 15

	warningDelta             = 10
	inconsistencyStreak      = 3
	inconsistencyStreakDelta = 20

	burstSignalDelta = 5
)

type Engine struct {
	store             store.Store
	logger            *slog.Logger
	highRiskThreshold int
	burstSignal       int
}

type Option func(*Engine)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

func New(st store.Store, highRiskThreshold, burstSignal int, opts ...Option) (*Engine, error) {
	if st == nil {
		return nil, dErrors.New(dErrors.CodeInternal, "identity store is required")
	}

	e := &Engine{
		store:             st,
		logger:            slog.Default(),
		highRiskThreshold: highRiskThreshold,
		burstSignal:       burstSignal,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Observe evaluates this request's signals against the identity's current
// record and applies the resulting delta as one commutative increment. The
// returned record reflects the post-increment state. When no signal fires the
// record is returned unchanged without a write.
func (e *Engine) Observe(ctx context.Context, key string, warning bool) (*models.IdentityRecord, error) {
	rec, err := e.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	delta := e.delta(rec, warning)
	if delta == 0 && !warning {
		return rec, nil
	}

	updated, err := e.store.AddRisk(ctx, key, delta, warning)
	if err != nil {
		return nil, err
	}

	if e.Blocked(updated) && !e.Blocked(rec) {
		e.logger.WarnContext(ctx, "identity crossed risk threshold",
			"identity_key", key,
			"risk_score", updated.RiskScore,
			"inconsistency_count", updated.InconsistencyCount,
		)
	}
	return updated, nil
}

// Blocked is the read-side decision. The score itself is never clamped, so
// "just over" and "far over" the threshold stay distinguishable to operators.
func (e *Engine) Blocked(rec *models.IdentityRecord) bool {
	return rec.Blocked || rec.RiskScore >= e.highRiskThreshold
}

func (e *Engine) delta(rec *models.IdentityRecord, warning bool) int {
	delta := 0
	if len(rec.KnownIPs) > ipChurnThreshold {
		delta += ipChurnDelta
	}
	if warning {
		delta += warningDelta
		// The streak bonus keys off the count this warning will produce.
		if rec.InconsistencyCount+1 > inconsistencyStreak {
			delta += inconsistencyStreakDelta
		}
	}
	if rec.BurstRequestCount > e.burstSignal {
		delta += burstSignalDelta
	}
	return delta
}
