// Package admission decides, per request, whether an identity may consume
// one unit of review quota, and keeps the counters honest when the protected
// operation fails. All counter coordination lives in the store's atomic
// primitives; this service never holds a lock across a suspension point.
package admission

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"fitgate/internal/admission/metrics"
	"fitgate/internal/audit"
	"fitgate/internal/guest/models"
	"fitgate/internal/guest/store"
	"fitgate/internal/platform/config"
	"fitgate/internal/risk"
	dErrors "fitgate/pkg/domainerrors"
	"fitgate/pkg/platform/sentinel"
)

// releaseAttempts bounds the compensation retries when a reservation must be
// handed back. After the last attempt the discrepancy goes to the audit
// stream for offline reconciliation.
const (
	releaseAttempts = 3
	releaseBackoff  = 50 * time.Millisecond
)

// Result is a terminal admission decision. Denials are values, not errors;
// errors mean the decision itself could not be made.
type Result struct {
	Admitted bool
	Code     models.DenyCode

	// Quota context, populated for usage-limit denials and admissions so the
	// response can tell the client where they stand.
	Limit     int
	Used      int
	Remaining int
}

func admitted(rec *models.IdentityRecord) *Result {
	r := &Result{Admitted: true}
	if rec != nil {
		r.Limit = rec.UsageLimit
		r.Used = rec.UsedCount
		r.Remaining = rec.Remaining()
	}
	return r
}

func denied(code models.DenyCode) *Result {
	return &Result{Code: code}
}

type Service struct {
	store   store.Store
	engine  *risk.Engine
	policy  config.Admission
	logger  *slog.Logger
	metrics *metrics.Metrics
	auditor *audit.Publisher
	tracer  trace.Tracer
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithAuditPublisher(p *audit.Publisher) Option {
	return func(s *Service) {
		s.auditor = p
	}
}

func New(st store.Store, engine *risk.Engine, policy config.Admission, opts ...Option) (*Service, error) {
	if st == nil {
		return nil, dErrors.New(dErrors.CodeInternal, "identity store is required")
	}
	if engine == nil {
		return nil, dErrors.New(dErrors.CodeInternal, "risk engine is required")
	}

	s := &Service{
		store:  st,
		engine: engine,
		policy: policy,
		logger: slog.Default(),
		tracer: otel.Tracer("fitgate/admission"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Admit runs the full decision chain for one request and, when admitted,
// executes op under the reservation. An op failure or cancellation releases
// the reserved unit so a failed attempt costs the guest nothing.
func (s *Service) Admit(ctx context.Context, identity models.Identity, op func(context.Context) error) (*Result, error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "admission.admit",
		trace.WithAttributes(attribute.String("identity.kind", string(identity.Kind))))
	defer span.End()
	defer s.observeAdmit(start)

	// Authenticated users have no guest quota; run the operation directly.
	if !identity.IsGuest() {
		if err := op(ctx); err != nil {
			return nil, err
		}
		return &Result{Admitted: true}, nil
	}

	result, rec, err := s.check(ctx, identity)
	if err != nil {
		return nil, err
	}
	if result != nil {
		s.deny(ctx, identity.Key, result)
		return result, nil
	}

	if err := op(ctx); err != nil {
		s.release(ctx, identity.Key)
		return nil, err
	}

	s.incrementAdmitted()
	return admitted(rec), nil
}

// check walks the deny chain in order: risk block, daily window, burst
// window, then the usage reservation. A nil Result with a nil error means
// the reservation is held and op may run.
func (s *Service) check(ctx context.Context, identity models.Identity) (*Result, *models.IdentityRecord, error) {
	rec, err := s.engine.Observe(ctx, identity.Key, identity.Warning)
	if err != nil {
		return nil, nil, s.unavailable(ctx, identity.Key, "risk observation failed", err)
	}
	if rec.Blocked {
		return denied(models.CodeDeviceBlocked), nil, nil
	}
	if s.engine.Blocked(rec) {
		return denied(models.CodeHighRiskDevice), nil, nil
	}

	daily, err := s.store.BumpDaily(ctx, identity.Key, s.policy.DailyWindow)
	if err != nil {
		return nil, nil, s.unavailable(ctx, identity.Key, "daily counter bump failed", err)
	}
	if daily > s.policy.DailyRequestLimit {
		return denied(models.CodeDailyLimitExceeded), nil, nil
	}

	burst, err := s.store.BumpBurst(ctx, identity.Key, s.policy.BurstWindow)
	if err != nil {
		return nil, nil, s.unavailable(ctx, identity.Key, "burst counter bump failed", err)
	}
	if burst > s.policy.BurstRequestLimit {
		return denied(models.CodeRateLimitExceeded), nil, nil
	}

	// The record's own limit wins; the policy default only covers records
	// created before limits were persisted.
	limit := rec.UsageLimit
	if limit <= 0 {
		limit = s.policy.GuestUsageLimit
	}

	reserveCtx, span := s.tracer.Start(ctx, "admission.reserve")
	rec, err = s.store.TryReserveUsage(reserveCtx, identity.Key, limit)
	span.End()
	switch {
	case errors.Is(err, sentinel.ErrLimitReached):
		current, getErr := s.store.Get(ctx, identity.Key)
		result := denied(models.CodeLimitReached)
		result.Limit = limit
		result.Used = limit
		if getErr == nil {
			result.Limit = current.UsageLimit
			result.Used = current.UsedCount
		}
		return result, nil, nil
	case err != nil:
		return nil, nil, s.unavailable(ctx, identity.Key, "usage reservation failed", err)
	}

	return nil, rec, nil
}

// release compensates a reservation whose operation failed. Cancellation of
// the request must not leak the unit, so retries run on a context detached
// from the caller's.
func (s *Service) release(ctx context.Context, key string) {
	releaseCtx, span := s.tracer.Start(context.WithoutCancel(ctx), "admission.release",
		trace.WithAttributes(attribute.String("identity.key", key)))
	defer span.End()

	var err error
	for attempt := 1; attempt <= releaseAttempts; attempt++ {
		err = s.store.ReleaseUsage(releaseCtx, key)
		if err == nil {
			return
		}
		if s.metrics != nil {
			s.metrics.ReserveRetries.Inc()
		}
		if attempt < releaseAttempts {
			time.Sleep(releaseBackoff * time.Duration(attempt))
		}
	}

	s.logger.ErrorContext(releaseCtx, "usage release failed, flagging for reconciliation",
		"identity_key", key, "attempts", releaseAttempts, "error", err)
	if s.metrics != nil {
		s.metrics.ReleaseFailed.Inc()
	}
	if s.auditor != nil {
		if auditErr := s.auditor.Emit(releaseCtx, audit.Event{
			IdentityKey: key,
			Action:      audit.ActionUsageReleaseFailed,
			Reason:      "release retries exhausted",
			Detail:      err.Error(),
		}); auditErr != nil {
			s.logger.ErrorContext(releaseCtx, "reconciliation audit emit failed", "identity_key", key, "error", auditErr)
		}
	}
}

func (s *Service) deny(ctx context.Context, key string, result *Result) {
	if s.metrics != nil {
		s.metrics.IncrementDenied(string(result.Code))
	}
	if s.auditor == nil {
		return
	}

	action := audit.ActionAdmissionDeny
	if result.Code == models.CodeDeviceBlocked || result.Code == models.CodeHighRiskDevice {
		action = audit.ActionRiskBlocked
	}
	if err := s.auditor.Emit(ctx, audit.Event{
		IdentityKey: key,
		Action:      action,
		Reason:      string(result.Code),
	}); err != nil {
		s.logger.ErrorContext(ctx, "denial audit emit failed", "identity_key", key, "error", err)
	}
}

// unavailable wraps a store failure for the fail-closed path: no quota
// decision is possible, so the request is refused rather than admitted.
func (s *Service) unavailable(ctx context.Context, key, msg string, err error) error {
	s.logger.ErrorContext(ctx, msg, "identity_key", key, "error", err)
	return dErrors.Wrap(err, dErrors.CodeUnavailable, "admission check unavailable")
}

func (s *Service) incrementAdmitted() {
	if s.metrics != nil {
		s.metrics.IncrementAdmitted()
	}
}

func (s *Service) observeAdmit(start time.Time) {
	if s.metrics != nil {
		s.metrics.ObserveAdmit(start)
	}
}
