// Package resolver turns extracted evidence into exactly one identity.
// It replaces the three historical tracking paths (cookie session, device
// header, unified) with a single precedence list: bearer token, then device
// evidence, then legacy session.
package resolver

import (
	"context"
	"log/slog"
	"regexp"

	"fitgate/internal/guest/models"
	"fitgate/internal/guest/store"
	dErrors "fitgate/pkg/domainerrors"
	"fitgate/pkg/platform/middleware/metadata"
)

// Terminal resolution errors. Retrying a malformed header will not help, so
// these are returned immediately and mapped straight to responses.
var (
	ErrUnauthenticated  = dErrors.New(dErrors.CodeUnauthorized, "invalid or expired token")
	ErrInvalidDeviceID  = dErrors.New(dErrors.CodeBadRequest, "malformed device id")
	ErrMissingDeviceID  = dErrors.New(dErrors.CodeBadRequest, "device id is required")
	ErrInvalidSession   = dErrors.New(dErrors.CodeBadRequest, "invalid session id")
	ErrStoreUnavailable = dErrors.New(dErrors.CodeUnavailable, "identity store unavailable")
)

// deviceIDPattern is the strict device id format: fixed prefix plus exactly
// 32 lowercase hex characters. A cheap defense against header-injection abuse.
// Legacy session ids are deliberately unconstrained for old clients.
var deviceIDPattern = regexp.MustCompile(`^dev_[0-9a-f]{32}$`)

// TokenValidator is the authentication collaborator. This package only
// consumes the capability; token issuance and claim semantics live elsewhere.
type TokenValidator interface {
	Validate(ctx context.Context, token string) (userID string, err error)
}

type Resolver struct {
	store      store.Store
	tokens     TokenValidator
	logger     *slog.Logger
	usageLimit int
	knownIPCap int
}

type Option func(*Resolver)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) {
		r.logger = logger
	}
}

func New(st store.Store, tokens TokenValidator, usageLimit, knownIPCap int, opts ...Option) (*Resolver, error) {
	if st == nil {
		return nil, dErrors.New(dErrors.CodeInternal, "identity store is required")
	}
	if tokens == nil {
		return nil, dErrors.New(dErrors.CodeInternal, "token validator is required")
	}

	r := &Resolver{
		store:      st,
		tokens:     tokens,
		logger:     slog.Default(),
		usageLimit: usageLimit,
		knownIPCap: knownIPCap,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Resolve applies the precedence rules and, for guest identities, guarantees
// the record exists before downstream steps run. There is deliberately no
// separate "exists" check: creation goes through the store's atomic upsert so
// concurrent first requests cannot create divergent records.
func (r *Resolver) Resolve(ctx context.Context, ev models.Evidence) (models.Identity, error) {
	switch e := ev.(type) {
	case models.BearerToken:
		return r.resolveBearer(ctx, e)
	case models.DeviceEvidence:
		return r.resolveDevice(ctx, e)
	case models.LegacySessionEvidence:
		return r.resolveLegacy(ctx, e)
	default:
		return models.Identity{}, ErrInvalidSession
	}
}

func (r *Resolver) resolveBearer(ctx context.Context, e models.BearerToken) (models.Identity, error) {
	userID, err := r.tokens.Validate(ctx, e.Token)
	if err != nil {
		r.logger.WarnContext(ctx, "bearer token rejected", "error", err)
		return models.Identity{}, ErrUnauthenticated
	}
	return models.Identity{
		Kind:     models.KindAuthenticated,
		Key:      userID,
		UserID:   userID,
		ClientIP: metadata.GetClientIP(ctx),
	}, nil
}

func (r *Resolver) resolveDevice(ctx context.Context, e models.DeviceEvidence) (models.Identity, error) {
	if e.DeviceID == "" {
		return models.Identity{}, ErrMissingDeviceID
	}
	if !deviceIDPattern.MatchString(e.DeviceID) {
		return models.Identity{}, ErrInvalidDeviceID
	}

	identity := models.Identity{
		Kind:        models.KindDevice,
		Key:         e.DeviceID,
		Fingerprint: e.Fingerprint,
		ClientIP:    metadata.GetClientIP(ctx),
		Warning:     e.Warning,
	}
	if err := r.ensure(ctx, identity.Key, models.UpsertDefaults{
		Fingerprint: e.Fingerprint,
		UsageLimit:  r.usageLimit,
		ClientIP:    identity.ClientIP,
		Platform:    e.Platform,
		AppVersion:  e.AppVersion,
		KnownIPCap:  r.knownIPCap,
	}); err != nil {
		return models.Identity{}, err
	}
	return identity, nil
}

func (r *Resolver) resolveLegacy(ctx context.Context, e models.LegacySessionEvidence) (models.Identity, error) {
	if e.SessionID == "" {
		return models.Identity{}, ErrInvalidSession
	}

	identity := models.Identity{
		Kind:     models.KindLegacySession,
		Key:      e.SessionID,
		ClientIP: metadata.GetClientIP(ctx),
	}
	if err := r.ensure(ctx, identity.Key, models.UpsertDefaults{
		UsageLimit: r.usageLimit,
		ClientIP:   identity.ClientIP,
		KnownIPCap: r.knownIPCap,
	}); err != nil {
		return models.Identity{}, err
	}
	return identity, nil
}

// ensure fails closed: without a record no quota decision can be made, so a
// store failure here denies the request rather than silently admitting it.
func (r *Resolver) ensure(ctx context.Context, key string, defaults models.UpsertDefaults) error {
	if _, err := r.store.Upsert(ctx, key, defaults); err != nil {
		r.logger.ErrorContext(ctx, "identity upsert failed", "identity_key", key, "error", err)
		return ErrStoreUnavailable
	}
	return nil
}
