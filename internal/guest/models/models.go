// Package models defines the guest identity domain: evidence extracted from a
// request, the resolved identity, and the durable per-identity record.
package models

import (
	"time"
)

// Evidence is the tagged union produced by the evidence extractor. Exactly one
// concrete type comes out of classification; the resolver applies precedence.
type Evidence interface {
	isEvidence()
}

// BearerToken carries an Authorization bearer token, untrusted until validated.
type BearerToken struct {
	Token string
}

// DeviceEvidence carries the device id and fingerprint headers plus optional
// device metadata. Nothing here is trusted yet.
type DeviceEvidence struct {
	DeviceID    string
	Fingerprint string
	Platform    string
	DeviceName  string
	AppVersion  string
	OSVersion   string
	// Warning is set when the client itself reports fingerprint inconsistency
	// via X-Device-Warning. It feeds the risk engine, never identity.
	Warning bool
}

// LegacySessionEvidence carries a legacy guest-session id from a cookie or one
// of the historical header variants. Minted is true when no evidence was
// present and a fresh session id was generated.
type LegacySessionEvidence struct {
	SessionID string
	Minted    bool
}

func (BearerToken) isEvidence()           {}
func (DeviceEvidence) isEvidence()        {}
func (LegacySessionEvidence) isEvidence() {}

// IdentityKind distinguishes the three resolvable identity classes.
type IdentityKind string

const (
	KindAuthenticated IdentityKind = "authenticated"
	KindDevice        IdentityKind = "device"
	KindLegacySession IdentityKind = "legacy_session"
)

// Identity is the single immutable value passed down the call chain once
// resolution succeeds. Handlers and services never re-derive identity from
// the request.
type Identity struct {
	Kind        IdentityKind
	Key         string
	UserID      string // authenticated identities only
	Fingerprint string
	ClientIP    string
	Warning     bool
}

// IsGuest reports whether the identity is subject to guest quotas.
func (i Identity) IsGuest() bool {
	return i.Kind != KindAuthenticated
}

// IdentityRecord is the durable per-identity row. The record is a result of
// the store's atomic primitives, never a lock: usedCount <= usageLimit holds
// only because TryReserveUsage is a single conditional update.
type IdentityRecord struct {
	IdentityKey        string    `json:"identity_key"`
	Fingerprint        string    `json:"fingerprint"`
	UsedCount          int       `json:"used_count"`
	UsageLimit         int       `json:"usage_limit"`
	DailyRequestCount  int       `json:"daily_request_count"`
	DailyWindowStart   time.Time `json:"daily_window_start"`
	BurstRequestCount  int       `json:"burst_request_count"`
	BurstWindowStart   time.Time `json:"burst_window_start"`
	RiskScore          int       `json:"risk_score"`
	InconsistencyCount int       `json:"inconsistency_count"`
	Blocked            bool      `json:"blocked"`
	KnownIPs           []string  `json:"known_ips"`
	Platform           string    `json:"platform,omitempty"`
	AppVersion         string    `json:"app_version,omitempty"`
	LastSeenAt         time.Time `json:"last_seen_at"`
	CreatedAt          time.Time `json:"created_at"`
}

// Remaining reports how many quota units the record has left.
func (r *IdentityRecord) Remaining() int {
	if left := r.UsageLimit - r.UsedCount; left > 0 {
		return left
	}
	return 0
}

// UpsertDefaults seeds a record on first sight and refreshes contextual
// metadata on every later request. createdAt and usedCount are never touched
// on conflict.
type UpsertDefaults struct {
	Fingerprint string
	UsageLimit  int
	ClientIP    string
	Platform    string
	AppVersion  string
	KnownIPCap  int
}

// DenyCode is the machine-readable reason attached to every denial so clients
// can distinguish "upgrade", "slow down", and "blocked" prompts.
type DenyCode string

const (
	CodeInvalidDeviceID    DenyCode = "INVALID_DEVICE_ID"
	CodeMissingDeviceID    DenyCode = "MISSING_DEVICE_ID"
	CodeDeviceBlocked      DenyCode = "DEVICE_BLOCKED"
	CodeHighRiskDevice     DenyCode = "HIGH_RISK_DEVICE"
	CodeDailyLimitExceeded DenyCode = "DAILY_LIMIT_EXCEEDED"
	CodeRateLimitExceeded  DenyCode = "RATE_LIMIT_EXCEEDED"
	CodeLimitReached       DenyCode = "LIMIT_REACHED"
	CodeInvalidSession     DenyCode = "INVALID_SESSION"
)
