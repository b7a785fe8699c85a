package audit

import "time"

// Event records an admission decision or a reconciliation item. Events are
// append-only; the reconciliation actions are consumed by an external job
// that repairs counters this service could not fix inline.
type Event struct {
	ID          string    `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	IdentityKey string    `json:"identity_key"`
	Action      Action    `json:"action"`
	Reason      string    `json:"reason,omitempty"`
	Detail      string    `json:"detail,omitempty"`
}

type Action string

const (
	// Security events.
	ActionRiskBlocked   Action = "risk_blocked"
	ActionAdmissionDeny Action = "admission_deny"

	// Admin actions.
	ActionUsageReset  Action = "usage_reset"
	ActionRiskReset   Action = "risk_reset"
	ActionDeviceBlock Action = "device_block"

	// Reconciliation items. A release that failed all retries leaves the
	// identity overcharged by one; the repair job keys off this action.
	ActionUsageReleaseFailed Action = "usage_release_failed"
)
