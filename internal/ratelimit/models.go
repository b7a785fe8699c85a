// Package ratelimit throttles raw request volume per client IP, ahead of
// identity resolution. It protects the resolver and the identity store from
// floods; the per-identity daily and burst windows are enforced later by
// admission.
package ratelimit

import "time"

// Result is one limiter verdict. Remaining and ResetAt feed the response
// headers so well-behaved clients can pace themselves.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}
