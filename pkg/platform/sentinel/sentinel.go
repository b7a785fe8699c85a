package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores return these (optionally
// wrapped) so services can translate them into domain errors.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: record does not exist in the store
// - ErrLimitReached: a conditional counter update did not match (quota full)
// - ErrConflict: concurrent mutation conflict
// - ErrUnavailable: store or resource temporarily unavailable
//
// For validation errors (bad input, missing evidence), use pkg/domainerrors.
var (
	ErrNotFound     = errors.New("not found")
	ErrLimitReached = errors.New("limit reached")
	ErrConflict     = errors.New("conflict")
	ErrUnavailable  = errors.New("unavailable")
)
