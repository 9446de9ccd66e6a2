package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores return these (optionally
// wrapped) so services can translate them into domain errors.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: record does not exist in the store
// - ErrConflict: a uniqueness or concurrent-create constraint fired
// - ErrGone: record existed and was deleted (tombstoned)
// - ErrInsufficient: a quantity adjustment would overrun the pool
// - ErrInvalidState: record in wrong state for the requested operation
//
// For validation errors use pkg/domain-errors directly.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrGone         = errors.New("gone")
	ErrInsufficient = errors.New("insufficient quantity")
	ErrInvalidState = errors.New("invalid state")
)
