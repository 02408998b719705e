// Package apperr defines the sentinel errors shared across nudge packages.
package apperr

import "errors"

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")

	// ErrInvalidTrigger reports a reminder built without exactly one valid trigger.
	ErrInvalidTrigger = errors.New("invalid trigger")

	// ErrPersistenceWrite wraps any failure to replace the persisted collection.
	ErrPersistenceWrite = errors.New("persistence write failed")

	// ErrPersistenceRead is only surfaced by strict loads; LoadAll treats it as empty state.
	ErrPersistenceRead = errors.New("persistence read failed")

	// ErrDelivery wraps arm failures reported by a delivery service. Never fatal.
	ErrDelivery = errors.New("delivery failed")
)
