// Package repository implements the seat inventory store: the single place
// where competing claims on a seat are resolved.  Errors defined here let
// the service layer distinguish a rejected compare-and-swap from a record
// in the wrong state or an infrastructure fault.
package repository

import (
	"errors"
	"strings"
)

// ErrConflict is matched by every *ConflictError so callers that only care
// about the category can use errors.Is.
var ErrConflict = errors.New("conflict")

// ErrNotFound is returned by lookups when the record does not exist.
var ErrNotFound = errors.New("not found")

// ErrPreconditionFailed is returned by Apply when a lock or booking
// transition finds its record missing or in a different status than the
// batch expected.  Callers treat it as "someone else won" and re-read.
var ErrPreconditionFailed = errors.New("precondition failed")

// ErrDuplicateIdempotencyKey is returned by Apply when a booking insert
// collides with an existing idempotency key.  It never reaches clients;
// the orchestrator resolves it by reading the winner.
var ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

// ErrStoreUnavailable classifies transient infrastructure faults (lost
// connections, deadlocks, lock wait timeouts).  The batch was not applied
// and may be retried.
var ErrStoreUnavailable = errors.New("store unavailable")

// ErrValueTooLong is returned when a value does not fit its column.
var ErrValueTooLong = errors.New("value too long")

// ConflictError reports that one or more seats of a batch did not match
// their expected state.  No seat of the batch was changed.
type ConflictError struct {
	SeatIDs []string
}

func (e *ConflictError) Error() string {
	return "seats unavailable: " + strings.Join(e.SeatIDs, ",")
}

// Is makes errors.Is(err, ErrConflict) hold for conflict errors.
func (e *ConflictError) Is(target error) bool { return target == ErrConflict }
