// Package service holds the seat-claiming state machine: the inventory
// facade, the lock manager, the booking orchestrator and the expiry
// sweeper.  Handlers translate the errors below into HTTP responses.
package service

import (
	"errors"
	"strings"
)

var (
	// ErrNotFound is returned when a booking or event does not exist.
	ErrNotFound = errors.New("not found")
	// ErrForbidden is returned when the caller does not own the lock or
	// booking it is acting on.
	ErrForbidden = errors.New("forbidden")

	ErrLockNotFound = errors.New("lock not found")
	ErrLockExpired  = errors.New("lock expired")
	// ErrLockMismatch means the requested seats differ from the lock's.
	ErrLockMismatch = errors.New("seats do not match the lock")
	// ErrLockConsumed means the lock already produced a booking.
	ErrLockConsumed = errors.New("lock already consumed")

	// ErrSeatLimitExceeded enforces the per-holder seat cap.
	ErrSeatLimitExceeded = errors.New("seat limit exceeded")

	ErrInvalidBookingState  = errors.New("booking state does not allow this operation")
	ErrPaymentRefMismatch   = errors.New("booking confirmed with a different payment reference")
	ErrIdempotencyKeyReused = errors.New("idempotency key already used by another holder")
	// ErrConcurrentUpdate is returned when a record kept changing under
	// repeated attempts.
	ErrConcurrentUpdate = errors.New("concurrent update, retry")

	ErrPaymentUnavailable = errors.New("payment provider unavailable")
)

// ValidationError reports malformed input.  SeatIDs names the offending
// seats when the problem is seat specific.
type ValidationError struct {
	Msg     string
	SeatIDs []string
}

func (e *ValidationError) Error() string {
	if len(e.SeatIDs) == 0 {
		return e.Msg
	}
	return e.Msg + ": " + strings.Join(e.SeatIDs, ",")
}
