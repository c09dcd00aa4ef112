package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/iliyamo/seat-inventory/internal/model"
)

// SeatCAS is a single compare-and-swap on one seat.  The seat must
// currently be in Expected status with ExpectedOwner as owner; it moves to
// Next with NextOwner.  When the expected and next state are identical
// the op is an assertion: it is checked but neither written nor
// versioned.
type SeatCAS struct {
	SeatID        string
	Expected      model.SeatStatus
	ExpectedOwner string
	Next          model.SeatStatus
	NextOwner     string
}

func (op SeatCAS) assertion() bool {
	return op.Expected == op.Next && op.ExpectedOwner == op.NextOwner
}

// LockTransition moves a lock record from one status to another.
type LockTransition struct {
	LockID string
	From   model.LockStatus
	To     model.LockStatus
}

// BookingTransition moves a booking record from one status to another.
// A non-empty PaymentRef is recorded with the transition.
type BookingTransition struct {
	BookingID  string
	From       model.BookingStatus
	To         model.BookingStatus
	PaymentRef string
}

// Batch is one atomic unit of work against the store.  Every seat op,
// record insert and record transition in the batch commits together or
// not at all.
type Batch struct {
	EventID    string
	Seats      []SeatCAS
	NewLock    *model.Lock
	Lock       *LockTransition
	NewBooking *model.Booking
	Booking    *BookingTransition
	// At stamps UpdatedAt on every written seat and record.
	At time.Time
}

func (b Batch) validate() error {
	if len(b.Seats) > 0 && b.EventID == "" {
		return errors.New("batch: event id is required for seat ops")
	}
	seen := make(map[string]struct{}, len(b.Seats))
	for _, op := range b.Seats {
		if op.SeatID == "" {
			return errors.New("batch: empty seat id")
		}
		if _, dup := seen[op.SeatID]; dup {
			return fmt.Errorf("batch: seat %s appears twice", op.SeatID)
		}
		seen[op.SeatID] = struct{}{}
		if !op.Expected.Valid() || !op.Next.Valid() {
			return fmt.Errorf("batch: invalid status for seat %s", op.SeatID)
		}
	}
	if b.NewLock != nil && b.Lock != nil {
		return errors.New("batch: cannot insert and transition a lock together")
	}
	if b.NewBooking != nil && b.Booking != nil {
		return errors.New("batch: cannot insert and transition a booking together")
	}
	return nil
}

// Store is the seat inventory store.  Apply is the only mutation path for
// seat status; the read methods never take write locks.
type Store interface {
	// Apply commits the batch atomically and returns the post-state of
	// every seat it wrote, in batch order.  It fails with *ConflictError
	// (naming the mismatching seats), ErrPreconditionFailed,
	// ErrDuplicateIdempotencyKey or ErrStoreUnavailable, leaving all state
	// untouched.
	Apply(ctx context.Context, b Batch) ([]model.Seat, error)

	// Seats returns the requested seats of an event that exist, in request
	// order.  Unknown ids are omitted.
	Seats(ctx context.Context, eventID string, seatIDs []string) ([]model.Seat, error)
	// EventSeats returns every seat of the event.
	EventSeats(ctx context.Context, eventID string) ([]model.Seat, error)
	// PutSeats inserts seats that do not exist yet and leaves existing
	// ones untouched.
	PutSeats(ctx context.Context, seats []model.Seat) error

	Lock(ctx context.Context, lockID string) (*model.Lock, error)
	// HolderLocks returns the holder's most recent locks for the event,
	// newest first.
	HolderLocks(ctx context.Context, eventID, holderID string, limit int) ([]model.Lock, error)
	// HeldSeatCount counts the seats of the holder's ACTIVE locks for the
	// event that expire after now.
	HeldSeatCount(ctx context.Context, eventID, holderID string, now time.Time) (int, error)
	// ExpiredLocks returns ACTIVE locks whose expiry is at or before now,
	// oldest expiry first.
	ExpiredLocks(ctx context.Context, now time.Time, limit int) ([]model.Lock, error)

	Booking(ctx context.Context, bookingID string) (*model.Booking, error)
	BookingByKey(ctx context.Context, idempotencyKey string) (*model.Booking, error)
	BookingsByHolder(ctx context.Context, holderID string, limit int) ([]model.Booking, error)
	// ExpiredBookings returns PENDING bookings whose payment deadline is
	// at or before now, oldest first.
	ExpiredBookings(ctx context.Context, now time.Time, limit int) ([]model.Booking, error)
}
