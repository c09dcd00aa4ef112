package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/iliyamo/seat-inventory/internal/model"
)

const (
	mysqlLockWaitTimeout = 1205
	mysqlDeadlock        = 1213
	mysqlDataTooLong     = 1406
)

// MySQLStore is the durable Store.  Each Batch runs in one InnoDB
// transaction: the batch's seat rows are locked with SELECT ... FOR
// UPDATE, record transitions are applied, seat expectations are checked,
// and every write commits together.  Row locks make contention
// seat-scoped; no event-wide lock is taken.
type MySQLStore struct {
	db       *sql.DB
	seats    *SeatRepo
	locks    *LockRepo
	bookings *BookingRepo
}

// NewMySQLStore wires the per-table repos over one connection pool.
func NewMySQLStore(db *sql.DB) *MySQLStore {
	return &MySQLStore{
		db:       db,
		seats:    NewSeatRepo(db),
		locks:    NewLockRepo(db),
		bookings: NewBookingRepo(db),
	}
}

// DB exposes the pool for callers that need health checks.
func (s *MySQLStore) DB() *sql.DB { return s.db }

func (s *MySQLStore) Apply(ctx context.Context, b Batch) ([]model.Seat, error) {
	if err := b.validate(); err != nil {
		return nil, err
	}
	at := b.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	at = at.UTC().Truncate(time.Microsecond)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, classify(err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	ids := make([]string, 0, len(b.Seats))
	for _, op := range b.Seats {
		ids = append(ids, op.SeatID)
	}
	current, err := s.seats.LockForUpdateTx(ctx, tx, b.EventID, ids)
	if err != nil {
		return nil, classify(err)
	}

	if b.Lock != nil {
		if err := s.locks.TransitionTx(ctx, tx, *b.Lock, at); err != nil {
			return nil, classify(err)
		}
	}
	if b.Booking != nil {
		if err := s.bookings.TransitionTx(ctx, tx, *b.Booking, at); err != nil {
			return nil, classify(err)
		}
	}
	if b.NewLock != nil {
		if err := s.locks.CreateTx(ctx, tx, b.NewLock); err != nil {
			return nil, classify(err)
		}
	}
	if b.NewBooking != nil {
		if err := s.bookings.CreateTx(ctx, tx, b.NewBooking); err != nil {
			return nil, classify(err)
		}
	}

	var conflicts []string
	for _, op := range b.Seats {
		cur, ok := current[op.SeatID]
		if !ok || cur.Status != op.Expected || cur.OwnerRef != op.ExpectedOwner {
			conflicts = append(conflicts, op.SeatID)
		}
	}
	if len(conflicts) > 0 {
		return nil, &ConflictError{SeatIDs: conflicts}
	}

	written := make([]model.Seat, 0, len(b.Seats))
	for _, op := range b.Seats {
		if op.assertion() {
			continue
		}
		cur := current[op.SeatID]
		ok, err := s.seats.UpdateTx(ctx, tx, b.EventID, op, cur.Version, at)
		if err != nil {
			return nil, classify(err)
		}
		if !ok {
			// The row is locked by this transaction, so a miss means the
			// read above is stale; reject the whole batch.
			return nil, &ConflictError{SeatIDs: []string{op.SeatID}}
		}
		cur.Status = op.Next
		cur.OwnerRef = op.NextOwner
		cur.Version++
		cur.UpdatedAt = at
		written = append(written, cur)
	}

	if err := tx.Commit(); err != nil {
		return nil, classify(err)
	}
	committed = true
	return written, nil
}

func (s *MySQLStore) Seats(ctx context.Context, eventID string, seatIDs []string) ([]model.Seat, error) {
	seats, err := s.seats.GetMany(ctx, eventID, seatIDs)
	return seats, classify(err)
}

func (s *MySQLStore) EventSeats(ctx context.Context, eventID string) ([]model.Seat, error) {
	seats, err := s.seats.ListByEvent(ctx, eventID)
	return seats, classify(err)
}

func (s *MySQLStore) PutSeats(ctx context.Context, seats []model.Seat) error {
	return classify(s.seats.CreateBulk(ctx, seats))
}

func (s *MySQLStore) Lock(ctx context.Context, lockID string) (*model.Lock, error) {
	l, err := s.locks.GetByID(ctx, lockID)
	return l, classify(err)
}

func (s *MySQLStore) HolderLocks(ctx context.Context, eventID, holderID string, limit int) ([]model.Lock, error) {
	locks, err := s.locks.ListByHolder(ctx, eventID, holderID, limit)
	return locks, classify(err)
}

func (s *MySQLStore) HeldSeatCount(ctx context.Context, eventID, holderID string, now time.Time) (int, error) {
	n, err := s.locks.CountHeldSeats(ctx, eventID, holderID, now.UTC())
	return n, classify(err)
}

func (s *MySQLStore) ExpiredLocks(ctx context.Context, now time.Time, limit int) ([]model.Lock, error) {
	locks, err := s.locks.ListExpired(ctx, now.UTC(), limit)
	return locks, classify(err)
}

func (s *MySQLStore) Booking(ctx context.Context, bookingID string) (*model.Booking, error) {
	b, err := s.bookings.GetByID(ctx, bookingID)
	return b, classify(err)
}

func (s *MySQLStore) BookingByKey(ctx context.Context, idempotencyKey string) (*model.Booking, error) {
	b, err := s.bookings.GetByKey(ctx, idempotencyKey)
	return b, classify(err)
}

func (s *MySQLStore) BookingsByHolder(ctx context.Context, holderID string, limit int) ([]model.Booking, error) {
	bookings, err := s.bookings.ListByHolder(ctx, holderID, limit)
	return bookings, classify(err)
}

func (s *MySQLStore) ExpiredBookings(ctx context.Context, now time.Time, limit int) ([]model.Booking, error) {
	bookings, err := s.bookings.ListExpired(ctx, now.UTC(), limit)
	return bookings, classify(err)
}

// classify maps driver faults that leave the batch unapplied onto
// ErrStoreUnavailable and passes every other error through.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		switch me.Number {
		case mysqlDeadlock, mysqlLockWaitTimeout:
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		case mysqlDataTooLong:
			return fmt.Errorf("%w: %v", ErrValueTooLong, err)
		}
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, mysql.ErrInvalidConn) || errors.Is(err, sql.ErrConnDone) {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return err
}
