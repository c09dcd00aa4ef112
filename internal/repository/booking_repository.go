package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/iliyamo/seat-inventory/internal/model"
)

// BookingRepo provides data access to bookings and their seats.  The
// idempotency key carries a unique index; an insert that collides with it
// is reported as ErrDuplicateIdempotencyKey.
type BookingRepo struct {
	db *sql.DB
}

// NewBookingRepo returns a new BookingRepo bound to the given database.
func NewBookingRepo(db *sql.DB) *BookingRepo { return &BookingRepo{db: db} }

const bookingColumns = `id, event_id, holder_id, lock_id, total_amount_cents, currency, idempotency_key, status, payment_ref, expires_at, created_at, updated_at`

const mysqlDuplicateEntry = 1062

func scanBooking(sc rowScanner) (*model.Booking, error) {
	var b model.Booking
	var status string
	var paymentRef sql.NullString
	if err := sc.Scan(&b.ID, &b.EventID, &b.HolderID, &b.LockID, &b.TotalAmountCents, &b.Currency,
		&b.IdempotencyKey, &status, &paymentRef, &b.ExpiresAt, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return nil, err
	}
	b.Status = model.BookingStatus(status)
	if paymentRef.Valid {
		b.PaymentRef = paymentRef.String
	}
	return &b, nil
}

// CreateTx inserts the booking and its seats within tx.
func (r *BookingRepo) CreateTx(ctx context.Context, tx *sql.Tx, b *model.Booking) error {
	const q = `INSERT INTO bookings (` + bookingColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	var paymentRef any
	if b.PaymentRef != "" {
		paymentRef = b.PaymentRef
	}
	_, err := tx.ExecContext(ctx, q, b.ID, b.EventID, b.HolderID, b.LockID, b.TotalAmountCents, b.Currency,
		b.IdempotencyKey, string(b.Status), paymentRef, b.ExpiresAt, b.CreatedAt, b.UpdatedAt)
	if err != nil {
		var me *mysql.MySQLError
		if errors.As(err, &me) && me.Number == mysqlDuplicateEntry {
			return ErrDuplicateIdempotencyKey
		}
		return err
	}
	return r.createSeatsBulkTx(ctx, tx, b.ID, b.Seats)
}

func (r *BookingRepo) createSeatsBulkTx(ctx context.Context, tx *sql.Tx, bookingID string, seats []model.BookedSeat) error {
	if len(seats) == 0 {
		return nil
	}
	query := `INSERT INTO booking_seats (booking_id, position, seat_id, section, row_label, seat_number, price_cents) VALUES `
	args := make([]any, 0, len(seats)*7)
	for i, s := range seats {
		if i > 0 {
			query += ","
		}
		query += "(?, ?, ?, ?, ?, ?, ?)"
		args = append(args, bookingID, i, s.SeatID, s.Section, s.Row, s.Number, s.PriceCents)
	}
	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// TransitionTx moves a booking between statuses, recording the payment
// reference when one is given.  It returns ErrPreconditionFailed when the
// booking is missing or not in the expected status.
func (r *BookingRepo) TransitionTx(ctx context.Context, tx *sql.Tx, t BookingTransition, at time.Time) error {
	var res sql.Result
	var err error
	if t.PaymentRef != "" {
		res, err = tx.ExecContext(ctx,
			`UPDATE bookings SET status = ?, payment_ref = ?, updated_at = ? WHERE id = ? AND status = ?`,
			string(t.To), t.PaymentRef, at, t.BookingID, string(t.From))
	} else {
		res, err = tx.ExecContext(ctx,
			`UPDATE bookings SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
			string(t.To), at, t.BookingID, string(t.From))
	}
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return ErrPreconditionFailed
	}
	return nil
}

// GetByID returns a booking with seats or ErrNotFound.
func (r *BookingRepo) GetByID(ctx context.Context, id string) (*model.Booking, error) {
	return r.getOne(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, id)
}

// GetByKey returns the booking created under an idempotency key.
func (r *BookingRepo) GetByKey(ctx context.Context, key string) (*model.Booking, error) {
	return r.getOne(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE idempotency_key = ?`, key)
}

// ListByHolder returns the holder's bookings, newest first.
func (r *BookingRepo) ListByHolder(ctx context.Context, holderID string, limit int) ([]model.Booking, error) {
	return r.list(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE holder_id = ? ORDER BY created_at DESC LIMIT ?`,
		holderID, limit)
}

// ListExpired returns PENDING bookings past their payment deadline.
func (r *BookingRepo) ListExpired(ctx context.Context, now time.Time, limit int) ([]model.Booking, error) {
	return r.list(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE status = 'PENDING' AND expires_at <= ? ORDER BY expires_at LIMIT ?`,
		now, limit)
}

func (r *BookingRepo) getOne(ctx context.Context, q string, arg any) (*model.Booking, error) {
	b, err := scanBooking(r.db.QueryRowContext(ctx, q, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := r.loadSeats(ctx, []*model.Booking{b}); err != nil {
		return nil, err
	}
	return b, nil
}

func (r *BookingRepo) list(ctx context.Context, q string, args ...any) ([]model.Booking, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	var bookings []*model.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		bookings = append(bookings, b)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := r.loadSeats(ctx, bookings); err != nil {
		return nil, err
	}
	out := make([]model.Booking, 0, len(bookings))
	for _, b := range bookings {
		out = append(out, *b)
	}
	return out, nil
}

func (r *BookingRepo) loadSeats(ctx context.Context, bookings []*model.Booking) error {
	if len(bookings) == 0 {
		return nil
	}
	byID := make(map[string]*model.Booking, len(bookings))
	ids := make([]string, 0, len(bookings))
	for _, b := range bookings {
		byID[b.ID] = b
		ids = append(ids, b.ID)
	}
	q := `SELECT booking_id, seat_id, section, row_label, seat_number, price_cents
	      FROM booking_seats WHERE booking_id IN (` + placeholders(len(ids)) + `) ORDER BY booking_id, position`
	rows, err := r.db.QueryContext(ctx, q, stringArgs(nil, ids)...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var bookingID string
		var s model.BookedSeat
		if err := rows.Scan(&bookingID, &s.SeatID, &s.Section, &s.Row, &s.Number, &s.PriceCents); err != nil {
			return err
		}
		if b, ok := byID[bookingID]; ok {
			b.Seats = append(b.Seats, s)
		}
	}
	return rows.Err()
}
