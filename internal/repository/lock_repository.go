package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/iliyamo/seat-inventory/internal/model"
)

// LockRepo provides data access to the seat_locks and seat_lock_items
// tables.  A lock row carries the status machine; its items carry the
// per-seat snapshot taken at acquisition.  All timestamps are UTC.
type LockRepo struct {
	db *sql.DB
}

// NewLockRepo returns a new LockRepo bound to the provided database.
func NewLockRepo(db *sql.DB) *LockRepo { return &LockRepo{db: db} }

const lockColumns = `id, event_id, holder_id, currency, status, created_at, expires_at, updated_at`

func scanLock(sc rowScanner) (*model.Lock, error) {
	var l model.Lock
	var status string
	if err := sc.Scan(&l.ID, &l.EventID, &l.HolderID, &l.Currency, &status,
		&l.CreatedAt, &l.ExpiresAt, &l.UpdatedAt); err != nil {
		return nil, err
	}
	l.Status = model.LockStatus(status)
	return &l, nil
}

// CreateTx inserts the lock row and its seat items within tx.  The caller
// is responsible for committing or rolling back the transaction.
func (r *LockRepo) CreateTx(ctx context.Context, tx *sql.Tx, l *model.Lock) error {
	const q = `INSERT INTO seat_locks (` + lockColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, q, l.ID, l.EventID, l.HolderID, l.Currency, string(l.Status),
		l.CreatedAt, l.ExpiresAt, l.UpdatedAt); err != nil {
		return err
	}
	if len(l.Seats) == 0 {
		return nil
	}
	query := `INSERT INTO seat_lock_items (lock_id, position, seat_id, section, row_label, seat_number, price_cents) VALUES `
	args := make([]any, 0, len(l.Seats)*7)
	for i, s := range l.Seats {
		if i > 0 {
			query += ","
		}
		query += "(?, ?, ?, ?, ?, ?, ?)"
		args = append(args, l.ID, i, s.SeatID, s.Section, s.Row, s.Number, s.PriceCents)
	}
	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// TransitionTx moves a lock between statuses.  It returns
// ErrPreconditionFailed when the lock does not exist or is not in the
// expected status.
func (r *LockRepo) TransitionTx(ctx context.Context, tx *sql.Tx, t LockTransition, at time.Time) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE seat_locks SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(t.To), at, t.LockID, string(t.From))
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

// GetByID returns a lock with its seats or ErrNotFound.
func (r *LockRepo) GetByID(ctx context.Context, id string) (*model.Lock, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+lockColumns+` FROM seat_locks WHERE id = ?`, id)
	l, err := scanLock(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := r.loadItems(ctx, []*model.Lock{l}); err != nil {
		return nil, err
	}
	return l, nil
}

// ListByHolder returns the holder's latest locks for an event.
func (r *LockRepo) ListByHolder(ctx context.Context, eventID, holderID string, limit int) ([]model.Lock, error) {
	return r.list(ctx,
		`SELECT `+lockColumns+` FROM seat_locks WHERE event_id = ? AND holder_id = ? ORDER BY created_at DESC LIMIT ?`,
		eventID, holderID, limit)
}

// CountHeldSeats counts the seats under the holder's unexpired ACTIVE
// locks for an event.
func (r *LockRepo) CountHeldSeats(ctx context.Context, eventID, holderID string, now time.Time) (int, error) {
	const q = `SELECT COUNT(*) FROM seat_lock_items i JOIN seat_locks l ON l.id = i.lock_id
	           WHERE l.event_id = ? AND l.holder_id = ? AND l.status = 'ACTIVE' AND l.expires_at > ?`
	var n int
	err := r.db.QueryRowContext(ctx, q, eventID, holderID, now).Scan(&n)
	return n, err
}

// ListExpired returns ACTIVE locks whose expiry is at or before now.
func (r *LockRepo) ListExpired(ctx context.Context, now time.Time, limit int) ([]model.Lock, error) {
	return r.list(ctx,
		`SELECT `+lockColumns+` FROM seat_locks WHERE status = 'ACTIVE' AND expires_at <= ? ORDER BY expires_at LIMIT ?`,
		now, limit)
}

func (r *LockRepo) list(ctx context.Context, q string, args ...any) ([]model.Lock, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	var locks []*model.Lock
	for rows.Next() {
		l, err := scanLock(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		locks = append(locks, l)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := r.loadItems(ctx, locks); err != nil {
		return nil, err
	}
	out := make([]model.Lock, 0, len(locks))
	for _, l := range locks {
		out = append(out, *l)
	}
	return out, nil
}

// loadItems fills Seats for every lock with one query.
func (r *LockRepo) loadItems(ctx context.Context, locks []*model.Lock) error {
	if len(locks) == 0 {
		return nil
	}
	byID := make(map[string]*model.Lock, len(locks))
	ids := make([]string, 0, len(locks))
	for _, l := range locks {
		byID[l.ID] = l
		ids = append(ids, l.ID)
	}
	q := `SELECT lock_id, seat_id, section, row_label, seat_number, price_cents
	      FROM seat_lock_items WHERE lock_id IN (` + placeholders(len(ids)) + `) ORDER BY lock_id, position`
	rows, err := r.db.QueryContext(ctx, q, stringArgs(nil, ids)...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var lockID string
		var s model.LockedSeat
		if err := rows.Scan(&lockID, &s.SeatID, &s.Section, &s.Row, &s.Number, &s.PriceCents); err != nil {
			return err
		}
		if l, ok := byID[lockID]; ok {
			l.Seats = append(l.Seats, s)
		}
	}
	return rows.Err()
}
