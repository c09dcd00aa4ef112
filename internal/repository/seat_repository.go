package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/iliyamo/seat-inventory/internal/model"
)

// SeatRepo provides data access to the seats table.  Status writes happen
// only inside a Batch transaction through LockForUpdateTx and UpdateTx;
// the remaining methods are plain reads and seeding.
type SeatRepo struct {
	db *sql.DB
}

// NewSeatRepo returns a new SeatRepo bound to the provided database.
func NewSeatRepo(db *sql.DB) *SeatRepo { return &SeatRepo{db: db} }

const seatColumns = `event_id, id, section, row_label, seat_number, price_cents, currency, status, owner_ref, version, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSeat(sc rowScanner) (model.Seat, error) {
	var s model.Seat
	var status string
	err := sc.Scan(&s.EventID, &s.ID, &s.Section, &s.Row, &s.Number, &s.PriceCents,
		&s.Currency, &status, &s.OwnerRef, &s.Version, &s.UpdatedAt)
	s.Status = model.SeatStatus(status)
	return s, err
}

// placeholders returns "?, ?, ..." with n markers.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func stringArgs(prefix []any, ids []string) []any {
	args := make([]any, 0, len(prefix)+len(ids))
	args = append(args, prefix...)
	for _, id := range ids {
		args = append(args, id)
	}
	return args
}

// GetMany returns the seats of an event that match ids, in the order of
// ids.  Unknown ids are skipped.
func (r *SeatRepo) GetMany(ctx context.Context, eventID string, ids []string) ([]model.Seat, error) {
	if len(ids) == 0 {
		return []model.Seat{}, nil
	}
	q := `SELECT ` + seatColumns + ` FROM seats WHERE event_id = ? AND id IN (` + placeholders(len(ids)) + `)`
	rows, err := r.db.QueryContext(ctx, q, stringArgs([]any{eventID}, ids)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	found := make(map[string]model.Seat, len(ids))
	for rows.Next() {
		s, err := scanSeat(rows)
		if err != nil {
			return nil, err
		}
		found[s.ID] = s
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	out := make([]model.Seat, 0, len(found))
	for _, id := range ids {
		if s, ok := found[id]; ok {
			out = append(out, s)
		}
	}
	return out, nil
}

// ListByEvent returns every seat of the event ordered by section, row and
// number.
func (r *SeatRepo) ListByEvent(ctx context.Context, eventID string) ([]model.Seat, error) {
	q := `SELECT ` + seatColumns + ` FROM seats WHERE event_id = ? ORDER BY section, row_label, seat_number`
	rows, err := r.db.QueryContext(ctx, q, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Seat
	for rows.Next() {
		s, err := scanSeat(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// LockForUpdateTx row-locks the given seats inside tx and returns their
// current state keyed by seat id.  Rows are locked in primary key order so
// concurrent batches over overlapping seats queue instead of interleaving.
func (r *SeatRepo) LockForUpdateTx(ctx context.Context, tx *sql.Tx, eventID string, ids []string) (map[string]model.Seat, error) {
	out := make(map[string]model.Seat, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	q := `SELECT ` + seatColumns + ` FROM seats WHERE event_id = ? AND id IN (` + placeholders(len(ids)) + `) ORDER BY id FOR UPDATE`
	rows, err := tx.QueryContext(ctx, q, stringArgs([]any{eventID}, ids)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		s, err := scanSeat(rows)
		if err != nil {
			return nil, err
		}
		out[s.ID] = s
	}
	return out, rows.Err()
}

// UpdateTx writes one seat transition guarded by the version read under
// FOR UPDATE.  It reports false when the row did not match.
func (r *SeatRepo) UpdateTx(ctx context.Context, tx *sql.Tx, eventID string, op SeatCAS, version uint64, at time.Time) (bool, error) {
	const q = `UPDATE seats SET status = ?, owner_ref = ?, version = version + 1, updated_at = ?
	           WHERE event_id = ? AND id = ? AND status = ? AND owner_ref = ? AND version = ?`
	res, err := tx.ExecContext(ctx, q, string(op.Next), op.NextOwner, at,
		eventID, op.SeatID, string(op.Expected), op.ExpectedOwner, version)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// CreateBulk inserts seats in a single statement, ignoring rows that
// already exist so seeding never resets a live seat.
func (r *SeatRepo) CreateBulk(ctx context.Context, seats []model.Seat) error {
	if len(seats) == 0 {
		return nil
	}
	query := `INSERT INTO seats (` + seatColumns + `) VALUES `
	args := make([]any, 0, len(seats)*11)
	now := time.Now().UTC()
	for i, s := range seats {
		if i > 0 {
			query += ","
		}
		query += "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"
		status := s.Status
		if status == "" {
			status = model.SeatAvailable
		}
		version := s.Version
		if version == 0 {
			version = 1
		}
		args = append(args, s.EventID, s.ID, s.Section, s.Row, s.Number, s.PriceCents,
			s.Currency, string(status), s.OwnerRef, version, now)
	}
	// Existing rows keep their state; oversized values still fail.
	query += " ON DUPLICATE KEY UPDATE id = id"
	_, err := r.db.ExecContext(ctx, query, args...)
	return err
}
