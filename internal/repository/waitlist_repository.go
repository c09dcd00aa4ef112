package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/iliyamo/seat-inventory/internal/model"
)

// WaitlistRepo is the MySQL WaitlistStore.  (event_id, user_id) is unique,
// so concurrent joins of one user collapse into a single entry.
type WaitlistRepo struct {
	db *sql.DB
}

// NewWaitlistRepo returns a WaitlistRepo bound to the given database.
func NewWaitlistRepo(db *sql.DB) *WaitlistRepo { return &WaitlistRepo{db: db} }

const waitlistColumns = `id, event_id, user_id, section_id, seat_count, status, created_at, notified_at`

func scanWaitlistEntry(sc rowScanner) (model.WaitlistEntry, error) {
	var e model.WaitlistEntry
	var status string
	var notified sql.NullTime
	if err := sc.Scan(&e.ID, &e.EventID, &e.UserID, &e.SectionID, &e.SeatCount, &status, &e.CreatedAt, &notified); err != nil {
		return model.WaitlistEntry{}, err
	}
	e.Status = model.WaitlistStatus(status)
	if notified.Valid {
		t := notified.Time
		e.NotifiedAt = &t
	}
	return e, nil
}

func (r *WaitlistRepo) Join(ctx context.Context, e model.WaitlistEntry) (model.WaitlistEntry, bool, error) {
	const q = `INSERT INTO waitlist_entries (` + waitlistColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, NULL)`
	_, err := r.db.ExecContext(ctx, q, e.ID, e.EventID, e.UserID, e.SectionID, e.SeatCount, string(e.Status), e.CreatedAt)
	if err == nil {
		return e, true, nil
	}
	var me *mysql.MySQLError
	if !errors.As(err, &me) || me.Number != mysqlDuplicateEntry {
		return model.WaitlistEntry{}, false, classify(err)
	}
	existing, err := r.Entry(ctx, e.EventID, e.UserID)
	return existing, false, err
}

func (r *WaitlistRepo) Leave(ctx context.Context, eventID, userID string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM waitlist_entries WHERE event_id = ? AND user_id = ?`, eventID, userID)
	if err != nil {
		return false, classify(err)
	}
	n, err := res.RowsAffected()
	return n > 0, classify(err)
}

func (r *WaitlistRepo) Entry(ctx context.Context, eventID, userID string) (model.WaitlistEntry, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+waitlistColumns+` FROM waitlist_entries WHERE event_id = ? AND user_id = ?`, eventID, userID)
	e, err := scanWaitlistEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.WaitlistEntry{}, ErrNotFound
	}
	return e, classify(err)
}

func (r *WaitlistRepo) Position(ctx context.Context, eventID, userID string) (int, error) {
	e, err := r.Entry(ctx, eventID, userID)
	if err != nil {
		return 0, err
	}
	if e.Status != model.WaitlistWaiting {
		return 0, nil
	}
	const q = `SELECT COUNT(*) FROM waitlist_entries
	           WHERE event_id = ? AND status = 'WAITING' AND (created_at < ? OR (created_at = ? AND id <= ?))`
	var pos int
	err = r.db.QueryRowContext(ctx, q, eventID, e.CreatedAt, e.CreatedAt, e.ID).Scan(&pos)
	return pos, classify(err)
}

func (r *WaitlistRepo) Waiting(ctx context.Context, eventID string, limit int) ([]model.WaitlistEntry, error) {
	return r.list(ctx,
		`SELECT `+waitlistColumns+` FROM waitlist_entries WHERE event_id = ? AND status = 'WAITING' ORDER BY created_at, id LIMIT ?`,
		eventID, limit)
}

func (r *WaitlistRepo) ByUser(ctx context.Context, userID string, limit int) ([]model.WaitlistEntry, error) {
	return r.list(ctx,
		`SELECT `+waitlistColumns+` FROM waitlist_entries WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`,
		userID, limit)
}

func (r *WaitlistRepo) MarkNotified(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE waitlist_entries SET status = 'NOTIFIED', notified_at = ? WHERE id = ? AND status = 'WAITING'`, at.UTC(), id)
	if err != nil {
		return false, classify(err)
	}
	n, err := res.RowsAffected()
	return n == 1, classify(err)
}

func (r *WaitlistRepo) list(ctx context.Context, q string, args ...any) ([]model.WaitlistEntry, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	var out []model.WaitlistEntry
	for rows.Next() {
		e, err := scanWaitlistEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, classify(rows.Err())
}
