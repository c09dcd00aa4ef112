package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/iliyamo/seat-inventory/internal/model"
)

// WaitlistStore keeps waitlist entries.  Entries of an event are served
// oldest first.
type WaitlistStore interface {
	// Join inserts e unless the user already has an entry for the event,
	// in which case that entry is returned and created is false.
	Join(ctx context.Context, e model.WaitlistEntry) (entry model.WaitlistEntry, created bool, err error)
	// Leave removes the user's entry and reports whether one existed.
	Leave(ctx context.Context, eventID, userID string) (bool, error)
	// Entry returns the user's entry or ErrNotFound.
	Entry(ctx context.Context, eventID, userID string) (model.WaitlistEntry, error)
	// Position returns the 1-based rank of a WAITING entry among the
	// event's WAITING entries, 0 for a NOTIFIED one, or ErrNotFound.
	Position(ctx context.Context, eventID, userID string) (int, error)
	// Waiting returns up to limit WAITING entries of the event, oldest
	// first.
	Waiting(ctx context.Context, eventID string, limit int) ([]model.WaitlistEntry, error)
	// ByUser returns the user's entries, newest first.
	ByUser(ctx context.Context, userID string, limit int) ([]model.WaitlistEntry, error)
	// MarkNotified moves a WAITING entry to NOTIFIED.  It reports false
	// when the entry is gone or was already notified.
	MarkNotified(ctx context.Context, id string, at time.Time) (bool, error)
}

type waitKey struct {
	event string
	user  string
}

type waitRow struct {
	seq   uint64
	entry model.WaitlistEntry
}

// MemoryWaitlist is a single-process WaitlistStore.
type MemoryWaitlist struct {
	mu   sync.Mutex
	seq  uint64
	rows map[waitKey]*waitRow
	byID map[string]waitKey
}

// NewMemoryWaitlist returns an empty waitlist.
func NewMemoryWaitlist() *MemoryWaitlist {
	return &MemoryWaitlist{rows: make(map[waitKey]*waitRow), byID: make(map[string]waitKey)}
}

func (w *MemoryWaitlist) Join(ctx context.Context, e model.WaitlistEntry) (model.WaitlistEntry, bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	k := waitKey{e.EventID, e.UserID}
	if r, ok := w.rows[k]; ok {
		return r.entry, false, nil
	}
	w.seq++
	w.rows[k] = &waitRow{seq: w.seq, entry: e}
	w.byID[e.ID] = k
	return e, true, nil
}

func (w *MemoryWaitlist) Leave(ctx context.Context, eventID, userID string) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	k := waitKey{eventID, userID}
	r, ok := w.rows[k]
	if !ok {
		return false, nil
	}
	delete(w.byID, r.entry.ID)
	delete(w.rows, k)
	return true, nil
}

func (w *MemoryWaitlist) Entry(ctx context.Context, eventID, userID string) (model.WaitlistEntry, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	r, ok := w.rows[waitKey{eventID, userID}]
	if !ok {
		return model.WaitlistEntry{}, ErrNotFound
	}
	return r.entry, nil
}

func (w *MemoryWaitlist) Position(ctx context.Context, eventID, userID string) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	me, ok := w.rows[waitKey{eventID, userID}]
	if !ok {
		return 0, ErrNotFound
	}
	if me.entry.Status != model.WaitlistWaiting {
		return 0, nil
	}
	pos := 1
	for k, r := range w.rows {
		if k.event == eventID && r.entry.Status == model.WaitlistWaiting && r.seq < me.seq {
			pos++
		}
	}
	return pos, nil
}

func (w *MemoryWaitlist) Waiting(ctx context.Context, eventID string, limit int) ([]model.WaitlistEntry, error) {
	w.mu.Lock()
	var rows []*waitRow
	for k, r := range w.rows {
		if k.event == eventID && r.entry.Status == model.WaitlistWaiting {
			rows = append(rows, r)
		}
	}
	w.mu.Unlock()
	sort.Slice(rows, func(i, j int) bool { return rows[i].seq < rows[j].seq })
	return entries(truncate(rows, limit)), nil
}

func (w *MemoryWaitlist) ByUser(ctx context.Context, userID string, limit int) ([]model.WaitlistEntry, error) {
	w.mu.Lock()
	var rows []*waitRow
	for k, r := range w.rows {
		if k.user == userID {
			rows = append(rows, r)
		}
	}
	w.mu.Unlock()
	sort.Slice(rows, func(i, j int) bool { return rows[i].seq > rows[j].seq })
	return entries(truncate(rows, limit)), nil
}

func (w *MemoryWaitlist) MarkNotified(ctx context.Context, id string, at time.Time) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	k, ok := w.byID[id]
	if !ok {
		return false, nil
	}
	r := w.rows[k]
	if r.entry.Status != model.WaitlistWaiting {
		return false, nil
	}
	r.entry.Status = model.WaitlistNotified
	r.entry.NotifiedAt = &at
	return true, nil
}

func entries(rows []*waitRow) []model.WaitlistEntry {
	out := make([]model.WaitlistEntry, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.entry)
	}
	return out
}
