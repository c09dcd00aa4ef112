package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/iliyamo/seat-inventory/internal/model"
)

type seatKey struct {
	event string
	seat  string
}

// seatCell owns one seat.  Its mutex is the serialization point for every
// batch touching the seat.
type seatCell struct {
	mu   sync.Mutex
	seat model.Seat
}

// MemoryStore is a single-process Store.  Contention is seat-scoped: a
// batch locks only the cells of its own seats, always in seat id order,
// and then the record table.  Batches over disjoint seats of the same
// event proceed in parallel except for the short record critical section.
type MemoryStore struct {
	mu      sync.RWMutex // guards cells and byEvent
	cells   map[seatKey]*seatCell
	byEvent map[string][]string

	recMu    sync.Mutex // guards locks, bookings and keys; always taken after seat cells
	locks    map[string]*model.Lock
	bookings map[string]*model.Booking
	keys     map[string]string
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		cells:    make(map[seatKey]*seatCell),
		byEvent:  make(map[string][]string),
		locks:    make(map[string]*model.Lock),
		bookings: make(map[string]*model.Booking),
		keys:     make(map[string]string),
	}
}

func (s *MemoryStore) Apply(ctx context.Context, b Batch) ([]model.Seat, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := b.validate(); err != nil {
		return nil, err
	}

	byID := make(map[string]*seatCell, len(b.Seats))
	var missing []string
	s.mu.RLock()
	for _, op := range b.Seats {
		c, ok := s.cells[seatKey{b.EventID, op.SeatID}]
		if !ok {
			missing = append(missing, op.SeatID)
			continue
		}
		byID[op.SeatID] = c
	}
	s.mu.RUnlock()
	if len(missing) > 0 {
		return nil, &ConflictError{SeatIDs: missing}
	}

	ordered := make([]string, 0, len(byID))
	for id := range byID {
		ordered = append(ordered, id)
	}
	sort.Strings(ordered)
	for _, id := range ordered {
		byID[id].mu.Lock()
	}
	defer func() {
		for _, id := range ordered {
			byID[id].mu.Unlock()
		}
	}()

	s.recMu.Lock()
	defer s.recMu.Unlock()

	if err := s.checkRecords(b); err != nil {
		return nil, err
	}
	var conflicts []string
	for _, op := range b.Seats {
		cur := byID[op.SeatID].seat
		if cur.Status != op.Expected || cur.OwnerRef != op.ExpectedOwner {
			conflicts = append(conflicts, op.SeatID)
		}
	}
	if len(conflicts) > 0 {
		return nil, &ConflictError{SeatIDs: conflicts}
	}

	at := b.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	written := make([]model.Seat, 0, len(b.Seats))
	for _, op := range b.Seats {
		if op.assertion() {
			continue
		}
		c := byID[op.SeatID]
		c.seat.Status = op.Next
		c.seat.OwnerRef = op.NextOwner
		c.seat.Version++
		c.seat.UpdatedAt = at
		written = append(written, c.seat)
	}
	s.applyRecords(b, at)
	return written, nil
}

func (s *MemoryStore) checkRecords(b Batch) error {
	if b.NewLock != nil {
		if _, exists := s.locks[b.NewLock.ID]; exists {
			return fmt.Errorf("lock %s already exists", b.NewLock.ID)
		}
	}
	if b.Lock != nil {
		l, ok := s.locks[b.Lock.LockID]
		if !ok || l.Status != b.Lock.From {
			return ErrPreconditionFailed
		}
	}
	if b.NewBooking != nil {
		if _, exists := s.keys[b.NewBooking.IdempotencyKey]; exists {
			return ErrDuplicateIdempotencyKey
		}
		if _, exists := s.bookings[b.NewBooking.ID]; exists {
			return fmt.Errorf("booking %s already exists", b.NewBooking.ID)
		}
	}
	if b.Booking != nil {
		bk, ok := s.bookings[b.Booking.BookingID]
		if !ok || bk.Status != b.Booking.From {
			return ErrPreconditionFailed
		}
	}
	return nil
}

func (s *MemoryStore) applyRecords(b Batch, at time.Time) {
	if b.NewLock != nil {
		s.locks[b.NewLock.ID] = cloneLock(b.NewLock)
	}
	if b.Lock != nil {
		l := s.locks[b.Lock.LockID]
		l.Status = b.Lock.To
		l.UpdatedAt = at
	}
	if b.NewBooking != nil {
		s.bookings[b.NewBooking.ID] = cloneBooking(b.NewBooking)
		s.keys[b.NewBooking.IdempotencyKey] = b.NewBooking.ID
	}
	if b.Booking != nil {
		bk := s.bookings[b.Booking.BookingID]
		bk.Status = b.Booking.To
		bk.UpdatedAt = at
		if b.Booking.PaymentRef != "" {
			bk.PaymentRef = b.Booking.PaymentRef
		}
	}
}

func (s *MemoryStore) Seats(ctx context.Context, eventID string, seatIDs []string) ([]model.Seat, error) {
	out := make([]model.Seat, 0, len(seatIDs))
	for _, id := range seatIDs {
		s.mu.RLock()
		c, ok := s.cells[seatKey{eventID, id}]
		s.mu.RUnlock()
		if !ok {
			continue
		}
		c.mu.Lock()
		out = append(out, c.seat)
		c.mu.Unlock()
	}
	return out, nil
}

func (s *MemoryStore) EventSeats(ctx context.Context, eventID string) ([]model.Seat, error) {
	s.mu.RLock()
	ids := append([]string(nil), s.byEvent[eventID]...)
	s.mu.RUnlock()
	return s.Seats(ctx, eventID, ids)
}

func (s *MemoryStore) PutSeats(ctx context.Context, seats []model.Seat) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, seat := range seats {
		if seat.EventID == "" || seat.ID == "" {
			return errors.New("seat requires event id and id")
		}
		k := seatKey{seat.EventID, seat.ID}
		if _, exists := s.cells[k]; exists {
			continue
		}
		if seat.Status == "" {
			seat.Status = model.SeatAvailable
		}
		if seat.Version == 0 {
			seat.Version = 1
		}
		if seat.UpdatedAt.IsZero() {
			seat.UpdatedAt = time.Now().UTC()
		}
		s.cells[k] = &seatCell{seat: seat}
		s.byEvent[seat.EventID] = append(s.byEvent[seat.EventID], seat.ID)
	}
	return nil
}

func (s *MemoryStore) Lock(ctx context.Context, lockID string) (*model.Lock, error) {
	s.recMu.Lock()
	defer s.recMu.Unlock()
	l, ok := s.locks[lockID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneLock(l), nil
}

func (s *MemoryStore) HolderLocks(ctx context.Context, eventID, holderID string, limit int) ([]model.Lock, error) {
	s.recMu.Lock()
	var out []model.Lock
	for _, l := range s.locks {
		if l.EventID == eventID && l.HolderID == holderID {
			out = append(out, *cloneLock(l))
		}
	}
	s.recMu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return truncate(out, limit), nil
}

func (s *MemoryStore) HeldSeatCount(ctx context.Context, eventID, holderID string, now time.Time) (int, error) {
	s.recMu.Lock()
	defer s.recMu.Unlock()
	n := 0
	for _, l := range s.locks {
		if l.EventID == eventID && l.HolderID == holderID && l.Status == model.LockActive && !l.ExpiredAt(now) {
			n += len(l.Seats)
		}
	}
	return n, nil
}

func (s *MemoryStore) ExpiredLocks(ctx context.Context, now time.Time, limit int) ([]model.Lock, error) {
	s.recMu.Lock()
	var out []model.Lock
	for _, l := range s.locks {
		if l.Status == model.LockActive && l.ExpiredAt(now) {
			out = append(out, *cloneLock(l))
		}
	}
	s.recMu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	return truncate(out, limit), nil
}

func (s *MemoryStore) Booking(ctx context.Context, bookingID string) (*model.Booking, error) {
	s.recMu.Lock()
	defer s.recMu.Unlock()
	b, ok := s.bookings[bookingID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneBooking(b), nil
}

func (s *MemoryStore) BookingByKey(ctx context.Context, idempotencyKey string) (*model.Booking, error) {
	s.recMu.Lock()
	defer s.recMu.Unlock()
	id, ok := s.keys[idempotencyKey]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneBooking(s.bookings[id]), nil
}

func (s *MemoryStore) BookingsByHolder(ctx context.Context, holderID string, limit int) ([]model.Booking, error) {
	s.recMu.Lock()
	var out []model.Booking
	for _, b := range s.bookings {
		if b.HolderID == holderID {
			out = append(out, *cloneBooking(b))
		}
	}
	s.recMu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return truncate(out, limit), nil
}

func (s *MemoryStore) ExpiredBookings(ctx context.Context, now time.Time, limit int) ([]model.Booking, error) {
	s.recMu.Lock()
	var out []model.Booking
	for _, b := range s.bookings {
		if b.Status == model.BookingPending && !now.Before(b.ExpiresAt) {
			out = append(out, *cloneBooking(b))
		}
	}
	s.recMu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	return truncate(out, limit), nil
}

func cloneLock(l *model.Lock) *model.Lock {
	c := *l
	c.Seats = append([]model.LockedSeat(nil), l.Seats...)
	return &c
}

func cloneBooking(b *model.Booking) *model.Booking {
	c := *b
	c.Seats = append([]model.BookedSeat(nil), b.Seats...)
	return &c
}

func truncate[T any](items []T, limit int) []T {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}
