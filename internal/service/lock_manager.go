package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/seat-inventory/internal/model"
	"github.com/iliyamo/seat-inventory/internal/repository"
)

// LockConfig holds the lock policy.
type LockConfig struct {
	// TTL is fixed per lock; locks are never extended.
	TTL time.Duration
	// MaxSeatsPerHolder caps the seats one holder may keep under active
	// locks for a single event.  Zero disables the cap.
	MaxSeatsPerHolder int
}

// holderLockScan is how many of a holder's recent locks are inspected when
// looking up the lock behind a booking.
const holderLockScan = 50

// LockManager grants time-bounded exclusive holds on sets of seats.
type LockManager struct {
	inv   *Inventory
	queue *ExpiryQueue
	cfg   LockConfig
	log   logrus.FieldLogger
}

// NewLockManager returns a lock manager.  queue may be nil, in which case
// expiry relies on the sweeper's poll alone.
func NewLockManager(inv *Inventory, queue *ExpiryQueue, cfg LockConfig, log logrus.FieldLogger) *LockManager {
	if cfg.TTL <= 0 {
		cfg.TTL = 10 * time.Minute
	}
	if log == nil {
		log = discardLogger()
	}
	return &LockManager{inv: inv, queue: queue, cfg: cfg, log: log}
}

// Acquire locks every seat in seatIDs for holderID or none of them.  A
// conflict caused only by locks whose TTL already elapsed is resolved by
// expiring those locks and trying once more.
func (m *LockManager) Acquire(ctx context.Context, eventID string, seatIDs []string, holderID string) (*model.Lock, error) {
	if eventID == "" {
		return nil, &ValidationError{Msg: "eventId is required"}
	}
	if holderID == "" {
		return nil, &ValidationError{Msg: "userId is required"}
	}
	if err := checkLen("eventId", eventID, maxIDLen); err != nil {
		return nil, err
	}
	if err := checkLen("userId", holderID, maxKeyLen); err != nil {
		return nil, err
	}
	if err := validateSeatIDs(seatIDs); err != nil {
		return nil, err
	}
	if m.cfg.MaxSeatsPerHolder > 0 && len(seatIDs) > m.cfg.MaxSeatsPerHolder {
		return nil, ErrSeatLimitExceeded
	}

	lock, err := m.tryAcquire(ctx, eventID, seatIDs, holderID)
	var conflict *repository.ConflictError
	if errors.As(err, &conflict) && m.reclaimStale(ctx, eventID, conflict.SeatIDs) > 0 {
		lock, err = m.tryAcquire(ctx, eventID, seatIDs, holderID)
	}
	if err != nil {
		return nil, err
	}

	m.queue.ScheduleLock(lock.ID, lock.ExpiresAt)
	m.log.WithFields(logrus.Fields{
		"lock_id":  lock.ID,
		"event_id": eventID,
		"user_id":  holderID,
		"seats":    len(lock.Seats),
	}).Info("seats locked")
	return lock, nil
}

func (m *LockManager) tryAcquire(ctx context.Context, eventID string, seatIDs []string, holderID string) (*model.Lock, error) {
	seats, err := m.inv.store.Seats(ctx, eventID, seatIDs)
	if err != nil {
		return nil, err
	}
	if missing := missingSeats(seatIDs, seats); len(missing) > 0 {
		return nil, &ValidationError{Msg: "seats do not belong to event", SeatIDs: missing}
	}

	currency := seats[0].Currency
	var unavailable []string
	for _, s := range seats {
		if s.Currency != currency {
			return nil, &ValidationError{Msg: "seats must share one currency"}
		}
		if s.Status != model.SeatAvailable {
			unavailable = append(unavailable, s.ID)
		}
	}
	if len(unavailable) > 0 {
		return nil, &repository.ConflictError{SeatIDs: unavailable}
	}

	now := m.inv.clock()
	if m.cfg.MaxSeatsPerHolder > 0 {
		held, err := m.heldSeats(ctx, eventID, holderID, now)
		if err != nil {
			return nil, err
		}
		if held+len(seats) > m.cfg.MaxSeatsPerHolder {
			return nil, ErrSeatLimitExceeded
		}
	}

	lock := &model.Lock{
		ID:        uuid.NewString(),
		EventID:   eventID,
		HolderID:  holderID,
		Seats:     make([]model.LockedSeat, 0, len(seats)),
		Currency:  currency,
		Status:    model.LockActive,
		CreatedAt: now,
		ExpiresAt: now.Add(m.cfg.TTL),
		UpdatedAt: now,
	}
	ops := make([]repository.SeatCAS, 0, len(seats))
	for _, s := range seats {
		lock.Seats = append(lock.Seats, model.LockedSeat{
			SeatID: s.ID, Section: s.Section, Row: s.Row, Number: s.Number, PriceCents: s.PriceCents,
		})
		ops = append(ops, repository.SeatCAS{
			SeatID: s.ID, Expected: model.SeatAvailable, Next: model.SeatLocked, NextOwner: lock.ID,
		})
	}

	written, err := m.inv.apply(ctx, repository.Batch{EventID: eventID, Seats: ops, NewLock: lock, At: now})
	if err != nil {
		return nil, err
	}
	m.inv.committed(ctx, model.EventSeatLocked, eventID, written, holderID)
	return lock, nil
}

// heldSeats counts the seats the holder keeps under unexpired active locks.
func (m *LockManager) heldSeats(ctx context.Context, eventID, holderID string, now time.Time) (int, error) {
	return m.inv.store.HeldSeatCount(ctx, eventID, holderID, now)
}

// reclaimStale expires the overdue locks holding any of seatIDs and
// returns how many it expired.
func (m *LockManager) reclaimStale(ctx context.Context, eventID string, seatIDs []string) int {
	seats, err := m.inv.store.Seats(ctx, eventID, seatIDs)
	if err != nil {
		return 0
	}
	owners := make(map[string]struct{})
	for _, s := range seats {
		if s.Status == model.SeatLocked && s.OwnerRef != "" {
			owners[s.OwnerRef] = struct{}{}
		}
	}
	n := 0
	for lockID := range owners {
		ok, err := m.Expire(ctx, lockID)
		if err != nil {
			m.log.WithError(err).WithField("lock_id", lockID).Warn("inline lock reclaim failed")
			continue
		}
		if ok {
			n++
		}
	}
	return n
}

// Release frees the seats of a lock.  Only the holder may release it.
// Releasing a lock that is already released or expired does nothing; a
// consumed lock cannot be released.
func (m *LockManager) Release(ctx context.Context, lockID, holderID string) error {
	return reread(func() error {
		l, err := m.inv.store.Lock(ctx, lockID)
		if isNotFound(err) {
			return ErrLockNotFound
		}
		if err != nil {
			return err
		}
		if l.HolderID != holderID {
			return ErrForbidden
		}
		switch l.Status {
		case model.LockReleased, model.LockExpired:
			return nil
		case model.LockConsumed:
			return ErrLockConsumed
		}
		if err := m.free(ctx, l, model.LockReleased, holderID); err != nil {
			return err
		}
		m.log.WithFields(logrus.Fields{"lock_id": l.ID, "user_id": holderID}).Info("lock released")
		return nil
	})
}

// Expire moves an overdue active lock to EXPIRED and frees its seats.  It
// reports false when the lock is gone, not yet due, or already settled by
// a concurrent release or booking.
func (m *LockManager) Expire(ctx context.Context, lockID string) (bool, error) {
	l, err := m.inv.store.Lock(ctx, lockID)
	if isNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if l.Status != model.LockActive || !l.ExpiredAt(m.inv.clock()) {
		return false, nil
	}
	err = m.free(ctx, l, model.LockExpired, "")
	if errors.Is(err, repository.ErrPreconditionFailed) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	m.log.WithFields(logrus.Fields{"lock_id": l.ID, "event_id": l.EventID}).Info("lock expired")
	return true, nil
}

// Get returns a lock to its holder.
func (m *LockManager) Get(ctx context.Context, lockID, holderID string) (*model.Lock, error) {
	l, err := m.inv.store.Lock(ctx, lockID)
	if isNotFound(err) {
		return nil, ErrLockNotFound
	}
	if err != nil {
		return nil, err
	}
	if l.HolderID != holderID {
		return nil, ErrForbidden
	}
	return l, nil
}

// free returns the lock's seats to AVAILABLE and moves the lock from
// ACTIVE to the given status in one batch.
func (m *LockManager) free(ctx context.Context, l *model.Lock, to model.LockStatus, actor string) error {
	ops := make([]repository.SeatCAS, 0, len(l.Seats))
	for _, s := range l.Seats {
		ops = append(ops, repository.SeatCAS{
			SeatID: s.SeatID, Expected: model.SeatLocked, ExpectedOwner: l.ID, Next: model.SeatAvailable,
		})
	}
	written, err := m.inv.apply(ctx, repository.Batch{
		EventID: l.EventID,
		Seats:   ops,
		Lock:    &repository.LockTransition{LockID: l.ID, From: model.LockActive, To: to},
		At:      m.inv.clock(),
	})
	if err != nil {
		var conflict *repository.ConflictError
		if errors.As(err, &conflict) {
			m.log.WithError(err).WithField("lock_id", l.ID).Error("active lock does not own its seats")
		}
		return err
	}
	m.inv.committed(ctx, model.EventSeatReleased, l.EventID, written, actor)
	return nil
}
