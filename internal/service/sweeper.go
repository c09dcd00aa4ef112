package service

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// SweeperConfig controls the expiry sweeper.
type SweeperConfig struct {
	// Interval between full store polls.
	Interval time.Duration
	// Batch bounds the records expired per poll.
	Batch int
}

// Sweeper reclaims seats held by overdue locks and unpaid bookings.  It
// fires on the earliest deadline in the expiry queue and polls the store
// on a fixed interval for deadlines the queue never saw.
type Sweeper struct {
	locks    *LockManager
	bookings *BookingOrchestrator
	queue    *ExpiryQueue
	cfg      SweeperConfig
	log      logrus.FieldLogger
}

// NewSweeper returns a sweeper over the given components.
func NewSweeper(locks *LockManager, bookings *BookingOrchestrator, queue *ExpiryQueue, cfg SweeperConfig, log logrus.FieldLogger) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Second
	}
	if cfg.Batch <= 0 {
		cfg.Batch = 200
	}
	if queue == nil {
		queue = NewExpiryQueue()
	}
	if log == nil {
		log = discardLogger()
	}
	return &Sweeper{locks: locks, bookings: bookings, queue: queue, cfg: cfg, log: log}
}

// Run sweeps until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	timer := time.NewTimer(s.cfg.Interval)
	defer timer.Stop()

	s.log.WithField("interval", s.cfg.Interval.String()).Info("expiry sweeper started")
	s.SweepOnce(ctx)
	for {
		s.arm(timer)
		select {
		case <-ctx.Done():
			s.log.Info("expiry sweeper stopped")
			return nil
		case <-ticker.C:
			s.SweepOnce(ctx)
		case <-timer.C:
			s.drain(ctx)
		case <-s.queue.Wake():
		}
	}
}

// arm points the timer at the earliest queued deadline, or at the next
// poll when the queue is empty.
func (s *Sweeper) arm(timer *time.Timer) {
	d := s.cfg.Interval
	if next, ok := s.queue.Next(); ok {
		d = next.Sub(s.locks.inv.now())
		if d < 0 {
			d = 0
		}
	}
	timer.Reset(d)
}

// SweepOnce expires every due deadline in the queue, then polls the store.
// It returns how many locks and bookings it expired.
func (s *Sweeper) SweepOnce(ctx context.Context) (locks, bookings int) {
	locks, bookings = s.drain(ctx)
	now := s.locks.inv.clock()
	store := s.locks.inv.store

	expiredLocks, err := store.ExpiredLocks(ctx, now, s.cfg.Batch)
	if err != nil {
		s.log.WithError(err).Warn("list expired locks failed")
	}
	for i := range expiredLocks {
		if s.expireLock(ctx, expiredLocks[i].ID) {
			locks++
		}
	}

	expiredBookings, err := store.ExpiredBookings(ctx, now, s.cfg.Batch)
	if err != nil {
		s.log.WithError(err).Warn("list expired bookings failed")
	}
	for i := range expiredBookings {
		if s.expireBooking(ctx, expiredBookings[i].ID) {
			bookings++
		}
	}

	if locks > 0 || bookings > 0 {
		s.log.WithFields(logrus.Fields{"locks": locks, "bookings": bookings}).Info("sweep reclaimed seats")
	}
	return locks, bookings
}

func (s *Sweeper) drain(ctx context.Context) (locks, bookings int) {
	for _, it := range s.queue.popDue(s.locks.inv.clock()) {
		switch it.kind {
		case ExpireLock:
			if s.expireLock(ctx, it.id) {
				locks++
			}
		case ExpireBooking:
			if s.expireBooking(ctx, it.id) {
				bookings++
			}
		}
	}
	return locks, bookings
}

func (s *Sweeper) expireLock(ctx context.Context, id string) bool {
	ok, err := s.locks.Expire(ctx, id)
	if err != nil {
		s.log.WithError(err).WithField("lock_id", id).Warn("expire lock failed")
	}
	return ok
}

func (s *Sweeper) expireBooking(ctx context.Context, id string) bool {
	if s.bookings == nil {
		return false
	}
	ok, err := s.bookings.Expire(ctx, id)
	if err != nil {
		s.log.WithError(err).WithField("booking_id", id).Warn("expire booking failed")
	}
	return ok
}
