package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/seat-inventory/internal/model"
	"github.com/iliyamo/seat-inventory/internal/repository"
)

func TestSweepOnce_ReclaimsOverdueLocksAndBookings(t *testing.T) {
	f := newFixture(t, "S1", "S2", "S3")
	ctx := context.Background()
	s := NewSweeper(f.locks, f.bookings, f.queue, SweeperConfig{Interval: time.Hour}, nil)

	lock, err := f.locks.Acquire(ctx, "E1", []string{"S1"}, "U1")
	require.NoError(t, err)
	b := f.book(t, "U2", "K", "S2", "S3")

	locks, bookings := s.SweepOnce(ctx)
	assert.Zero(t, locks)
	assert.Zero(t, bookings)

	f.clock.Advance(10 * time.Minute)
	locks, bookings = s.SweepOnce(ctx)
	assert.Equal(t, 1, locks)
	assert.Zero(t, bookings)
	assert.Equal(t, []model.SeatStatus{model.SeatAvailable, model.SeatBooked, model.SeatBooked}, f.status(t, "S1", "S2", "S3"))

	got, err := f.store.Lock(ctx, lock.ID)
	require.NoError(t, err)
	assert.Equal(t, model.LockExpired, got.Status)

	f.clock.Advance(5 * time.Minute)
	locks, bookings = s.SweepOnce(ctx)
	assert.Zero(t, locks)
	assert.Equal(t, 1, bookings)
	assert.Equal(t, []model.SeatStatus{model.SeatAvailable, model.SeatAvailable}, f.status(t, "S2", "S3"))

	expired, err := f.bookings.Get(ctx, b.ID, "U2")
	require.NoError(t, err)
	assert.Equal(t, model.BookingExpired, expired.Status)
	assert.Zero(t, f.queue.Len())
}

func TestSweepOnce_PollsDeadlinesMissingFromQueue(t *testing.T) {
	f := newFixture(t, "S1")
	ctx := context.Background()
	_, err := f.locks.Acquire(ctx, "E1", []string{"S1"}, "U1")
	require.NoError(t, err)

	// A fresh queue stands in for a restarted process.
	s := NewSweeper(f.locks, f.bookings, NewExpiryQueue(), SweeperConfig{Interval: time.Hour}, nil)
	f.clock.Advance(11 * time.Minute)
	locks, _ := s.SweepOnce(ctx)
	assert.Equal(t, 1, locks)
	assert.Equal(t, model.SeatAvailable, f.status(t, "S1")[0])
}

func TestSweepOnce_SkipsConsumedLock(t *testing.T) {
	f := newFixture(t, "S1")
	ctx := context.Background()
	s := NewSweeper(f.locks, f.bookings, f.queue, SweeperConfig{Interval: time.Hour}, nil)
	f.book(t, "U1", "K", "S1")

	f.clock.Advance(11 * time.Minute)
	locks, _ := s.SweepOnce(ctx)
	assert.Zero(t, locks)
	assert.Equal(t, model.SeatBooked, f.status(t, "S1")[0])
}

func TestSweeperRun_ReclaimsLockAtTTL(t *testing.T) {
	store := repository.NewMemoryStore()
	queue := NewExpiryQueue()
	inv := NewInventory(store, nil, nil, nil)
	locks := NewLockManager(inv, queue, LockConfig{TTL: 50 * time.Millisecond}, nil)
	s := NewSweeper(locks, nil, queue, SweeperConfig{Interval: time.Hour}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, inv.Seed(ctx, []model.Seat{{ID: "S1", EventID: "E1", Section: "A", PriceCents: 100, Currency: "USD"}}))
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	_, err := locks.Acquire(ctx, "E1", []string{"S1"}, "U1")
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		st, err := inv.GetStatus(ctx, "E1", []string{"S1"})
		return err == nil && st["S1"] == model.SeatAvailable
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
