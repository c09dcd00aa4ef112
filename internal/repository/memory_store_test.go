package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/seat-inventory/internal/model"
)

func seedStore(t *testing.T, eventID string, ids ...string) *MemoryStore {
	t.Helper()
	s := NewMemoryStore()
	seats := make([]model.Seat, 0, len(ids))
	for i, id := range ids {
		seats = append(seats, model.Seat{
			ID: id, EventID: eventID, Section: "A", Row: "1", Number: i + 1,
			PriceCents: 5000, Currency: "USD",
		})
	}
	require.NoError(t, s.PutSeats(context.Background(), seats))
	return s
}

func lockOps(owner string, ids ...string) []SeatCAS {
	ops := make([]SeatCAS, 0, len(ids))
	for _, id := range ids {
		ops = append(ops, SeatCAS{SeatID: id, Expected: model.SeatAvailable, Next: model.SeatLocked, NextOwner: owner})
	}
	return ops
}

func TestMemoryStore_ApplyRejectsWholeBatchOnConflict(t *testing.T) {
	ctx := context.Background()
	s := seedStore(t, "E1", "S1", "S2", "S3")

	_, err := s.Apply(ctx, Batch{EventID: "E1", Seats: lockOps("L0", "S2")})
	require.NoError(t, err)

	_, err = s.Apply(ctx, Batch{EventID: "E1", Seats: lockOps("L1", "S1", "S2")})
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, []string{"S2"}, conflict.SeatIDs)
	assert.True(t, errors.Is(err, ErrConflict))

	seats, err := s.Seats(ctx, "E1", []string{"S1", "S2"})
	require.NoError(t, err)
	assert.Equal(t, model.SeatAvailable, seats[0].Status)
	assert.Equal(t, uint64(1), seats[0].Version)
	assert.Equal(t, model.SeatLocked, seats[1].Status)
	assert.Equal(t, "L0", seats[1].OwnerRef)
}

func TestMemoryStore_ApplyUnknownSeatIsConflict(t *testing.T) {
	s := seedStore(t, "E1", "S1")
	_, err := s.Apply(context.Background(), Batch{EventID: "E1", Seats: lockOps("L1", "S1", "S9")})
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, []string{"S9"}, conflict.SeatIDs)
}

func TestMemoryStore_ApplyVersionsAndAssertions(t *testing.T) {
	ctx := context.Background()
	s := seedStore(t, "E1", "S1", "S2")

	written, err := s.Apply(ctx, Batch{EventID: "E1", Seats: lockOps("L1", "S1", "S2")})
	require.NoError(t, err)
	require.Len(t, written, 2)
	assert.Equal(t, uint64(2), written[0].Version)
	assert.Equal(t, "S2", written[1].ID)

	assertOnly := []SeatCAS{
		{SeatID: "S1", Expected: model.SeatLocked, ExpectedOwner: "L1", Next: model.SeatLocked, NextOwner: "L1"},
	}
	written, err = s.Apply(ctx, Batch{EventID: "E1", Seats: assertOnly})
	require.NoError(t, err)
	assert.Empty(t, written)

	seats, _ := s.Seats(ctx, "E1", []string{"S1"})
	assert.Equal(t, uint64(2), seats[0].Version)

	wrongOwner := []SeatCAS{
		{SeatID: "S1", Expected: model.SeatLocked, ExpectedOwner: "L2", Next: model.SeatAvailable},
	}
	_, err = s.Apply(ctx, Batch{EventID: "E1", Seats: wrongOwner})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestMemoryStore_LockTransitionPrecondition(t *testing.T) {
	ctx := context.Background()
	s := seedStore(t, "E1", "S1")
	now := time.Now().UTC()
	lock := &model.Lock{ID: "L1", EventID: "E1", HolderID: "U1", Status: model.LockActive,
		Seats: []model.LockedSeat{{SeatID: "S1"}}, CreatedAt: now, ExpiresAt: now.Add(time.Minute)}

	_, err := s.Apply(ctx, Batch{EventID: "E1", Seats: lockOps("L1", "S1"), NewLock: lock})
	require.NoError(t, err)

	release := Batch{
		EventID: "E1",
		Seats:   []SeatCAS{{SeatID: "S1", Expected: model.SeatLocked, ExpectedOwner: "L1", Next: model.SeatAvailable}},
		Lock:    &LockTransition{LockID: "L1", From: model.LockActive, To: model.LockReleased},
	}
	_, err = s.Apply(ctx, release)
	require.NoError(t, err)

	// a second transition from ACTIVE loses and leaves the seat alone
	_, err = s.Apply(ctx, Batch{
		EventID: "E1",
		Seats:   []SeatCAS{{SeatID: "S1", Expected: model.SeatAvailable, Next: model.SeatBlocked}},
		Lock:    &LockTransition{LockID: "L1", From: model.LockActive, To: model.LockExpired},
	})
	assert.ErrorIs(t, err, ErrPreconditionFailed)

	got, err := s.Lock(ctx, "L1")
	require.NoError(t, err)
	assert.Equal(t, model.LockReleased, got.Status)
	seats, _ := s.Seats(ctx, "E1", []string{"S1"})
	assert.Equal(t, model.SeatAvailable, seats[0].Status)
}

func TestMemoryStore_DuplicateIdempotencyKey(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	b1 := &model.Booking{ID: "B1", IdempotencyKey: "K", Status: model.BookingPending}
	b2 := &model.Booking{ID: "B2", IdempotencyKey: "K", Status: model.BookingPending}

	_, err := s.Apply(ctx, Batch{NewBooking: b1})
	require.NoError(t, err)
	_, err = s.Apply(ctx, Batch{NewBooking: b2})
	assert.ErrorIs(t, err, ErrDuplicateIdempotencyKey)

	got, err := s.BookingByKey(ctx, "K")
	require.NoError(t, err)
	assert.Equal(t, "B1", got.ID)
	_, err = s.Booking(ctx, "B2")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_ConcurrentOverlappingClaims(t *testing.T) {
	ctx := context.Background()
	ids := make([]string, 20)
	for i := range ids {
		ids[i] = fmt.Sprintf("S%02d", i)
	}
	s := seedStore(t, "E1", ids...)

	var mu sync.Mutex
	claimed := make(map[string]string)
	var wg sync.WaitGroup
	for w := 0; w < 40; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			owner := fmt.Sprintf("L%d", w)
			pick := []string{ids[w%20], ids[(w*7+3)%20]}
			if pick[0] == pick[1] {
				pick = pick[:1]
			}
			if _, err := s.Apply(ctx, Batch{EventID: "E1", Seats: lockOps(owner, pick...)}); err != nil {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			for _, id := range pick {
				if prev, ok := claimed[id]; ok {
					t.Errorf("seat %s claimed by %s and %s", id, prev, owner)
				}
				claimed[id] = owner
			}
		}(w)
	}
	wg.Wait()

	seats, err := s.EventSeats(ctx, "E1")
	require.NoError(t, err)
	for _, seat := range seats {
		if owner, ok := claimed[seat.ID]; ok {
			assert.Equal(t, model.SeatLocked, seat.Status)
			assert.Equal(t, owner, seat.OwnerRef)
		} else {
			assert.Equal(t, model.SeatAvailable, seat.Status)
		}
	}
}

func TestMemoryStore_ExpiredRecords(t *testing.T) {
	ctx := context.Background()
	s := seedStore(t, "E1", "S1", "S2")
	now := time.Now().UTC()
	old := &model.Lock{ID: "L1", EventID: "E1", HolderID: "U1", Status: model.LockActive,
		Seats: []model.LockedSeat{{SeatID: "S1"}}, CreatedAt: now.Add(-time.Hour), ExpiresAt: now.Add(-time.Minute)}
	fresh := &model.Lock{ID: "L2", EventID: "E1", HolderID: "U1", Status: model.LockActive,
		Seats: []model.LockedSeat{{SeatID: "S2"}}, CreatedAt: now, ExpiresAt: now.Add(time.Minute)}
	_, err := s.Apply(ctx, Batch{EventID: "E1", Seats: lockOps("L1", "S1"), NewLock: old})
	require.NoError(t, err)
	_, err = s.Apply(ctx, Batch{EventID: "E1", Seats: lockOps("L2", "S2"), NewLock: fresh})
	require.NoError(t, err)

	expired, err := s.ExpiredLocks(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, "L1", expired[0].ID)

	held, err := s.HolderLocks(ctx, "E1", "U1", 10)
	require.NoError(t, err)
	require.Len(t, held, 2)
	assert.Equal(t, "L2", held[0].ID)

	n, err := s.HeldSeatCount(ctx, "E1", "U1", now)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "only the unexpired lock counts")
	n, err = s.HeldSeatCount(ctx, "E1", "U2", now)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestMemoryStore_PutSeatsKeepsExisting(t *testing.T) {
	ctx := context.Background()
	s := seedStore(t, "E1", "S1")
	_, err := s.Apply(ctx, Batch{EventID: "E1", Seats: lockOps("L1", "S1")})
	require.NoError(t, err)

	require.NoError(t, s.PutSeats(ctx, []model.Seat{{ID: "S1", EventID: "E1", Section: "B"}}))
	seats, _ := s.EventSeats(ctx, "E1")
	require.Len(t, seats, 1)
	assert.Equal(t, model.SeatLocked, seats[0].Status)
	assert.Equal(t, "A", seats[0].Section)
}
