package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/iliyamo/seat-inventory/internal/model"
	"github.com/iliyamo/seat-inventory/internal/repository"
)

// EventPublisher receives every committed seat transition.
type EventPublisher interface {
	Publish(ctx context.Context, ev model.SeatEvent)
}

// Publishers fans every event out to each publisher in order.
type Publishers []EventPublisher

func (ps Publishers) Publish(ctx context.Context, ev model.SeatEvent) {
	for _, p := range ps {
		p.Publish(ctx, ev)
	}
}

// AvailabilityCache holds derived availability snapshots.  Set must drop
// the snapshot when the event was invalidated after gen was read.
type AvailabilityCache interface {
	Get(ctx context.Context, eventID string) (*model.Availability, bool, error)
	Generation(ctx context.Context, eventID string) (int64, error)
	Set(ctx context.Context, a model.Availability, gen int64) (bool, error)
	Invalidate(ctx context.Context, eventID string) error
}

// Inventory is the service-side face of the seat inventory store.  It owns
// the post-commit effects shared by every component: invalidating the
// availability cache and publishing seat events.
type Inventory struct {
	store  repository.Store
	cache  AvailabilityCache
	events EventPublisher
	log    logrus.FieldLogger
	now    func() time.Time
}

// NewInventory wires the store with its cache and event sink.  cache and
// events may be nil.
func NewInventory(store repository.Store, cache AvailabilityCache, events EventPublisher, log logrus.FieldLogger) *Inventory {
	if store == nil {
		panic("nil store passed to NewInventory")
	}
	if cache == nil {
		cache = repository.NewAvailabilityCache(nil, 0)
	}
	if log == nil {
		log = discardLogger()
	}
	return &Inventory{store: store, cache: cache, events: events, log: log, now: time.Now}
}

// OnCommit adds p to the sinks of committed seat events.  Call it during
// wiring, before the inventory serves requests.
func (i *Inventory) OnCommit(p EventPublisher) {
	if i.events == nil {
		i.events = p
		return
	}
	i.events = Publishers{i.events, p}
}

// Store returns the underlying store.
func (i *Inventory) Store() repository.Store { return i.store }

// clock returns the current time at the store's precision.
func (i *Inventory) clock() time.Time {
	return i.now().UTC().Truncate(time.Microsecond)
}

// GetStatus returns the current status of each requested seat.  Unknown
// seats are absent from the result.
func (i *Inventory) GetStatus(ctx context.Context, eventID string, seatIDs []string) (map[string]model.SeatStatus, error) {
	seats, err := i.store.Seats(ctx, eventID, seatIDs)
	if err != nil {
		return nil, err
	}
	out := make(map[string]model.SeatStatus, len(seats))
	for _, s := range seats {
		out[s.ID] = s.Status
	}
	return out, nil
}

// Seats returns the requested seats, or every seat of the event when
// seatIDs is empty.
func (i *Inventory) Seats(ctx context.Context, eventID string, seatIDs []string) ([]model.Seat, error) {
	var seats []model.Seat
	var err error
	if len(seatIDs) == 0 {
		seats, err = i.store.EventSeats(ctx, eventID)
	} else {
		seats, err = i.store.Seats(ctx, eventID, seatIDs)
	}
	if err != nil {
		return nil, err
	}
	if len(seats) == 0 {
		return nil, ErrNotFound
	}
	return seats, nil
}

// Availability returns per-section counts, from cache when possible.
func (i *Inventory) Availability(ctx context.Context, eventID string) (model.Availability, error) {
	cached, ok, err := i.cache.Get(ctx, eventID)
	if err != nil {
		i.log.WithError(err).WithField("event_id", eventID).Warn("availability cache read failed")
	} else if ok {
		return *cached, nil
	}
	gen, genErr := i.cache.Generation(ctx, eventID)
	seats, err := i.store.EventSeats(ctx, eventID)
	if err != nil {
		return model.Availability{}, err
	}
	if len(seats) == 0 {
		return model.Availability{}, ErrNotFound
	}
	a := model.ComputeAvailability(eventID, seats, i.clock())
	if genErr != nil {
		return a, nil
	}
	if stored, err := i.cache.Set(ctx, a, gen); err != nil {
		i.log.WithError(err).WithField("event_id", eventID).Warn("availability cache write failed")
	} else if !stored {
		i.log.WithField("event_id", eventID).Debug("availability changed while loading, not cached")
	}
	return a, nil
}

// CompareAndSwap moves one seat from expected to next status, recording
// ownerRef as the new owner.
func (i *Inventory) CompareAndSwap(ctx context.Context, eventID, seatID string, expected, next model.SeatStatus, ownerRef, actor string) (model.Seat, error) {
	written, err := i.swapAll(ctx, eventID, []string{seatID}, expected, next, ownerRef, actor)
	if err != nil {
		return model.Seat{}, err
	}
	return written[0], nil
}

// Block takes available seats out of sale.  Either every seat is blocked
// or none is.
func (i *Inventory) Block(ctx context.Context, eventID string, seatIDs []string, actor string) ([]model.Seat, error) {
	return i.swapAll(ctx, eventID, seatIDs, model.SeatAvailable, model.SeatBlocked, "", actor)
}

// Unblock returns blocked seats to sale.
func (i *Inventory) Unblock(ctx context.Context, eventID string, seatIDs []string, actor string) ([]model.Seat, error) {
	return i.swapAll(ctx, eventID, seatIDs, model.SeatBlocked, model.SeatAvailable, "", actor)
}

// swapAll applies the same transition to every seat as one batch.  The
// expected owner of each seat is taken from a fresh read; the batch
// re-checks it, so a concurrent claim still loses cleanly.
func (i *Inventory) swapAll(ctx context.Context, eventID string, seatIDs []string, expected, next model.SeatStatus, ownerRef, actor string) ([]model.Seat, error) {
	if err := validateSeatIDs(seatIDs); err != nil {
		return nil, err
	}
	if !expected.Valid() || !next.Valid() || expected == next {
		return nil, &ValidationError{Msg: "invalid seat transition"}
	}
	current, err := i.store.Seats(ctx, eventID, seatIDs)
	if err != nil {
		return nil, err
	}
	if missing := missingSeats(seatIDs, current); len(missing) > 0 {
		return nil, &ValidationError{Msg: "seats do not belong to event", SeatIDs: missing}
	}
	var conflicts []string
	ops := make([]repository.SeatCAS, 0, len(current))
	for _, s := range current {
		if s.Status != expected {
			conflicts = append(conflicts, s.ID)
			continue
		}
		ops = append(ops, repository.SeatCAS{
			SeatID: s.ID, Expected: expected, ExpectedOwner: s.OwnerRef, Next: next, NextOwner: ownerRef,
		})
	}
	if len(conflicts) > 0 {
		return nil, &repository.ConflictError{SeatIDs: conflicts}
	}
	written, err := i.apply(ctx, repository.Batch{EventID: eventID, Seats: ops, At: i.clock()})
	if err != nil {
		return nil, err
	}
	i.committed(ctx, eventTypeFor(next), eventID, written, actor)
	return written, nil
}

// Seed inserts seats that do not exist yet.
func (i *Inventory) Seed(ctx context.Context, seats []model.Seat) error {
	if err := i.store.PutSeats(ctx, seats); err != nil {
		return err
	}
	events := make(map[string]struct{})
	for _, s := range seats {
		events[s.EventID] = struct{}{}
	}
	for id := range events {
		if err := i.cache.Invalidate(ctx, id); err != nil {
			i.log.WithError(err).WithField("event_id", id).Warn("availability cache invalidate failed")
		}
	}
	return nil
}

func (i *Inventory) apply(ctx context.Context, b repository.Batch) ([]model.Seat, error) {
	return applyWithRetry(ctx, i.store, b)
}

// committed runs the effects of a committed batch.  It never fails the
// operation: the transition is already durable.
func (i *Inventory) committed(ctx context.Context, typ model.SeatEventType, eventID string, seats []model.Seat, actor string) {
	if len(seats) == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)
	if err := i.cache.Invalidate(ctx, eventID); err != nil {
		i.log.WithError(err).WithField("event_id", eventID).Warn("availability cache invalidate failed")
	}
	if i.events == nil {
		return
	}
	ev := model.SeatEvent{
		Type:      typ,
		EventID:   eventID,
		SeatIDs:   make([]string, 0, len(seats)),
		UserID:    actor,
		Timestamp: i.clock(),
		Versions:  make(map[string]uint64, len(seats)),
	}
	for _, s := range seats {
		ev.SeatIDs = append(ev.SeatIDs, s.ID)
		ev.Versions[s.ID] = s.Version
	}
	i.events.Publish(ctx, ev)
}

// hint publishes an unversioned availability update.
func (i *Inventory) hint(ctx context.Context, eventID string, seatIDs []string, actor string) {
	if i.events == nil || len(seatIDs) == 0 {
		return
	}
	i.events.Publish(context.WithoutCancel(ctx), model.SeatEvent{
		Type:      model.EventAvailabilityUpdate,
		EventID:   eventID,
		SeatIDs:   append([]string(nil), seatIDs...),
		UserID:    actor,
		Timestamp: i.clock(),
	})
}

func eventTypeFor(next model.SeatStatus) model.SeatEventType {
	switch next {
	case model.SeatLocked:
		return model.EventSeatLocked
	case model.SeatBooked:
		return model.EventSeatBooked
	case model.SeatAvailable:
		return model.EventSeatReleased
	}
	return model.EventAvailabilityUpdate
}

// Column widths of the durable store.
const (
	maxIDLen  = 64
	maxKeyLen = 128
)

// checkLen rejects a value that would not fit its column.
func checkLen(field, v string, limit int) error {
	if len(v) > limit {
		return &ValidationError{Msg: fmt.Sprintf("%s must be at most %d bytes", field, limit)}
	}
	return nil
}

// validateSeatIDs checks that ids is non-empty, has no blanks, no
// duplicates and no id wider than the store allows.
func validateSeatIDs(ids []string) error {
	if len(ids) == 0 {
		return &ValidationError{Msg: "seatIds must not be empty"}
	}
	seen := make(map[string]struct{}, len(ids))
	var dups []string
	for _, id := range ids {
		if id == "" {
			return &ValidationError{Msg: "seat id must not be blank"}
		}
		if len(id) > maxIDLen {
			return &ValidationError{Msg: fmt.Sprintf("seat id must be at most %d bytes", maxIDLen), SeatIDs: []string{id}}
		}
		if _, ok := seen[id]; ok {
			dups = append(dups, id)
			continue
		}
		seen[id] = struct{}{}
	}
	if len(dups) > 0 {
		return &ValidationError{Msg: "seatIds must be distinct", SeatIDs: dups}
	}
	return nil
}

func missingSeats(ids []string, found []model.Seat) []string {
	have := make(map[string]struct{}, len(found))
	for _, s := range found {
		have[s.ID] = struct{}{}
	}
	var missing []string
	for _, id := range ids {
		if _, ok := have[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing
}

func isNotFound(err error) bool { return errors.Is(err, repository.ErrNotFound) }

func discardLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}
