package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/seat-inventory/internal/model"
	"github.com/iliyamo/seat-inventory/internal/repository"
)

// WaitlistNotifier tells a waiting holder that seats freed up.
type WaitlistNotifier interface {
	WaitlistAvailable(ctx context.Context, e model.WaitlistEntry) error
}

// WaitlistConfig bounds waitlist requests and notification rounds.
type WaitlistConfig struct {
	// MaxSeats caps the seats one entry may wait for.
	MaxSeats int
	// NotifyBatch is how many of the oldest entries are considered each
	// time seats are released.
	NotifyBatch int
}

// WaitlistService queues holders for sold-out events and notifies the
// oldest ones when seats are released.  A notification is a hint: the
// holder still has to win the seats through a lock.
type WaitlistService struct {
	inv      *Inventory
	store    repository.WaitlistStore
	notifier WaitlistNotifier
	cfg      WaitlistConfig
	log      logrus.FieldLogger
}

// NewWaitlistService returns a waitlist.  notifier may be nil, in which
// case entries are marked notified without a message being sent.
func NewWaitlistService(inv *Inventory, store repository.WaitlistStore, notifier WaitlistNotifier, cfg WaitlistConfig, log logrus.FieldLogger) *WaitlistService {
	if inv == nil || store == nil {
		panic("nil dependency passed to NewWaitlistService")
	}
	if cfg.MaxSeats <= 0 {
		cfg.MaxSeats = 10
	}
	if cfg.NotifyBatch <= 0 {
		cfg.NotifyBatch = 10
	}
	if log == nil {
		log = discardLogger()
	}
	return &WaitlistService{inv: inv, store: store, notifier: notifier, cfg: cfg, log: log}
}

// Join queues userID for seats of eventID, optionally in one section.
// Joining twice returns the existing entry with created false.
func (w *WaitlistService) Join(ctx context.Context, eventID, userID, sectionID string, seatCount int) (*model.WaitlistEntry, bool, error) {
	if eventID == "" {
		return nil, false, &ValidationError{Msg: "eventId is required"}
	}
	if userID == "" {
		return nil, false, &ValidationError{Msg: "userId is required"}
	}
	if err := checkLen("eventId", eventID, maxIDLen); err != nil {
		return nil, false, err
	}
	if err := checkLen("userId", userID, maxKeyLen); err != nil {
		return nil, false, err
	}
	if seatCount == 0 {
		seatCount = 1
	}
	if seatCount < 0 || seatCount > w.cfg.MaxSeats {
		return nil, false, &ValidationError{Msg: "seatCount out of range"}
	}

	seats, err := w.inv.store.EventSeats(ctx, eventID)
	if err != nil {
		return nil, false, err
	}
	if len(seats) == 0 {
		return nil, false, ErrNotFound
	}
	if sectionID != "" && !hasSection(seats, sectionID) {
		return nil, false, &ValidationError{Msg: "unknown section " + sectionID}
	}

	e, created, err := w.store.Join(ctx, model.WaitlistEntry{
		ID:        uuid.NewString(),
		EventID:   eventID,
		UserID:    userID,
		SectionID: sectionID,
		SeatCount: seatCount,
		Status:    model.WaitlistWaiting,
		CreatedAt: w.inv.clock(),
	})
	if err != nil {
		return nil, false, err
	}
	if created {
		w.log.WithFields(logrus.Fields{"event_id": eventID, "user_id": userID, "section": sectionID, "seats": seatCount}).Info("joined waitlist")
	}
	return &e, created, nil
}

// Leave removes the holder from the event's waitlist.  Leaving a list the
// holder is not on is a no-op.
func (w *WaitlistService) Leave(ctx context.Context, eventID, userID string) error {
	left, err := w.store.Leave(ctx, eventID, userID)
	if err != nil {
		return err
	}
	if left {
		w.log.WithFields(logrus.Fields{"event_id": eventID, "user_id": userID}).Info("left waitlist")
	}
	return nil
}

// Position returns the holder's entry and its 1-based rank among waiting
// entries; the rank is 0 once the holder was notified.
func (w *WaitlistService) Position(ctx context.Context, eventID, userID string) (*model.WaitlistEntry, int, error) {
	e, err := w.store.Entry(ctx, eventID, userID)
	if isNotFound(err) {
		return nil, 0, ErrNotFound
	}
	if err != nil {
		return nil, 0, err
	}
	pos, err := w.store.Position(ctx, eventID, userID)
	if isNotFound(err) {
		return nil, 0, ErrNotFound
	}
	if err != nil {
		return nil, 0, err
	}
	return &e, pos, nil
}

// Waiting lists the event's waiting entries, oldest first.
func (w *WaitlistService) Waiting(ctx context.Context, eventID string, limit int) ([]model.WaitlistEntry, error) {
	return w.store.Waiting(ctx, eventID, clampLimit(limit))
}

// Mine lists the holder's entries across events, newest first.
func (w *WaitlistService) Mine(ctx context.Context, userID string, limit int) ([]model.WaitlistEntry, error) {
	return w.store.ByUser(ctx, userID, clampLimit(limit))
}

// NotifyNext walks the oldest waiting entries and notifies each one whose
// seat count still fits the event's free seats, in its section when it
// named one.  It returns how many entries were notified.
func (w *WaitlistService) NotifyNext(ctx context.Context, eventID string) (int, error) {
	waiting, err := w.store.Waiting(ctx, eventID, w.cfg.NotifyBatch)
	if err != nil || len(waiting) == 0 {
		return 0, err
	}
	a, err := w.inv.Availability(ctx, eventID)
	if err != nil {
		return 0, err
	}
	total := a.AvailableSeats
	bySection := make(map[string]int, len(a.Sections))
	for _, s := range a.Sections {
		bySection[s.SectionID] = s.Available
	}
	notified := 0
	for _, e := range waiting {
		if total <= 0 {
			break
		}
		free := total
		if e.SectionID != "" {
			free = min(free, bySection[e.SectionID])
		}
		if e.SeatCount > free {
			continue
		}
		ok, err := w.store.MarkNotified(ctx, e.ID, w.inv.clock())
		if err != nil {
			return notified, err
		}
		if !ok {
			continue
		}
		total -= e.SeatCount
		if e.SectionID != "" {
			bySection[e.SectionID] -= e.SeatCount
		}
		notified++
		log := w.log.WithFields(logrus.Fields{"event_id": eventID, "user_id": e.UserID, "seats": e.SeatCount})
		if w.notifier != nil {
			if err := w.notifier.WaitlistAvailable(ctx, e); err != nil {
				log.WithError(err).Warn("waitlist notification failed")
				continue
			}
		}
		log.Info("waitlist entry notified")
	}
	return notified, nil
}

// Publish reacts to committed seat events: released seats trigger a
// notification round for their event.
func (w *WaitlistService) Publish(ctx context.Context, ev model.SeatEvent) {
	if ev.Type != model.EventSeatReleased {
		return
	}
	if _, err := w.NotifyNext(ctx, ev.EventID); err != nil {
		w.log.WithError(err).WithField("event_id", ev.EventID).Warn("waitlist notification round failed")
	}
}

func hasSection(seats []model.Seat, section string) bool {
	for _, s := range seats {
		if s.Section == section {
			return true
		}
	}
	return false
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 100 {
		return 50
	}
	return limit
}
