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

// BookingConfig holds the booking policy.
type BookingConfig struct {
	// PaymentTimeout is how long a booking may stay PENDING.
	PaymentTimeout time.Duration
}

// ConfirmationPublisher is notified after a booking is confirmed.
type ConfirmationPublisher interface {
	BookingConfirmed(ctx context.Context, b model.Booking) error
}

// CreateBookingRequest carries the input of CreateBooking.  LockID is
// optional; without it the holder's lock covering SeatIDs is looked up.
type CreateBookingRequest struct {
	EventID        string
	SeatIDs        []string
	HolderID       string
	IdempotencyKey string
	LockID         string
}

// BookingOrchestrator turns locks into bookings and drives bookings through
// payment.
type BookingOrchestrator struct {
	inv           *Inventory
	queue         *ExpiryQueue
	cfg           BookingConfig
	confirmations ConfirmationPublisher
	gateway       PaymentGateway
	log           logrus.FieldLogger
}

// NewBookingOrchestrator returns an orchestrator.  confirmations and
// gateway may be nil.
func NewBookingOrchestrator(inv *Inventory, queue *ExpiryQueue, cfg BookingConfig, confirmations ConfirmationPublisher, gateway PaymentGateway, log logrus.FieldLogger) *BookingOrchestrator {
	if cfg.PaymentTimeout <= 0 {
		cfg.PaymentTimeout = 15 * time.Minute
	}
	if log == nil {
		log = discardLogger()
	}
	return &BookingOrchestrator{
		inv:           inv,
		queue:         queue,
		cfg:           cfg,
		confirmations: confirmations,
		gateway:       gateway,
		log:           log,
	}
}

// CreateBooking consumes the holder's lock on SeatIDs and records a
// PENDING booking under the idempotency key.  A key that was already used
// returns the original booking; created is false in that case.
func (o *BookingOrchestrator) CreateBooking(ctx context.Context, req CreateBookingRequest) (b *model.Booking, created bool, err error) {
	if req.IdempotencyKey == "" {
		return nil, false, &ValidationError{Msg: "idempotencyKey is required"}
	}
	if req.EventID == "" {
		return nil, false, &ValidationError{Msg: "eventId is required"}
	}
	if req.HolderID == "" {
		return nil, false, &ValidationError{Msg: "userId is required"}
	}
	if err := checkLen("idempotencyKey", req.IdempotencyKey, maxKeyLen); err != nil {
		return nil, false, err
	}
	if err := checkLen("eventId", req.EventID, maxIDLen); err != nil {
		return nil, false, err
	}
	if err := checkLen("userId", req.HolderID, maxKeyLen); err != nil {
		return nil, false, err
	}
	if err := validateSeatIDs(req.SeatIDs); err != nil {
		return nil, false, err
	}

	if b, err := o.replay(ctx, req); b != nil || err != nil {
		return b, false, err
	}

	lock, err := o.resolveLock(ctx, req)
	if err != nil {
		return o.settle(ctx, req, err)
	}
	now := o.inv.clock()
	if lock.ExpiredAt(now) {
		return nil, false, ErrLockExpired
	}

	b = &model.Booking{
		ID:             uuid.NewString(),
		EventID:        req.EventID,
		HolderID:       req.HolderID,
		LockID:         lock.ID,
		Seats:          make([]model.BookedSeat, 0, len(lock.Seats)),
		Currency:       lock.Currency,
		IdempotencyKey: req.IdempotencyKey,
		Status:         model.BookingPending,
		ExpiresAt:      now.Add(o.cfg.PaymentTimeout),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	ops := make([]repository.SeatCAS, 0, len(lock.Seats))
	for _, s := range lock.Seats {
		b.Seats = append(b.Seats, model.BookedSeat{
			SeatID: s.SeatID, Section: s.Section, Row: s.Row, Number: s.Number, PriceCents: s.PriceCents,
		})
		b.TotalAmountCents += s.PriceCents
		ops = append(ops, repository.SeatCAS{
			SeatID: s.SeatID, Expected: model.SeatLocked, ExpectedOwner: lock.ID,
			Next: model.SeatBooked, NextOwner: b.ID,
		})
	}

	written, err := o.inv.apply(ctx, repository.Batch{
		EventID:    req.EventID,
		Seats:      ops,
		Lock:       &repository.LockTransition{LockID: lock.ID, From: model.LockActive, To: model.LockConsumed},
		NewBooking: b,
		At:         now,
	})
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrDuplicateIdempotencyKey):
			return o.settle(ctx, req, ErrConcurrentUpdate)
		case errors.Is(err, repository.ErrPreconditionFailed):
			return o.settle(ctx, req, o.lockGoneError(ctx, lock.ID))
		}
		return nil, false, err
	}

	o.queue.ScheduleBooking(b.ID, b.ExpiresAt)
	o.inv.committed(ctx, model.EventSeatBooked, b.EventID, written, b.HolderID)
	o.log.WithFields(logrus.Fields{
		"booking_id": b.ID,
		"lock_id":    lock.ID,
		"event_id":   b.EventID,
		"user_id":    b.HolderID,
		"amount":     b.TotalAmountCents,
	}).Info("booking created")
	return b, true, nil
}

// replay returns the booking already stored under the request's key, or
// nil when the key is unused.
func (o *BookingOrchestrator) replay(ctx context.Context, req CreateBookingRequest) (*model.Booking, error) {
	b, err := o.inv.store.BookingByKey(ctx, req.IdempotencyKey)
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if b.HolderID != req.HolderID {
		return nil, ErrIdempotencyKeyReused
	}
	return b, nil
}

// settle re-checks the key after a failure that a concurrent request with
// the same key could have caused, such as finding the lock consumed.
func (o *BookingOrchestrator) settle(ctx context.Context, req CreateBookingRequest, cause error) (*model.Booking, bool, error) {
	if winner, err := o.replay(ctx, req); winner != nil || err != nil {
		return winner, false, err
	}
	return nil, false, cause
}

// resolveLock finds the holder's active lock for the requested seats.
func (o *BookingOrchestrator) resolveLock(ctx context.Context, req CreateBookingRequest) (*model.Lock, error) {
	if req.LockID != "" {
		l, err := o.inv.store.Lock(ctx, req.LockID)
		if isNotFound(err) {
			return nil, ErrLockNotFound
		}
		if err != nil {
			return nil, err
		}
		if l.HolderID != req.HolderID || l.EventID != req.EventID {
			return nil, ErrLockNotFound
		}
		return l, checkLock(l, req.SeatIDs)
	}

	locks, err := o.inv.store.HolderLocks(ctx, req.EventID, req.HolderID, holderLockScan)
	if err != nil {
		return nil, err
	}
	// Prefer an active exact match, then report the most telling failure.
	var fallback error = ErrLockNotFound
	for i := range locks {
		l := &locks[i]
		if !l.Overlaps(req.SeatIDs) {
			continue
		}
		err := checkLock(l, req.SeatIDs)
		if err == nil {
			return l, nil
		}
		if fallback == ErrLockNotFound {
			fallback = err
		}
	}
	return nil, fallback
}

func checkLock(l *model.Lock, seatIDs []string) error {
	switch l.Status {
	case model.LockConsumed:
		return ErrLockConsumed
	case model.LockExpired:
		return ErrLockExpired
	case model.LockReleased:
		return ErrLockNotFound
	}
	if !l.Covers(seatIDs) {
		return ErrLockMismatch
	}
	return nil
}

// lockGoneError explains why a lock that looked active lost its race.
func (o *BookingOrchestrator) lockGoneError(ctx context.Context, lockID string) error {
	l, err := o.inv.store.Lock(ctx, lockID)
	if err != nil {
		return ErrLockNotFound
	}
	switch l.Status {
	case model.LockConsumed:
		return ErrLockConsumed
	case model.LockExpired:
		return ErrLockExpired
	case model.LockReleased:
		return ErrLockNotFound
	}
	return ErrConcurrentUpdate
}

// ConfirmPayment moves a PENDING booking to CONFIRMED.  Confirming an
// already confirmed booking with the same payment reference is a no-op.
func (o *BookingOrchestrator) ConfirmPayment(ctx context.Context, bookingID, paymentRef string) (*model.Booking, error) {
	if paymentRef == "" {
		return nil, &ValidationError{Msg: "paymentRef is required"}
	}
	var out *model.Booking
	var confirmed bool
	err := reread(func() error {
		b, err := o.load(ctx, bookingID)
		if err != nil {
			return err
		}
		switch b.Status {
		case model.BookingConfirmed:
			if b.PaymentRef != paymentRef {
				return ErrPaymentRefMismatch
			}
			out = b
			return nil
		case model.BookingPending:
		default:
			return ErrInvalidBookingState
		}

		// The seats are asserted, not written: they stay BOOKED.
		asserts := make([]repository.SeatCAS, 0, len(b.Seats))
		for _, s := range b.Seats {
			asserts = append(asserts, repository.SeatCAS{
				SeatID: s.SeatID, Expected: model.SeatBooked, ExpectedOwner: b.ID,
				Next: model.SeatBooked, NextOwner: b.ID,
			})
		}
		now := o.inv.clock()
		if _, err := o.inv.apply(ctx, repository.Batch{
			EventID: b.EventID,
			Seats:   asserts,
			Booking: &repository.BookingTransition{
				BookingID: b.ID, From: model.BookingPending, To: model.BookingConfirmed, PaymentRef: paymentRef,
			},
			At: now,
		}); err != nil {
			return err
		}
		b.Status = model.BookingConfirmed
		b.PaymentRef = paymentRef
		b.UpdatedAt = now
		out, confirmed = b, true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if confirmed {
		o.log.WithFields(logrus.Fields{"booking_id": out.ID, "payment_ref": paymentRef}).Info("booking confirmed")
		if o.confirmations != nil {
			if err := o.confirmations.BookingConfirmed(context.WithoutCancel(ctx), *out); err != nil {
				o.log.WithError(err).WithField("booking_id", out.ID).Warn("publish booking confirmation failed")
			}
		}
	}
	return out, nil
}

// Cancel ends a booking on behalf of its holder.  A pending booking is
// cancelled; a confirmed one is refunded.  Terminal bookings are returned
// unchanged.
func (o *BookingOrchestrator) Cancel(ctx context.Context, bookingID, holderID string) (*model.Booking, error) {
	var out *model.Booking
	var refunded bool
	err := reread(func() error {
		b, err := o.load(ctx, bookingID)
		if err != nil {
			return err
		}
		if b.HolderID != holderID {
			return ErrForbidden
		}
		if b.Status.Terminal() {
			out = b
			return nil
		}
		to := model.BookingCancelled
		if b.Status == model.BookingConfirmed {
			to = model.BookingRefunded
		}
		if err := o.finish(ctx, b, to, holderID); err != nil {
			return err
		}
		out, refunded = b, to == model.BookingRefunded
		return nil
	})
	if err != nil {
		return nil, err
	}
	if refunded && o.gateway != nil {
		if err := o.gateway.Refund(context.WithoutCancel(ctx), *out); err != nil {
			o.log.WithError(err).WithField("booking_id", out.ID).Warn("refund request failed")
		}
	}
	return out, nil
}

// FailPayment cancels a pending booking whose payment failed.
func (o *BookingOrchestrator) FailPayment(ctx context.Context, bookingID, reason string) (*model.Booking, error) {
	var out *model.Booking
	err := reread(func() error {
		b, err := o.load(ctx, bookingID)
		if err != nil {
			return err
		}
		switch {
		case b.Status.Terminal():
			out = b
			return nil
		case b.Status != model.BookingPending:
			return ErrInvalidBookingState
		}
		if err := o.finish(ctx, b, model.BookingCancelled, ""); err != nil {
			return err
		}
		out = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	o.log.WithFields(logrus.Fields{"booking_id": bookingID, "reason": reason}).Info("payment failed")
	return out, nil
}

// Refund moves a confirmed booking to REFUNDED after the provider refunded
// it.  Repeated refunds are no-ops.
func (o *BookingOrchestrator) Refund(ctx context.Context, bookingID string) (*model.Booking, error) {
	var out *model.Booking
	err := reread(func() error {
		b, err := o.load(ctx, bookingID)
		if err != nil {
			return err
		}
		switch b.Status {
		case model.BookingRefunded:
			out = b
			return nil
		case model.BookingConfirmed:
		default:
			return ErrInvalidBookingState
		}
		if err := o.finish(ctx, b, model.BookingRefunded, ""); err != nil {
			return err
		}
		out = b
		return nil
	})
	return out, err
}

// Expire moves an overdue pending booking to EXPIRED.  It reports false
// when the booking is gone, not due, or already settled.
func (o *BookingOrchestrator) Expire(ctx context.Context, bookingID string) (bool, error) {
	b, err := o.inv.store.Booking(ctx, bookingID)
	if isNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if b.Status != model.BookingPending || o.inv.clock().Before(b.ExpiresAt) {
		return false, nil
	}
	err = o.finish(ctx, b, model.BookingExpired, "")
	if errors.Is(err, repository.ErrPreconditionFailed) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	o.log.WithFields(logrus.Fields{"booking_id": b.ID, "event_id": b.EventID}).Info("booking expired")
	return true, nil
}

// Get returns a booking.  A non-empty holderID must own it.
func (o *BookingOrchestrator) Get(ctx context.Context, bookingID, holderID string) (*model.Booking, error) {
	b, err := o.load(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if holderID != "" && b.HolderID != holderID {
		return nil, ErrForbidden
	}
	return b, nil
}

// List returns the holder's bookings, newest first.
func (o *BookingOrchestrator) List(ctx context.Context, holderID string, limit int) ([]model.Booking, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	return o.inv.store.BookingsByHolder(ctx, holderID, limit)
}

func (o *BookingOrchestrator) load(ctx context.Context, bookingID string) (*model.Booking, error) {
	b, err := o.inv.store.Booking(ctx, bookingID)
	if isNotFound(err) {
		return nil, ErrNotFound
	}
	return b, err
}

// finish moves a booking to a seat-freeing status and returns its seats
// to AVAILABLE in one batch.  b is updated in place on success.
func (o *BookingOrchestrator) finish(ctx context.Context, b *model.Booking, to model.BookingStatus, actor string) error {
	ops := make([]repository.SeatCAS, 0, len(b.Seats))
	for _, s := range b.Seats {
		ops = append(ops, repository.SeatCAS{
			SeatID: s.SeatID, Expected: model.SeatBooked, ExpectedOwner: b.ID, Next: model.SeatAvailable,
		})
	}
	now := o.inv.clock()
	written, err := o.inv.apply(ctx, repository.Batch{
		EventID: b.EventID,
		Seats:   ops,
		Booking: &repository.BookingTransition{BookingID: b.ID, From: b.Status, To: to},
		At:      now,
	})
	if err != nil {
		return err
	}
	b.Status = to
	b.UpdatedAt = now
	o.inv.committed(ctx, model.EventSeatReleased, b.EventID, written, actor)
	o.inv.hint(ctx, b.EventID, b.SeatIDs(), actor)
	return nil
}
