package model

import "time"

// BookingStatus is the lifecycle state of a booking.
type BookingStatus string

const (
	BookingPending   BookingStatus = "PENDING"
	BookingConfirmed BookingStatus = "CONFIRMED"
	BookingCancelled BookingStatus = "CANCELLED"
	BookingExpired   BookingStatus = "EXPIRED"
	BookingRefunded  BookingStatus = "REFUNDED"
)

// Terminal reports whether no further transition is possible.
func (s BookingStatus) Terminal() bool {
	switch s {
	case BookingCancelled, BookingExpired, BookingRefunded:
		return true
	}
	return false
}

// BookedSeat is one seat of a booking with its price frozen at lock time.
type BookedSeat struct {
	SeatID     string `json:"seatId"`
	Section    string `json:"sectionName"`
	Row        string `json:"row"`
	Number     int    `json:"number"`
	PriceCents int64  `json:"priceCents"`
}

// Booking records a holder's purchase of the seats of one consumed lock.
// The idempotency key is globally unique; replays of the same key resolve
// to the same booking.
//
// Fields:
//
//	ID               - booking identifier.
//	EventID          - event being booked.
//	HolderID         - identity that created the booking.
//	LockID           - lock consumed to create the booking.
//	Seats            - ordered booked seats.
//	TotalAmountCents - sum of seat prices.
//	Currency         - ISO 4217 code.
//	IdempotencyKey   - client supplied, unique.
//	Status           - PENDING, CONFIRMED, CANCELLED, EXPIRED or REFUNDED.
//	PaymentRef       - external payment reference, set on confirmation.
//	ExpiresAt        - payment deadline while PENDING.
//	CreatedAt        - creation timestamp.
//	UpdatedAt        - last status change.
type Booking struct {
	ID               string        `json:"id"`
	EventID          string        `json:"eventId"`
	HolderID         string        `json:"userId"`
	LockID           string        `json:"lockId"`
	Seats            []BookedSeat  `json:"seats"`
	TotalAmountCents int64         `json:"totalAmountCents"`
	Currency         string        `json:"currency"`
	IdempotencyKey   string        `json:"idempotencyKey"`
	Status           BookingStatus `json:"status"`
	PaymentRef       string        `json:"paymentId,omitempty"`
	ExpiresAt        time.Time     `json:"expiresAt"`
	CreatedAt        time.Time     `json:"createdAt"`
	UpdatedAt        time.Time     `json:"updatedAt"`
}

// SeatIDs returns the booked seat identifiers in booking order.
func (b *Booking) SeatIDs() []string {
	ids := make([]string, 0, len(b.Seats))
	for _, s := range b.Seats {
		ids = append(ids, s.SeatID)
	}
	return ids
}
