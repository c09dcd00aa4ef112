package model

import "time"

// SeatStatus is the authoritative claim state of a seat.
type SeatStatus string

const (
	SeatAvailable SeatStatus = "AVAILABLE"
	SeatLocked    SeatStatus = "LOCKED"
	SeatBooked    SeatStatus = "BOOKED"
	SeatBlocked   SeatStatus = "BLOCKED"
)

// Valid reports whether s is one of the known seat statuses.
func (s SeatStatus) Valid() bool {
	switch s {
	case SeatAvailable, SeatLocked, SeatBooked, SeatBlocked:
		return true
	}
	return false
}

// Seat is a single sellable seat of an event.  Seats are uniquely
// identified by their event and seat id.  The owner reference points at
// the lock (while LOCKED) or the booking (while BOOKED) that claims the
// seat and is empty otherwise.
//
// Fields:
//
//	ID         - seat identifier, unique within the event.
//	EventID    - event the seat belongs to.
//	Section    - section identifier (price tier / block).
//	Row        - row label within the section.
//	Number     - seat number within the row.
//	PriceCents - price in minor currency units.
//	Currency   - ISO 4217 currency code.
//	Status     - current claim state.
//	OwnerRef   - lock id or booking id holding the seat.
//	Version    - incremented on every committed transition.
//	UpdatedAt  - time of the last committed transition.
type Seat struct {
	ID         string     `json:"id"`
	EventID    string     `json:"eventId"`
	Section    string     `json:"section"`
	Row        string     `json:"row"`
	Number     int        `json:"number"`
	PriceCents int64      `json:"priceCents"`
	Currency   string     `json:"currency"`
	Status     SeatStatus `json:"status"`
	OwnerRef   string     `json:"-"`
	Version    uint64     `json:"version"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}
