package model

import "time"

// SeatEventType names the kind of seat transition being broadcast.
type SeatEventType string

const (
	EventSeatLocked         SeatEventType = "SEAT_LOCKED"
	EventSeatReleased       SeatEventType = "SEAT_RELEASED"
	EventSeatBooked         SeatEventType = "SEAT_BOOKED"
	EventAvailabilityUpdate SeatEventType = "AVAILABILITY_UPDATE"
)

// SeatEvent is the broadcast record of a committed seat transition.  It is
// a hint: watchers re-read authoritative status when in doubt.  Versions
// maps each affected seat to the version it reached with this transition
// and is empty for pure availability hints.  Cursor is assigned by the
// broadcaster at delivery time.
type SeatEvent struct {
	Type      SeatEventType     `json:"type"`
	EventID   string            `json:"eventId"`
	SeatIDs   []string          `json:"seatIds"`
	UserID    string            `json:"userId,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Versions  map[string]uint64 `json:"versions,omitempty"`
	Cursor    string            `json:"cursor,omitempty"`
}
