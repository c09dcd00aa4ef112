package model

import "time"

// WaitlistStatus tracks whether a waiting holder has been told about
// freed seats.
type WaitlistStatus string

const (
	WaitlistWaiting  WaitlistStatus = "WAITING"
	WaitlistNotified WaitlistStatus = "NOTIFIED"
)

// WaitlistEntry is a holder queued for seats of an event.  A holder has
// at most one entry per event.  An empty SectionID accepts any section.
type WaitlistEntry struct {
	ID         string         `json:"id"`
	EventID    string         `json:"eventId"`
	UserID     string         `json:"userId"`
	SectionID  string         `json:"sectionId,omitempty"`
	SeatCount  int            `json:"seatCount"`
	Status     WaitlistStatus `json:"status"`
	CreatedAt  time.Time      `json:"createdAt"`
	NotifiedAt *time.Time     `json:"notifiedAt,omitempty"`
}
