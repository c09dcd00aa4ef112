package model

import "time"

// LockStatus tracks the lifecycle of a provisional hold.
type LockStatus string

const (
	LockActive   LockStatus = "ACTIVE"
	LockReleased LockStatus = "RELEASED"
	LockExpired  LockStatus = "EXPIRED"
	LockConsumed LockStatus = "CONSUMED"
)

// LockedSeat is the snapshot of a seat taken when the lock was granted.
// The price recorded here is what a booking created from the lock pays.
type LockedSeat struct {
	SeatID     string `json:"seatId"`
	Section    string `json:"section"`
	Row        string `json:"row"`
	Number     int    `json:"number"`
	PriceCents int64  `json:"priceCents"`
}

// Lock represents a time-bounded exclusive hold on a set of seats.  While
// the lock is ACTIVE every referenced seat is LOCKED with OwnerRef equal
// to the lock ID.  Locks are never extended: ExpiresAt is fixed at
// creation.
//
// Fields:
//
//	ID        - lock identifier returned to the client.
//	EventID   - event whose seats are held.
//	HolderID  - identity that acquired the lock.
//	Seats     - non-empty ordered seat snapshot.
//	Currency  - currency shared by all held seats.
//	Status    - ACTIVE, RELEASED, EXPIRED or CONSUMED.
//	CreatedAt - acquisition time.
//	ExpiresAt - CreatedAt plus the configured TTL.
//	UpdatedAt - time of the last status change.
type Lock struct {
	ID        string       `json:"lockId"`
	EventID   string       `json:"eventId"`
	HolderID  string       `json:"userId"`
	Seats     []LockedSeat `json:"seats"`
	Currency  string       `json:"currency"`
	Status    LockStatus   `json:"status"`
	CreatedAt time.Time    `json:"createdAt"`
	ExpiresAt time.Time    `json:"expiresAt"`
	UpdatedAt time.Time    `json:"updatedAt"`
}

// SeatIDs returns the held seat identifiers in lock order.
func (l *Lock) SeatIDs() []string {
	ids := make([]string, 0, len(l.Seats))
	for _, s := range l.Seats {
		ids = append(ids, s.SeatID)
	}
	return ids
}

// ExpiredAt reports whether the lock's TTL has elapsed at t.
func (l *Lock) ExpiredAt(t time.Time) bool { return !t.Before(l.ExpiresAt) }

// Covers reports whether the lock holds exactly the given seat set.
func (l *Lock) Covers(seatIDs []string) bool {
	if len(seatIDs) != len(l.Seats) {
		return false
	}
	held := make(map[string]struct{}, len(l.Seats))
	for _, s := range l.Seats {
		held[s.SeatID] = struct{}{}
	}
	for _, id := range seatIDs {
		if _, ok := held[id]; !ok {
			return false
		}
		delete(held, id)
	}
	return len(held) == 0
}

// Overlaps reports whether the lock holds any of the given seats.
func (l *Lock) Overlaps(seatIDs []string) bool {
	for _, s := range l.Seats {
		for _, id := range seatIDs {
			if s.SeatID == id {
				return true
			}
		}
	}
	return false
}
