package queue

import (
	"context"
	"time"

	"github.com/iliyamo/seat-inventory/internal/model"
)

// WaitlistAvailableEvent tells a waiting holder that seats of an event
// were released.
type WaitlistAvailableEvent struct {
	EventType string `json:"event_type"`
	UserID    string `json:"user_id"`
	EventID   string `json:"event_id"`
	SectionID string `json:"section_id,omitempty"`
	SeatCount int    `json:"seat_count"`
	Timestamp string `json:"timestamp"`
}

// WaitlistNotifier publishes waitlist notifications to
// waitlist.notifications for the notification service to deliver.
type WaitlistNotifier struct {
	pub MessagePublisher
	now func() time.Time
}

func NewWaitlistNotifier(pub MessagePublisher) *WaitlistNotifier {
	return &WaitlistNotifier{pub: pub, now: time.Now}
}

func (n *WaitlistNotifier) WaitlistAvailable(ctx context.Context, e model.WaitlistEntry) error {
	return n.pub.Publish(ctx, WaitlistQueue, WaitlistAvailableEvent{
		EventType: "waitlist.available",
		UserID:    e.UserID,
		EventID:   e.EventID,
		SectionID: e.SectionID,
		SeatCount: e.SeatCount,
		Timestamp: n.now().UTC().Format(time.RFC3339),
	})
}
