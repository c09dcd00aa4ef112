// Package queue carries booking and payment messages over RabbitMQ.
package queue

import (
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/iliyamo/seat-inventory/internal/model"
)

// Queue names.  All queues are durable.
const (
	BookingConfirmedQueue = "booking.confirmed"
	PaymentCommandsQueue  = "payment.commands"
	PaymentResultsQueue   = "payment.results"
	PaymentResultsDLQ     = "payment.results.dlq"
	WaitlistQueue         = "waitlist.notifications"
)

// deadLetters maps a queue to the queue its rejected messages move to.
var deadLetters = map[string]string{
	PaymentResultsQueue: PaymentResultsDLQ,
}

// QueueArgs returns the declaration arguments of a queue.  Every party
// declaring a queue must pass the same arguments or the broker refuses
// the declaration.
func QueueArgs(name string) amqp.Table {
	dlq, ok := deadLetters[name]
	if !ok {
		return nil
	}
	return amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": dlq,
	}
}

// declare declares name as a durable queue, and its dead-letter queue
// first when it has one.
func declare(ch *amqp.Channel, name string) error {
	if dlq, ok := deadLetters[name]; ok {
		if _, err := ch.QueueDeclare(dlq, true, false, false, false, nil); err != nil {
			return err
		}
	}
	_, err := ch.QueueDeclare(name, true, false, false, false, QueueArgs(name))
	return err
}

// BookingConfirmedEvent is published when a booking is confirmed.  It
// carries enough for downstream consumers to log or notify without
// querying the seat store.
type BookingConfirmedEvent struct {
	BookingID        string   `json:"booking_id"`
	UserID           string   `json:"user_id"`
	EventID          string   `json:"event_id"`
	LockID           string   `json:"lock_id"`
	SeatLabels       []string `json:"seats"`
	TotalAmountCents int64    `json:"total_amount_cents"`
	Currency         string   `json:"currency"`
	PaymentRef       string   `json:"payment_ref"`
	ConfirmedAt      string   `json:"confirmed_at"`
}

// NewBookingConfirmedEvent builds the event for a confirmed booking.
// Seats are labelled section-row-number.
func NewBookingConfirmedEvent(b model.Booking) BookingConfirmedEvent {
	labels := make([]string, 0, len(b.Seats))
	for _, s := range b.Seats {
		labels = append(labels, fmt.Sprintf("%s-%s-%d", s.Section, s.Row, s.Number))
	}
	return BookingConfirmedEvent{
		BookingID:        b.ID,
		UserID:           b.HolderID,
		EventID:          b.EventID,
		LockID:           b.LockID,
		SeatLabels:       labels,
		TotalAmountCents: b.TotalAmountCents,
		Currency:         b.Currency,
		PaymentRef:       b.PaymentRef,
		ConfirmedAt:      b.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

// Payment command actions.
const (
	ActionCharge = "CHARGE"
	ActionRefund = "REFUND"
)

// PaymentCommand asks the payment worker to charge or refund a booking.
type PaymentCommand struct {
	Action      string `json:"action"`
	SessionID   string `json:"session_id,omitempty"`
	BookingID   string `json:"booking_id"`
	UserID      string `json:"user_id"`
	Gateway     string `json:"gateway,omitempty"`
	AmountCents int64  `json:"amount_cents"`
	Currency    string `json:"currency"`
	ReturnURL   string `json:"return_url,omitempty"`
	PaymentRef  string `json:"payment_ref,omitempty"`
	RequestedAt string `json:"requested_at"`
}
