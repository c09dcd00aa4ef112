package queue

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/iliyamo/seat-inventory/internal/model"
	"github.com/iliyamo/seat-inventory/internal/service"
)

// MessagePublisher publishes one message to a queue.
type MessagePublisher interface {
	Publish(ctx context.Context, queue string, v any) error
}

// PaymentCommands hands payment work to an out-of-process payment worker
// over payment.commands.  The worker reports outcomes on payment.results.
type PaymentCommands struct {
	pub          MessagePublisher
	redirectBase string
	now          func() time.Time
}

// NewPaymentCommands returns a gateway whose checkout pages live under
// redirectBase.
func NewPaymentCommands(pub MessagePublisher, redirectBase string) *PaymentCommands {
	return &PaymentCommands{pub: pub, redirectBase: strings.TrimRight(redirectBase, "/"), now: time.Now}
}

// Initiate queues a charge and returns the checkout session.
func (g *PaymentCommands) Initiate(ctx context.Context, req service.PaymentRequest) (service.PaymentSession, error) {
	err := g.pub.Publish(ctx, PaymentCommandsQueue, PaymentCommand{
		Action:      ActionCharge,
		SessionID:   req.SessionID,
		BookingID:   req.BookingID,
		UserID:      req.HolderID,
		Gateway:     req.Gateway,
		AmountCents: req.AmountCents,
		Currency:    req.Currency,
		ReturnURL:   req.ReturnURL,
		RequestedAt: g.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return service.PaymentSession{}, err
	}
	return service.PaymentSession{
		SessionID:   req.SessionID,
		RedirectURL: g.redirectBase + "/checkout/" + url.PathEscape(req.SessionID) + "?gateway=" + url.QueryEscape(strings.ToLower(req.Gateway)),
		Gateway:     req.Gateway,
	}, nil
}

// Refund queues a refund of a confirmed booking.
func (g *PaymentCommands) Refund(ctx context.Context, b model.Booking) error {
	return g.pub.Publish(ctx, PaymentCommandsQueue, PaymentCommand{
		Action:      ActionRefund,
		BookingID:   b.ID,
		UserID:      b.HolderID,
		AmountCents: b.TotalAmountCents,
		Currency:    b.Currency,
		PaymentRef:  b.PaymentRef,
		RequestedAt: g.now().UTC().Format(time.RFC3339),
	})
}
