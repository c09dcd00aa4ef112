package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/seat-inventory/internal/model"
)

// Supported payment gateways.
const (
	GatewayStripe   = "STRIPE"
	GatewayRazorpay = "RAZORPAY"
	GatewayPayPal   = "PAYPAL"
)

// PaymentRequest is handed to the payment collaborator.
type PaymentRequest struct {
	SessionID   string
	BookingID   string
	HolderID    string
	Gateway     string
	AmountCents int64
	Currency    string
	ReturnURL   string
}

// PaymentSession is returned to the client to continue checkout.
type PaymentSession struct {
	SessionID   string `json:"sessionId"`
	RedirectURL string `json:"redirectUrl"`
	Gateway     string `json:"gateway"`
}

// PaymentGateway is the external payment collaborator.  Results come back
// asynchronously through HandlePaymentResult.
type PaymentGateway interface {
	Initiate(ctx context.Context, req PaymentRequest) (PaymentSession, error)
	Refund(ctx context.Context, b model.Booking) error
}

// Payment result statuses.
const (
	PaymentSucceeded = "SUCCESS"
	PaymentFailed    = "FAILED"
	PaymentRefunded  = "REFUNDED"
)

// PaymentResult is the final outcome reported by the payment collaborator.
type PaymentResult struct {
	BookingID  string `json:"bookingId"`
	Status     string `json:"status"`
	PaymentRef string `json:"paymentRef"`
	Reason     string `json:"reason,omitempty"`
}

// InitiatePayment starts checkout for a pending booking owned by holderID.
func (o *BookingOrchestrator) InitiatePayment(ctx context.Context, bookingID, holderID, gateway, returnURL string) (PaymentSession, error) {
	gateway = strings.ToUpper(strings.TrimSpace(gateway))
	if gateway == "" {
		gateway = GatewayStripe
	}
	switch gateway {
	case GatewayStripe, GatewayRazorpay, GatewayPayPal:
	default:
		return PaymentSession{}, &ValidationError{Msg: "unsupported gateway " + gateway}
	}

	b, err := o.Get(ctx, bookingID, holderID)
	if err != nil {
		return PaymentSession{}, err
	}
	if b.Status != model.BookingPending || !o.inv.clock().Before(b.ExpiresAt) {
		return PaymentSession{}, ErrInvalidBookingState
	}
	if o.gateway == nil {
		return PaymentSession{}, ErrPaymentUnavailable
	}

	session, err := o.gateway.Initiate(ctx, PaymentRequest{
		SessionID:   uuid.NewString(),
		BookingID:   b.ID,
		HolderID:    b.HolderID,
		Gateway:     gateway,
		AmountCents: b.TotalAmountCents,
		Currency:    b.Currency,
		ReturnURL:   returnURL,
	})
	if err != nil {
		return PaymentSession{}, fmt.Errorf("%w: %v", ErrPaymentUnavailable, err)
	}
	o.log.WithFields(logrus.Fields{
		"booking_id": b.ID,
		"session_id": session.SessionID,
		"gateway":    gateway,
	}).Info("payment initiated")
	return session, nil
}

// HandlePaymentResult applies a payment outcome to its booking.
func (o *BookingOrchestrator) HandlePaymentResult(ctx context.Context, r PaymentResult) (*model.Booking, error) {
	if r.BookingID == "" {
		return nil, &ValidationError{Msg: "bookingId is required"}
	}
	switch strings.ToUpper(r.Status) {
	case PaymentSucceeded:
		return o.ConfirmPayment(ctx, r.BookingID, r.PaymentRef)
	case PaymentFailed:
		return o.FailPayment(ctx, r.BookingID, r.Reason)
	case PaymentRefunded:
		return o.Refund(ctx, r.BookingID)
	}
	return nil, &ValidationError{Msg: "unknown payment status " + r.Status}
}
