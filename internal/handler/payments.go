package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/seat-inventory/internal/service"
)

// PaymentHandler starts checkout and receives payment outcomes.
type PaymentHandler struct {
	Bookings *service.BookingOrchestrator
}

func NewPaymentHandler(bookings *service.BookingOrchestrator) *PaymentHandler {
	if bookings == nil {
		panic("nil orchestrator passed to NewPaymentHandler")
	}
	return &PaymentHandler{Bookings: bookings}
}

type initiatePaymentRequest struct {
	BookingID string `json:"bookingId"`
	Gateway   string `json:"gateway"`
	ReturnURL string `json:"returnUrl"`
}

// Initiate handles POST /v1/payments/initiate.
func (h *PaymentHandler) Initiate(c echo.Context) error {
	var body initiatePaymentRequest
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	if body.BookingID == "" {
		return badRequest(c, "bookingId is required")
	}
	uid, err := holder(c, "")
	if err != nil {
		return writeError(c, err)
	}
	session, err := h.Bookings.InitiatePayment(c.Request().Context(), body.BookingID, uid, body.Gateway, body.ReturnURL)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, session)
}

// Callback handles POST /v1/payments/callback from the payment service.
// Repeating a callback is safe: confirmation with the same reference and
// cancellation of a terminal booking are no-ops.
func (h *PaymentHandler) Callback(c echo.Context) error {
	var body service.PaymentResult
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	b, err := h.Bookings.HandlePaymentResult(c.Request().Context(), body)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, b)
}
