package handler

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/seat-inventory/internal/middleware"
	"github.com/iliyamo/seat-inventory/internal/model"
	"github.com/iliyamo/seat-inventory/internal/service"
)

// BookingHandler exposes booking creation and lookup to customers.
type BookingHandler struct {
	Bookings *service.BookingOrchestrator
}

// NewBookingHandler panics if bookings is nil.
func NewBookingHandler(bookings *service.BookingOrchestrator) *BookingHandler {
	if bookings == nil {
		panic("nil orchestrator passed to NewBookingHandler")
	}
	return &BookingHandler{Bookings: bookings}
}

type createBookingRequest struct {
	EventID        string   `json:"eventId"`
	SeatIDs        []string `json:"seatIds"`
	IdempotencyKey string   `json:"idempotencyKey"`
	LockID         string   `json:"lockId"`
	UserID         string   `json:"userId"`
}

// Create handles POST /v1/bookings.  The idempotency key comes from the
// body or the Idempotency-Key header.  A new booking answers 201; a replay
// of an existing key answers 200 with the same representation.
func (h *BookingHandler) Create(c echo.Context) error {
	var body createBookingRequest
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	uid, err := holder(c, body.UserID)
	if err != nil {
		return writeError(c, err)
	}
	key := strings.TrimSpace(body.IdempotencyKey)
	if key == "" {
		key = strings.TrimSpace(c.Request().Header.Get("Idempotency-Key"))
	}

	b, created, err := h.Bookings.CreateBooking(c.Request().Context(), service.CreateBookingRequest{
		EventID:        body.EventID,
		SeatIDs:        body.SeatIDs,
		HolderID:       uid,
		IdempotencyKey: key,
		LockID:         body.LockID,
	})
	if err != nil {
		return writeError(c, err)
	}
	if created {
		return c.JSON(http.StatusCreated, b)
	}
	return c.JSON(http.StatusOK, b)
}

// Get handles GET /v1/bookings/:id.  Admins may read any booking.
func (h *BookingHandler) Get(c echo.Context) error {
	uid, err := holder(c, "")
	if err != nil {
		return writeError(c, err)
	}
	if middleware.Role(c) == middleware.RoleAdmin {
		uid = ""
	}
	b, err := h.Bookings.Get(c.Request().Context(), c.Param("id"), uid)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, b)
}

// Mine handles GET /v1/my-bookings?limit=N.
func (h *BookingHandler) Mine(c echo.Context) error {
	uid, err := holder(c, "")
	if err != nil {
		return writeError(c, err)
	}
	list, err := h.Bookings.List(c.Request().Context(), uid, queryInt(c, "limit", 50))
	if err != nil {
		return writeError(c, err)
	}
	if list == nil {
		list = []model.Booking{}
	}
	return c.JSON(http.StatusOK, echo.Map{"bookings": list})
}

// Cancel handles POST /v1/bookings/:id/cancel.  A confirmed booking is
// refunded; a terminal booking is returned as is.
func (h *BookingHandler) Cancel(c echo.Context) error {
	uid, err := holder(c, "")
	if err != nil {
		return writeError(c, err)
	}
	b, err := h.Bookings.Cancel(c.Request().Context(), c.Param("id"), uid)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, b)
}
