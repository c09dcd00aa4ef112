package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/seat-inventory/internal/broadcast"
	"github.com/iliyamo/seat-inventory/internal/model"
	"github.com/iliyamo/seat-inventory/internal/service"
)

// SeatHandler serves seat state and seat locks.  Hub is optional; when set,
// seat listings carry the stream cursor they are consistent with.
type SeatHandler struct {
	Inv   *service.Inventory
	Locks *service.LockManager
	Hub   *broadcast.Hub
}

// NewSeatHandler panics if a required dependency is nil.
func NewSeatHandler(inv *service.Inventory, locks *service.LockManager, hub *broadcast.Hub) *SeatHandler {
	if inv == nil || locks == nil {
		panic("nil dependency passed to NewSeatHandler")
	}
	return &SeatHandler{Inv: inv, Locks: locks, Hub: hub}
}

type lockRequest struct {
	EventID string   `json:"eventId"`
	SeatIDs []string `json:"seatIds"`
	UserID  string   `json:"userId"`
}

type lockResponse struct {
	LockID     string           `json:"lockId"`
	EventID    string           `json:"eventId"`
	SeatIDs    []string         `json:"seatIds"`
	Status     model.LockStatus `json:"status"`
	Currency   string           `json:"currency"`
	TotalCents int64            `json:"totalCents"`
	ExpiresAt  time.Time        `json:"expiresAt"`
}

func newLockResponse(l *model.Lock) lockResponse {
	var total int64
	for _, s := range l.Seats {
		total += s.PriceCents
	}
	return lockResponse{
		LockID:     l.ID,
		EventID:    l.EventID,
		SeatIDs:    l.SeatIDs(),
		Status:     l.Status,
		Currency:   l.Currency,
		TotalCents: total,
		ExpiresAt:  l.ExpiresAt,
	}
}

// seatView is one row of a seat listing.
type seatView struct {
	SeatID     string           `json:"seatId"`
	Section    string           `json:"section"`
	Row        string           `json:"row"`
	Number     int              `json:"number"`
	PriceCents int64            `json:"priceCents"`
	Currency   string           `json:"currency"`
	Status     model.SeatStatus `json:"status"`
	Version    uint64           `json:"version"`
}

func seatViews(seats []model.Seat) []seatView {
	out := make([]seatView, 0, len(seats))
	for _, s := range seats {
		out = append(out, seatView{
			SeatID: s.ID, Section: s.Section, Row: s.Row, Number: s.Number,
			PriceCents: s.PriceCents, Currency: s.Currency, Status: s.Status, Version: s.Version,
		})
	}
	return out
}

// Availability handles GET /v1/seats/availability/:eventId.
func (h *SeatHandler) Availability(c echo.Context) error {
	a, err := h.Inv.Availability(c.Request().Context(), c.Param("eventId"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, a)
}

// EventSeats handles GET /v1/events/:eventId/seats.  The optional ids query
// parameter restricts the listing.  The cursor is read before the seats,
// so replaying the stream from it never skips a transition the listing
// missed.
func (h *SeatHandler) EventSeats(c echo.Context) error {
	eventID := c.Param("eventId")
	cursor := ""
	if h.Hub != nil {
		cursor = h.Hub.Cursor(eventID)
	}
	seats, err := h.Inv.Seats(c.Request().Context(), eventID, splitIDs(c.QueryParam("ids")))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"eventId": eventID,
		"cursor":  cursor,
		"seats":   seatViews(seats),
	})
}

// Lock handles POST /v1/seats/lock.  Either every requested seat is locked
// or none is; a 409 lists the seats that were not available.
func (h *SeatHandler) Lock(c echo.Context) error {
	var body lockRequest
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	uid, err := holder(c, body.UserID)
	if err != nil {
		return writeError(c, err)
	}
	l, err := h.Locks.Acquire(c.Request().Context(), body.EventID, body.SeatIDs, uid)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, newLockResponse(l))
}

// Release handles POST /v1/seats/release/:lockId.
func (h *SeatHandler) Release(c echo.Context) error {
	uid, err := holder(c, "")
	if err != nil {
		return writeError(c, err)
	}
	if err := h.Locks.Release(c.Request().Context(), c.Param("lockId"), uid); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// GetLock handles GET /v1/seats/locks/:lockId.
func (h *SeatHandler) GetLock(c echo.Context) error {
	uid, err := holder(c, "")
	if err != nil {
		return writeError(c, err)
	}
	l, err := h.Locks.Get(c.Request().Context(), c.Param("lockId"), uid)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, newLockResponse(l))
}
