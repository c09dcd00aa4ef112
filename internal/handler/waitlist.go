package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/seat-inventory/internal/service"
)

// WaitlistHandler lets customers queue for sold-out events.
type WaitlistHandler struct {
	Waitlist *service.WaitlistService
}

func NewWaitlistHandler(w *service.WaitlistService) *WaitlistHandler {
	if w == nil {
		panic("nil waitlist passed to NewWaitlistHandler")
	}
	return &WaitlistHandler{Waitlist: w}
}

type joinWaitlistRequest struct {
	SectionID string `json:"sectionId"`
	SeatCount int    `json:"seatCount"`
}

// Join handles POST /v1/waitlist/:eventId.  The body is optional.  A new
// entry answers 201; joining again answers 200 with the existing entry.
func (h *WaitlistHandler) Join(c echo.Context) error {
	var body joinWaitlistRequest
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&body); err != nil {
			return badRequest(c, "invalid request body")
		}
	}
	uid, err := holder(c, "")
	if err != nil {
		return writeError(c, err)
	}
	e, created, err := h.Waitlist.Join(c.Request().Context(), c.Param("eventId"), uid, body.SectionID, body.SeatCount)
	if err != nil {
		return writeError(c, err)
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	return c.JSON(status, e)
}

// Leave handles DELETE /v1/waitlist/:eventId.
func (h *WaitlistHandler) Leave(c echo.Context) error {
	uid, err := holder(c, "")
	if err != nil {
		return writeError(c, err)
	}
	if err := h.Waitlist.Leave(c.Request().Context(), c.Param("eventId"), uid); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// Position handles GET /v1/waitlist/:eventId/position.
func (h *WaitlistHandler) Position(c echo.Context) error {
	uid, err := holder(c, "")
	if err != nil {
		return writeError(c, err)
	}
	e, pos, err := h.Waitlist.Position(c.Request().Context(), c.Param("eventId"), uid)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"position": pos, "status": e.Status})
}

// Mine handles GET /v1/waitlist/me.
func (h *WaitlistHandler) Mine(c echo.Context) error {
	uid, err := holder(c, "")
	if err != nil {
		return writeError(c, err)
	}
	entries, err := h.Waitlist.Mine(c.Request().Context(), uid, queryInt(c, "limit", 50))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"entries": entries})
}

// Waiting handles GET /v1/admin/events/:eventId/waitlist.
func (h *WaitlistHandler) Waiting(c echo.Context) error {
	entries, err := h.Waitlist.Waiting(c.Request().Context(), c.Param("eventId"), queryInt(c, "limit", 50))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"eventId": c.Param("eventId"), "entries": entries})
}
