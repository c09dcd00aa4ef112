package handler

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/seat-inventory/internal/model"
	"github.com/iliyamo/seat-inventory/internal/service"
)

// AdminHandler takes seats out of sale and puts them back.
type AdminHandler struct {
	Inv *service.Inventory
}

func NewAdminHandler(inv *service.Inventory) *AdminHandler {
	if inv == nil {
		panic("nil inventory passed to NewAdminHandler")
	}
	return &AdminHandler{Inv: inv}
}

type seatsRequest struct {
	SeatIDs []string `json:"seatIds"`
}

// Block handles POST /v1/admin/events/:eventId/seats/block.  Only
// AVAILABLE seats can be blocked and the request is all or nothing.
func (h *AdminHandler) Block(c echo.Context) error {
	return h.swap(c, h.Inv.Block)
}

// Unblock handles POST /v1/admin/events/:eventId/seats/unblock.
func (h *AdminHandler) Unblock(c echo.Context) error {
	return h.swap(c, h.Inv.Unblock)
}

func (h *AdminHandler) swap(c echo.Context, op func(ctx context.Context, eventID string, seatIDs []string, actor string) ([]model.Seat, error)) error {
	var body seatsRequest
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	uid, err := holder(c, "")
	if err != nil {
		return writeError(c, err)
	}
	eventID := c.Param("eventId")
	seats, err := op(c.Request().Context(), eventID, body.SeatIDs, uid)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"eventId": eventID, "seats": seatViews(seats)})
}
