package handler // handler translates HTTP requests into seat inventory operations

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/seat-inventory/internal/logging"
	"github.com/iliyamo/seat-inventory/internal/middleware"
	"github.com/iliyamo/seat-inventory/internal/repository"
	"github.com/iliyamo/seat-inventory/internal/service"
)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error       string   `json:"error"`
	Code        string   `json:"code"`
	Unavailable []string `json:"unavailable,omitempty"`
	SeatIDs     []string `json:"seatIds,omitempty"`
}

// statusFor classifies err into an HTTP status and a stable error code.
func statusFor(err error) (int, string) {
	var verr *service.ValidationError
	switch {
	case errors.Is(err, errUnauthorized):
		return http.StatusUnauthorized, "UNAUTHORIZED"
	case errors.As(err, &verr), errors.Is(err, repository.ErrValueTooLong):
		return http.StatusBadRequest, "VALIDATION"
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden, "FORBIDDEN"
	case errors.Is(err, service.ErrLockNotFound):
		return http.StatusNotFound, "LOCK_NOT_FOUND"
	case errors.Is(err, service.ErrNotFound), errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, repository.ErrConflict):
		return http.StatusConflict, "SEAT_CONFLICT"
	case errors.Is(err, service.ErrLockConsumed):
		return http.StatusConflict, "LOCK_CONSUMED"
	case errors.Is(err, service.ErrInvalidBookingState):
		return http.StatusConflict, "INVALID_BOOKING_STATE"
	case errors.Is(err, service.ErrPaymentRefMismatch):
		return http.StatusConflict, "PAYMENT_REF_MISMATCH"
	case errors.Is(err, service.ErrIdempotencyKeyReused):
		return http.StatusConflict, "IDEMPOTENCY_KEY_REUSED"
	case errors.Is(err, service.ErrConcurrentUpdate):
		return http.StatusConflict, "CONCURRENT_UPDATE"
	case errors.Is(err, service.ErrLockExpired):
		return http.StatusGone, "LOCK_EXPIRED"
	case errors.Is(err, service.ErrLockMismatch):
		return http.StatusUnprocessableEntity, "LOCK_MISMATCH"
	case errors.Is(err, service.ErrSeatLimitExceeded):
		return http.StatusTooManyRequests, "SEAT_LIMIT_EXCEEDED"
	case errors.Is(err, service.ErrPaymentUnavailable):
		return http.StatusBadGateway, "PAYMENT_UNAVAILABLE"
	case errors.Is(err, repository.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, "STORE_UNAVAILABLE"
	}
	return http.StatusInternalServerError, "INTERNAL"
}

// writeError renders err.  Seat conflicts list the unavailable seats so the
// client can refresh exactly those; internal errors are logged and hidden.
func writeError(c echo.Context, err error) error {
	status, code := statusFor(err)
	body := errorBody{Error: err.Error(), Code: code}

	var conflict *repository.ConflictError
	var verr *service.ValidationError
	switch {
	case errors.As(err, &conflict):
		body.Error = "seats unavailable"
		body.Unavailable = conflict.SeatIDs
	case errors.As(err, &verr):
		body.Error = verr.Msg
		body.SeatIDs = verr.SeatIDs
	}

	if status >= http.StatusInternalServerError {
		logging.FromContext(c.Request().Context()).WithError(err).
			WithField("path", c.Path()).Error("request failed")
		if status == http.StatusInternalServerError {
			body.Error = "internal error"
		}
	}
	return c.JSON(status, body)
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, errorBody{Error: msg, Code: "VALIDATION"})
}

var (
	errUnauthorized = errors.New("unauthorized")
	errNotSubject   = fmt.Errorf("%w: userId does not match the token subject", service.ErrForbidden)
)

// holder returns the authenticated subject.  A userId supplied in the body
// must match it.
func holder(c echo.Context, claimed string) (string, error) {
	uid := middleware.UserID(c)
	if uid == "" {
		return "", errUnauthorized
	}
	if claimed != "" && claimed != uid {
		return "", errNotSubject
	}
	return uid, nil
}

// splitIDs parses a comma separated id list, dropping blanks.
func splitIDs(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func queryInt(c echo.Context, name string, def int) int {
	if n, err := strconv.Atoi(c.QueryParam(name)); err == nil && n > 0 {
		return n
	}
	return def
}
