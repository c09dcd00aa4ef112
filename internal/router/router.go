package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/seat-inventory/internal/handler"
	"github.com/iliyamo/seat-inventory/internal/middleware"
)

// RegisterRoutes registers routes that do not require authentication.
// ready may be nil.
func RegisterRoutes(e *echo.Echo, ready echo.HandlerFunc) {
	e.GET("/healthz", handler.Health)
	if ready != nil {
		e.GET("/readyz", ready)
	}
}

// Handlers bundles the API handlers.  Nil handlers are skipped.
type Handlers struct {
	Seats    *handler.SeatHandler
	Bookings *handler.BookingHandler
	Payments *handler.PaymentHandler
	Admin    *handler.AdminHandler
	Waitlist *handler.WaitlistHandler
	Stream   *handler.StreamHandler
}

// RegisterAPI registers the authenticated /v1 API.  limiter guards the
// endpoints that claim seats; pass nil to disable rate limiting.
func RegisterAPI(e *echo.Echo, h Handlers, jwtSecret string, limiter echo.MiddlewareFunc) {
	if limiter == nil {
		limiter = func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	auth := middleware.JWTAuth(jwtSecret, false)

	// Every authenticated role may read seat state.
	v1 := e.Group("/v1", auth)
	customer := e.Group("/v1", auth, middleware.RequireRole(middleware.RoleCustomer, middleware.RoleAdmin))

	if h.Seats != nil {
		v1.GET("/seats/availability/:eventId", h.Seats.Availability)
		v1.GET("/events/:eventId/seats", h.Seats.EventSeats)

		customer.POST("/seats/lock", h.Seats.Lock, limiter)
		customer.POST("/seats/release/:lockId", h.Seats.Release)
		customer.GET("/seats/locks/:lockId", h.Seats.GetLock)
	}

	if h.Bookings != nil {
		customer.POST("/bookings", h.Bookings.Create, limiter)
		customer.GET("/bookings/:id", h.Bookings.Get)
		customer.GET("/my-bookings", h.Bookings.Mine)
		customer.POST("/bookings/:id/cancel", h.Bookings.Cancel)
	}

	if h.Payments != nil {
		customer.POST("/payments/initiate", h.Payments.Initiate)
		// Payment outcomes are posted by the payment service, never by
		// customers.
		e.POST("/v1/payments/callback", h.Payments.Callback, auth, middleware.RequireRole(middleware.RoleService))
	}

	if h.Waitlist != nil {
		customer.GET("/waitlist/me", h.Waitlist.Mine)
		customer.POST("/waitlist/:eventId", h.Waitlist.Join)
		customer.DELETE("/waitlist/:eventId", h.Waitlist.Leave)
		customer.GET("/waitlist/:eventId/position", h.Waitlist.Position)
	}

	admin := e.Group("/v1/admin", auth, middleware.RequireRole(middleware.RoleAdmin))
	if h.Admin != nil {
		admin.POST("/events/:eventId/seats/block", h.Admin.Block)
		admin.POST("/events/:eventId/seats/unblock", h.Admin.Unblock)
	}
	if h.Waitlist != nil {
		admin.GET("/events/:eventId/waitlist", h.Waitlist.Waiting)
	}

	if h.Stream != nil {
		// Browsers cannot set headers on a WebSocket upgrade.
		e.GET("/v1/stream/events/:eventId", h.Stream.Stream, middleware.JWTAuth(jwtSecret, true))
	}
}
