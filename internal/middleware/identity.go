package middleware

// identity.go holds the context keys JWTAuth fills and the accessors
// handlers and other middleware use to read them.

import "github.com/labstack/echo/v4"

const (
	userIDKey = "user_id"
	roleKey   = "role"
)

// Roles carried in the token's role claim.
const (
	RoleCustomer = "CUSTOMER"
	RoleAdmin    = "ADMIN"
	RoleService  = "SERVICE"
)

// UserID returns the authenticated subject, or "" when the request is
// anonymous.
func UserID(c echo.Context) string {
	s, _ := c.Get(userIDKey).(string)
	return s
}

// Role returns the authenticated role, or "".
func Role(c echo.Context) string {
	s, _ := c.Get(roleKey).(string)
	return s
}
