package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/jordanlanch/bioforge/pkg/access"
	"github.com/labstack/echo/v4"
)

// ContextIsAdmin is set to true once RequireAdmin has let a request through
const ContextIsAdmin = "is_admin"

// RequireAdmin ensures the authenticated user passes the admin predicate.
// Apply it AFTER the JWT middleware.
func RequireAdmin(admin access.AdminPredicate) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			userID, _ := c.Get("user_id").(string)
			if userID == "" {
				return c.JSON(http.StatusUnauthorized, map[string]string{
					"error":   "unauthorized",
					"message": "Authentication required",
				})
			}
			email, _ := c.Get("user_email").(string)

			ctx, cancel := context.WithTimeout(c.Request().Context(), 3*time.Second)
			defer cancel()

			if admin == nil || !admin.IsAdmin(ctx, access.Identity{UserID: userID, Email: email}) {
				return c.JSON(http.StatusForbidden, map[string]string{
					"error":   "insufficient_permissions",
					"message": "Admin access required",
				})
			}

			c.Set(ContextIsAdmin, true)
			return next(c)
		}
	}
}
