package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/jordanlanch/bioforge/pkg/access"
	"github.com/jordanlanch/bioforge/pkg/auth"
	"github.com/jordanlanch/bioforge/pkg/models"
	"github.com/labstack/echo/v4"
)

// Context keys set by the JWT middleware
const (
	ContextUserID = "user_id"
	ContextEmail  = "user_email"
	ContextToken  = "token"
	ContextClaims = "token_claims"
)

// JWTMiddleware creates a JWT authentication middleware
func JWTMiddleware(secret string) echo.MiddlewareFunc {
	return JWTMiddlewareWithBlacklist(secret, nil)
}

// JWTMiddlewareWithBlacklist creates a JWT authentication middleware with blacklist support.
// Browsers cannot set headers on websocket upgrades, so a token query parameter
// is accepted when the Authorization header is absent.
func JWTMiddlewareWithBlacklist(secret string, blacklist *auth.TokenBlacklist) echo.MiddlewareFunc {
	return jwtMiddleware(secret, blacklist, false)
}

// OptionalJWT authenticates the request when a token is present and lets
// anonymous requests through untouched. A present but invalid token is still rejected.
func OptionalJWT(secret string, blacklist *auth.TokenBlacklist) echo.MiddlewareFunc {
	return jwtMiddleware(secret, blacklist, true)
}

func jwtMiddleware(secret string, blacklist *auth.TokenBlacklist, optional bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			var token string

			authHeader := c.Request().Header.Get("Authorization")
			if authHeader != "" {
				parts := strings.Split(authHeader, " ")
				if len(parts) != 2 || parts[0] != "Bearer" {
					return c.JSON(http.StatusUnauthorized, models.ErrorResponse{
						Error:   "invalid_token_format",
						Message: "Authorization header must be 'Bearer {token}'",
					})
				}
				token = parts[1]
			} else if websocketUpgrade(c.Request()) {
				token = c.QueryParam("token")
			}

			if token == "" {
				if optional {
					return next(c)
				}
				return c.JSON(http.StatusUnauthorized, models.ErrorResponse{
					Error:   "missing_token",
					Message: "Authorization header is required",
				})
			}

			ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
			defer cancel()

			claims, err := auth.ValidateJWTWithBlacklist(ctx, token, secret, blacklist)
			if err != nil {
				return c.JSON(http.StatusUnauthorized, models.ErrorResponse{
					Error:   "invalid_token",
					Message: "Token is invalid or expired",
				})
			}

			c.Set(ContextToken, token)
			c.Set(ContextClaims, claims)
			c.Set(ContextUserID, claims.UserID)
			c.Set(ContextEmail, claims.Email)

			return next(c)
		}
	}
}

func websocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

// IdentityFrom returns the authenticated identity stored by the JWT middleware
func IdentityFrom(c echo.Context) (access.Identity, bool) {
	userID, _ := c.Get(ContextUserID).(string)
	if userID == "" {
		return access.Identity{}, false
	}
	email, _ := c.Get(ContextEmail).(string)
	return access.Identity{UserID: userID, Email: email}, true
}

// ClaimsFrom returns the validated token claims, if any
func ClaimsFrom(c echo.Context) (*auth.Claims, bool) {
	claims, ok := c.Get(ContextClaims).(*auth.Claims)
	return claims, ok && claims != nil
}
