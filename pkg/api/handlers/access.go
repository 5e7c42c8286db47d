package handlers

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/jonboulle/clockwork"
	"github.com/jordanlanch/bioforge/pkg/access"
	apierrors "github.com/jordanlanch/bioforge/pkg/api/errors"
	"github.com/jordanlanch/bioforge/pkg/api/middleware"
	"github.com/jordanlanch/bioforge/pkg/auth"
	"github.com/jordanlanch/bioforge/pkg/logger"
	"github.com/jordanlanch/bioforge/pkg/models"
	"github.com/jordanlanch/bioforge/pkg/session"
	"github.com/labstack/echo/v4"
)

// AccessHandler exposes a user's entitlement session over HTTP
type AccessHandler struct {
	sessions  *session.Manager
	blacklist *auth.TokenBlacklist
	routes    access.RoutePolicy
	clock     clockwork.Clock
	validator *validator.Validate
	log       logger.Logger
}

// NewAccessHandler creates a new access handler. blacklist may be nil.
func NewAccessHandler(sessions *session.Manager, blacklist *auth.TokenBlacklist, routes access.RoutePolicy, clock clockwork.Clock, log logger.Logger) *AccessHandler {
	if routes == nil {
		routes = access.NewPrefixGuard()
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &AccessHandler{
		sessions:  sessions,
		blacklist: blacklist,
		routes:    routes,
		clock:     clock,
		validator: validator.New(),
		log:       log,
	}
}

// controller resolves the caller's session, loading it on first use
func controller(c echo.Context, sessions *session.Manager) (*access.Controller, bool) {
	id, ok := middleware.IdentityFrom(c)
	if !ok {
		return nil, false
	}
	return sessions.Get(c.Request().Context(), id), true
}

// Get godoc
// @Summary Current entitlement state
// @Tags Access
// @Produce json
// @Security BearerAuth
// @Success 200 {object} models.AccessResponse
// @Router /access [get]
func (h *AccessHandler) Get(c echo.Context) error {
	ctrl, ok := controller(c, h.sessions)
	if !ok {
		return apierrors.UnauthorizedError(c)
	}
	return c.JSON(http.StatusOK, ctrl.Response())
}

// Refetch reloads subscription and usage without the expiry sweep
func (h *AccessHandler) Refetch(c echo.Context) error {
	ctrl, ok := controller(c, h.sessions)
	if !ok {
		return apierrors.UnauthorizedError(c)
	}
	ctrl.Refetch(c.Request().Context())
	return c.JSON(http.StatusOK, ctrl.Response())
}

// Event reports a tab visibility or focus change
func (h *AccessHandler) Event(c echo.Context) error {
	ctrl, ok := controller(c, h.sessions)
	if !ok {
		return apierrors.UnauthorizedError(c)
	}

	var req models.AccessEventRequest
	if err := c.Bind(&req); err != nil {
		return apierrors.ValidationError(c, err)
	}
	if err := h.validator.Struct(req); err != nil {
		return apierrors.ValidationError(c, err)
	}

	if err := ctrl.Notify(c.Request().Context(), access.Event(req.Type)); err != nil {
		return apierrors.FromDomain(c, err)
	}
	return c.JSON(http.StatusOK, ctrl.Response())
}

// Route tells the UI whether a path may be rendered, and where to redirect if
// not. It also answers anonymous callers, who are sent to login for protected paths.
func (h *AccessHandler) Route(c echo.Context) error {
	path := c.QueryParam("path")
	if path == "" {
		return c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "validation_error",
			Message: "path query parameter is required",
		})
	}

	var (
		decision access.RouteDecision
		redirect string
	)
	if ctrl, ok := controller(c, h.sessions); ok {
		decision, redirect = ctrl.CheckRoute(path)
	} else {
		anon := access.Snapshot{State: access.StateUnauthenticated}
		decision = h.routes.Decide(path, anon, h.clock.Now())
		redirect = h.routes.Redirect(decision)
	}

	return c.JSON(http.StatusOK, models.RouteDecisionResponse{
		Path:     path,
		Decision: decision.String(),
		Redirect: redirect,
	})
}

// Logout revokes the bearer token and ends the access session
func (h *AccessHandler) Logout(c echo.Context) error {
	id, ok := middleware.IdentityFrom(c)
	if !ok {
		return apierrors.UnauthorizedError(c)
	}

	if h.blacklist != nil {
		token, _ := c.Get(middleware.ContextToken).(string)
		if claims, ok := middleware.ClaimsFrom(c); ok && token != "" {
			if err := h.blacklist.Add(c.Request().Context(), token, claims.RemainingLifetime(h.clock.Now())); err != nil {
				h.log.Warn("failed to revoke token", "user_id", id.UserID, "error", err)
			}
		}
	}

	h.sessions.Delete(id.UserID)
	return c.JSON(http.StatusOK, models.SuccessResponse{Success: true, Message: "Logged out"})
}
