package handlers

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	apierrors "github.com/jordanlanch/bioforge/pkg/api/errors"
	"github.com/jordanlanch/bioforge/pkg/api/middleware"
	"github.com/jordanlanch/bioforge/pkg/domain"
	"github.com/jordanlanch/bioforge/pkg/logger"
	"github.com/jordanlanch/bioforge/pkg/models"
	"github.com/jordanlanch/bioforge/pkg/session"
	"github.com/jordanlanch/bioforge/pkg/subscription"
	"github.com/labstack/echo/v4"
)

// SubscriptionHandler handles plan changes made outside the payment flow
type SubscriptionHandler struct {
	subs      *subscription.Service
	sessions  *session.Manager
	validator *validator.Validate
	log       logger.Logger
}

// NewSubscriptionHandler creates a new subscription handler
func NewSubscriptionHandler(subs *subscription.Service, sessions *session.Manager, log logger.Logger) *SubscriptionHandler {
	return &SubscriptionHandler{
		subs:      subs,
		sessions:  sessions,
		validator: validator.New(),
		log:       log,
	}
}

// Cancel marks the caller's current plan as cancelled. The plan stays usable
// until it expires.
func (h *SubscriptionHandler) Cancel(c echo.Context) error {
	id, ok := middleware.IdentityFrom(c)
	if !ok {
		return apierrors.UnauthorizedError(c)
	}
	ctx := c.Request().Context()

	if !h.subs.Cancel(ctx, id.UserID) {
		return apierrors.FromDomain(c, domain.NewConflictError("There is no active subscription to cancel."))
	}

	ctrl := h.sessions.Get(ctx, id)
	ctrl.Refetch(ctx)
	return c.JSON(http.StatusOK, ctrl.Response())
}

// Grant godoc
// @Summary Grant a paid plan to a user
// @Description Admin only. Replaces the user's current plan.
// @Tags Admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "User ID"
// @Param request body models.GrantPlanRequest true "Plan"
// @Success 200 {object} models.SuccessResponse
// @Router /admin/users/{id}/subscription [post]
func (h *SubscriptionHandler) Grant(c echo.Context) error {
	userID := c.Param("id")
	if userID == "" {
		return apierrors.ValidationError(c, errMissingUserID)
	}

	var req models.GrantPlanRequest
	if err := c.Bind(&req); err != nil {
		return apierrors.ValidationError(c, err)
	}
	if err := h.validator.Struct(req); err != nil {
		return apierrors.ValidationError(c, err)
	}

	ctx := c.Request().Context()
	plan := models.PlanType(req.Plan)
	if !h.subs.Upgrade(ctx, userID, plan) {
		return apierrors.InternalError(c, errGrantFailed)
	}

	if admin, ok := middleware.IdentityFrom(c); ok {
		h.log.Info("plan granted", "admin_id", admin.UserID, "user_id", userID, "plan", req.Plan)
	}
	h.sessions.Refetch(ctx, userID)

	return c.JSON(http.StatusOK, models.SuccessResponse{
		Success: true,
		Message: "Plan " + req.Plan + " granted",
	})
}
