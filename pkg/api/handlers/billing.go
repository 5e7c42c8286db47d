package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-playground/validator/v10"
	apierrors "github.com/jordanlanch/bioforge/pkg/api/errors"
	"github.com/jordanlanch/bioforge/pkg/api/middleware"
	"github.com/jordanlanch/bioforge/pkg/billing"
	"github.com/jordanlanch/bioforge/pkg/logger"
	"github.com/jordanlanch/bioforge/pkg/models"
	"github.com/labstack/echo/v4"
)

// maxWebhookBody matches Stripe's own payload ceiling
const maxWebhookBody = 65536

var (
	errMissingUserID = errors.New("missing user id")
	errGrantFailed   = errors.New("plan grant failed")
)

// BillingHandler handles checkout creation and Stripe webhooks
type BillingHandler struct {
	billing   *billing.Service
	validator *validator.Validate
	log       logger.Logger
}

// NewBillingHandler creates a new billing handler
func NewBillingHandler(svc *billing.Service, log logger.Logger) *BillingHandler {
	return &BillingHandler{
		billing:   svc,
		validator: validator.New(),
		log:       log,
	}
}

// Checkout godoc
// @Summary Start a hosted checkout
// @Tags Billing
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body models.CheckoutRequest true "Plan"
// @Success 200 {object} models.CheckoutResponse
// @Router /billing/checkout [post]
func (h *BillingHandler) Checkout(c echo.Context) error {
	id, ok := middleware.IdentityFrom(c)
	if !ok {
		return apierrors.UnauthorizedError(c)
	}

	var req models.CheckoutRequest
	if err := c.Bind(&req); err != nil {
		return apierrors.ValidationError(c, err)
	}
	if err := h.validator.Struct(req); err != nil {
		return apierrors.ValidationError(c, err)
	}

	resp, err := h.billing.CreateCheckoutSession(c.Request().Context(), id.UserID, id.Email, models.PlanType(req.Plan))
	if err != nil {
		return apierrors.FromDomain(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}

// Webhook receives Stripe events. Errors return 5xx so Stripe retries;
// signature failures return 400 and are not retried.
func (h *BillingHandler) Webhook(c echo.Context) error {
	payload, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody))
	if err != nil {
		return apierrors.ValidationError(c, err)
	}

	signature := c.Request().Header.Get("Stripe-Signature")
	if err := h.billing.HandleWebhook(c.Request().Context(), payload, signature); err != nil {
		return apierrors.FromDomain(c, err)
	}

	return c.JSON(http.StatusOK, map[string]bool{"received": true})
}
