package handlers

import (
	"context"
	"net/http"

	"github.com/go-playground/validator/v10"
	apierrors "github.com/jordanlanch/bioforge/pkg/api/errors"
	"github.com/jordanlanch/bioforge/pkg/generate"
	"github.com/jordanlanch/bioforge/pkg/logger"
	"github.com/jordanlanch/bioforge/pkg/models"
	"github.com/jordanlanch/bioforge/pkg/session"
	"github.com/labstack/echo/v4"
)

// UsageHandler records and spends the metered tool allowance
type UsageHandler struct {
	sessions  *session.Manager
	generator generate.Generator
	validator *validator.Validate
	log       logger.Logger
}

// NewUsageHandler creates a new usage handler. generator may be nil when
// content generation is disabled.
func NewUsageHandler(sessions *session.Manager, generator generate.Generator, log logger.Logger) *UsageHandler {
	return &UsageHandler{
		sessions:  sessions,
		generator: generator,
		validator: validator.New(),
		log:       log,
	}
}

// Record godoc
// @Summary Record one successful tool invocation
// @Description Appends a usage record and returns the refreshed entitlement state.
// @Tags Usage
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body models.RecordUsageRequest true "Tool"
// @Success 200 {object} models.AccessResponse
// @Router /usage [post]
func (h *UsageHandler) Record(c echo.Context) error {
	ctrl, ok := controller(c, h.sessions)
	if !ok {
		return apierrors.UnauthorizedError(c)
	}

	var req models.RecordUsageRequest
	if err := c.Bind(&req); err != nil {
		return apierrors.ValidationError(c, err)
	}
	if err := h.validator.Struct(req); err != nil {
		return apierrors.ValidationError(c, err)
	}

	if err := ctrl.RecordUsage(c.Request().Context(), models.ToolType(req.Tool)); err != nil {
		return apierrors.FromDomain(c, err)
	}
	return c.JSON(http.StatusOK, ctrl.Response())
}

// Generate checks the entitlement, runs the tool and only then records usage.
// A failed generation is not charged.
func (h *UsageHandler) Generate(c echo.Context) error {
	if h.generator == nil {
		return c.JSON(http.StatusServiceUnavailable, models.ErrorResponse{
			Error:   "generation_disabled",
			Message: "Content generation is not configured.",
		})
	}

	ctrl, ok := controller(c, h.sessions)
	if !ok {
		return apierrors.UnauthorizedError(c)
	}

	var req models.GenerateRequest
	if err := c.Bind(&req); err != nil {
		return apierrors.ValidationError(c, err)
	}
	if err := h.validator.Struct(req); err != nil {
		return apierrors.ValidationError(c, err)
	}

	tool := models.ToolType(req.Tool)
	var content string
	err := ctrl.Metered(c.Request().Context(), tool, func(ctx context.Context) error {
		out, err := h.generator.Generate(ctx, tool, req.Input)
		if err != nil {
			return err
		}
		content = out
		return nil
	})
	if err != nil {
		return apierrors.FromDomain(c, err)
	}

	return c.JSON(http.StatusOK, models.GenerateResponse{
		Tool:    tool,
		Content: content,
	})
}
