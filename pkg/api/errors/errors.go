package errors

import (
	stderrors "errors"
	"net/http"

	"github.com/jordanlanch/bioforge/pkg/domain"
	"github.com/jordanlanch/bioforge/pkg/logger"
	"github.com/jordanlanch/bioforge/pkg/models"
	"github.com/labstack/echo/v4"
)

var log = logger.Nop()

// SetLogger sets where internal error details are logged
func SetLogger(l logger.Logger) {
	if l != nil {
		log = l
	}
}

// ValidationError returns a generic validation error without exposing internal details
func ValidationError(c echo.Context, err error) error {
	log.Warn("validation error", "path", c.Request().URL.Path, "error", err)

	return c.JSON(http.StatusBadRequest, models.ErrorResponse{
		Error:   "validation_error",
		Message: "Invalid request data. Please check your input and try again.",
	})
}

// InternalError returns a generic internal server error
func InternalError(c echo.Context, err error) error {
	log.Error("internal error", "path", c.Request().URL.Path, "error", err)

	return c.JSON(http.StatusInternalServerError, models.ErrorResponse{
		Error:   "internal_error",
		Message: "An internal error occurred. Please try again later.",
	})
}

// UnauthorizedError returns a generic unauthorized error
func UnauthorizedError(c echo.Context) error {
	return c.JSON(http.StatusUnauthorized, models.ErrorResponse{
		Error:   "unauthorized",
		Message: "You are not authorized to access this resource.",
	})
}

// ForbiddenError returns a generic forbidden error
func ForbiddenError(c echo.Context) error {
	return c.JSON(http.StatusForbidden, models.ErrorResponse{
		Error:   "forbidden",
		Message: "You do not have permission to access this resource.",
	})
}

// NotFoundError returns a generic not found error
func NotFoundError(c echo.Context) error {
	return c.JSON(http.StatusNotFound, models.ErrorResponse{
		Error:   "not_found",
		Message: "The requested resource was not found.",
	})
}

// FromDomain maps a domain error onto an HTTP response. Messages of
// entitlement errors are user facing; everything unrecognised is internal.
func FromDomain(c echo.Context, err error) error {
	switch domain.GetErrorCode(err) {
	case domain.ErrCodeUsageLimitExceeded:
		return c.JSON(http.StatusPaymentRequired, models.ErrorResponse{
			Error:   "usage_limit_exceeded",
			Message: domainMessage(err),
		})
	case domain.ErrCodePlanRequired:
		return c.JSON(http.StatusPaymentRequired, models.ErrorResponse{
			Error:   "plan_required",
			Message: domainMessage(err),
		})
	case domain.ErrCodeValidation:
		return ValidationError(c, err)
	case domain.ErrCodeUnauthorized:
		return UnauthorizedError(c)
	case domain.ErrCodeForbidden:
		return ForbiddenError(c)
	case domain.ErrCodeNotFound:
		return NotFoundError(c)
	case domain.ErrCodeConflict:
		return c.JSON(http.StatusConflict, models.ErrorResponse{
			Error:   "conflict",
			Message: domainMessage(err),
		})
	default:
		return InternalError(c, err)
	}
}

func domainMessage(err error) string {
	var de *domain.DomainError
	if stderrors.As(err, &de) {
		return de.Message
	}
	return ""
}
