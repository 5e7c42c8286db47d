package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDomainError_Error(t *testing.T) {
	err := NewNotFoundError("subscription")
	assert.Equal(t, "NOT_FOUND: subscription not found", err.Error())

	wrapped := NewInternalError(errors.New("connection refused"))
	assert.Equal(t, "INTERNAL_ERROR: An internal error occurred: connection refused", wrapped.Error())
}

func TestDomainError_Unwrap(t *testing.T) {
	cause := errors.New("boom")
	err := NewInternalError(cause)
	assert.ErrorIs(t, err, cause)
}

func TestIsHelpers(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(error) bool
	}{
		{"not found", NewNotFoundError("x"), IsNotFound},
		{"validation", NewValidationError("bad"), IsValidation},
		{"usage limit", NewUsageLimitError("bio_generator", 1), IsUsageLimitExceeded},
		{"plan required", NewPlanRequiredError("cover_letter"), IsPlanRequired},
		{"unauthorized", NewUnauthorizedError(), IsUnauthorized},
		{"forbidden", NewForbiddenError("no"), IsForbidden},
		{"internal", NewInternalError(nil), IsInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.check(tt.err))
			// wrapping must not hide the code
			assert.True(t, tt.check(fmt.Errorf("handler: %w", tt.err)))
			assert.False(t, tt.check(errors.New("plain")))
		})
	}
}

func TestGetErrorCode(t *testing.T) {
	assert.Equal(t, ErrCodeUsageLimitExceeded, GetErrorCode(NewUsageLimitError("bio_generator", 1)))
	assert.Equal(t, ErrCodeInternal, GetErrorCode(errors.New("plain")))
}
