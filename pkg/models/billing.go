package models

// CheckoutRequest represents a request to create a checkout session
type CheckoutRequest struct {
	Plan string `json:"plan" validate:"required,oneof=daily monthly lifetime"`
}

// CheckoutResponse represents a checkout session response
type CheckoutResponse struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
	ExpiresAt int64  `json:"expires_at"`
}
