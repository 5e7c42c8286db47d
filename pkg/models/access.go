package models

import "time"

// AccessResponse is the entitlement state exposed to the UI layer
type AccessResponse struct {
	State           string            `json:"state"`
	UserID          string            `json:"user_id,omitempty"`
	PlanType        PlanType          `json:"plan_type"`
	PlanDisplayName string            `json:"plan_display_name"`
	ExpiresAt       *time.Time        `json:"expires_at"`
	Cancelled       bool              `json:"cancelled"`
	RemainingTime   *string           `json:"remaining_time"`
	UsageCount      int               `json:"usage_count"`
	IsAdmin         bool              `json:"is_admin"`
	Loading         bool              `json:"loading"`
	CanUse          map[ToolType]bool `json:"can_use"`
	FetchedAt       *time.Time        `json:"fetched_at,omitempty"`
}

// AccessEventRequest reports a client lifecycle event (tab focus, visibility)
type AccessEventRequest struct {
	Type string `json:"type" validate:"required,oneof=visible hidden focus"`
}

// RouteDecisionResponse tells the UI whether a route may be rendered
type RouteDecisionResponse struct {
	Path     string `json:"path"`
	Decision string `json:"decision"`
	Redirect string `json:"redirect,omitempty"`
}

// RecordUsageRequest records one successful tool invocation
type RecordUsageRequest struct {
	Tool string `json:"tool" validate:"required,oneof=bio_generator cover_letter"`
}

// GenerateRequest asks for a bio or cover letter
type GenerateRequest struct {
	Tool  string `json:"tool" validate:"required,oneof=bio_generator cover_letter"`
	Input string `json:"input" validate:"required,min=10,max=8000"`
}

// GenerateResponse carries generated content
type GenerateResponse struct {
	Tool    ToolType `json:"tool"`
	Content string   `json:"content"`
}

// GrantPlanRequest is an administrative plan change for a user
type GrantPlanRequest struct {
	Plan string `json:"plan" validate:"required,oneof=daily monthly lifetime"`
}

// Decision is the outcome of one entitlement check. It is derived on demand and never stored.
type Decision struct {
	Allowed bool `json:"allowed"`
}
