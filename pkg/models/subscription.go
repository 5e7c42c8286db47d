package models

import "time"

// PlanType is the subscription tier a user is on
type PlanType string

const (
	PlanFree     PlanType = "free"
	PlanDaily    PlanType = "daily"
	PlanMonthly  PlanType = "monthly"
	PlanLifetime PlanType = "lifetime"
)

// PlanHierarchy orders plans for downgrade detection
var PlanHierarchy = map[PlanType]int{
	PlanFree:     0,
	PlanDaily:    1,
	PlanMonthly:  2,
	PlanLifetime: 3,
}

// AllPlans lists plans from lowest to highest tier
var AllPlans = []PlanType{PlanFree, PlanDaily, PlanMonthly, PlanLifetime}

// ParsePlanType maps a stored plan string to a PlanType.
// Unknown values resolve to PlanFree with ok=false.
func ParsePlanType(s string) (PlanType, bool) {
	p := PlanType(s)
	if _, ok := PlanHierarchy[p]; ok {
		return p, true
	}
	return PlanFree, false
}

// Rank returns the plan's position in PlanHierarchy; unknown plans rank as free
func (p PlanType) Rank() int {
	if r, ok := PlanHierarchy[p]; ok {
		return r
	}
	return PlanHierarchy[PlanFree]
}

// IsPaid reports whether the plan is anything other than free
func (p PlanType) IsPaid() bool {
	return p.Rank() > PlanHierarchy[PlanFree]
}

// IsRecurring reports whether the payment provider bills the plan on a cycle.
// Only monthly renews; daily and lifetime are one-off purchases.
func (p PlanType) IsRecurring() bool {
	return p == PlanMonthly
}

// Sentinel subscription IDs for records that never touched the store
const (
	DefaultFreeSubscriptionID = "default-free"
	AdminSubscriptionID       = "admin-access"
)

// Subscription is a user's plan record
type Subscription struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	PlanType  PlanType   `json:"plan_type"`
	ExpiresAt *time.Time `json:"expires_at"`
	IsActive  bool       `json:"is_active"`
	Cancelled bool       `json:"cancelled"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// IsSynthesized reports whether the record was built in memory rather than loaded
func (s Subscription) IsSynthesized() bool {
	return s.ID == DefaultFreeSubscriptionID || s.ID == AdminSubscriptionID
}

// DefaultFreeSubscription is used when a user has no paid record or the store is unreachable
func DefaultFreeSubscription(userID string) Subscription {
	return Subscription{
		ID:       DefaultFreeSubscriptionID,
		UserID:   userID,
		PlanType: PlanFree,
		IsActive: true,
	}
}

// AdminSubscription is the view presented to administrators
func AdminSubscription(userID string) Subscription {
	return Subscription{
		ID:       AdminSubscriptionID,
		UserID:   userID,
		PlanType: PlanLifetime,
		IsActive: true,
	}
}
