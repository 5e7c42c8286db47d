package entitlement

import (
	"time"

	"github.com/jordanlanch/bioforge/pkg/models"
)

// Plan durations used when a paid plan is purchased
const (
	DailyPlanDuration   = 24 * time.Hour
	MonthlyPlanDuration = 30 * 24 * time.Hour
)

// ExpiresAtFor computes the expiry of a plan bought at now. Lifetime and free never expire.
func ExpiresAtFor(plan models.PlanType, now time.Time) *time.Time {
	var d time.Duration
	switch plan {
	case models.PlanDaily:
		d = DailyPlanDuration
	case models.PlanMonthly:
		d = MonthlyPlanDuration
	default:
		return nil
	}
	t := now.Add(d).UTC()
	return &t
}

// IsExpired reports whether expiresAt has been reached. The boundary counts as expired.
func IsExpired(sub models.Subscription, now time.Time) bool {
	if sub.ExpiresAt == nil {
		return false
	}
	return !now.Before(*sub.ExpiresAt)
}

// NeedsSweep reports whether the sweep should deactivate this record.
//
// daily plans expire unconditionally at expiresAt. Monthly plans are only
// expired once cancelled; renewal of an uncancelled monthly plan is driven by
// the payment webhook, never by this check. Lifetime and free never expire.
func NeedsSweep(sub models.Subscription, now time.Time) bool {
	if !sub.IsActive || !IsExpired(sub, now) {
		return false
	}

	switch sub.PlanType {
	case models.PlanDaily:
		return true
	case models.PlanMonthly:
		return sub.Cancelled
	default:
		return false
	}
}

// Effective returns the subscription as it should be evaluated at now. A
// record that is due for sweeping is presented as an inactive free plan
// until the store catches up.
func Effective(sub models.Subscription, now time.Time) models.Subscription {
	if !NeedsSweep(sub, now) {
		return sub
	}
	sub.IsActive = false
	sub.PlanType = models.PlanFree
	return sub
}

// Revalidation polling intervals
const (
	ImminentExpiryWindow      = time.Hour
	ImminentExpiryInterval    = time.Minute
	DailyRevalidateInterval   = 10 * time.Minute
	MonthlyRevalidateInterval = time.Hour
)

// RevalidationInterval returns how often a loaded subscription should be
// re-checked. ok is false when the subscription does not need polling.
func RevalidationInterval(sub models.Subscription, now time.Time) (time.Duration, bool) {
	if sub.ExpiresAt == nil {
		return 0, false
	}

	switch sub.PlanType {
	case models.PlanDaily:
		if sub.ExpiresAt.Sub(now) < ImminentExpiryWindow {
			return ImminentExpiryInterval, true
		}
		return DailyRevalidateInterval, true
	case models.PlanMonthly:
		return MonthlyRevalidateInterval, true
	default:
		return 0, false
	}
}
