package entitlement

import (
	"fmt"
	"time"

	"github.com/jordanlanch/bioforge/pkg/models"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// ExpiredLabel is shown once a plan's expiry has passed
const ExpiredLabel = "Expired"

var titleCaser = cases.Title(language.English)

// RemainingTime renders the time left on a plan, e.g. "2d 3h", "5h 12m" or
// "42m". ok is false when the plan does not expire.
func RemainingTime(sub models.Subscription, now time.Time) (string, bool) {
	if sub.ExpiresAt == nil {
		return "", false
	}
	if IsExpired(sub, now) {
		return ExpiredLabel, true
	}

	d := sub.ExpiresAt.Sub(now)
	days := int(d / (24 * time.Hour))
	hours := int(d/time.Hour) % 24
	minutes := int(d/time.Minute) % 60

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh", days, hours), true
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes), true
	case minutes > 0:
		return fmt.Sprintf("%dm", minutes), true
	default:
		return "<1m", true
	}
}

// PlanDisplayName is the human label for a plan. Administrators always see "Admin Access".
func PlanDisplayName(plan models.PlanType, isAdmin bool) string {
	if isAdmin {
		return "Admin Access"
	}
	p, _ := models.ParsePlanType(string(plan))
	return titleCaser.String(string(p)) + " Plan"
}
