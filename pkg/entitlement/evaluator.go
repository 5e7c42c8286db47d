// Package entitlement holds the pure access rules for metered tools: who may
// run a tool, when a plan has expired, and how the result is presented.
// Nothing in this package performs I/O.
package entitlement

import "github.com/jordanlanch/bioforge/pkg/models"

// FreeBioAllowance is how many bio generations a free user gets
const FreeBioAllowance = 1

// CanUseTool decides whether a tool invocation is allowed. Rules are applied
// in order and the first match wins.
//
// The subscription is trusted as given: expiry must already be reflected in
// IsActive/PlanType (see Effective and the subscription sweep).
func CanUseTool(tool models.ToolType, sub models.Subscription, isAdmin bool, usageCount int) bool {
	if isAdmin {
		return true
	}

	if sub.PlanType.IsPaid() && sub.IsActive {
		return true
	}

	switch tool {
	case models.ToolCoverLetter:
		return false
	case models.ToolBioGenerator:
		return usageCount < FreeBioAllowance
	default:
		return false
	}
}

// Decide wraps CanUseTool in a Decision value
func Decide(tool models.ToolType, sub models.Subscription, isAdmin bool, usageCount int) models.Decision {
	return models.Decision{Allowed: CanUseTool(tool, sub, isAdmin, usageCount)}
}

// IsDowngrade reports whether moving from one plan to another lowers the tier.
// Unknown plans rank as free.
func IsDowngrade(from, to models.PlanType) bool {
	return to.Rank() < from.Rank()
}
