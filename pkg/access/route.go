package access

import (
	"strings"
	"time"

	"github.com/jordanlanch/bioforge/pkg/entitlement"
)

// RouteDecision is what the UI should do with a navigation
type RouteDecision int

const (
	RouteAllow RouteDecision = iota
	// RoutePending means the session is still loading and no decision can be made yet
	RoutePending
	RouteRedirectLogin
	RouteRedirectPricing
)

func (d RouteDecision) String() string {
	switch d {
	case RouteAllow:
		return "allow"
	case RoutePending:
		return "pending"
	case RouteRedirectLogin:
		return "redirect_login"
	case RouteRedirectPricing:
		return "redirect_pricing"
	default:
		return "unknown"
	}
}

// RoutePolicy decides whether a path may be shown for a session. It is
// layered on top of the evaluator and never changes entitlement state.
type RoutePolicy interface {
	Decide(path string, snap Snapshot, now time.Time) RouteDecision
	Redirect(d RouteDecision) string
}

// DefaultProtectedPrefixes are the paths that require a signed-in user
var DefaultProtectedPrefixes = []string{"/bio-generator", "/cover-letter", "/dashboard"}

// PrefixGuard protects a fixed set of path prefixes
type PrefixGuard struct {
	Prefixes    []string
	LoginPath   string
	PricingPath string
}

// NewPrefixGuard creates a guard over the default prefixes
func NewPrefixGuard() *PrefixGuard {
	return &PrefixGuard{
		Prefixes:    DefaultProtectedPrefixes,
		LoginPath:   "/login",
		PricingPath: "/pricing",
	}
}

// Protected reports whether path falls under one of the guarded prefixes
func (g *PrefixGuard) Protected(path string) bool {
	for _, p := range g.Prefixes {
		if path == p || strings.HasPrefix(path, p+"/") {
			return true
		}
	}
	return false
}

// Decide implements RoutePolicy
func (g *PrefixGuard) Decide(path string, snap Snapshot, now time.Time) RouteDecision {
	if !g.Protected(path) {
		return RouteAllow
	}
	if snap.Identity == nil {
		return RouteRedirectLogin
	}
	if !snap.Loaded() {
		return RoutePending
	}
	if !snap.IsAdmin && entitlement.IsExpired(snap.Subscription, now) {
		return RouteRedirectPricing
	}
	return RouteAllow
}

// Redirect returns the target path for a redirect decision
func (g *PrefixGuard) Redirect(d RouteDecision) string {
	switch d {
	case RouteRedirectLogin:
		return g.LoginPath
	case RouteRedirectPricing:
		return g.PricingPath
	default:
		return ""
	}
}
