package entitlement

import (
	"fmt"
	"strings"
)

// ReadFailurePolicy decides what a failed read of subscription or usage data
// turns into. Write failures are always reported to the caller as false.
type ReadFailurePolicy string

const (
	// FailOpen treats an unreadable subscription as free and an unreadable
	// usage count as zero, so a store outage looks like the free tier.
	FailOpen ReadFailurePolicy = "open"
	// FailClosed treats an unreadable usage count as exhausted, so metered
	// tools are denied until the store is reachable again.
	FailClosed ReadFailurePolicy = "closed"
)

// DefaultReadFailurePolicy is the policy used unless configured otherwise
const DefaultReadFailurePolicy = FailOpen

// ParseReadFailurePolicy parses the ENTITLEMENT_READ_FAILURE setting
func ParseReadFailurePolicy(s string) (ReadFailurePolicy, error) {
	switch ReadFailurePolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", FailOpen:
		return FailOpen, nil
	case FailClosed:
		return FailClosed, nil
	default:
		return "", fmt.Errorf("unknown read failure policy %q", s)
	}
}

// FallbackUsageCount is the usage count assumed when the counter cannot be read
func (p ReadFailurePolicy) FallbackUsageCount() int {
	if p == FailClosed {
		return FreeBioAllowance
	}
	return 0
}
