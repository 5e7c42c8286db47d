// Package subscription stores users' plan records and applies the
// fetch/upgrade/cancel/expire lifecycle on top of them.
package subscription

import (
	"context"
	"errors"
	"time"

	"github.com/jordanlanch/bioforge/pkg/models"
)

var (
	// ErrNoActiveSubscription is returned when a user has no active record to mutate
	ErrNoActiveSubscription = errors.New("no active subscription")
	// ErrSubscriptionNotFound is returned when a record id does not exist
	ErrSubscriptionNotFound = errors.New("subscription not found")
)

// Repository is the persistence boundary for subscription records
type Repository interface {
	// Current returns the most recently created active record, or nil when none exists.
	Current(ctx context.Context, userID string) (*models.Subscription, error)
	// Upgrade deactivates every active record of the user and inserts a new
	// active one atomically.
	Upgrade(ctx context.Context, userID string, plan models.PlanType, expiresAt *time.Time) (*models.Subscription, error)
	// Cancel flags the current active record as cancelled.
	Cancel(ctx context.Context, userID string) error
	// DeactivateExpired marks a record inactive and downgrades it to free.
	DeactivateExpired(ctx context.Context, subscriptionID string) error
	// ListExpiring returns active paid records that carry an expiry.
	ListExpiring(ctx context.Context) ([]models.Subscription, error)
}
