package subscription

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/jordanlanch/bioforge/pkg/models"
)

var errStoreDown = errors.New("store unavailable")

// countingRepo counts reads and can be switched into a failing mode
type countingRepo struct {
	Repository
	currentCalls atomic.Int32
	fail         atomic.Bool
}

func (r *countingRepo) Current(ctx context.Context, userID string) (*models.Subscription, error) {
	r.currentCalls.Add(1)
	if r.fail.Load() {
		return nil, errStoreDown
	}
	return r.Repository.Current(ctx, userID)
}

func (r *countingRepo) Upgrade(ctx context.Context, userID string, plan models.PlanType, expiresAt *time.Time) (*models.Subscription, error) {
	if r.fail.Load() {
		return nil, errStoreDown
	}
	return r.Repository.Upgrade(ctx, userID, plan, expiresAt)
}

func (r *countingRepo) Cancel(ctx context.Context, userID string) error {
	if r.fail.Load() {
		return errStoreDown
	}
	return r.Repository.Cancel(ctx, userID)
}

func (r *countingRepo) DeactivateExpired(ctx context.Context, subscriptionID string) error {
	if r.fail.Load() {
		return errStoreDown
	}
	return r.Repository.DeactivateExpired(ctx, subscriptionID)
}

func (r *countingRepo) ListExpiring(ctx context.Context) ([]models.Subscription, error) {
	if r.fail.Load() {
		return nil, errStoreDown
	}
	return r.Repository.ListExpiring(ctx)
}
