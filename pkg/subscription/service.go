package subscription

import (
	"context"
	"errors"
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/jordanlanch/bioforge/pkg/entitlement"
	"github.com/jordanlanch/bioforge/pkg/logger"
	"github.com/jordanlanch/bioforge/pkg/metrics"
	"github.com/jordanlanch/bioforge/pkg/models"
)

// Sweep trigger labels
const (
	TriggerClient = "client"
	TriggerCron   = "cron"
)

// Service applies the subscription lifecycle on top of a Repository.
// Reads never fail: an unreadable store yields the free default. Mutations
// report failure as false and are not retried.
type Service struct {
	repo    Repository
	clock   clockwork.Clock
	log     logger.Logger
	metrics *metrics.Metrics
}

// NewService creates a new subscription service
func NewService(repo Repository, clock clockwork.Clock, log logger.Logger, m *metrics.Metrics) *Service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Service{repo: repo, clock: clock, log: log, metrics: m}
}

// FetchCurrent returns the user's active subscription, or the free default
// when there is none or the store cannot be read.
func (s *Service) FetchCurrent(ctx context.Context, userID string) models.Subscription {
	sub, err := s.repo.Current(ctx, userID)
	if err != nil {
		s.log.Warn("subscription fetch failed, using free default", "user_id", userID, "error", err)
		s.metrics.RecordFetchFailure("subscription")
		return models.DefaultFreeSubscription(userID)
	}
	if sub == nil {
		return models.DefaultFreeSubscription(userID)
	}
	return *sub
}

// Upgrade moves the user to a paid plan. The expiry is derived from the plan.
func (s *Service) Upgrade(ctx context.Context, userID string, plan models.PlanType) bool {
	if _, ok := models.ParsePlanType(string(plan)); !ok || !plan.IsPaid() {
		s.log.Warn("rejected upgrade to non-paid plan", "user_id", userID, "plan", plan)
		return false
	}

	expiresAt := entitlement.ExpiresAtFor(plan, s.clock.Now())
	sub, err := s.repo.Upgrade(ctx, userID, plan, expiresAt)
	if err != nil {
		s.log.Error("subscription upgrade failed", "user_id", userID, "plan", plan, "error", err)
		return false
	}

	s.metrics.RecordSubscriptionChange("upgrade", string(plan))
	s.log.Info("subscription upgraded", "user_id", userID, "plan", plan, "subscription_id", sub.ID)
	return true
}

// Cancel flags the current subscription as cancelled. Access continues until expiry.
func (s *Service) Cancel(ctx context.Context, userID string) bool {
	if err := s.repo.Cancel(ctx, userID); err != nil {
		s.log.Error("subscription cancel failed", "user_id", userID, "error", err)
		return false
	}
	s.metrics.RecordSubscriptionChange("cancel", "")
	s.log.Info("subscription cancelled", "user_id", userID)
	return true
}

// DeactivateExpired downgrades a record to inactive free
func (s *Service) DeactivateExpired(ctx context.Context, subscriptionID string) error {
	if err := s.repo.DeactivateExpired(ctx, subscriptionID); err != nil {
		return fmt.Errorf("deactivate %s: %w", subscriptionID, err)
	}
	s.metrics.RecordSubscriptionChange("deactivate", string(models.PlanFree))
	return nil
}

// Renew applies a provider-billed renewal of plan. A renewal never replaces a
// higher plan bought since, so a lifetime user whose old monthly subscription
// is still billing stays on lifetime. Returns false only when the store fails.
func (s *Service) Renew(ctx context.Context, userID string, plan models.PlanType) bool {
	sub, ok := s.current(ctx, userID)
	if !ok {
		return false
	}
	if sub != nil && entitlement.IsDowngrade(sub.PlanType, plan) {
		s.log.Info("renewal skipped, current plan ranks higher", "user_id", userID, "current", sub.PlanType, "renewal", plan)
		return true
	}
	return s.Upgrade(ctx, userID, plan)
}

// CancelRecurring flags the current record as cancelled when it is a
// provider-billed plan. Any other current plan is left untouched.
func (s *Service) CancelRecurring(ctx context.Context, userID string) bool {
	sub, ok := s.current(ctx, userID)
	if !ok {
		return false
	}
	if sub == nil || !sub.PlanType.IsRecurring() {
		s.log.Info("provider cancellation ignored, current plan is not recurring", "user_id", userID)
		return true
	}
	return s.Cancel(ctx, userID)
}

// EndCurrent deactivates the user's current recurring record regardless of
// expiry. Used when the payment provider reports the subscription as
// terminated; one-off plans such as lifetime are not affected. Returns false
// only when the store fails.
func (s *Service) EndCurrent(ctx context.Context, userID string) bool {
	sub, ok := s.current(ctx, userID)
	if !ok {
		return false
	}
	if sub == nil || !sub.PlanType.IsRecurring() {
		s.log.Info("provider termination ignored, current plan is not recurring", "user_id", userID)
		return true
	}
	if err := s.DeactivateExpired(ctx, sub.ID); err != nil {
		s.log.Error("subscription termination failed", "user_id", userID, "error", err)
		return false
	}
	s.log.Info("subscription terminated", "user_id", userID, "subscription_id", sub.ID)
	return true
}

func (s *Service) current(ctx context.Context, userID string) (*models.Subscription, bool) {
	sub, err := s.repo.Current(ctx, userID)
	if err != nil {
		s.log.Error("subscription lookup failed", "user_id", userID, "error", err)
		return nil, false
	}
	return sub, true
}

// SweepUser deactivates the user's current record if the expiry policy says
// it has lapsed. It reports whether anything changed.
func (s *Service) SweepUser(ctx context.Context, userID string) (bool, error) {
	sub, err := s.repo.Current(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("sweep lookup: %w", err)
	}
	if sub == nil || !entitlement.NeedsSweep(*sub, s.clock.Now()) {
		return false, nil
	}

	err = s.DeactivateExpired(ctx, sub.ID)
	s.metrics.RecordSweep(TriggerClient, err == nil)
	if err != nil {
		return false, err
	}
	s.log.Info("expired subscription deactivated", "user_id", userID, "plan", sub.PlanType, "trigger", TriggerClient)
	return true, nil
}

// SweepAll deactivates every lapsed record and returns how many were changed
func (s *Service) SweepAll(ctx context.Context) (int, error) {
	subs, err := s.repo.ListExpiring(ctx)
	if err != nil {
		return 0, fmt.Errorf("sweep listing: %w", err)
	}

	now := s.clock.Now()
	var (
		swept int
		errs  []error
	)
	for _, sub := range subs {
		if !entitlement.NeedsSweep(sub, now) {
			continue
		}
		err := s.DeactivateExpired(ctx, sub.ID)
		s.metrics.RecordSweep(TriggerCron, err == nil)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		swept++
		s.log.Info("expired subscription deactivated", "user_id", sub.UserID, "plan", sub.PlanType, "trigger", TriggerCron)
	}
	return swept, errors.Join(errs...)
}
