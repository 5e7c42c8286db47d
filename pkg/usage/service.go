package usage

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/jordanlanch/bioforge/pkg/entitlement"
	"github.com/jordanlanch/bioforge/pkg/logger"
	"github.com/jordanlanch/bioforge/pkg/metrics"
	"github.com/jordanlanch/bioforge/pkg/models"
)

// Scope is the window free usage is counted over
type Scope string

const (
	ScopeAllTime Scope = "all_time"
	ScopeDaily   Scope = "daily"
)

// ParseScope parses the FREE_USAGE_SCOPE setting. Empty means all-time.
func ParseScope(s string) (Scope, error) {
	switch Scope(strings.ToLower(strings.TrimSpace(s))) {
	case "", ScopeAllTime:
		return ScopeAllTime, nil
	case ScopeDaily:
		return ScopeDaily, nil
	default:
		return "", fmt.Errorf("unknown usage scope %q", s)
	}
}

// Service counts and records tool usage under one configured scope
type Service struct {
	repo    Repository
	scope   Scope
	policy  entitlement.ReadFailurePolicy
	clock   clockwork.Clock
	log     logger.Logger
	metrics *metrics.Metrics
}

// NewService creates a usage service
func NewService(repo Repository, scope Scope, policy entitlement.ReadFailurePolicy, clock clockwork.Clock, log logger.Logger, m *metrics.Metrics) *Service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if log == nil {
		log = logger.Nop()
	}
	if scope == "" {
		scope = ScopeAllTime
	}
	if policy == "" {
		policy = entitlement.DefaultReadFailurePolicy
	}
	return &Service{repo: repo, scope: scope, policy: policy, clock: clock, log: log, metrics: m}
}

// Scope returns the counting window in use
func (s *Service) Scope() Scope {
	return s.scope
}

func (s *Service) day() string {
	if s.scope == ScopeDaily {
		return models.UsageDay(s.clock.Now())
	}
	return ""
}

// Count returns the user's usage of a tool. It never fails: an unreadable
// store yields the read-failure policy's fallback.
func (s *Service) Count(ctx context.Context, userID string, tool models.ToolType) int {
	n, err := s.repo.Count(ctx, userID, tool, s.day())
	if err != nil {
		fallback := s.policy.FallbackUsageCount()
		s.log.Warn("usage count failed, applying read-failure policy",
			"user_id", userID, "tool", tool, "policy", s.policy, "fallback", fallback, "error", err)
		s.metrics.RecordFetchFailure("usage")
		return fallback
	}
	return n
}

// Record appends one usage record. It returns false when the write fails; the
// caller decides how to report that.
func (s *Service) Record(ctx context.Context, userID string, tool models.ToolType) bool {
	now := s.clock.Now().UTC()
	rec := models.UsageRecord{
		ID:        uuid.NewString(),
		UserID:    userID,
		ToolType:  tool,
		Date:      models.UsageDay(now),
		CreatedAt: now,
	}

	if err := s.repo.Record(ctx, rec); err != nil {
		s.log.Error("usage record failed", "user_id", userID, "tool", tool, "error", err)
		s.metrics.RecordUsage(string(tool), false)
		return false
	}
	s.metrics.RecordUsage(string(tool), true)
	return true
}
