package subscription

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/jordanlanch/bioforge/pkg/models"
)

// MemoryRepository is a thread-safe in-memory Repository for tests and local development
type MemoryRepository struct {
	mu    sync.RWMutex
	subs  []models.Subscription
	clock clockwork.Clock
}

// NewMemoryRepository creates an empty in-memory repository
func NewMemoryRepository(clock clockwork.Clock) *MemoryRepository {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MemoryRepository{clock: clock}
}

// Put stores a record as-is. Used to seed fixtures.
func (m *MemoryRepository) Put(sub models.Subscription) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.subs {
		if m.subs[i].ID == sub.ID {
			m.subs[i] = sub
			return
		}
	}
	m.subs = append(m.subs, sub)
}

func (m *MemoryRepository) currentIndex(userID string) int {
	idx := -1
	for i, s := range m.subs {
		if s.UserID != userID || !s.IsActive {
			continue
		}
		if idx == -1 || s.CreatedAt.After(m.subs[idx].CreatedAt) {
			idx = i
		}
	}
	return idx
}

// Current returns the user's most recent active subscription, or nil
func (m *MemoryRepository) Current(_ context.Context, userID string) (*models.Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	idx := m.currentIndex(userID)
	if idx == -1 {
		return nil, nil
	}
	sub := m.subs[idx]
	return &sub, nil
}

// Upgrade deactivates existing active records and appends a new one
func (m *MemoryRepository) Upgrade(_ context.Context, userID string, plan models.PlanType, expiresAt *time.Time) (*models.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now().UTC()
	for i := range m.subs {
		if m.subs[i].UserID == userID && m.subs[i].IsActive {
			m.subs[i].IsActive = false
			m.subs[i].UpdatedAt = now
		}
	}

	sub := models.Subscription{
		ID:        uuid.NewString(),
		UserID:    userID,
		PlanType:  plan,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if expiresAt != nil {
		t := expiresAt.UTC()
		sub.ExpiresAt = &t
	}
	m.subs = append(m.subs, sub)
	return &sub, nil
}

// Cancel flags the current active record as cancelled
func (m *MemoryRepository) Cancel(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := m.currentIndex(userID)
	if idx == -1 {
		return ErrNoActiveSubscription
	}
	m.subs[idx].Cancelled = true
	m.subs[idx].UpdatedAt = m.clock.Now().UTC()
	return nil
}

// DeactivateExpired marks a record inactive and free
func (m *MemoryRepository) DeactivateExpired(_ context.Context, subscriptionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.subs {
		if m.subs[i].ID == subscriptionID {
			m.subs[i].IsActive = false
			m.subs[i].PlanType = models.PlanFree
			m.subs[i].UpdatedAt = m.clock.Now().UTC()
			return nil
		}
	}
	return ErrSubscriptionNotFound
}

// ListExpiring returns active paid records with an expiry
func (m *MemoryRepository) ListExpiring(_ context.Context) ([]models.Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.Subscription
	for _, s := range m.subs {
		if s.IsActive && s.PlanType != models.PlanFree && s.ExpiresAt != nil {
			out = append(out, s)
		}
	}
	return out, nil
}
