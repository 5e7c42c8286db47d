package session

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/jordanlanch/bioforge/pkg/access"
	"github.com/jordanlanch/bioforge/pkg/logger"
	"github.com/jordanlanch/bioforge/pkg/metrics"
)

// Factory builds an unauthenticated controller for a new session
type Factory func() *access.Controller

// Manager keeps one access controller per signed-in user and tears down
// sessions that have been idle longer than the TTL.
type Manager struct {
	sessions      map[string]*Session
	mu            sync.RWMutex
	sessionTTL    time.Duration
	cleanupPeriod time.Duration
	factory       Factory
	clock         clockwork.Clock
	log           logger.Logger
	metrics       *metrics.Metrics
	stop          chan struct{}
	stopOnce      sync.Once
}

// Session is one user's live controller
type Session struct {
	Controller *access.Controller
	LastSeen   time.Time
}

// NewManager creates a session manager and starts its cleanup loop
func NewManager(factory Factory, sessionTTL, cleanupPeriod time.Duration, clock clockwork.Clock, log logger.Logger, m *metrics.Metrics) *Manager {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if log == nil {
		log = logger.Nop()
	}
	mgr := &Manager{
		sessions:      make(map[string]*Session),
		sessionTTL:    sessionTTL,
		cleanupPeriod: cleanupPeriod,
		factory:       factory,
		clock:         clock,
		log:           log,
		metrics:       m,
		stop:          make(chan struct{}),
	}
	ticker := clock.NewTicker(cleanupPeriod)
	go mgr.cleanupExpired(ticker)
	return mgr
}

// Get returns the user's controller, creating and loading it on first use.
// A changed email on an existing session is applied with SetUser.
func (m *Manager) Get(ctx context.Context, id access.Identity) *access.Controller {
	m.mu.Lock()
	s, ok := m.sessions[id.UserID]
	if ok {
		s.LastSeen = m.clock.Now()
		m.mu.Unlock()
		if snap := s.Controller.Snapshot(); snap.Identity == nil || snap.Identity.Email != id.Email {
			s.Controller.SetUser(ctx, &id)
		}
		return s.Controller
	}

	s = &Session{Controller: m.factory(), LastSeen: m.clock.Now()}
	m.sessions[id.UserID] = s
	count := len(m.sessions)
	m.mu.Unlock()

	m.metrics.SetActiveSessions(count)
	m.log.Debug("access session created", "user_id", id.UserID)

	s.Controller.SetUser(ctx, &id)
	return s.Controller
}

// Lookup returns the user's controller if a session exists
func (m *Manager) Lookup(userID string) (*access.Controller, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[userID]
	if !ok {
		return nil, false
	}
	return s.Controller, true
}

// Delete ends a user's session (logout)
func (m *Manager) Delete(userID string) {
	m.mu.Lock()
	s, ok := m.sessions[userID]
	delete(m.sessions, userID)
	count := len(m.sessions)
	m.mu.Unlock()

	if ok {
		s.Controller.SetUser(context.Background(), nil)
		s.Controller.Close()
		m.metrics.SetActiveSessions(count)
	}
}

// Refetch reloads the user's session, if any, without the expiry sweep.
// Used after out-of-band changes such as payment webhooks.
func (m *Manager) Refetch(ctx context.Context, userID string) {
	if c, ok := m.Lookup(userID); ok {
		c.Refetch(ctx)
	}
}

// cleanupExpired periodically closes idle sessions
func (m *Manager) cleanupExpired(ticker clockwork.Ticker) {
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.Chan():
			m.evictIdle()
		}
	}
}

func (m *Manager) evictIdle() {
	now := m.clock.Now()

	m.mu.Lock()
	var idle []*Session
	for userID, s := range m.sessions {
		if now.Sub(s.LastSeen) > m.sessionTTL {
			idle = append(idle, s)
			delete(m.sessions, userID)
		}
	}
	count := len(m.sessions)
	m.mu.Unlock()

	for _, s := range idle {
		s.Controller.Close()
	}
	if len(idle) > 0 {
		m.log.Info("closed idle access sessions", "count", len(idle))
		m.metrics.SetActiveSessions(count)
	}
}

// Count returns the number of active sessions
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Close stops the cleanup loop and closes every session
func (m *Manager) Close() {
	m.stopOnce.Do(func() { close(m.stop) })

	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.Controller.Close()
	}
	m.metrics.SetActiveSessions(0)
}
