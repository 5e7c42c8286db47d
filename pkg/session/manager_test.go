package session

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/jordanlanch/bioforge/pkg/access"
	"github.com/jordanlanch/bioforge/pkg/entitlement"
	"github.com/jordanlanch/bioforge/pkg/models"
	"github.com/jordanlanch/bioforge/pkg/subscription"
	"github.com/jordanlanch/bioforge/pkg/usage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) (*Manager, clockwork.FakeClock, *subscription.Service) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC))
	subs := subscription.NewService(subscription.NewMemoryRepository(clock), clock, nil, nil)
	use := usage.NewService(usage.NewMemoryRepository(), usage.ScopeAllTime, entitlement.FailOpen, clock, nil, nil)

	factory := func() *access.Controller {
		return access.NewController(access.Deps{Subscriptions: subs, Usage: use, Clock: clock})
	}
	m := NewManager(factory, 30*time.Minute, 5*time.Minute, clock, nil, nil)
	t.Cleanup(m.Close)
	return m, clock, subs
}

func TestManager_GetCreatesOncePerUser(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	c1 := m.Get(ctx, access.Identity{UserID: "u1", Email: "u1@example.com"})
	c2 := m.Get(ctx, access.Identity{UserID: "u1", Email: "u1@example.com"})
	c3 := m.Get(ctx, access.Identity{UserID: "u2", Email: "u2@example.com"})

	assert.Same(t, c1, c2)
	assert.NotSame(t, c1, c3)
	assert.Equal(t, 2, m.Count())
	assert.Equal(t, access.StateReady, c1.Snapshot().State)
}

func TestManager_Lookup(t *testing.T) {
	m, _, _ := newTestManager(t)

	_, ok := m.Lookup("u1")
	assert.False(t, ok)

	created := m.Get(context.Background(), access.Identity{UserID: "u1"})
	found, ok := m.Lookup("u1")
	require.True(t, ok)
	assert.Same(t, created, found)
}

func TestManager_Refetch(t *testing.T) {
	m, _, subs := newTestManager(t)
	ctx := context.Background()

	c := m.Get(ctx, access.Identity{UserID: "u1"})
	assert.False(t, c.CanUseTool(models.ToolCoverLetter))

	require.True(t, subs.Upgrade(ctx, "u1", models.PlanLifetime))
	m.Refetch(ctx, "u1")
	assert.True(t, c.CanUseTool(models.ToolCoverLetter))

	// unknown users are ignored
	m.Refetch(ctx, "ghost")
}

func TestManager_Delete(t *testing.T) {
	m, _, _ := newTestManager(t)
	c := m.Get(context.Background(), access.Identity{UserID: "u1"})

	m.Delete("u1")
	assert.Equal(t, 0, m.Count())
	assert.Equal(t, access.StateUnauthenticated, c.Snapshot().State)
}

func TestManager_EvictsIdleSessions(t *testing.T) {
	m, clock, _ := newTestManager(t)
	ctx := context.Background()

	m.Get(ctx, access.Identity{UserID: "idle"})
	clock.Advance(20 * time.Minute)
	m.Get(ctx, access.Identity{UserID: "busy"})

	// idle has been quiet for 35 minutes, busy for 15
	clock.Advance(15 * time.Minute)
	require.Eventually(t, func() bool { return m.Count() == 1 }, time.Second, 5*time.Millisecond)

	_, ok := m.Lookup("busy")
	assert.True(t, ok)
	_, ok = m.Lookup("idle")
	assert.False(t, ok)
}

func TestManager_CloseClosesSessions(t *testing.T) {
	m, _, _ := newTestManager(t)
	c := m.Get(context.Background(), access.Identity{UserID: "u1"})
	ch, _ := c.Subscribe()
	<-ch

	m.Close()
	assert.Equal(t, 0, m.Count())
	_, open := <-ch
	assert.False(t, open)

	// closing twice is safe
	m.Close()
}
