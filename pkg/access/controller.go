// Package access keeps the entitlement state of one signed-in user current:
// it loads the subscription and usage counts, revalidates on a timer and on
// client events, and answers tool and route checks from that state.
package access

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/jordanlanch/bioforge/pkg/domain"
	"github.com/jordanlanch/bioforge/pkg/entitlement"
	"github.com/jordanlanch/bioforge/pkg/logger"
	"github.com/jordanlanch/bioforge/pkg/metrics"
	"github.com/jordanlanch/bioforge/pkg/models"
	"golang.org/x/sync/errgroup"
)

// DefaultFetchTimeout bounds one refresh cycle
const DefaultFetchTimeout = 10 * time.Second

var errUsageWrite = errors.New("usage record was not written")

// SubscriptionSource is the subscription side of the store as the controller sees it
type SubscriptionSource interface {
	FetchCurrent(ctx context.Context, userID string) models.Subscription
	SweepUser(ctx context.Context, userID string) (bool, error)
}

// UsageSource is the usage counter as the controller sees it
type UsageSource interface {
	Count(ctx context.Context, userID string, tool models.ToolType) int
	Record(ctx context.Context, userID string, tool models.ToolType) bool
}

// Deps are the collaborators of a Controller
type Deps struct {
	Subscriptions SubscriptionSource
	Usage         UsageSource
	Admin         AdminPredicate
	Routes        RoutePolicy
	Clock         clockwork.Clock
	Logger        logger.Logger
	Metrics       *metrics.Metrics
	FetchTimeout  time.Duration
}

// Controller owns the entitlement state of one user session. It is safe for
// concurrent use. Of overlapping refreshes, the one started last wins.
type Controller struct {
	subs         SubscriptionSource
	usage        UsageSource
	admin        AdminPredicate
	routes       RoutePolicy
	clock        clockwork.Clock
	log          logger.Logger
	metrics      *metrics.Metrics
	fetchTimeout time.Duration
	sched        *Scheduler

	baseCtx context.Context
	cancel  context.CancelFunc

	mu          sync.Mutex
	snap        Snapshot
	gen         uint64
	closed      bool
	subscribers map[int]chan Snapshot
	nextSubID   int

	// meterMu serializes the allowance check of Metered calls. reserved
	// counts runs that passed the check but are not yet in UsageCounts.
	meterMu  sync.Mutex
	reserved map[models.ToolType]int
}

// NewController creates an unauthenticated controller
func NewController(d Deps) *Controller {
	if d.Clock == nil {
		d.Clock = clockwork.NewRealClock()
	}
	if d.Logger == nil {
		d.Logger = logger.Nop()
	}
	if d.Admin == nil {
		d.Admin = NewEmailAdmin("", nil, d.Logger)
	}
	if d.Routes == nil {
		d.Routes = NewPrefixGuard()
	}
	if d.FetchTimeout <= 0 {
		d.FetchTimeout = DefaultFetchTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		subs:         d.Subscriptions,
		usage:        d.Usage,
		admin:        d.Admin,
		routes:       d.Routes,
		clock:        d.Clock,
		log:          d.Logger,
		metrics:      d.Metrics,
		fetchTimeout: d.FetchTimeout,
		baseCtx:      ctx,
		cancel:       cancel,
		snap:         Snapshot{State: StateUnauthenticated, UsageCounts: map[models.ToolType]int{}},
		subscribers:  make(map[int]chan Snapshot),
		reserved:     make(map[models.ToolType]int),
	}
	c.sched = NewScheduler(d.Clock, func() { c.refresh(c.baseCtx, false) })
	return c
}

// SetUser reports a login (id != nil) or logout (id == nil) and reloads state
func (c *Controller) SetUser(ctx context.Context, id *Identity) {
	if id == nil {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return
		}
		c.gen++
		c.snap = Snapshot{State: StateUnauthenticated, UsageCounts: map[models.ToolType]int{}}
		c.sched.Stop()
		c.publishLocked()
		c.mu.Unlock()
		return
	}

	isAdmin := c.admin.IsAdmin(ctx, *id)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	ident := *id
	if c.snap.Identity == nil || c.snap.Identity.UserID != ident.UserID {
		c.snap = Snapshot{UsageCounts: map[models.ToolType]int{}}
	}
	c.snap.Identity = &ident
	c.snap.IsAdmin = isAdmin
	c.mu.Unlock()

	c.refresh(ctx, false)
}

// Refetch reloads subscription and usage without running the expiry sweep
func (c *Controller) Refetch(ctx context.Context) {
	c.refresh(ctx, true)
}

// Notify handles a client lifecycle event. Becoming visible or focused
// revalidates immediately; hiding does nothing.
func (c *Controller) Notify(ctx context.Context, ev Event) error {
	switch ev {
	case EventVisible, EventFocus:
		c.refresh(ctx, false)
		return nil
	case EventHidden:
		return nil
	default:
		return domain.NewValidationError("unknown event " + string(ev))
	}
}

func (c *Controller) refresh(ctx context.Context, skipExpiryCheck bool) {
	c.mu.Lock()
	if c.closed || c.snap.Identity == nil {
		c.mu.Unlock()
		return
	}
	c.gen++
	gen := c.gen
	id := *c.snap.Identity
	isAdmin := c.snap.IsAdmin
	c.snap.Loading = true
	if c.snap.State != StateExpired {
		c.snap.State = StateLoading
	}
	c.publishLocked()
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, c.fetchTimeout)
	defer cancel()

	log := c.log.With("user_id", id.UserID)

	if !skipExpiryCheck && !isAdmin {
		swept, err := c.subs.SweepUser(ctx, id.UserID)
		if err != nil {
			log.Warn("expiry sweep failed, continuing with current state", "error", err)
		} else if swept {
			c.mu.Lock()
			if gen == c.gen {
				c.snap.State = StateExpired
				c.publishLocked()
			}
			c.mu.Unlock()
		}
	}

	var sub models.Subscription
	counts := make([]int, len(models.AllTools))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if isAdmin {
			sub = models.AdminSubscription(id.UserID)
			return nil
		}
		sub = c.subs.FetchCurrent(gctx, id.UserID)
		return nil
	})
	for i, tool := range models.AllTools {
		g.Go(func() error {
			counts[i] = c.usage.Count(gctx, id.UserID, tool)
			return nil
		})
	}
	_ = g.Wait()

	now := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || gen != c.gen {
		log.Debug("discarding stale access fetch", "generation", gen)
		return
	}

	c.snap.Subscription = sub
	for i, tool := range models.AllTools {
		c.snap.UsageCounts[tool] = counts[i]
	}
	c.snap.Loading = false
	c.snap.FetchedAt = now
	if entitlement.NeedsSweep(sub, now) {
		c.snap.State = StateExpired
	} else {
		c.snap.State = StateReady
	}

	if interval, ok := entitlement.RevalidationInterval(sub, now); ok {
		c.sched.Reset(interval)
	} else {
		c.sched.Stop()
	}

	c.publishLocked()
}

// CanUseTool reports whether the current user may run tool now. Nothing is
// allowed before the first load completes.
func (c *Controller) CanUseTool(tool models.ToolType) bool {
	snap := c.Snapshot()
	if !snap.Loaded() {
		return false
	}
	now := c.clock.Now()
	allowed := entitlement.CanUseTool(tool, entitlement.Effective(snap.Subscription, now), snap.IsAdmin, snap.UsageCounts[tool])
	c.metrics.RecordDecision(string(tool), allowed)
	return allowed
}

// RecordUsage appends a usage record, then reloads state whether or not the
// write succeeded. The local count is never incremented optimistically.
func (c *Controller) RecordUsage(ctx context.Context, tool models.ToolType) error {
	snap := c.Snapshot()
	if snap.Identity == nil {
		return domain.NewUnauthorizedError()
	}

	ok := c.usage.Record(ctx, snap.Identity.UserID, tool)
	c.Refetch(ctx)
	if !ok {
		return domain.NewInternalError(errUsageWrite)
	}
	return nil
}

// Metered runs fn only if tool is allowed, and records usage only after fn
// succeeds. A failed fn is never charged. Concurrent calls count each other
// against the allowance, so a free user cannot overrun it by running in parallel.
func (c *Controller) Metered(ctx context.Context, tool models.ToolType, fn func(ctx context.Context) error) error {
	snap := c.Snapshot()
	if snap.Identity == nil {
		return domain.NewUnauthorizedError()
	}

	release, err := c.reserve(tool)
	if err != nil {
		return err
	}
	// Released after RecordUsage has refetched, once the run shows up in UsageCounts.
	defer release()

	if err := fn(ctx); err != nil {
		return err
	}
	return c.RecordUsage(ctx, tool)
}

func (c *Controller) reserve(tool models.ToolType) (func(), error) {
	c.meterMu.Lock()
	defer c.meterMu.Unlock()

	snap := c.Snapshot()
	allowed := false
	if snap.Loaded() {
		sub := entitlement.Effective(snap.Subscription, c.clock.Now())
		allowed = entitlement.CanUseTool(tool, sub, snap.IsAdmin, snap.UsageCounts[tool]+c.reserved[tool])
	}
	c.metrics.RecordDecision(string(tool), allowed)
	if !allowed {
		if tool == models.ToolCoverLetter {
			return nil, domain.NewPlanRequiredError(string(tool))
		}
		return nil, domain.NewUsageLimitError(string(tool), entitlement.FreeBioAllowance)
	}

	c.reserved[tool]++
	return func() {
		c.meterMu.Lock()
		defer c.meterMu.Unlock()
		c.reserved[tool]--
	}, nil
}

// RemainingTime renders the time left on the current plan
func (c *Controller) RemainingTime() (string, bool) {
	snap := c.Snapshot()
	if !snap.Loaded() || snap.IsAdmin {
		return "", false
	}
	return entitlement.RemainingTime(snap.Subscription, c.clock.Now())
}

// PlanDisplayName is the label of the current plan
func (c *Controller) PlanDisplayName() string {
	snap := c.Snapshot()
	sub := entitlement.Effective(snap.Subscription, c.clock.Now())
	return entitlement.PlanDisplayName(sub.PlanType, snap.IsAdmin)
}

// CheckRoute applies the route policy to the current state
func (c *Controller) CheckRoute(path string) (RouteDecision, string) {
	d := c.routes.Decide(path, c.Snapshot(), c.clock.Now())
	return d, c.routes.Redirect(d)
}

// Snapshot returns a copy of the current state
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap.clone()
}

// Response builds the API view of the current state
func (c *Controller) Response() models.AccessResponse {
	snap := c.Snapshot()
	now := c.clock.Now()
	sub := entitlement.Effective(snap.Subscription, now)

	resp := models.AccessResponse{
		State:           snap.State.String(),
		PlanType:        sub.PlanType,
		PlanDisplayName: entitlement.PlanDisplayName(sub.PlanType, snap.IsAdmin),
		ExpiresAt:       snap.Subscription.ExpiresAt,
		Cancelled:       snap.Subscription.Cancelled,
		UsageCount:      snap.UsageCount(),
		IsAdmin:         snap.IsAdmin,
		Loading:         snap.Loading,
		CanUse:          make(map[models.ToolType]bool, len(models.AllTools)),
	}
	if snap.Identity != nil {
		resp.UserID = snap.Identity.UserID
	}
	if !snap.FetchedAt.IsZero() {
		t := snap.FetchedAt
		resp.FetchedAt = &t
	}
	if snap.Loaded() && !snap.IsAdmin {
		if remaining, ok := entitlement.RemainingTime(snap.Subscription, now); ok {
			resp.RemainingTime = &remaining
		}
	}
	for _, tool := range models.AllTools {
		resp.CanUse[tool] = snap.Loaded() &&
			entitlement.CanUseTool(tool, sub, snap.IsAdmin, snap.UsageCounts[tool])
	}
	return resp
}

// Subscribe returns a channel that receives the latest snapshot after every
// change. Slow readers only see the most recent one. Call the returned
// function to unsubscribe.
func (c *Controller) Subscribe() (<-chan Snapshot, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan Snapshot, 1)
	if c.closed {
		close(ch)
		return ch, func() {}
	}

	id := c.nextSubID
	c.nextSubID++
	c.subscribers[id] = ch
	ch <- c.snap.clone()

	return ch, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if sub, ok := c.subscribers[id]; ok {
			delete(c.subscribers, id)
			close(sub)
		}
	}
}

func (c *Controller) publishLocked() {
	snap := c.snap.clone()
	for _, ch := range c.subscribers {
		select {
		case <-ch:
		default:
		}
		ch <- snap
	}
}

// Close stops revalidation and releases subscribers. Late fetch results are discarded.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.gen++
	c.sched.Stop()
	c.cancel()
	for id, ch := range c.subscribers {
		delete(c.subscribers, id)
		close(ch)
	}
}
