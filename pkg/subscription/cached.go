package subscription

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/jordanlanch/bioforge/pkg/cache"
	"github.com/jordanlanch/bioforge/pkg/logger"
	"github.com/jordanlanch/bioforge/pkg/metrics"
	"github.com/jordanlanch/bioforge/pkg/models"
)

const (
	currentKeyPrefix = "subscription:current:"
	genKeyPrefix     = "subscription:gen:"
	ownerKeyPrefix   = "subscription:owner:"
	// a generation must outlive every entry written under it
	minGenerationTTL = 24 * time.Hour
	cacheType        = "subscription"
	// stored for users without an active record so misses are cached too
	noSubscription = "null"
)

// CachedRepository is a Redis read-through cache in front of another
// Repository. Entries are keyed by a per-user generation that every mutation
// bumps, so a read that raced a mutation can only write under a retired key.
// Cache errors never fail a request.
type CachedRepository struct {
	next    Repository
	cache   *cache.Client
	ttl     time.Duration
	log     logger.Logger
	metrics *metrics.Metrics
}

// NewCachedRepository wraps next with a Redis cache
func NewCachedRepository(next Repository, c *cache.Client, ttl time.Duration, log logger.Logger, m *metrics.Metrics) *CachedRepository {
	if log == nil {
		log = logger.Nop()
	}
	return &CachedRepository{next: next, cache: c, ttl: ttl, log: log, metrics: m}
}

func currentKey(userID string, gen int64) string {
	return currentKeyPrefix + userID + ":" + strconv.FormatInt(gen, 10)
}

func genKey(userID string) string { return genKeyPrefix + userID }

func ownerKey(subscriptionID string) string { return ownerKeyPrefix + subscriptionID }

// Current serves from cache when possible and populates it on a miss
func (r *CachedRepository) Current(ctx context.Context, userID string) (*models.Subscription, error) {
	gen, ok := r.generation(ctx, userID)
	if !ok {
		r.metrics.RecordCacheMiss(cacheType)
		return r.next.Current(ctx, userID)
	}

	raw, err := r.cache.Get(ctx, currentKey(userID, gen))
	switch {
	case err == nil:
		if raw == noSubscription {
			r.metrics.RecordCacheHit(cacheType)
			return nil, nil
		}
		var sub models.Subscription
		if jerr := json.Unmarshal([]byte(raw), &sub); jerr == nil {
			r.metrics.RecordCacheHit(cacheType)
			return &sub, nil
		}
		r.log.Warn("discarding corrupt subscription cache entry", "user_id", userID)
	case !cache.IsMiss(err):
		r.log.Warn("subscription cache read failed", "user_id", userID, "error", err)
	}
	r.metrics.RecordCacheMiss(cacheType)

	sub, err := r.next.Current(ctx, userID)
	if err != nil {
		return nil, err
	}
	r.store(ctx, userID, gen, sub)
	return sub, nil
}

// generation must be read before the store so a concurrent invalidation retires the key we write
func (r *CachedRepository) generation(ctx context.Context, userID string) (int64, bool) {
	raw, err := r.cache.Get(ctx, genKey(userID))
	if cache.IsMiss(err) {
		return 0, true
	}
	if err != nil {
		r.log.Warn("subscription cache read failed", "user_id", userID, "error", err)
		return 0, false
	}
	gen, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		r.log.Warn("discarding corrupt subscription cache generation", "user_id", userID)
		return 0, false
	}
	return gen, true
}

func (r *CachedRepository) store(ctx context.Context, userID string, gen int64, sub *models.Subscription) {
	key := currentKey(userID, gen)
	pairs := map[string]interface{}{key: noSubscription}
	if sub != nil {
		data, err := json.Marshal(sub)
		if err != nil {
			return
		}
		pairs[key] = string(data)
		pairs[ownerKey(sub.ID)] = userID
	}
	if err := r.cache.SetMulti(ctx, pairs, r.ttl); err != nil {
		r.log.Warn("subscription cache write failed", "user_id", userID, "error", err)
	}
}

func (r *CachedRepository) invalidate(ctx context.Context, userID string) {
	ttl := 2 * r.ttl
	if ttl < minGenerationTTL {
		ttl = minGenerationTTL
	}
	if _, err := r.cache.IncrWithExpiry(ctx, genKey(userID), ttl); err != nil {
		r.log.Warn("subscription cache invalidation failed", "user_id", userID, "error", err)
	}
}

// Upgrade writes through and invalidates the user's entry
func (r *CachedRepository) Upgrade(ctx context.Context, userID string, plan models.PlanType, expiresAt *time.Time) (*models.Subscription, error) {
	sub, err := r.next.Upgrade(ctx, userID, plan, expiresAt)
	r.invalidate(ctx, userID)
	return sub, err
}

// Cancel writes through and invalidates the user's entry
func (r *CachedRepository) Cancel(ctx context.Context, userID string) error {
	err := r.next.Cancel(ctx, userID)
	r.invalidate(ctx, userID)
	return err
}

// DeactivateExpired writes through and invalidates the owner's entry when it is known
func (r *CachedRepository) DeactivateExpired(ctx context.Context, subscriptionID string) error {
	err := r.next.DeactivateExpired(ctx, subscriptionID)

	userID, gerr := r.cache.Get(ctx, ownerKey(subscriptionID))
	if gerr == nil {
		r.invalidate(ctx, userID)
		_ = r.cache.Delete(ctx, ownerKey(subscriptionID))
	} else if !cache.IsMiss(gerr) {
		r.log.Warn("subscription owner lookup failed", "subscription_id", subscriptionID, "error", gerr)
	}
	return err
}

// ListExpiring always reads from the underlying store
func (r *CachedRepository) ListExpiring(ctx context.Context) ([]models.Subscription, error) {
	return r.next.ListExpiring(ctx)
}
