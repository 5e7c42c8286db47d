package billing

import (
	"context"
	"time"

	"github.com/jordanlanch/bioforge/pkg/cache"
	"github.com/jordanlanch/bioforge/pkg/logger"
)

// Stripe retries a failed delivery for up to three days
const DefaultEventRetention = 72 * time.Hour

const eventKeyPrefix = "stripe:event:"

// EventDeduper remembers which webhook events were already processed
type EventDeduper interface {
	// Claim marks the event as processed and reports whether it was new
	Claim(ctx context.Context, eventID string) (bool, error)
	// Release forgets the event so a redelivery is processed again
	Release(ctx context.Context, eventID string)
}

// RedisDeduper records processed event IDs with SETNX
type RedisDeduper struct {
	cache     *cache.Client
	retention time.Duration
	log       logger.Logger
}

// NewRedisDeduper creates a deduper that keeps event IDs for retention
func NewRedisDeduper(c *cache.Client, retention time.Duration, log logger.Logger) *RedisDeduper {
	if retention <= 0 {
		retention = DefaultEventRetention
	}
	if log == nil {
		log = logger.Nop()
	}
	return &RedisDeduper{cache: c, retention: retention, log: log}
}

// Claim implements EventDeduper
func (d *RedisDeduper) Claim(ctx context.Context, eventID string) (bool, error) {
	return d.cache.SetNX(ctx, eventKeyPrefix+eventID, 1, d.retention)
}

// Release implements EventDeduper
func (d *RedisDeduper) Release(ctx context.Context, eventID string) {
	if err := d.cache.Delete(ctx, eventKeyPrefix+eventID); err != nil {
		d.log.Warn("failed to release webhook event", "event_id", eventID, "error", err)
	}
}

// WithDeduper skips webhook events that were already processed
func (s *Service) WithDeduper(d EventDeduper) *Service {
	s.deduper = d
	return s
}
