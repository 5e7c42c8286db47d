package metrics

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and records nothing.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPRequestSize     *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Entitlement metrics
	EntitlementDecisions *prometheus.CounterVec
	UsageRecorded        *prometheus.CounterVec
	ExpirySweeps         *prometheus.CounterVec
	FetchFailures        *prometheus.CounterVec
	SubscriptionChanges  *prometheus.CounterVec
	WebhookEvents        *prometheus.CounterVec
	ActiveSessions       prometheus.Gauge

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec

	// Cache metrics
	CacheHits   *prometheus.CounterVec
	CacheMisses *prometheus.CounterVec
}

// New creates a new Metrics instance with all metrics registered on reg.
// Pass prometheus.DefaultRegisterer in production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	m := &Metrics{
		// HTTP metrics
		HTTPRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestSize: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_size_bytes",
				Help:    "HTTP request size in bytes",
				Buckets: []float64{100, 1000, 5000, 10000, 50000, 100000, 500000, 1000000},
			},
			[]string{"method", "path"},
		),
		HTTPResponseSize: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: []float64{100, 1000, 5000, 10000, 50000, 100000, 500000, 1000000},
			},
			[]string{"method", "path"},
		),

		// Entitlement metrics
		EntitlementDecisions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "entitlement_decisions_total",
				Help: "Total number of tool entitlement decisions",
			},
			[]string{"tool", "result"}, // allowed, denied
		),
		UsageRecorded: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "usage_records_total",
				Help: "Total number of usage record writes",
			},
			[]string{"tool", "result"}, // success, failed
		),
		ExpirySweeps: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "expiry_sweeps_total",
				Help: "Total number of subscriptions deactivated by the expiry sweep",
			},
			[]string{"trigger", "result"}, // client, cron / success, failed
		),
		FetchFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "entitlement_fetch_failures_total",
				Help: "Reads that failed and fell back to the read-failure policy",
			},
			[]string{"source"}, // subscription, usage
		),
		SubscriptionChanges: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "subscription_changes_total",
				Help: "Total number of subscription mutations",
			},
			[]string{"action", "plan"}, // upgrade, cancel, deactivate
		),
		WebhookEvents: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stripe_webhook_events_total",
				Help: "Stripe webhook events received",
			},
			[]string{"type", "result"},
		),
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "access_sessions_active",
			Help: "Number of live access session controllers",
		}),

		// Database metrics
		DBQueryDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "db_query_duration_seconds",
				Help:    "Database query duration in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
			},
			[]string{"operation"},
		),

		// Cache metrics
		CacheHits: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cache_hits_total",
				Help: "Total number of cache hits",
			},
			[]string{"cache_type"},
		),
		CacheMisses: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cache_misses_total",
				Help: "Total number of cache misses",
			},
			[]string{"cache_type"},
		),
	}

	return m
}

// Middleware creates an Echo middleware for Prometheus metrics
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()
			path := c.Path() // route pattern, not the raw path

			if req.ContentLength > 0 {
				m.HTTPRequestSize.WithLabelValues(req.Method, path).Observe(float64(req.ContentLength))
			}

			err := next(c)

			status := c.Response().Status
			duration := time.Since(start).Seconds()

			m.HTTPRequestsTotal.WithLabelValues(req.Method, path, strconv.Itoa(status)).Inc()
			m.HTTPRequestDuration.WithLabelValues(req.Method, path, strconv.Itoa(status)).Observe(duration)
			m.HTTPResponseSize.WithLabelValues(req.Method, path).Observe(float64(c.Response().Size))

			return err
		}
	}
}

// RecordDecision counts one entitlement decision
func (m *Metrics) RecordDecision(tool string, allowed bool) {
	if m == nil {
		return
	}
	result := "denied"
	if allowed {
		result = "allowed"
	}
	m.EntitlementDecisions.WithLabelValues(tool, result).Inc()
}

// RecordUsage counts one usage write
func (m *Metrics) RecordUsage(tool string, ok bool) {
	if m == nil {
		return
	}
	m.UsageRecorded.WithLabelValues(tool, outcome(ok)).Inc()
}

// RecordSweep counts one expiry deactivation attempt
func (m *Metrics) RecordSweep(trigger string, ok bool) {
	if m == nil {
		return
	}
	m.ExpirySweeps.WithLabelValues(trigger, outcome(ok)).Inc()
}

// RecordFetchFailure counts a read that fell back to the failure policy
func (m *Metrics) RecordFetchFailure(source string) {
	if m == nil {
		return
	}
	m.FetchFailures.WithLabelValues(source).Inc()
}

// RecordSubscriptionChange counts a subscription mutation
func (m *Metrics) RecordSubscriptionChange(action, plan string) {
	if m == nil {
		return
	}
	m.SubscriptionChanges.WithLabelValues(action, plan).Inc()
}

// RecordWebhookEvent counts a processed Stripe event
func (m *Metrics) RecordWebhookEvent(eventType string, ok bool) {
	if m == nil {
		return
	}
	m.WebhookEvents.WithLabelValues(eventType, outcome(ok)).Inc()
}

// SetActiveSessions updates the live session gauge
func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.ActiveSessions.Set(float64(n))
}

// RecordDBQuery records database query duration
func (m *Metrics) RecordDBQuery(operation string, duration time.Duration) {
	if m == nil {
		return
	}
	m.DBQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordCacheHit increments cache hits counter
func (m *Metrics) RecordCacheHit(cacheType string) {
	if m == nil {
		return
	}
	m.CacheHits.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss increments cache misses counter
func (m *Metrics) RecordCacheMiss(cacheType string) {
	if m == nil {
		return
	}
	m.CacheMisses.WithLabelValues(cacheType).Inc()
}

func outcome(ok bool) string {
	if ok {
		return "success"
	}
	return "failed"
}
