package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	sentryecho "github.com/getsentry/sentry-go/echo"
	"github.com/jonboulle/clockwork"
	"github.com/jordanlanch/bioforge/config"
	"github.com/jordanlanch/bioforge/pkg/access"
	apierrors "github.com/jordanlanch/bioforge/pkg/api/errors"
	"github.com/jordanlanch/bioforge/pkg/api/handlers"
	custommw "github.com/jordanlanch/bioforge/pkg/api/middleware"
	"github.com/jordanlanch/bioforge/pkg/auth"
	"github.com/jordanlanch/bioforge/pkg/billing"
	"github.com/jordanlanch/bioforge/pkg/cache"
	"github.com/jordanlanch/bioforge/pkg/database"
	"github.com/jordanlanch/bioforge/pkg/email"
	"github.com/jordanlanch/bioforge/pkg/entitlement"
	"github.com/jordanlanch/bioforge/pkg/generate"
	"github.com/jordanlanch/bioforge/pkg/jobs"
	"github.com/jordanlanch/bioforge/pkg/logger"
	"github.com/jordanlanch/bioforge/pkg/metrics"
	custommiddleware "github.com/jordanlanch/bioforge/pkg/middleware"
	"github.com/jordanlanch/bioforge/pkg/secrets"
	"github.com/jordanlanch/bioforge/pkg/session"
	"github.com/jordanlanch/bioforge/pkg/subscription"
	"github.com/jordanlanch/bioforge/pkg/usage"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg := config.Load()
	log := logger.NewWithWriter(cfg.LogLevel, cfg.LogFormat, os.Stdout)
	apierrors.SetLogger(log)
	log.Info("configuration loaded", "environment", cfg.APIEnvironment)

	if err := run(cfg, log); err != nil {
		log.Error("api stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log logger.Logger) error {
	if cfg.SentryDSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			Environment:      cfg.SentryEnvironment,
			TracesSampleRate: 0.2,
			AttachStacktrace: true,
		})
		if err != nil {
			log.Warn("failed to initialize sentry", "error", err)
		} else {
			log.Info("sentry initialized", "environment", cfg.SentryEnvironment)
			defer sentry.Flush(2 * time.Second)
		}
	} else {
		log.Info("sentry disabled, no DSN configured")
	}

	scope, err := usage.ParseScope(cfg.FreeUsageScope)
	if err != nil {
		return fmt.Errorf("FREE_USAGE_SCOPE: %w", err)
	}
	policy, err := entitlement.ParseReadFailurePolicy(cfg.EntitlementReadFailure)
	if err != nil {
		return fmt.Errorf("ENTITLEMENT_READ_FAILURE: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	clock := clockwork.NewRealClock()

	secretStore, err := secrets.NewManager(secrets.Config{
		Backend:       cfg.SecretsBackend,
		AWSRegion:     cfg.AWSRegion,
		Prefix:        cfg.SecretsPrefix,
		CacheDuration: 5 * time.Minute,
	}, clock, log)
	if err != nil {
		return fmt.Errorf("failed to initialize secrets: %w", err)
	}
	defer secretStore.Close()

	err = secrets.Overlay(ctx, secretStore, map[string]*string{
		"DATABASE_URL":          &cfg.DatabaseURL,
		"REDIS_URL":             &cfg.RedisURL,
		"JWT_SECRET":            &cfg.JWTSecret,
		"STRIPE_SECRET_KEY":     &cfg.StripeSecretKey,
		"STRIPE_WEBHOOK_SECRET": &cfg.StripeWebhookSecret,
		"OPENAI_API_KEY":        &cfg.OpenAIAPIKey,
		"SENDGRID_API_KEY":      &cfg.SendGridAPIKey,
	}, "DATABASE_URL", "JWT_SECRET")
	if err != nil {
		return fmt.Errorf("failed to load secrets: %w", err)
	}
	if cfg.IsProduction() && cfg.JWTSecret == "change-this-in-production" {
		return fmt.Errorf("JWT_SECRET must be set in production")
	}

	db, err := database.NewClient(ctx, cfg.DatabaseURL, &database.SSLConfig{
		Mode:         cfg.DBSSLMode,
		CertPath:     cfg.DBSSLCertPath,
		KeyPath:      cfg.DBSSLKeyPath,
		RootCertPath: cfg.DBSSLRootCertPath,
	}, log)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	redisClient, err := cache.NewClient(cfg.RedisURL, log)
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	defer redisClient.Close()

	m := metrics.New(prometheus.DefaultRegisterer)

	subRepo := subscription.NewCachedRepository(
		subscription.NewSQLRepository(db.DB, clock),
		redisClient, cfg.SubscriptionCacheTTL, log, m,
	)
	subs := subscription.NewService(subRepo, clock, log, m)
	use := usage.NewService(usage.NewSQLRepository(db.DB), scope, policy, clock, log, m)
	admin := access.NewEmailAdmin(cfg.AdminEmail, nil, log)
	routes := access.NewPrefixGuard()

	sessions := session.NewManager(func() *access.Controller {
		return access.NewController(access.Deps{
			Subscriptions: subs,
			Usage:         use,
			Admin:         admin,
			Routes:        routes,
			Clock:         clock,
			Logger:        log,
			Metrics:       m,
			FetchTimeout:  cfg.AccessFetchTimeout,
		})
	}, cfg.SessionIdleTTL, cfg.SessionCleanupPeriod, clock, log, m)
	defer sessions.Close()

	cronManager := jobs.NewCronManager(subs, cfg.ExpirySweepSchedule, log)
	if err := cronManager.SetupJobs(); err != nil {
		return fmt.Errorf("failed to schedule jobs: %w", err)
	}
	cronManager.Start()
	defer cronManager.Stop()

	var generator generate.Generator
	if cfg.OpenAIAPIKey != "" {
		generator = generate.NewOpenAIGenerator(generate.Config{
			APIKey:  cfg.OpenAIAPIKey,
			BaseURL: cfg.OpenAIBaseURL,
			Model:   cfg.OpenAIModel,
		}, log)
	} else {
		log.Warn("content generation disabled, no OPENAI_API_KEY configured")
	}

	blacklist := auth.NewTokenBlacklist(redisClient)

	var billingHandler *handlers.BillingHandler
	if cfg.StripeSecretKey != "" {
		bill := billing.NewService(subs, sessions, &billing.StripeConfig{
			SecretKey:     cfg.StripeSecretKey,
			WebhookSecret: cfg.StripeWebhookSecret,
			PriceDaily:    cfg.StripePriceDaily,
			PriceMonthly:  cfg.StripePriceMonthly,
			PriceLifetime: cfg.StripePriceLifetime,
			SuccessURL:    cfg.FrontendURL + "/dashboard?checkout=success",
			CancelURL:     cfg.FrontendURL + "/pricing",
		}, log, m).
			WithNotifier(email.NewService(cfg.EmailFrom, cfg.EmailFromName, cfg.FrontendURL, cfg.SendGridAPIKey, log)).
			WithDeduper(billing.NewRedisDeduper(redisClient, billing.DefaultEventRetention, log))
		billingHandler = handlers.NewBillingHandler(bill, log)
	} else {
		log.Warn("billing disabled, no STRIPE_SECRET_KEY configured")
	}

	var streamHandler *handlers.StreamHandler
	if cfg.FeatureAccessStream {
		streamHandler = handlers.NewStreamHandler(sessions, cfg.CORSAllowedOrigins, log)
	}

	globalRateLimiter := custommiddleware.NewRateLimiter(cfg.RateLimitRequestsPerMinute, cfg.RateLimitBurst)
	defer globalRateLimiter.Close()
	meteredRateLimiter := custommiddleware.NewRateLimiter(cfg.MeteredRequestsPerMinute, cfg.MeteredBurst)
	defer meteredRateLimiter.Close()

	e := echo.New()
	e.HideBanner = true

	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:  true,
		LogURI:     true,
		LogMethod:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			args := []any{"method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency}
			if v.Error != nil {
				args = append(args, "error", v.Error)
			}
			log.Info("request", args...)
			return nil
		},
	}))
	e.Use(middleware.Recover())
	if cfg.SentryDSN != "" {
		e.Use(sentryecho.New(sentryecho.Options{Repanic: true}))
	}
	e.Use(m.Middleware())
	e.Use(middleware.CORSWithConfig(custommiddleware.CORSConfig(cfg.CORSAllowedOrigins)))
	e.Use(custommiddleware.SecurityHeaders(custommiddleware.SecurityHeadersConfig{}))
	e.Use(globalRateLimiter.RateLimitMiddleware())

	e.GET("/health", func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		dbStatus, cacheStatus := "up", "up"
		if err := db.Ping(ctx); err != nil {
			dbStatus = "down"
			status = http.StatusServiceUnavailable
		}
		if err := redisClient.Ping(ctx); err != nil {
			cacheStatus = "down"
			status = http.StatusServiceUnavailable
		}

		return c.JSON(status, map[string]any{
			"status":   http.StatusText(status),
			"database": dbStatus,
			"cache":    cacheStatus,
			"sessions": sessions.Count(),
		})
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	handlers.Routes{
		Access:       handlers.NewAccessHandler(sessions, blacklist, routes, clock, log),
		Stream:       streamHandler,
		Usage:        handlers.NewUsageHandler(sessions, generator, log),
		Subscription: handlers.NewSubscriptionHandler(subs, sessions, log),
		Billing:      billingHandler,
		Auth:         custommw.JWTMiddlewareWithBlacklist(cfg.JWTSecret, blacklist),
		OptionalAuth: custommw.OptionalJWT(cfg.JWTSecret, blacklist),
		Admin:        custommiddleware.RequireAdmin(admin),
		Metered:      meteredRateLimiter.RateLimitMiddleware(),
	}.Register(e.Group("/api/v1"))

	address := fmt.Sprintf("%s:%s", cfg.APIHost, cfg.APIPort)
	log.Info("api starting",
		"address", address,
		"free_usage_scope", string(scope),
		"read_failure_policy", string(policy),
		"expiry_sweep", cfg.ExpirySweepSchedule,
	)

	errCh := make(chan error, 1)
	go func() {
		if err := e.Start(address); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("failed to start server: %w", err)
	case <-quit:
	}

	log.Info("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info("server gracefully stopped")
	return nil
}
