package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jonboulle/clockwork"
	"github.com/jordanlanch/bioforge/pkg/access"
	"github.com/jordanlanch/bioforge/pkg/api/middleware"
	"github.com/jordanlanch/bioforge/pkg/auth"
	"github.com/jordanlanch/bioforge/pkg/billing"
	"github.com/jordanlanch/bioforge/pkg/cache"
	"github.com/jordanlanch/bioforge/pkg/entitlement"
	"github.com/jordanlanch/bioforge/pkg/logger"
	custommiddleware "github.com/jordanlanch/bioforge/pkg/middleware"
	"github.com/jordanlanch/bioforge/pkg/models"
	"github.com/jordanlanch/bioforge/pkg/session"
	"github.com/jordanlanch/bioforge/pkg/subscription"
	"github.com/jordanlanch/bioforge/pkg/usage"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76"
)

const (
	testSecret = "test-secret-key-minimum-32-characters-long"
	adminEmail = "owner@bioforge.app"
)

var start = time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)

type fakeGenerator struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeGenerator) Generate(_ context.Context, tool models.ToolType, input string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return "generated " + string(tool) + " for: " + input, nil
}

func (f *fakeGenerator) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type testEnv struct {
	e        *echo.Echo
	clock    clockwork.FakeClock
	subs     *subscription.Service
	usage    *usage.Service
	sessions *session.Manager
	gen      *fakeGenerator
	redis    *miniredis.Miniredis
	checkout *stripe.CheckoutSessionParams
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	clock := clockwork.NewFakeClockAt(start)
	subs := subscription.NewService(subscription.NewMemoryRepository(clock), clock, nil, nil)
	use := usage.NewService(usage.NewMemoryRepository(), usage.ScopeAllTime, entitlement.FailOpen, clock, nil, nil)
	admin := access.NewEmailAdmin(adminEmail, nil, nil)

	sessions := session.NewManager(func() *access.Controller {
		return access.NewController(access.Deps{
			Subscriptions: subs,
			Usage:         use,
			Admin:         admin,
			Clock:         clock,
		})
	}, time.Hour, time.Hour, clock, nil, nil)
	t.Cleanup(sessions.Close)

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rc, err := cache.NewClient("redis://"+mr.Addr(), logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { rc.Close() })
	blacklist := auth.NewTokenBlacklist(rc)

	env := &testEnv{clock: clock, subs: subs, usage: use, sessions: sessions, gen: &fakeGenerator{}, redis: mr}

	bill := billing.NewService(subs, sessions, &billing.StripeConfig{
		WebhookSecret: "whsec_test",
		PriceDaily:    "price_daily",
		PriceMonthly:  "price_monthly",
		PriceLifetime: "price_lifetime",
		SuccessURL:    "http://localhost:5173/success",
		CancelURL:     "http://localhost:5173/pricing",
	}, logger.Nop(), nil).WithCheckoutFunc(func(p *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
		env.checkout = p
		return &stripe.CheckoutSession{ID: "cs_test", URL: "https://checkout.stripe.test/cs_test"}, nil
	})

	e := echo.New()
	Routes{
		Access:       NewAccessHandler(sessions, blacklist, nil, clock, logger.Nop()),
		Stream:       NewStreamHandler(sessions, []string{"http://localhost:5173"}, logger.Nop()),
		Usage:        NewUsageHandler(sessions, env.gen, logger.Nop()),
		Subscription: NewSubscriptionHandler(subs, sessions, logger.Nop()),
		Billing:      NewBillingHandler(bill, logger.Nop()),
		Auth:         middleware.JWTMiddlewareWithBlacklist(testSecret, blacklist),
		OptionalAuth: middleware.OptionalJWT(testSecret, blacklist),
		Admin:        custommiddleware.RequireAdmin(admin),
	}.Register(e.Group("/api/v1"))

	env.e = e
	return env
}

func token(t *testing.T, userID, email string) string {
	t.Helper()
	tok, err := auth.GenerateJWT(userID, email, testSecret, 1)
	require.NoError(t, err)
	return tok
}

func userToken(t *testing.T, userID string) string {
	return token(t, userID, userID+"@example.com")
}

func (env *testEnv) do(t *testing.T, method, path, tok string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	rec := httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}
