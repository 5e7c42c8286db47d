package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jonboulle/clockwork"
	"github.com/jordanlanch/bioforge/pkg/cache"
	"github.com/jordanlanch/bioforge/pkg/domain"
	"github.com/jordanlanch/bioforge/pkg/logger"
	"github.com/jordanlanch/bioforge/pkg/models"
	"github.com/jordanlanch/bioforge/pkg/subscription"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
)

type call struct {
	op     string
	userID string
	plan   models.PlanType
}

type fakeSubs struct {
	mu    sync.Mutex
	calls []call
	fail  bool
}

func (f *fakeSubs) record(c call) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
	return !f.fail
}

func (f *fakeSubs) Upgrade(_ context.Context, userID string, plan models.PlanType) bool {
	return f.record(call{op: "upgrade", userID: userID, plan: plan})
}

func (f *fakeSubs) Renew(_ context.Context, userID string, plan models.PlanType) bool {
	return f.record(call{op: "renew", userID: userID, plan: plan})
}

func (f *fakeSubs) CancelRecurring(_ context.Context, userID string) bool {
	return f.record(call{op: "cancel", userID: userID})
}

func (f *fakeSubs) EndCurrent(_ context.Context, userID string) bool {
	return f.record(call{op: "end", userID: userID})
}

type fakeRefresher struct {
	users []string
}

func (f *fakeRefresher) Refetch(_ context.Context, userID string) {
	f.users = append(f.users, userID)
}

func testConfig() *StripeConfig {
	return &StripeConfig{
		SecretKey:     "sk_test_123",
		WebhookSecret: "whsec_test",
		PriceDaily:    "price_daily",
		PriceMonthly:  "price_monthly",
		PriceLifetime: "price_lifetime",
		SuccessURL:    "http://localhost:5173/success",
		CancelURL:     "http://localhost:5173/pricing",
	}
}

func newTestService() (*Service, *fakeSubs, *fakeRefresher) {
	subs := &fakeSubs{}
	ref := &fakeRefresher{}
	return NewService(subs, ref, testConfig(), logger.Nop(), nil), subs, ref
}

func event(t *testing.T, typ string, object any) stripe.Event {
	t.Helper()
	raw, err := json.Marshal(object)
	require.NoError(t, err)
	return stripe.Event{
		ID:   "evt_test",
		Type: stripe.EventType(typ),
		Data: &stripe.EventData{Raw: raw},
	}
}

func TestCreateCheckoutSession_Modes(t *testing.T) {
	tests := []struct {
		plan     models.PlanType
		price    string
		mode     stripe.CheckoutSessionMode
		withSubs bool
	}{
		{models.PlanDaily, "price_daily", stripe.CheckoutSessionModePayment, false},
		{models.PlanMonthly, "price_monthly", stripe.CheckoutSessionModeSubscription, true},
		{models.PlanLifetime, "price_lifetime", stripe.CheckoutSessionModePayment, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.plan), func(t *testing.T) {
			svc, _, _ := newTestService()
			var got *stripe.CheckoutSessionParams
			svc.WithCheckoutFunc(func(p *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
				got = p
				return &stripe.CheckoutSession{ID: "cs_1", URL: "https://checkout.stripe.test/cs_1", ExpiresAt: 1700000000}, nil
			})

			resp, err := svc.CreateCheckoutSession(context.Background(), "user-1", "a@b.co", tt.plan)
			require.NoError(t, err)
			assert.Equal(t, "cs_1", resp.SessionID)
			assert.Equal(t, "https://checkout.stripe.test/cs_1", resp.URL)
			assert.Equal(t, int64(1700000000), resp.ExpiresAt)

			require.NotNil(t, got)
			assert.Equal(t, string(tt.mode), *got.Mode)
			require.Len(t, got.LineItems, 1)
			assert.Equal(t, tt.price, *got.LineItems[0].Price)
			assert.Equal(t, "user-1", *got.ClientReferenceID)
			assert.Equal(t, "a@b.co", *got.CustomerEmail)
			assert.Equal(t, "user-1", got.Metadata["user_id"])
			assert.Equal(t, string(tt.plan), got.Metadata["plan"])
			assert.Equal(t, "a@b.co", got.Metadata["email"])
			if tt.withSubs {
				require.NotNil(t, got.SubscriptionData)
				assert.Equal(t, "user-1", got.SubscriptionData.Metadata["user_id"])
			} else {
				assert.Nil(t, got.SubscriptionData)
			}
		})
	}
}

func TestCreateCheckoutSession_RejectsUnpurchasable(t *testing.T) {
	svc, _, _ := newTestService()
	svc.WithCheckoutFunc(func(*stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
		t.Fatal("checkout must not be called")
		return nil, nil
	})

	_, err := svc.CreateCheckoutSession(context.Background(), "user-1", "", models.PlanFree)
	require.Error(t, err)
	assert.True(t, domain.IsValidation(err))

	svc.config.PriceDaily = ""
	_, err = svc.CreateCheckoutSession(context.Background(), "user-1", "", models.PlanDaily)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no price configured")
}

func TestCreateCheckoutSession_StripeError(t *testing.T) {
	svc, _, _ := newTestService()
	svc.WithCheckoutFunc(func(*stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
		return nil, errors.New("card network down")
	})

	_, err := svc.CreateCheckoutSession(context.Background(), "user-1", "", models.PlanMonthly)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "card network down")
}

func TestDispatch(t *testing.T) {
	tests := []struct {
		name      string
		typ       string
		object    map[string]any
		wantCalls []call
		wantErr   error
		refetched bool
	}{
		{
			name: "checkout completed upgrades",
			typ:  "checkout.session.completed",
			object: map[string]any{
				"id":             "cs_1",
				"payment_status": "paid",
				"metadata":       map[string]string{"user_id": "u1", "plan": "lifetime"},
			},
			wantCalls: []call{{op: "upgrade", userID: "u1", plan: models.PlanLifetime}},
			refetched: true,
		},
		{
			name: "checkout falls back to client reference",
			typ:  "checkout.session.completed",
			object: map[string]any{
				"id":                  "cs_2",
				"payment_status":      "paid",
				"client_reference_id": "u2",
				"metadata":            map[string]string{"plan": "daily"},
			},
			wantCalls: []call{{op: "upgrade", userID: "u2", plan: models.PlanDaily}},
			refetched: true,
		},
		{
			name: "checkout unpaid waits",
			typ:  "checkout.session.completed",
			object: map[string]any{
				"id":             "cs_3",
				"payment_status": "unpaid",
				"metadata":       map[string]string{"user_id": "u1", "plan": "daily"},
			},
		},
		{
			name:    "checkout without user",
			typ:     "checkout.session.completed",
			object:  map[string]any{"id": "cs_4", "payment_status": "paid", "metadata": map[string]string{"plan": "daily"}},
			wantErr: ErrMissingMetadata,
		},
		{
			name: "cancel at period end",
			typ:  "customer.subscription.updated",
			object: map[string]any{
				"id":                   "sub_1",
				"cancel_at_period_end": true,
				"metadata":             map[string]string{"user_id": "u1"},
			},
			wantCalls: []call{{op: "cancel", userID: "u1"}},
			refetched: true,
		},
		{
			name: "update without cancellation ignored",
			typ:  "customer.subscription.updated",
			object: map[string]any{
				"id":                   "sub_1",
				"cancel_at_period_end": false,
				"metadata":             map[string]string{"user_id": "u1"},
			},
		},
		{
			name:      "subscription deleted ends current",
			typ:       "customer.subscription.deleted",
			object:    map[string]any{"id": "sub_1", "metadata": map[string]string{"user_id": "u1"}},
			wantCalls: []call{{op: "end", userID: "u1"}},
			refetched: true,
		},
		{
			name: "cycle invoice renews monthly",
			typ:  "invoice.paid",
			object: map[string]any{
				"id":                   "in_1",
				"billing_reason":       "subscription_cycle",
				"subscription_details": map[string]any{"metadata": map[string]string{"user_id": "u1"}},
			},
			wantCalls: []call{{op: "renew", userID: "u1", plan: models.PlanMonthly}},
			refetched: true,
		},
		{
			name: "first invoice ignored",
			typ:  "invoice.paid",
			object: map[string]any{
				"id":                   "in_2",
				"billing_reason":       "subscription_create",
				"subscription_details": map[string]any{"metadata": map[string]string{"user_id": "u1"}},
			},
		},
		{
			name:   "unknown event ignored",
			typ:    "customer.created",
			object: map[string]any{"id": "cus_1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, subs, ref := newTestService()

			err := svc.dispatch(context.Background(), event(t, tt.typ, tt.object))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.wantCalls, subs.calls)
			if tt.refetched {
				assert.Equal(t, []string{tt.wantCalls[0].userID}, ref.users)
			} else {
				assert.Empty(t, ref.users)
			}
		})
	}
}

func TestDispatch_StoreFailureIsRetryable(t *testing.T) {
	svc, subs, ref := newTestService()
	subs.fail = true

	err := svc.dispatch(context.Background(), event(t, "customer.subscription.deleted", map[string]any{
		"id":       "sub_1",
		"metadata": map[string]string{"user_id": "u1"},
	}))
	require.Error(t, err)
	assert.Empty(t, ref.users)
}

func TestDispatch_OneOffPlansSurviveRecurringEvents(t *testing.T) {
	start := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	cycleInvoice := map[string]any{
		"id":                   "in_1",
		"billing_reason":       "subscription_cycle",
		"subscription_details": map[string]any{"metadata": map[string]string{"user_id": "u1"}},
	}

	tests := []struct {
		name   string
		owned  models.PlanType
		typ    string
		object map[string]any
		want   models.PlanType
		wantCx bool
	}{
		{
			name:   "cycle invoice keeps lifetime",
			owned:  models.PlanLifetime,
			typ:    "invoice.paid",
			object: cycleInvoice,
			want:   models.PlanLifetime,
		},
		{
			name:   "subscription deleted keeps lifetime",
			owned:  models.PlanLifetime,
			typ:    "customer.subscription.deleted",
			object: map[string]any{"id": "sub_1", "metadata": map[string]string{"user_id": "u1"}},
			want:   models.PlanLifetime,
		},
		{
			name:  "cancel at period end keeps lifetime uncancelled",
			owned: models.PlanLifetime,
			typ:   "customer.subscription.updated",
			object: map[string]any{
				"id":                   "sub_1",
				"cancel_at_period_end": true,
				"metadata":             map[string]string{"user_id": "u1"},
			},
			want: models.PlanLifetime,
		},
		{
			name:   "subscription deleted keeps daily pass",
			owned:  models.PlanDaily,
			typ:    "customer.subscription.deleted",
			object: map[string]any{"id": "sub_1", "metadata": map[string]string{"user_id": "u1"}},
			want:   models.PlanDaily,
		},
		{
			name:   "cycle invoice renews monthly",
			owned:  models.PlanMonthly,
			typ:    "invoice.paid",
			object: cycleInvoice,
			want:   models.PlanMonthly,
		},
		{
			name:   "subscription deleted ends monthly",
			owned:  models.PlanMonthly,
			typ:    "customer.subscription.deleted",
			object: map[string]any{"id": "sub_1", "metadata": map[string]string{"user_id": "u1"}},
			want:   models.PlanFree,
		},
		{
			name:  "cancel at period end marks monthly",
			owned: models.PlanMonthly,
			typ:   "customer.subscription.updated",
			object: map[string]any{
				"id":                   "sub_1",
				"cancel_at_period_end": true,
				"metadata":             map[string]string{"user_id": "u1"},
			},
			want:   models.PlanMonthly,
			wantCx: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			clock := clockwork.NewFakeClockAt(start)
			subs := subscription.NewService(subscription.NewMemoryRepository(clock), clock, nil, nil)
			require.True(t, subs.Upgrade(ctx, "u1", tt.owned))

			svc := NewService(subs, &fakeRefresher{}, testConfig(), logger.Nop(), nil)
			require.NoError(t, svc.dispatch(ctx, event(t, tt.typ, tt.object)))

			got := subs.FetchCurrent(ctx, "u1")
			assert.Equal(t, tt.want, got.PlanType)
			assert.Equal(t, tt.wantCx, got.Cancelled)
		})
	}
}

func newTestDeduper(t *testing.T) (*RedisDeduper, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := cache.Wrap(redis.NewClient(&redis.Options{Addr: mr.Addr()}), nil)
	return NewRedisDeduper(client, time.Hour, nil), mr
}

func TestDispatch_DuplicateEventIgnored(t *testing.T) {
	svc, subs, ref := newTestService()
	d, mr := newTestDeduper(t)
	svc.WithDeduper(d)

	evt := event(t, "checkout.session.completed", map[string]any{
		"id":             "cs_1",
		"payment_status": "paid",
		"metadata":       map[string]string{"user_id": "u1", "plan": "daily"},
	})
	require.NoError(t, svc.dispatch(context.Background(), evt))
	require.NoError(t, svc.dispatch(context.Background(), evt))

	assert.Equal(t, []call{{op: "upgrade", userID: "u1", plan: models.PlanDaily}}, subs.calls)
	assert.Equal(t, []string{"u1"}, ref.users)
	assert.True(t, mr.Exists("stripe:event:evt_test"))
	assert.Equal(t, time.Hour, mr.TTL("stripe:event:evt_test"))
}

func TestDispatch_FailedEventIsRetried(t *testing.T) {
	svc, subs, _ := newTestService()
	d, mr := newTestDeduper(t)
	svc.WithDeduper(d)

	evt := event(t, "customer.subscription.deleted", map[string]any{
		"id":       "sub_1",
		"metadata": map[string]string{"user_id": "u1"},
	})

	subs.fail = true
	require.Error(t, svc.dispatch(context.Background(), evt))
	assert.False(t, mr.Exists("stripe:event:evt_test"))

	subs.fail = false
	require.NoError(t, svc.dispatch(context.Background(), evt))
	assert.Len(t, subs.calls, 2)
}

func TestDispatch_DeduperDownStillProcesses(t *testing.T) {
	svc, subs, _ := newTestService()
	d, mr := newTestDeduper(t)
	svc.WithDeduper(d)
	mr.Close()

	err := svc.dispatch(context.Background(), event(t, "customer.subscription.deleted", map[string]any{
		"id":       "sub_1",
		"metadata": map[string]string{"user_id": "u1"},
	}))
	require.NoError(t, err)
	assert.Equal(t, []call{{op: "end", userID: "u1"}}, subs.calls)
}

func TestDispatch_UnknownEventNotClaimed(t *testing.T) {
	svc, _, _ := newTestService()
	d, mr := newTestDeduper(t)
	svc.WithDeduper(d)

	require.NoError(t, svc.dispatch(context.Background(), event(t, "customer.created", map[string]any{"id": "cus_1"})))
	assert.False(t, mr.Exists("stripe:event:evt_test"))
}

func TestHandleWebhook_BadSignature(t *testing.T) {
	svc, subs, _ := newTestService()

	err := svc.HandleWebhook(context.Background(), []byte(`{"id":"evt_1"}`), "t=1,v1=deadbeef")
	require.Error(t, err)
	assert.True(t, domain.IsValidation(err))
	assert.Empty(t, subs.calls)
}

func TestHandleWebhook_SignedPayload(t *testing.T) {
	svc, subs, ref := newTestService()

	payload := []byte(fmt.Sprintf(`{
		"id": "evt_signed",
		"object": "event",
		"type": "customer.subscription.updated",
		"api_version": %q,
		"data": {"object": {"id": "sub_9", "cancel_at_period_end": true, "metadata": {"user_id": "u9"}}}
	}`, stripe.APIVersion))

	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    testConfig().WebhookSecret,
		Timestamp: time.Now(),
	})

	err := svc.HandleWebhook(context.Background(), signed.Payload, signed.Header)
	require.NoError(t, err)
	assert.Equal(t, []call{{op: "cancel", userID: "u9"}}, subs.calls)
	assert.Equal(t, []string{"u9"}, ref.users)
}

type notice struct {
	kind  string
	email string
	plan  models.PlanType
}

type fakeNotifier struct {
	sent []notice
	err  error
}

func (f *fakeNotifier) SendPurchaseReceipt(_ context.Context, email string, plan models.PlanType) error {
	f.sent = append(f.sent, notice{kind: "receipt", email: email, plan: plan})
	return f.err
}

func (f *fakeNotifier) SendCancellationNotice(_ context.Context, email string, plan models.PlanType) error {
	f.sent = append(f.sent, notice{kind: "cancel", email: email, plan: plan})
	return f.err
}

func TestDispatch_Notifications(t *testing.T) {
	tests := []struct {
		name   string
		typ    string
		object map[string]any
		want   []notice
	}{
		{
			name: "receipt to checkout customer",
			typ:  "checkout.session.completed",
			object: map[string]any{
				"id":               "cs_1",
				"payment_status":   "paid",
				"customer_email":   "old@b.co",
				"customer_details": map[string]any{"email": "a@b.co"},
				"metadata":         map[string]string{"user_id": "u1", "plan": "lifetime"},
			},
			want: []notice{{kind: "receipt", email: "a@b.co", plan: models.PlanLifetime}},
		},
		{
			name: "cancellation notice from subscription metadata",
			typ:  "customer.subscription.updated",
			object: map[string]any{
				"id":                   "sub_1",
				"cancel_at_period_end": true,
				"metadata":             map[string]string{"user_id": "u1", "plan": "monthly", "email": "a@b.co"},
			},
			want: []notice{{kind: "cancel", email: "a@b.co", plan: models.PlanMonthly}},
		},
		{
			name: "no email no notice",
			typ:  "customer.subscription.updated",
			object: map[string]any{
				"id":                   "sub_2",
				"cancel_at_period_end": true,
				"metadata":             map[string]string{"user_id": "u1"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _, _ := newTestService()
			n := &fakeNotifier{}
			svc.WithNotifier(n)

			require.NoError(t, svc.dispatch(context.Background(), event(t, tt.typ, tt.object)))
			assert.Equal(t, tt.want, n.sent)
		})
	}
}

func TestDispatch_NotificationFailureIgnored(t *testing.T) {
	svc, subs, ref := newTestService()
	svc.WithNotifier(&fakeNotifier{err: errors.New("sendgrid down")})

	err := svc.dispatch(context.Background(), event(t, "checkout.session.completed", map[string]any{
		"id":             "cs_1",
		"payment_status": "paid",
		"customer_email": "a@b.co",
		"metadata":       map[string]string{"user_id": "u1", "plan": "daily"},
	}))
	require.NoError(t, err)
	assert.Len(t, subs.calls, 1)
	assert.Equal(t, []string{"u1"}, ref.users)
}
