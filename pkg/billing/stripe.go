package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jordanlanch/bioforge/pkg/domain"
	"github.com/jordanlanch/bioforge/pkg/logger"
	"github.com/jordanlanch/bioforge/pkg/metrics"
	"github.com/jordanlanch/bioforge/pkg/models"
	"github.com/stripe/stripe-go/v76"
	checkoutsession "github.com/stripe/stripe-go/v76/checkout/session"
	"github.com/stripe/stripe-go/v76/webhook"
)

// Metadata keys attached to checkout sessions and subscriptions
const (
	metaUserID = "user_id"
	metaPlan   = "plan"
	metaEmail  = "email"
)

// ErrMissingMetadata is returned when a webhook object carries no user_id
var ErrMissingMetadata = errors.New("user_id not found in metadata")

// Subscriptions is the subset of the subscription service the webhook drives.
// Renew, CancelRecurring and EndCurrent leave one-off plans such as lifetime alone.
type Subscriptions interface {
	Upgrade(ctx context.Context, userID string, plan models.PlanType) bool
	Renew(ctx context.Context, userID string, plan models.PlanType) bool
	CancelRecurring(ctx context.Context, userID string) bool
	EndCurrent(ctx context.Context, userID string) bool
}

// SessionRefresher reloads a live access session after an out-of-band change
type SessionRefresher interface {
	Refetch(ctx context.Context, userID string)
}

// Notifier tells the customer about billing changes. Delivery failures never
// fail the webhook.
type Notifier interface {
	SendPurchaseReceipt(ctx context.Context, toEmail string, plan models.PlanType) error
	SendCancellationNotice(ctx context.Context, toEmail string, plan models.PlanType) error
}

// CheckoutFunc creates a Stripe checkout session
type CheckoutFunc func(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)

// StripeConfig holds Stripe configuration
type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	PriceDaily    string
	PriceMonthly  string
	PriceLifetime string
	SuccessURL    string
	CancelURL     string
}

// Service handles Stripe checkout and webhook intake
type Service struct {
	subs     Subscriptions
	sessions SessionRefresher
	config   *StripeConfig
	checkout CheckoutFunc
	notifier Notifier
	deduper  EventDeduper
	log      logger.Logger
	metrics  *metrics.Metrics
}

// NewService creates a new billing service. sessions may be nil.
func NewService(subs Subscriptions, sessions SessionRefresher, config *StripeConfig, log logger.Logger, m *metrics.Metrics) *Service {
	stripe.Key = config.SecretKey

	return &Service{
		subs:     subs,
		sessions: sessions,
		config:   config,
		checkout: checkoutsession.New,
		log:      log,
		metrics:  m,
	}
}

// WithCheckoutFunc replaces the Stripe checkout call
func (s *Service) WithCheckoutFunc(fn CheckoutFunc) *Service {
	s.checkout = fn
	return s
}

// WithNotifier enables customer emails for purchases and cancellations
func (s *Service) WithNotifier(n Notifier) *Service {
	s.notifier = n
	return s
}

// CreateCheckoutSession starts a hosted checkout for a paid plan. Monthly is
// billed as a recurring subscription; daily and lifetime are one-off payments.
func (s *Service) CreateCheckoutSession(ctx context.Context, userID, email string, plan models.PlanType) (*models.CheckoutResponse, error) {
	priceID, err := s.priceFor(plan)
	if err != nil {
		return nil, err
	}

	metadata := map[string]string{
		metaUserID: userID,
		metaPlan:   string(plan),
	}

	params := &stripe.CheckoutSessionParams{
		ClientReferenceID: stripe.String(userID),
		SuccessURL:        stripe.String(s.config.SuccessURL),
		CancelURL:         stripe.String(s.config.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(1),
			},
		},
	}
	params.Context = ctx
	if email != "" {
		params.CustomerEmail = stripe.String(email)
		metadata[metaEmail] = email
	}
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}

	if plan == models.PlanMonthly {
		params.Mode = stripe.String(string(stripe.CheckoutSessionModeSubscription))
		params.SubscriptionData = &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: metadata,
		}
	} else {
		params.Mode = stripe.String(string(stripe.CheckoutSessionModePayment))
	}

	sess, err := s.checkout(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create checkout session: %w", err)
	}

	return &models.CheckoutResponse{
		SessionID: sess.ID,
		URL:       sess.URL,
		ExpiresAt: sess.ExpiresAt,
	}, nil
}

func (s *Service) priceFor(plan models.PlanType) (string, error) {
	var price string
	switch plan {
	case models.PlanDaily:
		price = s.config.PriceDaily
	case models.PlanMonthly:
		price = s.config.PriceMonthly
	case models.PlanLifetime:
		price = s.config.PriceLifetime
	default:
		return "", domain.NewValidationError(fmt.Sprintf("plan %q cannot be purchased", plan))
	}
	if price == "" {
		return "", domain.NewValidationError(fmt.Sprintf("no price configured for plan %q", plan))
	}
	return price, nil
}

// HandleWebhook verifies and processes a Stripe webhook payload
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	event, err := webhook.ConstructEvent(payload, signature, s.config.WebhookSecret)
	if err != nil {
		return domain.NewValidationError(fmt.Sprintf("webhook signature verification failed: %v", err))
	}
	return s.dispatch(ctx, event)
}

func (s *Service) dispatch(ctx context.Context, event stripe.Event) error {
	log := s.log.With("event_id", event.ID, "event_type", string(event.Type))
	log.Info("stripe webhook received")

	var handle func(context.Context, stripe.Event) (string, error)
	switch event.Type {
	case "checkout.session.completed":
		handle = s.handleCheckoutCompleted
	case "customer.subscription.updated":
		handle = s.handleSubscriptionUpdated
	case "customer.subscription.deleted":
		handle = s.handleSubscriptionDeleted
	case "invoice.paid":
		handle = s.handleInvoicePaid
	default:
		log.Debug("unhandled webhook event type")
		return nil
	}

	if s.deduper != nil {
		fresh, err := s.deduper.Claim(ctx, event.ID)
		switch {
		case err != nil:
			log.Warn("webhook dedupe unavailable, processing anyway", "error", err)
		case !fresh:
			log.Info("duplicate webhook event ignored")
			return nil
		}
	}

	userID, err := handle(ctx, event)
	s.metrics.RecordWebhookEvent(string(event.Type), err == nil)
	if err != nil {
		if s.deduper != nil {
			s.deduper.Release(ctx, event.ID)
		}
		log.Error("webhook processing failed", "error", err)
		return err
	}

	if userID != "" && s.sessions != nil {
		s.sessions.Refetch(ctx, userID)
	}
	return nil
}

func (s *Service) handleCheckoutCompleted(ctx context.Context, event stripe.Event) (string, error) {
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return "", fmt.Errorf("failed to unmarshal session: %w", err)
	}

	userID := sess.Metadata[metaUserID]
	if userID == "" {
		userID = sess.ClientReferenceID
	}
	if userID == "" {
		return "", ErrMissingMetadata
	}

	if sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusUnpaid {
		s.log.Info("checkout completed without payment, waiting", "user_id", userID, "session_id", sess.ID)
		return "", nil
	}

	plan, ok := models.ParsePlanType(sess.Metadata[metaPlan])
	if !ok || !plan.IsPaid() {
		return "", fmt.Errorf("invalid plan %q in checkout metadata", sess.Metadata[metaPlan])
	}

	if !s.subs.Upgrade(ctx, userID, plan) {
		return "", fmt.Errorf("failed to upgrade user %s to %s", userID, plan)
	}
	s.log.Info("checkout completed", "user_id", userID, "plan", string(plan))

	email := sess.CustomerEmail
	if sess.CustomerDetails != nil && sess.CustomerDetails.Email != "" {
		email = sess.CustomerDetails.Email
	}
	s.notify(userID, func(n Notifier) error { return n.SendPurchaseReceipt(ctx, email, plan) })
	return userID, nil
}

func (s *Service) handleSubscriptionUpdated(ctx context.Context, event stripe.Event) (string, error) {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return "", fmt.Errorf("failed to unmarshal subscription: %w", err)
	}

	userID := sub.Metadata[metaUserID]
	if userID == "" {
		return "", ErrMissingMetadata
	}

	// Only the cancel-at-period-end transition matters here; renewals arrive as invoice.paid.
	if !sub.CancelAtPeriodEnd {
		return "", nil
	}

	if !s.subs.CancelRecurring(ctx, userID) {
		return "", fmt.Errorf("failed to cancel subscription for user %s", userID)
	}

	plan, ok := models.ParsePlanType(sub.Metadata[metaPlan])
	if !ok {
		plan = models.PlanMonthly
	}
	if email := sub.Metadata[metaEmail]; email != "" {
		s.notify(userID, func(n Notifier) error { return n.SendCancellationNotice(ctx, email, plan) })
	}
	return userID, nil
}

func (s *Service) handleSubscriptionDeleted(ctx context.Context, event stripe.Event) (string, error) {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return "", fmt.Errorf("failed to unmarshal subscription: %w", err)
	}

	userID := sub.Metadata[metaUserID]
	if userID == "" {
		return "", ErrMissingMetadata
	}

	if !s.subs.EndCurrent(ctx, userID) {
		return "", fmt.Errorf("failed to end subscription for user %s", userID)
	}
	return userID, nil
}

type invoicePayload struct {
	ID                  string                      `json:"id"`
	BillingReason       stripe.InvoiceBillingReason `json:"billing_reason"`
	SubscriptionDetails struct {
		Metadata map[string]string `json:"metadata"`
	} `json:"subscription_details"`
}

func (s *Service) handleInvoicePaid(ctx context.Context, event stripe.Event) (string, error) {
	var invoice invoicePayload
	if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
		return "", fmt.Errorf("failed to unmarshal invoice: %w", err)
	}

	// The first invoice is covered by checkout.session.completed.
	if invoice.BillingReason != stripe.InvoiceBillingReasonSubscriptionCycle {
		return "", nil
	}

	userID := invoice.SubscriptionDetails.Metadata[metaUserID]
	if userID == "" {
		return "", ErrMissingMetadata
	}

	plan := models.PlanMonthly
	if p, ok := models.ParsePlanType(strings.TrimSpace(invoice.SubscriptionDetails.Metadata[metaPlan])); ok && p.IsPaid() {
		plan = p
	}

	if !s.subs.Renew(ctx, userID, plan) {
		return "", fmt.Errorf("failed to renew %s for user %s", plan, userID)
	}
	s.log.Info("subscription renewed", "user_id", userID, "invoice_id", invoice.ID)
	return userID, nil
}

func (s *Service) notify(userID string, send func(Notifier) error) {
	if s.notifier == nil {
		return
	}
	if err := send(s.notifier); err != nil {
		s.log.Warn("billing notification failed", "user_id", userID, "error", err)
	}
}
