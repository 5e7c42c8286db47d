package handlers

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jordanlanch/bioforge/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBilling_Checkout(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/billing/checkout", userToken(t, "u1"), models.CheckoutRequest{Plan: "monthly"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[models.CheckoutResponse](t, rec)
	assert.Equal(t, "cs_test", resp.SessionID)
	assert.Equal(t, "https://checkout.stripe.test/cs_test", resp.URL)

	require.NotNil(t, env.checkout)
	assert.Equal(t, "u1", *env.checkout.ClientReferenceID)
	assert.Equal(t, "u1@example.com", *env.checkout.CustomerEmail)
}

func TestBilling_CheckoutValidation(t *testing.T) {
	env := newTestEnv(t)

	for _, plan := range []string{"free", "weekly", ""} {
		rec := env.do(t, http.MethodPost, "/api/v1/billing/checkout", userToken(t, "u1"), models.CheckoutRequest{Plan: plan})
		assert.Equal(t, http.StatusBadRequest, rec.Code, plan)
	}
	assert.Nil(t, env.checkout)

	rec := env.do(t, http.MethodPost, "/api/v1/billing/checkout", "", models.CheckoutRequest{Plan: "daily"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestBilling_WebhookRejectsBadSignature(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", bytes.NewBufferString(`{"id":"evt_1","type":"invoice.paid"}`))
	req.Header.Set("Stripe-Signature", "t=1,v1=deadbeef")
	rec := httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
