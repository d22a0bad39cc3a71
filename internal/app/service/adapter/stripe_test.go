package adapter

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/studykit/entitlements/internal/platform/stripe"
	"github.com/studykit/entitlements/pkg/config"
	"github.com/studykit/entitlements/pkg/types"
)

const stripeTestSecret = "whsec_test"

func stripeTestConfig() *config.Config {
	return &config.Config{
		Stripe: config.StripeConfig{WebhookSecret: stripeTestSecret, ToleranceSeconds: 300},
		Plans: []*types.Plan{
			{ID: "premium_monthly", Authority: types.PaymentAuthorityStripe, AuthorityItemID: "price_123", Kind: types.PlanKindSubscription},
		},
	}
}

func signedStripeBody(t *testing.T, body string) ([]byte, string) {
	t.Helper()
	payload := []byte(body)
	return payload, stripe.SignPayload(payload, stripeTestSecret, time.Now())
}

func TestStripeIngestSubscriptionUpdated(t *testing.T) {
	a := NewStripeAdapter(stripeTestConfig(), zap.NewNop().Sugar())
	payload, sig := signedStripeBody(t, fmt.Sprintf(`{
		"id": "evt_1",
		"type": "customer.subscription.updated",
		"created": %d,
		"data": {"object": {
			"id": "sub_1",
			"status": "active",
			"cancel_at_period_end": true,
			"current_period_start": 1740000000,
			"current_period_end": 1742592000,
			"metadata": {"user_id": "u1"},
			"items": {"data": [{"price": {"id": "price_123"}}]}
		}}
	}`, time.Now().Unix()))

	ev, err := a.Ingest(payload, sig)
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, types.PaymentAuthorityStripe, ev.Authority)
	assert.Equal(t, "evt_1", ev.EventID)
	assert.Equal(t, "u1", ev.UserID)
	assert.Equal(t, types.EventKindSubscriptionCancelled, ev.Kind)
	assert.Equal(t, "active", ev.NativeStatus)
	assert.True(t, ev.CancelAtPeriodEnd)
	assert.Equal(t, "premium_monthly", ev.PlanID)
	require.NotNil(t, ev.PeriodEnd)
	assert.Equal(t, time.Unix(1742592000, 0), *ev.PeriodEnd)
}

func TestStripeIngestCheckoutSessionCompleted(t *testing.T) {
	a := NewStripeAdapter(stripeTestConfig(), zap.NewNop().Sugar())
	payload, sig := signedStripeBody(t, fmt.Sprintf(`{
		"id": "evt_2",
		"type": "checkout.session.completed",
		"created": %d,
		"data": {"object": {
			"id": "cs_1",
			"subscription": "sub_1",
			"payment_status": "paid",
			"metadata": {"user_id": "u1", "plan_id": "premium_monthly"}
		}}
	}`, time.Now().Unix()))

	ev, err := a.Ingest(payload, sig)
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, types.EventKindSubscriptionActivated, ev.Kind)
	assert.Equal(t, "premium_monthly", ev.PlanID)
}

func TestStripeIngestInvoicePaymentFailed(t *testing.T) {
	a := NewStripeAdapter(stripeTestConfig(), zap.NewNop().Sugar())
	payload, sig := signedStripeBody(t, fmt.Sprintf(`{
		"id": "evt_3",
		"type": "invoice.payment_failed",
		"created": %d,
		"data": {"object": {
			"id": "in_1",
			"subscription": "sub_1",
			"period_start": 1740000000,
			"period_end": 1742592000,
			"subscription_details": {"metadata": {"user_id": "u1"}}
		}}
	}`, time.Now().Unix()))

	ev, err := a.Ingest(payload, sig)
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, types.EventKindPaymentFailed, ev.Kind)
	assert.Equal(t, "past_due", ev.NativeStatus)
}

func TestStripeIngestUnhandledTypeIgnored(t *testing.T) {
	a := NewStripeAdapter(stripeTestConfig(), zap.NewNop().Sugar())
	payload, sig := signedStripeBody(t, fmt.Sprintf(
		`{"id": "evt_4", "type": "charge.refunded", "created": %d, "data": {"object": {}}}`, time.Now().Unix()))

	ev, err := a.Ingest(payload, sig)
	require.NoError(t, err)
	assert.Nil(t, ev)
}

func TestStripeIngestBadSignature(t *testing.T) {
	a := NewStripeAdapter(stripeTestConfig(), zap.NewNop().Sugar())
	payload := []byte(`{"id": "evt_5", "type": "customer.subscription.created"}`)
	sig := stripe.SignPayload(payload, "whsec_wrong", time.Now())

	_, err := a.Ingest(payload, sig)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestStripeIngestUnresolvableUser(t *testing.T) {
	a := NewStripeAdapter(stripeTestConfig(), zap.NewNop().Sugar())
	payload, sig := signedStripeBody(t, fmt.Sprintf(`{
		"id": "evt_6",
		"type": "customer.subscription.created",
		"created": %d,
		"data": {"object": {"id": "sub_2", "status": "active", "metadata": {}}}
	}`, time.Now().Unix()))

	_, err := a.Ingest(payload, sig)
	assert.ErrorIs(t, err, ErrUnresolvableUser)
}
