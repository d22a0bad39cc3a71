package adapter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/api/androidpublisher/v3"

	"github.com/studykit/entitlements/pkg/config"
	"github.com/studykit/entitlements/pkg/types"
)

type fakePurchaseVerifier struct {
	sub     *androidpublisher.SubscriptionPurchase
	product *androidpublisher.ProductPurchase
	err     error

	ackSubCalls     int
	ackProductCalls int
	ackErr          error
}

func (f *fakePurchaseVerifier) VerifySubscription(context.Context, string, string) (*androidpublisher.SubscriptionPurchase, error) {
	return f.sub, f.err
}

func (f *fakePurchaseVerifier) VerifyProduct(context.Context, string, string) (*androidpublisher.ProductPurchase, error) {
	return f.product, f.err
}

func (f *fakePurchaseVerifier) AcknowledgeSubscription(context.Context, string, string) error {
	f.ackSubCalls++
	return f.ackErr
}

func (f *fakePurchaseVerifier) AcknowledgeProduct(context.Context, string, string) error {
	f.ackProductCalls++
	return f.ackErr
}

func googleTestConfig() *config.Config {
	return &config.Config{
		GooglePlay: config.GooglePlayConfig{PackageName: "com.studykit.app"},
		Plans: []*types.Plan{
			{ID: "premium_monthly", Authority: types.PaymentAuthorityGoogle, AuthorityItemID: "premium_monthly_sub", Kind: types.PlanKindSubscription},
			{ID: "registration_fee", Authority: types.PaymentAuthorityGoogle, AuthorityItemID: "registration_fee", Kind: types.PlanKindOneTime},
		},
	}
}

func TestGoogleIngestActiveSubscription(t *testing.T) {
	now := time.Now()
	fake := &fakePurchaseVerifier{sub: &androidpublisher.SubscriptionPurchase{
		OrderId:          "GPA.1234",
		StartTimeMillis:  now.AddDate(0, -1, 0).UnixMilli(),
		ExpiryTimeMillis: now.AddDate(0, 1, 0).UnixMilli(),
		AutoRenewing:     true,
		PaymentState:     lo.ToPtr(int64(1)),
	}}
	a := NewGoogleAdapter(googleTestConfig(), fake, zap.NewNop().Sugar())

	ev, err := a.Ingest(context.Background(), "u1", "premium_monthly_sub", "token1")
	require.NoError(t, err)
	assert.Equal(t, types.PaymentAuthorityGoogle, ev.Authority)
	assert.Equal(t, "GPA.1234", ev.EventID)
	assert.Equal(t, types.EventKindSubscriptionActivated, ev.Kind)
	assert.Equal(t, "payment_received", ev.NativeStatus)
	assert.Equal(t, "premium_monthly", ev.PlanID)
	assert.False(t, ev.CancelAtPeriodEnd)
	assert.Equal(t, 1, fake.ackSubCalls)
}

func TestGoogleIngestAcknowledgeFailureIsNotFatal(t *testing.T) {
	now := time.Now()
	fake := &fakePurchaseVerifier{
		sub: &androidpublisher.SubscriptionPurchase{
			OrderId:          "GPA.5678",
			ExpiryTimeMillis: now.AddDate(0, 1, 0).UnixMilli(),
			AutoRenewing:     true,
			PaymentState:     lo.ToPtr(int64(1)),
		},
		ackErr: errors.New("quota exceeded"),
	}
	a := NewGoogleAdapter(googleTestConfig(), fake, zap.NewNop().Sugar())

	ev, err := a.Ingest(context.Background(), "u1", "premium_monthly_sub", "token1")
	require.NoError(t, err)
	assert.NotNil(t, ev)
	assert.Equal(t, 1, fake.ackSubCalls)
}

func TestGoogleIngestAlreadyAcknowledgedSkipsAck(t *testing.T) {
	now := time.Now()
	fake := &fakePurchaseVerifier{sub: &androidpublisher.SubscriptionPurchase{
		OrderId:              "GPA.9",
		ExpiryTimeMillis:     now.AddDate(0, 1, 0).UnixMilli(),
		AutoRenewing:         true,
		PaymentState:         lo.ToPtr(int64(1)),
		AcknowledgementState: 1,
	}}
	a := NewGoogleAdapter(googleTestConfig(), fake, zap.NewNop().Sugar())

	_, err := a.Ingest(context.Background(), "u1", "premium_monthly_sub", "token1")
	require.NoError(t, err)
	assert.Zero(t, fake.ackSubCalls)
}

func TestGoogleIngestPendingPayment(t *testing.T) {
	now := time.Now()
	fake := &fakePurchaseVerifier{sub: &androidpublisher.SubscriptionPurchase{
		OrderId:          "GPA.10",
		ExpiryTimeMillis: now.AddDate(0, 1, 0).UnixMilli(),
		AutoRenewing:     true,
		PaymentState:     lo.ToPtr(int64(0)),
	}}
	a := NewGoogleAdapter(googleTestConfig(), fake, zap.NewNop().Sugar())

	ev, err := a.Ingest(context.Background(), "u1", "premium_monthly_sub", "token1")
	require.NoError(t, err)
	assert.Equal(t, types.EventKindPaymentFailed, ev.Kind)
	assert.Equal(t, "payment_pending", ev.NativeStatus)
}

func TestGoogleIngestExpiredCancelled(t *testing.T) {
	now := time.Now()
	fake := &fakePurchaseVerifier{sub: &androidpublisher.SubscriptionPurchase{
		OrderId:          "GPA.11",
		ExpiryTimeMillis: now.AddDate(0, -1, 0).UnixMilli(),
		CancelReason:     1,
	}}
	a := NewGoogleAdapter(googleTestConfig(), fake, zap.NewNop().Sugar())

	ev, err := a.Ingest(context.Background(), "u1", "premium_monthly_sub", "token1")
	require.NoError(t, err)
	assert.Equal(t, types.EventKindSubscriptionCancelled, ev.Kind)
	assert.Equal(t, "cancelled", ev.NativeStatus)
}

func TestGoogleIngestOneTimeProduct(t *testing.T) {
	now := time.Now()
	fake := &fakePurchaseVerifier{product: &androidpublisher.ProductPurchase{
		OrderId:            "GPA.12",
		PurchaseState:      0,
		PurchaseTimeMillis: now.UnixMilli(),
	}}
	a := NewGoogleAdapter(googleTestConfig(), fake, zap.NewNop().Sugar())

	ev, err := a.Ingest(context.Background(), "u1", "registration_fee", "token2")
	require.NoError(t, err)
	assert.Equal(t, types.EventKindOneTimePurchaseCompleted, ev.Kind)
	assert.Equal(t, "registration_fee", ev.PlanID)
	assert.Equal(t, 1, fake.ackProductCalls)
}

func TestGoogleIngestProductNotPurchased(t *testing.T) {
	fake := &fakePurchaseVerifier{product: &androidpublisher.ProductPurchase{
		PurchaseState: 2,
	}}
	a := NewGoogleAdapter(googleTestConfig(), fake, zap.NewNop().Sugar())

	_, err := a.Ingest(context.Background(), "u1", "registration_fee", "token2")
	assert.ErrorIs(t, err, ErrMalformedPayload)
}

func TestGoogleIngestUnknownProduct(t *testing.T) {
	a := NewGoogleAdapter(googleTestConfig(), &fakePurchaseVerifier{}, zap.NewNop().Sugar())
	_, err := a.Ingest(context.Background(), "u1", "mystery_sku", "token")
	assert.ErrorIs(t, err, ErrMalformedPayload)
}

func TestGoogleIngestNotConfigured(t *testing.T) {
	a := NewGoogleAdapter(googleTestConfig(), nil, zap.NewNop().Sugar())
	_, err := a.Ingest(context.Background(), "u1", "premium_monthly_sub", "token")
	assert.ErrorIs(t, err, ErrAuthorityUnavailable)
}

func TestGoogleIngestAuthorityDown(t *testing.T) {
	fake := &fakePurchaseVerifier{err: errors.New("googleapi: 503")}
	a := NewGoogleAdapter(googleTestConfig(), fake, zap.NewNop().Sugar())
	_, err := a.Ingest(context.Background(), "u1", "premium_monthly_sub", "token")
	assert.ErrorIs(t, err, ErrAuthorityUnavailable)
}

func TestGoogleEventIDFallbackIsStable(t *testing.T) {
	// same (product, token) must dedupe across resubmissions
	a := tokenEventID("premium_monthly_sub", "token-abc")
	b := tokenEventID("premium_monthly_sub", "token-abc")
	c := tokenEventID("premium_monthly_sub", "token-xyz")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}
