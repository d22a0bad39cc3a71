package adapter

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/studykit/entitlements/internal/platform/apple/apple_iap"
	"github.com/studykit/entitlements/pkg/config"
	"github.com/studykit/entitlements/pkg/types"
)

type fakeReceiptVerifier struct {
	responses map[apple_iap.Environment]*apple_iap.VerifyResponse
	calls     []apple_iap.Environment
	err       error
}

func (f *fakeReceiptVerifier) VerifyReceipt(_ context.Context, _ string, env apple_iap.Environment) (*apple_iap.VerifyResponse, error) {
	f.calls = append(f.calls, env)
	if f.err != nil {
		return nil, f.err
	}
	return f.responses[env], nil
}

func appleTestConfig() *config.Config {
	return &config.Config{
		AppleIAP: config.AppleIAPConfig{BundleID: "com.studykit.app", IsProd: true},
		Plans: []*types.Plan{
			{ID: "premium_monthly", Authority: types.PaymentAuthorityApple, AuthorityItemID: "com.studykit.premium.monthly", Kind: types.PlanKindSubscription},
		},
	}
}

func ms(t time.Time) string { return strconv.FormatInt(t.UnixMilli(), 10) }

func appleOKResponse(infos []*apple_iap.ReceiptInfo) *apple_iap.VerifyResponse {
	resp := &apple_iap.VerifyResponse{Status: apple_iap.StatusOK, LatestReceiptInfo: infos}
	resp.Receipt.BundleID = "com.studykit.app"
	return resp
}

func TestAppleReceiptIngestBundledRenewals(t *testing.T) {
	now := time.Now()
	infos := []*apple_iap.ReceiptInfo{
		{
			ProductID:             "com.studykit.premium.monthly",
			TransactionID:         "1000",
			OriginalTransactionID: "1000",
			PurchaseDateMS:        ms(now.AddDate(0, -2, 0)),
			ExpiresDateMS:         ms(now.AddDate(0, -1, 0)),
		},
		{
			ProductID:             "com.studykit.premium.monthly",
			TransactionID:         "1001",
			OriginalTransactionID: "1000",
			PurchaseDateMS:        ms(now.AddDate(0, -1, 0)),
			ExpiresDateMS:         ms(now.AddDate(0, 1, 0)),
		},
		// duplicate entry for the same transaction is ignored
		{
			ProductID:             "com.studykit.premium.monthly",
			TransactionID:         "1001",
			OriginalTransactionID: "1000",
			PurchaseDateMS:        ms(now.AddDate(0, -1, 0)),
			ExpiresDateMS:         ms(now.AddDate(0, 1, 0)),
		},
	}
	fake := &fakeReceiptVerifier{responses: map[apple_iap.Environment]*apple_iap.VerifyResponse{
		apple_iap.EnvironmentProduction: appleOKResponse(infos),
	}}
	a := NewAppleReceiptAdapter(appleTestConfig(), fake, zap.NewNop().Sugar())

	events, err := a.Ingest(context.Background(), "u1", "base64receipt")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, []apple_iap.Environment{apple_iap.EnvironmentProduction}, fake.calls)

	// oldest first
	assert.Equal(t, "1000", events[0].EventID)
	assert.Equal(t, types.EventKindSubscriptionExpired, events[0].Kind)
	assert.Equal(t, "1001", events[1].EventID)
	assert.Equal(t, types.EventKindSubscriptionRenewed, events[1].Kind)
	assert.Equal(t, "premium_monthly", events[1].PlanID)
	assert.Equal(t, "u1", events[1].UserID)
}

func TestAppleReceiptIngestEnvironmentMismatchRetriesOnce(t *testing.T) {
	now := time.Now()
	sandboxResp := appleOKResponse([]*apple_iap.ReceiptInfo{{
		ProductID:             "com.studykit.premium.monthly",
		TransactionID:         "2000",
		OriginalTransactionID: "2000",
		PurchaseDateMS:        ms(now),
		ExpiresDateMS:         ms(now.AddDate(0, 1, 0)),
	}})
	fake := &fakeReceiptVerifier{responses: map[apple_iap.Environment]*apple_iap.VerifyResponse{
		apple_iap.EnvironmentProduction: {Status: apple_iap.StatusSandboxOnProduction},
		apple_iap.EnvironmentSandbox:    sandboxResp,
	}}
	a := NewAppleReceiptAdapter(appleTestConfig(), fake, zap.NewNop().Sugar())

	events, err := a.Ingest(context.Background(), "u1", "base64receipt")
	require.NoError(t, err)
	// exactly one event, not two, despite the fallback call
	require.Len(t, events, 1)
	assert.Equal(t, []apple_iap.Environment{apple_iap.EnvironmentProduction, apple_iap.EnvironmentSandbox}, fake.calls)
	assert.Equal(t, types.EventKindSubscriptionActivated, events[0].Kind)
}

func TestAppleReceiptIngestBillingRetryMapsToPaymentFailed(t *testing.T) {
	now := time.Now()
	resp := appleOKResponse([]*apple_iap.ReceiptInfo{{
		ProductID:             "com.studykit.premium.monthly",
		TransactionID:         "3000",
		OriginalTransactionID: "3000",
		PurchaseDateMS:        ms(now.AddDate(0, -2, 0)),
		ExpiresDateMS:         ms(now.AddDate(0, 0, -1)),
	}})
	resp.PendingRenewalInfo = []*apple_iap.PendingRenewalInfo{{
		ProductID:        "com.studykit.premium.monthly",
		IsInBillingRetry: "1",
	}}
	fake := &fakeReceiptVerifier{responses: map[apple_iap.Environment]*apple_iap.VerifyResponse{
		apple_iap.EnvironmentProduction: resp,
	}}
	a := NewAppleReceiptAdapter(appleTestConfig(), fake, zap.NewNop().Sugar())

	events, err := a.Ingest(context.Background(), "u1", "base64receipt")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, types.EventKindPaymentFailed, events[0].Kind)
	assert.Equal(t, "billing_retry", events[0].NativeStatus)
}

func TestAppleReceiptIngestRejectedStatus(t *testing.T) {
	fake := &fakeReceiptVerifier{responses: map[apple_iap.Environment]*apple_iap.VerifyResponse{
		apple_iap.EnvironmentProduction: {Status: 21002},
	}}
	a := NewAppleReceiptAdapter(appleTestConfig(), fake, zap.NewNop().Sugar())

	_, err := a.Ingest(context.Background(), "u1", "garbage")
	assert.ErrorIs(t, err, ErrMalformedPayload)
}

func TestAppleReceiptIngestAuthorityDown(t *testing.T) {
	fake := &fakeReceiptVerifier{err: errors.New("connection refused")}
	a := NewAppleReceiptAdapter(appleTestConfig(), fake, zap.NewNop().Sugar())

	_, err := a.Ingest(context.Background(), "u1", "base64receipt")
	assert.ErrorIs(t, err, ErrAuthorityUnavailable)
}

func TestAppleReceiptIngestNoUser(t *testing.T) {
	a := NewAppleReceiptAdapter(appleTestConfig(), &fakeReceiptVerifier{}, zap.NewNop().Sugar())
	_, err := a.Ingest(context.Background(), "", "base64receipt")
	assert.ErrorIs(t, err, ErrUnresolvableUser)
}

func TestAppleReceiptIngestForeignBundle(t *testing.T) {
	resp := appleOKResponse([]*apple_iap.ReceiptInfo{{TransactionID: "1", PurchaseDateMS: ms(time.Now())}})
	resp.Receipt.BundleID = "com.other.app"
	fake := &fakeReceiptVerifier{responses: map[apple_iap.Environment]*apple_iap.VerifyResponse{
		apple_iap.EnvironmentProduction: resp,
	}}
	a := NewAppleReceiptAdapter(appleTestConfig(), fake, zap.NewNop().Sugar())

	_, err := a.Ingest(context.Background(), "u1", "base64receipt")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformedPayload)
	assert.Contains(t, fmt.Sprint(err), "foreign bundle")
}
