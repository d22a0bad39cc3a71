package adapter

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/studykit/entitlements/internal/app/service/reconciler"
	"github.com/studykit/entitlements/internal/platform/apple/apple_iap"
	"github.com/studykit/entitlements/pkg/config"
	"github.com/studykit/entitlements/pkg/types"
)

// AppleReceiptAdapter verifies an opaque receipt blob and emits one
// normalized event per distinct transaction in the purchase list.
type AppleReceiptAdapter struct {
	cfg      *config.Config
	verifier apple_iap.ReceiptVerifier
	log      *zap.SugaredLogger
}

func NewAppleReceiptAdapter(cfg *config.Config, verifier apple_iap.ReceiptVerifier, log *zap.SugaredLogger) *AppleReceiptAdapter {
	return &AppleReceiptAdapter{cfg: cfg, verifier: verifier, log: log}
}

// Ingest verifies receiptData and maps its transactions, oldest first. A
// wrong-environment status triggers exactly one retry against the alternate
// endpoint; this is a documented verifyReceipt quirk, not a transient fault.
func (a *AppleReceiptAdapter) Ingest(ctx context.Context, userID, receiptData string) ([]*types.RawPaymentEvent, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: receipt verification without user", ErrUnresolvableUser)
	}
	if receiptData == "" {
		return nil, fmt.Errorf("%w: empty receipt data", ErrMalformedPayload)
	}

	env := apple_iap.EnvironmentSandbox
	if a.cfg.AppleIAP.IsProd {
		env = apple_iap.EnvironmentProduction
	}

	resp, err := a.verify(ctx, receiptData, env)
	if err != nil {
		return nil, err
	}
	if resp.EnvironmentMismatch() {
		resp, err = a.verify(ctx, receiptData, env.Alternate())
		if err != nil {
			return nil, err
		}
	}
	if resp.Status != apple_iap.StatusOK {
		return nil, fmt.Errorf("%w: receipt rejected with status %d", ErrMalformedPayload, resp.Status)
	}
	if a.cfg.AppleIAP.BundleID != "" && resp.Receipt.BundleID != a.cfg.AppleIAP.BundleID {
		return nil, fmt.Errorf("%w: receipt for foreign bundle %s", ErrMalformedPayload, resp.Receipt.BundleID)
	}

	infos := resp.LatestReceiptInfo
	if len(infos) == 0 {
		infos = resp.Receipt.InApp
	}
	if len(infos) == 0 {
		return nil, fmt.Errorf("%w: receipt has no transactions", ErrMalformedPayload)
	}

	now := time.Now()
	seen := make(map[string]bool, len(infos))
	events := make([]*types.RawPaymentEvent, 0, len(infos))
	for _, info := range infos {
		if info == nil || info.TransactionID == "" || seen[info.TransactionID] {
			continue
		}
		seen[info.TransactionID] = true
		events = append(events, a.mapTransaction(userID, info, resp.PendingRenewalInfo, now))
	}
	sort.Slice(events, func(i, j int) bool { return events[i].OccurredAt.Before(events[j].OccurredAt) })
	return events, nil
}

func (a *AppleReceiptAdapter) verify(ctx context.Context, receiptData string, env apple_iap.Environment) (*apple_iap.VerifyResponse, error) {
	callCtx, cancel := context.WithTimeout(ctx, a.cfg.AuthorityTimeout())
	defer cancel()
	resp, err := a.verifier.VerifyReceipt(callCtx, receiptData, env)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthorityUnavailable, err)
	}
	return resp, nil
}

func (a *AppleReceiptAdapter) mapTransaction(userID string, info *apple_iap.ReceiptInfo, renewals []*apple_iap.PendingRenewalInfo, now time.Time) *types.RawPaymentEvent {
	purchasedAt := msToTime(info.PurchaseDateMS)
	expiresAt := msToTime(info.ExpiresDateMS)

	ev := &types.RawPaymentEvent{
		Authority:  types.PaymentAuthorityApple,
		EventID:    info.TransactionID,
		UserID:     userID,
		OccurredAt: purchasedAt,
	}
	if !purchasedAt.IsZero() {
		ev.PeriodStart = lo.ToPtr(purchasedAt)
	}
	if !expiresAt.IsZero() {
		ev.PeriodEnd = lo.ToPtr(expiresAt)
	}
	if plan, err := a.cfg.GetPlanByAuthorityItemID(types.PaymentAuthorityApple, info.ProductID); err == nil {
		ev.PlanID = plan.ID
	} else {
		a.log.Warnw("unknown apple product", "product_id", info.ProductID, "transaction_id", info.TransactionID)
	}

	switch {
	case expiresAt.IsZero():
		ev.Kind = types.EventKindOneTimePurchaseCompleted
		ev.NativeStatus = reconciler.NativeAppleActive
	case info.CancellationDateMS != "":
		ev.Kind = types.EventKindSubscriptionCancelled
		ev.NativeStatus = reconciler.NativeAppleRevoked
	case expiresAt.Before(now):
		if native, retrying := renewalState(renewals, info.ProductID, now); retrying {
			ev.Kind = types.EventKindPaymentFailed
			ev.NativeStatus = native
		} else {
			ev.Kind = types.EventKindSubscriptionExpired
			ev.NativeStatus = reconciler.NativeAppleExpired
		}
	case info.IsTrialPeriod == "true" || info.IsInIntroOfferPeriod == "true":
		ev.Kind = types.EventKindSubscriptionActivated
		ev.NativeStatus = reconciler.NativeAppleTrial
	case info.TransactionID == info.OriginalTransactionID:
		ev.Kind = types.EventKindSubscriptionActivated
		ev.NativeStatus = reconciler.NativeAppleActive
	default:
		ev.Kind = types.EventKindSubscriptionRenewed
		ev.NativeStatus = reconciler.NativeAppleActive
	}
	return ev
}

// renewalState reports whether the product is in a grace period or billing
// retry, which keep the lapsed subscription in PastDue rather than Expired.
func renewalState(renewals []*apple_iap.PendingRenewalInfo, productID string, now time.Time) (string, bool) {
	for _, r := range renewals {
		if r == nil || r.ProductID != productID {
			continue
		}
		if grace := msToTime(r.GracePeriodExpires); !grace.IsZero() && grace.After(now) {
			return reconciler.NativeAppleGracePeriod, true
		}
		if r.IsInBillingRetry == "1" {
			return reconciler.NativeAppleBillingRetry, true
		}
	}
	return "", false
}

func msToTime(ms string) time.Time {
	if ms == "" {
		return time.Time{}
	}
	n, err := strconv.ParseInt(ms, 10, 64)
	if err != nil || n <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(n)
}
