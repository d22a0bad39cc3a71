package adapter

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"
	"google.golang.org/api/androidpublisher/v3"

	"github.com/studykit/entitlements/internal/app/service/reconciler"
	"github.com/studykit/entitlements/internal/platform/google/google_play"
	"github.com/studykit/entitlements/pkg/config"
	"github.com/studykit/entitlements/pkg/types"
)

// PurchaseVerifier is the Play Developer API surface this adapter needs;
// satisfied by google_play.Client and by fakes in tests.
type PurchaseVerifier interface {
	VerifySubscription(ctx context.Context, subscriptionID, token string) (*androidpublisher.SubscriptionPurchase, error)
	VerifyProduct(ctx context.Context, productID, token string) (*androidpublisher.ProductPurchase, error)
	AcknowledgeSubscription(ctx context.Context, subscriptionID, token string) error
	AcknowledgeProduct(ctx context.Context, productID, token string) error
}

// GoogleAdapter verifies Play purchase tokens: subscriptions and one-time
// products are told apart by the configured plan kind, and each successful
// verification is followed by a best-effort acknowledge.
type GoogleAdapter struct {
	cfg      *config.Config
	verifier PurchaseVerifier
	log      *zap.SugaredLogger
}

func NewGoogleAdapter(cfg *config.Config, verifier PurchaseVerifier, log *zap.SugaredLogger) *GoogleAdapter {
	return &GoogleAdapter{cfg: cfg, verifier: verifier, log: log}
}

func (a *GoogleAdapter) Ingest(ctx context.Context, userID, productID, purchaseToken string) (*types.RawPaymentEvent, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: purchase verification without user", ErrUnresolvableUser)
	}
	if productID == "" || purchaseToken == "" {
		return nil, fmt.Errorf("%w: missing product id or purchase token", ErrMalformedPayload)
	}
	if a.verifier == nil {
		return nil, fmt.Errorf("%w: play verification not configured", ErrAuthorityUnavailable)
	}

	plan, err := a.cfg.GetPlanByAuthorityItemID(types.PaymentAuthorityGoogle, productID)
	if err != nil {
		return nil, fmt.Errorf("%w: unknown product %s", ErrMalformedPayload, productID)
	}

	if plan.IsSubscription() {
		return a.ingestSubscription(ctx, userID, plan, productID, purchaseToken)
	}
	return a.ingestProduct(ctx, userID, plan, productID, purchaseToken)
}

func (a *GoogleAdapter) ingestSubscription(ctx context.Context, userID string, plan *types.Plan, productID, token string) (*types.RawPaymentEvent, error) {
	callCtx, cancel := context.WithTimeout(ctx, a.cfg.AuthorityTimeout())
	defer cancel()
	sub, err := a.verifier.VerifySubscription(callCtx, productID, token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthorityUnavailable, err)
	}

	now := time.Now()
	start := time.UnixMilli(sub.StartTimeMillis)
	expiry := time.UnixMilli(sub.ExpiryTimeMillis)

	ev := &types.RawPaymentEvent{
		Authority:         types.PaymentAuthorityGoogle,
		EventID:           subscriptionEventID(sub, productID, token),
		UserID:            userID,
		PlanID:            plan.ID,
		OccurredAt:        start,
		CancelAtPeriodEnd: !sub.AutoRenewing,
	}
	if sub.StartTimeMillis > 0 {
		ev.PeriodStart = lo.ToPtr(start)
	}
	if sub.ExpiryTimeMillis > 0 {
		ev.PeriodEnd = lo.ToPtr(expiry)
	}

	switch {
	case sub.ExpiryTimeMillis > 0 && expiry.Before(now):
		if sub.CancelReason != 0 {
			ev.Kind = types.EventKindSubscriptionCancelled
			ev.NativeStatus = reconciler.NativeGoogleCancelled
		} else {
			ev.Kind = types.EventKindSubscriptionExpired
			ev.NativeStatus = reconciler.NativeGoogleExpired
		}
	case paymentState(sub) == 0:
		ev.Kind = types.EventKindPaymentFailed
		ev.NativeStatus = reconciler.NativeGooglePaymentPending
	case paymentState(sub) == 2:
		ev.Kind = types.EventKindSubscriptionActivated
		ev.NativeStatus = reconciler.NativeGoogleFreeTrial
	case paymentState(sub) == 3:
		ev.Kind = types.EventKindSubscriptionRenewed
		ev.NativeStatus = reconciler.NativeGooglePaymentDeferred
	case !sub.AutoRenewing:
		ev.Kind = types.EventKindSubscriptionCancelled
		ev.NativeStatus = reconciler.NativeGooglePaymentReceived
	default:
		ev.Kind = types.EventKindSubscriptionActivated
		ev.NativeStatus = reconciler.NativeGooglePaymentReceived
	}

	if sub.AcknowledgementState == google_play.AcknowledgementStatePending {
		a.acknowledge(ctx, func(ackCtx context.Context) error {
			return a.verifier.AcknowledgeSubscription(ackCtx, productID, token)
		}, productID)
	}
	return ev, nil
}

func (a *GoogleAdapter) ingestProduct(ctx context.Context, userID string, plan *types.Plan, productID, token string) (*types.RawPaymentEvent, error) {
	callCtx, cancel := context.WithTimeout(ctx, a.cfg.AuthorityTimeout())
	defer cancel()
	purchase, err := a.verifier.VerifyProduct(callCtx, productID, token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthorityUnavailable, err)
	}
	if purchase.PurchaseState != google_play.PurchaseStatePurchased {
		return nil, fmt.Errorf("%w: purchase not in purchased state", ErrMalformedPayload)
	}

	ev := &types.RawPaymentEvent{
		Authority:    types.PaymentAuthorityGoogle,
		EventID:      productEventID(purchase, productID, token),
		UserID:       userID,
		Kind:         types.EventKindOneTimePurchaseCompleted,
		PlanID:       plan.ID,
		OccurredAt:   time.UnixMilli(purchase.PurchaseTimeMillis),
		NativeStatus: reconciler.NativeGooglePaymentReceived,
	}

	if purchase.AcknowledgementState == google_play.AcknowledgementStatePending {
		a.acknowledge(ctx, func(ackCtx context.Context) error {
			return a.verifier.AcknowledgeProduct(ackCtx, productID, token)
		}, productID)
	}
	return ev, nil
}

// acknowledge is best-effort: the purchase is already valid from the store's
// perspective, and unacknowledged purchases are auto-refunded by the store
// after its own window, so a failure is logged and ignored.
func (a *GoogleAdapter) acknowledge(ctx context.Context, fn func(context.Context) error, productID string) {
	ackCtx, cancel := context.WithTimeout(ctx, a.cfg.AuthorityTimeout())
	defer cancel()
	if err := fn(ackCtx); err != nil {
		a.log.Warnw("play acknowledge failed", "product_id", productID, "error", err)
	}
}

func paymentState(sub *androidpublisher.SubscriptionPurchase) int64 {
	if sub.PaymentState == nil {
		return 1
	}
	return *sub.PaymentState
}

func subscriptionEventID(sub *androidpublisher.SubscriptionPurchase, productID, token string) string {
	if sub.OrderId != "" {
		return sub.OrderId
	}
	return tokenEventID(productID, token)
}

func productEventID(p *androidpublisher.ProductPurchase, productID, token string) string {
	if p.OrderId != "" {
		return p.OrderId
	}
	return tokenEventID(productID, token)
}

// tokenEventID derives a stable event id when the store omits an order id;
// the same (product, token) pair must dedupe on resubmission.
func tokenEventID(productID, token string) string {
	sum := sha256.Sum256([]byte(productID + ":" + token))
	return "gp_" + hex.EncodeToString(sum[:16])
}
