package adapter

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/studykit/entitlements/internal/app/service/reconciler"
	"github.com/studykit/entitlements/internal/platform/stripe"
	"github.com/studykit/entitlements/pkg/config"
	"github.com/studykit/entitlements/pkg/types"
)

// StripeAdapter turns signed Stripe webhook deliveries into normalized
// payment events. It decides nothing about idempotency; the ledger does.
type StripeAdapter struct {
	cfg *config.Config
	log *zap.SugaredLogger
}

func NewStripeAdapter(cfg *config.Config, log *zap.SugaredLogger) *StripeAdapter {
	return &StripeAdapter{cfg: cfg, log: log}
}

// Ingest verifies the signature over the raw body and maps the event. A nil
// event with nil error means the event type is not one this service
// consumes; the caller acknowledges it without reconciliation.
func (a *StripeAdapter) Ingest(payload []byte, sigHeader string) (*types.RawPaymentEvent, error) {
	tolerance := time.Duration(a.cfg.Stripe.ToleranceSeconds) * time.Second
	ev, err := stripe.ConstructEvent(payload, sigHeader, a.cfg.Stripe.WebhookSecret, tolerance, time.Now())
	if err != nil {
		switch {
		case err == stripe.ErrNoSignature, err == stripe.ErrInvalidSignature, err == stripe.ErrTimestampTolerance:
			return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
		default:
			return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
	}

	raw := types.RawPaymentEvent{
		Authority:  types.PaymentAuthorityStripe,
		EventID:    ev.ID,
		OccurredAt: time.Unix(ev.Created, 0),
		RawPayload: datatypes.JSON(payload),
	}

	switch ev.Type {
	case stripe.EventCheckoutSessionCompleted:
		return a.mapCheckoutSession(ev, raw)
	case stripe.EventSubscriptionCreated, stripe.EventSubscriptionUpdated, stripe.EventSubscriptionDeleted:
		return a.mapSubscription(ev, raw)
	case stripe.EventInvoicePaymentSucceeded, stripe.EventInvoicePaymentFailed:
		return a.mapInvoice(ev, raw)
	default:
		return nil, nil
	}
}

func (a *StripeAdapter) mapCheckoutSession(ev *stripe.Event, raw types.RawPaymentEvent) (*types.RawPaymentEvent, error) {
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(ev.Data.Object, &sess); err != nil {
		return nil, fmt.Errorf("%w: checkout session: %v", ErrMalformedPayload, err)
	}
	userID := sess.Metadata["user_id"]
	if userID == "" {
		return nil, fmt.Errorf("%w: checkout session %s has no user_id metadata", ErrUnresolvableUser, sess.ID)
	}
	if sess.PaymentStatus != "paid" {
		// Unpaid sessions (e.g. delayed payment methods) settle via invoice
		// events.
		return nil, nil
	}

	raw.UserID = userID
	raw.NativeStatus = reconciler.NativeStripeActive
	if sess.Subscription != "" {
		raw.Kind = types.EventKindSubscriptionActivated
	} else {
		raw.Kind = types.EventKindOneTimePurchaseCompleted
	}
	if planID := sess.Metadata["plan_id"]; planID != "" {
		raw.PlanID = planID
	}
	return &raw, nil
}

func (a *StripeAdapter) mapSubscription(ev *stripe.Event, raw types.RawPaymentEvent) (*types.RawPaymentEvent, error) {
	var sub stripe.Subscription
	if err := json.Unmarshal(ev.Data.Object, &sub); err != nil {
		return nil, fmt.Errorf("%w: subscription: %v", ErrMalformedPayload, err)
	}
	userID := sub.Metadata["user_id"]
	if userID == "" {
		return nil, fmt.Errorf("%w: subscription %s has no user_id metadata", ErrUnresolvableUser, sub.ID)
	}

	raw.UserID = userID
	raw.NativeStatus = sub.Status
	raw.CancelAtPeriodEnd = sub.CancelAtPeriodEnd
	if sub.CurrentPeriodStart > 0 {
		raw.PeriodStart = lo.ToPtr(time.Unix(sub.CurrentPeriodStart, 0))
	}
	if sub.CurrentPeriodEnd > 0 {
		raw.PeriodEnd = lo.ToPtr(time.Unix(sub.CurrentPeriodEnd, 0))
	}

	switch ev.Type {
	case stripe.EventSubscriptionCreated:
		raw.Kind = types.EventKindSubscriptionActivated
	case stripe.EventSubscriptionDeleted:
		raw.Kind = types.EventKindSubscriptionExpired
	default:
		if sub.CancelAtPeriodEnd || sub.Status == stripe.SubscriptionStatusCanceled {
			raw.Kind = types.EventKindSubscriptionCancelled
		} else {
			raw.Kind = types.EventKindSubscriptionRenewed
		}
	}

	if plan, err := a.cfg.GetPlanByAuthorityItemID(types.PaymentAuthorityStripe, sub.PriceID()); err == nil {
		raw.PlanID = plan.ID
	} else {
		a.log.Warnw("unknown stripe price", "price_id", sub.PriceID(), "subscription", sub.ID)
	}
	return &raw, nil
}

func (a *StripeAdapter) mapInvoice(ev *stripe.Event, raw types.RawPaymentEvent) (*types.RawPaymentEvent, error) {
	var inv stripe.Invoice
	if err := json.Unmarshal(ev.Data.Object, &inv); err != nil {
		return nil, fmt.Errorf("%w: invoice: %v", ErrMalformedPayload, err)
	}
	if inv.Subscription == "" {
		// One-off invoices carry no entitlement meaning here.
		return nil, nil
	}
	userID := inv.SubscriptionDetails.Metadata["user_id"]
	if userID == "" {
		return nil, fmt.Errorf("%w: invoice %s has no user_id metadata", ErrUnresolvableUser, inv.ID)
	}

	raw.UserID = userID
	if inv.PeriodStart > 0 {
		raw.PeriodStart = lo.ToPtr(time.Unix(inv.PeriodStart, 0))
	}
	if inv.PeriodEnd > 0 {
		raw.PeriodEnd = lo.ToPtr(time.Unix(inv.PeriodEnd, 0))
	}
	if ev.Type == stripe.EventInvoicePaymentSucceeded {
		raw.Kind = types.EventKindSubscriptionRenewed
		raw.NativeStatus = reconciler.NativeStripeActive
	} else {
		raw.Kind = types.EventKindPaymentFailed
		raw.NativeStatus = reconciler.NativeStripePastDue
	}
	return &raw, nil
}
