package types

import (
	"time"

	"gorm.io/datatypes"
)

type EventKind string

const (
	EventKindSubscriptionActivated    EventKind = "subscription_activated"
	EventKindSubscriptionRenewed      EventKind = "subscription_renewed"
	EventKindSubscriptionCancelled    EventKind = "subscription_cancelled"
	EventKindSubscriptionExpired      EventKind = "subscription_expired"
	EventKindOneTimePurchaseCompleted EventKind = "one_time_purchase_completed"
	EventKindPaymentFailed            EventKind = "payment_failed"
)

func (k EventKind) Valid() bool {
	switch k {
	case EventKindSubscriptionActivated, EventKindSubscriptionRenewed,
		EventKindSubscriptionCancelled, EventKindSubscriptionExpired,
		EventKindOneTimePurchaseCompleted, EventKindPaymentFailed:
		return true
	}
	return false
}

// RawPaymentEvent is the normalized envelope every adapter produces,
// regardless of whether the authority pushes webhooks or is polled.
// EventID is unique within the authority and drives idempotency.
type RawPaymentEvent struct {
	Authority PaymentAuthority `json:"authority"`
	EventID   string           `json:"event_id"`
	UserID    string           `json:"user_id"`
	Kind      EventKind        `json:"kind"`
	PlanID    string           `json:"plan_id,omitempty"`
	// OccurredAt is the authority-reported time, not ingestion time.
	OccurredAt  time.Time  `json:"occurred_at"`
	PeriodStart *time.Time `json:"period_start,omitempty"`
	PeriodEnd   *time.Time `json:"period_end,omitempty"`
	// CancelAtPeriodEnd carries the authority's renewal flag where it has one.
	CancelAtPeriodEnd bool `json:"cancel_at_period_end,omitempty"`
	// NativeStatus is the authority's own status vocabulary, recorded on the
	// shadow record verbatim.
	NativeStatus string `json:"native_status,omitempty"`
	// TrialDays and PromotionCode are set on promotion-authority events only.
	TrialDays     int    `json:"trial_days,omitempty"`
	PromotionCode string `json:"promotion_code,omitempty"`
	// RawPayload is retained for audit; nothing downstream of the adapter
	// parses it.
	RawPayload datatypes.JSON `json:"raw_payload,omitempty"`
}
