package reconciler

import (
	"github.com/studykit/entitlements/pkg/types"
)

// Native status vocabularies, one per authority. Adapters emit these tokens
// on RawPaymentEvent.NativeStatus; the tables below are the only place they
// are projected into the canonical enum.
const (
	// Stripe subscription statuses, verbatim.
	NativeStripeTrialing          = "trialing"
	NativeStripeActive            = "active"
	NativeStripePastDue           = "past_due"
	NativeStripeCanceled          = "canceled"
	NativeStripeUnpaid            = "unpaid"
	NativeStripeIncompleteExpired = "incomplete_expired"

	// Apple derived states.
	NativeAppleActive       = "active"
	NativeAppleTrial        = "trial"
	NativeAppleGracePeriod  = "grace_period"
	NativeAppleBillingRetry = "billing_retry"
	NativeAppleExpired      = "expired"
	NativeAppleRevoked      = "revoked"
	NativeAppleCancelled    = "cancelled"

	// Google Play derived states (from paymentState / cancelReason).
	NativeGoogleFreeTrial       = "free_trial"
	NativeGooglePaymentReceived = "payment_received"
	NativeGooglePaymentPending  = "payment_pending"
	NativeGooglePaymentDeferred = "payment_deferred"
	NativeGoogleCancelled       = "cancelled"
	NativeGoogleExpired         = "expired"

	NativePromotionTrial = "trial"
)

var stripeStatusTable = map[string]types.EntitlementStatus{
	NativeStripeTrialing:          types.EntitlementStatusTrial,
	NativeStripeActive:            types.EntitlementStatusActive,
	NativeStripePastDue:           types.EntitlementStatusPastDue,
	NativeStripeCanceled:          types.EntitlementStatusCancelled,
	NativeStripeUnpaid:            types.EntitlementStatusCancelled,
	NativeStripeIncompleteExpired: types.EntitlementStatusExpired,
}

// Grace period and billing retry keep access but map to PastDue, never
// Active.
var appleStatusTable = map[string]types.EntitlementStatus{
	NativeAppleActive:       types.EntitlementStatusActive,
	NativeAppleTrial:        types.EntitlementStatusTrial,
	NativeAppleGracePeriod:  types.EntitlementStatusPastDue,
	NativeAppleBillingRetry: types.EntitlementStatusPastDue,
	NativeAppleExpired:      types.EntitlementStatusExpired,
	NativeAppleRevoked:      types.EntitlementStatusCancelled,
	NativeAppleCancelled:    types.EntitlementStatusCancelled,
}

var googleStatusTable = map[string]types.EntitlementStatus{
	NativeGoogleFreeTrial:       types.EntitlementStatusTrial,
	NativeGooglePaymentReceived: types.EntitlementStatusActive,
	NativeGooglePaymentPending:  types.EntitlementStatusPastDue,
	NativeGooglePaymentDeferred: types.EntitlementStatusActive,
	NativeGoogleCancelled:       types.EntitlementStatusCancelled,
	NativeGoogleExpired:         types.EntitlementStatusExpired,
}

// ProjectStatus maps an authority's native status into the canonical enum.
// Unknown or empty native statuses fall back to a kind-derived status so an
// authority adding vocabulary never stalls reconciliation.
func ProjectStatus(authority types.PaymentAuthority, native string, kind types.EventKind) types.EntitlementStatus {
	var table map[string]types.EntitlementStatus
	switch authority {
	case types.PaymentAuthorityStripe:
		table = stripeStatusTable
	case types.PaymentAuthorityApple:
		table = appleStatusTable
	case types.PaymentAuthorityGoogle:
		table = googleStatusTable
	case types.PaymentAuthorityPromotion:
		return types.EntitlementStatusTrial
	}
	if table != nil {
		if st, ok := table[native]; ok {
			return st
		}
	}
	return kindStatus(kind)
}

func kindStatus(kind types.EventKind) types.EntitlementStatus {
	switch kind {
	case types.EventKindSubscriptionActivated, types.EventKindSubscriptionRenewed, types.EventKindOneTimePurchaseCompleted:
		return types.EntitlementStatusActive
	case types.EventKindSubscriptionCancelled:
		return types.EntitlementStatusCancelled
	case types.EventKindSubscriptionExpired:
		return types.EntitlementStatusExpired
	case types.EventKindPaymentFailed:
		return types.EntitlementStatusPastDue
	default:
		return types.EntitlementStatusFree
	}
}
