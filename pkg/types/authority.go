package types

// PaymentAuthority identifies an external system that is a source of truth
// for one kind of payment.
type PaymentAuthority string

const (
	PaymentAuthorityStripe    PaymentAuthority = "stripe"
	PaymentAuthorityApple     PaymentAuthority = "apple"
	PaymentAuthorityGoogle    PaymentAuthority = "google"
	PaymentAuthorityPromotion PaymentAuthority = "promotion"
)

// Weight orders authorities for tie-breaking when two of them report the
// same status rank. Web billing outranks the mobile stores: a stale store
// event must never revoke a user who just paid on the web.
func (a PaymentAuthority) Weight() int {
	switch a {
	case PaymentAuthorityStripe:
		return 3
	case PaymentAuthorityApple, PaymentAuthorityGoogle:
		return 2
	case PaymentAuthorityPromotion:
		return 1
	default:
		return 0
	}
}

func (a PaymentAuthority) Valid() bool {
	switch a {
	case PaymentAuthorityStripe, PaymentAuthorityApple, PaymentAuthorityGoogle, PaymentAuthorityPromotion:
		return true
	}
	return false
}
