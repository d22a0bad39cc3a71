package types

type PlanKind string

const (
	PlanKindSubscription PlanKind = "subscription"
	PlanKindOneTime      PlanKind = "one_time"
)

// Plan maps an authority-native product identifier (Stripe price ID, Apple
// product ID, Google product/SKU) onto one product-facing plan.
type Plan struct {
	ID              string           `json:"id" mapstructure:"id"`
	Authority       PaymentAuthority `json:"authority" mapstructure:"authority"`
	AuthorityItemID string           `json:"authority_item_id" mapstructure:"authority_item_id"`
	Kind            PlanKind         `json:"kind" mapstructure:"kind"`
}

func (p *Plan) IsSubscription() bool {
	return p.Kind == PlanKindSubscription
}
