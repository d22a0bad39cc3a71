package models

import (
	"time"

	"github.com/studykit/entitlements/pkg/types"
)

// Entitlement is the canonical per-user answer to "what is this user allowed
// to access". It is written only by the reconciler, always inside
// CommitTransition, never piecemeal.
type Entitlement struct {
	ID                 string                  `gorm:"column:id;type:uuid;primary_key" json:"id"`
	UserID             string                  `gorm:"column:user_id;type:varchar(64);not null;uniqueIndex" json:"user_id"`
	Status             types.EntitlementStatus `gorm:"column:status;type:varchar(32);not null" json:"status"`
	GoverningAuthority types.PaymentAuthority  `gorm:"column:governing_authority;type:varchar(32)" json:"governing_authority"`
	PlanID             string                  `gorm:"column:plan_id;type:varchar(64)" json:"plan_id"`
	CurrentPeriodEnd   *time.Time              `gorm:"column:current_period_end" json:"current_period_end"`
	CancelAtPeriodEnd  bool                    `gorm:"column:cancel_at_period_end;not null;default:false" json:"cancel_at_period_end"`
	// PromotionCode is the code whose trial overlay applies, if any.
	PromotionCode *string    `gorm:"column:promotion_code;type:varchar(64)" json:"promotion_code"`
	TrialEndsAt   *time.Time `gorm:"column:trial_ends_at" json:"trial_ends_at"`
	// UpdatedByEventID ties the record to the event that last mutated it.
	UpdatedByEventID string    `gorm:"column:updated_by_event_id;type:varchar(128)" json:"updated_by_event_id"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

func (Entitlement) TableName() string { return "entitlement" }

// TrialOverlayActive reports whether a promotion-granted trial still applies
// at now.
func (e *Entitlement) TrialOverlayActive(now time.Time) bool {
	return e != nil && e.TrialEndsAt != nil && e.TrialEndsAt.After(now)
}

// Entitled reports whether the user currently has premium access.
func (e *Entitlement) Entitled(now time.Time) bool {
	if e == nil {
		return false
	}
	if e.TrialOverlayActive(now) {
		return true
	}
	// A trial that carries its own expiry never turns into an authority
	// event when it lapses; the recorded status stays Trial, so the
	// timestamp is authoritative.
	if e.Status == types.EntitlementStatusTrial && e.TrialEndsAt != nil {
		return false
	}
	return e.Status.Entitled()
}
