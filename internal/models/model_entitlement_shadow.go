package models

import (
	"time"

	"gorm.io/datatypes"

	"github.com/studykit/entitlements/pkg/types"
)

// EntitlementShadow is the last state one authority reported for one user,
// kept independent of which authority currently governs. Created on the
// first event from that authority, updated on every later one, never
// deleted.
type EntitlementShadow struct {
	ID        string                 `gorm:"column:id;type:uuid;primary_key" json:"id"`
	UserID    string                 `gorm:"column:user_id;type:varchar(64);not null;uniqueIndex:unique_user_authority,priority:1" json:"user_id"`
	Authority types.PaymentAuthority `gorm:"column:authority;type:varchar(32);not null;uniqueIndex:unique_user_authority,priority:2" json:"authority"`
	// NativeStatus is the authority's own vocabulary, verbatim.
	NativeStatus string `gorm:"column:native_status;type:varchar(64)" json:"native_status"`
	// Status is the fixed per-authority projection into the canonical enum.
	Status            types.EntitlementStatus `gorm:"column:status;type:varchar(32);not null" json:"status"`
	PlanID            string                  `gorm:"column:plan_id;type:varchar(64)" json:"plan_id"`
	PeriodStart       *time.Time              `gorm:"column:period_start" json:"period_start"`
	PeriodEnd         *time.Time              `gorm:"column:period_end" json:"period_end"`
	CancelAtPeriodEnd bool                    `gorm:"column:cancel_at_period_end;not null;default:false" json:"cancel_at_period_end"`
	LastEventID       string                  `gorm:"column:last_event_id;type:varchar(128)" json:"last_event_id"`
	LastEventAt       time.Time               `gorm:"column:last_event_at" json:"last_event_at"`
	// Raw retains the authority payload for audit; never parsed downstream.
	Raw       datatypes.JSON `gorm:"column:raw;type:jsonb" json:"raw"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

func (EntitlementShadow) TableName() string { return "entitlement_shadow" }

// EffectivePeriodEnd is the period end used for governing-authority
// tie-breaks; zero time when the authority never reported one.
func (s *EntitlementShadow) EffectivePeriodEnd() time.Time {
	if s == nil || s.PeriodEnd == nil {
		return time.Time{}
	}
	return *s.PeriodEnd
}
