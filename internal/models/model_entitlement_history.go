package models

import (
	"time"

	"gorm.io/datatypes"

	"github.com/studykit/entitlements/pkg/types"
)

// EntitlementHistory records every committed entitlement transition.
// Use case: troubleshooting and audit. Append-only.
type EntitlementHistory struct {
	ID        string                 `gorm:"column:id;type:uuid;primary_key" json:"id"`
	UserID    string                 `gorm:"column:user_id;type:varchar(64);index:idx_user_id_id,priority:1;not null" json:"user_id"`
	Authority types.PaymentAuthority `gorm:"column:authority;type:varchar(32);not null" json:"authority"`
	EventID   string                 `gorm:"column:event_id;type:varchar(128);not null" json:"event_id"`
	Kind      types.EventKind        `gorm:"column:kind;type:varchar(64);not null" json:"kind"`
	// Before/After snapshot the canonical record around the transition.
	Before    datatypes.JSONType[*Entitlement] `gorm:"column:before;type:jsonb" json:"before"`
	After     datatypes.JSONType[*Entitlement] `gorm:"column:after;type:jsonb" json:"after"`
	CreatedAt time.Time                        `json:"created_at"`
}

func (EntitlementHistory) TableName() string { return "entitlement_history" }
