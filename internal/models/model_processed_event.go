package models

import (
	"time"

	"github.com/studykit/entitlements/pkg/types"
)

// ProcessedEvent is an idempotency marker: one row per externally-sourced
// event whose mutation has been durably committed. The unique index on
// (authority, event_id) is the claim's serialization point. Markers are a
// dedup hint only, not the system of record; the sweep may delete them after
// ExpiresAt without affecting settled entitlement state.
type ProcessedEvent struct {
	ID          string                 `gorm:"column:id;type:uuid;primary_key" json:"id"`
	Authority   types.PaymentAuthority `gorm:"column:authority;type:varchar(32);not null;uniqueIndex:unique_authority_event,priority:1" json:"authority"`
	EventID     string                 `gorm:"column:event_id;type:varchar(128);not null;uniqueIndex:unique_authority_event,priority:2" json:"event_id"`
	ProcessedAt time.Time              `gorm:"column:processed_at;not null" json:"processed_at"`
	ExpiresAt   time.Time              `gorm:"column:expires_at;not null;index" json:"expires_at"`
}

func (ProcessedEvent) TableName() string { return "processed_event" }
