package models

import (
	"time"

	"gorm.io/datatypes"
)

// PromotionCode carries a global usage ceiling; UsedCount is mutated only by
// the conditional increment inside the redemption transaction.
type PromotionCode struct {
	Code   string `gorm:"column:code;type:varchar(64);primary_key" json:"code"`
	Active bool   `gorm:"column:active;not null;default:true" json:"active"`
	// Platforms lists the client platforms the code applies to (web, ios,
	// android). Empty means all.
	Platforms datatypes.JSONSlice[string] `gorm:"column:platforms;type:jsonb" json:"platforms"`
	// TrialDays > 0 grants a trial overlay; otherwise DiscountPercent applies.
	TrialDays       int        `gorm:"column:trial_days;not null;default:0" json:"trial_days"`
	DiscountPercent int        `gorm:"column:discount_percent;not null;default:0" json:"discount_percent"`
	ValidFrom       *time.Time `gorm:"column:valid_from" json:"valid_from"`
	ValidUntil      *time.Time `gorm:"column:valid_until" json:"valid_until"`
	MaxUses         int64      `gorm:"column:max_uses;not null;default:0" json:"max_uses"`
	UsedCount       int64      `gorm:"column:used_count;not null;default:0" json:"used_count"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func (PromotionCode) TableName() string { return "promotion_code" }

func (c *PromotionCode) AppliesToPlatform(platform string) bool {
	if c == nil {
		return false
	}
	if len(c.Platforms) == 0 {
		return true
	}
	for _, p := range c.Platforms {
		if p == platform {
			return true
		}
	}
	return false
}

// WithinValidityWindow checks ValidFrom/ValidUntil against now; open bounds
// pass.
func (c *PromotionCode) WithinValidityWindow(now time.Time) bool {
	if c == nil {
		return false
	}
	if c.ValidFrom != nil && now.Before(*c.ValidFrom) {
		return false
	}
	if c.ValidUntil != nil && now.After(*c.ValidUntil) {
		return false
	}
	return true
}

// PromotionRedemption is one row per (code, user); the unique index prevents
// double redemption.
type PromotionRedemption struct {
	ID         string    `gorm:"column:id;type:uuid;primary_key" json:"id"`
	Code       string    `gorm:"column:code;type:varchar(64);not null;uniqueIndex:unique_code_user,priority:1" json:"code"`
	UserID     string    `gorm:"column:user_id;type:varchar(64);not null;uniqueIndex:unique_code_user,priority:2;index" json:"user_id"`
	Platform   string    `gorm:"column:platform;type:varchar(32)" json:"platform"`
	RedeemedAt time.Time `gorm:"column:redeemed_at;not null" json:"redeemed_at"`
	CreatedAt  time.Time `json:"created_at"`
}

func (PromotionRedemption) TableName() string { return "promotion_redemption" }
