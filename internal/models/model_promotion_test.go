package models

import (
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"gorm.io/datatypes"
)

func TestPromotionCodeAppliesToPlatform(t *testing.T) {
	open := &PromotionCode{Code: "ALL"}
	assert.True(t, open.AppliesToPlatform("web"))
	assert.True(t, open.AppliesToPlatform("ios"))

	mobile := &PromotionCode{Code: "MOBILE", Platforms: datatypes.NewJSONSlice([]string{"ios", "android"})}
	assert.True(t, mobile.AppliesToPlatform("ios"))
	assert.True(t, mobile.AppliesToPlatform("android"))
	assert.False(t, mobile.AppliesToPlatform("web"))

	var nilCode *PromotionCode
	assert.False(t, nilCode.AppliesToPlatform("web"))
}

func TestPromotionCodeValidityWindow(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	open := &PromotionCode{Code: "OPEN"}
	assert.True(t, open.WithinValidityWindow(now))

	current := &PromotionCode{
		Code:       "CURRENT",
		ValidFrom:  lo.ToPtr(now.AddDate(0, 0, -1)),
		ValidUntil: lo.ToPtr(now.AddDate(0, 0, 1)),
	}
	assert.True(t, current.WithinValidityWindow(now))

	future := &PromotionCode{Code: "FUTURE", ValidFrom: lo.ToPtr(now.AddDate(0, 0, 1))}
	assert.False(t, future.WithinValidityWindow(now))

	past := &PromotionCode{Code: "PAST", ValidUntil: lo.ToPtr(now.AddDate(0, 0, -1))}
	assert.False(t, past.WithinValidityWindow(now))
}

func TestEntitlementEntitled(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	var none *Entitlement
	assert.False(t, none.Entitled(now))

	free := &Entitlement{Status: "free"}
	assert.False(t, free.Entitled(now))

	active := &Entitlement{Status: "active"}
	assert.True(t, active.Entitled(now))

	pastDue := &Entitlement{Status: "past_due"}
	assert.True(t, pastDue.Entitled(now))

	// expired paid status but a live trial overlay still grants access
	overlay := &Entitlement{Status: "expired", TrialEndsAt: lo.ToPtr(now.AddDate(0, 0, 3))}
	assert.True(t, overlay.Entitled(now))

	lapsed := &Entitlement{Status: "expired", TrialEndsAt: lo.ToPtr(now.AddDate(0, 0, -3))}
	assert.False(t, lapsed.Entitled(now))

	// a promotion-governed trial keeps status Trial after the overlay ends;
	// entitlement must lapse with the timestamp, not the status
	trialLapsed := &Entitlement{
		Status:             "trial",
		GoverningAuthority: "promotion",
		TrialEndsAt:        lo.ToPtr(now.AddDate(0, 0, -10)),
	}
	assert.False(t, trialLapsed.Entitled(now))

	trialLive := &Entitlement{Status: "trial", TrialEndsAt: lo.ToPtr(now.AddDate(0, 0, 10))}
	assert.True(t, trialLive.Entitled(now))

	// a store-reported trial carries no overlay timestamp; status governs
	storeTrial := &Entitlement{Status: "trial", GoverningAuthority: "apple"}
	assert.True(t, storeTrial.Entitled(now))
}
