package reconciler

import (
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studykit/entitlements/internal/models"
	"github.com/studykit/entitlements/pkg/types"
)

func shadow(authority types.PaymentAuthority, status types.EntitlementStatus, periodEnd *time.Time) *models.EntitlementShadow {
	return &models.EntitlementShadow{
		UserID:    "u1",
		Authority: authority,
		Status:    status,
		PeriodEnd: periodEnd,
	}
}

func TestSelectGoverning(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	later := lo.ToPtr(now.AddDate(0, 1, 0))
	earlier := lo.ToPtr(now.AddDate(0, 0, 7))

	tests := []struct {
		name    string
		shadows []*models.EntitlementShadow
		want    types.PaymentAuthority
	}{
		{
			name: "higher rank wins over later period end",
			shadows: []*models.EntitlementShadow{
				shadow(types.PaymentAuthorityStripe, types.EntitlementStatusPastDue, later),
				shadow(types.PaymentAuthorityApple, types.EntitlementStatusActive, earlier),
			},
			want: types.PaymentAuthorityApple,
		},
		{
			name: "equal rank later period end wins",
			shadows: []*models.EntitlementShadow{
				shadow(types.PaymentAuthorityStripe, types.EntitlementStatusActive, earlier),
				shadow(types.PaymentAuthorityGoogle, types.EntitlementStatusActive, later),
			},
			want: types.PaymentAuthorityGoogle,
		},
		{
			name: "equal rank equal period end web billing wins",
			shadows: []*models.EntitlementShadow{
				shadow(types.PaymentAuthorityApple, types.EntitlementStatusActive, later),
				shadow(types.PaymentAuthorityStripe, types.EntitlementStatusActive, later),
			},
			want: types.PaymentAuthorityStripe,
		},
		{
			name: "trial ranks with active",
			shadows: []*models.EntitlementShadow{
				shadow(types.PaymentAuthorityStripe, types.EntitlementStatusTrial, later),
				shadow(types.PaymentAuthorityApple, types.EntitlementStatusCancelled, later),
			},
			want: types.PaymentAuthorityStripe,
		},
		{
			name: "promotion shadow never governs",
			shadows: []*models.EntitlementShadow{
				shadow(types.PaymentAuthorityPromotion, types.EntitlementStatusTrial, later),
				shadow(types.PaymentAuthorityGoogle, types.EntitlementStatusCancelled, earlier),
			},
			want: types.PaymentAuthorityGoogle,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := selectGoverning(tt.shadows)
			require.NotNil(t, got)
			assert.Equal(t, tt.want, got.Authority)
		})
	}
}

func TestSelectGoverningOnlyPromotion(t *testing.T) {
	got := selectGoverning([]*models.EntitlementShadow{
		shadow(types.PaymentAuthorityPromotion, types.EntitlementStatusTrial, nil),
	})
	assert.Nil(t, got)
}

func TestReconcileActivation(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	periodEnd := lo.ToPtr(now.AddDate(0, 1, 0))
	current := &models.Entitlement{UserID: "u1", Status: types.EntitlementStatusFree}
	ev := &types.RawPaymentEvent{
		Authority:    types.PaymentAuthorityStripe,
		EventID:      "evt_1",
		UserID:       "u1",
		Kind:         types.EventKindSubscriptionActivated,
		PlanID:       "premium_monthly",
		OccurredAt:   now,
		NativeStatus: NativeStripeActive,
		PeriodEnd:    periodEnd,
	}
	sh := applyEventToShadow(nil, ev)

	next := reconcile(current, []*models.EntitlementShadow{sh}, ev, now)

	assert.Equal(t, types.EntitlementStatusActive, next.Status)
	assert.Equal(t, types.PaymentAuthorityStripe, next.GoverningAuthority)
	assert.Equal(t, "premium_monthly", next.PlanID)
	assert.Equal(t, periodEnd, next.CurrentPeriodEnd)
	assert.Equal(t, "evt_1", next.UpdatedByEventID)
	// input untouched
	assert.Equal(t, types.EntitlementStatusFree, current.Status)
}

func TestReconcileStaleStoreEventDoesNotRevoke(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	current := &models.Entitlement{
		UserID:             "u1",
		Status:             types.EntitlementStatusActive,
		GoverningAuthority: types.PaymentAuthorityStripe,
	}
	stripeShadow := shadow(types.PaymentAuthorityStripe, types.EntitlementStatusActive, lo.ToPtr(now.AddDate(0, 1, 0)))

	ev := &types.RawPaymentEvent{
		Authority:    types.PaymentAuthorityApple,
		EventID:      "apple_stale",
		UserID:       "u1",
		Kind:         types.EventKindSubscriptionExpired,
		OccurredAt:   now.AddDate(0, -2, 0),
		NativeStatus: NativeAppleExpired,
	}
	appleShadow := applyEventToShadow(nil, ev)

	next := reconcile(current, []*models.EntitlementShadow{stripeShadow, appleShadow}, ev, now)

	assert.Equal(t, types.EntitlementStatusActive, next.Status)
	assert.Equal(t, types.PaymentAuthorityStripe, next.GoverningAuthority)
	// the store's shadow still records its own truth
	assert.Equal(t, types.EntitlementStatusExpired, appleShadow.Status)
}

func TestReconcilePromotionGrantsTrial(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	current := &models.Entitlement{UserID: "u1", Status: types.EntitlementStatusFree}
	ev := &types.RawPaymentEvent{
		Authority:     types.PaymentAuthorityPromotion,
		EventID:       "promo_1",
		UserID:        "u1",
		Kind:          types.EventKindSubscriptionActivated,
		OccurredAt:    now,
		NativeStatus:  NativePromotionTrial,
		TrialDays:     7,
		PromotionCode: "WELCOME7",
		PeriodEnd:     lo.ToPtr(now.AddDate(0, 0, 7)),
	}
	sh := applyEventToShadow(nil, ev)

	next := reconcile(current, []*models.EntitlementShadow{sh}, ev, now)

	assert.Equal(t, types.EntitlementStatusTrial, next.Status)
	assert.Equal(t, types.PaymentAuthorityPromotion, next.GoverningAuthority)
	require.NotNil(t, next.TrialEndsAt)
	assert.Equal(t, now.AddDate(0, 0, 7), *next.TrialEndsAt)
	require.NotNil(t, next.PromotionCode)
	assert.Equal(t, "WELCOME7", *next.PromotionCode)
}

func TestReconcileTrialNotClobberedByFreeShadow(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	current := &models.Entitlement{
		UserID:             "u1",
		Status:             types.EntitlementStatusTrial,
		GoverningAuthority: types.PaymentAuthorityPromotion,
		TrialEndsAt:        lo.ToPtr(now.AddDate(0, 0, 5)),
	}

	// An authority the user never purchased from reports a dead state.
	ev := &types.RawPaymentEvent{
		Authority:    types.PaymentAuthorityGoogle,
		EventID:      "gp_1",
		UserID:       "u1",
		Kind:         types.EventKindSubscriptionExpired,
		OccurredAt:   now,
		NativeStatus: NativeGoogleExpired,
	}
	googleShadow := applyEventToShadow(nil, ev)
	promoShadow := shadow(types.PaymentAuthorityPromotion, types.EntitlementStatusTrial, lo.ToPtr(now.AddDate(0, 0, 5)))

	next := reconcile(current, []*models.EntitlementShadow{promoShadow, googleShadow}, ev, now)

	assert.Equal(t, types.EntitlementStatusTrial, next.Status)
	assert.Equal(t, types.PaymentAuthorityPromotion, next.GoverningAuthority)
}

func TestReconcilePaidActiveBeatsTrialOverlay(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	current := &models.Entitlement{
		UserID:      "u1",
		Status:      types.EntitlementStatusTrial,
		TrialEndsAt: lo.ToPtr(now.AddDate(0, 0, 5)),
	}
	ev := &types.RawPaymentEvent{
		Authority:    types.PaymentAuthorityStripe,
		EventID:      "evt_2",
		UserID:       "u1",
		Kind:         types.EventKindSubscriptionActivated,
		OccurredAt:   now,
		NativeStatus: NativeStripeActive,
		PeriodEnd:    lo.ToPtr(now.AddDate(0, 1, 0)),
	}
	sh := applyEventToShadow(nil, ev)

	next := reconcile(current, []*models.EntitlementShadow{sh}, ev, now)

	assert.Equal(t, types.EntitlementStatusActive, next.Status)
	assert.Equal(t, types.PaymentAuthorityStripe, next.GoverningAuthority)
}

func TestReconcileNoShadowsFallsBackToFree(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	current := &models.Entitlement{
		UserID:             "u1",
		Status:             types.EntitlementStatusActive,
		GoverningAuthority: types.PaymentAuthorityStripe,
		CurrentPeriodEnd:   lo.ToPtr(now.AddDate(0, 1, 0)),
	}
	ev := &types.RawPaymentEvent{
		Authority:  types.PaymentAuthorityPromotion,
		EventID:    "promo_expired",
		UserID:     "u1",
		Kind:       types.EventKindSubscriptionExpired,
		OccurredAt: now,
	}

	next := reconcile(current, nil, ev, now)

	assert.Equal(t, types.EntitlementStatusFree, next.Status)
	assert.Empty(t, next.GoverningAuthority)
	assert.Nil(t, next.CurrentPeriodEnd)
}

func TestApplyEventToShadow(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	ev := &types.RawPaymentEvent{
		Authority:         types.PaymentAuthorityStripe,
		EventID:           "evt_3",
		UserID:            "u1",
		Kind:              types.EventKindSubscriptionCancelled,
		PlanID:            "premium_monthly",
		OccurredAt:        now,
		NativeStatus:      NativeStripeActive,
		CancelAtPeriodEnd: true,
		PeriodEnd:         lo.ToPtr(now.AddDate(0, 1, 0)),
	}

	sh := applyEventToShadow(nil, ev)
	assert.Equal(t, "u1", sh.UserID)
	assert.Equal(t, types.PaymentAuthorityStripe, sh.Authority)
	// cancel-at-period-end: the native status still says active
	assert.Equal(t, types.EntitlementStatusActive, sh.Status)
	assert.True(t, sh.CancelAtPeriodEnd)
	assert.Equal(t, "evt_3", sh.LastEventID)
	assert.Equal(t, now, sh.LastEventAt)

	// update in place keeps the plan when the next event omits it
	ev2 := &types.RawPaymentEvent{
		Authority:    types.PaymentAuthorityStripe,
		EventID:      "evt_4",
		UserID:       "u1",
		Kind:         types.EventKindSubscriptionExpired,
		OccurredAt:   now.AddDate(0, 1, 0),
		NativeStatus: NativeStripeCanceled,
	}
	sh2 := applyEventToShadow(sh, ev2)
	assert.Same(t, sh, sh2)
	assert.Equal(t, "premium_monthly", sh2.PlanID)
	assert.Equal(t, types.EntitlementStatusCancelled, sh2.Status)
	assert.Equal(t, "evt_4", sh2.LastEventID)
}
