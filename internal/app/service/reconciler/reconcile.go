package reconciler

import (
	"time"

	"github.com/samber/lo"

	"github.com/studykit/entitlements/internal/models"
	"github.com/studykit/entitlements/pkg/types"
)

// applyEventToShadow folds an event into the authority's shadow record. The
// update is unconditional: the shadow is always the latest truth for that
// authority, even when the event itself turns out to be stale relative to
// other authorities.
func applyEventToShadow(existing *models.EntitlementShadow, ev *types.RawPaymentEvent) *models.EntitlementShadow {
	shadow := existing
	if shadow == nil {
		shadow = &models.EntitlementShadow{
			UserID:    ev.UserID,
			Authority: ev.Authority,
		}
	}
	shadow.NativeStatus = ev.NativeStatus
	shadow.Status = ProjectStatus(ev.Authority, ev.NativeStatus, ev.Kind)
	if ev.PlanID != "" {
		shadow.PlanID = ev.PlanID
	}
	shadow.PeriodStart = ev.PeriodStart
	shadow.PeriodEnd = ev.PeriodEnd
	shadow.CancelAtPeriodEnd = ev.CancelAtPeriodEnd
	shadow.LastEventID = ev.EventID
	shadow.LastEventAt = ev.OccurredAt
	if len(ev.RawPayload) > 0 {
		shadow.Raw = ev.RawPayload
	}
	return shadow
}

// selectGoverning picks the authority whose shadow should drive the canonical
// record: highest status rank first, later period end on equal rank, then
// authority weight (web billing over stores) on remaining ties. Promotion
// shadows never govern; the trial overlay is applied separately.
func selectGoverning(shadows []*models.EntitlementShadow) *models.EntitlementShadow {
	var best *models.EntitlementShadow
	for _, sh := range shadows {
		if sh == nil || sh.Authority == types.PaymentAuthorityPromotion {
			continue
		}
		if best == nil {
			best = sh
			continue
		}
		br, sr := best.Status.Rank(), sh.Status.Rank()
		switch {
		case sr > br:
			best = sh
		case sr == br:
			be, se := best.EffectivePeriodEnd(), sh.EffectivePeriodEnd()
			if se.After(be) {
				best = sh
			} else if se.Equal(be) && sh.Authority.Weight() > best.Authority.Weight() {
				best = sh
			}
		}
	}
	return best
}

// reconcile computes the next canonical entitlement from the current record,
// the full shadow set (with the incoming event's shadow already folded in),
// and the event. Pure: no I/O, no mutation of inputs other than the returned
// copy of current.
func reconcile(current *models.Entitlement, shadows []*models.EntitlementShadow, ev *types.RawPaymentEvent, now time.Time) *models.Entitlement {
	next := *current

	if governing := selectGoverning(shadows); governing != nil {
		next.Status = governing.Status
		next.GoverningAuthority = governing.Authority
		if governing.PlanID != "" {
			next.PlanID = governing.PlanID
		}
		next.CurrentPeriodEnd = governing.PeriodEnd
		next.CancelAtPeriodEnd = governing.CancelAtPeriodEnd
	} else {
		next.Status = types.EntitlementStatusFree
		next.GoverningAuthority = ""
		next.CurrentPeriodEnd = nil
		next.CancelAtPeriodEnd = false
	}

	if ev.Authority == types.PaymentAuthorityPromotion && ev.TrialDays > 0 {
		next.TrialEndsAt = lo.ToPtr(ev.OccurredAt.AddDate(0, 0, ev.TrialDays))
		if ev.PromotionCode != "" {
			next.PromotionCode = lo.ToPtr(ev.PromotionCode)
		}
	}

	// Trial overlay wins while no paid authority reports Active; a Free
	// shadow from an authority the user never touched must not clobber a
	// promotion-granted trial.
	if next.TrialOverlayActive(now) && !anyPaidActive(shadows) {
		next.Status = types.EntitlementStatusTrial
		next.GoverningAuthority = types.PaymentAuthorityPromotion
	}

	next.UpdatedByEventID = ev.EventID
	return &next
}

func anyPaidActive(shadows []*models.EntitlementShadow) bool {
	for _, sh := range shadows {
		if sh == nil || sh.Authority == types.PaymentAuthorityPromotion {
			continue
		}
		if sh.Status == types.EntitlementStatusActive {
			return true
		}
	}
	return false
}
