package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/studykit/entitlements/internal/app/api/middleware"
	"github.com/studykit/entitlements/internal/app/service/entitlement"
	"github.com/studykit/entitlements/internal/models"
	"github.com/studykit/entitlements/pkg/response"
	"github.com/studykit/entitlements/pkg/types"
)

// entitlementView is the read projection served to clients: always the last
// committed state, never a partial update.
type entitlementView struct {
	UserID             string                  `json:"user_id"`
	Status             types.EntitlementStatus `json:"status"`
	Entitled           bool                    `json:"entitled"`
	PlanID             string                  `json:"plan_id,omitempty"`
	GoverningAuthority types.PaymentAuthority  `json:"governing_authority,omitempty"`
	CurrentPeriodEnd   *time.Time              `json:"current_period_end,omitempty"`
	CancelAtPeriodEnd  bool                    `json:"cancel_at_period_end,omitempty"`
	TrialEndsAt        *time.Time              `json:"trial_ends_at,omitempty"`
	PromotionCode      *string                 `json:"promotion_code,omitempty"`
}

func newEntitlementView(userID string, ent *models.Entitlement, now time.Time) *entitlementView {
	if ent == nil {
		return &entitlementView{UserID: userID, Status: types.EntitlementStatusFree}
	}
	return &entitlementView{
		UserID:             ent.UserID,
		Status:             ent.Status,
		Entitled:           ent.Entitled(now),
		PlanID:             ent.PlanID,
		GoverningAuthority: ent.GoverningAuthority,
		CurrentPeriodEnd:   ent.CurrentPeriodEnd,
		CancelAtPeriodEnd:  ent.CancelAtPeriodEnd,
		TrialEndsAt:        ent.TrialEndsAt,
		PromotionCode:      ent.PromotionCode,
	}
}

// ApiGetEntitlement returns the caller's current entitlement projection.
func ApiGetEntitlement(store *entitlement.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.UserID(c)
		if userID == "" {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, "missing user"))
			return
		}

		ent, err := store.Get(c.Request.Context(), userID)
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(newEntitlementView(userID, ent, time.Now())))
	}
}

func RegisterEntitlementRoutes(r gin.IRouter, store *entitlement.Store) {
	r.GET("/entitlement", ApiGetEntitlement(store))
}
