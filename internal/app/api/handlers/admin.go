package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"

	"github.com/studykit/entitlements/internal/app/service/entitlement"
	"github.com/studykit/entitlements/internal/app/service/eventlog"
	"github.com/studykit/entitlements/internal/app/service/reconciler"
	"github.com/studykit/entitlements/pkg/response"
	"github.com/studykit/entitlements/pkg/tool"
	"github.com/studykit/entitlements/pkg/types"
)

// ApiListPaymentEvents is the operator audit view over raw inbound payloads.
func ApiListPaymentEvents(svc *eventlog.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req eventlog.ScanRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		res, err := svc.Scan(c.Request.Context(), &req)
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(res))
	}
}

// ApiListEntitlementHistory lists committed transitions for troubleshooting.
func ApiListEntitlementHistory(store *entitlement.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req entitlement.ScanHistoryRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		res, err := store.ScanHistory(c.Request.Context(), &req)
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(res))
	}
}

type grantEntitlementRequest struct {
	UserID string `json:"user_id" binding:"required"`
	PlanID string `json:"plan_id"`
	Days   int    `json:"days" binding:"required,gt=0"`
}

// ApiGrantEntitlement lets an operator grant trial access. The grant runs as
// a regular internal promotion-authority event so it lands in the ledger and
// history like everything else.
func ApiGrantEntitlement(rec *reconciler.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req grantEntitlementRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}

		now := time.Now()
		ev := &types.RawPaymentEvent{
			Authority:    types.PaymentAuthorityPromotion,
			EventID:      tool.GenerateEventID("grant"),
			UserID:       req.UserID,
			Kind:         types.EventKindSubscriptionActivated,
			PlanID:       req.PlanID,
			OccurredAt:   now,
			PeriodEnd:    lo.ToPtr(now.AddDate(0, 0, req.Days)),
			NativeStatus: reconciler.NativePromotionTrial,
			TrialDays:    req.Days,
		}
		res, err := rec.Process(c.Request.Context(), ev)
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(newEntitlementView(req.UserID, res.Entitlement, now)))
	}
}

func RegisterAdminRoutes(r gin.IRouter, evlog *eventlog.Service, store *entitlement.Store, rec *reconciler.Service) {
	r.POST("/list_payment_events", ApiListPaymentEvents(evlog))
	r.POST("/list_entitlement_history", ApiListEntitlementHistory(store))
	r.POST("/grant_entitlement", ApiGrantEntitlement(rec))
}
