package handlers

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/studykit/entitlements/internal/app/api/middleware"
	"github.com/studykit/entitlements/internal/app/service/adapter"
	"github.com/studykit/entitlements/internal/app/service/eventlog"
	"github.com/studykit/entitlements/internal/app/service/reconciler"
	"github.com/studykit/entitlements/pkg/logctx"
	"github.com/studykit/entitlements/pkg/response"
	"github.com/studykit/entitlements/pkg/types"
)

// rejected reports whether err is the caller's fault rather than an internal
// failure.
func rejected(err error) bool {
	return errors.Is(err, adapter.ErrInvalidSignature) ||
		errors.Is(err, adapter.ErrMalformedPayload) ||
		errors.Is(err, adapter.ErrUnresolvableUser) ||
		errors.Is(err, reconciler.ErrInvalidEvent)
}

// ApiStripeWebhook handles signed billing webhooks. It answers with raw
// status codes: the provider redelivers on non-2xx, so 400 means "do not
// retry, the delivery is bad" and 500 means "retry, we failed".
func ApiStripeWebhook(a *adapter.StripeAdapter, rec *reconciler.Service, evlog *eventlog.Service, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.Status(http.StatusBadRequest)
			return
		}
		entry := evlog.Record(ctx, types.PaymentAuthorityStripe, "", body)

		ev, err := a.Ingest(body, c.GetHeader("Stripe-Signature"))
		if err != nil {
			evlog.Finish(ctx, entry, "", nil, err)
			if rejected(err) {
				logctx.FromGin(c, log).Warnw("stripe webhook rejected", "error", err)
				c.Status(http.StatusBadRequest)
				return
			}
			logctx.FromGin(c, log).Errorw("stripe webhook failed", "error", err)
			c.Status(http.StatusInternalServerError)
			return
		}
		if ev == nil {
			// Event type not consumed here; acknowledge so the provider
			// stops redelivering.
			evlog.Finish(ctx, entry, "", gin.H{"ignored": true}, nil)
			c.Status(http.StatusOK)
			return
		}
		entry.EventID = ev.EventID

		res, err := rec.Process(ctx, ev)
		if err != nil {
			evlog.Finish(ctx, entry, ev.UserID, nil, err)
			if rejected(err) {
				c.Status(http.StatusBadRequest)
				return
			}
			c.Status(http.StatusInternalServerError)
			return
		}
		evlog.Finish(ctx, entry, ev.UserID, gin.H{"outcome": res.Outcome}, nil)
		c.Status(http.StatusOK)
	}
}

// ApiAppleWebhook handles App Store Server Notifications V2.
func ApiAppleWebhook(a *adapter.AppleNotificationAdapter, rec *reconciler.Service, evlog *eventlog.Service, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.Status(http.StatusBadRequest)
			return
		}
		entry := evlog.Record(ctx, types.PaymentAuthorityApple, "", body)

		ev, err := a.Ingest(body)
		if err != nil {
			evlog.Finish(ctx, entry, "", nil, err)
			if rejected(err) {
				logctx.FromGin(c, log).Warnw("apple webhook rejected", "error", err)
				c.Status(http.StatusBadRequest)
				return
			}
			logctx.FromGin(c, log).Errorw("apple webhook failed", "error", err)
			c.Status(http.StatusInternalServerError)
			return
		}
		if ev == nil {
			evlog.Finish(ctx, entry, "", gin.H{"ignored": true}, nil)
			c.Status(http.StatusOK)
			return
		}
		entry.EventID = ev.EventID

		res, err := rec.Process(ctx, ev)
		if err != nil {
			evlog.Finish(ctx, entry, ev.UserID, nil, err)
			c.Status(http.StatusInternalServerError)
			return
		}
		evlog.Finish(ctx, entry, ev.UserID, gin.H{"outcome": res.Outcome}, nil)
		c.Status(http.StatusOK)
	}
}

type verifyReceiptRequest struct {
	ReceiptData string `json:"receipt_data" binding:"required"`
}

// ApiVerifyReceipt verifies an opaque App Store receipt for the caller and
// reconciles every transaction it contains.
func ApiVerifyReceipt(a *adapter.AppleReceiptAdapter, rec *reconciler.Service, evlog *eventlog.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		userID := middleware.UserID(c)
		if userID == "" {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, "missing user"))
			return
		}
		var req verifyReceiptRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}

		entry := evlog.Record(ctx, types.PaymentAuthorityApple, "", nil)
		events, err := a.Ingest(ctx, userID, req.ReceiptData)
		if err != nil {
			evlog.Finish(ctx, entry, userID, nil, err)
			c.JSON(http.StatusOK, verifyErrorResponse(err))
			return
		}

		var last *reconciler.ProcessResult
		for _, ev := range events {
			res, err := rec.Process(ctx, ev)
			if err != nil {
				evlog.Finish(ctx, entry, userID, nil, err)
				c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
				return
			}
			last = res
		}
		evlog.Finish(ctx, entry, userID, gin.H{"transactions": len(events)}, nil)

		var view *entitlementView
		if last != nil {
			view = newEntitlementView(userID, last.Entitlement, time.Now())
		} else {
			view = newEntitlementView(userID, nil, time.Now())
		}
		c.JSON(http.StatusOK, response.OKT(view))
	}
}

type verifyPurchaseRequest struct {
	ProductID     string `json:"product_id" binding:"required"`
	PurchaseToken string `json:"purchase_token" binding:"required"`
}

// ApiVerifyPurchase verifies a Play purchase token for the caller.
func ApiVerifyPurchase(a *adapter.GoogleAdapter, rec *reconciler.Service, evlog *eventlog.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		userID := middleware.UserID(c)
		if userID == "" {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, "missing user"))
			return
		}
		var req verifyPurchaseRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}

		entry := evlog.Record(ctx, types.PaymentAuthorityGoogle, "", nil)
		ev, err := a.Ingest(ctx, userID, req.ProductID, req.PurchaseToken)
		if err != nil {
			evlog.Finish(ctx, entry, userID, nil, err)
			c.JSON(http.StatusOK, verifyErrorResponse(err))
			return
		}
		entry.EventID = ev.EventID

		res, err := rec.Process(ctx, ev)
		if err != nil {
			evlog.Finish(ctx, entry, userID, nil, err)
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		evlog.Finish(ctx, entry, userID, gin.H{"outcome": res.Outcome}, nil)
		c.JSON(http.StatusOK, response.OKT(newEntitlementView(userID, res.Entitlement, time.Now())))
	}
}

func verifyErrorResponse(err error) *response.APIResponse[any] {
	switch {
	case errors.Is(err, adapter.ErrAuthorityUnavailable):
		return response.ErrorT[any](response.APIResponseCodeUnavailable, err.Error())
	case rejected(err):
		return response.ErrorT[any](response.APIResponseCodeRejected, err.Error())
	default:
		return response.ErrorT[any](response.APIResponseCodeError, err.Error())
	}
}

func RegisterPaymentRoutes(r gin.IRouter, stripeAdapter *adapter.StripeAdapter, appleNotif *adapter.AppleNotificationAdapter, appleReceipt *adapter.AppleReceiptAdapter, google *adapter.GoogleAdapter, rec *reconciler.Service, evlog *eventlog.Service, log *zap.SugaredLogger) {
	r.POST("/webhook/stripe", ApiStripeWebhook(stripeAdapter, rec, evlog, log))
	r.POST("/webhook/apple", ApiAppleWebhook(appleNotif, rec, evlog, log))
	r.POST("/verify_receipt", ApiVerifyReceipt(appleReceipt, rec, evlog))
	r.POST("/verify_purchase", ApiVerifyPurchase(google, rec, evlog))
}
