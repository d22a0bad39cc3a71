package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/studykit/entitlements/internal/app/api/middleware"
	"github.com/studykit/entitlements/internal/app/service/promotion"
	"github.com/studykit/entitlements/pkg/response"
)

type redeemPromotionRequest struct {
	Code     string `json:"code" binding:"required"`
	Platform string `json:"platform" binding:"required"`
}

// ApiRedeemPromotion validates and applies a promotion code for the caller.
// Rejections carry the distinct reason so clients can show why.
func ApiRedeemPromotion(svc *promotion.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.UserID(c)
		if userID == "" {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, "missing user"))
			return
		}
		var req redeemPromotionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}

		res, err := svc.Redeem(c.Request.Context(), req.Code, userID, req.Platform)
		if err != nil {
			if promotion.Rejected(err) {
				c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeRejected, err.Error()))
				return
			}
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(res))
	}
}

func RegisterPromotionRoutes(r gin.IRouter, svc *promotion.Service) {
	r.POST("/redeem", ApiRedeemPromotion(svc))
}
