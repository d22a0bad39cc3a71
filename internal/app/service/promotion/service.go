package promotion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/studykit/entitlements/internal/app/service/reconciler"
	"github.com/studykit/entitlements/internal/models"
	"github.com/studykit/entitlements/pkg/logctx"
	"github.com/studykit/entitlements/pkg/metrics"
	"github.com/studykit/entitlements/pkg/tool"
	"github.com/studykit/entitlements/pkg/types"
)

// Rejection reasons, one per validation step, in check order.
var (
	ErrCodeNotFound          = errors.New("promotion code not found")
	ErrCodeInactive          = errors.New("promotion code inactive")
	ErrPlatformNotApplicable = errors.New("promotion code not applicable to platform")
	ErrOutsideValidityWindow = errors.New("promotion code outside validity window")
	ErrUsageLimitReached     = errors.New("promotion code usage limit reached")
	ErrUserAlreadyRedeemed   = errors.New("user already redeemed a promotion code")
	ErrCodeAlreadyRedeemed   = errors.New("promotion code already redeemed by user")
)

// Rejected reports whether err is a validation rejection rather than an
// internal failure.
func Rejected(err error) bool {
	for _, sentinel := range []error{
		ErrCodeNotFound, ErrCodeInactive, ErrPlatformNotApplicable,
		ErrOutsideValidityWindow, ErrUsageLimitReached,
		ErrUserAlreadyRedeemed, ErrCodeAlreadyRedeemed,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}

type GrantKind string

const (
	GrantKindTrial    GrantKind = "trial"
	GrantKindDiscount GrantKind = "discount"
)

type RedeemResult struct {
	Granted         GrantKind           `json:"granted"`
	TrialDays       int                 `json:"trial_days,omitempty"`
	DiscountPercent int                 `json:"discount_percent,omitempty"`
	Entitlement     *models.Entitlement `json:"entitlement,omitempty"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.SugaredLogger
	reconciler *reconciler.Service
}

func New(db *gorm.DB, log *zap.SugaredLogger, rec *reconciler.Service) *Service {
	return &Service{db: db, log: log, reconciler: rec}
}

// Redeem validates and applies a promotion code for a user. The whole
// redemption is one transaction: the conditional usage-counter increment,
// the redemption row, and the trial-overlay entitlement commit either all
// land or none do. The counter increment is the serialization point for the
// usage ceiling; the unique (code, user) index serializes double redemption.
func (s *Service) Redeem(ctx context.Context, code, userID, platform string) (*RedeemResult, error) {
	var result *RedeemResult
	now := time.Now()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var pc models.PromotionCode
		if err := tx.Where("code = ?", code).First(&pc).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrCodeNotFound
			}
			return fmt.Errorf("failed to load promotion code: %w", err)
		}
		if !pc.Active {
			return ErrCodeInactive
		}
		if !pc.AppliesToPlatform(platform) {
			return ErrPlatformNotApplicable
		}
		if !pc.WithinValidityWindow(now) {
			return ErrOutsideValidityWindow
		}
		if pc.MaxUses > 0 && pc.UsedCount >= pc.MaxUses {
			return ErrUsageLimitReached
		}

		var prior int64
		if err := tx.Model(&models.PromotionRedemption{}).Where("user_id = ?", userID).Count(&prior).Error; err != nil {
			return fmt.Errorf("failed to check prior redemptions: %w", err)
		}
		if prior > 0 {
			var pair int64
			if err := tx.Model(&models.PromotionRedemption{}).Where("code = ? AND user_id = ?", code, userID).Count(&pair).Error; err != nil {
				return fmt.Errorf("failed to check redemption pair: %w", err)
			}
			if pair > 0 {
				return ErrCodeAlreadyRedeemed
			}
			return ErrUserAlreadyRedeemed
		}

		// Conditional increment: re-checks the ceiling under write lock so
		// two redemptions racing for the last slot cannot both pass.
		counter := tx.Model(&models.PromotionCode{}).Where("code = ?", code)
		if pc.MaxUses > 0 {
			counter = counter.Where("used_count < max_uses")
		}
		res := counter.Update("used_count", gorm.Expr("used_count + 1"))
		if res.Error != nil {
			return fmt.Errorf("failed to increment usage count: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrUsageLimitReached
		}

		redemption := &models.PromotionRedemption{
			ID:         tool.GenerateUUIDV7(),
			Code:       code,
			UserID:     userID,
			Platform:   platform,
			RedeemedAt: now,
		}
		if err := tx.Create(redemption).Error; err != nil {
			// A racing request for the same (code, user) can pass the count
			// checks and lose here on the unique index.
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrCodeAlreadyRedeemed
			}
			return fmt.Errorf("failed to create redemption: %w", err)
		}

		result = &RedeemResult{
			TrialDays:       pc.TrialDays,
			DiscountPercent: pc.DiscountPercent,
		}
		if pc.TrialDays <= 0 {
			result.Granted = GrantKindDiscount
			return nil
		}
		result.Granted = GrantKindTrial

		ev := &types.RawPaymentEvent{
			Authority:     types.PaymentAuthorityPromotion,
			EventID:       tool.GenerateEventID("promo"),
			UserID:        userID,
			Kind:          types.EventKindSubscriptionActivated,
			OccurredAt:    now,
			PeriodEnd:     lo.ToPtr(now.AddDate(0, 0, pc.TrialDays)),
			NativeStatus:  reconciler.NativePromotionTrial,
			TrialDays:     pc.TrialDays,
			PromotionCode: code,
		}
		pr, err := s.reconciler.ProcessTx(ctx, tx, ev)
		if err != nil {
			return fmt.Errorf("failed to apply trial overlay: %w", err)
		}
		result.Entitlement = pr.Entitlement
		return nil
	})

	if err != nil {
		outcome := "failed"
		if Rejected(err) {
			outcome = "rejected"
		}
		metrics.RedemptionsProcessed.WithLabelValues(outcome).Inc()
		if !Rejected(err) {
			logctx.FromCtx(ctx, s.log).Errorw("promotion redemption failed",
				"code", code, "user_id", userID, "error", err)
		}
		return nil, err
	}

	metrics.RedemptionsProcessed.WithLabelValues("granted_" + string(result.Granted)).Inc()
	logctx.FromCtx(ctx, s.log).Infow("promotion code redeemed",
		"code", code, "user_id", userID, "granted", result.Granted)
	return result, nil
}
