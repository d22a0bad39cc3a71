package adapter

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/studykit/entitlements/internal/app/service/reconciler"
	"github.com/studykit/entitlements/internal/platform/apple/apple_iap"
	"github.com/studykit/entitlements/internal/platform/apple/apple_notification"
	"github.com/studykit/entitlements/pkg/config"
	"github.com/studykit/entitlements/pkg/types"
)

// AppleNotificationAdapter ingests App Store Server Notifications V2: signed
// JWS payloads pushed by the store, verified against Apple's certificate
// chain.
type AppleNotificationAdapter struct {
	cfg *config.Config
	log *zap.SugaredLogger
}

func NewAppleNotificationAdapter(cfg *config.Config, log *zap.SugaredLogger) *AppleNotificationAdapter {
	return &AppleNotificationAdapter{cfg: cfg, log: log}
}

// Ingest verifies and maps one notification. TEST notifications and types
// this service does not consume return (nil, nil).
func (a *AppleNotificationAdapter) Ingest(body []byte) (*types.RawPaymentEvent, error) {
	var req apple_notification.AppStoreServerRequest
	if err := json.Unmarshal(body, &req); err != nil || req.SignedPayload == "" {
		return nil, fmt.Errorf("%w: not a signed notification envelope", ErrMalformedPayload)
	}

	notif, err := apple_notification.New(req.SignedPayload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if notif.IsTestNotification {
		return nil, nil
	}
	payload := notif.Payload
	tx := notif.TransactionInfo
	if payload == nil || tx == nil {
		return nil, fmt.Errorf("%w: notification without transaction info", ErrMalformedPayload)
	}
	if a.cfg.AppleIAP.BundleID != "" && payload.Data.BundleID != a.cfg.AppleIAP.BundleID {
		return nil, fmt.Errorf("%w: notification for foreign bundle %s", ErrMalformedPayload, payload.Data.BundleID)
	}

	userID, err := apple_iap.UUIDToUserID(tx.AppAccountToken)
	if err != nil || userID == "" {
		return nil, fmt.Errorf("%w: unusable appAccountToken %q", ErrUnresolvableUser, tx.AppAccountToken)
	}

	ev := &types.RawPaymentEvent{
		Authority:  types.PaymentAuthorityApple,
		EventID:    payload.NotificationUUID,
		UserID:     userID,
		OccurredAt: time.UnixMilli(payload.SignedDate),
		RawPayload: datatypes.JSON(body),
	}
	if tx.PurchaseDate > 0 {
		ev.PeriodStart = lo.ToPtr(time.UnixMilli(tx.PurchaseDate))
	}
	if tx.ExpiresDate > 0 {
		ev.PeriodEnd = lo.ToPtr(time.UnixMilli(tx.ExpiresDate))
	}
	if plan, planErr := a.cfg.GetPlanByAuthorityItemID(types.PaymentAuthorityApple, tx.ProductID); planErr == nil {
		ev.PlanID = plan.ID
	} else {
		a.log.Warnw("unknown apple product", "product_id", tx.ProductID, "notification_uuid", payload.NotificationUUID)
	}

	switch payload.NotificationType {
	case apple_notification.NotificationTypeSubscribed:
		ev.Kind = types.EventKindSubscriptionActivated
		ev.NativeStatus = reconciler.NativeAppleActive
	case apple_notification.NotificationTypeDidRenew:
		ev.Kind = types.EventKindSubscriptionRenewed
		ev.NativeStatus = reconciler.NativeAppleActive
	case apple_notification.NotificationTypeDidChangeRenewalStatus:
		if payload.Subtype == apple_notification.SubtypeAutoRenewDisabled {
			ev.Kind = types.EventKindSubscriptionCancelled
			ev.NativeStatus = reconciler.NativeAppleActive
			ev.CancelAtPeriodEnd = true
		} else {
			ev.Kind = types.EventKindSubscriptionRenewed
			ev.NativeStatus = reconciler.NativeAppleActive
		}
	case apple_notification.NotificationTypeDidFailToRenew:
		ev.Kind = types.EventKindPaymentFailed
		if payload.Subtype == apple_notification.SubtypeGracePeriod {
			ev.NativeStatus = reconciler.NativeAppleGracePeriod
		} else {
			ev.NativeStatus = reconciler.NativeAppleBillingRetry
		}
	case apple_notification.NotificationTypeExpired, apple_notification.NotificationTypeGracePeriodExpired:
		ev.Kind = types.EventKindSubscriptionExpired
		ev.NativeStatus = reconciler.NativeAppleExpired
	case apple_notification.NotificationTypeRefund:
		ev.Kind = types.EventKindSubscriptionCancelled
		ev.NativeStatus = reconciler.NativeAppleRevoked
	default:
		a.log.Infow("ignoring apple notification type",
			"notification_type", payload.NotificationType, "subtype", payload.Subtype)
		return nil, nil
	}
	return ev, nil
}
