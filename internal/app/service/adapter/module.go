package adapter

import (
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/studykit/entitlements/internal/platform/apple/apple_iap"
	"github.com/studykit/entitlements/internal/platform/google/google_play"
	"github.com/studykit/entitlements/pkg/config"
)

func newReceiptVerifier(cfg *config.Config) (apple_iap.ReceiptVerifier, error) {
	return apple_iap.NewClient(&apple_iap.VerifyOptions{
		SharedSecret: cfg.AppleIAP.SharedSecret,
		BundleID:     cfg.AppleIAP.BundleID,
	}, cfg.AuthorityTimeout())
}

// newPurchaseVerifier returns nil when Play credentials are absent; the
// adapter then rejects verification calls as authority-unavailable instead
// of blocking startup of the other authorities.
func newPurchaseVerifier(cfg *config.Config, log *zap.SugaredLogger) PurchaseVerifier {
	if cfg.GooglePlay.ServiceAccountKey == "" {
		log.Warnw("google play service account key not configured")
		return nil
	}
	client, err := google_play.NewClient(&google_play.Options{
		ServiceAccountKey: cfg.GooglePlay.ServiceAccountKey,
		PackageName:       cfg.GooglePlay.PackageName,
	}, cfg.AuthorityTimeout())
	if err != nil {
		log.Errorw("failed to init google play client", "error", err)
		return nil
	}
	return client
}

var Module = fx.Options(
	fx.Provide(newReceiptVerifier),
	fx.Provide(newPurchaseVerifier),
	fx.Provide(NewStripeAdapter),
	fx.Provide(NewAppleReceiptAdapter),
	fx.Provide(NewAppleNotificationAdapter),
	fx.Provide(NewGoogleAdapter),
)
