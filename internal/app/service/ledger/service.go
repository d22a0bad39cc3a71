package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/studykit/entitlements/internal/models"
	"github.com/studykit/entitlements/pkg/config"
	"github.com/studykit/entitlements/pkg/logctx"
	"github.com/studykit/entitlements/pkg/metrics"
	"github.com/studykit/entitlements/pkg/tool"
	"github.com/studykit/entitlements/pkg/types"
)

// Service owns the processed-event ledger: the per-(authority, event_id)
// idempotency markers and their expiry sweep.
type Service struct {
	db        *gorm.DB
	log       *zap.SugaredLogger
	retention time.Duration
}

func New(db *gorm.DB, log *zap.SugaredLogger, cfg *config.Config) *Service {
	days := cfg.Ledger.RetentionDays
	if days <= 0 {
		days = 7
	}
	return &Service{db: db, log: log, retention: time.Duration(days) * 24 * time.Hour}
}

// AlreadyProcessed is the read-only duplicate pre-check. A true result is
// definitive; a false result still needs Claim inside the commit
// transaction, because a marker may appear concurrently or may have been
// swept.
func (s *Service) AlreadyProcessed(ctx context.Context, authority types.PaymentAuthority, eventID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.ProcessedEvent{}).
		Where("authority = ? AND event_id = ?", authority, eventID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check processed event: %w", err)
	}
	return count > 0, nil
}

// Claim inserts the idempotency marker inside the caller's transaction. It
// returns false when another transaction already holds the marker, without
// error, so the caller can treat the event as a settled duplicate. The
// marker commits atomically with the entitlement mutation.
func (s *Service) Claim(tx *gorm.DB, authority types.PaymentAuthority, eventID string, now time.Time) (bool, error) {
	marker := &models.ProcessedEvent{
		ID:          tool.GenerateUUIDV7(),
		Authority:   authority,
		EventID:     eventID,
		ProcessedAt: now,
		ExpiresAt:   now.Add(s.retention),
	}
	res := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "authority"}, {Name: "event_id"}},
		DoNothing: true,
	}).Create(marker)
	if res.Error != nil {
		return false, fmt.Errorf("failed to claim event marker: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// SweepExpired deletes markers whose retention window has passed. Losing a
// marker only re-opens the duplicate check for an event the authorities will
// no longer redeliver; re-processing such an event is a harmless no-op at
// the reconciler level.
func (s *Service) SweepExpired(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("expires_at < ?", time.Now()).
		Delete(&models.ProcessedEvent{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to sweep processed events: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		metrics.LedgerSwept.Add(float64(res.RowsAffected))
		logctx.FromCtx(ctx, s.log).Infow("ledger sweep completed", "deleted", res.RowsAffected)
	}
	return res.RowsAffected, nil
}

func (s *Service) runSweepLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.SweepExpired(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.log.Errorf("ledger sweep failed: %v", err)
			}
		}
	}
}
