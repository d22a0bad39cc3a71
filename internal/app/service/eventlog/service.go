package eventlog

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/studykit/entitlements/internal/models"
	"github.com/studykit/entitlements/pkg/logctx"
	"github.com/studykit/entitlements/pkg/tool"
	"github.com/studykit/entitlements/pkg/types"
)

type Service struct {
	db  *gorm.DB
	log *zap.SugaredLogger
}

func New(db *gorm.DB, log *zap.SugaredLogger) *Service { return &Service{db: db, log: log} }

// Record builds a received-state log entry for an inbound authority payload.
// The returned entry is not yet persisted; call Save or Finish with it.
func (s *Service) Record(ctx context.Context, authority types.PaymentAuthority, eventID string, payload []byte) *models.PaymentEventLog {
	entry := &models.PaymentEventLog{
		ID:         tool.GenerateUUIDV7(),
		Authority:  string(authority),
		EventID:    eventID,
		ReceivedAt: time.Now(),
		Data:       datatypes.JSON(payload),
		Status:     models.PaymentEventLogStatusReceived,
	}
	if tid, ok := ctx.Value("traceID").(string); ok {
		entry.TraceID = tid
	}
	return entry
}

// Finish stamps the processing outcome onto the entry and persists it.
func (s *Service) Finish(ctx context.Context, entry *models.PaymentEventLog, userID string, result any, handleErr error) {
	if entry == nil {
		return
	}
	if userID != "" {
		entry.UserID = &userID
	}
	if handleErr != nil {
		entry.Status = models.PaymentEventLogStatusHandleFailed
		if b, err := json.Marshal(map[string]string{"error": handleErr.Error()}); err == nil {
			res := datatypes.JSON(b)
			entry.Result = &res
		}
	} else {
		entry.Status = models.PaymentEventLogStatusHandled
		if result != nil {
			if b, err := json.Marshal(result); err == nil {
				res := datatypes.JSON(b)
				entry.Result = &res
			}
		}
	}
	s.Save(ctx, entry)
}

// Save asynchronously persists an event log entry. Nil input is ignored.
func (s *Service) Save(ctx context.Context, entry *models.PaymentEventLog) {
	go func() {
		if entry == nil {
			return
		}
		if entry.ID == "" {
			entry.ID = tool.GenerateUUIDV7()
		}
		if err := s.db.Save(entry).Error; err != nil {
			logctx.FromCtx(ctx, s.log).Errorf("failed to save payment event log: %v", err)
		}
	}()
}

var Module = fx.Options(
	fx.Provide(New),
)
