package entitlement

import (
	"context"
	"errors"
	"fmt"

	"github.com/samber/lo"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/studykit/entitlements/internal/models"
	"github.com/studykit/entitlements/pkg/tool"
	"github.com/studykit/entitlements/pkg/types"
)

// Store is the only component that writes entitlement state. Every mutation
// goes through CommitTransition; reads are plain queries.
type Store struct {
	db  *gorm.DB
	log *zap.SugaredLogger
}

func NewStore(db *gorm.DB, log *zap.SugaredLogger) *Store {
	return &Store{db: db, log: log}
}

// Get returns the user's entitlement record, or nil when the user has never
// had one.
func (s *Store) Get(ctx context.Context, userID string) (*models.Entitlement, error) {
	var ent models.Entitlement
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&ent).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load entitlement: %w", err)
	}
	return &ent, nil
}

// GetShadow returns the last state one authority reported for the user, or
// nil when that authority never reported.
func (s *Store) GetShadow(ctx context.Context, userID string, authority types.PaymentAuthority) (*models.EntitlementShadow, error) {
	var shadow models.EntitlementShadow
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND authority = ?", userID, authority).
		First(&shadow).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load entitlement shadow: %w", err)
	}
	return &shadow, nil
}

func (s *Store) GetShadows(ctx context.Context, userID string) ([]*models.EntitlementShadow, error) {
	var shadows []*models.EntitlementShadow
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Find(&shadows).Error; err != nil {
		return nil, fmt.Errorf("failed to load entitlement shadows: %w", err)
	}
	return shadows, nil
}

// ClaimFunc inserts the idempotency marker inside the commit transaction. A
// false return means the marker already exists and the event is settled.
type ClaimFunc func(tx *gorm.DB) (bool, error)

// ApplyFunc computes the transition under the per-user lock. It returns the
// record to commit and the updated shadow for the event's authority. It must
// not touch the database.
type ApplyFunc func(current *models.Entitlement, shadows []*models.EntitlementShadow) (*models.Entitlement, *models.EntitlementShadow, error)

// CommitResult reports what a commit attempt did.
type CommitResult struct {
	Before    *models.Entitlement
	After     *models.Entitlement
	Duplicate bool
}

// CommitTransition runs one reconciliation as a single database transaction:
// lock the user's entitlement row, claim the ledger marker, apply the
// transition, and persist record + shadow + history together. The locked row
// is the per-user serialization point; concurrent events for the same user
// queue behind it.
func (s *Store) CommitTransition(ctx context.Context, ev *types.RawPaymentEvent, claim ClaimFunc, apply ApplyFunc) (*CommitResult, error) {
	var result *CommitResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var txErr error
		result, txErr = s.CommitTransitionTx(tx, ev, claim, apply)
		return txErr
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// CommitTransitionTx is CommitTransition inside a caller-owned transaction.
// The promotion engine uses it to make redemption and entitlement commit one
// atomic unit.
func (s *Store) CommitTransitionTx(tx *gorm.DB, ev *types.RawPaymentEvent, claim ClaimFunc, apply ApplyFunc) (*CommitResult, error) {
	current, err := s.lockEntitlement(tx, ev.UserID)
	if err != nil {
		return nil, err
	}

	claimed, err := claim(tx)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return &CommitResult{Before: current, After: current, Duplicate: true}, nil
	}

	var shadows []*models.EntitlementShadow
	if err := tx.Where("user_id = ?", ev.UserID).Find(&shadows).Error; err != nil {
		return nil, fmt.Errorf("failed to load shadows: %w", err)
	}

	before := cloneEntitlement(current)
	after, shadow, err := apply(current, shadows)
	if err != nil {
		return nil, err
	}

	if shadow != nil {
		if err := s.upsertShadow(tx, shadow); err != nil {
			return nil, err
		}
	}
	if err := tx.Save(after).Error; err != nil {
		return nil, fmt.Errorf("failed to save entitlement: %w", err)
	}

	history := &models.EntitlementHistory{
		ID:        tool.GenerateUUIDV7(),
		UserID:    ev.UserID,
		Authority: ev.Authority,
		EventID:   ev.EventID,
		Kind:      ev.Kind,
		Before:    datatypes.NewJSONType(before),
		After:     datatypes.NewJSONType(cloneEntitlement(after)),
	}
	if err := tx.Create(history).Error; err != nil {
		return nil, fmt.Errorf("failed to append history: %w", err)
	}

	return &CommitResult{Before: before, After: after}, nil
}

// lockEntitlement returns the user's entitlement row locked FOR UPDATE,
// creating the initial free record first if the user is new. The create uses
// ON CONFLICT DO NOTHING so two first-ever events for one user race safely.
func (s *Store) lockEntitlement(tx *gorm.DB, userID string) (*models.Entitlement, error) {
	seed := &models.Entitlement{
		ID:     tool.GenerateUUIDV7(),
		UserID: userID,
		Status: types.EntitlementStatusFree,
	}
	err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoNothing: true,
	}).Create(seed).Error
	if err != nil {
		return nil, fmt.Errorf("failed to seed entitlement: %w", err)
	}

	var ent models.Entitlement
	err = tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", userID).
		First(&ent).Error
	if err != nil {
		return nil, fmt.Errorf("failed to lock entitlement: %w", err)
	}
	return &ent, nil
}

func (s *Store) upsertShadow(tx *gorm.DB, shadow *models.EntitlementShadow) error {
	if shadow.ID == "" {
		shadow.ID = tool.GenerateUUIDV7()
	}
	err := tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "authority"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"native_status", "status", "plan_id", "period_start", "period_end",
			"cancel_at_period_end", "last_event_id", "last_event_at", "raw", "updated_at",
		}),
	}).Create(shadow).Error
	if err != nil {
		return fmt.Errorf("failed to upsert shadow: %w", err)
	}
	return nil
}

func cloneEntitlement(e *models.Entitlement) *models.Entitlement {
	if e == nil {
		return nil
	}
	c := *e
	if e.CurrentPeriodEnd != nil {
		c.CurrentPeriodEnd = lo.ToPtr(*e.CurrentPeriodEnd)
	}
	if e.TrialEndsAt != nil {
		c.TrialEndsAt = lo.ToPtr(*e.TrialEndsAt)
	}
	if e.PromotionCode != nil {
		c.PromotionCode = lo.ToPtr(*e.PromotionCode)
	}
	return &c
}

var Module = fx.Options(
	fx.Provide(NewStore),
)
