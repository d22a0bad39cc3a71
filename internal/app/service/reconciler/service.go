package reconciler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/studykit/entitlements/internal/app/service/entitlement"
	"github.com/studykit/entitlements/internal/app/service/ledger"
	"github.com/studykit/entitlements/internal/models"
	"github.com/studykit/entitlements/pkg/logctx"
	"github.com/studykit/entitlements/pkg/metrics"
	"github.com/studykit/entitlements/pkg/types"
)

// ErrInvalidEvent marks a normalized event that fails basic validation and
// must be rejected before touching any state.
var ErrInvalidEvent = errors.New("invalid payment event")

type Outcome string

const (
	OutcomeProcessed Outcome = "processed"
	OutcomeDuplicate Outcome = "duplicate"
	outcomeFailed    Outcome = "failed"
)

type ProcessResult struct {
	Entitlement *models.Entitlement
	Outcome     Outcome
}

// Service drives one reconciliation per normalized event: duplicate
// pre-check, then the atomic claim-and-commit through the entitlement store.
type Service struct {
	store  *entitlement.Store
	ledger *ledger.Service
	log    *zap.SugaredLogger
}

func New(store *entitlement.Store, ledger *ledger.Service, log *zap.SugaredLogger) *Service {
	return &Service{store: store, ledger: ledger, log: log}
}

func validate(ev *types.RawPaymentEvent) error {
	if ev == nil {
		return fmt.Errorf("%w: nil event", ErrInvalidEvent)
	}
	if !ev.Authority.Valid() {
		return fmt.Errorf("%w: unknown authority %q", ErrInvalidEvent, ev.Authority)
	}
	if ev.EventID == "" {
		return fmt.Errorf("%w: empty event id", ErrInvalidEvent)
	}
	if ev.UserID == "" {
		return fmt.Errorf("%w: empty user id", ErrInvalidEvent)
	}
	if !ev.Kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidEvent, ev.Kind)
	}
	return nil
}

// Process reconciles one event. Duplicate delivery is success: the caller
// gets the settled entitlement and OutcomeDuplicate without a second
// mutation or history row.
func (s *Service) Process(ctx context.Context, ev *types.RawPaymentEvent) (*ProcessResult, error) {
	if err := validate(ev); err != nil {
		return nil, err
	}

	// Read-only fast path; the authoritative check is the claim inside the
	// commit transaction.
	done, err := s.ledger.AlreadyProcessed(ctx, ev.Authority, ev.EventID)
	if err != nil {
		s.count(ev, outcomeFailed)
		return nil, err
	}
	if done {
		ent, err := s.store.Get(ctx, ev.UserID)
		if err != nil {
			return nil, err
		}
		s.count(ev, OutcomeDuplicate)
		return &ProcessResult{Entitlement: ent, Outcome: OutcomeDuplicate}, nil
	}

	now := time.Now()
	result, err := s.store.CommitTransition(ctx, ev,
		func(tx *gorm.DB) (bool, error) {
			return s.ledger.Claim(tx, ev.Authority, ev.EventID, now)
		},
		s.applyFunc(ev, now),
	)
	if err != nil {
		s.count(ev, outcomeFailed)
		logctx.FromCtx(ctx, s.log).Errorw("reconciliation failed",
			"authority", ev.Authority, "event_id", ev.EventID, "user_id", ev.UserID,
			"kind", ev.Kind, "error", err)
		return nil, err
	}
	return s.finish(ctx, ev, result), nil
}

// ProcessTx reconciles one event inside a caller-owned transaction. The
// promotion engine uses it so counter increment, redemption row, and
// entitlement commit stand or fall together.
func (s *Service) ProcessTx(ctx context.Context, tx *gorm.DB, ev *types.RawPaymentEvent) (*ProcessResult, error) {
	if err := validate(ev); err != nil {
		return nil, err
	}
	now := time.Now()
	result, err := s.store.CommitTransitionTx(tx, ev,
		func(tx *gorm.DB) (bool, error) {
			return s.ledger.Claim(tx, ev.Authority, ev.EventID, now)
		},
		s.applyFunc(ev, now),
	)
	if err != nil {
		s.count(ev, outcomeFailed)
		return nil, err
	}
	return s.finish(ctx, ev, result), nil
}

func (s *Service) applyFunc(ev *types.RawPaymentEvent, now time.Time) entitlement.ApplyFunc {
	return func(current *models.Entitlement, shadows []*models.EntitlementShadow) (*models.Entitlement, *models.EntitlementShadow, error) {
		var existing *models.EntitlementShadow
		merged := make([]*models.EntitlementShadow, 0, len(shadows)+1)
		for _, sh := range shadows {
			if sh.Authority == ev.Authority {
				existing = sh
				continue
			}
			merged = append(merged, sh)
		}
		updated := applyEventToShadow(existing, ev)
		merged = append(merged, updated)
		next := reconcile(current, merged, ev, now)
		return next, updated, nil
	}
}

func (s *Service) finish(ctx context.Context, ev *types.RawPaymentEvent, result *entitlement.CommitResult) *ProcessResult {
	outcome := OutcomeProcessed
	if result.Duplicate {
		outcome = OutcomeDuplicate
	} else {
		logctx.FromCtx(ctx, s.log).Infow("payment event reconciled",
			"authority", ev.Authority, "event_id", ev.EventID, "user_id", ev.UserID,
			"kind", ev.Kind,
			"status_before", statusOf(result.Before), "status_after", statusOf(result.After))
	}
	s.count(ev, outcome)
	return &ProcessResult{Entitlement: result.After, Outcome: outcome}
}

func (s *Service) count(ev *types.RawPaymentEvent, outcome Outcome) {
	metrics.EventsProcessed.WithLabelValues(string(ev.Authority), string(ev.Kind), string(outcome)).Inc()
}

func statusOf(e *models.Entitlement) types.EntitlementStatus {
	if e == nil {
		return types.EntitlementStatusFree
	}
	return e.Status
}
