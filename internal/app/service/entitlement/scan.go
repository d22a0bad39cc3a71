package entitlement

import (
	"context"
	"fmt"

	"gorm.io/gorm/clause"

	"github.com/studykit/entitlements/internal/models"
	"github.com/studykit/entitlements/pkg/types"
)

type ScanHistoryRequest struct {
	Filters   []*types.CommonFilter `json:"filters"`
	From      int                   `json:"from"`
	Size      int                   `json:"size"`
	SortBy    string                `json:"sort_by"`
	SortOrder string                `json:"sort_order"`
}

type ScanHistoryResponse struct {
	Items []*models.EntitlementHistory `json:"items"`
	Total int64                        `json:"total"`
}

// ScanHistory implements paginated admin listing of transition history.
func (s *Store) ScanHistory(ctx context.Context, req *ScanHistoryRequest) (*ScanHistoryResponse, error) {
	if req == nil {
		return nil, fmt.Errorf("nil request")
	}
	if req.Size <= 0 {
		req.Size = 10
	}
	if req.From < 0 {
		req.From = 0
	}

	tx := s.db.WithContext(ctx).Model(&models.EntitlementHistory{})
	if len(req.Filters) > 0 {
		tx = tx.Where(clause.Where{Exprs: []clause.Expression{types.FiltersAnd{Filters: req.Filters}}})
	}

	var total int64
	if err := tx.Count(&total).Error; err != nil {
		return nil, fmt.Errorf("failed to count history rows: %w", err)
	}

	var rows []*models.EntitlementHistory
	q := tx.Limit(req.Size)
	if req.From > 0 {
		q = q.Offset(req.From)
	}
	if req.SortBy != "" {
		q = q.Order(clause.OrderBy{Columns: []clause.OrderByColumn{{Column: clause.Column{Name: req.SortBy}, Desc: req.SortOrder != "asc"}}})
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list history rows: %w", err)
	}

	return &ScanHistoryResponse{Items: rows, Total: total}, nil
}
