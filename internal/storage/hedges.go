// internal/storage/hedges.go
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm/clause"

	"github.com/rovshanmuradov/hedge-bot/internal/domain"
	"github.com/rovshanmuradov/hedge-bot/internal/storage/models"
)

// SaveHedgeResult stores one hedge attempt. Saving the same result id twice
// is a no-op.
func (s *Store) SaveHedgeResult(ctx context.Context, symbol string, res domain.HedgeResult) error {
	rec, err := toRecord(symbol, res)
	if err != nil {
		return err
	}
	err = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "result_id"}}, DoNothing: true}).
		Create(rec).Error
	if err != nil {
		return fmt.Errorf("failed to save hedge result %s: %w", res.ID, err)
	}
	return nil
}

// LoadHedgeResults returns the results of a position at or after since,
// oldest first.
func (s *Store) LoadHedgeResults(ctx context.Context, positionID string, since time.Time) ([]domain.HedgeResult, error) {
	var recs []models.HedgeRecord
	err := s.db.WithContext(ctx).
		Where("position_id = ? AND executed_at >= ?", positionID, since.UTC()).
		Order("executed_at asc").
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load hedge results for %s: %w", positionID, err)
	}
	out := make([]domain.HedgeResult, 0, len(recs))
	for i := range recs {
		res, err := fromRecord(&recs[i])
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, nil
}

// CountHedgeResults reports how many results are stored for a position.
func (s *Store) CountHedgeResults(ctx context.Context, positionID string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.HedgeRecord{}).
		Where("position_id = ?", positionID).
		Count(&n).Error
	return n, err
}

func toRecord(symbol string, res domain.HedgeResult) (*models.HedgeRecord, error) {
	orders, err := json.Marshal(res.Orders)
	if err != nil {
		return nil, fmt.Errorf("failed to encode orders: %w", err)
	}
	receipts, err := json.Marshal(res.Receipts)
	if err != nil {
		return nil, fmt.Errorf("failed to encode receipts: %w", err)
	}
	return &models.HedgeRecord{
		ResultID:   res.ID,
		PositionID: res.PositionID,
		Symbol:     symbol,
		Success:    res.Success,
		Manual:     res.Manual,
		TotalCost:  res.TotalCost,
		LatencyMs:  res.Latency.Milliseconds(),
		Message:    res.Message,
		Orders:     orders,
		Receipts:   receipts,
		ExecutedAt: res.Timestamp.UTC(),
	}, nil
}

func fromRecord(rec *models.HedgeRecord) (domain.HedgeResult, error) {
	res := domain.HedgeResult{
		ID:         rec.ResultID,
		PositionID: rec.PositionID,
		Success:    rec.Success,
		Manual:     rec.Manual,
		TotalCost:  rec.TotalCost,
		Latency:    time.Duration(rec.LatencyMs) * time.Millisecond,
		Message:    rec.Message,
		Timestamp:  rec.ExecutedAt.UTC(),
	}
	if len(rec.Orders) > 0 {
		if err := json.Unmarshal(rec.Orders, &res.Orders); err != nil {
			return res, fmt.Errorf("failed to decode orders of %s: %w", rec.ResultID, err)
		}
	}
	if len(rec.Receipts) > 0 {
		if err := json.Unmarshal(rec.Receipts, &res.Receipts); err != nil {
			return res, fmt.Errorf("failed to decode receipts of %s: %w", rec.ResultID, err)
		}
	}
	return res, nil
}
