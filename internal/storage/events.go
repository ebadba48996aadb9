// internal/storage/events.go
package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/hedge-bot/internal/events"
	"github.com/rovshanmuradov/hedge-bot/internal/storage/models"
)

// Handle writes every bus event to the audit log. It satisfies
// events.Handler.
func (s *Store) Handle(ctx context.Context, event events.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", event.Type(), err)
	}
	rec := &models.EventRecord{
		EventType:  string(event.Type()),
		PositionID: positionOf(event),
		Payload:    payload,
		OccurredAt: event.Timestamp().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		s.logger.Warn("Failed to persist event", zap.String("type", string(event.Type())), zap.Error(err))
		return err
	}
	return nil
}

// RecentEvents returns the newest audit rows, optionally for one position.
func (s *Store) RecentEvents(ctx context.Context, positionID string, limit int) ([]models.EventRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	q := s.db.WithContext(ctx).Order("occurred_at desc").Limit(limit)
	if positionID != "" {
		q = q.Where("position_id = ?", positionID)
	}
	var out []models.EventRecord
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func positionOf(event events.Event) string {
	switch e := event.(type) {
	case events.MonitoringStartedEvent:
		return e.Position.ID
	case events.MonitoringStoppedEvent:
		return e.PositionID
	case events.AlertTriggeredEvent:
		return e.Alert.PositionID
	case events.HedgeResultEvent:
		return e.Result.PositionID
	case events.ConfirmationRequiredEvent:
		return e.Pending.PositionID
	case events.ConfirmationResolvedEvent:
		return e.PositionID
	case events.DataHealthEvent:
		return e.PositionID
	}
	return ""
}
