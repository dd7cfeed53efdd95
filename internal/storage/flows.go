package storage

import (
	"context"
	"fmt"

	"gorm.io/gorm/clause"

	"wedding-notify/internal/models"
)

// CreateFlow persists a new automation flow. The unique index on
// (event_id, trigger_type) rejects a second flow for the same trigger.
func (s *Store) CreateFlow(ctx context.Context, flow *models.AutomationFlow) error {
	if err := s.db.WithContext(ctx).Create(flow).Error; err != nil {
		return fmt.Errorf("failed to create flow: %w", err)
	}
	return nil
}

// FlowByID loads one flow.
func (s *Store) FlowByID(ctx context.Context, id string) (*models.AutomationFlow, error) {
	var flow models.AutomationFlow
	if err := s.db.WithContext(ctx).First(&flow, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("failed to load flow %s: %w", id, err)
	}
	return &flow, nil
}

// FlowsByEvent lists an event's flows.
func (s *Store) FlowsByEvent(ctx context.Context, eventID string) ([]models.AutomationFlow, error) {
	var flows []models.AutomationFlow
	err := s.db.WithContext(ctx).
		Where("event_id = ?", eventID).
		Order("created_at").
		Find(&flows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load flows for event %s: %w", eventID, err)
	}
	return flows, nil
}

// ActiveFlows returns an event's active flows, optionally restricted to
// the given trigger types.
func (s *Store) ActiveFlows(ctx context.Context, eventID string, triggers ...models.TriggerType) ([]models.AutomationFlow, error) {
	q := s.db.WithContext(ctx).
		Where("event_id = ? AND status = ?", eventID, models.FlowActive)
	if len(triggers) > 0 {
		q = q.Where("trigger_type IN ?", triggers)
	}
	var flows []models.AutomationFlow
	if err := q.Find(&flows).Error; err != nil {
		return nil, fmt.Errorf("failed to load active flows for event %s: %w", eventID, err)
	}
	return flows, nil
}

// EnsureFlow returns the flow for (event, trigger), creating it as
// active with the given action and delay when absent. Creation races
// are absorbed by the unique index; the surviving row wins.
func (s *Store) EnsureFlow(ctx context.Context, eventID string, trigger models.TriggerType, action models.ActionType, delayHours int) (*models.AutomationFlow, error) {
	flow := models.AutomationFlow{
		EventID:     eventID,
		TriggerType: trigger,
		ActionType:  action,
		DelayHours:  delayHours,
		Status:      models.FlowActive,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "event_id"}, {Name: "trigger_type"}},
		DoNothing: true,
	}).Create(&flow).Error
	if err != nil {
		return nil, fmt.Errorf("failed to ensure flow: %w", err)
	}

	var existing models.AutomationFlow
	err = s.db.WithContext(ctx).
		First(&existing, "event_id = ? AND trigger_type = ?", eventID, trigger).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load ensured flow: %w", err)
	}
	return &existing, nil
}

// SetFlowStatus moves a flow into the given lifecycle state.
func (s *Store) SetFlowStatus(ctx context.Context, id string, status models.FlowStatus) error {
	res := s.db.WithContext(ctx).
		Model(&models.AutomationFlow{}).
		Where("id = ?", id).
		Update("status", status)
	if res.Error != nil {
		return fmt.Errorf("failed to set flow %s status: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("flow %s not found", id)
	}
	return nil
}
