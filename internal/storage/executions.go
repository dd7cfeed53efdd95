package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"wedding-notify/internal/models"
)

// DueExecutions selects a bounded batch of pending executions whose
// scheduled time is unset or has passed, restricted to active flows.
// Guest and flow are preloaded for fact loading.
func (s *Store) DueExecutions(ctx context.Context, now time.Time, limit int) ([]models.AutomationFlowExecution, error) {
	var execs []models.AutomationFlowExecution
	err := s.db.WithContext(ctx).
		Joins("Flow").
		Preload("Guest").
		Where("automation_flow_executions.status = ?", models.ExecutionPending).
		Where("automation_flow_executions.scheduled_for IS NULL OR automation_flow_executions.scheduled_for <= ?", now).
		Where(`"Flow"."status" = ?`, models.FlowActive).
		Order("automation_flow_executions.scheduled_for").
		Limit(limit).
		Find(&execs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load due executions: %w", err)
	}
	return execs, nil
}

// CreateExecutionIfAbsent schedules a (flow, guest) execution unless one
// already exists for that pair. Reports whether a new row was created.
// Idempotent creation, not insertion: the unique index absorbs races.
func (s *Store) CreateExecutionIfAbsent(ctx context.Context, flowID, guestID string, scheduledFor *time.Time) (bool, error) {
	exec := models.AutomationFlowExecution{
		FlowID:       flowID,
		GuestID:      guestID,
		Status:       models.ExecutionPending,
		ScheduledFor: scheduledFor,
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "flow_id"}, {Name: "guest_id"}},
		DoNothing: true,
	}).Create(&exec)
	if res.Error != nil {
		return false, fmt.Errorf("failed to create execution: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// ClaimExecution transitions pending -> processing. The status guard
// makes the claim exclusive: of two overlapping poll cycles only one
// sees RowsAffected == 1, so an item is never executed twice.
func (s *Store) ClaimExecution(ctx context.Context, id string) (bool, error) {
	res := s.db.WithContext(ctx).
		Model(&models.AutomationFlowExecution{}).
		Where("id = ? AND status = ?", id, models.ExecutionPending).
		Updates(map[string]interface{}{
			"status":     models.ExecutionProcessing,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return false, fmt.Errorf("failed to claim execution %s: %w", id, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// RescheduleExecution moves a pending execution's due time. Not a
// retry; the item simply was not due yet.
func (s *Store) RescheduleExecution(ctx context.Context, id string, until time.Time) error {
	res := s.db.WithContext(ctx).
		Model(&models.AutomationFlowExecution{}).
		Where("id = ? AND status = ?", id, models.ExecutionPending).
		Update("scheduled_for", until)
	if res.Error != nil {
		return fmt.Errorf("failed to reschedule execution %s: %w", id, res.Error)
	}
	return nil
}

// SkipExecution marks a pending execution skipped with the abandon
// reason. Terminal.
func (s *Store) SkipExecution(ctx context.Context, id, reason string) error {
	res := s.db.WithContext(ctx).
		Model(&models.AutomationFlowExecution{}).
		Where("id = ? AND status = ?", id, models.ExecutionPending).
		Updates(map[string]interface{}{
			"status":        models.ExecutionSkipped,
			"error_message": reason,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to skip execution %s: %w", id, res.Error)
	}
	return nil
}

// CompleteExecution transitions processing -> completed.
func (s *Store) CompleteExecution(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).
		Model(&models.AutomationFlowExecution{}).
		Where("id = ? AND status = ?", id, models.ExecutionProcessing).
		Updates(map[string]interface{}{
			"status":        models.ExecutionCompleted,
			"error_message": "",
		})
	if res.Error != nil {
		return fmt.Errorf("failed to complete execution %s: %w", id, res.Error)
	}
	return nil
}

// RetryExecution re-arms a processing execution: back to pending with
// the retry counter bumped, the failure stored and the next attempt
// scheduled at `at`.
func (s *Store) RetryExecution(ctx context.Context, id string, at time.Time, errMsg string) error {
	res := s.db.WithContext(ctx).
		Model(&models.AutomationFlowExecution{}).
		Where("id = ? AND status = ?", id, models.ExecutionProcessing).
		Updates(map[string]interface{}{
			"status":        models.ExecutionPending,
			"scheduled_for": at,
			"retry_count":   gorm.Expr("retry_count + 1"),
			"error_message": errMsg,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to re-arm execution %s: %w", id, res.Error)
	}
	return nil
}

// ReviveExecution re-arms a skipped (flow, guest) execution with a
// fresh fire time. A skipped row is terminal for the condition that
// abandoned it, but the condition can start holding again, as when a
// guest moves back to maybe after an earlier follow-up was abandoned;
// the unique index would otherwise block the pair forever.
func (s *Store) ReviveExecution(ctx context.Context, flowID, guestID string, at time.Time) (bool, error) {
	res := s.db.WithContext(ctx).
		Model(&models.AutomationFlowExecution{}).
		Where("flow_id = ? AND guest_id = ? AND status = ?", flowID, guestID, models.ExecutionSkipped).
		Updates(map[string]interface{}{
			"status":        models.ExecutionPending,
			"scheduled_for": at,
			"retry_count":   0,
			"error_message": "",
		})
	if res.Error != nil {
		return false, fmt.Errorf("failed to revive execution for flow %s guest %s: %w", flowID, guestID, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// FailExecution marks an execution permanently failed.
func (s *Store) FailExecution(ctx context.Context, id, errMsg string) error {
	res := s.db.WithContext(ctx).
		Model(&models.AutomationFlowExecution{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":        models.ExecutionFailed,
			"error_message": errMsg,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to fail execution %s: %w", id, res.Error)
	}
	return nil
}

// SweepPendingExecutions skips every pending execution of a flow. This
// is the only cancellation path: pausing or archiving a flow sweeps its
// queue.
func (s *Store) SweepPendingExecutions(ctx context.Context, flowID, reason string) (int64, error) {
	res := s.db.WithContext(ctx).
		Model(&models.AutomationFlowExecution{}).
		Where("flow_id = ? AND status = ?", flowID, models.ExecutionPending).
		Updates(map[string]interface{}{
			"status":        models.ExecutionSkipped,
			"error_message": reason,
		})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to sweep executions for flow %s: %w", flowID, res.Error)
	}
	return res.RowsAffected, nil
}

// ExecutionFor loads the execution of a (flow, guest) pair, or
// (nil, nil) when none exists.
func (s *Store) ExecutionFor(ctx context.Context, flowID, guestID string) (*models.AutomationFlowExecution, error) {
	var exec models.AutomationFlowExecution
	err := s.db.WithContext(ctx).
		First(&exec, "flow_id = ? AND guest_id = ?", flowID, guestID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load execution for flow %s guest %s: %w", flowID, guestID, err)
	}
	return &exec, nil
}

// ExecutionByID loads one execution.
func (s *Store) ExecutionByID(ctx context.Context, id string) (*models.AutomationFlowExecution, error) {
	var exec models.AutomationFlowExecution
	if err := s.db.WithContext(ctx).First(&exec, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("failed to load execution %s: %w", id, err)
	}
	return &exec, nil
}

// ExecutionsByFlow lists a flow's executions, newest first.
func (s *Store) ExecutionsByFlow(ctx context.Context, flowID string) ([]models.AutomationFlowExecution, error) {
	var execs []models.AutomationFlowExecution
	err := s.db.WithContext(ctx).
		Where("flow_id = ?", flowID).
		Order("created_at DESC").
		Find(&execs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load executions for flow %s: %w", flowID, err)
	}
	return execs, nil
}

// PurgeFinishedExecutions deletes terminal executions older than the
// retention cutoff and returns how many were removed.
func (s *Store) PurgeFinishedExecutions(ctx context.Context, cutoff time.Time) (int64, error) {
	terminal := []models.ExecutionStatus{
		models.ExecutionCompleted,
		models.ExecutionFailed,
		models.ExecutionSkipped,
	}
	res := s.db.WithContext(ctx).
		Where("status IN ? AND updated_at < ?", terminal, cutoff).
		Delete(&models.AutomationFlowExecution{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to purge finished executions: %w", res.Error)
	}
	return res.RowsAffected, nil
}
