package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"wedding-notify/internal/models"
)

var repliableDeliveryStatuses = []models.DeliveryStatus{
	models.DeliverySent,
	models.DeliveryDelivered,
}

// AppendNotification writes one row to the outbound ledger. The ledger
// is append-only; rows are never rewritten afterwards.
func (s *Store) AppendNotification(ctx context.Context, entry *models.NotificationLog) error {
	if entry.SentAt.IsZero() {
		entry.SentAt = time.Now().UTC()
	}
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("failed to append notification log: %w", err)
	}
	return nil
}

// NotificationByToken resolves the ledger row whose embedded provider
// message id equals token, restricted to repliable types in a
// sent/delivered state. Both statuses are accepted because a delivery
// callback can race the guest's reply. Returns (nil, nil) on no match.
func (s *Store) NotificationByToken(ctx context.Context, token string) (*models.NotificationLog, error) {
	var entry models.NotificationLog
	err := s.db.WithContext(ctx).
		Where("message_type IN ?", models.RepliableMessageTypes).
		Where("status IN ?", repliableDeliveryStatuses).
		Where(datatypes.JSONQuery("provider_response").Equals(token, "message_id")).
		Order("sent_at DESC").
		First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up notification by token: %w", err)
	}
	return &entry, nil
}

// LatestRepliableNotification returns the most recent repliable ledger
// row among the given guests, or (nil, nil) when none exists.
func (s *Store) LatestRepliableNotification(ctx context.Context, guestIDs []string) (*models.NotificationLog, error) {
	if len(guestIDs) == 0 {
		return nil, nil
	}
	var entry models.NotificationLog
	err := s.db.WithContext(ctx).
		Where("guest_id IN ?", guestIDs).
		Where("message_type IN ?", models.RepliableMessageTypes).
		Where("status IN ?", repliableDeliveryStatuses).
		Order("sent_at DESC").
		First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up latest repliable notification: %w", err)
	}
	return &entry, nil
}

// LastNotification returns the most recent outbound send to a guest,
// optionally restricted to a channel and to specific message types.
// Returns (nil, nil) when the guest was never messaged.
func (s *Store) LastNotification(ctx context.Context, guestID, channel string, types []models.MessageType) (*models.NotificationLog, error) {
	q := s.db.WithContext(ctx).Where("guest_id = ?", guestID)
	if channel != "" {
		q = q.Where("channel = ?", channel)
	}
	if len(types) > 0 {
		q = q.Where("message_type IN ?", types)
	}
	var entry models.NotificationLog
	err := q.Order("sent_at DESC").First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load last notification for guest %s: %w", guestID, err)
	}
	return &entry, nil
}

// MarkDelivery updates the delivery status of the ledger row matching a
// provider message id. Delivery callbacks arrive out of order and may
// be redelivered; a missing row is not an error.
func (s *Store) MarkDelivery(ctx context.Context, token string, status models.DeliveryStatus) error {
	res := s.db.WithContext(ctx).
		Model(&models.NotificationLog{}).
		Where(datatypes.JSONQuery("provider_response").Equals(token, "message_id")).
		Update("status", status)
	if res.Error != nil {
		return fmt.Errorf("failed to mark delivery for token %s: %w", token, res.Error)
	}
	return nil
}

// CreateButtonResponse records one attributed inbound event. Write-once.
func (s *Store) CreateButtonResponse(ctx context.Context, resp *models.ButtonResponse) error {
	if err := s.db.WithContext(ctx).Create(resp).Error; err != nil {
		return fmt.Errorf("failed to record button response: %w", err)
	}
	return nil
}

// ButtonResponsesByGuest lists a guest's attributed inbound events,
// newest first.
func (s *Store) ButtonResponsesByGuest(ctx context.Context, guestID string) ([]models.ButtonResponse, error) {
	var responses []models.ButtonResponse
	err := s.db.WithContext(ctx).
		Where("guest_id = ?", guestID).
		Order("created_at DESC").
		Find(&responses).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load button responses for guest %s: %w", guestID, err)
	}
	return responses, nil
}
