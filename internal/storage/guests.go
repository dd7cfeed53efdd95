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

// CreateEvent persists a new event.
func (s *Store) CreateEvent(ctx context.Context, event *models.Event) error {
	if err := s.db.WithContext(ctx).Create(event).Error; err != nil {
		return fmt.Errorf("failed to create event: %w", err)
	}
	return nil
}

// EventByID loads one event.
func (s *Store) EventByID(ctx context.Context, id string) (*models.Event, error) {
	var event models.Event
	if err := s.db.WithContext(ctx).First(&event, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("failed to load event %s: %w", id, err)
	}
	return &event, nil
}

// EventsWithin returns events whose date falls inside [from, to),
// ordered by date. Used by the planner's horizon scan.
func (s *Store) EventsWithin(ctx context.Context, from, to time.Time) ([]models.Event, error) {
	var events []models.Event
	err := s.db.WithContext(ctx).
		Where("event_date >= ? AND event_date < ?", from, to).
		Order("event_date").
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load events in horizon: %w", err)
	}
	return events, nil
}

// CreateGuest persists a guest together with its initial pending RSVP.
func (s *Store) CreateGuest(ctx context.Context, guest *models.Guest) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(guest).Error; err != nil {
			return err
		}
		rsvp := models.Rsvp{GuestID: guest.ID, Status: models.RsvpPending}
		if err := tx.Create(&rsvp).Error; err != nil {
			return err
		}
		guest.Rsvp = &rsvp
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to create guest: %w", err)
	}
	return nil
}

// GuestByID loads one guest with its RSVP.
func (s *Store) GuestByID(ctx context.Context, id string) (*models.Guest, error) {
	var guest models.Guest
	err := s.db.WithContext(ctx).Preload("Rsvp").First(&guest, "id = ?", id).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load guest %s: %w", id, err)
	}
	return &guest, nil
}

// GuestsByEvent returns all guests of an event with their RSVPs.
func (s *Store) GuestsByEvent(ctx context.Context, eventID string) ([]models.Guest, error) {
	var guests []models.Guest
	err := s.db.WithContext(ctx).
		Preload("Rsvp").
		Where("event_id = ?", eventID).
		Order("name").
		Find(&guests).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load guests for event %s: %w", eventID, err)
	}
	return guests, nil
}

// GuestsByPhoneVariants finds guests whose stored number matches any of
// the given representations, most recently updated first. Matching runs
// against both the canonical and the as-received number.
func (s *Store) GuestsByPhoneVariants(ctx context.Context, variants []string) ([]models.Guest, error) {
	if len(variants) == 0 {
		return nil, nil
	}
	var guests []models.Guest
	err := s.db.WithContext(ctx).
		Preload("Rsvp").
		Where("phone_number IN ? OR raw_phone IN ?", variants, variants).
		Order("updated_at DESC").
		Find(&guests).Error
	if err != nil {
		return nil, fmt.Errorf("failed to look up guests by phone: %w", err)
	}
	return guests, nil
}

// RsvpByGuest loads the RSVP row for a guest.
func (s *Store) RsvpByGuest(ctx context.Context, guestID string) (*models.Rsvp, error) {
	var rsvp models.Rsvp
	err := s.db.WithContext(ctx).First(&rsvp, "guest_id = ?", guestID).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load rsvp for guest %s: %w", guestID, err)
	}
	return &rsvp, nil
}

// UpsertRsvp sets a guest's RSVP to {status, guestCount} as a single
// idempotent write keyed by guest. Re-applying the same transition is a
// no-op state-wise, which makes duplicate webhook deliveries safe.
// RespondedAt is stamped on every write that leaves pending.
func (s *Store) UpsertRsvp(ctx context.Context, guestID string, status models.RsvpStatus, guestCount int) (*models.Rsvp, error) {
	now := time.Now().UTC()
	rsvp := models.Rsvp{GuestID: guestID, Status: status, GuestCount: guestCount}
	var respondedAt *time.Time
	if status != models.RsvpPending {
		respondedAt = &now
		rsvp.RespondedAt = &now
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "guest_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"status":       status,
			"guest_count":  guestCount,
			"responded_at": respondedAt,
			"updated_at":   now,
		}),
	}).Create(&rsvp).Error
	if err != nil {
		return nil, fmt.Errorf("failed to upsert rsvp for guest %s: %w", guestID, err)
	}
	return s.RsvpByGuest(ctx, guestID)
}

// DeleteGuest removes a guest; RSVP, ledger rows and executions cascade.
func (s *Store) DeleteGuest(ctx context.Context, id string) error {
	if err := s.db.WithContext(ctx).Delete(&models.Guest{}, "id = ?", id).Error; err != nil {
		return fmt.Errorf("failed to delete guest %s: %w", id, err)
	}
	return nil
}

// IsNotFound reports whether err is a missing-record lookup failure.
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
