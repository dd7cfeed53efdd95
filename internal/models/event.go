package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Event represents a single wedding with its notification settings.
// Guests, flows and everything hanging off them are cascade-deleted
// with the event.
type Event struct {
	ID        string    `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Name      string    `gorm:"size:255;not null" json:"name"`
	BrideName string    `gorm:"size:255" json:"bride_name"`
	GroomName string    `gorm:"size:255" json:"groom_name"`
	Venue     string    `gorm:"size:255" json:"venue"`
	EventDate time.Time `gorm:"not null;index" json:"event_date"`

	// CountryCode drives phone canonicalization for this event's guests.
	CountryCode string `gorm:"size:8;default:'972'" json:"country_code"`

	// MaybeFollowUpDelayHours is authoritative for scheduling MAYBE
	// follow-ups, even when an existing flow stores a different delay.
	MaybeFollowUpDelayHours int `gorm:"default:24" json:"maybe_follow_up_delay_hours"`

	Guests []Guest          `gorm:"foreignKey:EventID;constraint:OnDelete:CASCADE" json:"guests,omitempty"`
	Flows  []AutomationFlow `gorm:"foreignKey:EventID;constraint:OnDelete:CASCADE" json:"flows,omitempty"`
}

func (e *Event) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	return nil
}
