package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Guest represents a wedding guest
type Guest struct {
	ID        string    `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	EventID string `gorm:"type:uuid;not null;index" json:"event_id"`
	Event   Event  `gorm:"foreignKey:EventID;constraint:OnDelete:CASCADE" json:"-"`

	Name string `gorm:"size:255;not null" json:"name"`

	// PhoneNumber holds the canonical international form. RawPhone keeps
	// the number exactly as the provider delivered it, since the two can
	// legitimately differ for the same guest.
	PhoneNumber string `gorm:"size:32;not null;index" json:"phone_number"`
	RawPhone    string `gorm:"size:32" json:"raw_phone,omitempty"`
	Locale      string `gorm:"size:8;default:'he'" json:"locale"`

	TableNumber *int    `json:"table_number,omitempty"`
	TransportBy *string `gorm:"size:64" json:"transport_by,omitempty"`
	Notes       string  `gorm:"type:text" json:"notes,omitempty"`

	Rsvp *Rsvp `gorm:"foreignKey:GuestID;constraint:OnDelete:CASCADE" json:"rsvp,omitempty"`
}

func (g *Guest) BeforeCreate(tx *gorm.DB) error {
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	return nil
}

// RsvpStatus represents the attendance confirmation status
type RsvpStatus string

const (
	RsvpPending  RsvpStatus = "pending"
	RsvpAccepted RsvpStatus = "accepted"
	RsvpDeclined RsvpStatus = "declined"
	RsvpMaybe    RsvpStatus = "maybe"
)

// Rsvp is the 1:1 attendance record for a guest. GuestCount is only
// meaningful while the status is accepted (zero when declined, default
// otherwise). RespondedAt is set on every transition away from pending.
type Rsvp struct {
	ID        string    `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	GuestID string     `gorm:"type:uuid;not null;uniqueIndex" json:"guest_id"`
	Status  RsvpStatus `gorm:"size:16;not null;default:'pending';index" json:"status"`

	GuestCount  int        `gorm:"default:0" json:"guest_count"`
	RespondedAt *time.Time `json:"responded_at,omitempty"`
}

func (r *Rsvp) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}
