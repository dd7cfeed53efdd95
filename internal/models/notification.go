package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// MessageType is the logical type of an outbound send.
type MessageType string

const (
	MessageInvite              MessageType = "invite"
	MessageReminder            MessageType = "reminder"
	MessageInteractiveInvite   MessageType = "interactive_invite"
	MessageInteractiveReminder MessageType = "interactive_reminder"
	MessageGuestCountRequest   MessageType = "guest_count_request"
	MessageConfirmation        MessageType = "confirmation"
)

// RepliableMessageTypes are the outbound types a guest reply can answer.
// Correlation by token or recency is restricted to these.
var RepliableMessageTypes = []MessageType{
	MessageInteractiveInvite,
	MessageInteractiveReminder,
	MessageGuestCountRequest,
}

// DeliveryStatus tracks what the provider reported for a send.
type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliverySent      DeliveryStatus = "sent"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryFailed    DeliveryStatus = "failed"
)

// NotificationLog is the append-only ledger of outbound send attempts.
// ProviderResponse embeds the provider's serialized reply, including the
// message id the correlator later matches in-reply-to tokens against.
// Rows are never mutated after creation except for delivery status
// callbacks updating Status.
type NotificationLog struct {
	ID        string    `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`

	GuestID string `gorm:"type:uuid;not null;index" json:"guest_id"`
	Guest   Guest  `gorm:"foreignKey:GuestID;constraint:OnDelete:CASCADE" json:"-"`

	MessageType MessageType    `gorm:"size:32;not null;index" json:"message_type"`
	Channel     string         `gorm:"size:16;not null;default:'whatsapp'" json:"channel"`
	Status      DeliveryStatus `gorm:"size:16;not null;default:'pending'" json:"status"`

	Body             string         `gorm:"type:text" json:"body,omitempty"`
	ProviderResponse datatypes.JSON `gorm:"column:provider_response" json:"provider_response,omitempty"`

	SentAt time.Time `gorm:"index" json:"sent_at"`
}

func (n *NotificationLog) BeforeCreate(tx *gorm.DB) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	return nil
}

// ButtonResponse records one inbound webhook event that was attributed
// to a guest, together with the state change it caused. Write-once.
type ButtonResponse struct {
	ID        string    `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	GuestID string `gorm:"type:uuid;not null;index" json:"guest_id"`
	Guest   Guest  `gorm:"foreignKey:GuestID;constraint:OnDelete:CASCADE" json:"-"`

	Channel   string `gorm:"size:16;not null;default:'whatsapp'" json:"channel"`
	Action    string `gorm:"size:32;not null" json:"action"`
	Selection string `gorm:"size:255" json:"selection"`

	PreviousStatus RsvpStatus `gorm:"size:16" json:"previous_status"`
	NewStatus      RsvpStatus `gorm:"size:16" json:"new_status"`

	RawPayload datatypes.JSON `json:"raw_payload,omitempty"`
}

func (b *ButtonResponse) BeforeCreate(tx *gorm.DB) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	return nil
}
