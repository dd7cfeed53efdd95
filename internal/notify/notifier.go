package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/datatypes"

	"wedding-notify/internal/models"
	"wedding-notify/internal/storage"
)

// ProviderReceipt is the serialized provider response embedded in each
// ledger row. MessageID is the correlation token.
type ProviderReceipt struct {
	MessageID string    `json:"message_id"`
	Timestamp time.Time `json:"timestamp"`
}

// Notifier sends guest-facing messages and appends every attempt to
// the notification ledger, success or not.
type Notifier struct {
	store   *storage.Store
	sender  Sender
	channel string
	log     zerolog.Logger
}

func NewNotifier(store *storage.Store, sender Sender, channel string, log zerolog.Logger) *Notifier {
	if channel == "" {
		channel = "whatsapp"
	}
	return &Notifier{
		store:   store,
		sender:  sender,
		channel: channel,
		log:     log.With().Str("component", "notifier").Logger(),
	}
}

// SendInvite sends the plain invitation.
func (n *Notifier) SendInvite(ctx context.Context, guest *models.Guest, event *models.Event) error {
	return n.send(ctx, guest, models.MessageInvite, inviteMessage(guest, event))
}

// SendInteractiveInvite sends the invitation that asks for a reply.
func (n *Notifier) SendInteractiveInvite(ctx context.Context, guest *models.Guest, event *models.Event) error {
	return n.send(ctx, guest, models.MessageInteractiveInvite, interactiveInviteMessage(guest, event))
}

// SendReminder sends a plain reminder, optionally with custom text.
func (n *Notifier) SendReminder(ctx context.Context, guest *models.Guest, event *models.Event, custom string) error {
	return n.send(ctx, guest, models.MessageReminder, reminderMessage(guest, event, custom))
}

// SendInteractiveReminder sends a reminder that asks for a reply.
func (n *Notifier) SendInteractiveReminder(ctx context.Context, guest *models.Guest, event *models.Event, custom string) error {
	return n.send(ctx, guest, models.MessageInteractiveReminder, interactiveReminderMessage(guest, event, custom))
}

// SendGuestCountRequest asks an accepting guest how many seats to hold.
func (n *Notifier) SendGuestCountRequest(ctx context.Context, guest *models.Guest) error {
	return n.send(ctx, guest, models.MessageGuestCountRequest, guestCountRequestMessage(guest))
}

// SendConfirmation acknowledges a guest's answer.
func (n *Notifier) SendConfirmation(ctx context.Context, guest *models.Guest, event *models.Event, status models.RsvpStatus, guestCount int) error {
	return n.send(ctx, guest, models.MessageConfirmation, confirmationMessage(guest, event, status, guestCount))
}

func (n *Notifier) send(ctx context.Context, guest *models.Guest, msgType models.MessageType, body string) error {
	entry := &models.NotificationLog{
		GuestID:     guest.ID,
		MessageType: msgType,
		Channel:     n.channel,
		Body:        body,
	}

	messageID, err := n.sender.SendText(ctx, guest.PhoneNumber, body)
	if err != nil {
		entry.Status = models.DeliveryFailed
		if logErr := n.store.AppendNotification(ctx, entry); logErr != nil {
			n.log.Error().Err(logErr).Str("guest_id", guest.ID).Msg("Failed to record failed send")
		}
		return fmt.Errorf("failed to send %s to guest %s: %w", msgType, guest.ID, err)
	}

	receipt, err := json.Marshal(ProviderReceipt{MessageID: messageID, Timestamp: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("failed to serialize provider receipt: %w", err)
	}
	entry.Status = models.DeliverySent
	entry.ProviderResponse = datatypes.JSON(receipt)

	if err := n.store.AppendNotification(ctx, entry); err != nil {
		return err
	}
	n.log.Info().
		Str("guest_id", guest.ID).
		Str("type", string(msgType)).
		Str("message_id", messageID).
		Msg("Message sent")
	return nil
}
