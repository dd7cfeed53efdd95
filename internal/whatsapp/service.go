// Package whatsapp is the whatsmeow-backed transport: it sends guest
// messages and translates inbound WhatsApp events into the correlator's
// inbound shape.
package whatsapp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/skip2/go-qrcode"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"

	"wedding-notify/internal/correlator"
	"wedding-notify/internal/models"
	"wedding-notify/internal/phone"
	"wedding-notify/internal/storage"
)

// InboundHandler receives translated inbound events. Called on the
// client's event goroutine; implementations must not block.
type InboundHandler func(msg correlator.InboundMessage)

type Config struct {
	DataDir string
}

// Service wraps the whatsmeow client.
type Service struct {
	client  *whatsmeow.Client
	store   *storage.Store
	phones  *phone.Canonicalizer
	log     zerolog.Logger
	inbound InboundHandler
}

// NewService creates the WhatsApp service backed by a sqlite device
// store under cfg.DataDir.
func NewService(cfg *Config, st *storage.Store, phones *phone.Canonicalizer, log zerolog.Logger) (*Service, error) {
	ctx := context.Background()

	// Use nil logger - sqlstore will use a no-op logger by default
	container, err := sqlstore.New(ctx, "sqlite3", fmt.Sprintf("file:%s/whatsmeow.db?_foreign_keys=on", cfg.DataDir), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create database: %w", err)
	}

	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get device: %w", err)
	}

	client := whatsmeow.NewClient(deviceStore, nil)
	service := &Service{
		client: client,
		store:  st,
		phones: phones,
		log:    log.With().Str("component", "whatsapp").Logger(),
	}
	client.AddEventHandler(service.eventHandler)
	return service, nil
}

// SetInboundHandler sets the callback for translated inbound events.
func (s *Service) SetInboundHandler(h InboundHandler) {
	s.inbound = h
}

// Connect connects to WhatsApp, printing a QR code for first-time
// device linking.
func (s *Service) Connect() error {
	if s.client.Store.ID == nil {
		qrChan, _ := s.client.GetQRChannel(context.Background())
		if err := s.client.Connect(); err != nil {
			return fmt.Errorf("failed to connect: %w", err)
		}
		for evt := range qrChan {
			if evt.Event == "code" {
				q, err := qrcode.New(evt.Code, qrcode.Medium)
				if err != nil {
					fmt.Printf("QR Code: %s\n", evt.Code)
				} else {
					fmt.Println("\n" + q.ToSmallString(false))
				}
				fmt.Println("Scan the QR code with WhatsApp (Settings > Linked Devices > Link a Device)")
			} else {
				s.log.Info().Str("event", evt.Event).Msg("Login event")
			}
		}
		return nil
	}
	if err := s.client.Connect(); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	return nil
}

// Disconnect disconnects from WhatsApp
func (s *Service) Disconnect() {
	s.client.Disconnect()
}

// SendText sends a text message and returns the provider message id,
// the token inbound replies carry as their in-reply-to reference.
// Implements notify.Sender.
func (s *Service) SendText(ctx context.Context, phoneNumber, text string) (string, error) {
	jid, err := s.resolveJID(ctx, phoneNumber)
	if err != nil {
		return "", err
	}

	s.log.Debug().Str("jid", jid.String()).Str("phone", phoneNumber).Msg("Sending message")
	resp, err := s.client.SendMessage(ctx, jid, &waE2E.Message{
		Conversation: &text,
	})
	if err != nil {
		if strings.Contains(err.Error(), "unknown server") || strings.Contains(err.Error(), "can't send message") {
			return "", fmt.Errorf("failed to send message to %s (JID: %s): %w. The recipient must be a synced WhatsApp contact with country code", phoneNumber, jid.String(), err)
		}
		return "", fmt.Errorf("failed to send message: %w", err)
	}
	return string(resp.ID), nil
}

// resolveJID normalizes the number and verifies it is on WhatsApp,
// returning the JID the provider itself reports for it.
func (s *Service) resolveJID(ctx context.Context, phoneNumber string) (types.JID, error) {
	phoneNumber = s.phones.Normalize(phoneNumber)

	resp, err := s.client.IsOnWhatsApp(ctx, []string{phoneNumber})
	if err != nil {
		return types.EmptyJID, fmt.Errorf("failed to verify number on WhatsApp: %w", err)
	}
	if len(resp) == 0 || !resp[0].IsIn {
		return types.EmptyJID, fmt.Errorf("number %s is not registered on WhatsApp or not in contacts", phoneNumber)
	}
	return resp[0].JID, nil
}

// eventHandler handles incoming WhatsApp events
func (s *Service) eventHandler(evt interface{}) {
	switch evt := evt.(type) {
	case *events.Message:
		s.handleMessage(evt)
	case *events.Receipt:
		s.handleReceipt(evt)
	case *events.Connected:
		s.log.Info().Msg("Connected to WhatsApp")
	case *events.Disconnected:
		s.log.Info().Msg("Disconnected from WhatsApp")
	case *events.LoggedOut:
		s.log.Info().Msg("Logged out from WhatsApp")
	}
}

// handleMessage translates an inbound message into the correlator's
// shape: button replies carry the selected button id, list replies the
// selected row id, and both carry the replied-to message id (StanzaID)
// as the exact-correlation token. Plain text falls back to keyword
// matching downstream.
func (s *Service) handleMessage(msg *events.Message) {
	if msg.Info.IsFromMe || msg.Message == nil || s.inbound == nil {
		return
	}

	sender := msg.Info.Sender.String()
	phoneNumber := strings.Split(sender, "@")[0]

	inbound := correlator.InboundMessage{
		Channel: "whatsapp",
		From:    phoneNumber,
	}

	switch {
	case msg.Message.GetButtonsResponseMessage() != nil:
		btn := msg.Message.GetButtonsResponseMessage()
		inbound.Kind = correlator.KindButton
		inbound.Selection = btn.GetSelectedButtonID()
		inbound.InReplyTo = btn.GetContextInfo().GetStanzaID()
	case msg.Message.GetListResponseMessage() != nil:
		list := msg.Message.GetListResponseMessage()
		inbound.Kind = correlator.KindList
		inbound.Selection = list.GetSingleSelectReply().GetSelectedRowID()
		inbound.InReplyTo = list.GetContextInfo().GetStanzaID()
	case msg.Message.GetExtendedTextMessage() != nil:
		ext := msg.Message.GetExtendedTextMessage()
		inbound.Kind = correlator.KindText
		inbound.Selection = ext.GetText()
		inbound.InReplyTo = ext.GetContextInfo().GetStanzaID()
	case msg.Message.GetConversation() != "":
		inbound.Kind = correlator.KindText
		inbound.Selection = msg.Message.GetConversation()
	default:
		return
	}

	if raw, err := json.Marshal(map[string]string{
		"from":        phoneNumber,
		"kind":        string(inbound.Kind),
		"selection":   inbound.Selection,
		"in_reply_to": inbound.InReplyTo,
		"message_id":  string(msg.Info.ID),
	}); err == nil {
		inbound.Raw = raw
	}

	s.inbound(inbound)
}

// handleReceipt records delivery confirmations against the ledger so
// the correlator accepts replies to messages the provider has already
// marked delivered.
func (s *Service) handleReceipt(r *events.Receipt) {
	if r.Type != types.ReceiptTypeDelivered {
		return
	}
	ctx := context.Background()
	for _, id := range r.MessageIDs {
		if err := s.store.MarkDelivery(ctx, string(id), models.DeliveryDelivered); err != nil {
			s.log.Error().Err(err).Str("message_id", string(id)).Msg("Failed to record delivery receipt")
		}
	}
}
