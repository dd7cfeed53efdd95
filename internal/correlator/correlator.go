// Package correlator maps inbound, asynchronous provider events back to
// the guest and conversation that caused them, and applies the state
// transition each reply implies.
package correlator

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/rs/zerolog"
	"gorm.io/datatypes"

	"wedding-notify/internal/automation"
	"wedding-notify/internal/models"
	"wedding-notify/internal/notify"
	"wedding-notify/internal/phone"
	"wedding-notify/internal/storage"
)

// InteractionKind discriminates how the guest answered.
type InteractionKind string

const (
	// KindButton is a button/choice reply (accept, decline, maybe).
	KindButton InteractionKind = "button"
	// KindList is a list/numeric picker reply (guest count).
	KindList InteractionKind = "list"
	// KindText is a free-text message, matched by keywords.
	KindText InteractionKind = "text"
)

// InboundMessage is one provider webhook event, already authenticated
// and shape-validated by the transport layer.
type InboundMessage struct {
	Channel   string
	From      string // sender phone, channel prefix stripped
	Kind      InteractionKind
	Selection string // button id, list row id, or the raw text
	InReplyTo string // provider token of the outbound message replied to
	Raw       json.RawMessage
}

// Outcome reports what an attributed event did.
type Outcome struct {
	GuestID        string
	Tier           string // "exact", "recency" or "direct"
	Action         string
	PreviousStatus models.RsvpStatus
	NewStatus      models.RsvpStatus
	GuestCount     int
	Changed        bool
}

// Correlator resolves inbound events to guests and drives the RSVP
// state machine.
type Correlator struct {
	store    *storage.Store
	notifier *notify.Notifier
	flows    *automation.Flows
	phones   *phone.Canonicalizer
	log      zerolog.Logger
	now      func() time.Time
}

func New(store *storage.Store, notifier *notify.Notifier, flows *automation.Flows, phones *phone.Canonicalizer, log zerolog.Logger) *Correlator {
	return &Correlator{
		store:    store,
		notifier: notifier,
		flows:    flows,
		phones:   phones,
		log:      log.With().Str("component", "correlator").Logger(),
		now:      time.Now,
	}
}

// Correlate attributes msg to a guest and applies the implied
// transition. An unresolvable event is logged and dropped (nil, nil):
// no guest can be safely identified, so the system never guesses.
func (c *Correlator) Correlate(ctx context.Context, msg InboundMessage) (*Outcome, error) {
	guest, repliedTo, tier, err := c.resolve(ctx, msg)
	if err != nil {
		return nil, err
	}
	if guest == nil {
		c.log.Warn().
			Str("from", msg.From).
			Str("in_reply_to", msg.InReplyTo).
			RawJSON("payload", rawOrNull(msg.Raw)).
			Msg("Inbound event could not be attributed to any guest, dropping")
		return nil, nil
	}

	log := c.log.With().Str("guest_id", guest.ID).Str("tier", tier).Logger()

	if c.isCountReply(msg, repliedTo) {
		outcome, err := c.applyCount(ctx, guest, msg)
		if outcome != nil {
			outcome.Tier = tier
		}
		if err != nil {
			log.Error().Err(err).RawJSON("payload", rawOrNull(msg.Raw)).Msg("Failed to apply guest count reply")
		}
		return outcome, err
	}

	status, ok := parseChoice(msg)
	if !ok {
		// Not a recognizable answer; nothing to apply.
		log.Debug().Str("selection", msg.Selection).Msg("Inbound event carries no RSVP meaning, ignoring")
		return nil, nil
	}

	outcome, err := c.applyChoice(ctx, guest, msg, status)
	if outcome != nil {
		outcome.Tier = tier
	}
	if err != nil {
		log.Error().Err(err).RawJSON("payload", rawOrNull(msg.Raw)).Msg("Failed to apply choice reply")
	}
	return outcome, err
}

// resolve runs the tiered strategy chain: exact token match, then
// recency among phone-matched guests, then direct phone lookup. Each
// tier is attempted only when the previous one fails.
func (c *Correlator) resolve(ctx context.Context, msg InboundMessage) (*models.Guest, *models.NotificationLog, string, error) {
	if msg.InReplyTo != "" {
		entry, err := c.store.NotificationByToken(ctx, msg.InReplyTo)
		if err != nil {
			return nil, nil, "", err
		}
		if entry != nil {
			guest, err := c.store.GuestByID(ctx, entry.GuestID)
			if err != nil {
				return nil, nil, "", err
			}
			return guest, entry, "exact", nil
		}
	}

	guests, err := c.store.GuestsByPhoneVariants(ctx, c.phones.Variants(msg.From))
	if err != nil {
		return nil, nil, "", err
	}
	if len(guests) == 0 {
		return nil, nil, "", nil
	}

	ids := make([]string, len(guests))
	for i := range guests {
		ids[i] = guests[i].ID
	}
	entry, err := c.store.LatestRepliableNotification(ctx, ids)
	if err != nil {
		return nil, nil, "", err
	}
	if entry != nil {
		for i := range guests {
			if guests[i].ID == entry.GuestID {
				return &guests[i], entry, "recency", nil
			}
		}
	}

	return &guests[0], nil, "direct", nil
}

// isCountReply decides whether msg answers a guest-count request: a
// list/numeric picker selection, or a bare number replying to a
// guest-count-request message.
func (c *Correlator) isCountReply(msg InboundMessage, repliedTo *models.NotificationLog) bool {
	if msg.Kind == KindList {
		return true
	}
	if repliedTo != nil && repliedTo.MessageType == models.MessageGuestCountRequest {
		_, err := strconv.Atoi(strings.TrimSpace(msg.Selection))
		return err == nil
	}
	return false
}

// applyChoice handles an accept/decline/maybe answer: record the
// inbound event, transition the RSVP idempotently and run the outcome's
// side effects. The RSVP upsert commits before the sends, so a
// redelivery can arrive with the status already applied after a
// transient send failure; side effects therefore key on the ledger, not
// only on whether the status changed. A duplicate delivery after a
// fully successful first pass changes no state and sends nothing,
// though it is still logged.
func (c *Correlator) applyChoice(ctx context.Context, guest *models.Guest, msg InboundMessage, status models.RsvpStatus) (*Outcome, error) {
	prev, err := c.store.RsvpByGuest(ctx, guest.ID)
	if err != nil {
		return nil, err
	}

	outcome := &Outcome{
		GuestID:        guest.ID,
		Action:         string(status),
		PreviousStatus: prev.Status,
		NewStatus:      status,
		Changed:        prev.Status != status,
	}

	if err := c.recordResponse(ctx, guest, msg, string(status), prev.Status, status); err != nil {
		return outcome, err
	}

	if outcome.Changed {
		// Count stays zero here: declined guests hold no seats and
		// accepted ones report their count in the follow-up numeric
		// reply.
		if _, err := c.store.UpsertRsvp(ctx, guest.ID, status, 0); err != nil {
			return outcome, err
		}
	}

	event, err := c.store.EventByID(ctx, guest.EventID)
	if err != nil {
		return outcome, err
	}

	switch status {
	case models.RsvpAccepted:
		// Second webhook round-trip: the numeric reply to this message
		// comes back through Correlate and lands in applyCount.
		send, err := c.needsSend(ctx, guest.ID, models.MessageGuestCountRequest, outcome.Changed)
		if err != nil {
			return outcome, err
		}
		if send {
			if err := c.notifier.SendGuestCountRequest(ctx, guest); err != nil {
				return outcome, err
			}
		}
	case models.RsvpDeclined:
		send, err := c.needsSend(ctx, guest.ID, models.MessageConfirmation, outcome.Changed)
		if err != nil {
			return outcome, err
		}
		if send {
			if err := c.notifier.SendConfirmation(ctx, guest, event, status, 0); err != nil {
				return outcome, err
			}
		}
	case models.RsvpMaybe:
		// Scheduling precedes the confirmation send and runs on every
		// delivery: it is create-if-absent underneath, and ordering it
		// first means a failed send cannot lose the follow-up.
		if err := c.flows.ScheduleMaybeFollowUp(ctx, event, guest.ID); err != nil {
			return outcome, err
		}
		send, err := c.needsSend(ctx, guest.ID, models.MessageConfirmation, outcome.Changed)
		if err != nil {
			return outcome, err
		}
		if send {
			if err := c.notifier.SendConfirmation(ctx, guest, event, status, 0); err != nil {
				return outcome, err
			}
		}
	}
	return outcome, nil
}

// needsSend reports whether a transition's side-effect message still
// has to go out. After a state change it always does; on a duplicate
// delivery the ledger decides, so a redelivery following a transient
// send failure repairs the conversation instead of dropping it.
func (c *Correlator) needsSend(ctx context.Context, guestID string, msgType models.MessageType, changed bool) (bool, error) {
	if changed {
		return true, nil
	}
	last, err := c.store.LastNotification(ctx, guestID, "", []models.MessageType{msgType})
	if err != nil {
		return false, err
	}
	return last == nil || last.Status == models.DeliveryFailed, nil
}

// applyCount handles a numeric guest-count answer.
func (c *Correlator) applyCount(ctx context.Context, guest *models.Guest, msg InboundMessage) (*Outcome, error) {
	n, err := strconv.Atoi(strings.TrimSpace(msg.Selection))
	if err != nil || n <= 0 {
		c.log.Warn().
			Str("guest_id", guest.ID).
			Str("selection", msg.Selection).
			Msg("Guest count reply is not a positive integer, ignoring")
		return nil, nil
	}

	prev, err := c.store.RsvpByGuest(ctx, guest.ID)
	if err != nil {
		return nil, err
	}

	outcome := &Outcome{
		GuestID:        guest.ID,
		Action:         "guest_count",
		PreviousStatus: prev.Status,
		NewStatus:      models.RsvpAccepted,
		GuestCount:     n,
		Changed:        prev.Status != models.RsvpAccepted || prev.GuestCount != n,
	}

	if err := c.recordResponse(ctx, guest, msg, "guest_count", prev.Status, models.RsvpAccepted); err != nil {
		return outcome, err
	}

	if outcome.Changed {
		if _, err := c.store.UpsertRsvp(ctx, guest.ID, models.RsvpAccepted, n); err != nil {
			return outcome, err
		}
	}

	event, err := c.store.EventByID(ctx, guest.EventID)
	if err != nil {
		return outcome, err
	}
	send, err := c.needsSend(ctx, guest.ID, models.MessageConfirmation, outcome.Changed)
	if err != nil {
		return outcome, err
	}
	if send {
		if err := c.notifier.SendConfirmation(ctx, guest, event, models.RsvpAccepted, n); err != nil {
			return outcome, err
		}
	}
	return outcome, nil
}

// recordResponse writes the write-once inbound attribution record.
func (c *Correlator) recordResponse(ctx context.Context, guest *models.Guest, msg InboundMessage, action string, prev, next models.RsvpStatus) error {
	resp := &models.ButtonResponse{
		GuestID:        guest.ID,
		Channel:        msg.Channel,
		Action:         action,
		Selection:      msg.Selection,
		PreviousStatus: prev,
		NewStatus:      next,
	}
	if len(msg.Raw) > 0 {
		resp.RawPayload = datatypes.JSON(msg.Raw)
	}
	if err := c.store.CreateButtonResponse(ctx, resp); err != nil {
		return fmt.Errorf("record inbound response: %w", err)
	}
	return nil
}

var (
	acceptWords  = []string{"yes", "yep", "yeah", "accept", "accepting", "attending", "coming", "will come", "will be there", "✅"}
	declineWords = []string{"no", "nope", "decline", "declining", "not coming", "can't come", "won't come", "can't make it", "❌"}
	maybeWords   = []string{"maybe", "not sure", "don't know", "perhaps", "might", "🤔"}
)

// parseChoice maps a button id or free text onto an RSVP status.
// Maybe is checked before decline so hedging phrases like "not sure"
// are not read as refusals.
func parseChoice(msg InboundMessage) (models.RsvpStatus, bool) {
	sel := strings.ToLower(strings.TrimSpace(msg.Selection))
	if sel == "" {
		return "", false
	}

	switch sel {
	case "accept", "rsvp_accept":
		return models.RsvpAccepted, true
	case "decline", "rsvp_decline":
		return models.RsvpDeclined, true
	case "maybe", "rsvp_maybe":
		return models.RsvpMaybe, true
	}

	if msg.Kind == KindButton {
		return "", false
	}

	// Order matters: "not coming" contains the word "coming", so maybe
	// and decline are matched before accept.
	if containsAny(sel, maybeWords...) {
		return models.RsvpMaybe, true
	}
	if containsAny(sel, declineWords...) {
		return models.RsvpDeclined, true
	}
	if containsAny(sel, acceptWords...) {
		return models.RsvpAccepted, true
	}
	return "", false
}

// containsAny checks if the text contains any of the given keywords.
// Bare-word keywords match whole words only, so "no" does not hide
// inside "know" or "now"; phrases and emoji match as substrings.
func containsAny(text string, keywords ...string) bool {
	var words []string
	for _, keyword := range keywords {
		if !lettersOnly(keyword) {
			if strings.Contains(text, keyword) {
				return true
			}
			continue
		}
		if words == nil {
			words = strings.FieldsFunc(text, func(r rune) bool {
				return !unicode.IsLetter(r) && !unicode.IsNumber(r) && r != '\''
			})
		}
		for _, w := range words {
			if w == keyword {
				return true
			}
		}
	}
	return false
}

func lettersOnly(s string) bool {
	for _, r := range s {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return true
}

func rawOrNull(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return []byte("null")
	}
	return raw
}
