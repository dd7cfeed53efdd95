// Package handler exposes the HTTP surface: the provider webhook and
// the owner API.
package handler

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"wedding-notify/internal/automation"
	"wedding-notify/internal/correlator"
	"wedding-notify/internal/models"
	"wedding-notify/internal/notify"
	"wedding-notify/internal/phone"
	"wedding-notify/internal/storage"
)

// SignatureHeader carries the HMAC of the request body.
const SignatureHeader = "X-Hub-Signature-256"

// webhookPayload is the generic provider event shape.
type webhookPayload struct {
	From      string `json:"from"`
	Type      string `json:"type"` // button | list | text | status
	Selection string `json:"selection"`
	InReplyTo string `json:"in_reply_to,omitempty"`
	MessageID string `json:"message_id,omitempty"`
	Status    string `json:"status,omitempty"`
}

type Handler struct {
	store      *storage.Store
	correlator *correlator.Correlator
	flows      *automation.Flows
	notifier   *notify.Notifier
	phones     *phone.Canonicalizer
	secret     string
	log        zerolog.Logger
}

func New(store *storage.Store, corr *correlator.Correlator, flows *automation.Flows, notifier *notify.Notifier, phones *phone.Canonicalizer, secret string, log zerolog.Logger) *Handler {
	return &Handler{
		store:      store,
		correlator: corr,
		flows:      flows,
		notifier:   notifier,
		phones:     phones,
		secret:     secret,
		log:        log.With().Str("component", "webhook").Logger(),
	}
}

// Webhook ingests one provider event. Requests failing signature
// verification are rejected with 401 before any payload inspection;
// malformed shapes get 400. Everything else is acknowledged immediately
// and correlated asynchronously so the provider's delivery timeout is
// never at the mercy of our storage.
func (h *Handler) Webhook(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "unreadable body"})
		return
	}

	if !h.verifySignature(body, c.GetHeader(SignatureHeader)) {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "invalid signature"})
		return
	}

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "malformed payload"})
		return
	}

	channel := c.Param("channel")
	if channel == "" {
		channel = "whatsapp"
	}

	switch payload.Type {
	case "status":
		// Delivery callback: update the ledger row, nothing to correlate.
		if payload.MessageID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "status event without message_id"})
			return
		}
		h.applyDeliveryStatus(c.Request.Context(), payload)
	case "button", "list", "text":
		if payload.From == "" {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "event without sender"})
			return
		}
		msg := correlator.InboundMessage{
			Channel:   channel,
			From:      payload.From,
			Kind:      correlator.InteractionKind(payload.Type),
			Selection: payload.Selection,
			InReplyTo: payload.InReplyTo,
			Raw:       json.RawMessage(body),
		}
		// Fire-and-forget relative to the HTTP response. Persistence
		// errors are logged, never surfaced: the provider redelivers
		// and every write on this path is duplicate-safe.
		go h.correlate(msg)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "unknown event type"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handler) correlate(msg correlator.InboundMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := h.correlator.Correlate(ctx, msg); err != nil {
		h.log.Error().Err(err).
			Str("from", msg.From).
			RawJSON("payload", msg.Raw).
			Msg("Webhook correlation failed; provider retry will re-process")
	}
}

func (h *Handler) applyDeliveryStatus(ctx context.Context, payload webhookPayload) {
	status := models.DeliveryDelivered
	if strings.EqualFold(payload.Status, "failed") {
		status = models.DeliveryFailed
	}
	if err := h.store.MarkDelivery(ctx, payload.MessageID, status); err != nil {
		h.log.Error().Err(err).Str("message_id", payload.MessageID).Msg("Failed to apply delivery status")
	}
}

// verifySignature checks the hex HMAC-SHA256 of the body, accepting the
// conventional "sha256=" prefix. Comparison is constant-time.
func (h *Handler) verifySignature(body []byte, header string) bool {
	if h.secret == "" {
		// No secret configured: webhook is open (dev mode only).
		return true
	}
	header = strings.TrimPrefix(header, "sha256=")
	sig, err := hex.DecodeString(header)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(h.secret))
	mac.Write(body)
	return hmac.Equal(sig, mac.Sum(nil))
}
