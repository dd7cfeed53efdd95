package handler

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"wedding-notify/internal/automation"
	"wedding-notify/internal/correlator"
	"wedding-notify/internal/models"
	"wedding-notify/internal/notify"
	"wedding-notify/internal/phone"
	"wedding-notify/internal/storage"
)

const testSecret = "webhook-test-secret"

type stubSender struct {
	mu  sync.Mutex
	seq int
	ids []string
}

func (s *stubSender) SendText(context.Context, string, string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	id := fmt.Sprintf("wamid-%d", s.seq)
	s.ids = append(s.ids, id)
	return id, nil
}

type webhookFixture struct {
	router *gin.Engine
	store  *storage.Store
	sender *stubSender
	event  *models.Event
	guest  *models.Guest
}

func newWebhookFixture(t *testing.T, secret string) *webhookFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=on", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	store := storage.New(db, zerolog.Nop())
	require.NoError(t, store.Migrate())

	ctx := context.Background()
	event := &models.Event{
		Name:                    "Anna & David",
		EventDate:               time.Now().UTC().Add(30 * 24 * time.Hour),
		MaybeFollowUpDelayHours: 24,
	}
	require.NoError(t, store.CreateEvent(ctx, event))

	phones := phone.NewCanonicalizer("972")
	guest := &models.Guest{
		EventID:     event.ID,
		Name:        "Noa Levi",
		PhoneNumber: phones.Normalize("0584003578"),
		RawPhone:    "0584003578",
	}
	require.NoError(t, store.CreateGuest(ctx, guest))

	sender := &stubSender{}
	notifier := notify.NewNotifier(store, sender, "whatsapp", zerolog.Nop())
	flows := automation.NewFlows(store, zerolog.Nop())
	corr := correlator.New(store, notifier, flows, phones, zerolog.Nop())
	h := New(store, corr, flows, notifier, phones, secret, zerolog.Nop())

	return &webhookFixture{
		router: SetupRouter(h),
		store:  store,
		sender: sender,
		event:  event,
		guest:  guest,
	}
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func (f *webhookFixture) post(t *testing.T, signature string, payload map[string]interface{}) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/webhook/whatsapp", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set(SignatureHeader, signature)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

// waitForRsvp polls until the guest's RSVP leaves pending; correlation
// runs asynchronously behind the webhook acknowledgement.
func (f *webhookFixture) waitForRsvp(t *testing.T, want models.RsvpStatus) *models.Rsvp {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		rsvp, err := f.store.RsvpByGuest(context.Background(), f.guest.ID)
		require.NoError(t, err)
		if rsvp.Status == want {
			return rsvp
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("rsvp never reached %s", want)
	return nil
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	f := newWebhookFixture(t, testSecret)

	payload := map[string]interface{}{"from": "0584003578", "type": "text", "selection": "yes"}

	w := f.post(t, "sha256=deadbeef", payload)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.post(t, "", payload)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// Rejected events must leave no trace.
	rsvp, err := f.store.RsvpByGuest(context.Background(), f.guest.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RsvpPending, rsvp.Status)
}

func TestWebhookAcceptsSignedEvent(t *testing.T) {
	f := newWebhookFixture(t, testSecret)

	body, err := json.Marshal(map[string]interface{}{
		"from": "0584003578", "type": "text", "selection": "yes, coming!",
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/webhook/whatsapp", bytes.NewReader(body))
	req.Header.Set(SignatureHeader, sign(testSecret, body))
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	rsvp := f.waitForRsvp(t, models.RsvpAccepted)
	assert.Equal(t, models.RsvpAccepted, rsvp.Status)
}

func TestWebhookOpenWithoutSecret(t *testing.T) {
	f := newWebhookFixture(t, "")

	w := f.post(t, "", map[string]interface{}{
		"from": "0584003578", "type": "text", "selection": "maybe",
	})
	assert.Equal(t, http.StatusOK, w.Code)
	f.waitForRsvp(t, models.RsvpMaybe)
}

func TestWebhookRejectsMalformedPayload(t *testing.T) {
	f := newWebhookFixture(t, testSecret)

	body := []byte("{not json")
	req := httptest.NewRequest(http.MethodPost, "/webhook/whatsapp", bytes.NewReader(body))
	req.Header.Set(SignatureHeader, sign(testSecret, body))
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWebhookRejectsUnknownType(t *testing.T) {
	f := newWebhookFixture(t, testSecret)

	body, err := json.Marshal(map[string]interface{}{"from": "0584003578", "type": "video"})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/webhook/whatsapp", bytes.NewReader(body))
	req.Header.Set(SignatureHeader, sign(testSecret, body))
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWebhookDeliveryStatusUpdatesLedger(t *testing.T) {
	f := newWebhookFixture(t, testSecret)
	ctx := context.Background()

	notifier := notify.NewNotifier(f.store, f.sender, "whatsapp", zerolog.Nop())
	require.NoError(t, notifier.SendInteractiveInvite(ctx, f.guest, f.event))
	token := f.sender.ids[len(f.sender.ids)-1]

	body, err := json.Marshal(map[string]interface{}{
		"type": "status", "message_id": token, "status": "delivered",
	})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/webhook/whatsapp", bytes.NewReader(body))
	req.Header.Set(SignatureHeader, sign(testSecret, body))
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	last, err := f.store.LastNotification(ctx, f.guest.ID, "", nil)
	require.NoError(t, err)
	assert.Equal(t, models.DeliveryDelivered, last.Status)
}

func TestWebhookStatusRequiresMessageID(t *testing.T) {
	f := newWebhookFixture(t, testSecret)

	body, err := json.Marshal(map[string]interface{}{"type": "status", "status": "delivered"})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/webhook/whatsapp", bytes.NewReader(body))
	req.Header.Set(SignatureHeader, sign(testSecret, body))
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
