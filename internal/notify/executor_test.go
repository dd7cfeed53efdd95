package notify

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wedding-notify/internal/automation"
	"wedding-notify/internal/models"
)

func TestExecutorDispatchesActions(t *testing.T) {
	store, guest, event := setup(t)
	sender := &scriptedSender{id: "wamid-1"}
	exec := NewExecutor(NewNotifier(store, sender, "whatsapp", zerolog.Nop()), zerolog.Nop())

	ec := automation.ExecContext{Guest: *guest, Event: *event}
	ctx := context.Background()

	res := exec.Execute(ctx, models.ActionSendReminder, ec)
	assert.True(t, res.Success)
	last, err := store.LastNotification(ctx, guest.ID, "", nil)
	require.NoError(t, err)
	assert.Equal(t, models.MessageReminder, last.MessageType)

	res = exec.Execute(ctx, models.ActionSendInteractiveReminder, ec)
	assert.True(t, res.Success)
	last, err = store.LastNotification(ctx, guest.ID, "", nil)
	require.NoError(t, err)
	assert.Equal(t, models.MessageInteractiveReminder, last.MessageType)
}

func TestExecutorCustomMessageRequiresText(t *testing.T) {
	store, guest, event := setup(t)
	sender := &scriptedSender{id: "wamid-1"}
	exec := NewExecutor(NewNotifier(store, sender, "whatsapp", zerolog.Nop()), zerolog.Nop())

	ec := automation.ExecContext{Guest: *guest, Event: *event}
	res := exec.Execute(context.Background(), models.ActionSendCustomMessage, ec)
	assert.False(t, res.Success)

	ec.CustomMessage = "Shuttle leaves at five."
	res = exec.Execute(context.Background(), models.ActionSendCustomMessage, ec)
	assert.True(t, res.Success)

	last, err := store.LastNotification(context.Background(), guest.ID, "", nil)
	require.NoError(t, err)
	assert.Equal(t, "Shuttle leaves at five.", last.Body)
}

func TestExecutorUnknownAction(t *testing.T) {
	store, guest, event := setup(t)
	exec := NewExecutor(NewNotifier(store, &scriptedSender{id: "x"}, "whatsapp", zerolog.Nop()), zerolog.Nop())

	res := exec.Execute(context.Background(), models.ActionType("send_pigeon"), automation.ExecContext{Guest: *guest, Event: *event})
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "unknown action")
}
