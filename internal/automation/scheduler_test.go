package automation

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"wedding-notify/internal/models"
	"wedding-notify/internal/storage"
)

// fakeExecutor records calls and answers from a script of results.
type fakeExecutor struct {
	mu      sync.Mutex
	calls   []models.ActionType
	results []Result
}

func (e *fakeExecutor) Execute(_ context.Context, action models.ActionType, _ ExecContext) Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, action)
	if len(e.results) == 0 {
		return Result{Success: true}
	}
	r := e.results[0]
	if len(e.results) > 1 {
		e.results = e.results[1:]
	}
	return r
}

func (e *fakeExecutor) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls)
}

func newStore(t *testing.T) *storage.Store {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=on", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	s := storage.New(db, zerolog.Nop())
	require.NoError(t, s.Migrate())
	return s
}

type schedFixture struct {
	store *storage.Store
	exec  *fakeExecutor
	sched *Scheduler
	event *models.Event
	guest *models.Guest
	clock time.Time
}

func newSchedFixture(t *testing.T) *schedFixture {
	t.Helper()
	store := newStore(t)
	ctx := context.Background()

	event := &models.Event{
		Name:      "Anna & David",
		EventDate: time.Now().UTC().Add(14 * 24 * time.Hour),
	}
	require.NoError(t, store.CreateEvent(ctx, event))
	guest := &models.Guest{EventID: event.ID, Name: "Noa", PhoneNumber: "972584003578"}
	require.NoError(t, store.CreateGuest(ctx, guest))

	exec := &fakeExecutor{}
	f := &schedFixture{
		store: store,
		exec:  exec,
		sched: NewScheduler(store, exec, DefaultSchedulerConfig(), zerolog.Nop()),
		event: event,
		guest: guest,
		clock: time.Now().UTC(),
	}
	f.sched.now = func() time.Time { return f.clock }
	return f
}

// seedInvite writes a sent invite to the ledger at the given time so
// the no-response delay has a reference point.
func (f *schedFixture) seedInvite(t *testing.T, sentAt time.Time) {
	t.Helper()
	f.seedSend(t, models.MessageInteractiveInvite, sentAt)
}

func (f *schedFixture) seedSend(t *testing.T, msgType models.MessageType, sentAt time.Time) {
	t.Helper()
	receipt, _ := json.Marshal(map[string]interface{}{"message_id": uuid.NewString()})
	require.NoError(t, f.store.AppendNotification(context.Background(), &models.NotificationLog{
		GuestID:          f.guest.ID,
		MessageType:      msgType,
		Channel:          "whatsapp",
		Status:           models.DeliverySent,
		ProviderResponse: datatypes.JSON(receipt),
		SentAt:           sentAt,
	}))
}

func (f *schedFixture) seedNoResponseExecution(t *testing.T) *models.AutomationFlowExecution {
	t.Helper()
	ctx := context.Background()
	flow, err := f.store.EnsureFlow(ctx, f.event.ID, models.TriggerNoResponse, models.ActionSendInteractiveReminder, 24)
	require.NoError(t, err)
	_, err = f.store.CreateExecutionIfAbsent(ctx, flow.ID, f.guest.ID, nil)
	require.NoError(t, err)
	exec, err := f.store.ExecutionFor(ctx, flow.ID, f.guest.ID)
	require.NoError(t, err)
	return exec
}

func TestSchedulerFiresDueReminder(t *testing.T) {
	f := newSchedFixture(t)
	f.seedInvite(t, f.clock.Add(-25*time.Hour))
	exec := f.seedNoResponseExecution(t)

	f.sched.RunCycle(context.Background())

	assert.Equal(t, 1, f.exec.callCount())
	assert.Equal(t, models.ActionSendInteractiveReminder, f.exec.calls[0])

	got, err := f.store.ExecutionByID(context.Background(), exec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionCompleted, got.Status)
}

func TestSchedulerDefersUntilDelayElapsed(t *testing.T) {
	f := newSchedFixture(t)
	sentAt := f.clock.Add(-2 * time.Hour)
	f.seedInvite(t, sentAt)
	exec := f.seedNoResponseExecution(t)

	f.sched.RunCycle(context.Background())

	// Not due yet: no send, execution pushed to sent-at plus delay.
	assert.Equal(t, 0, f.exec.callCount())
	got, err := f.store.ExecutionByID(context.Background(), exec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionPending, got.Status)
	require.NotNil(t, got.ScheduledFor)
	assert.WithinDuration(t, sentAt.Add(24*time.Hour), *got.ScheduledFor, time.Second)
}

func TestSchedulerNoResponseClockIgnoresNonSolicitingSends(t *testing.T) {
	f := newSchedFixture(t)
	f.seedInvite(t, f.clock.Add(-25*time.Hour))
	// A later confirmation, for example from an owner-corrected RSVP
	// that was reverted, must not push the nag out another day.
	f.seedSend(t, models.MessageConfirmation, f.clock.Add(-time.Hour))
	exec := f.seedNoResponseExecution(t)

	f.sched.RunCycle(context.Background())

	assert.Equal(t, 1, f.exec.callCount())
	got, err := f.store.ExecutionByID(context.Background(), exec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionCompleted, got.Status)
}

func TestSchedulerSkipsRespondedGuest(t *testing.T) {
	f := newSchedFixture(t)
	f.seedInvite(t, f.clock.Add(-25*time.Hour))
	exec := f.seedNoResponseExecution(t)

	_, err := f.store.UpsertRsvp(context.Background(), f.guest.ID, models.RsvpAccepted, 2)
	require.NoError(t, err)

	f.sched.RunCycle(context.Background())

	// The guest answered between scheduling and firing: abandon, don't
	// send.
	assert.Equal(t, 0, f.exec.callCount())
	got, err := f.store.ExecutionByID(context.Background(), exec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionSkipped, got.Status)
	assert.NotEmpty(t, got.ErrorMessage)
}

func TestSchedulerRetriesThenFailsPermanently(t *testing.T) {
	f := newSchedFixture(t)
	f.seedInvite(t, f.clock.Add(-25*time.Hour))
	exec := f.seedNoResponseExecution(t)
	f.exec.results = []Result{{Success: false, Message: "send failed"}}

	ctx := context.Background()

	// Attempt 1: fails, re-armed one backoff later.
	f.sched.RunCycle(ctx)
	got, err := f.store.ExecutionByID(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionPending, got.Status)
	assert.Equal(t, 1, got.RetryCount)
	require.NotNil(t, got.ScheduledFor)
	assert.WithinDuration(t, f.clock.Add(time.Hour), *got.ScheduledFor, time.Second)

	// Attempt 2: still failing.
	f.clock = f.clock.Add(time.Hour + time.Minute)
	f.sched.RunCycle(ctx)
	got, err = f.store.ExecutionByID(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionPending, got.Status)
	assert.Equal(t, 2, got.RetryCount)

	// Attempt 3 exhausts the budget.
	f.clock = f.clock.Add(time.Hour + time.Minute)
	f.sched.RunCycle(ctx)
	got, err = f.store.ExecutionByID(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionFailed, got.Status)
	assert.Contains(t, got.ErrorMessage, "retries exhausted after 3 attempts")
	assert.Equal(t, 3, f.exec.callCount())

	// A further cycle leaves the terminal state alone.
	f.clock = f.clock.Add(time.Hour + time.Minute)
	f.sched.RunCycle(ctx)
	assert.Equal(t, 3, f.exec.callCount())
}

func TestSchedulerIgnoresPausedFlows(t *testing.T) {
	f := newSchedFixture(t)
	f.seedInvite(t, f.clock.Add(-25*time.Hour))
	exec := f.seedNoResponseExecution(t)
	require.NoError(t, f.store.SetFlowStatus(context.Background(), exec.FlowID, models.FlowPaused))

	f.sched.RunCycle(context.Background())

	assert.Equal(t, 0, f.exec.callCount())
	got, err := f.store.ExecutionByID(context.Background(), exec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionPending, got.Status)
}

func TestSchedulerMaybeFollowUpHonorsStoredTime(t *testing.T) {
	f := newSchedFixture(t)
	ctx := context.Background()

	_, err := f.store.UpsertRsvp(ctx, f.guest.ID, models.RsvpMaybe, 0)
	require.NoError(t, err)

	flow, err := f.store.EnsureFlow(ctx, f.event.ID, models.TriggerRsvpMaybe, models.ActionSendInteractiveReminder, 24)
	require.NoError(t, err)

	due := f.clock.Add(-time.Minute)
	_, err = f.store.CreateExecutionIfAbsent(ctx, flow.ID, f.guest.ID, &due)
	require.NoError(t, err)

	f.sched.RunCycle(ctx)

	assert.Equal(t, 1, f.exec.callCount())
	exec, err := f.store.ExecutionFor(ctx, flow.ID, f.guest.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionCompleted, exec.Status)
}

func TestSchedulerMaybeFollowUpAbandonedAfterDecision(t *testing.T) {
	f := newSchedFixture(t)
	ctx := context.Background()

	// The guest firmed up before the follow-up fired.
	_, err := f.store.UpsertRsvp(ctx, f.guest.ID, models.RsvpAccepted, 2)
	require.NoError(t, err)

	flow, err := f.store.EnsureFlow(ctx, f.event.ID, models.TriggerRsvpMaybe, models.ActionSendInteractiveReminder, 24)
	require.NoError(t, err)
	due := f.clock.Add(-time.Minute)
	_, err = f.store.CreateExecutionIfAbsent(ctx, flow.ID, f.guest.ID, &due)
	require.NoError(t, err)

	f.sched.RunCycle(ctx)

	assert.Equal(t, 0, f.exec.callCount())
	exec, err := f.store.ExecutionFor(ctx, flow.ID, f.guest.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionSkipped, exec.Status)
}
