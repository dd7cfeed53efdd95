package automation

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wedding-notify/internal/models"
	"wedding-notify/internal/storage"
)

type plannerFixture struct {
	store   *storage.Store
	planner *Planner
	event   *models.Event
	clock   time.Time
}

func newPlannerFixture(t *testing.T, eventIn time.Duration) *plannerFixture {
	t.Helper()
	store := newStore(t)
	clock := time.Date(2026, time.June, 10, 12, 0, 0, 0, time.UTC)

	event := &models.Event{
		Name:      "Anna & David",
		EventDate: clock.Add(eventIn),
	}
	require.NoError(t, store.CreateEvent(context.Background(), event))

	f := &plannerFixture{
		store:   store,
		planner: NewPlanner(store, DefaultPlannerConfig(), zerolog.Nop()),
		event:   event,
		clock:   clock,
	}
	f.planner.now = func() time.Time { return f.clock }
	return f
}

func (f *plannerFixture) addGuest(t *testing.T, name string, status models.RsvpStatus) *models.Guest {
	t.Helper()
	ctx := context.Background()
	guest := &models.Guest{EventID: f.event.ID, Name: name, PhoneNumber: "97250" + name}
	require.NoError(t, f.store.CreateGuest(ctx, guest))
	if status != models.RsvpPending {
		_, err := f.store.UpsertRsvp(ctx, guest.ID, status, 0)
		require.NoError(t, err)
	}
	return guest
}

func TestPlannerMaterializesMorningReminder(t *testing.T) {
	f := newPlannerFixture(t, 3*24*time.Hour)
	ctx := context.Background()

	pending := f.addGuest(t, "pending", models.RsvpPending)
	declined := f.addGuest(t, "declined", models.RsvpDeclined)

	flow, err := f.store.EnsureFlow(ctx, f.event.ID, models.TriggerEventMorning, models.ActionSendReminder, 0)
	require.NoError(t, err)

	f.planner.RunCycle(ctx)

	exec, err := f.store.ExecutionFor(ctx, flow.ID, pending.ID)
	require.NoError(t, err)
	require.NotNil(t, exec)
	require.NotNil(t, exec.ScheduledFor)

	d := f.event.EventDate
	wantAt := time.Date(d.Year(), d.Month(), d.Day(), 9, 0, 0, 0, d.Location())
	assert.WithinDuration(t, wantAt, *exec.ScheduledFor, time.Second)

	// Reminder actions only chase guests who have not answered.
	none, err := f.store.ExecutionFor(ctx, flow.ID, declined.ID)
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestPlannerHoursBeforeFireTime(t *testing.T) {
	f := newPlannerFixture(t, 3*24*time.Hour)
	ctx := context.Background()
	guest := f.addGuest(t, "pending", models.RsvpPending)

	flow, err := f.store.EnsureFlow(ctx, f.event.ID, models.TriggerEventHoursBefore, models.ActionSendInteractiveReminder, 48)
	require.NoError(t, err)

	f.planner.RunCycle(ctx)

	exec, err := f.store.ExecutionFor(ctx, flow.ID, guest.ID)
	require.NoError(t, err)
	require.NotNil(t, exec)
	require.NotNil(t, exec.ScheduledFor)
	assert.WithinDuration(t, f.event.EventDate.Add(-48*time.Hour), *exec.ScheduledFor, time.Second)
}

func TestPlannerIsIdempotentAcrossCycles(t *testing.T) {
	f := newPlannerFixture(t, 3*24*time.Hour)
	ctx := context.Background()
	f.addGuest(t, "pending", models.RsvpPending)

	flow, err := f.store.EnsureFlow(ctx, f.event.ID, models.TriggerEventMorning, models.ActionSendReminder, 0)
	require.NoError(t, err)

	f.planner.RunCycle(ctx)
	f.planner.RunCycle(ctx)
	f.clock = f.clock.Add(time.Hour)
	f.planner.RunCycle(ctx)

	execs, err := f.store.ExecutionsByFlow(ctx, flow.ID)
	require.NoError(t, err)
	assert.Len(t, execs, 1)
}

func TestPlannerIgnoresEventsOutsideHorizon(t *testing.T) {
	f := newPlannerFixture(t, 14*24*time.Hour)
	ctx := context.Background()
	guest := f.addGuest(t, "pending", models.RsvpPending)

	flow, err := f.store.EnsureFlow(ctx, f.event.ID, models.TriggerEventMorning, models.ActionSendReminder, 0)
	require.NoError(t, err)

	f.planner.RunCycle(ctx)

	exec, err := f.store.ExecutionFor(ctx, flow.ID, guest.ID)
	require.NoError(t, err)
	assert.Nil(t, exec)

	// Once the event slides into the horizon it gets planned.
	f.clock = f.clock.Add(8 * 24 * time.Hour)
	f.planner.RunCycle(ctx)

	exec, err = f.store.ExecutionFor(ctx, flow.ID, guest.ID)
	require.NoError(t, err)
	assert.NotNil(t, exec)
}

func TestEligible(t *testing.T) {
	reminder := &models.AutomationFlow{ActionType: models.ActionSendInteractiveReminder}
	custom := &models.AutomationFlow{ActionType: models.ActionSendCustomMessage}

	guestWith := func(status models.RsvpStatus) *models.Guest {
		return &models.Guest{Rsvp: &models.Rsvp{Status: status}}
	}

	assert.True(t, eligible(reminder, guestWith(models.RsvpPending)))
	assert.False(t, eligible(reminder, guestWith(models.RsvpAccepted)))
	assert.False(t, eligible(reminder, guestWith(models.RsvpDeclined)))
	assert.False(t, eligible(reminder, guestWith(models.RsvpMaybe)))

	assert.True(t, eligible(custom, guestWith(models.RsvpPending)))
	assert.True(t, eligible(custom, guestWith(models.RsvpAccepted)))
	assert.True(t, eligible(custom, guestWith(models.RsvpMaybe)))
	assert.False(t, eligible(custom, guestWith(models.RsvpDeclined)))

	// A guest without an RSVP row counts as pending.
	assert.True(t, eligible(reminder, &models.Guest{}))
}
