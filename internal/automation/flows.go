package automation

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"wedding-notify/internal/models"
	"wedding-notify/internal/storage"
)

// FlowTemplate is a ready-made trigger->action rule an owner can enable
// without configuring anything.
type FlowTemplate struct {
	Name        string
	TriggerType models.TriggerType
	ActionType  models.ActionType
	DelayHours  int
}

// DefaultTemplates returns the built-in flow catalogue.
func DefaultTemplates() []FlowTemplate {
	return []FlowTemplate{
		{Name: "Remind after one day of silence", TriggerType: models.TriggerNoResponse, ActionType: models.ActionSendInteractiveReminder, DelayHours: 24},
		{Name: "Follow up on a maybe", TriggerType: models.TriggerRsvpMaybe, ActionType: models.ActionSendInteractiveReminder, DelayHours: 24},
		{Name: "Morning-of reminder", TriggerType: models.TriggerEventMorning, ActionType: models.ActionSendReminder},
		{Name: "Final nudge before the event", TriggerType: models.TriggerEventHoursBefore, ActionType: models.ActionSendInteractiveReminder, DelayHours: 48},
	}
}

// Flows manages the automation flow lifecycle: creation, activation
// (which materializes executions), pausing and archiving (which sweep
// the pending queue).
type Flows struct {
	store *storage.Store
	log   zerolog.Logger
	now   func() time.Time
}

func NewFlows(store *storage.Store, log zerolog.Logger) *Flows {
	return &Flows{
		store: store,
		log:   log.With().Str("component", "flows").Logger(),
		now:   time.Now,
	}
}

// Create adds a draft flow for an event. The (event, trigger) pair must
// be unused.
func (f *Flows) Create(ctx context.Context, eventID string, trigger models.TriggerType, action models.ActionType, delayHours int, customMessage string) (*models.AutomationFlow, error) {
	flow := &models.AutomationFlow{
		EventID:       eventID,
		TriggerType:   trigger,
		ActionType:    action,
		DelayHours:    delayHours,
		CustomMessage: customMessage,
		Status:        models.FlowDraft,
	}
	if err := f.store.CreateFlow(ctx, flow); err != nil {
		return nil, err
	}
	return flow, nil
}

// CreateFromTemplate instantiates a template for an event.
func (f *Flows) CreateFromTemplate(ctx context.Context, eventID string, tmpl FlowTemplate) (*models.AutomationFlow, error) {
	return f.Create(ctx, eventID, tmpl.TriggerType, tmpl.ActionType, tmpl.DelayHours, "")
}

// Activate turns a flow on and materializes pending executions for
// every currently eligible guest. Calendar triggers are left to the
// planner, which owns computing their absolute fire times.
func (f *Flows) Activate(ctx context.Context, flowID string) error {
	flow, err := f.store.FlowByID(ctx, flowID)
	if err != nil {
		return err
	}
	if err := f.store.SetFlowStatus(ctx, flowID, models.FlowActive); err != nil {
		return err
	}

	for _, t := range models.CalendarTriggers {
		if flow.TriggerType == t {
			return nil
		}
	}

	guests, err := f.store.GuestsByEvent(ctx, flow.EventID)
	if err != nil {
		return err
	}
	created := 0
	for i := range guests {
		if !eligible(flow, &guests[i]) {
			continue
		}
		ok, err := f.store.CreateExecutionIfAbsent(ctx, flow.ID, guests[i].ID, nil)
		if err != nil {
			f.log.Error().Err(err).
				Str("flow_id", flow.ID).
				Str("guest_id", guests[i].ID).
				Msg("Failed to materialize execution")
			continue
		}
		if ok {
			created++
		}
	}
	f.log.Info().
		Str("flow_id", flow.ID).
		Str("trigger", string(flow.TriggerType)).
		Int("created", created).
		Msg("Flow activated")
	return nil
}

// Pause stops a flow and skips its pending executions.
func (f *Flows) Pause(ctx context.Context, flowID string) error {
	return f.deactivate(ctx, flowID, models.FlowPaused, "flow paused")
}

// Archive retires a flow and skips its pending executions.
func (f *Flows) Archive(ctx context.Context, flowID string) error {
	return f.deactivate(ctx, flowID, models.FlowArchived, "flow archived")
}

func (f *Flows) deactivate(ctx context.Context, flowID string, status models.FlowStatus, reason string) error {
	if err := f.store.SetFlowStatus(ctx, flowID, status); err != nil {
		return err
	}
	swept, err := f.store.SweepPendingExecutions(ctx, flowID, reason)
	if err != nil {
		return err
	}
	f.log.Info().
		Str("flow_id", flowID).
		Str("status", string(status)).
		Int64("swept", swept).
		Msg("Flow deactivated")
	return nil
}

// ScheduleMaybeFollowUp enqueues the dedicated follow-up for a guest
// who answered "maybe". The owning flow is lazily created on first use;
// either way the event's configured delay is authoritative, never the
// flow's possibly stale one.
func (f *Flows) ScheduleMaybeFollowUp(ctx context.Context, event *models.Event, guestID string) error {
	delayHours := event.MaybeFollowUpDelayHours
	if delayHours <= 0 {
		delayHours = 24
	}

	flow, err := f.store.EnsureFlow(ctx, event.ID, models.TriggerRsvpMaybe, models.ActionSendInteractiveReminder, delayHours)
	if err != nil {
		return fmt.Errorf("failed to ensure maybe follow-up flow: %w", err)
	}
	if flow.Status != models.FlowActive {
		// The owner paused or archived follow-ups; an execution attached
		// here could neither fire nor be swept.
		f.log.Info().
			Str("flow_id", flow.ID).
			Str("guest_id", guestID).
			Str("status", string(flow.Status)).
			Msg("Maybe follow-up flow is not active, not scheduling")
		return nil
	}

	at := f.now().UTC().Add(time.Duration(delayHours) * time.Hour)
	created, err := f.store.CreateExecutionIfAbsent(ctx, flow.ID, guestID, &at)
	if err != nil {
		return fmt.Errorf("failed to schedule maybe follow-up: %w", err)
	}
	if !created {
		// The pair may hold a skipped row from an earlier abandon, for
		// example when the guest answered and then went back to maybe.
		// Re-arm it; completed or in-flight rows are left alone.
		created, err = f.store.ReviveExecution(ctx, flow.ID, guestID, at)
		if err != nil {
			return fmt.Errorf("failed to revive maybe follow-up: %w", err)
		}
	}
	if created {
		f.log.Info().
			Str("guest_id", guestID).
			Time("scheduled_for", at).
			Msg("Scheduled maybe follow-up")
	}
	return nil
}
