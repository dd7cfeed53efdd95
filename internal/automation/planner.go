package automation

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"wedding-notify/internal/models"
	"wedding-notify/internal/storage"
)

// PlannerConfig controls the horizon scan for calendar-relative
// triggers and the retention sweep piggybacked on it.
type PlannerConfig struct {
	Horizon     time.Duration // how far ahead events are planned
	MorningHour int           // local hour for "morning of" sends
	Retention   time.Duration // terminal executions older than this are purged
	Interval    time.Duration
}

func DefaultPlannerConfig() PlannerConfig {
	return PlannerConfig{
		Horizon:     7 * 24 * time.Hour,
		MorningHour: 9,
		Retention:   30 * 24 * time.Hour,
		Interval:    time.Hour,
	}
}

// Planner materializes future executions for calendar-relative
// triggers. It runs at a lower frequency than the scheduler: for each
// event inside the horizon it computes the absolute fire time per
// active calendar flow and creates pending executions for every
// currently eligible guest, skipping pairs that already exist.
type Planner struct {
	store *storage.Store
	cfg   PlannerConfig
	log   zerolog.Logger
	now   func() time.Time
}

func NewPlanner(store *storage.Store, cfg PlannerConfig, log zerolog.Logger) *Planner {
	if cfg.Horizon <= 0 {
		cfg.Horizon = 7 * 24 * time.Hour
	}
	if cfg.MorningHour <= 0 {
		cfg.MorningHour = 9
	}
	return &Planner{
		store: store,
		cfg:   cfg,
		log:   log.With().Str("component", "planner").Logger(),
		now:   time.Now,
	}
}

// Run plans until ctx is cancelled.
func (p *Planner) Run(ctx context.Context) {
	interval := p.cfg.Interval
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	p.log.Info().Dur("interval", interval).Msg("Planner started")
	for {
		select {
		case <-ctx.Done():
			p.log.Info().Msg("Planner stopped")
			return
		case <-ticker.C:
			p.RunCycle(ctx)
		}
	}
}

// RunCycle plans one horizon window and purges stale terminal
// executions.
func (p *Planner) RunCycle(ctx context.Context) {
	now := p.now().UTC()
	events, err := p.store.EventsWithin(ctx, now, now.Add(p.cfg.Horizon))
	if err != nil {
		p.log.Error().Err(err).Msg("Failed to load upcoming events")
		return
	}

	for i := range events {
		p.planEvent(ctx, &events[i])
	}

	if p.cfg.Retention > 0 {
		purged, err := p.store.PurgeFinishedExecutions(ctx, now.Add(-p.cfg.Retention))
		if err != nil {
			p.log.Error().Err(err).Msg("Failed to purge finished executions")
		} else if purged > 0 {
			p.log.Info().Int64("purged", purged).Msg("Purged finished executions")
		}
	}
}

func (p *Planner) planEvent(ctx context.Context, event *models.Event) {
	log := p.log.With().Str("event_id", event.ID).Logger()

	flows, err := p.store.ActiveFlows(ctx, event.ID, models.CalendarTriggers...)
	if err != nil {
		log.Error().Err(err).Msg("Failed to load calendar flows")
		return
	}
	if len(flows) == 0 {
		return
	}

	guests, err := p.store.GuestsByEvent(ctx, event.ID)
	if err != nil {
		log.Error().Err(err).Msg("Failed to load guests")
		return
	}

	for _, flow := range flows {
		fireAt := p.fireTime(event, &flow)
		created := 0
		for i := range guests {
			if !eligible(&flow, &guests[i]) {
				continue
			}
			at := fireAt
			ok, err := p.store.CreateExecutionIfAbsent(ctx, flow.ID, guests[i].ID, &at)
			if err != nil {
				log.Error().Err(err).
					Str("guest_id", guests[i].ID).
					Msg("Failed to create planned execution")
				continue
			}
			if ok {
				created++
			}
		}
		if created > 0 {
			log.Info().
				Str("trigger", string(flow.TriggerType)).
				Time("fire_at", fireAt).
				Int("created", created).
				Msg("Planned calendar executions")
		}
	}
}

// fireTime computes the absolute fire time for a calendar trigger. Once
// stored on the execution it is never re-derived.
func (p *Planner) fireTime(event *models.Event, flow *models.AutomationFlow) time.Time {
	switch flow.TriggerType {
	case models.TriggerEventMorning:
		d := event.EventDate
		return time.Date(d.Year(), d.Month(), d.Day(), p.cfg.MorningHour, 0, 0, 0, d.Location())
	case models.TriggerEventHoursBefore:
		return event.EventDate.Add(-flow.Delay())
	default:
		return event.EventDate
	}
}

// eligible decides which guests an execution is created for at planning
// time. The maybe follow-up targets exactly the guests sitting on a
// maybe; seeding it with guests who never answered would burn the
// unique (flow, guest) slot before they ever say maybe. Otherwise
// reminder actions only chase guests who have not answered and
// everything else goes to every guest who has not declined. The
// evaluator re-checks eligibility at fire time either way.
func eligible(flow *models.AutomationFlow, guest *models.Guest) bool {
	status := models.RsvpPending
	if guest.Rsvp != nil {
		status = guest.Rsvp.Status
	}
	if flow.TriggerType == models.TriggerRsvpMaybe {
		return status == models.RsvpMaybe
	}
	switch flow.ActionType {
	case models.ActionSendReminder, models.ActionSendInteractiveReminder:
		return status == models.RsvpPending
	default:
		return status != models.RsvpDeclined
	}
}
