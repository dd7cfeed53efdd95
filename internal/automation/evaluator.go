// Package automation drives the rule-based follow-up engine: a pure
// trigger evaluator, the polling scheduler that consumes due
// executions, the planner that materializes calendar-relative ones, and
// the flow lifecycle service.
package automation

import (
	"time"

	"wedding-notify/internal/models"
)

// DecisionKind classifies what to do with a due execution.
type DecisionKind int

const (
	// DecisionFire means the trigger condition holds now.
	DecisionFire DecisionKind = iota
	// DecisionDefer means the execution is not due yet.
	DecisionDefer
	// DecisionAbandon means the condition can never hold again.
	DecisionAbandon
)

// Decision is the evaluator's verdict for one execution.
type Decision struct {
	Kind   DecisionKind
	Until  time.Time // valid for DecisionDefer
	Reason string    // valid for DecisionAbandon
}

func Fire() Decision                 { return Decision{Kind: DecisionFire} }
func Defer(until time.Time) Decision { return Decision{Kind: DecisionDefer, Until: until} }
func Abandon(reason string) Decision { return Decision{Kind: DecisionAbandon, Reason: reason} }

// Facts are the freshly loaded inputs the evaluator judges a trigger
// against. Loading them is the scheduler's job; evaluation itself is
// side-effect-free.
type Facts struct {
	RsvpStatus  models.RsvpStatus
	RespondedAt *time.Time
	GuestCount  int

	// LastSentAt is the timestamp of the last relevant outbound send on
	// the flow's channel; nil when the guest was never messaged.
	LastSentAt *time.Time

	EventDate time.Time
	HasTable  bool

	// Delay is the flow's configured delay.
	Delay time.Duration

	// ScheduledFor is the pre-materialized absolute fire time of
	// calendar-relative executions; nil otherwise.
	ScheduledFor *time.Time

	Now time.Time
}

// Evaluate decides whether a pending execution should fire now, wait,
// or be abandoned. Abandon always supersedes Fire: a nag whose guest
// has already responded never fires, even when its time is due.
func Evaluate(trigger models.TriggerType, f Facts) Decision {
	switch trigger {
	case models.TriggerNoResponse:
		return evaluateNoResponse(f)
	case models.TriggerRsvpMaybe:
		return evaluateMaybeFollowUp(f)
	case models.TriggerEventMorning, models.TriggerEventHoursBefore:
		return evaluateCalendar(f)
	default:
		return Abandon("unknown trigger type " + string(trigger))
	}
}

func evaluateNoResponse(f Facts) Decision {
	if f.RsvpStatus != models.RsvpPending {
		return Abandon("guest already responded")
	}
	if f.LastSentAt == nil {
		// Nothing to measure the delay from; wait a full delay from now.
		return Defer(f.Now.Add(f.Delay))
	}
	due := f.LastSentAt.Add(f.Delay)
	if f.Now.Before(due) {
		return Defer(due)
	}
	return Fire()
}

func evaluateMaybeFollowUp(f Facts) Decision {
	if f.RsvpStatus != models.RsvpMaybe {
		return Abandon("rsvp status changed since follow-up was scheduled")
	}
	// The scheduled time was computed from the event's configured delay
	// when the guest answered; it wins over the flow's stored delay.
	var due time.Time
	switch {
	case f.ScheduledFor != nil:
		due = *f.ScheduledFor
	case f.RespondedAt != nil:
		due = f.RespondedAt.Add(f.Delay)
	default:
		return Abandon("maybe follow-up without a recorded response")
	}
	if f.Now.Before(due) {
		return Defer(due)
	}
	return Fire()
}

// evaluateCalendar fires at or after the pre-materialized absolute
// time. The time is never re-derived from "now" once scheduled; the
// planner owns computing it.
func evaluateCalendar(f Facts) Decision {
	if f.RsvpStatus == models.RsvpDeclined {
		return Abandon("guest declined")
	}
	if f.ScheduledFor != nil && f.Now.Before(*f.ScheduledFor) {
		return Defer(*f.ScheduledFor)
	}
	return Fire()
}
