package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// TriggerType is the condition class that makes a flow eligible to fire.
type TriggerType string

const (
	// TriggerNoResponse fires when a guest has not answered an invite
	// for the flow's configured delay.
	TriggerNoResponse TriggerType = "no_response"
	// TriggerRsvpMaybe fires a follow-up some hours after a guest
	// answered "maybe".
	TriggerRsvpMaybe TriggerType = "rsvp_maybe"
	// TriggerEventMorning fires on the morning of the event day.
	TriggerEventMorning TriggerType = "event_morning"
	// TriggerEventHoursBefore fires a configured number of hours before
	// the event start.
	TriggerEventHoursBefore TriggerType = "event_hours_before"
)

// CalendarTriggers are pre-materialized by the planner rather than
// evaluated against "now" on every poll.
var CalendarTriggers = []TriggerType{TriggerEventMorning, TriggerEventHoursBefore}

// ActionType is the send a flow performs once its trigger fires.
type ActionType string

const (
	ActionSendReminder            ActionType = "send_reminder"
	ActionSendInteractiveReminder ActionType = "send_interactive_reminder"
	ActionSendCustomMessage       ActionType = "send_custom_message"
)

// FlowStatus is the lifecycle state of an automation flow.
type FlowStatus string

const (
	FlowDraft    FlowStatus = "draft"
	FlowActive   FlowStatus = "active"
	FlowPaused   FlowStatus = "paused"
	FlowArchived FlowStatus = "archived"
)

// AutomationFlow is a trigger->action rule scoped to one event.
// At most one flow may exist per (event, trigger) pair.
type AutomationFlow struct {
	ID        string    `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	EventID string `gorm:"type:uuid;not null;uniqueIndex:ux_flow_event_trigger,priority:1" json:"event_id"`
	Event   Event  `gorm:"foreignKey:EventID;constraint:OnDelete:CASCADE" json:"-"`

	TriggerType TriggerType `gorm:"size:32;not null;uniqueIndex:ux_flow_event_trigger,priority:2" json:"trigger_type"`
	ActionType  ActionType  `gorm:"size:32;not null" json:"action_type"`

	DelayHours    int        `gorm:"default:0" json:"delay_hours"`
	CustomMessage string     `gorm:"type:text" json:"custom_message,omitempty"`
	Status        FlowStatus `gorm:"size:16;not null;default:'draft';index" json:"status"`
}

func (f *AutomationFlow) BeforeCreate(tx *gorm.DB) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	return nil
}

// Delay returns the flow's configured delay as a duration.
func (f *AutomationFlow) Delay() time.Duration {
	return time.Duration(f.DelayHours) * time.Hour
}

// ExecutionStatus is the lifecycle state of a scheduled execution.
// Pending is both the initial and the re-armed (retry) state.
type ExecutionStatus string

const (
	ExecutionPending    ExecutionStatus = "pending"
	ExecutionProcessing ExecutionStatus = "processing"
	ExecutionCompleted  ExecutionStatus = "completed"
	ExecutionFailed     ExecutionStatus = "failed"
	ExecutionSkipped    ExecutionStatus = "skipped"
)

// AutomationFlowExecution is one scheduled (flow, guest) unit of work,
// unique together. This is the queue item the scheduler consumes.
type AutomationFlowExecution struct {
	ID        string    `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	FlowID string         `gorm:"type:uuid;not null;uniqueIndex:ux_execution_flow_guest,priority:1" json:"flow_id"`
	Flow   AutomationFlow `gorm:"foreignKey:FlowID;constraint:OnDelete:CASCADE" json:"-"`

	GuestID string `gorm:"type:uuid;not null;uniqueIndex:ux_execution_flow_guest,priority:2;index" json:"guest_id"`
	Guest   Guest  `gorm:"foreignKey:GuestID;constraint:OnDelete:CASCADE" json:"-"`

	Status       ExecutionStatus `gorm:"size:16;not null;default:'pending';index" json:"status"`
	ScheduledFor *time.Time      `gorm:"index" json:"scheduled_for,omitempty"`
	RetryCount   int             `gorm:"default:0" json:"retry_count"`
	ErrorMessage string          `gorm:"type:text" json:"error_message,omitempty"`
}

func (e *AutomationFlowExecution) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	return nil
}
