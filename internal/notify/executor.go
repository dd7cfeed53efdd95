package notify

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"wedding-notify/internal/automation"
	"wedding-notify/internal/models"
)

// Executor adapts the Notifier to the scheduler's action contract.
type Executor struct {
	notifier *Notifier
	log      zerolog.Logger
}

func NewExecutor(notifier *Notifier, log zerolog.Logger) *Executor {
	return &Executor{
		notifier: notifier,
		log:      log.With().Str("component", "executor").Logger(),
	}
}

// Execute performs the send an action represents. It never retries;
// that is the scheduler's job.
func (e *Executor) Execute(ctx context.Context, action models.ActionType, ec automation.ExecContext) automation.Result {
	var err error
	switch action {
	case models.ActionSendReminder:
		err = e.notifier.SendReminder(ctx, &ec.Guest, &ec.Event, ec.CustomMessage)
	case models.ActionSendInteractiveReminder:
		err = e.notifier.SendInteractiveReminder(ctx, &ec.Guest, &ec.Event, ec.CustomMessage)
	case models.ActionSendCustomMessage:
		if ec.CustomMessage == "" {
			return automation.Result{Success: false, Message: "custom message action without message text"}
		}
		err = e.notifier.SendReminder(ctx, &ec.Guest, &ec.Event, ec.CustomMessage)
	default:
		return automation.Result{Success: false, Message: fmt.Sprintf("unknown action type %q", action)}
	}

	if err != nil {
		return automation.Result{Success: false, Message: err.Error()}
	}
	return automation.Result{Success: true, Message: "sent"}
}
