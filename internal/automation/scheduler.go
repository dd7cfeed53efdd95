package automation

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"wedding-notify/internal/models"
	"wedding-notify/internal/storage"
)

// ExecContext carries everything an action needs to render and address
// a send.
type ExecContext struct {
	Guest         models.Guest
	Event         models.Event
	Flow          models.AutomationFlow
	CustomMessage string
}

// Result reports the outcome of one action execution.
type Result struct {
	Success bool
	Message string
}

// Executor performs the actual send. Retries are entirely the
// scheduler's responsibility, not the executor's.
type Executor interface {
	Execute(ctx context.Context, action models.ActionType, ec ExecContext) Result
}

// SchedulerConfig bounds one poll cycle.
type SchedulerConfig struct {
	BatchSize    int
	MaxAttempts  int           // total attempts before permanent failure
	RetryBackoff time.Duration // flat, not exponential
	ItemTimeout  time.Duration // bounds one executor call
	PollInterval time.Duration
}

func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		BatchSize:    50,
		MaxAttempts:  3,
		RetryBackoff: time.Hour,
		ItemTimeout:  30 * time.Second,
		PollInterval: time.Minute,
	}
}

// Scheduler is the polling engine: it loads due executions, asks the
// evaluator, invokes the executor and manages retry and terminal
// states. Safe to run concurrently with itself; claims are exclusive.
type Scheduler struct {
	store    *storage.Store
	executor Executor
	cfg      SchedulerConfig
	log      zerolog.Logger
	now      func() time.Time
}

func NewScheduler(store *storage.Store, executor Executor, cfg SchedulerConfig, log zerolog.Logger) *Scheduler {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = time.Hour
	}
	return &Scheduler{
		store:    store,
		executor: executor,
		cfg:      cfg,
		log:      log.With().Str("component", "scheduler").Logger(),
		now:      time.Now,
	}
}

// Run polls until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	interval := s.cfg.PollInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.log.Info().Dur("interval", interval).Msg("Scheduler started")
	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("Scheduler stopped")
			return
		case <-ticker.C:
			s.RunCycle(ctx)
		}
	}
}

// RunCycle processes one bounded batch of due executions. Items are
// handled sequentially; one bad record must not halt the batch.
func (s *Scheduler) RunCycle(ctx context.Context) {
	now := s.now().UTC()
	execs, err := s.store.DueExecutions(ctx, now, s.cfg.BatchSize)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to load due executions")
		return
	}
	if len(execs) == 0 {
		return
	}

	s.log.Debug().Int("count", len(execs)).Msg("Processing due executions")
	for i := range execs {
		s.processOne(ctx, &execs[i])
	}
}

func (s *Scheduler) processOne(ctx context.Context, exec *models.AutomationFlowExecution) {
	log := s.log.With().
		Str("execution_id", exec.ID).
		Str("flow_id", exec.FlowID).
		Str("guest_id", exec.GuestID).
		Str("trigger", string(exec.Flow.TriggerType)).
		Logger()

	defer func() {
		if r := recover(); r != nil {
			msg := fmt.Sprintf("panic while processing execution: %v", r)
			log.Error().Str("panic", fmt.Sprint(r)).Msg("Execution processing panicked")
			if err := s.store.FailExecution(ctx, exec.ID, msg); err != nil {
				log.Error().Err(err).Msg("Failed to record panicked execution")
			}
		}
	}()

	facts, err := s.loadFacts(ctx, exec)
	if err != nil {
		log.Error().Err(err).Msg("Failed to load facts")
		if err := s.store.FailExecution(ctx, exec.ID, fmt.Sprintf("load facts: %v", err)); err != nil {
			log.Error().Err(err).Msg("Failed to mark execution failed")
		}
		return
	}

	switch decision := Evaluate(exec.Flow.TriggerType, facts); decision.Kind {
	case DecisionDefer:
		if err := s.store.RescheduleExecution(ctx, exec.ID, decision.Until); err != nil {
			log.Error().Err(err).Msg("Failed to defer execution")
		}
	case DecisionAbandon:
		log.Info().Str("reason", decision.Reason).Msg("Execution abandoned")
		if err := s.store.SkipExecution(ctx, exec.ID, decision.Reason); err != nil {
			log.Error().Err(err).Msg("Failed to skip execution")
		}
	case DecisionFire:
		s.fire(ctx, exec, facts, log)
	}
}

// fire claims the execution and runs the action. Claiming before the
// external call is what keeps overlapping poll cycles from sending
// twice: the second claimer sees the row already in processing.
func (s *Scheduler) fire(ctx context.Context, exec *models.AutomationFlowExecution, facts Facts, log zerolog.Logger) {
	claimed, err := s.store.ClaimExecution(ctx, exec.ID)
	if err != nil {
		log.Error().Err(err).Msg("Failed to claim execution")
		return
	}
	if !claimed {
		log.Debug().Msg("Execution already claimed by a concurrent cycle")
		return
	}

	event, err := s.store.EventByID(ctx, exec.Flow.EventID)
	if err != nil {
		s.fail(ctx, exec, log, fmt.Sprintf("load event: %v", err))
		return
	}

	execCtx := ExecContext{
		Guest:         exec.Guest,
		Event:         *event,
		Flow:          exec.Flow,
		CustomMessage: exec.Flow.CustomMessage,
	}

	runCtx := ctx
	if s.cfg.ItemTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.cfg.ItemTimeout)
		defer cancel()
	}

	result := s.executor.Execute(runCtx, exec.Flow.ActionType, execCtx)
	if result.Success {
		log.Info().Str("action", string(exec.Flow.ActionType)).Msg("Execution completed")
		if err := s.store.CompleteExecution(ctx, exec.ID); err != nil {
			log.Error().Err(err).Msg("Failed to mark execution completed")
		}
		return
	}
	s.fail(ctx, exec, log, result.Message)
}

// fail either re-arms the execution for another attempt or, once the
// attempt ceiling is reached, marks it permanently failed.
func (s *Scheduler) fail(ctx context.Context, exec *models.AutomationFlowExecution, log zerolog.Logger, msg string) {
	attempts := exec.RetryCount + 1
	if attempts >= s.cfg.MaxAttempts {
		final := fmt.Sprintf("%s (retries exhausted after %d attempts)", msg, attempts)
		log.Error().Int("attempts", attempts).Str("error", msg).Msg("Execution failed permanently")
		if err := s.store.FailExecution(ctx, exec.ID, final); err != nil {
			log.Error().Err(err).Msg("Failed to mark execution failed")
		}
		return
	}

	retryAt := s.now().UTC().Add(s.cfg.RetryBackoff)
	log.Warn().
		Int("attempt", attempts).
		Time("retry_at", retryAt).
		Str("error", msg).
		Msg("Execution failed, will retry")
	if err := s.store.RetryExecution(ctx, exec.ID, retryAt, msg); err != nil {
		log.Error().Err(err).Msg("Failed to re-arm execution")
	}
}

// solicitingTypes are the outbound sends that ask the guest for an
// answer. Only these move the no-response clock; a confirmation or
// count request from another conversation must not push a nag out.
var solicitingTypes = []models.MessageType{
	models.MessageInvite,
	models.MessageInteractiveInvite,
	models.MessageReminder,
	models.MessageInteractiveReminder,
}

// loadFacts gathers the current truth about the execution's guest and
// flow. Facts are loaded fresh on every cycle so a stale execution sees
// the guest's latest state, not the state at scheduling time.
func (s *Scheduler) loadFacts(ctx context.Context, exec *models.AutomationFlowExecution) (Facts, error) {
	facts := Facts{
		Delay:        exec.Flow.Delay(),
		ScheduledFor: exec.ScheduledFor,
		Now:          s.now().UTC(),
		HasTable:     exec.Guest.TableNumber != nil,
	}

	rsvp, err := s.store.RsvpByGuest(ctx, exec.GuestID)
	if err != nil {
		return facts, fmt.Errorf("load rsvp: %w", err)
	}
	facts.RsvpStatus = rsvp.Status
	facts.RespondedAt = rsvp.RespondedAt
	facts.GuestCount = rsvp.GuestCount

	last, err := s.store.LastNotification(ctx, exec.GuestID, "", solicitingTypes)
	if err != nil {
		return facts, fmt.Errorf("load last notification: %w", err)
	}
	if last != nil {
		facts.LastSentAt = &last.SentAt
	}

	event, err := s.store.EventByID(ctx, exec.Flow.EventID)
	if err != nil {
		return facts, fmt.Errorf("load event: %w", err)
	}
	facts.EventDate = event.EventDate
	return facts, nil
}
