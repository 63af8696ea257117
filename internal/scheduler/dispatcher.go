package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
	"github.com/wb-go/wbf/retry"
	"go.uber.org/zap"

	"followup/internal/catalog"
	"followup/internal/models"
	"followup/internal/notify"
	"followup/internal/storage"
)

// Dispatcher consumes due-reminder commands and performs the actual send. A
// reminder that cannot be delivered after the bounded retries is left
// scheduled in the store; it is not requeued and will only fire again when a
// restart re-arms it.
type Dispatcher struct {
	store       storage.Store
	catalog     *catalog.Catalog
	pusher      notify.Pusher
	maxAttempts int
	logger      *zap.SugaredLogger
	now         func() time.Time
}

func NewDispatcher(store storage.Store, cat *catalog.Catalog, pusher notify.Pusher, maxAttempts int, logger *zap.SugaredLogger) *Dispatcher {
	return &Dispatcher{
		store:       store,
		catalog:     cat,
		pusher:      pusher,
		maxAttempts: maxAttempts,
		logger:      logger,
		now:         time.Now,
	}
}

// HandleDelivery is the queue consumer entrypoint. It always acks: malformed
// bodies are dropped and failed sends are resolved by the restart path, so
// requeueing would only loop the same failure.
func (d *Dispatcher) HandleDelivery(ctx context.Context, delivery amqp091.Delivery) error {
	var cmd models.DispatchCommand
	if err := json.Unmarshal(delivery.Body, &cmd); err != nil {
		d.logger.Errorw("Dropping malformed dispatch command", "error", err)
		return nil
	}

	if err := d.Dispatch(ctx, cmd); err != nil {
		d.logger.Errorw("Dispatch failed",
			"schedule_id", cmd.ScheduleID, "user_id", cmd.UserID,
			"reminder_type", cmd.ReminderType, "error", err)
	}
	return nil
}

// Dispatch sends one due reminder: push the message, append the sent event,
// flip the schedule row to sent. The schedule is re-checked first so a
// reminder cancelled or already handled between firing and consuming is
// skipped.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd models.DispatchCommand) error {
	sched, err := d.loadSchedule(ctx, cmd.ScheduleID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			d.logger.Warnw("Schedule not found, dropping dispatch", "schedule_id", cmd.ScheduleID)
			return nil
		}
		return fmt.Errorf("failed to load schedule: %w", err)
	}

	if sched.Status != models.StatusScheduled {
		d.logger.Warnw("Schedule no longer pending, skipping dispatch",
			"schedule_id", cmd.ScheduleID, "status", sched.Status)
		return nil
	}

	msg := d.catalog.Message(cmd.ReminderType)

	pushStrategy := retry.Strategy{
		Attempts: d.maxAttempts,
		Delay:    1 * time.Second,
		Backoff:  2,
	}
	err = retry.DoContext(ctx, pushStrategy, func() error {
		return d.pusher.Push(ctx, cmd.UserID, msg)
	})
	if err != nil {
		return fmt.Errorf("failed to send %s reminder to %s after %d attempts: %w",
			cmd.ReminderType, cmd.UserID, d.maxAttempts, err)
	}

	now := d.now()
	event := &models.ReminderEvent{
		ID:           uuid.NewString(),
		UserID:       cmd.UserID,
		ReminderType: cmd.ReminderType,
		Status:       models.StatusSent,
		MessageSent:  msg,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := d.store.CreateEvent(ctx, event); err != nil {
		// The message already reached the patient. Losing the event row means
		// responses and the sweep cannot see this send, so shout about it.
		d.logger.Errorw("Reminder sent but event row not recorded",
			"schedule_id", cmd.ScheduleID, "user_id", cmd.UserID, "error", err)
	}

	err = d.store.UpdateSchedule(ctx, cmd.ScheduleID, models.StatusScheduled, func(s *models.ReminderSchedule) {
		s.Status = models.StatusSent
	})
	if err != nil {
		if errors.Is(err, storage.ErrConflict) {
			d.logger.Warnw("Schedule changed concurrently while dispatching",
				"schedule_id", cmd.ScheduleID)
			return nil
		}
		d.logger.Errorw("Failed to mark schedule sent",
			"schedule_id", cmd.ScheduleID, "error", err)
		return nil
	}

	d.logger.Infow("Reminder dispatched",
		"schedule_id", cmd.ScheduleID, "user_id", cmd.UserID, "reminder_type", cmd.ReminderType)
	return nil
}

func (d *Dispatcher) loadSchedule(ctx context.Context, id string) (*models.ReminderSchedule, error) {
	var sched *models.ReminderSchedule
	err := retry.DoContext(ctx, loadRetry, func() error {
		var getErr error
		sched, getErr = d.store.GetScheduleByID(ctx, id)
		if errors.Is(getErr, storage.ErrNotFound) {
			sched = nil
			return nil
		}
		return getErr
	})
	if err != nil {
		return nil, err
	}
	if sched == nil {
		return nil, storage.ErrNotFound
	}
	return sched, nil
}
