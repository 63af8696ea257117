package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/wb-go/wbf/retry"
	"go.uber.org/zap"

	"followup/internal/models"
	"followup/internal/notify"
	"followup/internal/storage"
)

// Sweeper ages out reminders nobody answered. On each cron run it moves sent
// events older than the threshold to no_response and sends one grouped staff
// alert per affected patient. Worst-case detection lag is the threshold plus
// one sweep interval.
type Sweeper struct {
	store     storage.Store
	escalator *notify.Escalator
	threshold time.Duration
	spec      string
	cron      *cron.Cron
	logger    *zap.SugaredLogger
	now       func() time.Time
}

func NewSweeper(store storage.Store, escalator *notify.Escalator, threshold time.Duration, spec string, loc *time.Location, logger *zap.SugaredLogger) *Sweeper {
	return &Sweeper{
		store:     store,
		escalator: escalator,
		threshold: threshold,
		spec:      spec,
		cron:      cron.New(cron.WithLocation(loc)),
		logger:    logger,
		now:       time.Now,
	}
}

func (s *Sweeper) Start() error {
	_, err := s.cron.AddFunc(s.spec, func() {
		if _, _, err := s.Run(context.Background()); err != nil {
			s.logger.Errorw("No-response sweep failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule no-response sweep: %w", err)
	}
	s.cron.Start()

	s.logger.Infow("No-response sweep scheduled", "spec", s.spec, "threshold", s.threshold)
	return nil
}

func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Infow("Sweeper stopped")
}

// Run performs one sweep pass and reports how many reminders expired and how
// many patients staff were alerted about.
func (s *Sweeper) Run(ctx context.Context) (expired, alerted int, err error) {
	var events []*models.ReminderEvent
	err = retry.DoContext(ctx, loadRetry, func() error {
		var getErr error
		events, getErr = s.store.GetAllEvents(ctx)
		return getErr
	})
	if err != nil {
		return 0, 0, fmt.Errorf("failed to load events: %w", err)
	}

	schedules, err := s.store.GetAllSchedules(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to load schedules: %w", err)
	}

	cutoff := s.now().Add(-s.threshold)
	byUser := make(map[string][]models.ReminderType)
	var userOrder []string

	for _, e := range events {
		if e.Status != models.StatusSent {
			continue
		}
		if e.CreatedAt.After(cutoff) {
			continue
		}

		updateErr := s.store.UpdateEvent(ctx, e.ID, models.StatusSent, func(ev *models.ReminderEvent) {
			ev.Status = models.StatusNoResponse
		})
		if errors.Is(updateErr, storage.ErrConflict) {
			// A response landed between the read and the update. The reply
			// wins, nothing to expire here.
			continue
		}
		if updateErr != nil {
			s.logger.Errorw("Failed to expire event", "event_id", e.ID, "error", updateErr)
			continue
		}

		expired++
		s.logger.Infow("Reminder expired without response",
			"event_id", e.ID, "user_id", e.UserID, "reminder_type", e.ReminderType)
		s.mirrorSchedule(ctx, schedules, e.UserID, e.ReminderType)

		if _, seen := byUser[e.UserID]; !seen {
			userOrder = append(userOrder, e.UserID)
		}
		byUser[e.UserID] = append(byUser[e.UserID], e.ReminderType)
	}

	for _, userID := range userOrder {
		if alertErr := s.escalator.NoResponseAlert(ctx, userID, byUser[userID]); alertErr != nil {
			s.logger.Warnw("Failed to send no-response alert",
				"user_id", userID, "error", alertErr)
			continue
		}
		alerted++
		s.logger.Infow("Sent no-response alert", "user_id", userID, "reminders", len(byUser[userID]))
	}

	if expired == 0 {
		s.logger.Infow("No reminders timed out")
	} else {
		s.logger.Infow("Sweep finished", "expired", expired, "alerted", alerted)
	}
	return expired, alerted, nil
}

// mirrorSchedule moves the newest matching sent schedule row to no_response so
// the per-pair status agrees with the expired event.
func (s *Sweeper) mirrorSchedule(ctx context.Context, schedules []*models.ReminderSchedule, userID string, rt models.ReminderType) {
	row := models.LatestSchedule(schedules, userID, rt, models.StatusSent)
	if row == nil {
		s.logger.Warnw("No sent schedule row to expire",
			"user_id", userID, "reminder_type", rt)
		return
	}
	err := s.store.UpdateSchedule(ctx, row.ID, models.StatusSent, func(sc *models.ReminderSchedule) {
		sc.Status = models.StatusNoResponse
	})
	if err != nil && !errors.Is(err, storage.ErrConflict) {
		s.logger.Errorw("Failed to expire schedule row",
			"schedule_id", row.ID, "error", err)
	}
}
