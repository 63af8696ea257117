// Package tracker attributes inbound patient replies to their outstanding
// reminders and escalates the worrying ones to staff.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"followup/internal/models"
	"followup/internal/notify"
	"followup/internal/storage"
)

// ErrNoPendingReminder means the user has no sent reminder waiting for a
// reply, so the message cannot be attributed to anything.
var ErrNoPendingReminder = errors.New("no pending reminder for user")

// responseAttempts bounds how often a reply re-targets another outstanding
// reminder after losing a status race.
const responseAttempts = 3

type Tracker struct {
	store     storage.Store
	escalator *notify.Escalator
	keywords  []string
	logger    *zap.SugaredLogger
	now       func() time.Time
}

// New builds a Tracker. An empty keyword list falls back to the built-in Thai
// symptom set.
func New(store storage.Store, escalator *notify.Escalator, keywords []string, logger *zap.SugaredLogger) *Tracker {
	if len(keywords) == 0 {
		keywords = DefaultKeywords
	}
	return &Tracker{
		store:     store,
		escalator: escalator,
		keywords:  lowered(keywords),
		logger:    logger,
		now:       time.Now,
	}
}

// HandleResponse records a patient reply against their most recent outstanding
// reminder. Exactly one reminder moves to responded; when two deliveries race
// for the same one, the loser re-targets the next outstanding reminder or
// returns ErrNoPendingReminder. A reply with concerning symptoms additionally
// alerts staff, best-effort.
func (t *Tracker) HandleResponse(ctx context.Context, userID, text string) (*models.ReminderEvent, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id must not be empty")
	}

	for attempt := 0; attempt < responseAttempts; attempt++ {
		events, err := t.store.GetAllEvents(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load events: %w", err)
		}

		target := models.LatestSentEvent(events, userID)
		if target == nil {
			t.logger.Warnw("No pending reminder for response", "user_id", userID)
			return nil, ErrNoPendingReminder
		}

		respondedAt := t.now()
		err = t.store.UpdateEvent(ctx, target.ID, models.StatusSent, func(e *models.ReminderEvent) {
			e.Status = models.StatusResponded
			e.ResponseText = text
			e.ResponseAt = &respondedAt
		})
		if errors.Is(err, storage.ErrConflict) {
			// Someone else resolved this reminder first; look again for
			// another outstanding one.
			t.logger.Debugw("Lost response race, retrying",
				"user_id", userID, "event_id", target.ID, "attempt", attempt+1)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to record response: %w", err)
		}

		t.mirrorSchedule(ctx, userID, target.ReminderType)

		recorded := *target
		recorded.Status = models.StatusResponded
		recorded.ResponseText = text
		recorded.ResponseAt = &respondedAt

		if t.Classify(text) {
			t.logger.Warnw("Concerning response detected",
				"user_id", userID, "reminder_type", target.ReminderType, "response", text)
			if escErr := t.escalator.ConcerningResponse(ctx, userID, target.ReminderType, text); escErr != nil {
				t.logger.Warnw("Failed to alert staff about concerning response",
					"user_id", userID, "error", escErr)
			}
		}

		t.logger.Infow("Reminder response recorded",
			"user_id", userID, "reminder_type", target.ReminderType, "event_id", target.ID)
		return &recorded, nil
	}

	return nil, ErrNoPendingReminder
}

// mirrorSchedule moves the newest matching sent schedule row to responded so
// the per-pair status agrees with the answered event.
func (t *Tracker) mirrorSchedule(ctx context.Context, userID string, rt models.ReminderType) {
	schedules, err := t.store.GetAllSchedules(ctx)
	if err != nil {
		t.logger.Errorw("Failed to load schedules for response",
			"user_id", userID, "error", err)
		return
	}
	row := models.LatestSchedule(schedules, userID, rt, models.StatusSent)
	if row == nil {
		t.logger.Warnw("No sent schedule row for response",
			"user_id", userID, "reminder_type", rt)
		return
	}
	err = t.store.UpdateSchedule(ctx, row.ID, models.StatusSent, func(s *models.ReminderSchedule) {
		s.Status = models.StatusResponded
	})
	if err != nil && !errors.Is(err, storage.ErrConflict) {
		t.logger.Errorw("Failed to mark schedule responded",
			"schedule_id", row.ID, "error", err)
	}
}
