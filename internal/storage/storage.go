package storage

import (
	"context"
	"errors"

	"followup/internal/models"
)

var (
	// ErrNotFound is returned when no row exists for the given ID.
	ErrNotFound = errors.New("record not found")

	// ErrConflict is returned by the Update methods when the row's status no
	// longer matches the expected one. The caller lost a race and must
	// re-read before deciding anything else.
	ErrConflict = errors.New("status conflict")
)

// Store persists reminder schedules and reminder events. Schedules carry the
// current lifecycle status per (user, type); events are the append-only record
// of what was actually sent and answered.
//
// UpdateSchedule and UpdateEvent are compare-and-set: the update function is
// applied only if the row still has the expected status, otherwise ErrConflict
// is returned and nothing is written. This is what keeps terminal statuses
// terminal when a response and the no-response sweep race each other.
type Store interface {
	CreateSchedule(ctx context.Context, schedule *models.ReminderSchedule) error
	GetScheduleByID(ctx context.Context, id string) (*models.ReminderSchedule, error)
	GetAllSchedules(ctx context.Context) ([]*models.ReminderSchedule, error)
	UpdateSchedule(ctx context.Context, id string, expect models.ReminderStatus, updateFn func(*models.ReminderSchedule)) error

	CreateEvent(ctx context.Context, event *models.ReminderEvent) error
	GetAllEvents(ctx context.Context) ([]*models.ReminderEvent, error)
	UpdateEvent(ctx context.Context, id string, expect models.ReminderStatus, updateFn func(*models.ReminderEvent)) error
}
