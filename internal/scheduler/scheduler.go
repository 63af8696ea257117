// Package scheduler owns the reminder lifecycle's time axis: it arms one
// in-process timer per scheduled reminder, republishes the due ones to the
// dispatch queue, and ages unanswered reminders out via the daily sweep.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/retry"
	"go.uber.org/zap"

	"followup/internal/catalog"
	"followup/internal/models"
	"followup/internal/storage"
)

const publishTimeout = 30 * time.Second

var loadRetry = retry.Strategy{
	Attempts: 3,
	Delay:    100 * time.Millisecond,
	Backoff:  2,
}

// DispatchQueue publishes fire commands for reminders that have come due.
type DispatchQueue interface {
	PublishDispatch(ctx context.Context, cmd models.DispatchCommand) error
}

type job struct {
	scheduleID   string
	userID       string
	reminderType models.ReminderType
	scheduledAt  time.Time
	timer        *time.Timer
}

type JobInfo struct {
	ID           string              `json:"id"`
	UserID       string              `json:"user_id"`
	ReminderType models.ReminderType `json:"reminder_type"`
	ScheduledAt  time.Time           `json:"scheduled_at"`
}

// Scheduler keeps one armed timer per pending reminder. Job keys repeat the
// original row identity (user, type, fire time), so re-arming the same
// reminder replaces the old timer instead of stacking a duplicate.
type Scheduler struct {
	store        storage.Store
	queue        DispatchQueue
	catalog      *catalog.Catalog
	loc          *time.Location
	dispatchHour int
	logger       *zap.SugaredLogger
	now          func() time.Time

	mu      sync.Mutex
	jobs    map[string]*job
	stopped bool
}

func New(store storage.Store, queue DispatchQueue, cat *catalog.Catalog, loc *time.Location, dispatchHour int, logger *zap.SugaredLogger) *Scheduler {
	return &Scheduler{
		store:        store,
		queue:        queue,
		catalog:      cat,
		loc:          loc,
		dispatchHour: dispatchHour,
		logger:       logger,
		now:          time.Now,
		jobs:         make(map[string]*job),
	}
}

// Start loads pending reminders from the store and arms their timers.
func (s *Scheduler) Start(ctx context.Context) error {
	loaded, skipped, err := s.LoadPending(ctx)
	if err != nil {
		return err
	}
	s.logger.Infow("Scheduler started", "loaded", loaded, "skipped", skipped)
	return nil
}

// Stop cancels every armed timer. Reminders stay scheduled in the store and
// are re-armed on the next start.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopped = true
	for _, j := range s.jobs {
		j.timer.Stop()
	}
	s.jobs = make(map[string]*job)
	s.logger.Infow("Scheduler stopped")
}

// ScheduleAll schedules the whole follow-up series for a discharged patient
// and arms the matching timers. At most one active row exists per (user,
// type): a re-discharge re-points the pair's active row at the new dates
// instead of inserting a duplicate. A store failure on one row does not abort
// the rest; failed types are reported in the result.
func (s *Scheduler) ScheduleAll(ctx context.Context, userID string, dischargeDate time.Time) (*models.ScheduleResult, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id must not be empty")
	}
	if dischargeDate.IsZero() {
		return nil, fmt.Errorf("discharge date must not be zero")
	}

	local := dischargeDate.In(s.loc)
	discharge := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.loc)

	existing, err := s.store.GetAllSchedules(ctx)
	if err != nil {
		s.logger.Warnw("Could not check existing schedules, scheduling fresh rows",
			"user_id", userID, "error", err)
		existing = nil
	}

	result := &models.ScheduleResult{
		UserID:        userID,
		DischargeDate: discharge,
	}

	for _, rt := range s.catalog.Types() {
		entry, _ := s.catalog.Entry(rt)
		at := s.fireTime(discharge, entry.OffsetDays)
		now := s.now()
		notes := fmt.Sprintf("Auto-scheduled %s reminder", s.catalog.Label(rt))

		row := s.reuseActiveRow(ctx, existing, userID, rt, discharge, at, notes)
		if row == nil {
			row = &models.ReminderSchedule{
				ID:            uuid.NewString(),
				UserID:        userID,
				DischargeDate: discharge,
				ReminderType:  rt,
				ScheduledAt:   at,
				Status:        models.StatusScheduled,
				Notes:         notes,
				CreatedAt:     now,
				UpdatedAt:     now,
			}
			if err := s.store.CreateSchedule(ctx, row); err != nil {
				s.logger.Errorw("Failed to save schedule",
					"user_id", userID, "reminder_type", rt, "error", err)
				result.Failed = append(result.Failed, rt)
				continue
			}
		}

		// Timers from an earlier discharge of the same pair fire at the old
		// times; drop them before arming the new one.
		s.dropJobs(jobKeyPrefix(userID, rt))
		if !s.arm(row) {
			s.logger.Warnw("Reminder time already past, not arming",
				"user_id", userID, "reminder_type", rt, "scheduled_at", at)
		}

		result.Scheduled = append(result.Scheduled, models.ScheduledReminder{
			ReminderType: rt,
			Label:        s.catalog.Label(rt),
			ScheduledAt:  at,
		})
		s.logger.Infow("Scheduled reminder",
			"user_id", userID, "reminder_type", rt, "scheduled_at", at)
	}

	return result, nil
}

// reuseActiveRow re-points the pair's active schedule row, if any, at the new
// discharge. Returns nil when there is nothing to reuse and a fresh row is
// needed.
func (s *Scheduler) reuseActiveRow(ctx context.Context, rows []*models.ReminderSchedule, userID string, rt models.ReminderType, discharge, at time.Time, notes string) *models.ReminderSchedule {
	latest := models.LatestActiveSchedule(rows, userID, rt)
	if latest == nil {
		return nil
	}

	err := s.store.UpdateSchedule(ctx, latest.ID, latest.Status, func(row *models.ReminderSchedule) {
		row.DischargeDate = discharge
		row.ScheduledAt = at
		row.Status = models.StatusScheduled
		row.Notes = notes
	})
	if err != nil {
		// The row moved under us; a fresh row keeps the new discharge going.
		s.logger.Warnw("Could not reuse active schedule row",
			"schedule_id", latest.ID, "user_id", userID, "reminder_type", rt, "error", err)
		return nil
	}

	latest.DischargeDate = discharge
	latest.ScheduledAt = at
	latest.Status = models.StatusScheduled
	latest.Notes = notes
	s.logger.Infow("Reusing active schedule row",
		"schedule_id", latest.ID, "user_id", userID, "reminder_type", rt)
	return latest
}

// LoadPending rebuilds the timer table from the store. Rows whose fire time
// already passed are skipped and left scheduled, never dispatched
// retroactively. Safe to call repeatedly: existing timers are replaced, not
// duplicated.
func (s *Scheduler) LoadPending(ctx context.Context) (loaded, skipped int, err error) {
	var rows []*models.ReminderSchedule
	err = retry.DoContext(ctx, loadRetry, func() error {
		var getErr error
		rows, getErr = s.store.GetAllSchedules(ctx)
		return getErr
	})
	if err != nil {
		return 0, 0, fmt.Errorf("failed to load schedules: %w", err)
	}
	models.SortSchedulesByTime(rows)

	now := s.now()
	for _, row := range rows {
		if row.Status != models.StatusScheduled {
			continue
		}
		if row.ScheduledAt.Before(now) {
			s.logger.Infow("Skipping past reminder",
				"user_id", row.UserID, "reminder_type", row.ReminderType, "scheduled_at", row.ScheduledAt)
			skipped++
			continue
		}
		if s.arm(row) {
			loaded++
		} else {
			skipped++
		}
	}

	s.logger.Infow("Loaded pending reminders", "loaded", loaded, "skipped", skipped)
	return loaded, skipped, nil
}

// Cancel drops every armed job for the user and reminder type and returns how
// many were removed. Rows already handed to the dispatch queue are not
// affected.
func (s *Scheduler) Cancel(userID string, rt models.ReminderType) int {
	cancelled := s.dropJobs(jobKeyPrefix(userID, rt))
	if cancelled == 0 {
		s.logger.Warnw("No jobs found to cancel", "user_id", userID, "reminder_type", rt)
	}
	return cancelled
}

// dropJobs stops and removes every armed job whose key starts with prefix.
func (s *Scheduler) dropJobs(prefix string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	dropped := 0
	for key, j := range s.jobs {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		j.timer.Stop()
		delete(s.jobs, key)
		dropped++
		s.logger.Infow("Cancelled reminder job", "job_id", key)
	}
	return dropped
}

// Jobs lists the currently armed timers, soonest first.
func (s *Scheduler) Jobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]JobInfo, 0, len(s.jobs))
	for key, j := range s.jobs {
		out = append(out, JobInfo{
			ID:           key,
			UserID:       j.userID,
			ReminderType: j.reminderType,
			ScheduledAt:  j.scheduledAt,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ScheduledAt.Before(out[j].ScheduledAt)
	})
	return out
}

// Armed returns the number of live timers.
func (s *Scheduler) Armed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

func (s *Scheduler) fireTime(discharge time.Time, offsetDays int) time.Time {
	d := discharge.AddDate(0, 0, offsetDays)
	return time.Date(d.Year(), d.Month(), d.Day(), s.dispatchHour, 0, 0, 0, s.loc)
}

// arm starts a timer for the row. Returns false for fire times not in the
// future. An existing timer under the same key is stopped first, so re-arming
// replaces rather than duplicates.
func (s *Scheduler) arm(row *models.ReminderSchedule) bool {
	delay := row.ScheduledAt.Sub(s.now())
	if delay <= 0 {
		return false
	}

	key := jobKey(row.UserID, row.ReminderType, row.ScheduledAt)
	cmd := models.DispatchCommand{
		ScheduleID:   row.ID,
		UserID:       row.UserID,
		ReminderType: row.ReminderType,
		ScheduledAt:  row.ScheduledAt,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return false
	}
	if existing, ok := s.jobs[key]; ok {
		existing.timer.Stop()
	}
	s.jobs[key] = &job{
		scheduleID:   row.ID,
		userID:       row.UserID,
		reminderType: row.ReminderType,
		scheduledAt:  row.ScheduledAt,
		timer:        time.AfterFunc(delay, func() { s.fire(key, cmd) }),
	}
	return true
}

func (s *Scheduler) fire(key string, cmd models.DispatchCommand) {
	s.mu.Lock()
	delete(s.jobs, key)
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	err := retry.DoContext(ctx, loadRetry, func() error {
		return s.queue.PublishDispatch(ctx, cmd)
	})
	if err != nil {
		// The row stays scheduled; it will not fire again until the next
		// restart re-arms it.
		s.logger.Errorw("Failed to publish due reminder",
			"job_id", key, "error", err)
		return
	}

	s.logger.Infow("Reminder due, dispatch queued",
		"job_id", key, "user_id", cmd.UserID, "reminder_type", cmd.ReminderType)
}

// jobKey mirrors the row identity: user, type and fire time down to the
// minute. Two arms of the same reminder collide on purpose.
func jobKey(userID string, rt models.ReminderType, at time.Time) string {
	return fmt.Sprintf("%s_%s_%s", userID, rt, at.Format("200601021504"))
}

func jobKeyPrefix(userID string, rt models.ReminderType) string {
	return fmt.Sprintf("%s_%s_", userID, rt)
}
