package models

import (
	"sort"
	"time"
)

type ReminderStatus string

const (
	StatusScheduled  ReminderStatus = "scheduled"
	StatusSent       ReminderStatus = "sent"
	StatusResponded  ReminderStatus = "responded"
	StatusNoResponse ReminderStatus = "no_response"
)

// Terminal reports whether the status can never change again.
func (s ReminderStatus) Terminal() bool {
	return s == StatusResponded || s == StatusNoResponse
}

type ReminderType string

const (
	TypeDay3   ReminderType = "day3"
	TypeDay7   ReminderType = "day7"
	TypeDay14  ReminderType = "day14"
	TypeDay30  ReminderType = "day30"
	TypeCustom ReminderType = "custom"
)

// ReminderSchedule is one planned follow-up contact for a patient. It tracks
// the current lifecycle status for its (user, type) pair.
type ReminderSchedule struct {
	ID            string         `json:"id"`
	UserID        string         `json:"user_id"`
	DischargeDate time.Time      `json:"discharge_date"`
	ReminderType  ReminderType   `json:"reminder_type"`
	ScheduledAt   time.Time      `json:"scheduled_at"`
	Status        ReminderStatus `json:"status"`
	Notes         string         `json:"notes,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// ReminderEvent is one delivered reminder and what came back for it. Rows are
// appended when a reminder goes out and move to exactly one of the terminal
// statuses afterwards.
type ReminderEvent struct {
	ID           string         `json:"id"`
	UserID       string         `json:"user_id"`
	ReminderType ReminderType   `json:"reminder_type"`
	Status       ReminderStatus `json:"status"`
	MessageSent  string         `json:"message_sent,omitempty"`
	ResponseText string         `json:"response_text,omitempty"`
	ResponseAt   *time.Time     `json:"response_at,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// DispatchCommand is the queue payload for a reminder that has come due.
type DispatchCommand struct {
	ScheduleID   string       `json:"schedule_id"`
	UserID       string       `json:"user_id"`
	ReminderType ReminderType `json:"reminder_type"`
	ScheduledAt  time.Time    `json:"scheduled_at"`
}

type ScheduledReminder struct {
	ReminderType ReminderType `json:"reminder_type"`
	Label        string       `json:"label"`
	ScheduledAt  time.Time    `json:"scheduled_at"`
}

// ScheduleResult reports the per-type outcome of scheduling one discharge.
type ScheduleResult struct {
	UserID        string              `json:"user_id"`
	DischargeDate time.Time           `json:"discharge_date"`
	Scheduled     []ScheduledReminder `json:"scheduled"`
	Failed        []ReminderType      `json:"failed,omitempty"`
}

type LatestReminder struct {
	ReminderType ReminderType   `json:"reminder_type"`
	Status       ReminderStatus `json:"status"`
	CreatedAt    time.Time      `json:"created_at"`
}

// ReminderSummary aggregates one patient's schedule rows. Pending counts rows
// that went out and are still waiting for a reply.
type ReminderSummary struct {
	UserID     string          `json:"user_id"`
	Total      int             `json:"total"`
	Responded  int             `json:"responded"`
	Pending    int             `json:"pending"`
	NoResponse int             `json:"no_response"`
	Latest     *LatestReminder `json:"latest,omitempty"`
}

// Summarize builds the summary for one user from the full schedule listing.
func Summarize(rows []*ReminderSchedule, userID string) *ReminderSummary {
	sum := &ReminderSummary{UserID: userID}
	var latest *ReminderSchedule
	for _, r := range rows {
		if r.UserID != userID {
			continue
		}
		sum.Total++
		switch r.Status {
		case StatusResponded:
			sum.Responded++
		case StatusSent:
			sum.Pending++
		case StatusNoResponse:
			sum.NoResponse++
		}
		if latest == nil || r.CreatedAt.After(latest.CreatedAt) {
			latest = r
		}
	}
	if latest != nil {
		sum.Latest = &LatestReminder{
			ReminderType: latest.ReminderType,
			Status:       latest.Status,
			CreatedAt:    latest.CreatedAt,
		}
	}
	return sum
}

// LatestSentEvent returns the user's most recently created event that is still
// waiting for a reply, or nil. Replies always attach to the newest outstanding
// reminder.
func LatestSentEvent(rows []*ReminderEvent, userID string) *ReminderEvent {
	var latest *ReminderEvent
	for _, e := range rows {
		if e.UserID != userID || e.Status != StatusSent {
			continue
		}
		if latest == nil || e.CreatedAt.After(latest.CreatedAt) {
			latest = e
		}
	}
	return latest
}

// LatestActiveSchedule returns the most recently created schedule row for the
// pair that has not reached a terminal status, or nil. Re-scheduling a
// discharge reuses this row instead of inserting a second active one.
func LatestActiveSchedule(rows []*ReminderSchedule, userID string, rt ReminderType) *ReminderSchedule {
	var latest *ReminderSchedule
	for _, r := range rows {
		if r.UserID != userID || r.ReminderType != rt || r.Status.Terminal() {
			continue
		}
		if latest == nil || r.CreatedAt.After(latest.CreatedAt) {
			latest = r
		}
	}
	return latest
}

// LatestSchedule returns the most recently created schedule row matching user,
// type and status, or nil.
func LatestSchedule(rows []*ReminderSchedule, userID string, rt ReminderType, status ReminderStatus) *ReminderSchedule {
	var latest *ReminderSchedule
	for _, r := range rows {
		if r.UserID != userID || r.ReminderType != rt || r.Status != status {
			continue
		}
		if latest == nil || r.CreatedAt.After(latest.CreatedAt) {
			latest = r
		}
	}
	return latest
}

// SortSchedulesByTime orders rows by their planned fire time, earliest first.
func SortSchedulesByTime(rows []*ReminderSchedule) {
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].ScheduledAt.Before(rows[j].ScheduledAt)
	})
}
