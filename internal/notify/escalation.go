package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"followup/internal/models"
)

// Escalator pushes alerts to the staff LINE group. Escalations are
// best-effort: callers log failures and move on, patient-facing flows never
// block on them.
type Escalator struct {
	pusher         Pusher
	staffGroupID   string
	thresholdHours int
}

func NewEscalator(pusher Pusher, staffGroupID string, thresholdHours int) *Escalator {
	return &Escalator{
		pusher:         pusher,
		staffGroupID:   staffGroupID,
		thresholdHours: thresholdHours,
	}
}

// ConcerningResponse alerts staff that a patient's reply contains worrying
// symptoms.
func (e *Escalator) ConcerningResponse(ctx context.Context, userID string, rt models.ReminderType, responseText string) error {
	if e.staffGroupID == "" {
		return errors.New("STAFF_GROUP_ID not configured")
	}

	msg := fmt.Sprintf(
		"⚠️ แจ้งเตือนอาการน่ากังวล\n\n"+
			"👤 ผู้ป่วย: %s\n"+
			"📋 Reminder: %s\n"+
			"💬 Response: %s\n\n"+
			"กรุณาติดตามด่วนค่ะ",
		userID, rt, responseText)

	return e.pusher.Push(ctx, e.staffGroupID, msg)
}

// NoResponseAlert tells staff that a patient went silent past the threshold.
// All of a patient's expired reminders go into one message.
func (e *Escalator) NoResponseAlert(ctx context.Context, userID string, types []models.ReminderType) error {
	if e.staffGroupID == "" {
		return errors.New("STAFF_GROUP_ID not configured")
	}
	if len(types) == 0 {
		return errors.New("no reminder types to report")
	}

	names := make([]string, len(types))
	for i, rt := range types {
		names[i] = string(rt)
	}

	msg := fmt.Sprintf(
		"📢 แจ้งเตือนไม่มีการตอบกลับ\n\n"+
			"👤 ผู้ป่วย: %s\n"+
			"📋 Reminders: %s\n"+
			"⏰ เกิน %d ชั่วโมงแล้ว\n\n"+
			"กรุณาติดตามผู้ป่วยค่ะ",
		userID, strings.Join(names, ", "), e.thresholdHours)

	return e.pusher.Push(ctx, e.staffGroupID, msg)
}
