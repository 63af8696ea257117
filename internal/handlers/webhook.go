package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"followup/internal/models"
	"followup/internal/scheduler"
	"followup/internal/storage"
	"followup/internal/tracker"
)

type ReminderHandler struct {
	store     storage.Store
	scheduler *scheduler.Scheduler
	tracker   *tracker.Tracker
	loc       *time.Location
	logger    *zap.SugaredLogger
}

func NewReminderHandler(store storage.Store, sched *scheduler.Scheduler, trk *tracker.Tracker, loc *time.Location, logger *zap.SugaredLogger) *ReminderHandler {
	return &ReminderHandler{
		store:     store,
		scheduler: sched,
		tracker:   trk,
		loc:       loc,
		logger:    logger,
	}
}

type dischargeRequest struct {
	UserID        string `json:"user_id"`
	DischargeDate string `json:"discharge_date"`
}

// CreateDischarge registers a discharged patient and schedules the whole
// follow-up series for them.
func (h *ReminderHandler) CreateDischarge(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req dischargeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if req.UserID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}
	discharge, err := h.parseDate(req.DischargeDate)
	if err != nil {
		http.Error(w, "discharge_date must be YYYY-MM-DD", http.StatusBadRequest)
		return
	}

	result, err := h.scheduler.ScheduleAll(ctx, req.UserID, discharge)
	if err != nil {
		h.logger.Errorw("Failed to schedule follow-ups", "user_id", req.UserID, "error", err)
		http.Error(w, "Failed to schedule reminders", http.StatusInternalServerError)
		return
	}
	if len(result.Scheduled) == 0 {
		h.logger.Errorw("No reminders could be scheduled", "user_id", req.UserID, "failed", result.Failed)
		http.Error(w, "Failed to schedule reminders", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(result)
}

type responseRequest struct {
	UserID string `json:"user_id"`
	Text   string `json:"text"`
}

// CreateResponse records an inbound patient reply against their most recent
// outstanding reminder.
func (h *ReminderHandler) CreateResponse(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req responseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if req.UserID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}

	recorded, err := h.tracker.HandleResponse(ctx, req.UserID, req.Text)
	if err != nil {
		if errors.Is(err, tracker.ErrNoPendingReminder) {
			http.Error(w, "No pending reminder for user", http.StatusNotFound)
			return
		}
		h.logger.Errorw("Failed to record response", "user_id", req.UserID, "error", err)
		http.Error(w, "Failed to record response", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(recorded)
}

// GetSummary returns one patient's reminder counts and latest status.
func (h *ReminderHandler) GetSummary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		http.Error(w, "userID is required", http.StatusBadRequest)
		return
	}

	rows, err := h.store.GetAllSchedules(ctx)
	if err != nil {
		h.logger.Errorw("Failed to load schedules", "error", err)
		http.Error(w, "Failed to get summary", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(models.Summarize(rows, userID))
}

// CancelReminder drops the armed jobs for one (user, type) pair.
func (h *ReminderHandler) CancelReminder(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	reminderType := chi.URLParam(r, "reminderType")
	if userID == "" || reminderType == "" {
		http.Error(w, "userID and reminderType are required", http.StatusBadRequest)
		return
	}

	cancelled := h.scheduler.Cancel(userID, models.ReminderType(reminderType))
	if cancelled == 0 {
		http.Error(w, "No scheduled jobs found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int{"cancelled": cancelled})
}

// ListJobs exposes the armed timer table for inspection.
func (h *ReminderHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.scheduler.Jobs())
}

func (h *ReminderHandler) parseDate(value string) (time.Time, error) {
	if t, err := time.ParseInLocation("2006-01-02", value, h.loc); err == nil {
		return t, nil
	}
	return time.ParseInLocation("2006-01-02 15:04:05", value, h.loc)
}
