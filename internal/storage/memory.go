package storage

import (
	"context"
	"sync"
	"time"

	"followup/internal/models"
)

// MemoryStorage keeps all rows in process memory. Used when no Redis address
// is configured and in tests. Reads return copies, so a row handed out earlier
// never changes under the caller.
type MemoryStorage struct {
	mu        sync.RWMutex
	schedules map[string]*models.ReminderSchedule
	events    map[string]*models.ReminderEvent
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		schedules: make(map[string]*models.ReminderSchedule),
		events:    make(map[string]*models.ReminderEvent),
	}
}

func (s *MemoryStorage) CreateSchedule(ctx context.Context, schedule *models.ReminderSchedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.schedules[schedule.ID] = cloneSchedule(schedule)
	return nil
}

func (s *MemoryStorage) GetScheduleByID(ctx context.Context, id string) (*models.ReminderSchedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	schedule, exists := s.schedules[id]
	if !exists {
		return nil, ErrNotFound
	}
	return cloneSchedule(schedule), nil
}

func (s *MemoryStorage) GetAllSchedules(ctx context.Context) ([]*models.ReminderSchedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	schedules := make([]*models.ReminderSchedule, 0, len(s.schedules))
	for _, row := range s.schedules {
		schedules = append(schedules, cloneSchedule(row))
	}
	return schedules, nil
}

func (s *MemoryStorage) UpdateSchedule(ctx context.Context, id string, expect models.ReminderStatus, updateFn func(*models.ReminderSchedule)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, exists := s.schedules[id]
	if !exists {
		return ErrNotFound
	}
	if row.Status != expect {
		return ErrConflict
	}
	updateFn(row)
	row.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStorage) CreateEvent(ctx context.Context, event *models.ReminderEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events[event.ID] = cloneEvent(event)
	return nil
}

func (s *MemoryStorage) GetAllEvents(ctx context.Context) ([]*models.ReminderEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := make([]*models.ReminderEvent, 0, len(s.events))
	for _, row := range s.events {
		events = append(events, cloneEvent(row))
	}
	return events, nil
}

func (s *MemoryStorage) UpdateEvent(ctx context.Context, id string, expect models.ReminderStatus, updateFn func(*models.ReminderEvent)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, exists := s.events[id]
	if !exists {
		return ErrNotFound
	}
	if row.Status != expect {
		return ErrConflict
	}
	updateFn(row)
	row.UpdatedAt = time.Now()
	return nil
}

func cloneSchedule(s *models.ReminderSchedule) *models.ReminderSchedule {
	c := *s
	return &c
}

func cloneEvent(e *models.ReminderEvent) *models.ReminderEvent {
	c := *e
	if e.ResponseAt != nil {
		t := *e.ResponseAt
		c.ResponseAt = &t
	}
	return &c
}
