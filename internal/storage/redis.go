package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	wbfredis "github.com/wb-go/wbf/redis"
	wbfretry "github.com/wb-go/wbf/retry"
	"go.uber.org/zap"

	"followup/internal/models"
)

const casAttempts = 5

var (
	connectRetry = wbfretry.Strategy{
		Attempts: 5,
		Delay:    1 * time.Second,
		Backoff:  2,
	}
	opRetry = wbfretry.Strategy{
		Attempts: 3,
		Delay:    100 * time.Millisecond,
		Backoff:  2,
	}
)

type RedisStorage struct {
	client *redis.Client
	logger *zap.SugaredLogger
}

func NewRedisStorage(addr string, logger *zap.SugaredLogger) (*RedisStorage, error) {
	wbfClient := wbfredis.New(addr, "", 0)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := wbfretry.DoContext(ctx, connectRetry, func() error {
		return wbfClient.Ping(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Infow("Connected to Redis", "addr", addr)

	return &RedisStorage{
		client: wbfClient.Client,
		logger: logger,
	}, nil
}

func scheduleKey(id string) string { return "schedule:" + id }
func eventKey(id string) string    { return "event:" + id }

func (s *RedisStorage) CreateSchedule(ctx context.Context, schedule *models.ReminderSchedule) error {
	if err := s.setJSON(ctx, scheduleKey(schedule.ID), schedule); err != nil {
		return fmt.Errorf("failed to store schedule: %w", err)
	}
	err := wbfretry.DoContext(ctx, opRetry, func() error {
		return s.client.SAdd(ctx, "schedules:all", schedule.ID).Err()
	})
	if err != nil {
		return fmt.Errorf("failed to index schedule: %w", err)
	}
	return nil
}

func (s *RedisStorage) GetScheduleByID(ctx context.Context, id string) (*models.ReminderSchedule, error) {
	var schedule models.ReminderSchedule
	if err := s.getJSON(ctx, scheduleKey(id), &schedule); err != nil {
		return nil, err
	}
	return &schedule, nil
}

func (s *RedisStorage) GetAllSchedules(ctx context.Context) ([]*models.ReminderSchedule, error) {
	ids, err := s.client.SMembers(ctx, "schedules:all").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list schedule IDs: %w", err)
	}

	schedules := make([]*models.ReminderSchedule, 0, len(ids))
	for _, id := range ids {
		schedule, err := s.GetScheduleByID(ctx, id)
		if err != nil {
			s.logger.Warnw("Skipping unreadable schedule", "id", id, "error", err)
			continue
		}
		schedules = append(schedules, schedule)
	}
	return schedules, nil
}

// UpdateSchedule applies updateFn only if the row still has the expected
// status. Concurrent writers are handled with a WATCH transaction: a clashing
// write re-reads and re-checks, a changed status returns ErrConflict.
func (s *RedisStorage) UpdateSchedule(ctx context.Context, id string, expect models.ReminderStatus, updateFn func(*models.ReminderSchedule)) error {
	return s.casUpdate(ctx, scheduleKey(id), func(data []byte) ([]byte, error) {
		var row models.ReminderSchedule
		if err := json.Unmarshal(data, &row); err != nil {
			return nil, fmt.Errorf("failed to unmarshal schedule: %w", err)
		}
		if row.Status != expect {
			return nil, fmt.Errorf("schedule %s is %s, expected %s: %w", id, row.Status, expect, ErrConflict)
		}
		updateFn(&row)
		row.UpdatedAt = time.Now()
		out, err := json.Marshal(&row)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal schedule: %w", err)
		}
		return out, nil
	})
}

func (s *RedisStorage) CreateEvent(ctx context.Context, event *models.ReminderEvent) error {
	if err := s.setJSON(ctx, eventKey(event.ID), event); err != nil {
		return fmt.Errorf("failed to store event: %w", err)
	}
	err := wbfretry.DoContext(ctx, opRetry, func() error {
		return s.client.SAdd(ctx, "events:all", event.ID).Err()
	})
	if err != nil {
		return fmt.Errorf("failed to index event: %w", err)
	}
	return nil
}

func (s *RedisStorage) GetAllEvents(ctx context.Context) ([]*models.ReminderEvent, error) {
	ids, err := s.client.SMembers(ctx, "events:all").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list event IDs: %w", err)
	}

	events := make([]*models.ReminderEvent, 0, len(ids))
	for _, id := range ids {
		var event models.ReminderEvent
		if err := s.getJSON(ctx, eventKey(id), &event); err != nil {
			s.logger.Warnw("Skipping unreadable event", "id", id, "error", err)
			continue
		}
		events = append(events, &event)
	}
	return events, nil
}

func (s *RedisStorage) UpdateEvent(ctx context.Context, id string, expect models.ReminderStatus, updateFn func(*models.ReminderEvent)) error {
	return s.casUpdate(ctx, eventKey(id), func(data []byte) ([]byte, error) {
		var row models.ReminderEvent
		if err := json.Unmarshal(data, &row); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event: %w", err)
		}
		if row.Status != expect {
			return nil, fmt.Errorf("event %s is %s, expected %s: %w", id, row.Status, expect, ErrConflict)
		}
		updateFn(&row)
		row.UpdatedAt = time.Now()
		out, err := json.Marshal(&row)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal event: %w", err)
		}
		return out, nil
	})
}

// casUpdate runs apply on the watched key and writes the result back inside a
// transaction. TxFailedErr means another writer touched the key between read
// and write, so the whole read-check-write cycle restarts with fresh data.
func (s *RedisStorage) casUpdate(ctx context.Context, key string, apply func([]byte) ([]byte, error)) error {
	for i := 0; i < casAttempts; i++ {
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err == redis.Nil {
				return ErrNotFound
			}
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", key, err)
			}
			out, err := apply(data)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, out, 0)
				return nil
			})
			return err
		}, key)
		if err == redis.TxFailedErr {
			continue
		}
		return err
	}
	return fmt.Errorf("failed to update %s after %d attempts: %w", key, casAttempts, redis.TxFailedErr)
}

func (s *RedisStorage) setJSON(ctx context.Context, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	return wbfretry.DoContext(ctx, opRetry, func() error {
		return s.client.Set(ctx, key, data, 0).Err()
	})
}

func (s *RedisStorage) getJSON(ctx context.Context, key string, v interface{}) error {
	var data []byte
	err := wbfretry.DoContext(ctx, opRetry, func() error {
		result, getErr := s.client.Get(ctx, key).Bytes()
		if getErr == redis.Nil {
			data = nil
			return nil
		}
		if getErr != nil {
			return getErr
		}
		data = result
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to get %s: %w", key, err)
	}
	if data == nil {
		return ErrNotFound
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return nil
}
