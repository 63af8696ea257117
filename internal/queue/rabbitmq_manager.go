// Package queue carries due-reminder dispatch commands between the scheduler's
// timers and the dispatch workers over RabbitMQ.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/wb-go/wbf/rabbitmq"
	"github.com/wb-go/wbf/retry"
	"go.uber.org/zap"

	"followup/internal/models"
)

const (
	exchangeName    = "reminders"
	dispatchQueue   = "reminders.dispatch"
	dispatchRouting = "dispatch"
)

type Manager struct {
	client    *rabbitmq.RabbitClient
	publisher *rabbitmq.Publisher
	consumer  *rabbitmq.Consumer
	logger    *zap.SugaredLogger
}

func NewManager(url string, logger *zap.SugaredLogger) (*Manager, error) {
	config := rabbitmq.ClientConfig{
		URL:       url,
		Heartbeat: 10 * time.Second,
		ReconnectStrat: retry.Strategy{
			Attempts: 10,
			Delay:    2 * time.Second,
			Backoff:  2,
		},
		ProducingStrat: retry.Strategy{
			Attempts: 3,
			Delay:    100 * time.Millisecond,
			Backoff:  2,
		},
		ConsumingStrat: retry.Strategy{
			Attempts: 3,
			Delay:    100 * time.Millisecond,
			Backoff:  2,
		},
	}

	client, err := rabbitmq.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create RabbitMQ client: %w", err)
	}

	if err := setupExchangeAndQueue(client); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to setup exchange and queue: %w", err)
	}

	publisher := rabbitmq.NewPublisher(client, exchangeName, "application/json")

	logger.Infow("RabbitMQ manager initialized")
	return &Manager{
		client:    client,
		publisher: publisher,
		logger:    logger,
	}, nil
}

func setupExchangeAndQueue(client *rabbitmq.RabbitClient) error {
	if err := client.DeclareExchange(exchangeName, "direct", true, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	err := client.DeclareQueue(
		dispatchQueue,
		exchangeName,
		dispatchRouting,
		true,
		false,
		true,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to declare dispatch queue: %w", err)
	}

	return nil
}

// PublishDispatch enqueues one due-reminder command for the dispatch workers.
func (m *Manager) PublishDispatch(ctx context.Context, cmd models.DispatchCommand) error {
	body, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("failed to marshal dispatch command: %w", err)
	}

	if err := m.publisher.Publish(ctx, body, dispatchRouting); err != nil {
		return fmt.Errorf("failed to publish dispatch command: %w", err)
	}

	m.logger.Debugw("Published dispatch command",
		"schedule_id", cmd.ScheduleID,
		"user_id", cmd.UserID,
		"reminder_type", cmd.ReminderType)
	return nil
}

func (m *Manager) StartConsumer(ctx context.Context, handler rabbitmq.MessageHandler) error {
	config := rabbitmq.ConsumerConfig{
		Queue:         dispatchQueue,
		ConsumerTag:   "reminder-dispatcher",
		AutoAck:       false,
		Workers:       3,
		PrefetchCount: 10,
		Ask: rabbitmq.AskConfig{
			Multiple: false,
		},
		Nack: rabbitmq.NackConfig{
			Multiple: false,
			Requeue:  true,
		},
		Args: nil,
	}

	m.consumer = rabbitmq.NewConsumer(m.client, config, handler)

	go func() {
		if err := m.consumer.Start(ctx); err != nil {
			m.logger.Errorw("Consumer stopped with error", "error", err)
		}
	}()

	m.logger.Infow("Dispatch consumer started", "queue", dispatchQueue)
	return nil
}

func (m *Manager) Close() error {
	if m.client != nil {
		return m.client.Close()
	}
	return nil
}
