package rabbit

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/notifyd/notifyd/internal/dispatch"
	"github.com/notifyd/notifyd/internal/domain"
	"github.com/notifyd/notifyd/internal/events"
	amqp "github.com/rabbitmq/amqp091-go"
)

// maxTransportRetries bounds how often a message is re-driven through the
// retry lane before it goes to the dead letter lane.
const maxTransportRetries = 3

// Deliverer loads and delivers the notification behind an event.
// Implemented by the dispatch pipeline.
type Deliverer interface {
	DeliverByID(ctx context.Context, id string) (*domain.Notification, dispatch.Outcome, error)
}

// FailureHandler handles delivery failures recorded in the store.
// Implemented by the retry coordinator.
type FailureHandler interface {
	HandleFailure(ctx context.Context, notification *domain.Notification)
}

// republisher parks events on the retry and dead letter lanes.
// Implemented by Publisher.
type republisher interface {
	PublishRetry(ctx context.Context, env events.Envelope, retryCount int) error
	PublishDeadLetterEvent(ctx context.Context, env events.Envelope, reason string) error
}

// Consumer drains the high-priority and normal lanes and runs each event
// through delivery. Processing errors (store down, broker hiccups) go back
// through the retry lane with transport backoff; delivery failures are the
// coordinator's business and use the store-level retry clock.
type Consumer struct {
	conn      *Connection
	publisher republisher
	deliverer Deliverer
	failures  FailureHandler
}

// NewConsumer creates a lane consumer.
func NewConsumer(conn *Connection, publisher *Publisher, deliverer Deliverer, failures FailureHandler) *Consumer {
	return &Consumer{
		conn:      conn,
		publisher: publisher,
		deliverer: deliverer,
		failures:  failures,
	}
}

// Start begins consuming the delivery lanes and watching the dead letter
// lane. Consumers stop when ctx is cancelled.
func (c *Consumer) Start(ctx context.Context) error {
	for _, lane := range []events.Lane{events.LaneHighPriority, events.LaneNormal} {
		if err := c.consumeLane(ctx, lane); err != nil {
			return err
		}
	}
	return c.watchDeadLetters(ctx)
}

func (c *Consumer) consumeLane(ctx context.Context, lane events.Lane) error {
	queue := events.QueueName(lane)
	msgs, err := c.conn.channel.Consume(
		queue,
		"",    // consumer tag
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return err
	}

	slog.Info("lane consumer started", "queue", queue)

	go func() {
		for {
			select {
			case <-ctx.Done():
				slog.Info("lane consumer stopped", "queue", queue)
				return
			case msg, ok := <-msgs:
				if !ok {
					slog.Warn("lane channel closed", "queue", queue)
					return
				}
				c.processMessage(ctx, lane, msg)
			}
		}
	}()
	return nil
}

func (c *Consumer) processMessage(ctx context.Context, lane events.Lane, msg amqp.Delivery) {
	var env events.Envelope
	if err := json.Unmarshal(msg.Body, &env); err != nil {
		slog.Error("failed to unmarshal event, dropping", "lane", lane, "error", err)
		msg.Nack(false, false)
		return
	}

	slog.Debug("event received",
		"lane", lane,
		"event_id", env.EventID,
		"notification_id", env.NotificationID,
	)

	notification, outcome, err := c.deliverer.DeliverByID(ctx, env.NotificationID)
	if err != nil {
		if c.handleProcessingError(ctx, env, err) {
			msg.Ack(false)
			return
		}
		// The event could not be parked anywhere; leave it on the queue
		// so the broker redelivers it.
		msg.Nack(false, true)
		return
	}

	if !outcome.Success {
		c.failures.HandleFailure(ctx, notification)
	}
	msg.Ack(false)
}

// handleProcessingError re-drives events that could not be processed at
// all. A missing notification row is dropped: the row is the source of
// truth, and there is nothing left to deliver. Reports whether the event
// was safely dropped or parked; false means the caller must keep the
// message on the queue.
func (c *Consumer) handleProcessingError(ctx context.Context, env events.Envelope, err error) bool {
	if errors.Is(err, dispatch.ErrNotificationNotFound) {
		slog.Warn("event references missing notification, dropping",
			"event_id", env.EventID,
			"notification_id", env.NotificationID,
		)
		return true
	}

	if env.RetryCount >= maxTransportRetries {
		slog.Error("event exhausted transport retries",
			"event_id", env.EventID,
			"notification_id", env.NotificationID,
			"error", err,
		)
		if pubErr := c.publisher.PublishDeadLetterEvent(ctx, env, err.Error()); pubErr != nil {
			slog.Error("failed to publish dead letter", "event_id", env.EventID, "error", pubErr)
			return false
		}
		return true
	}

	if pubErr := c.publisher.PublishRetry(ctx, env, env.RetryCount+1); pubErr != nil {
		slog.Error("failed to park event for retry", "event_id", env.EventID, "error", pubErr)
		return false
	}
	return true
}

// watchDeadLetters logs everything that lands on the dead letter lane so
// operators see escalations without a broker console.
func (c *Consumer) watchDeadLetters(ctx context.Context) error {
	queue := events.QueueName(events.LaneDeadLetter)
	msgs, err := c.conn.channel.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		return err
	}

	slog.Info("dead letter monitor started", "queue", queue)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var env events.Envelope
				if err := json.Unmarshal(msg.Body, &env); err != nil {
					slog.Error("failed to unmarshal dead letter", "error", err)
					msg.Nack(false, false)
					continue
				}
				slog.Warn("notification in dead letter queue",
					"event_id", env.EventID,
					"notification_id", env.NotificationID,
					"user_id", env.UserID,
					"retry_count", env.RetryCount,
					"reason", env.Reason,
				)
				msg.Ack(false)
			}
		}
	}()
	return nil
}
