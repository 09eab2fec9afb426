package rabbit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/notifyd/notifyd/internal/domain"
	"github.com/notifyd/notifyd/internal/events"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher puts notification events on the lanes. It implements the
// dispatch service's EventPublisher and the retry coordinator's
// DeadLetterSink.
type Publisher struct {
	conn *Connection
}

// NewPublisher creates a publisher on an established connection.
func NewPublisher(conn *Connection) *Publisher {
	return &Publisher{conn: conn}
}

// PublishCreated routes a new notification onto its priority lane.
func (p *Publisher) PublishCreated(ctx context.Context, notification *domain.Notification) error {
	lane := events.LaneFor(notification.Priority)
	return p.publish(ctx, lane, events.NewEnvelope(events.TypeCreated, notification), nil)
}

// PublishRetry parks an event on the retry lane. The per-message TTL makes
// the broker dead-letter it back onto the normal lane once the transport
// backoff has elapsed; no consumer ever blocks on the wait.
func (p *Publisher) PublishRetry(ctx context.Context, env events.Envelope, retryCount int) error {
	env.EventType = events.TypeRetry
	env.RetryCount = retryCount

	backoff := events.TransportBackoff(retryCount)
	expiration := strconv.FormatInt(backoff.Milliseconds(), 10)

	slog.Info("event parked for retry",
		"notification_id", env.NotificationID,
		"retry_count", retryCount,
		"backoff", backoff,
	)
	return p.publish(ctx, events.LaneRetry, env, &expiration)
}

// PublishDeadLetter moves an exhausted notification to the dead letter lane.
func (p *Publisher) PublishDeadLetter(ctx context.Context, notification *domain.Notification, reason string) error {
	env := events.NewEnvelope(events.TypeDeadLetter, notification)
	env.Reason = reason
	return p.publish(ctx, events.LaneDeadLetter, env, nil)
}

// PublishDeadLetterEvent moves an already-built envelope to the dead
// letter lane, keeping its retry history.
func (p *Publisher) PublishDeadLetterEvent(ctx context.Context, env events.Envelope, reason string) error {
	env.EventType = events.TypeDeadLetter
	env.Reason = reason
	return p.publish(ctx, events.LaneDeadLetter, env, nil)
}

func (p *Publisher) publish(ctx context.Context, lane events.Lane, env events.Envelope, expiration *string) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	publishing := amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		MessageId:    env.EventID,
		Timestamp:    time.Now(),
		Body:         body,
	}
	if expiration != nil {
		publishing.Expiration = *expiration
	}

	err = p.conn.channel.PublishWithContext(
		ctx,
		events.Exchange,
		string(lane),
		false, // mandatory
		false, // immediate
		publishing,
	)
	if err != nil {
		return fmt.Errorf("publish to lane %s: %w", lane, err)
	}

	slog.Debug("event published",
		"lane", lane,
		"event_id", env.EventID,
		"event_type", env.EventType,
	)
	return nil
}
