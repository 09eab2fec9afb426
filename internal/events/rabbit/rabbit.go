// Package rabbit provides the RabbitMQ transport for notification events.
package rabbit

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/notifyd/notifyd/internal/events"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Config contains RabbitMQ connection settings.
type Config struct {
	URL            string
	ConnectRetries int
	RetryDelay     time.Duration
}

// Connection holds the RabbitMQ connection and channel.
type Connection struct {
	conn    *amqp.Connection
	channel *amqp.Channel
}

// Connect dials RabbitMQ with retries and declares the lane topology.
func Connect(cfg Config) (*Connection, error) {
	if cfg.ConnectRetries <= 0 {
		cfg.ConnectRetries = 5
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 2 * time.Second
	}

	var conn *amqp.Connection
	var err error
	for attempt := 1; attempt <= cfg.ConnectRetries; attempt++ {
		conn, err = amqp.Dial(cfg.URL)
		if err == nil {
			break
		}
		slog.Warn("rabbitmq connection failed, retrying",
			"attempt", attempt,
			"max_attempts", cfg.ConnectRetries,
			"error", err,
		)
		time.Sleep(cfg.RetryDelay)
	}
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	c := &Connection{conn: conn, channel: channel}
	if err := c.declareTopology(); err != nil {
		c.Close()
		return nil, err
	}

	slog.Info("connected to rabbitmq")
	return c, nil
}

// declareTopology sets up the notifications exchange and one queue per
// lane. The retry queue has no consumer: messages sit there until their
// per-message TTL expires and dead-letter back onto the normal lane.
func (c *Connection) declareTopology() error {
	if err := c.channel.ExchangeDeclare(
		events.Exchange,
		"direct",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	lanes := map[events.Lane]amqp.Table{
		events.LaneHighPriority: nil,
		events.LaneNormal:       nil,
		events.LaneRetry: {
			"x-dead-letter-exchange":    events.Exchange,
			"x-dead-letter-routing-key": string(events.LaneNormal),
		},
		events.LaneDeadLetter: nil,
	}

	for lane, args := range lanes {
		queue := events.QueueName(lane)
		if _, err := c.channel.QueueDeclare(
			queue,
			true,  // durable
			false, // auto-delete
			false, // exclusive
			false, // no-wait
			args,
		); err != nil {
			return fmt.Errorf("declare queue %s: %w", queue, err)
		}
		if err := c.channel.QueueBind(queue, string(lane), events.Exchange, false, nil); err != nil {
			return fmt.Errorf("bind queue %s: %w", queue, err)
		}
	}

	return nil
}

// Close closes the channel and connection.
func (c *Connection) Close() {
	if c.channel != nil {
		if err := c.channel.Close(); err != nil {
			slog.Error("failed to close rabbitmq channel", "error", err)
		}
	}
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			slog.Error("failed to close rabbitmq connection", "error", err)
		}
	}
	slog.Info("rabbitmq connection closed")
}
