package dispatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/notifyd/notifyd/internal/domain"
)

// DefaultMaxRetries is the retry ceiling before escalation.
const DefaultMaxRetries = 3

// DeadLetterSink receives notifications whose retries are exhausted.
// Implemented by the event bus publisher; nil means escalations are
// recorded in the store and logs only.
type DeadLetterSink interface {
	PublishDeadLetter(ctx context.Context, notification *domain.Notification, reason string) error
}

// Coordinator decides whether a failed notification gets another attempt
// and schedules that attempt with exponential backoff. A notification that
// has exhausted its retries is escalated to the dead letter sink exactly
// once, on the failure that follows its final retry.
type Coordinator struct {
	repo       Repository
	deadLetter DeadLetterSink
	maxRetries int
}

// NewCoordinator creates a retry coordinator. maxRetries <= 0 falls back
// to DefaultMaxRetries.
func NewCoordinator(repo Repository, deadLetter DeadLetterSink, maxRetries int) *Coordinator {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &Coordinator{
		repo:       repo,
		deadLetter: deadLetter,
		maxRetries: maxRetries,
	}
}

// ShouldRetry reports whether the notification is eligible for another
// attempt: it must have failed and must not have exhausted its retries.
func (c *Coordinator) ShouldRetry(notification *domain.Notification) bool {
	return notification.Status == domain.NotificationStatusFailed &&
		notification.RetryCount < c.maxRetries
}

// Backoff returns the delay before the attempt that follows the given
// retry count: 2^retryCount minutes (2m, 4m, 8m).
func (c *Coordinator) Backoff(retryCount int) time.Duration {
	return time.Duration(1<<retryCount) * time.Minute
}

// ScheduleRetry increments the retry count, computes the next retry time
// and resets the notification to pending so the re-driver picks it up.
func (c *Coordinator) ScheduleRetry(ctx context.Context, notification *domain.Notification) error {
	retryCount := notification.RetryCount + 1
	nextRetryAt := time.Now().UTC().Add(c.Backoff(retryCount))

	if err := c.repo.MarkRetry(ctx, notification.ID, retryCount, nextRetryAt); err != nil {
		return err
	}

	notification.RetryCount = retryCount
	notification.NextRetryAt = &nextRetryAt
	notification.Status = domain.NotificationStatusPending
	retriesScheduled.Inc()

	slog.Info("retry scheduled",
		"notification_id", notification.ID,
		"retry_count", retryCount,
		"next_retry_at", nextRetryAt,
	)
	return nil
}

// Escalate hands an exhausted notification to the dead letter sink.
func (c *Coordinator) Escalate(ctx context.Context, notification *domain.Notification) {
	dlqEscalations.Inc()

	slog.Error("notification moved to dead letter queue",
		"notification_id", notification.ID,
		"retry_count", notification.RetryCount,
		"error", notification.ErrorMessage,
	)

	if c.deadLetter == nil {
		return
	}
	if err := c.deadLetter.PublishDeadLetter(ctx, notification, notification.ErrorMessage); err != nil {
		slog.Error("failed to publish dead letter",
			"notification_id", notification.ID,
			"error", err,
		)
	}
}

// HandleFailure is the single entry point after a failed attempt: it either
// schedules the next retry or, when retries are exhausted, escalates.
func (c *Coordinator) HandleFailure(ctx context.Context, notification *domain.Notification) {
	if c.ShouldRetry(notification) {
		if err := c.ScheduleRetry(ctx, notification); err != nil {
			slog.Error("failed to schedule retry",
				"notification_id", notification.ID,
				"error", err,
			)
		}
		return
	}

	if notification.Status == domain.NotificationStatusFailed {
		c.Escalate(ctx, notification)
	}
}
