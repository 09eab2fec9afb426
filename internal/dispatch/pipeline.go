package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/notifyd/notifyd/internal/channel"
	"github.com/notifyd/notifyd/internal/domain"
)

// Outcome is the terminal result of one delivery attempt. A failed outcome
// carries the failure texts that were persisted on the notification; it is
// a value, not an error, so callers can inspect it without unwrapping.
type Outcome struct {
	Success     bool
	Message     string
	ErrorDetail string
}

// Pipeline runs one notification through channel resolution, the send
// attempt, and the resulting status transition. Retry scheduling is the
// Coordinator's job; the pipeline only reports the attempt outcome.
type Pipeline struct {
	repo     Repository
	users    UserDirectory
	registry *channel.Registry
}

// NewPipeline creates a delivery pipeline.
func NewPipeline(repo Repository, users UserDirectory, registry *channel.Registry) *Pipeline {
	return &Pipeline{
		repo:     repo,
		users:    users,
		registry: registry,
	}
}

// Deliver attempts delivery of the given notification. The notification row
// must already exist; its in-memory fields are updated alongside the store.
//
// An unsupported channel type and an unresolvable recipient are terminal
// failures: the notification goes straight to failed and is never retried.
func (p *Pipeline) Deliver(ctx context.Context, notification *domain.Notification) Outcome {
	ch, ok := p.registry.Resolve(notification.ChannelType)
	if !ok {
		detail := fmt.Sprintf("Unsupported channel type: %s", notification.ChannelType)
		slog.Error("no channel for notification",
			"notification_id", notification.ID,
			"channel_type", notification.ChannelType,
		)
		recordDelivered(string(notification.ChannelType), "unsupported")
		return p.fail(ctx, notification, "Notification failed", detail)
	}

	user, err := p.users.GetUser(ctx, notification.UserID)
	if err != nil {
		slog.Error("recipient lookup failed",
			"notification_id", notification.ID,
			"user_id", notification.UserID,
			"error", err,
		)
		recordDelivered(string(notification.ChannelType), "no_recipient")
		return p.fail(ctx, notification, "Notification failed", fmt.Sprintf("User not found: %s", notification.UserID))
	}

	// The attempt is observable as pending before the channel is invoked,
	// so a crash mid-send leaves a row the re-driver can reason about.
	if notification.Status != domain.NotificationStatusPending {
		if err := p.repo.UpdateStatus(ctx, notification.ID, domain.NotificationStatusPending, ""); err != nil {
			slog.Error("failed to mark as pending", "notification_id", notification.ID, "error", err)
			return Outcome{Message: "Notification failed", ErrorDetail: err.Error()}
		}
		notification.Status = domain.NotificationStatusPending
	}

	start := time.Now()
	result := p.send(ctx, ch, user, notification)
	duration := time.Since(start)

	if !result.Success {
		slog.Warn("delivery attempt failed",
			"notification_id", notification.ID,
			"channel", ch.Name(),
			"retry_count", notification.RetryCount,
			"detail", result.Detail,
		)
		recordDelivered(string(notification.ChannelType), "failed")
		return p.fail(ctx, notification, result.Message, result.Detail)
	}

	sentAt := time.Now().UTC()
	if err := p.repo.MarkSent(ctx, notification.ID, sentAt); err != nil {
		slog.Error("failed to mark as sent", "notification_id", notification.ID, "error", err)
		return Outcome{Message: "Notification failed", ErrorDetail: err.Error()}
	}
	notification.Status = domain.NotificationStatusSent
	notification.SentAt = &sentAt
	notification.ErrorMessage = ""

	recordDelivered(string(notification.ChannelType), "sent")
	recordDeliveryDuration(string(notification.ChannelType), duration)

	slog.Info("notification sent",
		"notification_id", notification.ID,
		"channel", ch.Name(),
		"duration", duration,
	)
	return Outcome{Success: true, Message: result.Message}
}

// DeliverByID loads a notification and delivers it. Used by the lane
// consumers and the scheduler, which only carry the notification id.
func (p *Pipeline) DeliverByID(ctx context.Context, id string) (*domain.Notification, Outcome, error) {
	notification, err := p.repo.GetByID(ctx, id)
	if err != nil {
		return nil, Outcome{}, err
	}
	return notification, p.Deliver(ctx, notification), nil
}

// DeliverScheduled delivers a notification fired by its schedule. It
// returns false without an attempt when the notification is no longer
// scheduled, which is how a cancelled schedule wins over a racing timer.
func (p *Pipeline) DeliverScheduled(ctx context.Context, id string) (Outcome, bool, error) {
	notification, err := p.repo.GetByID(ctx, id)
	if err != nil {
		return Outcome{}, false, err
	}

	if notification.Status != domain.NotificationStatusScheduled {
		slog.Info("skipping fired schedule, notification no longer scheduled",
			"notification_id", id,
			"status", notification.Status,
		)
		return Outcome{}, false, nil
	}

	return p.Deliver(ctx, notification), true, nil
}

// send invokes the channel, converting a panic in a channel implementation
// into a failed result so one bad provider cannot take the process down.
func (p *Pipeline) send(ctx context.Context, ch channel.Channel, user *domain.User, notification *domain.Notification) (result channel.Result) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("channel panicked",
				"channel", ch.Name(),
				"notification_id", notification.ID,
				"panic", r,
			)
			result = channel.Fail("Notification failed", fmt.Sprintf("channel panic: %v", r))
		}
	}()
	return ch.Send(ctx, user, notification)
}

func (p *Pipeline) fail(ctx context.Context, notification *domain.Notification, message, detail string) Outcome {
	if err := p.repo.UpdateStatus(ctx, notification.ID, domain.NotificationStatusFailed, detail); err != nil {
		slog.Error("failed to mark as failed", "notification_id", notification.ID, "error", err)
	}
	notification.Status = domain.NotificationStatusFailed
	notification.ErrorMessage = detail
	return Outcome{Message: message, ErrorDetail: detail}
}
