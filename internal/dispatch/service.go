package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/notifyd/notifyd/internal/domain"
)

// JobScheduler arms and disarms delivery timers for scheduled
// notifications. Implemented by the schedule package.
type JobScheduler interface {
	Schedule(ctx context.Context, notification *domain.Notification) (*domain.ScheduledJob, error)
	Cancel(ctx context.Context, notificationID string) (bool, error)
	Reschedule(ctx context.Context, notification *domain.Notification, newTime time.Time) (*domain.ScheduledJob, error)
}

// EventPublisher puts freshly created notifications on the event bus.
// nil means the bus is disabled and delivery happens in-process.
type EventPublisher interface {
	PublishCreated(ctx context.Context, notification *domain.Notification) error
}

// SendRequest is a request to send or schedule one notification.
type SendRequest struct {
	UserID      string            `json:"userId" validate:"required"`
	Title       string            `json:"title" validate:"required,max=255"`
	Content     string            `json:"content" validate:"required"`
	ChannelType string            `json:"channelType" validate:"required,oneof=email sms push"`
	Priority    string            `json:"priority" validate:"omitempty,oneof=low medium high"`
	Metadata    map[string]string `json:"metadata"`
	ScheduledAt *time.Time        `json:"scheduledAt"`
}

// SendResponse reports the stored notification and the immediate outcome.
type SendResponse struct {
	Notification *domain.Notification
	Message      string
}

// CancelResult reports the outcome of a cancellation request.
type CancelResult struct {
	Cancelled bool   `json:"cancelled"`
	Message   string `json:"message"`
}

// Service implements notification submission and lifecycle operations.
type Service struct {
	repo        Repository
	users       UserDirectory
	pipeline    *Pipeline
	coordinator *Coordinator
	scheduler   JobScheduler
	publisher   EventPublisher
}

// NewService creates a notification service. publisher may be nil, in
// which case unscheduled notifications are delivered synchronously.
func NewService(repo Repository, users UserDirectory, pipeline *Pipeline, coordinator *Coordinator, scheduler JobScheduler, publisher EventPublisher) *Service {
	return &Service{
		repo:        repo,
		users:       users,
		pipeline:    pipeline,
		coordinator: coordinator,
		scheduler:   scheduler,
		publisher:   publisher,
	}
}

// Send creates a notification and either schedules it, hands it to the
// event bus, or delivers it in-process.
func (s *Service) Send(ctx context.Context, req SendRequest) (*SendResponse, error) {
	if _, err := s.users.GetUser(ctx, req.UserID); err != nil {
		return nil, fmt.Errorf("resolve recipient: %w", err)
	}

	notification := s.buildNotification(req)

	if notification.ScheduledAt != nil {
		notification.Status = domain.NotificationStatusScheduled
		if err := s.repo.Create(ctx, notification); err != nil {
			return nil, fmt.Errorf("create notification: %w", err)
		}
		if _, err := s.scheduler.Schedule(ctx, notification); err != nil {
			return nil, fmt.Errorf("schedule notification: %w", err)
		}
		return &SendResponse{
			Notification: notification,
			Message:      "Notification scheduled for delivery",
		}, nil
	}

	if err := s.repo.Create(ctx, notification); err != nil {
		return nil, fmt.Errorf("create notification: %w", err)
	}

	if s.publisher != nil {
		if err := s.publisher.PublishCreated(ctx, notification); err != nil {
			// The row exists; the re-driver will not pick it up without a
			// retry time, so fall through to in-process delivery.
			slog.Error("failed to publish created event, delivering in-process",
				"notification_id", notification.ID,
				"error", err,
			)
		} else {
			return &SendResponse{
				Notification: notification,
				Message:      "Notification queued for delivery",
			}, nil
		}
	}

	outcome := s.pipeline.Deliver(ctx, notification)
	if !outcome.Success {
		s.coordinator.HandleFailure(ctx, notification)
		return &SendResponse{Notification: notification, Message: outcome.Message}, nil
	}

	return &SendResponse{Notification: notification, Message: outcome.Message}, nil
}

// Get returns one notification by id.
func (s *Service) Get(ctx context.Context, id string) (*domain.Notification, error) {
	return s.repo.GetByID(ctx, id)
}

// ListByUser returns a page of a user's notifications, newest first.
func (s *Service) ListByUser(ctx context.Context, userID string, limit, offset int) ([]domain.Notification, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListByUser(ctx, userID, limit, offset)
}

// CancelScheduled cancels a scheduled notification. Cancelling twice is
// not an error; the second call reports cancelled=false.
func (s *Service) CancelScheduled(ctx context.Context, notificationID string) (*CancelResult, error) {
	cancelled, err := s.scheduler.Cancel(ctx, notificationID)
	if err != nil {
		return nil, err
	}

	if !cancelled {
		return &CancelResult{
			Cancelled: false,
			Message:   "No active schedule found for notification",
		}, nil
	}

	if err := s.repo.UpdateStatus(ctx, notificationID, domain.NotificationStatusCancelled, ""); err != nil {
		return nil, fmt.Errorf("mark cancelled: %w", err)
	}

	return &CancelResult{
		Cancelled: true,
		Message:   "Scheduled notification cancelled successfully",
	}, nil
}

// Reschedule moves a scheduled notification to a new delivery time. The
// stored row follows the new job so reads reflect the move.
func (s *Service) Reschedule(ctx context.Context, notificationID string, newTime time.Time) (*domain.ScheduledJob, error) {
	notification, err := s.repo.GetByID(ctx, notificationID)
	if err != nil {
		return nil, err
	}
	if notification.Status != domain.NotificationStatusScheduled {
		return nil, fmt.Errorf("%w: notification %s is %s, not scheduled", ErrInvalidTransition, notificationID, notification.Status)
	}

	job, err := s.scheduler.Reschedule(ctx, notification, newTime)
	if err != nil {
		return nil, err
	}

	// job.ScheduledTime is the effective time after any past-time clamp.
	if err := s.repo.UpdateScheduledAt(ctx, notificationID, job.ScheduledTime); err != nil {
		return nil, fmt.Errorf("persist new delivery time: %w", err)
	}
	return job, nil
}

// MarkDelivered records a delivery receipt from a provider callback.
// Only sent notifications can transition to delivered.
func (s *Service) MarkDelivered(ctx context.Context, id string) (*domain.Notification, error) {
	notification, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if notification.Status != domain.NotificationStatusSent {
		return nil, fmt.Errorf("%w: notification %s is %s, not sent", ErrInvalidTransition, id, notification.Status)
	}

	if err := s.repo.UpdateStatus(ctx, id, domain.NotificationStatusDelivered, ""); err != nil {
		return nil, err
	}
	notification.Status = domain.NotificationStatusDelivered
	return notification, nil
}

func (s *Service) buildNotification(req SendRequest) *domain.Notification {
	now := time.Now().UTC()

	priority := domain.Priority(req.Priority)
	if priority == "" {
		priority = domain.PriorityMedium
	}

	return &domain.Notification{
		ID:          uuid.New().String(),
		UserID:      req.UserID,
		Title:       req.Title,
		Content:     req.Content,
		ChannelType: domain.ChannelType(req.ChannelType),
		Priority:    priority,
		Status:      domain.NotificationStatusPending,
		Metadata:    req.Metadata,
		ScheduledAt: req.ScheduledAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}
