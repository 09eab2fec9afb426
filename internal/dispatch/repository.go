// Package dispatch drives notifications through their delivery state
// machine and decides retry and dead-letter escalation.
package dispatch

import (
	"context"
	"time"

	"github.com/notifyd/notifyd/internal/domain"
)

// Repository defines the interface for notification data access.
type Repository interface {
	Create(ctx context.Context, notification *domain.Notification) error
	CreateBatch(ctx context.Context, notifications []*domain.Notification) error
	GetByID(ctx context.Context, id string) (*domain.Notification, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]domain.Notification, error)

	// UpdateStatus sets the status and error message of a notification.
	UpdateStatus(ctx context.Context, id string, status domain.NotificationStatus, errorMessage string) error

	// UpdateScheduledAt moves the stored delivery time of a notification.
	UpdateScheduledAt(ctx context.Context, id string, scheduledAt time.Time) error

	// MarkSent transitions a notification to sent and stamps sent_at.
	MarkSent(ctx context.Context, id string, sentAt time.Time) error

	// MarkRetry stores an incremented retry count and the next retry time,
	// resetting status to pending so a re-driver can pick the row up.
	MarkRetry(ctx context.Context, id string, retryCount int, nextRetryAt time.Time) error

	// FetchDueRetries returns pending notifications whose next_retry_at has
	// passed, claiming them so concurrent re-drivers do not double-process.
	FetchDueRetries(ctx context.Context, limit int) ([]*domain.Notification, error)
}

// UserDirectory resolves recipients. Implemented by the users service.
type UserDirectory interface {
	GetUser(ctx context.Context, id string) (*domain.User, error)
	GetUsers(ctx context.Context, ids []string) ([]domain.User, error)
}
