// Package schedule arms delivery timers for future notifications and keeps
// their job rows durable across restarts.
package schedule

import (
	"context"

	"github.com/notifyd/notifyd/internal/domain"
)

// Repository defines the interface for scheduled job data access.
// Job rows are never deleted; completed and cancelled jobs stay behind
// as an audit trail.
type Repository interface {
	Create(ctx context.Context, job *domain.ScheduledJob) error
	GetByNotificationID(ctx context.Context, notificationID string) (*domain.ScheduledJob, error)

	// Complete marks the active job for a notification as done with a note.
	// Returns false when the notification has no active job.
	Complete(ctx context.Context, notificationID, note string) (bool, error)

	// ListActive returns all jobs that have not completed yet.
	ListActive(ctx context.Context) ([]domain.ScheduledJob, error)
}
