// Package postgres provides PostgreSQL implementation of the schedule repository.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/notifyd/notifyd/internal/domain"
	"github.com/notifyd/notifyd/internal/schedule"
)

// Repository implements schedule.Repository using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

const jobColumns = `id, job_key, job_group, notification_id, scheduled_time,
	is_recurring, is_completed, completion_note, job_data, created_at, updated_at`

// Create inserts a scheduled job.
func (r *Repository) Create(ctx context.Context, job *domain.ScheduledJob) error {
	query := `
		INSERT INTO scheduled_jobs (id, job_key, job_group, notification_id, scheduled_time, is_recurring, job_data)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query,
		job.ID,
		job.JobKey,
		job.JobGroup,
		job.NotificationID,
		job.ScheduledTime,
		job.IsRecurring,
		job.JobData,
	).Scan(&job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create scheduled job: %w", err)
	}
	return nil
}

// GetByNotificationID retrieves the most recent job for a notification.
func (r *Repository) GetByNotificationID(ctx context.Context, notificationID string) (*domain.ScheduledJob, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM scheduled_jobs
		WHERE notification_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`
	job, err := scanJob(r.db.QueryRow(ctx, query, notificationID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, schedule.ErrJobNotFound
		}
		return nil, fmt.Errorf("get scheduled job: %w", err)
	}
	return job, nil
}

// Complete marks the active job for a notification as done.
func (r *Repository) Complete(ctx context.Context, notificationID, note string) (bool, error) {
	query := `
		UPDATE scheduled_jobs
		SET is_completed = TRUE, completion_note = $2, updated_at = NOW()
		WHERE notification_id = $1 AND is_completed = FALSE
	`
	tag, err := r.db.Exec(ctx, query, notificationID, note)
	if err != nil {
		return false, fmt.Errorf("complete scheduled job: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListActive returns all jobs that have not completed.
func (r *Repository) ListActive(ctx context.Context) ([]domain.ScheduledJob, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM scheduled_jobs
		WHERE is_completed = FALSE
		ORDER BY scheduled_time
	`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list active jobs: %w", err)
	}
	defer rows.Close()

	jobs := make([]domain.ScheduledJob, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan scheduled job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

func scanJob(row pgx.Row) (*domain.ScheduledJob, error) {
	var job domain.ScheduledJob
	err := row.Scan(
		&job.ID,
		&job.JobKey,
		&job.JobGroup,
		&job.NotificationID,
		&job.ScheduledTime,
		&job.IsRecurring,
		&job.IsCompleted,
		&job.CompletionNote,
		&job.JobData,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &job, nil
}
