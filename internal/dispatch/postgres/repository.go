// Package postgres provides PostgreSQL implementation of the dispatch repository.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/notifyd/notifyd/internal/dispatch"
	"github.com/notifyd/notifyd/internal/domain"
)

// Repository implements dispatch.Repository using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

const notificationColumns = `id, user_id, title, content, channel_type, priority, status,
	metadata, scheduled_at, sent_at, retry_count, next_retry_at, error_message, created_at, updated_at`

// Create inserts a notification.
func (r *Repository) Create(ctx context.Context, n *domain.Notification) error {
	query := `
		INSERT INTO notifications (id, user_id, title, content, channel_type, priority, status, metadata, scheduled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query,
		n.ID,
		n.UserID,
		n.Title,
		n.Content,
		n.ChannelType,
		n.Priority,
		n.Status,
		n.Metadata,
		n.ScheduledAt,
	).Scan(&n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create notification: %w", err)
	}
	return nil
}

// CreateBatch inserts notifications in one round trip.
func (r *Repository) CreateBatch(ctx context.Context, notifications []*domain.Notification) error {
	if len(notifications) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	query := `
		INSERT INTO notifications (id, user_id, title, content, channel_type, priority, status, metadata, scheduled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	for _, n := range notifications {
		batch.Queue(query,
			n.ID, n.UserID, n.Title, n.Content, n.ChannelType, n.Priority, n.Status, n.Metadata, n.ScheduledAt,
		)
	}

	results := r.db.SendBatch(ctx, batch)
	defer results.Close()

	for range notifications {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("create notification batch: %w", err)
		}
	}
	return nil
}

// GetByID retrieves a notification by ID.
func (r *Repository) GetByID(ctx context.Context, id string) (*domain.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE id = $1`

	n, err := scanNotification(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, dispatch.ErrNotificationNotFound
		}
		return nil, fmt.Errorf("get notification: %w", err)
	}
	return n, nil
}

// ListByUser retrieves a page of a user's notifications, newest first.
func (r *Repository) ListByUser(ctx context.Context, userID string, limit, offset int) ([]domain.Notification, error) {
	query := `
		SELECT ` + notificationColumns + `
		FROM notifications
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.db.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list user notifications: %w", err)
	}
	defer rows.Close()

	notifications := make([]domain.Notification, 0)
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		notifications = append(notifications, *n)
	}
	return notifications, rows.Err()
}

// UpdateStatus sets status and error message.
func (r *Repository) UpdateStatus(ctx context.Context, id string, status domain.NotificationStatus, errorMessage string) error {
	query := `
		UPDATE notifications
		SET status = $2, error_message = $3, updated_at = NOW()
		WHERE id = $1
	`
	tag, err := r.db.Exec(ctx, query, id, status, errorMessage)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return dispatch.ErrNotificationNotFound
	}
	return nil
}

// UpdateScheduledAt moves the stored delivery time of a notification.
func (r *Repository) UpdateScheduledAt(ctx context.Context, id string, scheduledAt time.Time) error {
	query := `
		UPDATE notifications
		SET scheduled_at = $2, updated_at = NOW()
		WHERE id = $1
	`
	tag, err := r.db.Exec(ctx, query, id, scheduledAt)
	if err != nil {
		return fmt.Errorf("update scheduled_at: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return dispatch.ErrNotificationNotFound
	}
	return nil
}

// MarkSent transitions a notification to sent.
func (r *Repository) MarkSent(ctx context.Context, id string, sentAt time.Time) error {
	query := `
		UPDATE notifications
		SET status = $2, sent_at = $3, error_message = '', next_retry_at = NULL, updated_at = NOW()
		WHERE id = $1
	`
	tag, err := r.db.Exec(ctx, query, id, domain.NotificationStatusSent, sentAt)
	if err != nil {
		return fmt.Errorf("mark sent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return dispatch.ErrNotificationNotFound
	}
	return nil
}

// MarkRetry stores the retry bookkeeping and resets status to pending.
func (r *Repository) MarkRetry(ctx context.Context, id string, retryCount int, nextRetryAt time.Time) error {
	query := `
		UPDATE notifications
		SET status = $2, retry_count = $3, next_retry_at = $4, updated_at = NOW()
		WHERE id = $1
	`
	tag, err := r.db.Exec(ctx, query, id, domain.NotificationStatusPending, retryCount, nextRetryAt)
	if err != nil {
		return fmt.Errorf("mark retry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return dispatch.ErrNotificationNotFound
	}
	return nil
}

// FetchDueRetries claims pending notifications whose retry time has passed.
// Claiming clears next_retry_at so a concurrent re-driver cannot pick the
// same rows; SKIP LOCKED keeps pollers from serializing on each other.
func (r *Repository) FetchDueRetries(ctx context.Context, limit int) ([]*domain.Notification, error) {
	query := `
		UPDATE notifications
		SET next_retry_at = NULL, updated_at = NOW()
		WHERE id IN (
			SELECT id FROM notifications
			WHERE status = $1 AND next_retry_at IS NOT NULL AND next_retry_at <= NOW()
			ORDER BY next_retry_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + notificationColumns

	rows, err := r.db.Query(ctx, query, domain.NotificationStatusPending, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch due retries: %w", err)
	}
	defer rows.Close()

	due := make([]*domain.Notification, 0)
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		due = append(due, n)
	}
	return due, rows.Err()
}

func scanNotification(row pgx.Row) (*domain.Notification, error) {
	var n domain.Notification
	err := row.Scan(
		&n.ID,
		&n.UserID,
		&n.Title,
		&n.Content,
		&n.ChannelType,
		&n.Priority,
		&n.Status,
		&n.Metadata,
		&n.ScheduledAt,
		&n.SentAt,
		&n.RetryCount,
		&n.NextRetryAt,
		&n.ErrorMessage,
		&n.CreatedAt,
		&n.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &n, nil
}
