package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/notifyd/notifyd/internal/domain"
)

const (
	jobGroup = "notification_jobs"

	// minLead is how far into the future a delivery is pushed when the
	// requested time has already passed by the time the job is armed.
	minLead = 30 * time.Second

	executeTimeout = 30 * time.Second
)

// ExecuteFunc delivers the notification behind a fired job. The scheduler
// does not care how delivery happens; the app wires this to the pipeline.
type ExecuteFunc func(ctx context.Context, notificationID string) error

// Scheduler arms one in-process timer per scheduled notification. The job
// row is persisted before the timer is armed, so a crash between the two
// loses a timer but never a job: Restore re-arms everything still active.
type Scheduler struct {
	repo    Repository
	execute ExecuteFunc

	mu      sync.Mutex
	timers  map[string]*time.Timer
	baseCtx context.Context
	stopped bool
	wg      sync.WaitGroup
}

// NewScheduler creates a scheduler. Timers fire on the context passed to
// Start; until then, on context.Background.
func NewScheduler(repo Repository, execute ExecuteFunc) *Scheduler {
	return &Scheduler{
		repo:    repo,
		execute: execute,
		timers:  make(map[string]*time.Timer),
		baseCtx: context.Background(),
	}
}

// Start sets the base context for fired jobs and re-arms timers for all
// jobs that were active when the process last stopped.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	s.baseCtx = ctx
	s.mu.Unlock()

	jobs, err := s.repo.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("restore scheduled jobs: %w", err)
	}

	for i := range jobs {
		job := jobs[i]
		delay := time.Until(job.ScheduledTime)
		if delay < minLead {
			delay = minLead
		}
		s.arm(job.NotificationID, delay)
	}

	if len(jobs) > 0 {
		slog.Info("restored scheduled jobs", "count", len(jobs))
	}
	return nil
}

// Stop disarms all timers and waits for in-flight deliveries. Job rows
// stay active so the next Start picks them up.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
	s.mu.Unlock()

	s.wg.Wait()
	slog.Info("scheduler stopped")
}

// Schedule persists a job for the notification and arms its timer.
// A scheduled time in the past is clamped to now plus a short lead, so
// late requests still deliver instead of firing immediately or never.
func (s *Scheduler) Schedule(ctx context.Context, notification *domain.Notification) (*domain.ScheduledJob, error) {
	if notification.ScheduledAt == nil {
		return nil, ErrNoScheduledAt
	}

	now := time.Now().UTC()
	scheduledTime := notification.ScheduledAt.UTC()
	if scheduledTime.Before(now) {
		slog.Warn("scheduled time in the past, clamping",
			"notification_id", notification.ID,
			"requested", scheduledTime,
		)
		scheduledTime = now.Add(minLead)
	}

	job := &domain.ScheduledJob{
		ID:             uuid.New().String(),
		JobKey:         jobKey(notification.ID),
		JobGroup:       jobGroup,
		NotificationID: notification.ID,
		ScheduledTime:  scheduledTime,
		JobData: map[string]string{
			"channelType": string(notification.ChannelType),
			"priority":    string(notification.Priority),
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.repo.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("persist scheduled job: %w", err)
	}

	if err := s.arm(notification.ID, time.Until(scheduledTime)); err != nil {
		return nil, err
	}

	slog.Info("notification scheduled",
		"notification_id", notification.ID,
		"job_key", job.JobKey,
		"scheduled_time", scheduledTime,
	)
	activeJobs.Inc()
	return job, nil
}

// Cancel disarms the timer and closes the job row. Cancelling a
// notification with no active job is not an error; it reports false.
func (s *Scheduler) Cancel(ctx context.Context, notificationID string) (bool, error) {
	s.mu.Lock()
	timer, armed := s.timers[notificationID]
	if armed {
		timer.Stop()
		delete(s.timers, notificationID)
	}
	s.mu.Unlock()

	closed, err := s.repo.Complete(ctx, notificationID, "cancelled")
	if err != nil {
		return false, fmt.Errorf("close scheduled job: %w", err)
	}

	if !armed && !closed {
		return false, nil
	}

	jobsCancelled.Inc()
	activeJobs.Dec()
	slog.Info("scheduled notification cancelled", "notification_id", notificationID)
	return true, nil
}

// Reschedule cancels any active job and arms a new one at the new time.
// The notification carries channel and priority into the new job's data;
// newTime wins over whatever ScheduledAt it holds.
func (s *Scheduler) Reschedule(ctx context.Context, notification *domain.Notification, newTime time.Time) (*domain.ScheduledJob, error) {
	if _, err := s.Cancel(ctx, notification.ID); err != nil {
		return nil, err
	}
	moved := *notification
	moved.ScheduledAt = &newTime
	return s.Schedule(ctx, &moved)
}

// ActiveCount returns the number of armed timers.
func (s *Scheduler) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

func (s *Scheduler) arm(notificationID string, delay time.Duration) error {
	if delay < 0 {
		delay = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrSchedulerStale
	}

	// A second schedule for the same notification replaces the first.
	if existing, ok := s.timers[notificationID]; ok {
		existing.Stop()
	}

	s.timers[notificationID] = time.AfterFunc(delay, func() {
		s.fire(notificationID)
	})
	return nil
}

func (s *Scheduler) fire(notificationID string) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	delete(s.timers, notificationID)
	baseCtx := s.baseCtx
	s.wg.Add(1)
	s.mu.Unlock()

	defer s.wg.Done()

	ctx, cancel := context.WithTimeout(baseCtx, executeTimeout)
	defer cancel()

	jobsFired.Inc()
	activeJobs.Dec()

	slog.Info("scheduled job fired", "notification_id", notificationID)

	if err := s.execute(ctx, notificationID); err != nil {
		slog.Error("scheduled delivery failed",
			"notification_id", notificationID,
			"error", err,
		)
	}

	note := fmt.Sprintf("completed at %s", time.Now().UTC().Format(time.RFC3339))
	if _, err := s.repo.Complete(ctx, notificationID, note); err != nil {
		slog.Error("failed to close scheduled job",
			"notification_id", notificationID,
			"error", err,
		)
	}
}

func jobKey(notificationID string) string {
	suffix := strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
	return fmt.Sprintf("notification_%s_%s", notificationID, suffix)
}
