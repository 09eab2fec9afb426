// Package batch fans one message out to many recipients in bounded chunks.
package batch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/notifyd/notifyd/internal/dispatch"
	"github.com/notifyd/notifyd/internal/domain"
)

// Status aggregates how a batch or a single chunk went.
type Status string

const (
	StatusCompleted       Status = "completed"
	StatusPartiallyFailed Status = "partially_failed"
	StatusFailed          Status = "failed"
)

// Deliverer runs one notification through delivery. Implemented by the
// dispatch pipeline.
type Deliverer interface {
	Deliver(ctx context.Context, notification *domain.Notification) dispatch.Outcome
}

// FailureHandler decides what happens to a failed notification.
// Implemented by the retry coordinator.
type FailureHandler interface {
	HandleFailure(ctx context.Context, notification *domain.Notification)
}

// Creator persists the notifications of one chunk in a single round trip.
type Creator interface {
	CreateBatch(ctx context.Context, notifications []*domain.Notification) error
}

// Scheduler arms deferred delivery for one notification. Implemented by
// the schedule package; used when a batch carries a future delivery time.
type Scheduler interface {
	Schedule(ctx context.Context, notification *domain.Notification) (*domain.ScheduledJob, error)
}

// Options tune how a batch is processed. Nil pointer fields take their
// defaults.
type Options struct {
	BatchSize           int
	DelayBetweenBatches *time.Duration
	Parallel            *bool
	ContinueOnError     *bool
	MaxParallelChunks   int
}

// DefaultOptions returns the defaults applied to unset options: chunks of
// 50, one second between chunks, parallel processing bounded at 4 chunks,
// keep going when a delivery fails.
func DefaultOptions() Options {
	delay := time.Second
	parallel := true
	continueOnError := true
	return Options{
		BatchSize:           50,
		DelayBetweenBatches: &delay,
		Parallel:            &parallel,
		ContinueOnError:     &continueOnError,
		MaxParallelChunks:   4,
	}
}

func (o Options) withDefaults() Options {
	defaults := DefaultOptions()
	if o.BatchSize <= 0 {
		o.BatchSize = defaults.BatchSize
	}
	if o.DelayBetweenBatches == nil || *o.DelayBetweenBatches < 0 {
		o.DelayBetweenBatches = defaults.DelayBetweenBatches
	}
	if o.Parallel == nil {
		o.Parallel = defaults.Parallel
	}
	if o.ContinueOnError == nil {
		o.ContinueOnError = defaults.ContinueOnError
	}
	if o.MaxParallelChunks <= 0 {
		o.MaxParallelChunks = defaults.MaxParallelChunks
	}
	return o
}

// Request is a batch send request. A set ScheduledAt defers every created
// notification through the scheduler instead of delivering immediately.
type Request struct {
	UserIDs     []string
	Title       string
	Content     string
	ChannelType string
	Priority    string
	Metadata    map[string]string
	ScheduledAt *time.Time
	Options     Options
}

// RecipientResult reports the outcome for one recipient.
type RecipientResult struct {
	UserID         string    `json:"userId"`
	NotificationID string    `json:"notificationId"`
	Success        bool      `json:"success"`
	Message        string    `json:"message"`
	Timestamp      time.Time `json:"timestamp"`
}

// ChunkResult reports one chunk.
type ChunkResult struct {
	Index     int    `json:"index"`
	UserCount int    `json:"userCount"`
	Sent      int    `json:"sent"`
	Failed    int    `json:"failed"`
	Skipped   int    `json:"skipped"`
	Status    Status `json:"status"`
}

// Statistics summarizes delivery outcomes across the whole batch.
type Statistics struct {
	SuccessRate float64        `json:"successRate"`
	ErrorCounts map[string]int `json:"errorCounts,omitempty"`
}

// Result reports a finished batch. TotalUsers counts the requested
// recipients, including ids that resolved to no user; Results carries one
// entry per resolved recipient in chunk order.
type Result struct {
	BatchID     string            `json:"batchId"`
	TotalUsers  int               `json:"totalUsers"`
	TotalSent   int               `json:"totalSent"`
	TotalFailed int               `json:"totalFailed"`
	Status      Status            `json:"status"`
	Chunks      []ChunkResult     `json:"chunks"`
	Results     []RecipientResult `json:"results"`
	Statistics  Statistics        `json:"statistics"`
	StartedAt   time.Time         `json:"startedAt"`
	CompletedAt time.Time         `json:"completedAt"`
	DurationMs  int64             `json:"durationMs"`
}

// Orchestrator splits batch requests into chunks and drives them through
// the delivery pipeline or, for deferred batches, the scheduler.
type Orchestrator struct {
	creator   Creator
	users     dispatch.UserDirectory
	deliverer Deliverer
	failures  FailureHandler
	scheduler Scheduler
}

// NewOrchestrator creates a batch orchestrator.
func NewOrchestrator(creator Creator, users dispatch.UserDirectory, deliverer Deliverer, failures FailureHandler, scheduler Scheduler) *Orchestrator {
	return &Orchestrator{
		creator:   creator,
		users:     users,
		deliverer: deliverer,
		failures:  failures,
		scheduler: scheduler,
	}
}

// Process runs a batch to completion and reports the result. Recipient ids
// that resolve to no user are dropped before chunking but still counted in
// TotalUsers, so callers can see the gap in the totals.
func (o *Orchestrator) Process(ctx context.Context, req Request) (*Result, error) {
	opts := req.Options.withDefaults()
	batchID := uuid.New().String()
	startedAt := time.Now().UTC()

	recipients, err := o.users.GetUsers(ctx, req.UserIDs)
	if err != nil {
		return nil, err
	}

	if dropped := len(req.UserIDs) - len(recipients); dropped > 0 {
		slog.Warn("batch recipients not found",
			"batch_id", batchID,
			"requested", len(req.UserIDs),
			"dropped", dropped,
		)
	}

	chunks := chunkUsers(recipients, opts.BatchSize)

	slog.Info("processing batch",
		"batch_id", batchID,
		"recipients", len(recipients),
		"chunks", len(chunks),
		"parallel", *opts.Parallel,
	)
	batchesStarted.Inc()

	var chunkResults []ChunkResult
	var recipientResults [][]RecipientResult
	errorCounts := newErrorTally()

	if *opts.Parallel {
		chunkResults, recipientResults = o.processParallel(ctx, batchID, req, opts, chunks, errorCounts)
	} else {
		chunkResults, recipientResults = o.processSequential(ctx, batchID, req, opts, chunks, errorCounts)
	}

	result := &Result{
		BatchID:     batchID,
		TotalUsers:  len(req.UserIDs),
		Status:      StatusCompleted,
		Chunks:      chunkResults,
		StartedAt:   startedAt,
		CompletedAt: time.Now().UTC(),
	}
	result.DurationMs = result.CompletedAt.Sub(result.StartedAt).Milliseconds()
	for _, rr := range recipientResults {
		result.Results = append(result.Results, rr...)
	}
	for _, chunk := range chunkResults {
		result.TotalSent += chunk.Sent
		result.TotalFailed += chunk.Failed
	}
	result.Status = aggregateStatus(result.TotalSent, result.TotalFailed)
	if len(recipients) == 0 {
		// No requested id resolved to a user; nothing could be attempted.
		result.Status = StatusFailed
	}
	result.Statistics = Statistics{
		SuccessRate: successRate(result.TotalSent, result.TotalFailed),
		ErrorCounts: errorCounts.snapshot(),
	}

	recordBatchFinished(string(result.Status), result.TotalSent, result.TotalFailed)

	slog.Info("batch finished",
		"batch_id", batchID,
		"status", result.Status,
		"sent", result.TotalSent,
		"failed", result.TotalFailed,
		"duration", result.CompletedAt.Sub(result.StartedAt),
	)
	return result, nil
}

func (o *Orchestrator) processSequential(ctx context.Context, batchID string, req Request, opts Options, chunks [][]domain.User, tally *errorTally) ([]ChunkResult, [][]RecipientResult) {
	results := make([]ChunkResult, len(chunks))
	recipients := make([][]RecipientResult, len(chunks))
	for i, chunk := range chunks {
		results[i], recipients[i] = o.processChunk(ctx, batchID, req, opts, i, chunk, tally)

		if i < len(chunks)-1 && *opts.DelayBetweenBatches > 0 {
			select {
			case <-ctx.Done():
				return results, recipients
			case <-time.After(*opts.DelayBetweenBatches):
			}
		}
	}
	return results, recipients
}

// processParallel runs chunks concurrently, at most MaxParallelChunks at
// a time. The inter-chunk delay runs inside each task so a slot is held
// for the pause, which keeps the effective send rate bounded. Each task
// writes only its own index, so the shared slices need no lock.
func (o *Orchestrator) processParallel(ctx context.Context, batchID string, req Request, opts Options, chunks [][]domain.User, tally *errorTally) ([]ChunkResult, [][]RecipientResult) {
	results := make([]ChunkResult, len(chunks))
	recipients := make([][]RecipientResult, len(chunks))
	sem := make(chan struct{}, opts.MaxParallelChunks)
	var wg sync.WaitGroup

	for i, chunk := range chunks {
		wg.Add(1)
		go func(index int, users []domain.User) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			results[index], recipients[index] = o.processChunk(ctx, batchID, req, opts, index, users, tally)

			if *opts.DelayBetweenBatches > 0 {
				select {
				case <-ctx.Done():
				case <-time.After(*opts.DelayBetweenBatches):
				}
			}
		}(i, chunk)
	}

	wg.Wait()
	return results, recipients
}

func (o *Orchestrator) processChunk(ctx context.Context, batchID string, req Request, opts Options, index int, users []domain.User, tally *errorTally) (ChunkResult, []RecipientResult) {
	result := ChunkResult{Index: index, UserCount: len(users)}
	recipients := make([]RecipientResult, 0, len(users))

	notifications := make([]*domain.Notification, len(users))
	for i, user := range users {
		notifications[i] = o.buildNotification(batchID, req, user.ID)
	}

	if err := o.creator.CreateBatch(ctx, notifications); err != nil {
		slog.Error("failed to persist chunk",
			"batch_id", batchID,
			"chunk", index,
			"error", err,
		)
		result.Failed = len(users)
		result.Status = StatusFailed
		tally.add(err.Error(), len(users))
		for _, n := range notifications {
			recipients = append(recipients, RecipientResult{
				UserID:         n.UserID,
				NotificationID: n.ID,
				Message:        "Failed to store notification",
				Timestamp:      time.Now().UTC(),
			})
		}
		return result, recipients
	}

	for i, notification := range notifications {
		success, message, detail := o.attempt(ctx, notification)
		recipients = append(recipients, RecipientResult{
			UserID:         notification.UserID,
			NotificationID: notification.ID,
			Success:        success,
			Message:        message,
			Timestamp:      time.Now().UTC(),
		})
		if success {
			result.Sent++
			continue
		}

		result.Failed++
		tally.add(detail, 1)

		// Stopping applies to this chunk only; sibling chunks finish on
		// their own.
		if !*opts.ContinueOnError {
			result.Skipped = len(notifications) - i - 1
			slog.Warn("stopping chunk after failure",
				"batch_id", batchID,
				"chunk", index,
				"skipped", result.Skipped,
			)
			break
		}
	}

	result.Status = chunkStatus(result)
	return result, recipients
}

// attempt delivers one notification, or arms its schedule for deferred
// batches. Delivery failures go through the failure handler so the retry
// clock starts; scheduling failures are terminal for that recipient.
func (o *Orchestrator) attempt(ctx context.Context, notification *domain.Notification) (success bool, message, detail string) {
	if notification.ScheduledAt != nil {
		if _, err := o.scheduler.Schedule(ctx, notification); err != nil {
			slog.Error("failed to schedule batch notification",
				"notification_id", notification.ID,
				"error", err,
			)
			return false, "Failed to schedule notification", err.Error()
		}
		return true, "Notification scheduled for delivery", ""
	}

	outcome := o.deliverer.Deliver(ctx, notification)
	if !outcome.Success {
		o.failures.HandleFailure(ctx, notification)
		return false, outcome.Message, outcome.ErrorDetail
	}
	return true, outcome.Message, ""
}

func (o *Orchestrator) buildNotification(batchID string, req Request, userID string) *domain.Notification {
	priority := domain.Priority(req.Priority)
	if priority == "" {
		priority = domain.PriorityMedium
	}

	metadata := make(map[string]string, len(req.Metadata)+1)
	for k, v := range req.Metadata {
		metadata[k] = v
	}
	metadata["batchId"] = batchID

	status := domain.NotificationStatusPending
	if req.ScheduledAt != nil {
		status = domain.NotificationStatusScheduled
	}

	now := time.Now().UTC()
	return &domain.Notification{
		ID:          uuid.New().String(),
		UserID:      userID,
		Title:       req.Title,
		Content:     req.Content,
		ChannelType: domain.ChannelType(req.ChannelType),
		Priority:    priority,
		Status:      status,
		Metadata:    metadata,
		ScheduledAt: req.ScheduledAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func chunkUsers(users []domain.User, size int) [][]domain.User {
	if len(users) == 0 {
		return nil
	}
	chunks := make([][]domain.User, 0, (len(users)+size-1)/size)
	for start := 0; start < len(users); start += size {
		end := start + size
		if end > len(users) {
			end = len(users)
		}
		chunks = append(chunks, users[start:end])
	}
	return chunks
}

func chunkStatus(result ChunkResult) Status {
	switch {
	case result.Failed == 0 && result.Skipped == 0:
		return StatusCompleted
	case result.Sent == 0:
		return StatusFailed
	default:
		return StatusPartiallyFailed
	}
}

func aggregateStatus(sent, failed int) Status {
	switch {
	case failed == 0:
		return StatusCompleted
	case sent == 0:
		return StatusFailed
	default:
		return StatusPartiallyFailed
	}
}

func successRate(sent, failed int) float64 {
	total := sent + failed
	if total == 0 {
		return 0
	}
	return float64(sent) / float64(total)
}

// errorTally counts failure reasons across concurrent chunks.
type errorTally struct {
	mu     sync.Mutex
	counts map[string]int
}

func newErrorTally() *errorTally {
	return &errorTally{counts: make(map[string]int)}
}

func (t *errorTally) add(reason string, n int) {
	if reason == "" {
		reason = "unknown"
	}
	t.mu.Lock()
	t.counts[reason] += n
	t.mu.Unlock()
}

func (t *errorTally) snapshot() map[string]int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.counts) == 0 {
		return nil
	}
	out := make(map[string]int, len(t.counts))
	for k, v := range t.counts {
		out[k] = v
	}
	return out
}
