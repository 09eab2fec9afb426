package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// RedriverConfig contains re-driver configuration.
type RedriverConfig struct {
	BatchSize    int
	PollInterval time.Duration
}

// DefaultRedriverConfig returns default re-driver configuration.
func DefaultRedriverConfig() RedriverConfig {
	return RedriverConfig{
		BatchSize:    100,
		PollInterval: 15 * time.Second,
	}
}

// Redriver periodically picks up pending notifications whose next retry
// time has passed and runs them back through the pipeline. Nothing blocks
// between a failure and its retry; the wait lives in the next_retry_at
// column, so pending retries survive process restarts.
type Redriver struct {
	config      RedriverConfig
	repo        Repository
	pipeline    *Pipeline
	coordinator *Coordinator

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewRedriver creates a retry re-driver.
func NewRedriver(config RedriverConfig, repo Repository, pipeline *Pipeline, coordinator *Coordinator) *Redriver {
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultRedriverConfig().BatchSize
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultRedriverConfig().PollInterval
	}
	return &Redriver{
		config:      config,
		repo:        repo,
		pipeline:    pipeline,
		coordinator: coordinator,
		stopCh:      make(chan struct{}),
	}
}

// Start launches the poll loop.
func (r *Redriver) Start(ctx context.Context) {
	slog.Info("starting retry re-driver",
		"batch_size", r.config.BatchSize,
		"poll_interval", r.config.PollInterval,
	)

	r.wg.Add(1)
	go r.run(ctx)
}

// Stop gracefully stops the re-driver.
func (r *Redriver) Stop() {
	close(r.stopCh)
	r.wg.Wait()
	slog.Info("retry re-driver stopped")
}

func (r *Redriver) run(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.processDue(ctx)
		}
	}
}

func (r *Redriver) processDue(ctx context.Context) {
	due, err := r.repo.FetchDueRetries(ctx, r.config.BatchSize)
	if err != nil {
		slog.Error("failed to fetch due retries", "error", err)
		return
	}

	if len(due) == 0 {
		return
	}

	slog.Debug("re-driving notifications", "count", len(due))
	redriverFetched.Add(float64(len(due)))

	for _, notification := range due {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		default:
		}

		outcome := r.pipeline.Deliver(ctx, notification)
		if !outcome.Success {
			r.coordinator.HandleFailure(ctx, notification)
		}
	}
}
