package schedule

import "errors"

var (
	ErrJobNotFound    = errors.New("scheduled job not found")
	ErrNoScheduledAt  = errors.New("notification has no scheduled time")
	ErrSchedulerStale = errors.New("scheduler is stopped")
)
