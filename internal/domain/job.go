package domain

import "time"

// ScheduledJob is the persisted record of a deferred delivery. It is kept
// as an audit record after completion, never deleted.
type ScheduledJob struct {
	ID             string            `json:"id"`
	JobKey         string            `json:"jobKey"`
	JobGroup       string            `json:"jobGroup"`
	NotificationID string            `json:"notificationId"`
	ScheduledTime  time.Time         `json:"scheduledTime"`
	IsRecurring    bool              `json:"isRecurring"`
	IsCompleted    bool              `json:"isCompleted"`
	CompletionNote string            `json:"completionNote,omitempty"`
	JobData        map[string]string `json:"jobData,omitempty"`
	CreatedAt      time.Time         `json:"createdAt"`
	UpdatedAt      time.Time         `json:"updatedAt"`
}
