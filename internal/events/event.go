// Package events defines the notification event envelope and the lane
// rule that routes events onto the bus.
package events

import (
	"fmt"
	"time"

	"github.com/notifyd/notifyd/internal/domain"
)

// Type marks why an event was emitted.
type Type string

const (
	TypeCreated    Type = "created"
	TypeRetry      Type = "retry"
	TypeDeadLetter Type = "dlq"
)

// Lane is a routing key on the notifications exchange. Each lane is
// backed by its own queue.
type Lane string

const (
	LaneHighPriority Lane = "high-priority"
	LaneNormal       Lane = "normal"
	LaneRetry        Lane = "retry"
	LaneDeadLetter   Lane = "dlq"
)

// Exchange is the direct exchange all lanes hang off.
const Exchange = "notifications"

// QueueName returns the queue bound to a lane.
func QueueName(lane Lane) string {
	return fmt.Sprintf("notifications.%s", lane)
}

// LaneFor picks the delivery lane for a freshly created notification:
// high priority gets its own lane, everything else shares the normal one.
func LaneFor(priority domain.Priority) Lane {
	if priority == domain.PriorityHigh {
		return LaneHighPriority
	}
	return LaneNormal
}

// Envelope is the wire form of a notification event. It carries enough of
// the notification for consumers to log and route without a store lookup;
// delivery itself always re-reads the row.
type Envelope struct {
	EventID        string            `json:"eventId"`
	EventType      Type              `json:"eventType"`
	NotificationID string            `json:"notificationId"`
	UserID         string            `json:"userId"`
	Title          string            `json:"title"`
	Content        string            `json:"content"`
	ChannelType    string            `json:"channelType"`
	Priority       string            `json:"priority"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	ScheduledAt    *time.Time        `json:"scheduledAt,omitempty"`
	RetryCount     int               `json:"retryCount"`
	Reason         string            `json:"reason,omitempty"`
	CreatedAt      time.Time         `json:"createdAt"`
}

// NewEnvelope builds an envelope for a notification.
func NewEnvelope(eventType Type, notification *domain.Notification) Envelope {
	now := time.Now().UTC()
	return Envelope{
		EventID:        fmt.Sprintf("evt_%d_%s", now.UnixMilli(), notification.ID),
		EventType:      eventType,
		NotificationID: notification.ID,
		UserID:         notification.UserID,
		Title:          notification.Title,
		Content:        notification.Content,
		ChannelType:    string(notification.ChannelType),
		Priority:       string(notification.Priority),
		Metadata:       notification.Metadata,
		ScheduledAt:    notification.ScheduledAt,
		RetryCount:     notification.RetryCount,
		CreatedAt:      now,
	}
}

// TransportBackoff is the re-drive delay for transport-level retries:
// 1s, 2s, 4s, capped at 10 seconds. Distinct from the minutes-scale
// backoff used for delivery failures recorded in the store.
func TransportBackoff(retryCount int) time.Duration {
	backoff := time.Second << retryCount
	if backoff > 10*time.Second {
		backoff = 10 * time.Second
	}
	return backoff
}
