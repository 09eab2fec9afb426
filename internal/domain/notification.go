package domain

import "time"

type ChannelType string

const (
	ChannelTypeEmail ChannelType = "email"
	ChannelTypeSMS   ChannelType = "sms"
	ChannelTypePush  ChannelType = "push"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

type NotificationStatus string

const (
	NotificationStatusPending   NotificationStatus = "pending"
	NotificationStatusScheduled NotificationStatus = "scheduled"
	NotificationStatusSent      NotificationStatus = "sent"
	NotificationStatusFailed    NotificationStatus = "failed"
	NotificationStatusCancelled NotificationStatus = "cancelled"
	NotificationStatusDelivered NotificationStatus = "delivered"
)

// Notification is a single message addressed to one user via one channel.
type Notification struct {
	ID           string             `json:"id"`
	UserID       string             `json:"userId"`
	Title        string             `json:"title"`
	Content      string             `json:"content"`
	ChannelType  ChannelType        `json:"channelType"`
	Priority     Priority           `json:"priority"`
	Status       NotificationStatus `json:"status"`
	Metadata     map[string]string  `json:"metadata,omitempty"`
	ScheduledAt  *time.Time         `json:"scheduledAt,omitempty"`
	SentAt       *time.Time         `json:"sentAt,omitempty"`
	RetryCount   int                `json:"retryCount"`
	NextRetryAt  *time.Time         `json:"nextRetryAt,omitempty"`
	ErrorMessage string             `json:"errorMessage,omitempty"`
	CreatedAt    time.Time          `json:"createdAt"`
	UpdatedAt    time.Time          `json:"updatedAt"`
}
