// Package channel defines the delivery channel contract and the priority
// registry that resolves a channel type to an implementation.
package channel

import (
	"context"

	"github.com/notifyd/notifyd/internal/domain"
)

// Result is the outcome of a single send attempt. Ordinary delivery
// failures (missing contact info, provider rejection) are success=false
// results, not errors.
type Result struct {
	Success bool
	Message string
	Detail  string
}

// OK builds a successful result.
func OK(message string) Result {
	return Result{Success: true, Message: message}
}

// Fail builds a failed result with a human-readable message and detail.
func Fail(message, detail string) Result {
	return Result{Success: false, Message: message, Detail: detail}
}

// Channel is a delivery mechanism for notifications.
type Channel interface {
	// Send delivers the notification to the user. Implementations return
	// a failed Result for ordinary delivery failures and reserve errors
	// for transport-level problems the caller may retry.
	Send(ctx context.Context, user *domain.User, notification *domain.Notification) Result

	// Supports reports whether this implementation handles the channel type.
	Supports(channelType domain.ChannelType) bool

	// Type returns the channel type this implementation handles.
	Type() domain.ChannelType

	// Name returns a human-readable channel name for logs and admin output.
	Name() string
}
