package dispatch

import "errors"

var (
	ErrNotificationNotFound = errors.New("notification not found")
	ErrUserNotFound         = errors.New("user not found")
	ErrInvalidTransition    = errors.New("invalid status transition")
)
