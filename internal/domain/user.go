package domain

import "time"

// User is a notification recipient. Contact details are optional per
// channel: a missing phone number makes SMS delivery a permanent failure,
// not an error.
type User struct {
	ID          string    `json:"id"`
	Username    string    `json:"username"`
	Email       string    `json:"email,omitempty"`
	PhoneNumber string    `json:"phoneNumber,omitempty"`
	DeviceToken string    `json:"deviceToken,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}
