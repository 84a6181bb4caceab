package domain

import "time"

// User represents the slice of a Telegram user this service cares about.
// Maps to the `users` table.
type User struct {
	ID           string     `json:"id"` // telegram user id
	Username     *string    `json:"username,omitempty"`
	FirstName    string     `json:"first_name"`
	HasProtocard bool       `json:"has_protocard"`
	ProfileDone  bool       `json:"profile_done"`
	CreatedAt    time.Time  `json:"created_at"`
	LastSeenAt   *time.Time `json:"last_seen_at,omitempty"`
}
