/**
 * @description
 * This file defines the domain models for workshop crew members and their
 * clocked shifts. A crew member's live status is a small state machine:
 * offline -> online (clock in), online <-> riding (toggle), and any
 * non-offline state -> offline (clock out).
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Crew live statuses.
const (
	LiveStatusOffline = "offline"
	LiveStatusOnline  = "online"
	LiveStatusRiding  = "riding"
)

// CrewMember represents one member of a workshop's crew.
// Maps to the `crew_members` table.
type CrewMember struct {
	ID           uuid.UUID `json:"id"`
	UserID       string    `json:"user_id"`
	WorkshopSlug string    `json:"workshop_slug"`
	OwnerID      string    `json:"owner_id"`
	DisplayName  string    `json:"display_name"`
	LiveStatus   string    `json:"live_status"` // 'offline', 'online', 'riding'
	LastLocation *Geotag   `json:"last_location,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Shift is one clocked work period for a crew member.
// Maps to the `crew_member_shifts` table.
type Shift struct {
	ID           uuid.UUID  `json:"id"`
	CrewMemberID uuid.UUID  `json:"crew_member_id"`
	ClockInTime  time.Time  `json:"clock_in_time"`
	ClockOutTime *time.Time `json:"clock_out_time,omitempty"`
	DurationSecs *int64     `json:"duration_secs,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}
