/**
 * @description
 * This file defines the domain models for the rental lifecycle: the rental
 * record itself, its append-only event log, the roles a viewer can hold, and
 * the transient per-user states used by multi-step bot flows.
 *
 * @notes
 * - The rental `Status` and `PaymentStatus` columns are orthogonal: a rental
 *   can be 'pending_confirmation' while its interest is already paid.
 * - Events are never updated or deleted except for geotag completion, which
 *   moves a single event from 'pending_geotag' to 'completed'.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Rental statuses.
const (
	RentalStatusPendingConfirmation = "pending_confirmation"
	RentalStatusConfirmed           = "confirmed"
	RentalStatusActive              = "active"
	RentalStatusCompleted           = "completed"
	RentalStatusCancelled           = "cancelled"
)

// Rental payment statuses. Orthogonal to the lifecycle status.
const (
	RentalPaymentPending      = "pending"
	RentalPaymentInterestPaid = "interest_paid"
)

// Rental event types.
const (
	EventPhotoStart      = "photo_start"
	EventPhotoEnd        = "photo_end"
	EventPickupConfirmed = "pickup_confirmed"
	EventReturnConfirmed = "return_confirmed"
	EventSOSFuel         = "sos_fuel"
	EventSOSEvac         = "sos_evac"
	EventHustlePickup    = "hustle_pickup"
)

// Rental event statuses.
const (
	EventStatusPending       = "pending"
	EventStatusCompleted     = "completed"
	EventStatusPendingGeotag = "pending_geotag"
)

// Viewer roles relative to a rental.
const (
	RoleOwner  = "owner"
	RoleRenter = "renter"
	RoleGuest  = "guest"
)

// Actions the bot menu can offer for a rental. Derived, never stored.
const (
	ActionStartPhoto    = "start_photo"
	ActionEndPhoto      = "end_photo"
	ActionConfirmPickup = "confirm_pickup"
	ActionConfirmReturn = "confirm_return"
	ActionDropAnywhere  = "drop_anywhere"
	ActionSOSFuel       = "sos_fuel"
	ActionSOSEvac       = "sos_evac"
)

// Transient user states for multi-step flows.
const (
	StateAwaitingRentalPhoto = "awaiting_rental_photo"
	StateAwaitingSOSGeotag   = "awaiting_sos_geotag"
)

// Rental represents a booking of an owner's vehicle by a renter.
// Maps to the `rentals` table.
type Rental struct {
	ID             string     `json:"id"`
	OwnerID        string     `json:"owner_id"`
	RenterID       string     `json:"renter_id"`
	VehicleSlug    string     `json:"vehicle_slug"`
	Status         string     `json:"status"`         // e.g. 'confirmed', 'active'
	PaymentStatus  string     `json:"payment_status"` // 'pending', 'interest_paid'
	RequestedStart *time.Time `json:"requested_start,omitempty"`
	RequestedEnd   *time.Time `json:"requested_end,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// RentalEvent is one row of a rental's append-only event log.
// Maps to the `rental_events` table.
type RentalEvent struct {
	ID        uuid.UUID `json:"id"`
	RentalID  string    `json:"rental_id"`
	ActorID   string    `json:"actor_id"`
	Type      string    `json:"type"`   // e.g. 'photo_start', 'sos_fuel'
	Status    string    `json:"status"` // 'pending', 'completed', 'pending_geotag'
	PhotoID   *string   `json:"photo_id,omitempty"` // telegram file id
	Geotag    *Geotag   `json:"geotag,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// UserState is a short-lived marker that the next inbound message from a user
// belongs to an in-flight flow (photo upload, geotag share).
// Maps to the `user_states` table, one row per user.
type UserState struct {
	UserID    string    `json:"user_id"`
	State     string    `json:"state"` // e.g. 'awaiting_rental_photo'
	RentalID  string    `json:"rental_id"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateRentalParams captures a booking request before any payment happens.
type CreateRentalParams struct {
	ID             string
	OwnerID        string
	RenterID       string
	VehicleSlug    string
	RequestedStart *time.Time
	RequestedEnd   *time.Time
}
