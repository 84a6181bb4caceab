package domain

import "time"

// Routing keys published to the commerce.events topic exchange.
const (
	RoutingPaymentConfirmed = "payment.confirmed"
	RoutingPaymentSettled   = "payment.settled"
	RoutingRentalUpdated    = "rental.updated"
	RoutingShiftStarted     = "shift.started"
	RoutingShiftEnded       = "shift.ended"
	RoutingNotificationSent = "notification.sent"
)

// PaymentSettledEvent is emitted after an invoice has been marked paid and
// its effect handler has run.
type PaymentSettledEvent struct {
	InvoiceID  string    `json:"invoice_id"`
	PayerID    string    `json:"payer_id"`
	Type       string    `json:"type"`
	Handler    string    `json:"handler"`
	Amount     int64     `json:"amount"`
	Currency   string    `json:"currency"`
	OccurredAt time.Time `json:"occurred_at"`
}

// RentalUpdatedEvent is emitted whenever a rental changes status or gains an
// event log entry.
type RentalUpdatedEvent struct {
	RentalID   string    `json:"rental_id"`
	Status     string    `json:"status"`
	EventType  string    `json:"event_type,omitempty"`
	ActorID    string    `json:"actor_id"`
	OccurredAt time.Time `json:"occurred_at"`
}

// ShiftEvent is emitted on clock in and clock out.
type ShiftEvent struct {
	ShiftID      string    `json:"shift_id"`
	CrewMemberID string    `json:"crew_member_id"`
	WorkshopSlug string    `json:"workshop_slug"`
	DurationSecs int64     `json:"duration_secs,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// NotificationSentEvent mirrors every user-facing bot message onto the bus so
// other services can audit outbound traffic.
type NotificationSentEvent struct {
	ChatID     string    `json:"chat_id"`
	Kind       string    `json:"kind"`
	OccurredAt time.Time `json:"occurred_at"`
}
