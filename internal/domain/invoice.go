/**
 * @description
 * This file defines the domain models for payment invoices and incoming
 * payment confirmations. An invoice row is created before the bot sends a
 * Stars invoice to a user; the confirmation arrives later from the payment
 * provider and is matched back to the row by its payload string.
 *
 * @notes
 * - Invoice IDs are the invoice payload strings (e.g. "sos_fuel_<rental>_<ts>"),
 *   not UUIDs, because the payment provider echoes the payload back verbatim
 *   and it is the only correlation key available on confirmation.
 * - Amounts are `int64` in the smallest currency unit (XTR has no subunit).
 */

package domain

import (
	"time"
)

// Invoice statuses.
const (
	InvoiceStatusPending = "pending"
	InvoiceStatusPaid    = "paid"
	InvoiceStatusVoid    = "void"
)

// Invoice type tags. New invoices always carry one; confirmations for
// invoices issued by older bot builds may only be matchable by payload prefix.
const (
	InvoiceTypeCarRental    = "car_rental"
	InvoiceTypeSOSFuel      = "sos_fuel"
	InvoiceTypeSOSEvac      = "sos_evac"
	InvoiceTypeDropAnywhere = "drop_anywhere"
	InvoiceTypeProtocard    = "protocard"
	InvoiceTypeDonation     = "donation"
)

// Invoice represents a payable obligation created ahead of a Stars invoice.
// Maps to the `invoices` table.
type Invoice struct {
	ID        string           `json:"id"` // the invoice payload string
	UserID    string           `json:"user_id"`
	Type      string           `json:"type"`   // e.g. 'car_rental', 'sos_fuel'
	Status    string           `json:"status"` // 'pending', 'paid', 'void'
	Amount    int64            `json:"amount"`
	Currency  string           `json:"currency"` // 'XTR'
	Metadata  *InvoiceMetadata `json:"metadata,omitempty"`
	PaidAt    *time.Time       `json:"paid_at,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// InvoiceMetadata carries the handler-specific context captured at invoice
// creation time. Stored as JSONB.
type InvoiceMetadata struct {
	RentalID    string  `json:"rental_id,omitempty"`
	OwnerID     string  `json:"owner_id,omitempty"`
	VehicleSlug string  `json:"vehicle_slug,omitempty"`
	Geotag      *Geotag `json:"geotag,omitempty"`
	ItemCode    string  `json:"item_code,omitempty"`
	Note        string  `json:"note,omitempty"`
}

// Geotag is a latitude/longitude pair attached to SOS requests and
// drop-anywhere returns.
type Geotag struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// PaymentConfirmation is the normalized successful-payment notification,
// whether it arrived over the webhook or the message queue.
type PaymentConfirmation struct {
	InvoiceID   string `json:"invoice_id"` // echoed invoice payload
	PayerID     string `json:"payer_id"`
	RawPayload  string `json:"raw_payload"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	ProviderRef string `json:"provider_ref,omitempty"` // telegram_payment_charge_id
}
