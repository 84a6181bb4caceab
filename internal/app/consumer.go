package app

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/onesitepls/commerce-service/internal/domain"
)

// PaymentConsumer feeds queue-delivered payment confirmations into the same
// ingress path the webhook uses.
type PaymentConsumer struct {
	service *Service
}

func NewPaymentConsumer(service *Service) *PaymentConsumer {
	return &PaymentConsumer{service: service}
}

// HandleMessage processes one delivery. Returning true acks; false requeues.
// Malformed payloads are acked: they will never parse better on retry.
func (c *PaymentConsumer) HandleMessage(body []byte) bool {
	event, err := decodePaymentConfirmation(body)
	if err != nil {
		log.Printf("level=warn component=consumer msg=\"failed to decode payment confirmation; dropping\" err=%v", err)
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := c.service.IngestPayment(ctx, event); err != nil {
		log.Printf("level=error component=consumer msg=\"ingest failed; re-queuing\" invoice_id=%s err=%v", event.InvoiceID, err)
		return false
	}
	return true
}

// paymentConfirmationMessage is the wire shape the bot gateway publishes. The
// payload doubles as the invoice id when no explicit id is present.
type paymentConfirmationMessage struct {
	InvoiceID   string `json:"invoice_id"`
	Payload     string `json:"payload"`
	PayerID     string `json:"payer_id"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	ProviderRef string `json:"provider_ref"`
}

func decodePaymentConfirmation(body []byte) (domain.PaymentConfirmation, error) {
	var msg paymentConfirmationMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return domain.PaymentConfirmation{}, err
	}

	invoiceID := strings.TrimSpace(msg.InvoiceID)
	if invoiceID == "" {
		invoiceID = strings.TrimSpace(msg.Payload)
	}
	if invoiceID == "" {
		return domain.PaymentConfirmation{}, errors.New("confirmation carries neither invoice_id nor payload")
	}

	confirmation := domain.PaymentConfirmation{
		InvoiceID:   invoiceID,
		PayerID:     strings.TrimSpace(msg.PayerID),
		RawPayload:  strings.TrimSpace(msg.Payload),
		Amount:      msg.Amount,
		Currency:    msg.Currency,
		ProviderRef: msg.ProviderRef,
	}
	if confirmation.RawPayload == "" {
		confirmation.RawPayload = invoiceID
	}
	return confirmation, nil
}
