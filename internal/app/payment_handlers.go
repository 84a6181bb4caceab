/**
 * @description
 * The payment effect handler registry. Each handler pairs a match predicate
 * with the effect to run once an invoice of its kind is paid. The registry
 * order is fixed at service construction and the first match wins.
 *
 * @notes
 * - Matching checks the invoice type tag first and falls back to the legacy
 *   payload prefix, so confirmations for invoices issued by older bot builds
 *   still route correctly.
 */

package app

import (
	"context"
	"strings"

	"github.com/onesitepls/commerce-service/internal/domain"
)

// PaymentHandler is one entry of the effect handler registry.
type PaymentHandler interface {
	// Name identifies the handler in logs and operator alerts.
	Name() string
	// CanHandle reports whether this handler owns the paid invoice.
	CanHandle(inv *domain.Invoice, rawPayload string) bool
	// Handle applies the payment effect. It runs at most once per invoice.
	// payer is never nil: when the user row is missing the dispatcher hands
	// over a placeholder carrying only the id.
	Handle(ctx context.Context, s *Service, inv *domain.Invoice, payer *domain.User, conf domain.PaymentConfirmation) error
}

// matchesKind implements the shared type-tag-then-prefix match rule.
func matchesKind(inv *domain.Invoice, rawPayload string, types []string, prefixes []string) bool {
	for _, t := range types {
		if inv.Type == t {
			return true
		}
	}
	if inv.Type != "" {
		return false
	}
	for _, p := range prefixes {
		if strings.HasPrefix(rawPayload, p) {
			return true
		}
	}
	return false
}
