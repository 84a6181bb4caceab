/**
 * @description
 * Payment ingress. IngestPayment is the single funnel for successful-payment
 * confirmations, whether they arrived over the webhook or the queue. It
 * settles the invoice exactly once and hands it to the first matching effect
 * handler.
 *
 * @notes
 * - Everything after the conditional settlement write is fail-open: handler
 *   errors and panics are reported to the operator but the invoice stays
 *   paid and the transport still acks. Money was received either way.
 */

package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/onesitepls/commerce-service/internal/domain"
	"github.com/onesitepls/commerce-service/internal/store"
)

// IngestPayment processes one successful-payment confirmation. A nil return
// means the transport should ack; a non-nil return means the store was
// unreachable and the delivery may be retried.
func (s *Service) IngestPayment(ctx context.Context, conf domain.PaymentConfirmation) error {
	inv, err := s.repo.FindInvoiceByID(ctx, conf.InvoiceID)
	if err != nil {
		if err == store.ErrInvoiceNotFound {
			log.Printf("level=error component=ingest msg=\"confirmation for unknown invoice\" invoice_id=%s payer_id=%s", conf.InvoiceID, conf.PayerID)
			s.notifier.AlertOperator(ctx, fmt.Sprintf("Payment received for unknown invoice %s (payer %s, amount %d %s)", conf.InvoiceID, conf.PayerID, conf.Amount, conf.Currency))
			return nil
		}
		return fmt.Errorf("failed to load invoice %s: %w", conf.InvoiceID, err)
	}

	if inv.Status == domain.InvoiceStatusPaid {
		log.Printf("level=info component=ingest msg=\"duplicate confirmation ignored\" invoice_id=%s", inv.ID)
		return nil
	}

	won, err := s.repo.MarkInvoicePaid(ctx, inv.ID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to settle invoice %s: %w", inv.ID, err)
	}
	if !won {
		// A concurrent delivery settled the invoice between our read and
		// write. The winner runs the effect; this delivery is done.
		log.Printf("level=info component=ingest msg=\"lost settlement race; skipping effects\" invoice_id=%s", inv.ID)
		return nil
	}

	inv.Status = domain.InvoiceStatusPaid
	s.dispatch(ctx, inv, conf)
	return nil
}

// dispatch runs the first matching handler. It never returns an error: by the
// time it runs, the invoice is settled and the confirmation must be acked.
func (s *Service) dispatch(ctx context.Context, inv *domain.Invoice, conf domain.PaymentConfirmation) {
	payer := s.loadPayer(ctx, conf.PayerID)
	for _, handler := range s.handlers {
		if !handler.CanHandle(inv, conf.RawPayload) {
			continue
		}
		log.Printf("level=info component=dispatch msg=\"handler matched\" invoice_id=%s handler=%s", inv.ID, handler.Name())
		if err := s.runHandler(ctx, handler, inv, payer, conf); err != nil {
			log.Printf("level=error component=dispatch msg=\"handler failed\" invoice_id=%s handler=%s type=%s payload=%q amount=%d err=%v",
				inv.ID, handler.Name(), inv.Type, conf.RawPayload, conf.Amount, err)
			s.notifier.AlertOperator(ctx, fmt.Sprintf("Payment effect failed for invoice %s (handler %s): %v. Invoice is marked paid; manual follow-up needed.", inv.ID, handler.Name(), err))
			return
		}
		s.publishSettled(ctx, inv, conf, handler.Name())
		return
	}

	log.Printf("level=error component=dispatch msg=\"no handler matched\" invoice_id=%s type=%s payload=%q", inv.ID, inv.Type, conf.RawPayload)
	s.notifier.AlertOperator(ctx, fmt.Sprintf("No effect handler for paid invoice %s (type %q, payload %q). Invoice is marked paid; manual follow-up needed.", inv.ID, inv.Type, conf.RawPayload))
}

// loadPayer fetches the payer profile, best effort. A payment can arrive for
// a user the service has never seen, so a missing or unreadable row degrades
// to a placeholder carrying only the id.
func (s *Service) loadPayer(ctx context.Context, payerID string) *domain.User {
	payer, err := s.repo.FindUserByID(ctx, payerID)
	if err != nil {
		if err != store.ErrUserNotFound {
			log.Printf("level=warn component=dispatch msg=\"payer lookup failed; using placeholder\" payer_id=%s err=%v", payerID, err)
		}
		return &domain.User{ID: payerID}
	}
	return payer
}

// runHandler isolates one handler invocation so a panic cannot take down the
// transport loop.
func (s *Service) runHandler(ctx context.Context, handler PaymentHandler, inv *domain.Invoice, payer *domain.User, conf domain.PaymentConfirmation) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return handler.Handle(ctx, s, inv, payer, conf)
}

func (s *Service) publishSettled(ctx context.Context, inv *domain.Invoice, conf domain.PaymentConfirmation, handlerName string) {
	if s.producer == nil {
		return
	}
	event := domain.PaymentSettledEvent{
		InvoiceID:  inv.ID,
		PayerID:    conf.PayerID,
		Type:       inv.Type,
		Handler:    handlerName,
		Amount:     conf.Amount,
		Currency:   conf.Currency,
		OccurredAt: time.Now().UTC(),
	}
	if err := s.producer.Publish(ctx, s.cfg.EventsExchange, domain.RoutingPaymentSettled, event); err != nil {
		log.Printf("level=warn component=ingest msg=\"failed to publish settlement event\" invoice_id=%s err=%v", inv.ID, err)
	}
}
