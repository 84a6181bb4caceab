package app

import (
	"context"
	"log"

	"github.com/onesitepls/commerce-service/internal/domain"
)

// donationHandler thanks the donor. Donations have no further effect; the
// settled invoice row is the record.
type donationHandler struct{}

func (h *donationHandler) Name() string { return "donation" }

func (h *donationHandler) CanHandle(inv *domain.Invoice, rawPayload string) bool {
	return matchesKind(inv, rawPayload, []string{domain.InvoiceTypeDonation}, []string{"donation_"})
}

func (h *donationHandler) Handle(ctx context.Context, s *Service, inv *domain.Invoice, payer *domain.User, conf domain.PaymentConfirmation) error {
	log.Printf("level=info component=dispatch handler=donation msg=\"donation received\" payer_id=%s amount=%d %s", conf.PayerID, conf.Amount, conf.Currency)
	s.notifier.NotifyUser(ctx, conf.PayerID, "donation_thanks",
		"Thank you for supporting the project! ❤️", nil)
	return nil
}
