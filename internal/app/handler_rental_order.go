/**
 * @description
 * Effect handler for paid rental orders. Confirms the booking's interest
 * payment (creating the booking when the order arrived before one existed),
 * notifies both parties with a deep link into the mini-app, and settles
 * referral commissions for the buyer's upline.
 */

package app

import (
	"context"
	"fmt"
	"log"

	"github.com/onesitepls/commerce-service/internal/domain"
	"github.com/onesitepls/commerce-service/internal/store"
)

type rentalOrderHandler struct{}

func (h *rentalOrderHandler) Name() string { return "rental_order" }

func (h *rentalOrderHandler) CanHandle(inv *domain.Invoice, rawPayload string) bool {
	return matchesKind(inv, rawPayload, []string{domain.InvoiceTypeCarRental}, []string{"rental_", "franchize_order_"})
}

func (h *rentalOrderHandler) Handle(ctx context.Context, s *Service, inv *domain.Invoice, payer *domain.User, conf domain.PaymentConfirmation) error {
	rentalID := ""
	if inv.Metadata != nil {
		rentalID = inv.Metadata.RentalID
	}
	if rentalID == "" {
		return fmt.Errorf("rental order invoice %s has no rental_id in metadata", inv.ID)
	}

	rental, err := s.repo.ConfirmRentalInterest(ctx, rentalID)
	if err == store.ErrRentalNotFound {
		// Order paid before the booking row existed (direct checkout).
		rental, err = s.createRentalFromOrder(ctx, rentalID, inv, conf)
	}
	if err != nil {
		return fmt.Errorf("failed to record paid order for rental %s: %w", rentalID, err)
	}

	log.Printf("level=info component=dispatch handler=rental_order msg=\"order recorded\" rental_id=%s status=%s payment_status=%s",
		rental.ID, rental.Status, rental.PaymentStatus)

	s.notifier.NotifyUser(ctx, rental.RenterID, "order_paid",
		fmt.Sprintf("Your payment for rental <b>%s</b> is in. Status: %s.", rental.ID, rental.Status),
		s.notifier.RentalDeepLink("Open rental", rental.ID))
	s.notifier.NotifyUser(ctx, rental.OwnerID, "order_received",
		fmt.Sprintf("Paid order received for rental <b>%s</b> (%d %s).", rental.ID, conf.Amount, conf.Currency),
		s.notifier.RentalDeepLink("Review order", rental.ID))

	// Commission settlement must never sink a paid order.
	if err := s.SettleCommissions(ctx, inv.ID, conf.PayerID, conf.Amount); err != nil {
		log.Printf("level=error component=referral msg=\"commission settlement failed; order unaffected\" order_id=%s buyer_id=%s err=%v", inv.ID, conf.PayerID, err)
	}
	s.AwardActivity(ctx, conf.PayerID, domain.ActivityPurchaseMade)

	s.publishRentalUpdated(ctx, rental, "", conf.PayerID)
	return nil
}

func (s *Service) createRentalFromOrder(ctx context.Context, rentalID string, inv *domain.Invoice, conf domain.PaymentConfirmation) (*domain.Rental, error) {
	params := domain.CreateRentalParams{
		ID:       rentalID,
		RenterID: conf.PayerID,
	}
	if inv.Metadata != nil {
		params.OwnerID = inv.Metadata.OwnerID
		params.VehicleSlug = inv.Metadata.VehicleSlug
	}
	rental, err := s.repo.CreateRental(ctx, params)
	if err != nil {
		return nil, err
	}
	// The booking was born from the payment itself, so only the payment axis
	// moves. The rental stays pending_confirmation until the owner acts.
	if err := s.repo.SetRentalPaymentStatus(ctx, rental.ID, domain.RentalPaymentInterestPaid); err != nil {
		return nil, err
	}
	rental.PaymentStatus = domain.RentalPaymentInterestPaid
	return rental, nil
}
