/**
 * @description
 * Effect handler for the paid drop-anywhere return. Records the hustle pickup
 * event and parks the renter in the awaiting-photo state: their next photo
 * documents where the vehicle was left.
 */

package app

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/onesitepls/commerce-service/internal/domain"
)

type dropAnywhereHandler struct{}

func (h *dropAnywhereHandler) Name() string { return "drop_anywhere" }

func (h *dropAnywhereHandler) CanHandle(inv *domain.Invoice, rawPayload string) bool {
	return matchesKind(inv, rawPayload, []string{domain.InvoiceTypeDropAnywhere}, []string{"drop_anywhere_"})
}

func (h *dropAnywhereHandler) Handle(ctx context.Context, s *Service, inv *domain.Invoice, payer *domain.User, conf domain.PaymentConfirmation) error {
	rentalID := ""
	if inv.Metadata != nil {
		rentalID = inv.Metadata.RentalID
	}
	if rentalID == "" {
		return fmt.Errorf("drop-anywhere invoice %s has no rental_id in metadata", inv.ID)
	}

	rental, err := s.repo.FindRentalByID(ctx, rentalID)
	if err != nil {
		return fmt.Errorf("failed to load rental %s for drop-anywhere: %w", rentalID, err)
	}

	event := &domain.RentalEvent{
		ID:       uuid.New(),
		RentalID: rental.ID,
		ActorID:  conf.PayerID,
		Type:     domain.EventHustlePickup,
		Status:   domain.EventStatusPending,
	}
	if err := s.repo.AppendRentalEvent(ctx, event); err != nil {
		return fmt.Errorf("failed to append hustle pickup event for rental %s: %w", rental.ID, err)
	}

	state := &domain.UserState{
		UserID:    conf.PayerID,
		State:     domain.StateAwaitingRentalPhoto,
		RentalID:  rental.ID,
		ExpiresAt: time.Now().UTC().Add(s.userStateTTL()),
	}
	if err := s.repo.SetUserState(ctx, state); err != nil {
		return fmt.Errorf("failed to set awaiting-photo state for %s: %w", conf.PayerID, err)
	}

	s.notifier.NotifyUser(ctx, conf.PayerID, "drop_anywhere_paid",
		"Drop-anywhere unlocked. Send a photo of where you left the vehicle to finish.", nil)
	s.notifier.NotifyUser(ctx, rental.OwnerID, "drop_anywhere_used",
		fmt.Sprintf("Renter paid for drop-anywhere on rental <b>%s</b>. A crew pickup will be needed.", rental.ID),
		s.notifier.RentalDeepLink("Open rental", rental.ID))

	s.publishRentalUpdated(ctx, rental, event.Type, conf.PayerID)
	return nil
}
