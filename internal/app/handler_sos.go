/**
 * @description
 * Effect handler for paid SOS requests (fuel delivery and evacuation).
 * Appends the SOS event to the rental's log and, when no geotag was captured
 * at invoice time, parks the payer in the awaiting-geotag state so their next
 * shared location completes the event.
 */

package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/onesitepls/commerce-service/internal/domain"
)

type sosHandler struct{}

func (h *sosHandler) Name() string { return "sos" }

func (h *sosHandler) CanHandle(inv *domain.Invoice, rawPayload string) bool {
	return matchesKind(inv, rawPayload, []string{domain.InvoiceTypeSOSFuel, domain.InvoiceTypeSOSEvac}, []string{"sos_"})
}

func (h *sosHandler) Handle(ctx context.Context, s *Service, inv *domain.Invoice, payer *domain.User, conf domain.PaymentConfirmation) error {
	rentalID := ""
	var geotag *domain.Geotag
	if inv.Metadata != nil {
		rentalID = inv.Metadata.RentalID
		geotag = inv.Metadata.Geotag
	}
	if rentalID == "" {
		return fmt.Errorf("sos invoice %s has no rental_id in metadata", inv.ID)
	}

	rental, err := s.repo.FindRentalByID(ctx, rentalID)
	if err != nil {
		return fmt.Errorf("failed to load rental %s for sos: %w", rentalID, err)
	}

	event := &domain.RentalEvent{
		ID:       uuid.New(),
		RentalID: rental.ID,
		ActorID:  conf.PayerID,
		Type:     sosEventType(inv, conf.RawPayload),
		Status:   domain.EventStatusPending,
		Geotag:   geotag,
	}
	if geotag == nil {
		event.Status = domain.EventStatusPendingGeotag
	}
	if err := s.repo.AppendRentalEvent(ctx, event); err != nil {
		return fmt.Errorf("failed to append sos event for rental %s: %w", rental.ID, err)
	}

	if geotag == nil {
		state := &domain.UserState{
			UserID:    conf.PayerID,
			State:     domain.StateAwaitingSOSGeotag,
			RentalID:  rental.ID,
			ExpiresAt: time.Now().UTC().Add(s.userStateTTL()),
		}
		if err := s.repo.SetUserState(ctx, state); err != nil {
			return fmt.Errorf("failed to set awaiting-geotag state for %s: %w", conf.PayerID, err)
		}
		s.notifier.NotifyUser(ctx, conf.PayerID, "sos_geotag_request",
			"SOS received. Share your location now so the crew knows where to find you.", nil)
	}

	s.notifier.NotifyUser(ctx, rental.OwnerID, "sos_raised",
		fmt.Sprintf("🆘 %s requested on rental <b>%s</b>.", sosLabel(event.Type), rental.ID),
		s.notifier.RentalDeepLink("Open rental", rental.ID))
	s.notifier.AlertOperator(ctx, fmt.Sprintf("SOS (%s) on rental %s by %s", event.Type, rental.ID, conf.PayerID))

	s.publishRentalUpdated(ctx, rental, event.Type, conf.PayerID)
	return nil
}

func sosEventType(inv *domain.Invoice, rawPayload string) string {
	if inv.Type == domain.InvoiceTypeSOSEvac || strings.HasPrefix(rawPayload, "sos_evac_") {
		return domain.EventSOSEvac
	}
	return domain.EventSOSFuel
}

func sosLabel(eventType string) string {
	if eventType == domain.EventSOSEvac {
		return "Evacuation"
	}
	return "Fuel delivery"
}
