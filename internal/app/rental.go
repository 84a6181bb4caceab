/**
 * @description
 * The rental lifecycle: role resolution, the derived action menu, pickup and
 * return confirmation, photo and geotag capture, and the paid micro-actions
 * (drop-anywhere, SOS) that start an invoice round trip.
 *
 * @notes
 * - Lifecycle transitions are driven by the event log, not stored flags:
 *   whether an action is offered is always re-derived from the events.
 * - Singleton confirmations go through AppendRentalEventOnce so a double tap
 *   or a replayed request cannot record pickup or return twice.
 */

package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/onesitepls/commerce-service/internal/domain"
	"github.com/onesitepls/commerce-service/internal/store"
)

// RoleFor resolves the viewer's role relative to a rental.
func RoleFor(rental *domain.Rental, userID string) string {
	switch userID {
	case rental.OwnerID:
		return domain.RoleOwner
	case rental.RenterID:
		return domain.RoleRenter
	default:
		return domain.RoleGuest
	}
}

// CurrentRental returns the user's most relevant live rental.
func (s *Service) CurrentRental(ctx context.Context, userID string) (*domain.Rental, error) {
	return s.repo.FindCurrentRentalForUser(ctx, userID)
}

// AvailableActions derives the action menu for a viewer of a rental.
func (s *Service) AvailableActions(ctx context.Context, userID, rentalID string) ([]string, error) {
	rental, err := s.repo.FindRentalByID(ctx, rentalID)
	if err != nil {
		return nil, err
	}
	events, err := s.repo.ListRentalEvents(ctx, rentalID)
	if err != nil {
		return nil, fmt.Errorf("failed to list events for rental %s: %w", rentalID, err)
	}
	return deriveActions(rental, events, RoleFor(rental, userID)), nil
}

// deriveActions scans the event set and offers only the actions that are
// currently meaningful for the viewer's role.
func deriveActions(rental *domain.Rental, events []domain.RentalEvent, role string) []string {
	var actions []string
	switch role {
	case domain.RoleRenter:
		if beforePickup(rental.Status) && !hasCompletedEvent(events, domain.EventPhotoStart) {
			actions = append(actions, domain.ActionStartPhoto)
		}
		if rental.Status == domain.RentalStatusActive {
			if !hasEvent(events, domain.EventReturnConfirmed) {
				actions = append(actions, domain.ActionEndPhoto)
			}
			actions = append(actions, domain.ActionDropAnywhere, domain.ActionSOSFuel, domain.ActionSOSEvac)
		}
	case domain.RoleOwner:
		if beforePickup(rental.Status) &&
			hasCompletedEvent(events, domain.EventPhotoStart) &&
			!hasEvent(events, domain.EventPickupConfirmed) {
			actions = append(actions, domain.ActionConfirmPickup)
		}
		if rental.Status == domain.RentalStatusActive &&
			hasCompletedEvent(events, domain.EventPhotoEnd) &&
			!hasEvent(events, domain.EventReturnConfirmed) {
			actions = append(actions, domain.ActionConfirmReturn)
		}
	}
	return actions
}

// beforePickup reports whether the rental is still in the handover phase,
// where the start photo and pickup confirmation apply. A paid booking can sit
// at pending_confirmation until the owner acts, so both statuses count.
func beforePickup(status string) bool {
	return status == domain.RentalStatusPendingConfirmation || status == domain.RentalStatusConfirmed
}

func hasEvent(events []domain.RentalEvent, eventType string) bool {
	for _, e := range events {
		if e.Type == eventType {
			return true
		}
	}
	return false
}

func hasCompletedEvent(events []domain.RentalEvent, eventType string) bool {
	for _, e := range events {
		if e.Type == eventType && e.Status == domain.EventStatusCompleted {
			return true
		}
	}
	return false
}

// ConfirmPickup records the owner's handover confirmation and activates the
// rental.
func (s *Service) ConfirmPickup(ctx context.Context, actorID, rentalID string) (*domain.Rental, error) {
	rental, err := s.repo.FindRentalByID(ctx, rentalID)
	if err != nil {
		return nil, err
	}
	if RoleFor(rental, actorID) != domain.RoleOwner {
		return nil, ErrUnauthorized
	}
	if !beforePickup(rental.Status) {
		return nil, ErrInvalidTransition
	}
	events, err := s.repo.ListRentalEvents(ctx, rentalID)
	if err != nil {
		return nil, fmt.Errorf("failed to list events for rental %s: %w", rentalID, err)
	}
	if !hasCompletedEvent(events, domain.EventPhotoStart) {
		return nil, ErrInvalidTransition
	}

	inserted, err := s.repo.AppendRentalEventOnce(ctx, &domain.RentalEvent{
		ID:       uuid.New(),
		RentalID: rentalID,
		ActorID:  actorID,
		Type:     domain.EventPickupConfirmed,
		Status:   domain.EventStatusCompleted,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record pickup confirmation: %w", err)
	}
	if !inserted {
		return nil, ErrAlreadyRecorded
	}

	moved, err := s.repo.UpdateRentalStatus(ctx, rentalID, rental.Status, domain.RentalStatusActive)
	if err != nil {
		return nil, fmt.Errorf("failed to activate rental %s: %w", rentalID, err)
	}
	if !moved {
		log.Printf("level=warn component=rental msg=\"pickup recorded but status edge not taken\" rental_id=%s", rentalID)
	}
	rental.Status = domain.RentalStatusActive

	s.notifier.NotifyUser(ctx, rental.RenterID, "pickup_confirmed",
		fmt.Sprintf("Pickup confirmed for rental <b>%s</b>. Ride safe!", rentalID),
		s.notifier.RentalDeepLink("Open rental", rentalID))
	s.publishRentalUpdated(ctx, rental, domain.EventPickupConfirmed, actorID)
	return rental, nil
}

// ConfirmReturn records the owner's return confirmation and completes the
// rental.
func (s *Service) ConfirmReturn(ctx context.Context, actorID, rentalID string) (*domain.Rental, error) {
	rental, err := s.repo.FindRentalByID(ctx, rentalID)
	if err != nil {
		return nil, err
	}
	if RoleFor(rental, actorID) != domain.RoleOwner {
		return nil, ErrUnauthorized
	}
	if rental.Status != domain.RentalStatusActive {
		return nil, ErrInvalidTransition
	}
	events, err := s.repo.ListRentalEvents(ctx, rentalID)
	if err != nil {
		return nil, fmt.Errorf("failed to list events for rental %s: %w", rentalID, err)
	}
	if !hasCompletedEvent(events, domain.EventPhotoEnd) {
		return nil, ErrInvalidTransition
	}

	inserted, err := s.repo.AppendRentalEventOnce(ctx, &domain.RentalEvent{
		ID:       uuid.New(),
		RentalID: rentalID,
		ActorID:  actorID,
		Type:     domain.EventReturnConfirmed,
		Status:   domain.EventStatusCompleted,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record return confirmation: %w", err)
	}
	if !inserted {
		return nil, ErrAlreadyRecorded
	}

	moved, err := s.repo.UpdateRentalStatus(ctx, rentalID, domain.RentalStatusActive, domain.RentalStatusCompleted)
	if err != nil {
		return nil, fmt.Errorf("failed to complete rental %s: %w", rentalID, err)
	}
	if !moved {
		log.Printf("level=warn component=rental msg=\"return recorded but status edge not taken\" rental_id=%s", rentalID)
	}
	rental.Status = domain.RentalStatusCompleted

	s.notifier.NotifyUser(ctx, rental.RenterID, "return_confirmed",
		fmt.Sprintf("Return confirmed for rental <b>%s</b>. Thanks for riding with us!", rentalID), nil)
	s.publishRentalUpdated(ctx, rental, domain.EventReturnConfirmed, actorID)
	return rental, nil
}

// AddRentalPhoto appends a renter's photo event. Start photos document the
// vehicle before pickup; end photos document it before return.
func (s *Service) AddRentalPhoto(ctx context.Context, actorID, rentalID, kind, photoID string) error {
	if kind != domain.EventPhotoStart && kind != domain.EventPhotoEnd {
		return fmt.Errorf("unknown photo kind %q", kind)
	}
	rental, err := s.repo.FindRentalByID(ctx, rentalID)
	if err != nil {
		return err
	}
	if RoleFor(rental, actorID) != domain.RoleRenter {
		return ErrUnauthorized
	}
	if kind == domain.EventPhotoStart && !beforePickup(rental.Status) {
		return ErrInvalidTransition
	}
	if kind == domain.EventPhotoEnd && rental.Status != domain.RentalStatusActive {
		return ErrInvalidTransition
	}

	if err := s.repo.AppendRentalEvent(ctx, &domain.RentalEvent{
		ID:       uuid.New(),
		RentalID: rentalID,
		ActorID:  actorID,
		Type:     kind,
		Status:   domain.EventStatusCompleted,
		PhotoID:  &photoID,
	}); err != nil {
		return fmt.Errorf("failed to append %s event: %w", kind, err)
	}

	// If this photo completes an awaiting-photo flow, close it.
	if state, err := s.repo.FindUserState(ctx, actorID); err == nil &&
		state.State == domain.StateAwaitingRentalPhoto && state.RentalID == rentalID {
		if err := s.repo.ClearUserState(ctx, actorID); err != nil {
			log.Printf("level=warn component=rental msg=\"failed to clear photo state\" user_id=%s err=%v", actorID, err)
		}
	}

	s.notifier.NotifyUser(ctx, rental.OwnerID, "rental_photo",
		fmt.Sprintf("New %s photo on rental <b>%s</b>.", photoLabel(kind), rentalID),
		s.notifier.RentalDeepLink("Open rental", rentalID))
	s.publishRentalUpdated(ctx, rental, kind, actorID)
	return nil
}

func photoLabel(kind string) string {
	if kind == domain.EventPhotoStart {
		return "pickup"
	}
	return "return"
}

// AttachGeotag completes an awaiting-geotag flow with the user's shared
// location.
func (s *Service) AttachGeotag(ctx context.Context, actorID string, geotag domain.Geotag) error {
	state, err := s.repo.FindUserState(ctx, actorID)
	if err != nil {
		if err == store.ErrUserStateNotFound {
			return ErrStateExpired
		}
		return fmt.Errorf("failed to load user state for %s: %w", actorID, err)
	}
	if state.State != domain.StateAwaitingSOSGeotag {
		return ErrStateExpired
	}

	completed, err := s.repo.CompletePendingGeotagEvent(ctx, state.RentalID, geotag)
	if err != nil {
		return fmt.Errorf("failed to attach geotag on rental %s: %w", state.RentalID, err)
	}
	if !completed {
		return ErrStateExpired
	}
	if err := s.repo.ClearUserState(ctx, actorID); err != nil {
		log.Printf("level=warn component=rental msg=\"failed to clear geotag state\" user_id=%s err=%v", actorID, err)
	}

	rental, err := s.repo.FindRentalByID(ctx, state.RentalID)
	if err == nil {
		s.notifier.NotifyUser(ctx, rental.OwnerID, "sos_geotag",
			fmt.Sprintf("Location received for the SOS on rental <b>%s</b>.", rental.ID),
			s.notifier.RentalDeepLink("Open rental", rental.ID))
	}
	return nil
}

// RequestDropAnywhere opens the paid drop-anywhere round trip: it records the
// pending invoice and returns its payload for the bot to bill.
func (s *Service) RequestDropAnywhere(ctx context.Context, actorID, rentalID string) (*domain.Invoice, error) {
	rental, err := s.repo.FindRentalByID(ctx, rentalID)
	if err != nil {
		return nil, err
	}
	if RoleFor(rental, actorID) != domain.RoleRenter {
		return nil, ErrUnauthorized
	}
	if rental.Status != domain.RentalStatusActive {
		return nil, ErrInvalidTransition
	}
	if err := s.consumeMicroActionBudget(ctx, "drop_anywhere", actorID); err != nil {
		return nil, err
	}

	inv := &domain.Invoice{
		ID:       fmt.Sprintf("drop_anywhere_%s_%d", rentalID, time.Now().UnixNano()),
		UserID:   actorID,
		Type:     domain.InvoiceTypeDropAnywhere,
		Status:   domain.InvoiceStatusPending,
		Amount:   s.cfg.DropAnywhereFeeXTR,
		Currency: "XTR",
		Metadata: &domain.InvoiceMetadata{RentalID: rentalID},
	}
	if err := s.repo.CreateInvoice(ctx, inv); err != nil {
		return nil, fmt.Errorf("failed to create drop-anywhere invoice: %w", err)
	}
	log.Printf("level=info component=rental msg=\"drop-anywhere invoice created\" rental_id=%s invoice_id=%s amount=%d", rentalID, inv.ID, inv.Amount)
	return inv, nil
}

// RequestSOS opens a paid SOS round trip, or applies the effect immediately
// when the configured fee is zero.
func (s *Service) RequestSOS(ctx context.Context, actorID, rentalID, kind string, geotag *domain.Geotag) (*domain.Invoice, error) {
	if kind != domain.InvoiceTypeSOSFuel && kind != domain.InvoiceTypeSOSEvac {
		return nil, fmt.Errorf("unknown sos kind %q", kind)
	}
	rental, err := s.repo.FindRentalByID(ctx, rentalID)
	if err != nil {
		return nil, err
	}
	if RoleFor(rental, actorID) != domain.RoleRenter {
		return nil, ErrUnauthorized
	}
	if rental.Status != domain.RentalStatusActive {
		return nil, ErrInvalidTransition
	}
	if err := s.consumeMicroActionBudget(ctx, kind, actorID); err != nil {
		return nil, err
	}

	fee := s.cfg.SOSFuelFeeXTR
	if kind == domain.InvoiceTypeSOSEvac {
		fee = s.cfg.SOSEvacFeeXTR
	}

	// Free SOS skips the invoice round trip and records the event directly.
	if fee == 0 {
		event := &domain.RentalEvent{
			ID:       uuid.New(),
			RentalID: rentalID,
			ActorID:  actorID,
			Type:     kind,
			Status:   domain.EventStatusPending,
			Geotag:   geotag,
		}
		if geotag == nil {
			event.Status = domain.EventStatusPendingGeotag
			if err := s.repo.SetUserState(ctx, &domain.UserState{
				UserID:    actorID,
				State:     domain.StateAwaitingSOSGeotag,
				RentalID:  rentalID,
				ExpiresAt: time.Now().UTC().Add(s.userStateTTL()),
			}); err != nil {
				return nil, fmt.Errorf("failed to set awaiting-geotag state: %w", err)
			}
		}
		if err := s.repo.AppendRentalEvent(ctx, event); err != nil {
			return nil, fmt.Errorf("failed to append free sos event: %w", err)
		}
		s.notifier.AlertOperator(ctx, fmt.Sprintf("SOS (%s) on rental %s by %s", kind, rentalID, actorID))
		return nil, nil
	}

	inv := &domain.Invoice{
		ID:       fmt.Sprintf("%s_%s_%d", kind, rentalID, time.Now().UnixNano()),
		UserID:   actorID,
		Type:     kind,
		Status:   domain.InvoiceStatusPending,
		Amount:   fee,
		Currency: "XTR",
		Metadata: &domain.InvoiceMetadata{RentalID: rentalID, Geotag: geotag},
	}
	if err := s.repo.CreateInvoice(ctx, inv); err != nil {
		return nil, fmt.Errorf("failed to create sos invoice: %w", err)
	}
	log.Printf("level=info component=rental msg=\"sos invoice created\" rental_id=%s invoice_id=%s kind=%s amount=%d", rentalID, inv.ID, kind, fee)
	return inv, nil
}

func (s *Service) consumeMicroActionBudget(ctx context.Context, scope, userID string) error {
	if s.limiter == nil {
		return nil
	}
	count, _, err := s.limiter.ConsumeRateLimit(ctx, scope, userID, s.cfg.MicroActionRateLimit, time.Minute)
	if err != nil {
		// Limiter trouble must not block paying customers.
		log.Printf("level=warn component=rental msg=\"rate limiter unavailable; allowing action\" scope=%s user_id=%s err=%v", scope, userID, err)
		return nil
	}
	if count > s.cfg.MicroActionRateLimit {
		return ErrRateLimited
	}
	return nil
}

func (s *Service) userStateTTL() time.Duration {
	return time.Duration(s.cfg.UserStateTTLMinutes) * time.Minute
}

func (s *Service) publishRentalUpdated(ctx context.Context, rental *domain.Rental, eventType, actorID string) {
	if s.producer == nil {
		return
	}
	event := domain.RentalUpdatedEvent{
		RentalID:   rental.ID,
		Status:     rental.Status,
		EventType:  eventType,
		ActorID:    actorID,
		OccurredAt: time.Now().UTC(),
	}
	if err := s.producer.Publish(ctx, s.cfg.EventsExchange, domain.RoutingRentalUpdated, event); err != nil {
		log.Printf("level=warn component=rental msg=\"failed to publish rental event\" rental_id=%s err=%v", rental.ID, err)
	}
}
