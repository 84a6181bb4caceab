/**
 * @description
 * The crew shift machine. Live status moves offline -> online on clock-in,
 * online <-> riding on toggle, and any non-offline status -> offline on
 * clock-out. Shift rows bracket the clocked time; the workshop owner is
 * notified on both ends.
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

// ClockIn opens a shift for the crew member behind userID.
func (s *Service) ClockIn(ctx context.Context, userID string) (*domain.Shift, error) {
	member, err := s.repo.FindCrewMemberByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	if _, err := s.repo.FindOpenShift(ctx, member.ID); err == nil {
		return nil, ErrShiftAlreadyOpen
	} else if err != store.ErrShiftNotFound {
		return nil, fmt.Errorf("failed to check open shift: %w", err)
	}

	moved, err := s.repo.UpdateCrewLiveStatus(ctx, member.ID, []string{domain.LiveStatusOffline}, domain.LiveStatusOnline, false)
	if err != nil {
		return nil, fmt.Errorf("failed to set live status online: %w", err)
	}
	if !moved {
		return nil, ErrInvalidTransition
	}

	shift := &domain.Shift{
		ID:           uuid.New(),
		CrewMemberID: member.ID,
		ClockInTime:  time.Now().UTC(),
	}
	if err := s.repo.OpenShift(ctx, shift); err != nil {
		return nil, fmt.Errorf("failed to open shift: %w", err)
	}

	log.Printf("level=info component=shift msg=\"clock in\" crew_member_id=%s shift_id=%s", member.ID, shift.ID)
	s.notifier.NotifyUser(ctx, member.OwnerID, "shift_started",
		fmt.Sprintf("🟢 %s clocked in at %s.", member.DisplayName, member.WorkshopSlug), nil)
	s.publishShiftEvent(ctx, domain.RoutingShiftStarted, member, shift)
	return shift, nil
}

// ToggleRide flips the member between online and riding. Coming back online
// clears the last reported location.
func (s *Service) ToggleRide(ctx context.Context, userID string) (string, error) {
	member, err := s.repo.FindCrewMemberByUser(ctx, userID)
	if err != nil {
		return "", err
	}

	switch member.LiveStatus {
	case domain.LiveStatusOnline:
		moved, err := s.repo.UpdateCrewLiveStatus(ctx, member.ID, []string{domain.LiveStatusOnline}, domain.LiveStatusRiding, false)
		if err != nil {
			return "", fmt.Errorf("failed to start riding: %w", err)
		}
		if !moved {
			return "", ErrInvalidTransition
		}
		return domain.LiveStatusRiding, nil
	case domain.LiveStatusRiding:
		moved, err := s.repo.UpdateCrewLiveStatus(ctx, member.ID, []string{domain.LiveStatusRiding}, domain.LiveStatusOnline, true)
		if err != nil {
			return "", fmt.Errorf("failed to stop riding: %w", err)
		}
		if !moved {
			return "", ErrInvalidTransition
		}
		return domain.LiveStatusOnline, nil
	default:
		return "", ErrInvalidTransition
	}
}

// ClockOut closes the open shift and takes the member offline from any
// non-offline status.
func (s *Service) ClockOut(ctx context.Context, userID string) (*domain.Shift, error) {
	member, err := s.repo.FindCrewMemberByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if member.LiveStatus == domain.LiveStatusOffline {
		return nil, ErrInvalidTransition
	}

	open, err := s.repo.FindOpenShift(ctx, member.ID)
	if err != nil {
		if err == store.ErrShiftNotFound {
			// Status says on duty but no shift row exists. Repair the status
			// and report the inconsistency.
			if _, statusErr := s.repo.UpdateCrewLiveStatus(ctx, member.ID, []string{domain.LiveStatusOnline, domain.LiveStatusRiding}, domain.LiveStatusOffline, true); statusErr != nil {
				return nil, fmt.Errorf("failed to force live status offline: %w", statusErr)
			}
			log.Printf("level=warn component=shift msg=\"clock out without open shift; status repaired\" crew_member_id=%s", member.ID)
			return nil, store.ErrShiftNotFound
		}
		return nil, fmt.Errorf("failed to find open shift: %w", err)
	}

	shift, err := s.repo.CloseShift(ctx, open.ID, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to close shift %s: %w", open.ID, err)
	}

	moved, err := s.repo.UpdateCrewLiveStatus(ctx, member.ID, []string{domain.LiveStatusOnline, domain.LiveStatusRiding}, domain.LiveStatusOffline, true)
	if err != nil {
		return nil, fmt.Errorf("failed to set live status offline: %w", err)
	}
	if !moved {
		log.Printf("level=warn component=shift msg=\"shift closed but status edge not taken\" crew_member_id=%s", member.ID)
	}

	var duration int64
	if shift.DurationSecs != nil {
		duration = *shift.DurationSecs
	}
	log.Printf("level=info component=shift msg=\"clock out\" crew_member_id=%s shift_id=%s duration_secs=%d", member.ID, shift.ID, duration)
	s.notifier.NotifyUser(ctx, member.OwnerID, "shift_ended",
		fmt.Sprintf("🔴 %s clocked out of %s after %s.", member.DisplayName, member.WorkshopSlug, formatShiftDuration(duration)), nil)
	s.publishShiftEvent(ctx, domain.RoutingShiftEnded, member, shift)
	return shift, nil
}

// ReportLocation stores the member's position while riding.
func (s *Service) ReportLocation(ctx context.Context, userID string, geotag domain.Geotag) error {
	member, err := s.repo.FindCrewMemberByUser(ctx, userID)
	if err != nil {
		return err
	}
	if member.LiveStatus != domain.LiveStatusRiding {
		return ErrInvalidTransition
	}
	return s.repo.UpdateCrewLocation(ctx, member.ID, geotag)
}

func formatShiftDuration(secs int64) string {
	d := time.Duration(secs) * time.Second
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	if hours == 0 {
		return fmt.Sprintf("%dm", minutes)
	}
	return fmt.Sprintf("%dh %dm", hours, minutes)
}

func (s *Service) publishShiftEvent(ctx context.Context, routingKey string, member *domain.CrewMember, shift *domain.Shift) {
	if s.producer == nil {
		return
	}
	event := domain.ShiftEvent{
		ShiftID:      shift.ID.String(),
		CrewMemberID: member.ID.String(),
		WorkshopSlug: member.WorkshopSlug,
		OccurredAt:   time.Now().UTC(),
	}
	if shift.DurationSecs != nil {
		event.DurationSecs = *shift.DurationSecs
	}
	if err := s.producer.Publish(ctx, s.cfg.EventsExchange, routingKey, event); err != nil {
		log.Printf("level=warn component=shift msg=\"failed to publish shift event\" shift_id=%s err=%v", shift.ID, err)
	}
}
