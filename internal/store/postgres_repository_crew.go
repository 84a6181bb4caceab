/**
 * @description
 * PostgreSQL queries for crew members and their shifts. Live-status updates
 * use a from-status guard so a stale button press cannot skip a transition.
 */

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/onesitepls/commerce-service/internal/domain"
)

// FindCrewMemberByUser returns the crew membership for a Telegram user.
func (r *PostgresRepository) FindCrewMemberByUser(ctx context.Context, userID string) (*domain.CrewMember, error) {
	var member domain.CrewMember
	var location []byte
	query := `
		SELECT id, user_id, workshop_slug, owner_id, display_name, live_status, last_location, created_at, updated_at
		FROM crew_members
		WHERE user_id = $1
	`
	err := r.db.QueryRow(ctx, query, userID).Scan(
		&member.ID, &member.UserID, &member.WorkshopSlug, &member.OwnerID, &member.DisplayName,
		&member.LiveStatus, &location, &member.CreatedAt, &member.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrCrewMemberNotFound
		}
		return nil, err
	}
	if len(location) > 0 {
		var g domain.Geotag
		if err := json.Unmarshal(location, &g); err != nil {
			return nil, fmt.Errorf("failed to unmarshal crew location: %w", err)
		}
		member.LastLocation = &g
	}
	return &member, nil
}

// UpdateCrewLiveStatus transitions a member's live status when the current
// status is one of fromStatuses. Returns false when the guard did not match.
func (r *PostgresRepository) UpdateCrewLiveStatus(ctx context.Context, memberID uuid.UUID, fromStatuses []string, toStatus string, clearLocation bool) (bool, error) {
	query := `UPDATE crew_members SET live_status = $3, updated_at = NOW() WHERE id = $1 AND live_status = ANY($2)`
	if clearLocation {
		query = `UPDATE crew_members SET live_status = $3, last_location = NULL, updated_at = NOW() WHERE id = $1 AND live_status = ANY($2)`
	}
	result, err := r.db.Exec(ctx, query, memberID, fromStatuses, toStatus)
	if err != nil {
		return false, err
	}
	return result.RowsAffected() > 0, nil
}

// UpdateCrewLocation stores the member's latest reported position.
func (r *PostgresRepository) UpdateCrewLocation(ctx context.Context, memberID uuid.UUID, geotag domain.Geotag) error {
	payload, err := json.Marshal(geotag)
	if err != nil {
		return err
	}
	result, err := r.db.Exec(ctx, `UPDATE crew_members SET last_location = $2, updated_at = NOW() WHERE id = $1`, memberID, payload)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrCrewMemberNotFound
	}
	return nil
}

// FindOpenShift returns the member's shift without a clock-out time, if any.
func (r *PostgresRepository) FindOpenShift(ctx context.Context, memberID uuid.UUID) (*domain.Shift, error) {
	var shift domain.Shift
	query := `
		SELECT id, crew_member_id, clock_in_time, clock_out_time, duration_secs, created_at
		FROM crew_member_shifts
		WHERE crew_member_id = $1 AND clock_out_time IS NULL
		ORDER BY clock_in_time DESC
		LIMIT 1
	`
	err := r.db.QueryRow(ctx, query, memberID).Scan(
		&shift.ID, &shift.CrewMemberID, &shift.ClockInTime, &shift.ClockOutTime, &shift.DurationSecs, &shift.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrShiftNotFound
		}
		return nil, err
	}
	return &shift, nil
}

// OpenShift inserts a new shift row at clock-in.
func (r *PostgresRepository) OpenShift(ctx context.Context, shift *domain.Shift) error {
	query := `
		INSERT INTO crew_member_shifts (id, crew_member_id, clock_in_time, created_at)
		VALUES ($1, $2, $3, NOW())
	`
	_, err := r.db.Exec(ctx, query, shift.ID, shift.CrewMemberID, shift.ClockInTime)
	return err
}

// CloseShift stamps the clock-out time and computes the duration in SQL so
// the stored value always agrees with the two timestamps.
func (r *PostgresRepository) CloseShift(ctx context.Context, shiftID uuid.UUID, clockOut time.Time) (*domain.Shift, error) {
	var shift domain.Shift
	query := `
		UPDATE crew_member_shifts
		SET clock_out_time = $2,
		    duration_secs = EXTRACT(EPOCH FROM ($2 - clock_in_time))::BIGINT
		WHERE id = $1 AND clock_out_time IS NULL
		RETURNING id, crew_member_id, clock_in_time, clock_out_time, duration_secs, created_at
	`
	err := r.db.QueryRow(ctx, query, shiftID, clockOut).Scan(
		&shift.ID, &shift.CrewMemberID, &shift.ClockInTime, &shift.ClockOutTime, &shift.DurationSecs, &shift.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrShiftNotFound
		}
		return nil, err
	}
	return &shift, nil
}
