/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface
 * for users, invoices, rentals, the rental event log and transient user states.
 * Referral and crew queries live in their own files alongside this one.
 *
 * @dependencies
 * - context, time, errors: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/onesitepls/commerce-service/internal/domain"
)

var (
	ErrUserNotFound         = errors.New("user not found")
	ErrInvoiceNotFound      = errors.New("invoice not found")
	ErrRentalNotFound       = errors.New("rental not found")
	ErrUserStateNotFound    = errors.New("user state not found")
	ErrReferralCodeNotFound = errors.New("referral code not found")
	ErrReferralLinkNotFound = errors.New("referral link not found")
	ErrCrewMemberNotFound   = errors.New("crew member not found")
	ErrShiftNotFound        = errors.New("shift not found")
)

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// FindUserByID retrieves a user by their Telegram id.
func (r *PostgresRepository) FindUserByID(ctx context.Context, userID string) (*domain.User, error) {
	var user domain.User
	query := `SELECT id, username, first_name, has_protocard, profile_done, created_at, last_seen_at FROM users WHERE id = $1`
	err := r.db.QueryRow(ctx, query, userID).Scan(
		&user.ID, &user.Username, &user.FirstName, &user.HasProtocard, &user.ProfileDone, &user.CreatedAt, &user.LastSeenAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

// UpsertUser inserts a user row or refreshes its mutable columns.
func (r *PostgresRepository) UpsertUser(ctx context.Context, user *domain.User) error {
	query := `
		INSERT INTO users (id, username, first_name, has_protocard, profile_done, created_at, last_seen_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET
			username = EXCLUDED.username,
			first_name = EXCLUDED.first_name,
			last_seen_at = NOW()
	`
	_, err := r.db.Exec(ctx, query, user.ID, user.Username, user.FirstName, user.HasProtocard, user.ProfileDone)
	return err
}

// SetUserProtocard flips the entitlement flag for a user.
func (r *PostgresRepository) SetUserProtocard(ctx context.Context, userID string, has bool) error {
	result, err := r.db.Exec(ctx, `UPDATE users SET has_protocard = $2 WHERE id = $1`, userID, has)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// CreateInvoice records a payable obligation before the bot sends the invoice.
func (r *PostgresRepository) CreateInvoice(ctx context.Context, inv *domain.Invoice) error {
	metadata, err := marshalInvoiceMetadata(inv.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal invoice metadata: %w", err)
	}
	query := `
		INSERT INTO invoices (id, user_id, type, status, amount, currency, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
	`
	_, err = r.db.Exec(ctx, query, inv.ID, inv.UserID, inv.Type, inv.Status, inv.Amount, inv.Currency, metadata)
	return err
}

// FindInvoiceByID retrieves an invoice by its payload string.
func (r *PostgresRepository) FindInvoiceByID(ctx context.Context, invoiceID string) (*domain.Invoice, error) {
	var inv domain.Invoice
	var metadata []byte
	query := `SELECT id, user_id, type, status, amount, currency, metadata, paid_at, created_at, updated_at FROM invoices WHERE id = $1`
	err := r.db.QueryRow(ctx, query, invoiceID).Scan(
		&inv.ID, &inv.UserID, &inv.Type, &inv.Status, &inv.Amount, &inv.Currency, &metadata, &inv.PaidAt, &inv.CreatedAt, &inv.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrInvoiceNotFound
		}
		return nil, err
	}
	if len(metadata) > 0 {
		var m domain.InvoiceMetadata
		if err := json.Unmarshal(metadata, &m); err != nil {
			return nil, fmt.Errorf("failed to unmarshal invoice metadata: %w", err)
		}
		inv.Metadata = &m
	}
	return &inv, nil
}

// MarkInvoicePaid settles an invoice exactly once. The status guard in the
// WHERE clause makes concurrent deliveries race safely: only one caller sees
// a row affected.
func (r *PostgresRepository) MarkInvoicePaid(ctx context.Context, invoiceID string, paidAt time.Time) (bool, error) {
	query := `
		UPDATE invoices
		SET status = 'paid', paid_at = $2, updated_at = NOW()
		WHERE id = $1 AND status <> 'paid'
	`
	result, err := r.db.Exec(ctx, query, invoiceID, paidAt)
	if err != nil {
		return false, err
	}
	return result.RowsAffected() > 0, nil
}

// CreateRental inserts a new booking with the default statuses.
func (r *PostgresRepository) CreateRental(ctx context.Context, params domain.CreateRentalParams) (*domain.Rental, error) {
	var rental domain.Rental
	query := `
		INSERT INTO rentals (id, owner_id, renter_id, vehicle_slug, status, payment_status, requested_start, requested_end, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 'pending_confirmation', 'pending', $5, $6, NOW(), NOW())
		RETURNING id, owner_id, renter_id, vehicle_slug, status, payment_status, requested_start, requested_end, created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query,
		params.ID, params.OwnerID, params.RenterID, params.VehicleSlug, params.RequestedStart, params.RequestedEnd,
	).Scan(
		&rental.ID, &rental.OwnerID, &rental.RenterID, &rental.VehicleSlug, &rental.Status, &rental.PaymentStatus,
		&rental.RequestedStart, &rental.RequestedEnd, &rental.CreatedAt, &rental.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rental, nil
}

// FindRentalByID retrieves a rental by id.
func (r *PostgresRepository) FindRentalByID(ctx context.Context, rentalID string) (*domain.Rental, error) {
	var rental domain.Rental
	query := `SELECT id, owner_id, renter_id, vehicle_slug, status, payment_status, requested_start, requested_end, created_at, updated_at FROM rentals WHERE id = $1`
	err := r.db.QueryRow(ctx, query, rentalID).Scan(
		&rental.ID, &rental.OwnerID, &rental.RenterID, &rental.VehicleSlug, &rental.Status, &rental.PaymentStatus,
		&rental.RequestedStart, &rental.RequestedEnd, &rental.CreatedAt, &rental.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrRentalNotFound
		}
		return nil, err
	}
	return &rental, nil
}

// FindCurrentRentalForUser returns the most relevant live rental for a user,
// whether they are the renter or the owner. Priority: active, then confirmed,
// then pending_confirmation; newest first within a status.
func (r *PostgresRepository) FindCurrentRentalForUser(ctx context.Context, userID string) (*domain.Rental, error) {
	var rental domain.Rental
	query := `
		SELECT id, owner_id, renter_id, vehicle_slug, status, payment_status, requested_start, requested_end, created_at, updated_at
		FROM rentals
		WHERE (renter_id = $1 OR owner_id = $1)
		  AND status IN ('active', 'confirmed', 'pending_confirmation')
		ORDER BY CASE status
			WHEN 'active' THEN 0
			WHEN 'confirmed' THEN 1
			ELSE 2
		END, created_at DESC
		LIMIT 1
	`
	err := r.db.QueryRow(ctx, query, userID).Scan(
		&rental.ID, &rental.OwnerID, &rental.RenterID, &rental.VehicleSlug, &rental.Status, &rental.PaymentStatus,
		&rental.RequestedStart, &rental.RequestedEnd, &rental.CreatedAt, &rental.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrRentalNotFound
		}
		return nil, err
	}
	return &rental, nil
}

// ConfirmRentalInterest records the interest payment and promotes a pending
// booking to confirmed in the same statement.
func (r *PostgresRepository) ConfirmRentalInterest(ctx context.Context, rentalID string) (*domain.Rental, error) {
	var rental domain.Rental
	query := `
		UPDATE rentals
		SET payment_status = 'interest_paid',
		    status = CASE WHEN status = 'pending_confirmation' THEN 'confirmed' ELSE status END,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING id, owner_id, renter_id, vehicle_slug, status, payment_status, requested_start, requested_end, created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query, rentalID).Scan(
		&rental.ID, &rental.OwnerID, &rental.RenterID, &rental.VehicleSlug, &rental.Status, &rental.PaymentStatus,
		&rental.RequestedStart, &rental.RequestedEnd, &rental.CreatedAt, &rental.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrRentalNotFound
		}
		return nil, err
	}
	return &rental, nil
}

// SetRentalPaymentStatus writes payment_status only. Unlike
// ConfirmRentalInterest it never advances the lifecycle status.
func (r *PostgresRepository) SetRentalPaymentStatus(ctx context.Context, rentalID, paymentStatus string) error {
	result, err := r.db.Exec(ctx, `UPDATE rentals SET payment_status = $2, updated_at = NOW() WHERE id = $1`, rentalID, paymentStatus)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrRentalNotFound
	}
	return nil
}

// UpdateRentalStatus moves a rental along one lifecycle edge. The fromStatus
// guard keeps concurrent confirmations from double-transitioning.
func (r *PostgresRepository) UpdateRentalStatus(ctx context.Context, rentalID, fromStatus, toStatus string) (bool, error) {
	query := `UPDATE rentals SET status = $3, updated_at = NOW() WHERE id = $1 AND status = $2`
	result, err := r.db.Exec(ctx, query, rentalID, fromStatus, toStatus)
	if err != nil {
		return false, err
	}
	return result.RowsAffected() > 0, nil
}

// ListRentalEvents returns a rental's event log, oldest first.
func (r *PostgresRepository) ListRentalEvents(ctx context.Context, rentalID string) ([]domain.RentalEvent, error) {
	query := `SELECT id, rental_id, actor_id, type, status, photo_id, geotag, created_at FROM rental_events WHERE rental_id = $1 ORDER BY created_at ASC`
	rows, err := r.db.Query(ctx, query, rentalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.RentalEvent
	for rows.Next() {
		event, err := scanRentalEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *event)
	}
	return events, rows.Err()
}

// AppendRentalEvent inserts an event row unconditionally.
func (r *PostgresRepository) AppendRentalEvent(ctx context.Context, event *domain.RentalEvent) error {
	geotag, err := marshalGeotag(event.Geotag)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO rental_events (id, rental_id, actor_id, type, status, photo_id, geotag, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
	`
	_, err = r.db.Exec(ctx, query, event.ID, event.RentalID, event.ActorID, event.Type, event.Status, event.PhotoID, geotag)
	return err
}

// AppendRentalEventOnce inserts only when the rental has no event of that
// type yet. Used for singleton confirmations so a double tap cannot record
// pickup or return twice.
func (r *PostgresRepository) AppendRentalEventOnce(ctx context.Context, event *domain.RentalEvent) (bool, error) {
	geotag, err := marshalGeotag(event.Geotag)
	if err != nil {
		return false, err
	}
	query := `
		INSERT INTO rental_events (id, rental_id, actor_id, type, status, photo_id, geotag, created_at)
		SELECT $1, $2, $3, $4, $5, $6, $7, NOW()
		WHERE NOT EXISTS (
			SELECT 1 FROM rental_events WHERE rental_id = $2 AND type = $4
		)
	`
	result, err := r.db.Exec(ctx, query, event.ID, event.RentalID, event.ActorID, event.Type, event.Status, event.PhotoID, geotag)
	if err != nil {
		return false, err
	}
	return result.RowsAffected() > 0, nil
}

// CompletePendingGeotagEvent attaches a geotag to the newest pending_geotag
// event of the rental.
func (r *PostgresRepository) CompletePendingGeotagEvent(ctx context.Context, rentalID string, geotag domain.Geotag) (bool, error) {
	payload, err := marshalGeotag(&geotag)
	if err != nil {
		return false, err
	}
	query := `
		UPDATE rental_events
		SET status = 'completed', geotag = $2
		WHERE id = (
			SELECT id FROM rental_events
			WHERE rental_id = $1 AND status = 'pending_geotag'
			ORDER BY created_at DESC
			LIMIT 1
		)
	`
	result, err := r.db.Exec(ctx, query, rentalID, payload)
	if err != nil {
		return false, err
	}
	return result.RowsAffected() > 0, nil
}

// SetUserState upserts the single transient state row for a user.
func (r *PostgresRepository) SetUserState(ctx context.Context, state *domain.UserState) error {
	query := `
		INSERT INTO user_states (user_id, state, rental_id, expires_at, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			state = EXCLUDED.state,
			rental_id = EXCLUDED.rental_id,
			expires_at = EXCLUDED.expires_at,
			created_at = NOW()
	`
	_, err := r.db.Exec(ctx, query, state.UserID, state.State, state.RentalID, state.ExpiresAt)
	return err
}

// FindUserState returns the user's transient state, treating expired rows as
// absent.
func (r *PostgresRepository) FindUserState(ctx context.Context, userID string) (*domain.UserState, error) {
	var state domain.UserState
	query := `SELECT user_id, state, rental_id, expires_at, created_at FROM user_states WHERE user_id = $1 AND expires_at > NOW()`
	err := r.db.QueryRow(ctx, query, userID).Scan(&state.UserID, &state.State, &state.RentalID, &state.ExpiresAt, &state.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrUserStateNotFound
		}
		return nil, err
	}
	return &state, nil
}

// ClearUserState removes the user's transient state row.
func (r *PostgresRepository) ClearUserState(ctx context.Context, userID string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM user_states WHERE user_id = $1`, userID)
	return err
}

// DeleteExpiredUserStates sweeps rows whose expiry has passed.
func (r *PostgresRepository) DeleteExpiredUserStates(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.Exec(ctx, `DELETE FROM user_states WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

func marshalInvoiceMetadata(m *domain.InvoiceMetadata) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

func marshalGeotag(g *domain.Geotag) ([]byte, error) {
	if g == nil {
		return nil, nil
	}
	return json.Marshal(g)
}

func scanRentalEvent(row pgx.Row) (*domain.RentalEvent, error) {
	var event domain.RentalEvent
	var geotag []byte
	err := row.Scan(&event.ID, &event.RentalID, &event.ActorID, &event.Type, &event.Status, &event.PhotoID, &geotag, &event.CreatedAt)
	if err != nil {
		return nil, err
	}
	if len(geotag) > 0 {
		var g domain.Geotag
		if err := json.Unmarshal(geotag, &g); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event geotag: %w", err)
		}
		event.Geotag = &g
	}
	return &event, nil
}
