/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract for all
 * data access operations required by the commerce-service. By defining an interface,
 * we decouple the application's business logic from the specific database implementation
 * (e.g., PostgreSQL), making the code more modular and easier to test.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID handling.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/onesitepls/commerce-service/internal/domain"
)

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// User methods
	FindUserByID(ctx context.Context, userID string) (*domain.User, error)
	UpsertUser(ctx context.Context, user *domain.User) error
	SetUserProtocard(ctx context.Context, userID string, has bool) error

	// Invoice methods
	CreateInvoice(ctx context.Context, inv *domain.Invoice) error
	FindInvoiceByID(ctx context.Context, invoiceID string) (*domain.Invoice, error)
	// MarkInvoicePaid performs the conditional settlement write. It returns
	// false when the invoice was already paid, which makes the caller the
	// loser of a replay or a concurrent delivery.
	MarkInvoicePaid(ctx context.Context, invoiceID string, paidAt time.Time) (bool, error)

	// Rental methods
	CreateRental(ctx context.Context, params domain.CreateRentalParams) (*domain.Rental, error)
	FindRentalByID(ctx context.Context, rentalID string) (*domain.Rental, error)
	// FindCurrentRentalForUser returns the user's most relevant rental,
	// preferring active over confirmed over pending_confirmation.
	FindCurrentRentalForUser(ctx context.Context, userID string) (*domain.Rental, error)
	// ConfirmRentalInterest flips payment_status to interest_paid and, when
	// the rental is still pending_confirmation, promotes it to confirmed.
	ConfirmRentalInterest(ctx context.Context, rentalID string) (*domain.Rental, error)
	// SetRentalPaymentStatus writes payment_status without touching the
	// lifecycle status.
	SetRentalPaymentStatus(ctx context.Context, rentalID, paymentStatus string) error
	UpdateRentalStatus(ctx context.Context, rentalID, fromStatus, toStatus string) (bool, error)

	// Rental event methods
	ListRentalEvents(ctx context.Context, rentalID string) ([]domain.RentalEvent, error)
	AppendRentalEvent(ctx context.Context, event *domain.RentalEvent) error
	// AppendRentalEventOnce inserts only when no event of the same type
	// exists for the rental yet. Returns false when a duplicate was found.
	AppendRentalEventOnce(ctx context.Context, event *domain.RentalEvent) (bool, error)
	// CompletePendingGeotagEvent attaches a geotag to the newest
	// pending_geotag event of the rental and marks it completed.
	CompletePendingGeotagEvent(ctx context.Context, rentalID string, geotag domain.Geotag) (bool, error)

	// User state methods
	SetUserState(ctx context.Context, state *domain.UserState) error
	// FindUserState ignores expired rows.
	FindUserState(ctx context.Context, userID string) (*domain.UserState, error)
	ClearUserState(ctx context.Context, userID string) error
	DeleteExpiredUserStates(ctx context.Context, now time.Time) (int64, error)

	// Referral methods
	CreateReferralCode(ctx context.Context, code *domain.ReferralCode) error
	FindReferralCode(ctx context.Context, code string) (*domain.ReferralCode, error)
	FindReferralCodeByUser(ctx context.Context, userID string) (*domain.ReferralCode, error)
	FindReferralLink(ctx context.Context, userID string, level int) (*domain.ReferralLink, error)
	// CreateReferralLinkIfAbsent enforces link immutability: it inserts only
	// when the user has no link at that level yet.
	CreateReferralLinkIfAbsent(ctx context.Context, link *domain.ReferralLink) (bool, error)
	CountReferralsByLevel(ctx context.Context, referrerID string) (map[int]int, error)
	InsertCommission(ctx context.Context, c *domain.Commission) error
	IncrementReferralBalance(ctx context.Context, userID string, delta int64) error
	SumCommissionsByReferrer(ctx context.Context, referrerID string) (total int64, pending int64, err error)
	// ListLedgerBalances sums the commission ledger per referrer, for the
	// reconciler to compare against the cached balances.
	ListLedgerBalances(ctx context.Context) (map[string]int64, error)
	ListCachedBalances(ctx context.Context) (map[string]int64, error)
	SetReferralBalance(ctx context.Context, userID string, balance int64) error
	GetReferralBalance(ctx context.Context, userID string) (int64, error)
	InsertActivity(ctx context.Context, entry *domain.ActivityEntry) error
	SumActivityPoints(ctx context.Context, userID string) (int, error)
	TopReferrers(ctx context.Context, limit int) ([]domain.LeaderboardEntry, error)

	// Crew and shift methods
	FindCrewMemberByUser(ctx context.Context, userID string) (*domain.CrewMember, error)
	UpdateCrewLiveStatus(ctx context.Context, memberID uuid.UUID, fromStatuses []string, toStatus string, clearLocation bool) (bool, error)
	UpdateCrewLocation(ctx context.Context, memberID uuid.UUID, geotag domain.Geotag) error
	FindOpenShift(ctx context.Context, memberID uuid.UUID) (*domain.Shift, error)
	OpenShift(ctx context.Context, shift *domain.Shift) error
	CloseShift(ctx context.Context, shiftID uuid.UUID, clockOut time.Time) (*domain.Shift, error)
}
