package app

import (
	"context"
	"testing"
	"time"

	"github.com/onesitepls/commerce-service/internal/domain"
	"github.com/onesitepls/commerce-service/internal/store"
	"github.com/onesitepls/commerce-service/pkg/botclient"
)

// countingSender records every outbound chat message.
type countingSender struct {
	chatIDs []string
}

func (s *countingSender) SendMessage(ctx context.Context, chatID, text string, buttons [][]botclient.InlineButton) error {
	s.chatIDs = append(s.chatIDs, chatID)
	return nil
}

func TestMatchesKind(t *testing.T) {
	tests := []struct {
		name       string
		invType    string
		rawPayload string
		types      []string
		prefixes   []string
		want       bool
	}{
		{
			name:    "type tag match",
			invType: domain.InvoiceTypeCarRental,
			types:   []string{domain.InvoiceTypeCarRental},
			want:    true,
		},
		{
			name:       "legacy prefix match when untyped",
			invType:    "",
			rawPayload: "rental_abc123",
			types:      []string{domain.InvoiceTypeCarRental},
			prefixes:   []string{"rental_"},
			want:       true,
		},
		{
			name:       "prefix ignored when type tag present",
			invType:    domain.InvoiceTypeDonation,
			rawPayload: "rental_abc123",
			types:      []string{domain.InvoiceTypeCarRental},
			prefixes:   []string{"rental_"},
			want:       false,
		},
		{
			name:       "no match",
			invType:    "",
			rawPayload: "something_else",
			types:      []string{domain.InvoiceTypeCarRental},
			prefixes:   []string{"rental_"},
			want:       false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv := &domain.Invoice{Type: tt.invType}
			got := matchesKind(inv, tt.rawPayload, tt.types, tt.prefixes)
			if got != tt.want {
				t.Fatalf("expected match=%t, got %t", tt.want, got)
			}
		})
	}
}

type rentalOrderRepoStub struct {
	store.Repository

	rental        *domain.Rental
	confirmErr    error
	confirmCalled bool

	createCalled bool
	createParams domain.CreateRentalParams

	activityActions []string
	links           map[int]*domain.ReferralLink
	commissions     []*domain.Commission
}

func (s *rentalOrderRepoStub) ConfirmRentalInterest(ctx context.Context, rentalID string) (*domain.Rental, error) {
	s.confirmCalled = true
	if s.confirmErr != nil {
		err := s.confirmErr
		s.confirmErr = nil
		return nil, err
	}
	s.rental.PaymentStatus = domain.RentalPaymentInterestPaid
	if s.rental.Status == domain.RentalStatusPendingConfirmation {
		s.rental.Status = domain.RentalStatusConfirmed
	}
	return s.rental, nil
}

func (s *rentalOrderRepoStub) CreateRental(ctx context.Context, params domain.CreateRentalParams) (*domain.Rental, error) {
	s.createCalled = true
	s.createParams = params
	s.rental = &domain.Rental{
		ID:            params.ID,
		OwnerID:       params.OwnerID,
		RenterID:      params.RenterID,
		VehicleSlug:   params.VehicleSlug,
		Status:        domain.RentalStatusPendingConfirmation,
		PaymentStatus: domain.RentalPaymentPending,
	}
	return s.rental, nil
}

func (s *rentalOrderRepoStub) SetRentalPaymentStatus(ctx context.Context, rentalID, paymentStatus string) error {
	if s.rental == nil || s.rental.ID != rentalID {
		return store.ErrRentalNotFound
	}
	s.rental.PaymentStatus = paymentStatus
	return nil
}

func (s *rentalOrderRepoStub) FindReferralLink(ctx context.Context, userID string, level int) (*domain.ReferralLink, error) {
	if link, ok := s.links[level]; ok {
		return link, nil
	}
	return nil, store.ErrReferralLinkNotFound
}

func (s *rentalOrderRepoStub) InsertCommission(ctx context.Context, c *domain.Commission) error {
	s.commissions = append(s.commissions, c)
	return nil
}

func (s *rentalOrderRepoStub) IncrementReferralBalance(ctx context.Context, userID string, delta int64) error {
	return nil
}

func (s *rentalOrderRepoStub) InsertActivity(ctx context.Context, entry *domain.ActivityEntry) error {
	s.activityActions = append(s.activityActions, entry.Action)
	return nil
}

func TestRentalOrderHandler_ConfirmsInterestAndAwardsActivity(t *testing.T) {
	repo := &rentalOrderRepoStub{
		rental: &domain.Rental{
			ID:            "rent_1",
			OwnerID:       "owner_1",
			RenterID:      "renter_1",
			Status:        domain.RentalStatusConfirmed,
			PaymentStatus: domain.RentalPaymentInterestPaid,
		},
	}
	service := newTestService(repo)

	inv := &domain.Invoice{
		ID:       "rental_rent_1_" + time.Now().Format("20060102"),
		Type:     domain.InvoiceTypeCarRental,
		Metadata: &domain.InvoiceMetadata{RentalID: "rent_1"},
	}
	conf := domain.PaymentConfirmation{InvoiceID: inv.ID, PayerID: "renter_1", Amount: 1000, Currency: "XTR"}

	handler := &rentalOrderHandler{}
	if err := handler.Handle(context.Background(), service, inv, &domain.User{ID: "renter_1"}, conf); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if !repo.confirmCalled {
		t.Fatal("expected interest confirmation")
	}
	if len(repo.activityActions) != 1 || repo.activityActions[0] != domain.ActivityPurchaseMade {
		t.Fatalf("expected purchase_made activity, got %v", repo.activityActions)
	}
}

func TestRentalOrderHandler_CreatesRentalWhenBookingMissing(t *testing.T) {
	repo := &rentalOrderRepoStub{confirmErr: store.ErrRentalNotFound}
	sender := &countingSender{}
	service := newTestService(repo)
	service.notifier = NewNotifier(sender, nil, "commerce.events", "", "https://t.me/testbot/app")

	inv := &domain.Invoice{
		ID:   "rental_rent_2_1",
		Type: domain.InvoiceTypeCarRental,
		Metadata: &domain.InvoiceMetadata{
			RentalID:    "rent_2",
			OwnerID:     "owner_2",
			VehicleSlug: "bike-alpha",
		},
	}
	conf := domain.PaymentConfirmation{InvoiceID: inv.ID, PayerID: "renter_2", Amount: 500, Currency: "XTR"}

	handler := &rentalOrderHandler{}
	if err := handler.Handle(context.Background(), service, inv, &domain.User{ID: "renter_2"}, conf); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if !repo.createCalled {
		t.Fatal("expected a booking to be created from the paid order")
	}
	if repo.createParams.RenterID != "renter_2" {
		t.Fatalf("expected payer as renter, got %q", repo.createParams.RenterID)
	}
	if repo.createParams.OwnerID != "owner_2" || repo.createParams.VehicleSlug != "bike-alpha" {
		t.Fatalf("expected owner and vehicle carried from invoice metadata, got %+v", repo.createParams)
	}
	if repo.rental.Status != domain.RentalStatusPendingConfirmation {
		t.Fatalf("expected the fresh booking to stay pending_confirmation, got %q", repo.rental.Status)
	}
	if repo.rental.PaymentStatus != domain.RentalPaymentInterestPaid {
		t.Fatalf("expected payment_status interest_paid, got %q", repo.rental.PaymentStatus)
	}
	if len(sender.chatIDs) != 2 || sender.chatIDs[0] != "renter_2" || sender.chatIDs[1] != "owner_2" {
		t.Fatalf("expected exactly two notifications (renter then owner), got %v", sender.chatIDs)
	}
}

func TestRentalOrderHandler_PromotesExistingPendingBooking(t *testing.T) {
	repo := &rentalOrderRepoStub{
		rental: &domain.Rental{
			ID:            "rent_5",
			OwnerID:       "owner_5",
			RenterID:      "renter_5",
			Status:        domain.RentalStatusPendingConfirmation,
			PaymentStatus: domain.RentalPaymentPending,
		},
	}
	service := newTestService(repo)

	inv := &domain.Invoice{
		ID:       "rental_rent_5_1",
		Type:     domain.InvoiceTypeCarRental,
		Metadata: &domain.InvoiceMetadata{RentalID: "rent_5"},
	}
	conf := domain.PaymentConfirmation{InvoiceID: inv.ID, PayerID: "renter_5", Amount: 500, Currency: "XTR"}

	handler := &rentalOrderHandler{}
	if err := handler.Handle(context.Background(), service, inv, &domain.User{ID: "renter_5"}, conf); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if repo.createCalled {
		t.Fatal("did not expect a second booking row")
	}
	if repo.rental.Status != domain.RentalStatusConfirmed {
		t.Fatalf("expected the pre-existing booking promoted to confirmed, got %q", repo.rental.Status)
	}
}

func TestRentalOrderHandler_RequiresRentalIDInMetadata(t *testing.T) {
	repo := &rentalOrderRepoStub{}
	service := newTestService(repo)

	inv := &domain.Invoice{ID: "rental_untagged", Type: domain.InvoiceTypeCarRental}
	conf := domain.PaymentConfirmation{InvoiceID: inv.ID, PayerID: "renter_3"}

	handler := &rentalOrderHandler{}
	if err := handler.Handle(context.Background(), service, inv, &domain.User{ID: "renter_3"}, conf); err == nil {
		t.Fatal("expected error when metadata carries no rental id")
	}
	if repo.confirmCalled {
		t.Fatal("did not expect interest confirmation without a rental id")
	}
}
