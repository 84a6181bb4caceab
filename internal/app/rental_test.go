package app

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/onesitepls/commerce-service/internal/domain"
	"github.com/onesitepls/commerce-service/internal/store"
)

func completedEvent(eventType string) domain.RentalEvent {
	return domain.RentalEvent{Type: eventType, Status: domain.EventStatusCompleted}
}

func TestDeriveActions(t *testing.T) {
	tests := []struct {
		name   string
		status string
		events []domain.RentalEvent
		role   string
		want   []string
	}{
		{
			name:   "renter on confirmed rental starts with the photo",
			status: domain.RentalStatusConfirmed,
			role:   domain.RoleRenter,
			want:   []string{domain.ActionStartPhoto},
		},
		{
			name:   "renter on pending booking can already take the photo",
			status: domain.RentalStatusPendingConfirmation,
			role:   domain.RoleRenter,
			want:   []string{domain.ActionStartPhoto},
		},
		{
			name:   "owner on pending booking confirms pickup after the photo",
			status: domain.RentalStatusPendingConfirmation,
			events: []domain.RentalEvent{completedEvent(domain.EventPhotoStart)},
			role:   domain.RoleOwner,
			want:   []string{domain.ActionConfirmPickup},
		},
		{
			name:   "renter on confirmed rental after photo has nothing left",
			status: domain.RentalStatusConfirmed,
			events: []domain.RentalEvent{completedEvent(domain.EventPhotoStart)},
			role:   domain.RoleRenter,
			want:   nil,
		},
		{
			name:   "renter on active rental gets end photo and micro actions",
			status: domain.RentalStatusActive,
			events: []domain.RentalEvent{completedEvent(domain.EventPhotoStart), completedEvent(domain.EventPickupConfirmed)},
			role:   domain.RoleRenter,
			want:   []string{domain.ActionEndPhoto, domain.ActionDropAnywhere, domain.ActionSOSFuel, domain.ActionSOSEvac},
		},
		{
			name:   "owner confirms pickup only after the start photo",
			status: domain.RentalStatusConfirmed,
			events: []domain.RentalEvent{completedEvent(domain.EventPhotoStart)},
			role:   domain.RoleOwner,
			want:   []string{domain.ActionConfirmPickup},
		},
		{
			name:   "owner cannot confirm pickup before the start photo",
			status: domain.RentalStatusConfirmed,
			role:   domain.RoleOwner,
			want:   nil,
		},
		{
			name:   "owner confirms return only after the end photo",
			status: domain.RentalStatusActive,
			events: []domain.RentalEvent{completedEvent(domain.EventPhotoStart), completedEvent(domain.EventPickupConfirmed), completedEvent(domain.EventPhotoEnd)},
			role:   domain.RoleOwner,
			want:   []string{domain.ActionConfirmReturn},
		},
		{
			name:   "guest sees nothing",
			status: domain.RentalStatusActive,
			role:   domain.RoleGuest,
			want:   nil,
		},
		{
			name:   "completed rental offers nothing",
			status: domain.RentalStatusCompleted,
			events: []domain.RentalEvent{completedEvent(domain.EventReturnConfirmed)},
			role:   domain.RoleRenter,
			want:   nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rental := &domain.Rental{ID: "rent_1", Status: tt.status}
			got := deriveActions(rental, tt.events, tt.role)
			if len(got) != len(tt.want) {
				t.Fatalf("expected actions %v, got %v", tt.want, got)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("expected actions %v, got %v", tt.want, got)
				}
			}
		})
	}
}

type rentalRepoStub struct {
	store.Repository

	rental *domain.Rental
	events []domain.RentalEvent

	appendOnceInserted bool
	appendOnceCalled   bool
	appendedOnce       *domain.RentalEvent

	appendedEvents []*domain.RentalEvent

	statusMoved bool
	statusFrom  string
	statusTo    string

	userState       *domain.UserState
	stateCleared    bool
	geotagCompleted bool
	geotagCalled    bool

	createdInvoice *domain.Invoice
	setState       *domain.UserState
}

func (s *rentalRepoStub) FindRentalByID(ctx context.Context, rentalID string) (*domain.Rental, error) {
	if s.rental == nil {
		return nil, store.ErrRentalNotFound
	}
	return s.rental, nil
}

func (s *rentalRepoStub) ListRentalEvents(ctx context.Context, rentalID string) ([]domain.RentalEvent, error) {
	return s.events, nil
}

func (s *rentalRepoStub) AppendRentalEventOnce(ctx context.Context, event *domain.RentalEvent) (bool, error) {
	s.appendOnceCalled = true
	s.appendedOnce = event
	return s.appendOnceInserted, nil
}

func (s *rentalRepoStub) AppendRentalEvent(ctx context.Context, event *domain.RentalEvent) error {
	s.appendedEvents = append(s.appendedEvents, event)
	return nil
}

func (s *rentalRepoStub) UpdateRentalStatus(ctx context.Context, rentalID, fromStatus, toStatus string) (bool, error) {
	s.statusFrom = fromStatus
	s.statusTo = toStatus
	s.statusMoved = true
	return true, nil
}

func (s *rentalRepoStub) FindUserState(ctx context.Context, userID string) (*domain.UserState, error) {
	if s.userState == nil {
		return nil, store.ErrUserStateNotFound
	}
	return s.userState, nil
}

func (s *rentalRepoStub) ClearUserState(ctx context.Context, userID string) error {
	s.stateCleared = true
	return nil
}

func (s *rentalRepoStub) SetUserState(ctx context.Context, state *domain.UserState) error {
	s.setState = state
	return nil
}

func (s *rentalRepoStub) CompletePendingGeotagEvent(ctx context.Context, rentalID string, geotag domain.Geotag) (bool, error) {
	s.geotagCalled = true
	return s.geotagCompleted, nil
}

func (s *rentalRepoStub) CreateInvoice(ctx context.Context, inv *domain.Invoice) error {
	s.createdInvoice = inv
	return nil
}

func activeRental() *domain.Rental {
	return &domain.Rental{
		ID:       "rent_1",
		OwnerID:  "owner_1",
		RenterID: "renter_1",
		Status:   domain.RentalStatusActive,
	}
}

func confirmedRental() *domain.Rental {
	r := activeRental()
	r.Status = domain.RentalStatusConfirmed
	return r
}

func TestConfirmPickup_OwnerOnly(t *testing.T) {
	repo := &rentalRepoStub{rental: confirmedRental(), events: []domain.RentalEvent{completedEvent(domain.EventPhotoStart)}}
	service := newTestService(repo)

	if _, err := service.ConfirmPickup(context.Background(), "renter_1", "rent_1"); err != ErrUnauthorized {
		t.Fatalf("expected ErrUnauthorized for the renter, got %v", err)
	}
	if _, err := service.ConfirmPickup(context.Background(), "stranger", "rent_1"); err != ErrUnauthorized {
		t.Fatalf("expected ErrUnauthorized for a guest, got %v", err)
	}
	if repo.appendOnceCalled {
		t.Fatal("did not expect any event append for rejected actors")
	}
}

func TestConfirmPickup_RequiresConfirmedStatusAndStartPhoto(t *testing.T) {
	repo := &rentalRepoStub{rental: activeRental(), events: []domain.RentalEvent{completedEvent(domain.EventPhotoStart)}}
	service := newTestService(repo)
	if _, err := service.ConfirmPickup(context.Background(), "owner_1", "rent_1"); err != ErrInvalidTransition {
		t.Fatalf("expected ErrInvalidTransition on active rental, got %v", err)
	}

	repo = &rentalRepoStub{rental: confirmedRental()}
	service = newTestService(repo)
	if _, err := service.ConfirmPickup(context.Background(), "owner_1", "rent_1"); err != ErrInvalidTransition {
		t.Fatalf("expected ErrInvalidTransition without a start photo, got %v", err)
	}
}

func TestConfirmPickup_ActivatesRental(t *testing.T) {
	repo := &rentalRepoStub{
		rental:             confirmedRental(),
		events:             []domain.RentalEvent{completedEvent(domain.EventPhotoStart)},
		appendOnceInserted: true,
	}
	service := newTestService(repo)

	rental, err := service.ConfirmPickup(context.Background(), "owner_1", "rent_1")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if rental.Status != domain.RentalStatusActive {
		t.Fatalf("expected active status, got %q", rental.Status)
	}
	if repo.appendedOnce == nil || repo.appendedOnce.Type != domain.EventPickupConfirmed {
		t.Fatalf("expected a pickup_confirmed event, got %+v", repo.appendedOnce)
	}
	if repo.statusFrom != domain.RentalStatusConfirmed || repo.statusTo != domain.RentalStatusActive {
		t.Fatalf("expected confirmed->active edge, got %s->%s", repo.statusFrom, repo.statusTo)
	}
}

func TestConfirmPickup_LegalFromPendingConfirmation(t *testing.T) {
	rental := confirmedRental()
	rental.Status = domain.RentalStatusPendingConfirmation
	repo := &rentalRepoStub{
		rental:             rental,
		events:             []domain.RentalEvent{completedEvent(domain.EventPhotoStart)},
		appendOnceInserted: true,
	}
	service := newTestService(repo)

	got, err := service.ConfirmPickup(context.Background(), "owner_1", "rent_1")
	if err != nil {
		t.Fatalf("expected pickup confirmation on a pending booking, got %v", err)
	}
	if got.Status != domain.RentalStatusActive {
		t.Fatalf("expected active status, got %q", got.Status)
	}
	if repo.statusFrom != domain.RentalStatusPendingConfirmation || repo.statusTo != domain.RentalStatusActive {
		t.Fatalf("expected pending_confirmation->active edge, got %s->%s", repo.statusFrom, repo.statusTo)
	}
}

func TestConfirmPickup_DoubleTapIsRejected(t *testing.T) {
	repo := &rentalRepoStub{
		rental:             confirmedRental(),
		events:             []domain.RentalEvent{completedEvent(domain.EventPhotoStart)},
		appendOnceInserted: false,
	}
	service := newTestService(repo)

	if _, err := service.ConfirmPickup(context.Background(), "owner_1", "rent_1"); err != ErrAlreadyRecorded {
		t.Fatalf("expected ErrAlreadyRecorded on a duplicate confirmation, got %v", err)
	}
	if repo.statusMoved {
		t.Fatal("did not expect a status edge for a duplicate confirmation")
	}
}

func TestConfirmReturn_CompletesRental(t *testing.T) {
	repo := &rentalRepoStub{
		rental:             activeRental(),
		events:             []domain.RentalEvent{completedEvent(domain.EventPhotoStart), completedEvent(domain.EventPhotoEnd)},
		appendOnceInserted: true,
	}
	service := newTestService(repo)

	rental, err := service.ConfirmReturn(context.Background(), "owner_1", "rent_1")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if rental.Status != domain.RentalStatusCompleted {
		t.Fatalf("expected completed status, got %q", rental.Status)
	}
	if repo.statusFrom != domain.RentalStatusActive || repo.statusTo != domain.RentalStatusCompleted {
		t.Fatalf("expected active->completed edge, got %s->%s", repo.statusFrom, repo.statusTo)
	}
}

func TestConfirmReturn_RequiresEndPhoto(t *testing.T) {
	repo := &rentalRepoStub{
		rental: activeRental(),
		events: []domain.RentalEvent{completedEvent(domain.EventPhotoStart)},
	}
	service := newTestService(repo)

	if _, err := service.ConfirmReturn(context.Background(), "owner_1", "rent_1"); err != ErrInvalidTransition {
		t.Fatalf("expected ErrInvalidTransition without an end photo, got %v", err)
	}
}

func TestAddRentalPhoto_KindGating(t *testing.T) {
	repo := &rentalRepoStub{rental: activeRental()}
	service := newTestService(repo)

	// Start photo on an active rental is too late.
	if err := service.AddRentalPhoto(context.Background(), "renter_1", "rent_1", domain.EventPhotoStart, "file_1"); err != ErrInvalidTransition {
		t.Fatalf("expected ErrInvalidTransition for a late start photo, got %v", err)
	}
	// End photo on an active rental is fine.
	if err := service.AddRentalPhoto(context.Background(), "renter_1", "rent_1", domain.EventPhotoEnd, "file_2"); err != nil {
		t.Fatalf("expected nil error for an end photo, got %v", err)
	}
	if len(repo.appendedEvents) != 1 || repo.appendedEvents[0].Type != domain.EventPhotoEnd {
		t.Fatalf("expected one photo_end event, got %+v", repo.appendedEvents)
	}
	if err := service.AddRentalPhoto(context.Background(), "owner_1", "rent_1", domain.EventPhotoEnd, "file_3"); err != ErrUnauthorized {
		t.Fatalf("expected ErrUnauthorized for the owner, got %v", err)
	}
}

func TestAddRentalPhoto_StartPhotoOnPendingBooking(t *testing.T) {
	rental := confirmedRental()
	rental.Status = domain.RentalStatusPendingConfirmation
	repo := &rentalRepoStub{rental: rental}
	service := newTestService(repo)

	if err := service.AddRentalPhoto(context.Background(), "renter_1", "rent_1", domain.EventPhotoStart, "file_1"); err != nil {
		t.Fatalf("expected the start photo to be accepted before confirmation, got %v", err)
	}
	if len(repo.appendedEvents) != 1 || repo.appendedEvents[0].Type != domain.EventPhotoStart {
		t.Fatalf("expected one photo_start event, got %+v", repo.appendedEvents)
	}
}

func TestAddRentalPhoto_ClosesAwaitingPhotoFlow(t *testing.T) {
	repo := &rentalRepoStub{
		rental: activeRental(),
		userState: &domain.UserState{
			UserID:   "renter_1",
			State:    domain.StateAwaitingRentalPhoto,
			RentalID: "rent_1",
		},
	}
	service := newTestService(repo)

	if err := service.AddRentalPhoto(context.Background(), "renter_1", "rent_1", domain.EventPhotoEnd, "file_1"); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if !repo.stateCleared {
		t.Fatal("expected the awaiting-photo state to be cleared")
	}
}

func TestAttachGeotag_WithoutPendingFlow(t *testing.T) {
	repo := &rentalRepoStub{}
	service := newTestService(repo)

	err := service.AttachGeotag(context.Background(), "renter_1", domain.Geotag{Lat: 6.5, Lng: 3.4})
	if err != ErrStateExpired {
		t.Fatalf("expected ErrStateExpired without a pending flow, got %v", err)
	}
}

func TestAttachGeotag_CompletesPendingEvent(t *testing.T) {
	repo := &rentalRepoStub{
		rental: activeRental(),
		userState: &domain.UserState{
			UserID:   "renter_1",
			State:    domain.StateAwaitingSOSGeotag,
			RentalID: "rent_1",
		},
		geotagCompleted: true,
	}
	service := newTestService(repo)

	if err := service.AttachGeotag(context.Background(), "renter_1", domain.Geotag{Lat: 6.5, Lng: 3.4}); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if !repo.geotagCalled {
		t.Fatal("expected the pending geotag event to be completed")
	}
	if !repo.stateCleared {
		t.Fatal("expected the awaiting-geotag state to be cleared")
	}
}

func TestRequestDropAnywhere_CreatesInvoice(t *testing.T) {
	repo := &rentalRepoStub{rental: activeRental()}
	service := newTestService(repo)

	inv, err := service.RequestDropAnywhere(context.Background(), "renter_1", "rent_1")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if !strings.HasPrefix(inv.ID, "drop_anywhere_rent_1_") {
		t.Fatalf("expected payload-style invoice id, got %q", inv.ID)
	}
	if inv.Type != domain.InvoiceTypeDropAnywhere || inv.Amount != 200 || inv.Currency != "XTR" {
		t.Fatalf("unexpected invoice %+v", inv)
	}
	if repo.createdInvoice == nil || repo.createdInvoice.Metadata.RentalID != "rent_1" {
		t.Fatalf("expected invoice stored with rental metadata, got %+v", repo.createdInvoice)
	}
}

func TestRequestDropAnywhere_RenterAndStatusGating(t *testing.T) {
	repo := &rentalRepoStub{rental: activeRental()}
	service := newTestService(repo)
	if _, err := service.RequestDropAnywhere(context.Background(), "owner_1", "rent_1"); err != ErrUnauthorized {
		t.Fatalf("expected ErrUnauthorized for the owner, got %v", err)
	}

	repo = &rentalRepoStub{rental: confirmedRental()}
	service = newTestService(repo)
	if _, err := service.RequestDropAnywhere(context.Background(), "renter_1", "rent_1"); err != ErrInvalidTransition {
		t.Fatalf("expected ErrInvalidTransition before activation, got %v", err)
	}
}

func TestRequestSOS_PaidKindCreatesInvoice(t *testing.T) {
	repo := &rentalRepoStub{rental: activeRental()}
	service := newTestService(repo)

	inv, err := service.RequestSOS(context.Background(), "renter_1", "rent_1", domain.InvoiceTypeSOSEvac, nil)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if inv == nil || inv.Amount != 500 {
		t.Fatalf("expected evac invoice with the evac fee, got %+v", inv)
	}
	if !strings.HasPrefix(inv.ID, "sos_evac_rent_1_") {
		t.Fatalf("expected payload-style invoice id, got %q", inv.ID)
	}
}

func TestRequestSOS_FreeKindRecordsEventDirectly(t *testing.T) {
	repo := &rentalRepoStub{rental: activeRental()}
	service := newTestService(repo)
	service.cfg.SOSFuelFeeXTR = 0

	inv, err := service.RequestSOS(context.Background(), "renter_1", "rent_1", domain.InvoiceTypeSOSFuel, nil)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if inv != nil {
		t.Fatalf("did not expect an invoice for a free SOS, got %+v", inv)
	}
	if len(repo.appendedEvents) != 1 || repo.appendedEvents[0].Status != domain.EventStatusPendingGeotag {
		t.Fatalf("expected one pending_geotag event, got %+v", repo.appendedEvents)
	}
	if repo.setState == nil || repo.setState.State != domain.StateAwaitingSOSGeotag {
		t.Fatalf("expected awaiting-geotag state, got %+v", repo.setState)
	}
	if repo.setState.ExpiresAt.Before(time.Now().Add(10 * time.Minute)) {
		t.Fatalf("expected an expiry in the future, got %s", repo.setState.ExpiresAt)
	}
}

type countingLimiter struct {
	count int
	err   error
}

func (l *countingLimiter) ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (int, int, error) {
	if l.err != nil {
		return 0, 0, l.err
	}
	l.count++
	return l.count, 60, nil
}

func TestRequestDropAnywhere_RateLimited(t *testing.T) {
	repo := &rentalRepoStub{rental: activeRental()}
	service := newTestService(repo)
	service.cfg.MicroActionRateLimit = 1
	service.limiter = &countingLimiter{}

	if _, err := service.RequestDropAnywhere(context.Background(), "renter_1", "rent_1"); err != nil {
		t.Fatalf("expected first request to pass, got %v", err)
	}
	if _, err := service.RequestDropAnywhere(context.Background(), "renter_1", "rent_1"); err != ErrRateLimited {
		t.Fatalf("expected ErrRateLimited on the second request, got %v", err)
	}
}

func TestRequestDropAnywhere_LimiterOutageFailsOpen(t *testing.T) {
	repo := &rentalRepoStub{rental: activeRental()}
	service := newTestService(repo)
	service.limiter = &countingLimiter{err: errors.New("redis down")}

	if _, err := service.RequestDropAnywhere(context.Background(), "renter_1", "rent_1"); err != nil {
		t.Fatalf("expected limiter outage to fail open, got %v", err)
	}
}
