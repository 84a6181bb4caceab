package app

import (
	"context"
	"testing"

	"github.com/onesitepls/commerce-service/internal/domain"
	"github.com/onesitepls/commerce-service/internal/store"
)

func TestCodeForUser(t *testing.T) {
	tests := []struct {
		name   string
		userID string
		want   string
	}{
		{name: "long telegram id uses last six digits", userID: "123456789", want: "BIO30456789"},
		{name: "short id is used whole", userID: "42", want: "BIO3042"},
		{name: "alphanumeric id is uppercased", userID: "user_ab12cd", want: "BIO30AB12CD"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CodeForUser(tt.userID)
			if got != tt.want {
				t.Fatalf("expected code %q, got %q", tt.want, got)
			}
		})
	}
}

// referralRepoStub keys links by "userID/level" so one stub serves both the
// upline walk at signup and the settlement lookup.
type referralRepoStub struct {
	store.Repository

	codes map[string]*domain.ReferralCode // by code
	links map[string]map[int]*domain.ReferralLink

	createdLinks    []*domain.ReferralLink
	commissions     []*domain.Commission
	balanceDeltas   map[string]int64
	activityActions []string
	commissionErr   error
}

func newReferralRepoStub() *referralRepoStub {
	return &referralRepoStub{
		codes:         map[string]*domain.ReferralCode{},
		links:         map[string]map[int]*domain.ReferralLink{},
		balanceDeltas: map[string]int64{},
	}
}

func (s *referralRepoStub) addLink(userID string, level int, referrerID string) {
	if s.links[userID] == nil {
		s.links[userID] = map[int]*domain.ReferralLink{}
	}
	s.links[userID][level] = &domain.ReferralLink{UserID: userID, ReferrerID: referrerID, Level: level}
}

func (s *referralRepoStub) FindReferralCode(ctx context.Context, code string) (*domain.ReferralCode, error) {
	if rc, ok := s.codes[code]; ok {
		return rc, nil
	}
	return nil, store.ErrReferralCodeNotFound
}

func (s *referralRepoStub) FindReferralLink(ctx context.Context, userID string, level int) (*domain.ReferralLink, error) {
	if link, ok := s.links[userID][level]; ok {
		return link, nil
	}
	return nil, store.ErrReferralLinkNotFound
}

func (s *referralRepoStub) CreateReferralLinkIfAbsent(ctx context.Context, link *domain.ReferralLink) (bool, error) {
	if _, exists := s.links[link.UserID][link.Level]; exists {
		return false, nil
	}
	s.addLink(link.UserID, link.Level, link.ReferrerID)
	s.createdLinks = append(s.createdLinks, link)
	return true, nil
}

func (s *referralRepoStub) InsertCommission(ctx context.Context, c *domain.Commission) error {
	if s.commissionErr != nil {
		return s.commissionErr
	}
	s.commissions = append(s.commissions, c)
	return nil
}

func (s *referralRepoStub) IncrementReferralBalance(ctx context.Context, userID string, delta int64) error {
	s.balanceDeltas[userID] += delta
	return nil
}

func (s *referralRepoStub) InsertActivity(ctx context.Context, entry *domain.ActivityEntry) error {
	s.activityActions = append(s.activityActions, entry.Action)
	return nil
}

func TestEstablishReferral_MaterializesThreeLevels(t *testing.T) {
	repo := newReferralRepoStub()
	// great-grandparent <- grandparent <- parent, and the parent's code is redeemed.
	repo.codes["BIO30PARENT"] = &domain.ReferralCode{Code: "BIO30PARENT", UserID: "parent", IsActive: true}
	repo.addLink("parent", 1, "grandparent")
	repo.addLink("grandparent", 1, "great_grandparent")
	service := newTestService(repo)

	levels, err := service.EstablishReferral(context.Background(), "newbie", "bio30parent")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if levels != 3 {
		t.Fatalf("expected 3 levels established, got %d", levels)
	}

	if len(repo.createdLinks) != 3 {
		t.Fatalf("expected 3 link rows, got %d", len(repo.createdLinks))
	}
	wantReferrers := map[int]string{1: "parent", 2: "grandparent", 3: "great_grandparent"}
	for _, link := range repo.createdLinks {
		if link.UserID != "newbie" {
			t.Fatalf("expected link for newbie, got %q", link.UserID)
		}
		if wantReferrers[link.Level] != link.ReferrerID {
			t.Fatalf("expected level %d referrer %q, got %q", link.Level, wantReferrers[link.Level], link.ReferrerID)
		}
	}
	if len(repo.activityActions) != 1 || repo.activityActions[0] != domain.ActivityReferralSignup {
		t.Fatalf("expected referral_signup activity for the direct referrer, got %v", repo.activityActions)
	}
}

func TestEstablishReferral_StopsAtUplineEnd(t *testing.T) {
	repo := newReferralRepoStub()
	repo.codes["BIO30ROOT"] = &domain.ReferralCode{Code: "BIO30ROOT", UserID: "root", IsActive: true}
	service := newTestService(repo)

	levels, err := service.EstablishReferral(context.Background(), "first_child", "BIO30ROOT")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if levels != 1 {
		t.Fatalf("expected 1 level established, got %d", levels)
	}
	if len(repo.createdLinks) != 1 {
		t.Fatalf("expected a single level 1 link for a root referrer, got %d", len(repo.createdLinks))
	}
}

func TestEstablishReferral_RejectsOwnCode(t *testing.T) {
	repo := newReferralRepoStub()
	repo.codes["BIO30SELF"] = &domain.ReferralCode{Code: "BIO30SELF", UserID: "selfish", IsActive: true}
	service := newTestService(repo)

	_, err := service.EstablishReferral(context.Background(), "selfish", "BIO30SELF")
	if err != ErrSelfReferral {
		t.Fatalf("expected ErrSelfReferral, got %v", err)
	}
	if len(repo.createdLinks) != 0 {
		t.Fatal("did not expect any link rows for a self referral")
	}
}

func TestEstablishReferral_RelationshipIsImmutable(t *testing.T) {
	repo := newReferralRepoStub()
	repo.codes["BIO30OTHER"] = &domain.ReferralCode{Code: "BIO30OTHER", UserID: "other", IsActive: true}
	repo.addLink("settled", 1, "original_referrer")
	service := newTestService(repo)

	_, err := service.EstablishReferral(context.Background(), "settled", "BIO30OTHER")
	if err != ErrReferralExists {
		t.Fatalf("expected ErrReferralExists, got %v", err)
	}
	if len(repo.createdLinks) != 0 {
		t.Fatal("did not expect the established referrer to be replaced")
	}
}

func TestEstablishReferral_UnknownCode(t *testing.T) {
	repo := newReferralRepoStub()
	service := newTestService(repo)

	_, err := service.EstablishReferral(context.Background(), "lost", "BIO30NOPE")
	if err != store.ErrReferralCodeNotFound {
		t.Fatalf("expected ErrReferralCodeNotFound, got %v", err)
	}
}

func TestSettleCommissions_ThreeLevelSplit(t *testing.T) {
	repo := newReferralRepoStub()
	repo.addLink("buyer", 1, "level1")
	repo.addLink("buyer", 2, "level2")
	repo.addLink("buyer", 3, "level3")
	service := newTestService(repo)

	if err := service.SettleCommissions(context.Background(), "order_1", "buyer", 1000); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}

	if len(repo.commissions) != 3 {
		t.Fatalf("expected 3 ledger entries, got %d", len(repo.commissions))
	}
	wantAmounts := map[string]int64{"level1": 300, "level2": 100, "level3": 100}
	for _, c := range repo.commissions {
		if wantAmounts[c.ReferrerID] != c.Amount {
			t.Fatalf("expected %d for %s, got %d", wantAmounts[c.ReferrerID], c.ReferrerID, c.Amount)
		}
		if c.Status != domain.CommissionStatusPending {
			t.Fatalf("expected pending status, got %q", c.Status)
		}
	}
	for referrer, want := range wantAmounts {
		if repo.balanceDeltas[referrer] != want {
			t.Fatalf("expected balance delta %d for %s, got %d", want, referrer, repo.balanceDeltas[referrer])
		}
	}
}

func TestSettleCommissions_FloorsAndSkipsZero(t *testing.T) {
	repo := newReferralRepoStub()
	repo.addLink("buyer", 1, "level1")
	repo.addLink("buyer", 2, "level2")
	service := newTestService(repo)

	// 30% of 5 floors to 1; 10% of 5 floors to 0 and is skipped.
	if err := service.SettleCommissions(context.Background(), "order_small", "buyer", 5); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if len(repo.commissions) != 1 {
		t.Fatalf("expected only the level 1 entry, got %d", len(repo.commissions))
	}
	if repo.commissions[0].ReferrerID != "level1" || repo.commissions[0].Amount != 1 {
		t.Fatalf("expected floored level 1 commission of 1, got %+v", repo.commissions[0])
	}
	if _, credited := repo.balanceDeltas["level2"]; credited {
		t.Fatal("did not expect a balance credit for a zero commission")
	}
}

func TestSettleCommissions_NoUplineIsNoOp(t *testing.T) {
	repo := newReferralRepoStub()
	service := newTestService(repo)

	if err := service.SettleCommissions(context.Background(), "order_lonely", "buyer", 1000); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if len(repo.commissions) != 0 {
		t.Fatal("did not expect ledger entries for a buyer with no upline")
	}
}

func TestSettleCommissions_LedgerErrorDoesNotStopOtherLevels(t *testing.T) {
	repo := newReferralRepoStub()
	repo.addLink("buyer", 1, "level1")
	repo.addLink("buyer", 2, "level2")
	repo.commissionErr = context.DeadlineExceeded
	service := newTestService(repo)

	err := service.SettleCommissions(context.Background(), "order_2", "buyer", 1000)
	if err == nil {
		t.Fatal("expected the first ledger error to be reported")
	}
	if len(repo.balanceDeltas) != 0 {
		t.Fatal("did not expect balance credits when ledger inserts fail")
	}
}
