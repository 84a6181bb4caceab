/**
 * @description
 * The referral engine: deterministic code generation, establishing the
 * three-level upline on signup, commission settlement against the ledger,
 * activity points and the read-side projections.
 *
 * @notes
 * - The upline is materialized at signup time as one link row per level, so
 *   settlement never has to walk the tree.
 * - Settlement is strictly best-effort. A failed level is logged and skipped;
 *   the ledger can be replayed by the reconciler because the balance cache is
 *   rebuilt from ledger rows.
 */

package app

import (
	"context"
	"fmt"
	"log"
	"math"
	"strings"

	"github.com/google/uuid"
	"github.com/onesitepls/commerce-service/internal/domain"
	"github.com/onesitepls/commerce-service/internal/store"
)

const referralCodePrefix = "BIO30"

// CodeForUser derives a user's referral code from their Telegram id. The
// mapping is deterministic so the code can be regenerated at any time.
func CodeForUser(userID string) string {
	suffix := userID
	if len(suffix) > 6 {
		suffix = suffix[len(suffix)-6:]
	}
	return referralCodePrefix + strings.ToUpper(suffix)
}

// EnsureReferralCode creates the user's code row if missing and returns it.
func (s *Service) EnsureReferralCode(ctx context.Context, userID string) (*domain.ReferralCode, error) {
	code := &domain.ReferralCode{
		Code:     CodeForUser(userID),
		UserID:   userID,
		IsActive: true,
	}
	if err := s.repo.CreateReferralCode(ctx, code); err != nil {
		return nil, fmt.Errorf("failed to ensure referral code for %s: %w", userID, err)
	}
	return s.repo.FindReferralCodeByUser(ctx, userID)
}

// EstablishReferral redeems a referral code for a new user and materializes
// their upline up to three levels, returning how many levels were created.
// The relationship is immutable: a second redemption for the same user fails
// with ErrReferralExists.
func (s *Service) EstablishReferral(ctx context.Context, newUserID, code string) (int, error) {
	rc, err := s.repo.FindReferralCode(ctx, strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		if err == store.ErrReferralCodeNotFound {
			return 0, store.ErrReferralCodeNotFound
		}
		return 0, fmt.Errorf("failed to resolve referral code: %w", err)
	}
	if rc.UserID == newUserID {
		return 0, ErrSelfReferral
	}

	if _, err := s.repo.FindReferralLink(ctx, newUserID, 1); err == nil {
		return 0, ErrReferralExists
	} else if err != store.ErrReferralLinkNotFound {
		return 0, fmt.Errorf("failed to check existing referral link: %w", err)
	}

	created, err := s.repo.CreateReferralLinkIfAbsent(ctx, &domain.ReferralLink{
		ID:         uuid.New(),
		UserID:     newUserID,
		ReferrerID: rc.UserID,
		Level:      1,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to create level 1 referral link: %w", err)
	}
	if !created {
		return 0, ErrReferralExists
	}
	levels := 1

	// Walk the upline by following the referrer's own level-1 link, one
	// level at a time, up to the depth cap.
	upline := rc.UserID
	for level := 2; level <= domain.MaxReferralDepth; level++ {
		parent, err := s.repo.FindReferralLink(ctx, upline, 1)
		if err == store.ErrReferralLinkNotFound {
			break
		}
		if err != nil {
			return levels, fmt.Errorf("failed to walk upline at level %d: %w", level, err)
		}
		if parent.ReferrerID == newUserID {
			// A cycle would credit the new user for their own signup.
			break
		}
		created, err := s.repo.CreateReferralLinkIfAbsent(ctx, &domain.ReferralLink{
			ID:         uuid.New(),
			UserID:     newUserID,
			ReferrerID: parent.ReferrerID,
			Level:      level,
		})
		if err != nil {
			return levels, fmt.Errorf("failed to create level %d referral link: %w", level, err)
		}
		if created {
			levels++
		}
		upline = parent.ReferrerID
	}

	s.AwardActivity(ctx, rc.UserID, domain.ActivityReferralSignup)
	s.notifier.NotifyUser(ctx, rc.UserID, "referral_signup",
		"Someone joined with your referral code. You now earn on their purchases. 🚀", nil)

	log.Printf("level=info component=referral msg=\"referral established\" user_id=%s referrer_id=%s levels=%d", newUserID, rc.UserID, levels)
	return levels, nil
}

// SettleCommissions credits the buyer's upline for a settled order. Each
// level is independent: a failure is logged and the next level still runs.
func (s *Service) SettleCommissions(ctx context.Context, orderID, buyerID string, amount int64) error {
	if amount <= 0 {
		return nil
	}

	var firstErr error
	for level := 1; level <= domain.MaxReferralDepth; level++ {
		link, err := s.repo.FindReferralLink(ctx, buyerID, level)
		if err == store.ErrReferralLinkNotFound {
			break
		}
		if err != nil {
			log.Printf("level=error component=referral msg=\"failed to load referral link\" buyer_id=%s level=%d err=%v", buyerID, level, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		commission := int64(math.Floor(float64(amount) * s.rateForLevel(level)))
		if commission <= 0 {
			log.Printf("level=info component=referral msg=\"commission rounds to zero; skipping\" order_id=%s level=%d amount=%d", orderID, level, amount)
			continue
		}

		entry := &domain.Commission{
			ID:         uuid.New(),
			ReferrerID: link.ReferrerID,
			BuyerID:    buyerID,
			OrderID:    orderID,
			Level:      level,
			Amount:     commission,
			Status:     domain.CommissionStatusPending,
		}
		if err := s.repo.InsertCommission(ctx, entry); err != nil {
			log.Printf("level=error component=referral msg=\"failed to insert commission\" order_id=%s referrer_id=%s level=%d amount=%d err=%v",
				orderID, link.ReferrerID, level, commission, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if err := s.repo.IncrementReferralBalance(ctx, link.ReferrerID, commission); err != nil {
			// The ledger row exists; the reconciler will repair the cache.
			log.Printf("level=error component=referral msg=\"failed to increment balance; reconciler will repair\" referrer_id=%s amount=%d err=%v",
				link.ReferrerID, commission, err)
			if firstErr == nil {
				firstErr = err
			}
		}
		log.Printf("level=info component=referral msg=\"commission settled\" order_id=%s referrer_id=%s level=%d amount=%d", orderID, link.ReferrerID, level, commission)
	}
	return firstErr
}

func (s *Service) rateForLevel(level int) float64 {
	switch level {
	case 1:
		return s.cfg.ReferralLevel1Rate
	case 2:
		return s.cfg.ReferralLevel2Rate
	case 3:
		return s.cfg.ReferralLevel3Rate
	default:
		return 0
	}
}

// AwardActivity appends an activity-points entry, best effort.
func (s *Service) AwardActivity(ctx context.Context, userID, action string) {
	points, ok := domain.ActivityPoints[action]
	if !ok {
		log.Printf("level=warn component=referral msg=\"unknown activity action\" user_id=%s action=%s", userID, action)
		return
	}
	entry := &domain.ActivityEntry{
		ID:     uuid.New(),
		UserID: userID,
		Action: action,
		Points: points,
	}
	if err := s.repo.InsertActivity(ctx, entry); err != nil {
		log.Printf("level=error component=referral msg=\"failed to record activity\" user_id=%s action=%s err=%v", userID, action, err)
	}
}

// ReferralStats builds the per-user projection for the mini-app.
func (s *Service) ReferralStats(ctx context.Context, userID string) (*domain.ReferralStats, error) {
	code, err := s.EnsureReferralCode(ctx, userID)
	if err != nil {
		return nil, err
	}
	counts, err := s.repo.CountReferralsByLevel(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to count referrals for %s: %w", userID, err)
	}
	total, pending, err := s.repo.SumCommissionsByReferrer(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to sum commissions for %s: %w", userID, err)
	}
	balance, err := s.repo.GetReferralBalance(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to read balance for %s: %w", userID, err)
	}
	points, err := s.repo.SumActivityPoints(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to sum activity points for %s: %w", userID, err)
	}
	return &domain.ReferralStats{
		UserID:         userID,
		Code:           code.Code,
		Level1Count:    counts[1],
		Level2Count:    counts[2],
		Level3Count:    counts[3],
		TotalEarned:    total,
		PendingEarned:  pending,
		Balance:        balance,
		ActivityPoints: points,
	}, nil
}

// Leaderboard returns the top referrers projection.
func (s *Service) Leaderboard(ctx context.Context, limit int) ([]domain.LeaderboardEntry, error) {
	if limit <= 0 || limit > 100 {
		limit = 10
	}
	return s.repo.TopReferrers(ctx, limit)
}
