/**
 * @description
 * This file defines the domain models for the three-level referral program:
 * codes, links, the commission ledger, cached balances, activity points and
 * the read-side projections (stats, leaderboard).
 *
 * @notes
 * - The commission ledger is the source of truth for earnings. The balance
 *   row is a cache that the reconciler can rebuild from the ledger at any
 *   time, so a lost balance increment is recoverable.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Referral depth cap. Links beyond level 3 are never created.
const MaxReferralDepth = 3

// Default commission rates by level, applied as floor(amount * rate). The
// config layer starts from these and allows per-environment overrides.
var ReferralCommissionRates = map[int]float64{
	1: 0.30,
	2: 0.10,
	3: 0.10,
}

// Activity point awards by action.
const (
	ActivityReferralSignup  = "referral_signup"
	ActivitySocialShare     = "social_share"
	ActivityPurchaseMade    = "purchase_made"
	ActivityProfileComplete = "profile_complete"
)

var ActivityPoints = map[string]int{
	ActivityReferralSignup:  100,
	ActivitySocialShare:     50,
	ActivityPurchaseMade:    200,
	ActivityProfileComplete: 25,
}

// Commission ledger statuses.
const (
	CommissionStatusPending = "pending"
	CommissionStatusPaid    = "paid"
)

// ReferralCode maps a shareable code to its owner.
// Maps to the `referral_codes` table.
type ReferralCode struct {
	Code      string    `json:"code"`
	UserID    string    `json:"user_id"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// ReferralLink records that `ReferrerID` stands `Level` steps above `UserID`
// in the referral tree. Maps to the `referral_links` table.
type ReferralLink struct {
	ID         uuid.UUID `json:"id"`
	UserID     string    `json:"user_id"`
	ReferrerID string    `json:"referrer_id"`
	Level      int       `json:"level"` // 1..3
	CreatedAt  time.Time `json:"created_at"`
}

// Commission is one ledger entry crediting a referrer for a buyer's order.
// Maps to the `referral_commissions` table.
type Commission struct {
	ID         uuid.UUID `json:"id"`
	ReferrerID string    `json:"referrer_id"`
	BuyerID    string    `json:"buyer_id"`
	OrderID    string    `json:"order_id"`
	Level      int       `json:"level"`
	Amount     int64     `json:"amount"`
	Status     string    `json:"status"` // 'pending', 'paid'
	CreatedAt  time.Time `json:"created_at"`
}

// ReferralBalance is the cached sum of a referrer's ledger entries.
// Maps to the `referral_balances` table.
type ReferralBalance struct {
	UserID    string    `json:"user_id"`
	Balance   int64     `json:"balance"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ActivityEntry records activity points awarded to a user.
// Maps to the `activity_log` table.
type ActivityEntry struct {
	ID        uuid.UUID `json:"id"`
	UserID    string    `json:"user_id"`
	Action    string    `json:"action"` // e.g. 'referral_signup'
	Points    int       `json:"points"`
	CreatedAt time.Time `json:"created_at"`
}

// ReferralStats is the per-user projection shown in the mini-app.
type ReferralStats struct {
	UserID         string `json:"user_id"`
	Code           string `json:"code"`
	Level1Count    int    `json:"level1_count"`
	Level2Count    int    `json:"level2_count"`
	Level3Count    int    `json:"level3_count"`
	TotalEarned    int64  `json:"total_earned"`
	PendingEarned  int64  `json:"pending_earned"`
	Balance        int64  `json:"balance"`
	ActivityPoints int    `json:"activity_points"`
}

// LeaderboardEntry is one row of the referral leaderboard projection.
type LeaderboardEntry struct {
	UserID        string `json:"user_id"`
	Referrals     int    `json:"referrals"`
	TotalEarned   int64  `json:"total_earned"`
	ActivityScore int    `json:"activity_score"`
}
