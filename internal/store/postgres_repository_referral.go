/**
 * @description
 * PostgreSQL queries for the referral program: codes, links, the commission
 * ledger, cached balances, activity points and the leaderboard projection.
 *
 * @notes
 * - The ledger is authoritative. Balance writes are either the incremental
 *   fast path (IncrementReferralBalance) or the reconciler's overwrite
 *   (SetReferralBalance); both target the same upserted row.
 */

package store

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/onesitepls/commerce-service/internal/domain"
)

// CreateReferralCode inserts a code row; existing codes are left untouched so
// the operation is safe to repeat on every profile open.
func (r *PostgresRepository) CreateReferralCode(ctx context.Context, code *domain.ReferralCode) error {
	query := `
		INSERT INTO referral_codes (code, user_id, is_active, created_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (code) DO NOTHING
	`
	_, err := r.db.Exec(ctx, query, code.Code, code.UserID, code.IsActive)
	return err
}

// FindReferralCode resolves a code to its owner. Inactive codes resolve like
// missing ones.
func (r *PostgresRepository) FindReferralCode(ctx context.Context, code string) (*domain.ReferralCode, error) {
	var rc domain.ReferralCode
	query := `SELECT code, user_id, is_active, created_at FROM referral_codes WHERE code = $1 AND is_active = TRUE`
	err := r.db.QueryRow(ctx, query, code).Scan(&rc.Code, &rc.UserID, &rc.IsActive, &rc.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrReferralCodeNotFound
		}
		return nil, err
	}
	return &rc, nil
}

// FindReferralCodeByUser returns the user's own code.
func (r *PostgresRepository) FindReferralCodeByUser(ctx context.Context, userID string) (*domain.ReferralCode, error) {
	var rc domain.ReferralCode
	query := `SELECT code, user_id, is_active, created_at FROM referral_codes WHERE user_id = $1`
	err := r.db.QueryRow(ctx, query, userID).Scan(&rc.Code, &rc.UserID, &rc.IsActive, &rc.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrReferralCodeNotFound
		}
		return nil, err
	}
	return &rc, nil
}

// FindReferralLink returns the user's upline link at the given level.
func (r *PostgresRepository) FindReferralLink(ctx context.Context, userID string, level int) (*domain.ReferralLink, error) {
	var link domain.ReferralLink
	query := `SELECT id, user_id, referrer_id, level, created_at FROM referral_links WHERE user_id = $1 AND level = $2`
	err := r.db.QueryRow(ctx, query, userID, level).Scan(&link.ID, &link.UserID, &link.ReferrerID, &link.Level, &link.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrReferralLinkNotFound
		}
		return nil, err
	}
	return &link, nil
}

// CreateReferralLinkIfAbsent inserts a link only when the user has none at
// that level. Returns false when a link already existed, which keeps the
// referral relationship immutable.
func (r *PostgresRepository) CreateReferralLinkIfAbsent(ctx context.Context, link *domain.ReferralLink) (bool, error) {
	query := `
		INSERT INTO referral_links (id, user_id, referrer_id, level, created_at)
		SELECT $1, $2, $3, $4, NOW()
		WHERE NOT EXISTS (
			SELECT 1 FROM referral_links WHERE user_id = $2 AND level = $4
		)
	`
	result, err := r.db.Exec(ctx, query, link.ID, link.UserID, link.ReferrerID, link.Level)
	if err != nil {
		return false, err
	}
	return result.RowsAffected() > 0, nil
}

// CountReferralsByLevel counts how many users sit below a referrer per level.
func (r *PostgresRepository) CountReferralsByLevel(ctx context.Context, referrerID string) (map[int]int, error) {
	query := `SELECT level, COUNT(*) FROM referral_links WHERE referrer_id = $1 GROUP BY level`
	rows, err := r.db.Query(ctx, query, referrerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[int]int)
	for rows.Next() {
		var level, count int
		if err := rows.Scan(&level, &count); err != nil {
			return nil, err
		}
		counts[level] = count
	}
	return counts, rows.Err()
}

// InsertCommission appends one ledger entry.
func (r *PostgresRepository) InsertCommission(ctx context.Context, c *domain.Commission) error {
	query := `
		INSERT INTO referral_commissions (id, referrer_id, buyer_id, order_id, level, amount, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
	`
	_, err := r.db.Exec(ctx, query, c.ID, c.ReferrerID, c.BuyerID, c.OrderID, c.Level, c.Amount, c.Status)
	return err
}

// IncrementReferralBalance atomically adds to the cached balance, creating
// the row on first credit.
func (r *PostgresRepository) IncrementReferralBalance(ctx context.Context, userID string, delta int64) error {
	query := `
		INSERT INTO referral_balances (user_id, balance, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			balance = referral_balances.balance + EXCLUDED.balance,
			updated_at = NOW()
	`
	_, err := r.db.Exec(ctx, query, userID, delta)
	return err
}

// SumCommissionsByReferrer totals a referrer's ledger, overall and pending.
func (r *PostgresRepository) SumCommissionsByReferrer(ctx context.Context, referrerID string) (int64, int64, error) {
	var total, pending int64
	query := `
		SELECT COALESCE(SUM(amount), 0),
		       COALESCE(SUM(amount) FILTER (WHERE status = 'pending'), 0)
		FROM referral_commissions
		WHERE referrer_id = $1
	`
	err := r.db.QueryRow(ctx, query, referrerID).Scan(&total, &pending)
	if err != nil {
		return 0, 0, err
	}
	return total, pending, nil
}

// ListLedgerBalances sums the ledger per referrer.
func (r *PostgresRepository) ListLedgerBalances(ctx context.Context) (map[string]int64, error) {
	return r.sumByUser(ctx, `SELECT referrer_id, COALESCE(SUM(amount), 0) FROM referral_commissions GROUP BY referrer_id`)
}

// ListCachedBalances returns every cached balance row.
func (r *PostgresRepository) ListCachedBalances(ctx context.Context) (map[string]int64, error) {
	return r.sumByUser(ctx, `SELECT user_id, balance FROM referral_balances`)
}

func (r *PostgresRepository) sumByUser(ctx context.Context, query string) (map[string]int64, error) {
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sums := make(map[string]int64)
	for rows.Next() {
		var userID string
		var amount int64
		if err := rows.Scan(&userID, &amount); err != nil {
			return nil, err
		}
		sums[userID] = amount
	}
	return sums, rows.Err()
}

// SetReferralBalance overwrites the cached balance. Used by the reconciler.
func (r *PostgresRepository) SetReferralBalance(ctx context.Context, userID string, balance int64) error {
	query := `
		INSERT INTO referral_balances (user_id, balance, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			balance = EXCLUDED.balance,
			updated_at = NOW()
	`
	_, err := r.db.Exec(ctx, query, userID, balance)
	return err
}

// GetReferralBalance reads the cached balance, zero when absent.
func (r *PostgresRepository) GetReferralBalance(ctx context.Context, userID string) (int64, error) {
	var balance int64
	err := r.db.QueryRow(ctx, `SELECT balance FROM referral_balances WHERE user_id = $1`, userID).Scan(&balance)
	if err != nil {
		if err == pgx.ErrNoRows {
			return 0, nil
		}
		return 0, err
	}
	return balance, nil
}

// InsertActivity appends one activity-points entry.
func (r *PostgresRepository) InsertActivity(ctx context.Context, entry *domain.ActivityEntry) error {
	query := `
		INSERT INTO activity_log (id, user_id, action, points, created_at)
		VALUES ($1, $2, $3, $4, NOW())
	`
	_, err := r.db.Exec(ctx, query, entry.ID, entry.UserID, entry.Action, entry.Points)
	return err
}

// SumActivityPoints totals a user's activity points.
func (r *PostgresRepository) SumActivityPoints(ctx context.Context, userID string) (int, error) {
	var points int
	err := r.db.QueryRow(ctx, `SELECT COALESCE(SUM(points), 0) FROM activity_log WHERE user_id = $1`, userID).Scan(&points)
	if err != nil {
		return 0, err
	}
	return points, nil
}

// TopReferrers builds the leaderboard: direct referral count, total earned
// and activity score per user, ordered by earnings.
func (r *PostgresRepository) TopReferrers(ctx context.Context, limit int) ([]domain.LeaderboardEntry, error) {
	query := `
		SELECT l.referrer_id,
		       COUNT(*) FILTER (WHERE l.level = 1),
		       COALESCE(c.total, 0),
		       COALESCE(a.points, 0)
		FROM referral_links l
		LEFT JOIN (
			SELECT referrer_id, SUM(amount) AS total FROM referral_commissions GROUP BY referrer_id
		) c ON c.referrer_id = l.referrer_id
		LEFT JOIN (
			SELECT user_id, SUM(points) AS points FROM activity_log GROUP BY user_id
		) a ON a.user_id = l.referrer_id
		GROUP BY l.referrer_id, c.total, a.points
		ORDER BY COALESCE(c.total, 0) DESC, COUNT(*) DESC
		LIMIT $1
	`
	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.LeaderboardEntry
	for rows.Next() {
		var entry domain.LeaderboardEntry
		if err := rows.Scan(&entry.UserID, &entry.Referrals, &entry.TotalEarned, &entry.ActivityScore); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
