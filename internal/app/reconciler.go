/**
 * @description
 * Scheduled maintenance jobs. The balance job rebuilds the referral balance
 * cache from the commission ledger and reports any drift; the sweep job
 * removes expired transient user states.
 */

package app

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/onesitepls/commerce-service/internal/config"
	"github.com/onesitepls/commerce-service/internal/store"
)

// Reconciler owns the cron runner and the jobs it triggers.
type Reconciler struct {
	repo store.Repository
	cron *cron.Cron
	cfg  config.Config
}

// NewReconciler creates the reconciler with a panic-recovering cron chain.
func NewReconciler(repo store.Repository, cfg config.Config) *Reconciler {
	cronLogger := cron.PrintfLogger(log.Default())
	c := cron.New(cron.WithChain(cron.Recover(cronLogger)))
	return &Reconciler{repo: repo, cron: c, cfg: cfg}
}

// Start registers the jobs and starts the cron scheduler.
func (r *Reconciler) Start() {
	if _, err := r.cron.AddFunc(r.cfg.ReconcileSchedule, r.ReconcileReferralBalances); err != nil {
		log.Printf("level=error component=reconciler msg=\"failed to schedule balance job\" schedule=%q err=%v", r.cfg.ReconcileSchedule, err)
	} else {
		log.Printf("level=info component=reconciler msg=\"scheduled balance job\" schedule=%q", r.cfg.ReconcileSchedule)
	}

	if _, err := r.cron.AddFunc(r.cfg.StateExpirySchedule, r.SweepExpiredStates); err != nil {
		log.Printf("level=error component=reconciler msg=\"failed to schedule state sweep job\" schedule=%q err=%v", r.cfg.StateExpirySchedule, err)
	} else {
		log.Printf("level=info component=reconciler msg=\"scheduled state sweep job\" schedule=%q", r.cfg.StateExpirySchedule)
	}

	r.cron.Start()
}

// Stop gracefully stops the cron scheduler.
func (r *Reconciler) Stop() context.Context {
	return r.cron.Stop()
}

// ReconcileReferralBalances rebuilds the cached balances from the ledger.
// The ledger is authoritative; any cache row that disagrees is overwritten.
func (r *Reconciler) ReconcileReferralBalances() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	ledger, err := r.repo.ListLedgerBalances(ctx)
	if err != nil {
		log.Printf("level=error component=reconciler msg=\"failed to read ledger sums\" err=%v", err)
		return
	}
	cached, err := r.repo.ListCachedBalances(ctx)
	if err != nil {
		log.Printf("level=error component=reconciler msg=\"failed to read cached balances\" err=%v", err)
		return
	}

	repaired := 0
	for userID, want := range ledger {
		if got := cached[userID]; got != want {
			log.Printf("level=warn component=reconciler msg=\"balance drift detected\" user_id=%s cached=%d ledger=%d", userID, got, want)
			if err := r.repo.SetReferralBalance(ctx, userID, want); err != nil {
				log.Printf("level=error component=reconciler msg=\"failed to repair balance\" user_id=%s err=%v", userID, err)
				continue
			}
			repaired++
		}
	}
	// Cache rows with no ledger entries are stale credits.
	for userID, got := range cached {
		if _, ok := ledger[userID]; !ok && got != 0 {
			log.Printf("level=warn component=reconciler msg=\"cached balance without ledger entries\" user_id=%s cached=%d", userID, got)
			if err := r.repo.SetReferralBalance(ctx, userID, 0); err != nil {
				log.Printf("level=error component=reconciler msg=\"failed to zero stale balance\" user_id=%s err=%v", userID, err)
				continue
			}
			repaired++
		}
	}

	log.Printf("level=info component=reconciler msg=\"balance reconciliation done\" referrers=%d repaired=%d", len(ledger), repaired)
}

// SweepExpiredStates deletes transient user states whose window has closed.
func (r *Reconciler) SweepExpiredStates() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	deleted, err := r.repo.DeleteExpiredUserStates(ctx, time.Now().UTC())
	if err != nil {
		log.Printf("level=error component=reconciler msg=\"failed to sweep expired states\" err=%v", err)
		return
	}
	if deleted > 0 {
		log.Printf("level=info component=reconciler msg=\"expired states swept\" deleted=%d", deleted)
	}
}
