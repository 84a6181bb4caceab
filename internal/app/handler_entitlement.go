/**
 * @description
 * Effect handler for protocard purchases. The protocard is a one-time
 * entitlement flag on the user row that unlocks member pricing in the
 * mini-app storefront.
 */

package app

import (
	"context"
	"fmt"

	"github.com/onesitepls/commerce-service/internal/domain"
)

type entitlementHandler struct{}

func (h *entitlementHandler) Name() string { return "entitlement" }

func (h *entitlementHandler) CanHandle(inv *domain.Invoice, rawPayload string) bool {
	return matchesKind(inv, rawPayload, []string{domain.InvoiceTypeProtocard}, []string{"protocard_"})
}

func (h *entitlementHandler) Handle(ctx context.Context, s *Service, inv *domain.Invoice, payer *domain.User, conf domain.PaymentConfirmation) error {
	// The buyer may have paid without ever opening the bot. Make sure the
	// user row exists so the flag has somewhere to land.
	if err := s.repo.UpsertUser(ctx, payer); err != nil {
		return fmt.Errorf("failed to upsert payer %s: %w", conf.PayerID, err)
	}
	if err := s.repo.SetUserProtocard(ctx, conf.PayerID, true); err != nil {
		return fmt.Errorf("failed to grant protocard to %s: %w", conf.PayerID, err)
	}

	s.AwardActivity(ctx, conf.PayerID, domain.ActivityPurchaseMade)
	s.notifier.NotifyUser(ctx, conf.PayerID, "protocard_granted",
		"Your protocard is active. Member pricing is now unlocked. 🎉", nil)
	return nil
}
