/**
 * @description
 * This file contains the core application service for the commerce-service.
 * The `Service` struct wires the repository, the notifier and the event
 * producer together and hosts the entry points that the API layer and the
 * queue consumer call into.
 *
 * Key features:
 * - Payment ingress with exactly-once settlement and handler dispatch.
 * - Three-level referral commissions over an append-only ledger.
 * - Rental lifecycle transitions driven by the rental event log.
 * - Crew shift clock-in/clock-out state machine.
 *
 * @dependencies
 * - context, errors, time: Standard Go libraries.
 * - internal/config, internal/store: Runtime settings and data access.
 * - pkg/rabbitmq: Event publishing.
 */

package app

import (
	"context"
	"errors"
	"time"

	"github.com/onesitepls/commerce-service/internal/config"
	"github.com/onesitepls/commerce-service/internal/store"
	"github.com/onesitepls/commerce-service/pkg/rabbitmq"
)

var (
	// ErrUnauthorized marks a role or ownership rejection. It is expected
	// traffic and never alerts the operator.
	ErrUnauthorized = errors.New("actor is not permitted to perform this action")
	// ErrInvalidTransition marks an action that does not apply to the
	// rental's current status.
	ErrInvalidTransition = errors.New("action not valid in current state")
	// ErrAlreadyRecorded marks a duplicate singleton event (double tap).
	ErrAlreadyRecorded = errors.New("event already recorded")
	// ErrRateLimited marks a paid micro-action rejected by the limiter.
	ErrRateLimited = errors.New("too many requests")
	// ErrShiftAlreadyOpen marks a clock-in while a shift is still open.
	ErrShiftAlreadyOpen = errors.New("an open shift already exists")
	// ErrStateExpired marks a flow continuation after its window closed.
	ErrStateExpired = errors.New("no pending flow for user")
	// ErrSelfReferral marks an attempt to redeem one's own code.
	ErrSelfReferral = errors.New("cannot use own referral code")
	// ErrReferralExists marks an attempt to change an established referrer.
	ErrReferralExists = errors.New("referral relationship already set")
)

// RateLimiter is the distributed limiter consumed by paid micro-actions.
// A nil limiter disables limiting.
type RateLimiter interface {
	ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (count int, retryAfterSeconds int, err error)
}

// Service provides the core business logic for the commerce platform.
type Service struct {
	repo     store.Repository
	notifier *Notifier
	producer rabbitmq.Publisher
	limiter  RateLimiter
	cfg      config.Config
	handlers []PaymentHandler
}

// NewService creates a new commerce service instance. The handler registry is
// built here so its order is fixed for the life of the process.
func NewService(repo store.Repository, notifier *Notifier, producer rabbitmq.Publisher, limiter RateLimiter, cfg config.Config) *Service {
	s := &Service{
		repo:     repo,
		notifier: notifier,
		producer: producer,
		limiter:  limiter,
		cfg:      cfg,
	}
	s.handlers = []PaymentHandler{
		&rentalOrderHandler{},
		&sosHandler{},
		&dropAnywhereHandler{},
		&entitlementHandler{},
		&donationHandler{},
	}
	return s
}
