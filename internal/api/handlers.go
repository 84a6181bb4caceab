/**
 * @description
 * This file contains the HTTP handlers for the commerce-service's API endpoints.
 * Handlers are responsible for parsing incoming requests, calling the appropriate
 * methods on the application service, and writing the HTTP response. They act as the
 * bridge between the web layer and the business logic layer.
 *
 * @dependencies
 * - encoding/json, net/http, crypto/hmac: Standard Go libraries.
 * - internal/app, internal/domain, internal/store: For service logic, models, and custom errors.
 */

package api

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/onesitepls/commerce-service/internal/app"
	"github.com/onesitepls/commerce-service/internal/domain"
	"github.com/onesitepls/commerce-service/internal/store"
)

const maxWebhookBodyBytes = 1 << 20

// CommerceHandlers holds the application service that handlers will use.
type CommerceHandlers struct {
	service       *app.Service
	webhookSecret string
}

// NewCommerceHandlers creates a new instance of CommerceHandlers.
func NewCommerceHandlers(service *app.Service, webhookSecret string) *CommerceHandlers {
	return &CommerceHandlers{service: service, webhookSecret: webhookSecret}
}

// paymentWebhookPayload is the envelope the payment provider posts on a
// successful payment.
type paymentWebhookPayload struct {
	InvoiceID   string `json:"invoice_id"`
	Payload     string `json:"payload"`
	PayerID     string `json:"payer_id"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	ProviderRef string `json:"provider_ref"`
}

// PaymentWebhookHandler ingests successful-payment confirmations. Once the
// signature checks out the provider gets a 200 for anything except a store
// outage, so it stops retrying deliveries we have already absorbed.
func (h *CommerceHandlers) PaymentWebhookHandler(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodyBytes))
	if err != nil {
		log.Printf("level=warn component=api endpoint=payment_webhook outcome=reject reason=body_read_failed err=%v", err)
		h.writeError(w, http.StatusBadRequest, "Unable to read request body")
		return
	}

	if !h.validSignature(r.Header.Get("X-Webhook-Signature"), body) {
		log.Printf("level=warn component=api endpoint=payment_webhook outcome=reject reason=invalid_signature")
		h.writeError(w, http.StatusUnauthorized, "Invalid webhook signature")
		return
	}

	var payload paymentWebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		log.Printf("level=warn component=api endpoint=payment_webhook outcome=reject reason=invalid_json err=%v", err)
		h.writeError(w, http.StatusBadRequest, "Invalid JSON payload")
		return
	}

	invoiceID := strings.TrimSpace(payload.InvoiceID)
	if invoiceID == "" {
		invoiceID = strings.TrimSpace(payload.Payload)
	}
	if invoiceID == "" {
		h.writeError(w, http.StatusBadRequest, "Missing invoice identifier")
		return
	}

	conf := domain.PaymentConfirmation{
		InvoiceID:   invoiceID,
		PayerID:     strings.TrimSpace(payload.PayerID),
		RawPayload:  strings.TrimSpace(payload.Payload),
		Amount:      payload.Amount,
		Currency:    payload.Currency,
		ProviderRef: payload.ProviderRef,
	}
	if conf.RawPayload == "" {
		conf.RawPayload = invoiceID
	}

	if err := h.service.IngestPayment(r.Context(), conf); err != nil {
		log.Printf("level=error component=api endpoint=payment_webhook outcome=retry invoice_id=%s err=%v", invoiceID, err)
		h.writeError(w, http.StatusInternalServerError, "Temporary failure; please retry")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// validSignature checks the HMAC-SHA256 signature over the raw body. Both
// bare hex and the "sha256=<hex>" form are accepted.
func (h *CommerceHandlers) validSignature(header string, body []byte) bool {
	if h.webhookSecret == "" {
		// No secret configured means no trusted caller exists yet.
		return false
	}
	sig := strings.TrimSpace(header)
	sig = strings.TrimPrefix(sig, "sha256=")
	if sig == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(h.webhookSecret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(strings.ToLower(sig)), []byte(expected))
}

// --- Rental handlers ---

func (h *CommerceHandlers) CurrentRentalHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetSessionUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get user ID from context")
		return
	}

	rental, err := h.service.CurrentRental(r.Context(), userID)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, rental)
}

func (h *CommerceHandlers) AvailableActionsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetSessionUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get user ID from context")
		return
	}

	actions, err := h.service.AvailableActions(r.Context(), userID, chi.URLParam(r, "rentalID"))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"actions": actions})
}

func (h *CommerceHandlers) ConfirmPickupHandler(w http.ResponseWriter, r *http.Request) {
	h.confirmTransition(w, r, h.service.ConfirmPickup)
}

func (h *CommerceHandlers) ConfirmReturnHandler(w http.ResponseWriter, r *http.Request) {
	h.confirmTransition(w, r, h.service.ConfirmReturn)
}

func (h *CommerceHandlers) confirmTransition(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, actorID, rentalID string) (*domain.Rental, error)) {
	userID, ok := GetSessionUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get user ID from context")
		return
	}

	rental, err := fn(r.Context(), userID, chi.URLParam(r, "rentalID"))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, rental)
}

type addPhotoRequest struct {
	Kind    string `json:"kind"` // 'photo_start' or 'photo_end'
	PhotoID string `json:"photo_id"`
}

func (h *CommerceHandlers) AddRentalPhotoHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetSessionUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get user ID from context")
		return
	}

	var req addPhotoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.PhotoID == "" {
		h.writeError(w, http.StatusBadRequest, "photo_id is required")
		return
	}

	if err := h.service.AddRentalPhoto(r.Context(), userID, chi.URLParam(r, "rentalID"), req.Kind, req.PhotoID); err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
}

func (h *CommerceHandlers) RequestDropAnywhereHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetSessionUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get user ID from context")
		return
	}

	inv, err := h.service.RequestDropAnywhere(r.Context(), userID, chi.URLParam(r, "rentalID"))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, inv)
}

type sosRequest struct {
	Kind   string         `json:"kind"` // 'sos_fuel' or 'sos_evac'
	Geotag *domain.Geotag `json:"geotag,omitempty"`
}

func (h *CommerceHandlers) RequestSOSHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetSessionUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get user ID from context")
		return
	}

	var req sosRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	inv, err := h.service.RequestSOS(r.Context(), userID, chi.URLParam(r, "rentalID"), req.Kind, req.Geotag)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	if inv == nil {
		// Zero-fee SOS applies immediately; there is nothing to bill.
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
		return
	}
	h.writeJSON(w, http.StatusOK, inv)
}

func (h *CommerceHandlers) AttachGeotagHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetSessionUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get user ID from context")
		return
	}

	var geotag domain.Geotag
	if err := json.NewDecoder(r.Body).Decode(&geotag); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.service.AttachGeotag(r.Context(), userID, geotag); err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
}

// --- Referral handlers ---

func (h *CommerceHandlers) ReferralCodeHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetSessionUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get user ID from context")
		return
	}

	code, err := h.service.EnsureReferralCode(r.Context(), userID)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, code)
}

type redeemReferralRequest struct {
	Code string `json:"code"`
}

func (h *CommerceHandlers) RedeemReferralHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetSessionUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get user ID from context")
		return
	}

	var req redeemReferralRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Code) == "" {
		h.writeError(w, http.StatusBadRequest, "code is required")
		return
	}

	levels, err := h.service.EstablishReferral(r.Context(), userID, req.Code)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"status": "linked", "levels": levels})
}

func (h *CommerceHandlers) ReferralStatsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetSessionUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get user ID from context")
		return
	}

	stats, err := h.service.ReferralStats(r.Context(), userID)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}

func (h *CommerceHandlers) LeaderboardHandler(w http.ResponseWriter, r *http.Request) {
	limit := 10
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			limit = parsed
		}
	}

	entries, err := h.service.Leaderboard(r.Context(), limit)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"leaderboard": entries})
}

// --- Shift handlers ---

func (h *CommerceHandlers) ClockInHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetSessionUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get user ID from context")
		return
	}

	shift, err := h.service.ClockIn(r.Context(), userID)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, shift)
}

func (h *CommerceHandlers) ToggleRideHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetSessionUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get user ID from context")
		return
	}

	status, err := h.service.ToggleRide(r.Context(), userID)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"live_status": status})
}

func (h *CommerceHandlers) ClockOutHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetSessionUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get user ID from context")
		return
	}

	shift, err := h.service.ClockOut(r.Context(), userID)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, shift)
}

func (h *CommerceHandlers) ReportLocationHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetSessionUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get user ID from context")
		return
	}

	var geotag domain.Geotag
	if err := json.NewDecoder(r.Body).Decode(&geotag); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.service.ReportLocation(r.Context(), userID, geotag); err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
}

// --- Shared response helpers ---

// respondServiceError maps service and store errors to HTTP statuses.
// Role and state rejections are expected traffic and map to client errors;
// anything unrecognized is a 500.
func (h *CommerceHandlers) respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, app.ErrUnauthorized):
		h.writeError(w, http.StatusForbidden, "You are not allowed to perform this action")
	case errors.Is(err, app.ErrInvalidTransition):
		h.writeError(w, http.StatusConflict, "Action not valid in the current state")
	case errors.Is(err, app.ErrAlreadyRecorded):
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "noop", "message": "Already recorded"})
	case errors.Is(err, app.ErrRateLimited):
		h.writeError(w, http.StatusTooManyRequests, "Too many requests; slow down")
	case errors.Is(err, app.ErrStateExpired):
		h.writeError(w, http.StatusGone, "This flow has expired; start again")
	case errors.Is(err, app.ErrShiftAlreadyOpen):
		h.writeError(w, http.StatusConflict, "A shift is already open")
	case errors.Is(err, app.ErrSelfReferral):
		h.writeError(w, http.StatusConflict, "You cannot use your own referral code")
	case errors.Is(err, app.ErrReferralExists):
		h.writeError(w, http.StatusConflict, "A referral relationship is already set")
	case errors.Is(err, store.ErrRentalNotFound),
		errors.Is(err, store.ErrUserNotFound),
		errors.Is(err, store.ErrInvoiceNotFound),
		errors.Is(err, store.ErrReferralCodeNotFound),
		errors.Is(err, store.ErrCrewMemberNotFound),
		errors.Is(err, store.ErrShiftNotFound):
		h.writeError(w, http.StatusNotFound, "Not found")
	default:
		log.Printf("level=error component=api msg=\"unhandled service error\" err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func (h *CommerceHandlers) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("level=error component=api msg=\"failed to encode response\" err=%v", err)
	}
}

func (h *CommerceHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
