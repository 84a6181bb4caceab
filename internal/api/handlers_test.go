package api

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/onesitepls/commerce-service/internal/app"
	"github.com/onesitepls/commerce-service/internal/config"
	"github.com/onesitepls/commerce-service/internal/domain"
	"github.com/onesitepls/commerce-service/internal/store"
)

const testWebhookSecret = "webhook-test-secret"

type webhookRepoStub struct {
	store.Repository

	findCalled bool
}

func (s *webhookRepoStub) FindInvoiceByID(ctx context.Context, invoiceID string) (*domain.Invoice, error) {
	s.findCalled = true
	return nil, store.ErrInvoiceNotFound
}

func newWebhookHandlers(repo store.Repository) *CommerceHandlers {
	notifier := app.NewNotifier(nil, nil, "commerce.events", "", "https://t.me/testbot/app")
	service := app.NewService(repo, notifier, nil, nil, config.Config{EventsExchange: "commerce.events"})
	return NewCommerceHandlers(service, testWebhookSecret)
}

func sign(body []byte) string {
	mac := hmac.New(sha256.New, []byte(testWebhookSecret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestPaymentWebhookHandler_RejectsMissingSignature(t *testing.T) {
	repo := &webhookRepoStub{}
	handlers := newWebhookHandlers(repo)

	body := []byte(`{"invoice_id":"inv_1","payer_id":"42"}`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	handlers.PaymentWebhookHandler(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if repo.findCalled {
		t.Fatal("did not expect ingestion for an unsigned request")
	}
}

func TestPaymentWebhookHandler_RejectsWrongSignature(t *testing.T) {
	repo := &webhookRepoStub{}
	handlers := newWebhookHandlers(repo)

	body := []byte(`{"invoice_id":"inv_1","payer_id":"42"}`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments", bytes.NewReader(body))
	req.Header.Set("X-Webhook-Signature", sign([]byte("tampered body")))
	rec := httptest.NewRecorder()

	handlers.PaymentWebhookHandler(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestPaymentWebhookHandler_AcceptsValidSignature(t *testing.T) {
	repo := &webhookRepoStub{}
	handlers := newWebhookHandlers(repo)

	body := []byte(`{"invoice_id":"inv_1","payer_id":"42","amount":100,"currency":"XTR"}`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments", bytes.NewReader(body))
	req.Header.Set("X-Webhook-Signature", sign(body))
	rec := httptest.NewRecorder()

	handlers.PaymentWebhookHandler(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !repo.findCalled {
		t.Fatal("expected the confirmation to reach the ingestion path")
	}
}

func TestPaymentWebhookHandler_AcceptsPrefixedSignature(t *testing.T) {
	repo := &webhookRepoStub{}
	handlers := newWebhookHandlers(repo)

	body := []byte(`{"payload":"rental_r1_1","payer_id":"42"}`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments", bytes.NewReader(body))
	req.Header.Set("X-Webhook-Signature", "sha256="+sign(body))
	rec := httptest.NewRecorder()

	handlers.PaymentWebhookHandler(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestPaymentWebhookHandler_RejectsEmptyInvoiceID(t *testing.T) {
	repo := &webhookRepoStub{}
	handlers := newWebhookHandlers(repo)

	body := []byte(`{"payer_id":"42","amount":100}`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments", bytes.NewReader(body))
	req.Header.Set("X-Webhook-Signature", sign(body))
	rec := httptest.NewRecorder()

	handlers.PaymentWebhookHandler(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestValidSignature_EmptySecretRejectsEverything(t *testing.T) {
	handlers := &CommerceHandlers{webhookSecret: ""}
	if handlers.validSignature(sign([]byte("body")), []byte("body")) {
		t.Fatal("expected an unconfigured secret to reject all signatures")
	}
}
