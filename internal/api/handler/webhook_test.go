package handler

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/osanpay/remittance-core/internal/dedup"
	"github.com/osanpay/remittance-core/internal/service"
	"github.com/osanpay/remittance-core/internal/store/memory"
)

func newTestReconciler() *service.Reconciler {
	transferStore := memory.NewTransferStore()
	fx := service.NewFxResolver(memory.NewRateStore(), time.Second)
	audit := service.NewAuditService(memory.NewAuditStore())
	transfers := service.NewTransferService(transferStore, fx, audit, memory.NewReportStore())
	return service.NewReconciler(transfers, dedup.NewMemorySet(time.Hour), audit, memory.NewDeadLetterStore())
}

func sign(key string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	h := NewWebhookHandler(newTestReconciler(), "webhook-secret", false)
	body := []byte(`{"event_id":"evt-1","event_type":"outgoing_payment.completed"}`)

	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/rail", bytes.NewReader(body))
	req.Header.Set("X-Webhook-Signature", "sha256=deadbeef")
	rec := httptest.NewRecorder()

	h.HandleRailEvent(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWebhookRejectsMissingSignatureWhenRequired(t *testing.T) {
	h := NewWebhookHandler(newTestReconciler(), "webhook-secret", false)
	body := []byte(`{"event_id":"evt-2","event_type":"outgoing_payment.completed"}`)

	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/rail", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.HandleRailEvent(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWebhookValidSignatureReachesReconciler(t *testing.T) {
	h := NewWebhookHandler(newTestReconciler(), "webhook-secret", false)
	// Well-formed envelope for a transfer the engine does not know; the
	// reconciler rejects it after the signature check passes.
	body := []byte(`{"event_id":"evt-3","event_type":"outgoing_payment.completed","event_data":{"payment_id":"rail-unknown"}}`)

	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/rail", bytes.NewReader(body))
	req.Header.Set("X-Webhook-Signature", sign("webhook-secret", body))
	rec := httptest.NewRecorder()

	h.HandleRailEvent(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWebhookSkipSignatureMode(t *testing.T) {
	h := NewWebhookHandler(newTestReconciler(), "", true)
	body := []byte(`not json`)

	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/rail", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.HandleRailEvent(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
