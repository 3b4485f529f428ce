package handler

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/osanpay/remittance-core/internal/models"
	"github.com/osanpay/remittance-core/internal/service"
)

// WebhookHandler accepts rail settlement events over HTTPS, the fallback
// delivery path next to the AMQP consumer. Both paths feed the same
// reconciler, which dedupes by event id.
type WebhookHandler struct {
	reconciler *service.Reconciler
	hmacKey    []byte
	skipSig    bool
}

func NewWebhookHandler(reconciler *service.Reconciler, hmacKey string, skipSignature bool) *WebhookHandler {
	return &WebhookHandler{
		reconciler: reconciler,
		hmacKey:    []byte(hmacKey),
		skipSig:    skipSignature,
	}
}

// HandleRailEvent handles POST /v1/webhooks/rail. It verifies the HMAC
// signature, then routes the event through the reconciler.
func (h *WebhookHandler) HandleRailEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		zap.L().Error("read webhook body failed", zap.Error(err))
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "failed to read request body")
		return
	}

	if !h.verifyHMAC(body, r.Header.Get("X-Webhook-Signature")) {
		RespondError(w, r, http.StatusUnauthorized, "webhook/invalid-signature", "invalid signature")
		return
	}

	var ev models.RailEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "invalid event payload")
		return
	}
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = time.Now().UTC()
	}

	if err := h.reconciler.Ingest(r.Context(), ev); err != nil {
		RespondDomainError(w, r, err)
		return
	}

	RespondJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "event_id": ev.EventID})
}

func (h *WebhookHandler) verifyHMAC(payload []byte, signature string) bool {
	if h.skipSig {
		return true
	}
	if len(h.hmacKey) == 0 {
		return false
	}

	mac := hmac.New(sha256.New, h.hmacKey)
	mac.Write(payload)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
