package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/osanpay/remittance-core/internal/domain"
	"github.com/osanpay/remittance-core/internal/models"
	"github.com/osanpay/remittance-core/internal/registry"
	"github.com/osanpay/remittance-core/internal/service"
)

type TransferHandler struct {
	svc      *service.TransferService
	aml      *service.AmlGate
	registry *registry.Service
}

func NewTransferHandler(svc *service.TransferService, aml *service.AmlGate, reg *registry.Service) *TransferHandler {
	return &TransferHandler{svc: svc, aml: aml, registry: reg}
}

type initiateTransferRequest struct {
	CnpPersonID   string               `json:"cnp_person_id"`
	AmountSent    decimal.Decimal      `json:"amount_sent"`
	CurrencySent  string               `json:"currency_code_sent"`
	CurrencyRecv  string               `json:"currency_code_received"`
	Concept       string               `json:"concept"`
	RailPaymentID string               `json:"rail_payment_id"`
	SenderInfo    models.SenderInfo    `json:"sender_info"`
	RecipientInfo models.RecipientInfo `json:"recipient_info"`
}

// Initiate handles POST /v1/transfers. Replays of an idempotency key return
// the previously created transfer with 200 instead of 201.
func (h *TransferHandler) Initiate(w http.ResponseWriter, r *http.Request) {
	idempotencyKey := r.Header.Get("Idempotency-Key")
	if idempotencyKey == "" {
		RespondError(w, r, http.StatusBadRequest, "idempotency/missing-key", "Idempotency-Key header is required")
		return
	}

	var req initiateTransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "invalid request body")
		return
	}

	if h.registry != nil {
		if _, err := h.registry.Sender(r.Context(), req.CnpPersonID); err != nil && !errors.Is(err, domain.ErrNotFound) {
			RespondDomainError(w, r, err)
			return
		}
	}

	t, err := h.svc.Initiate(r.Context(), service.InitiateRequest{
		IdempotencyKey: idempotencyKey,
		CnpPersonID:    req.CnpPersonID,
		AmountSent:     req.AmountSent,
		CurrencySent:   req.CurrencySent,
		CurrencyRecv:   req.CurrencyRecv,
		Concept:        req.Concept,
		RailPaymentID:  req.RailPaymentID,
		SenderInfo:     req.SenderInfo,
		RecipientInfo:  req.RecipientInfo,
	})
	if errors.Is(err, domain.ErrDuplicateRequest) {
		RespondJSON(w, http.StatusOK, t)
		return
	}
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}

	h.screenAsync(t.ID)
	RespondJSON(w, http.StatusCreated, t)
}

// screenAsync kicks AML screening off the request path. The gate collapses
// concurrent submissions for one transfer, so a retry storm is harmless.
func (h *TransferHandler) screenAsync(id uuid.UUID) {
	if h.aml == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := h.aml.Screen(ctx, id); err != nil {
			zap.L().Warn("aml screening failed",
				zap.Error(err),
				zap.String("transfer_id", id.String()),
			)
		}
	}()
}

// Get handles GET /v1/transfers/{id}.
func (h *TransferHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-id", "invalid transfer id")
		return
	}

	t, err := h.svc.Get(r.Context(), id)
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, t)
}

type cancelTransferRequest struct {
	Reason string `json:"reason"`
}

// Cancel handles POST /v1/transfers/{id}/cancel. Only PENDING transfers with
// no accepted settlement event can be cancelled.
func (h *TransferHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-id", "invalid transfer id")
		return
	}

	var req cancelTransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "invalid request body")
		return
	}

	if err := h.svc.Cancel(r.Context(), id, req.Reason); err != nil {
		RespondDomainError(w, r, err)
		return
	}

	t, err := h.svc.Get(r.Context(), id)
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, t)
}
