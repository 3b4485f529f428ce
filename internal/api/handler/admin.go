package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/osanpay/remittance-core/internal/service"
	"github.com/osanpay/remittance-core/internal/store"
)

// AdminHandler serves the operations surface: dead-lettered events awaiting
// manual reconciliation and transfers stuck in PENDING.
type AdminHandler struct {
	transfers *service.TransferService
	dlq       store.DeadLetterStore
	stuckAge  time.Duration
}

func NewAdminHandler(transfers *service.TransferService, dlq store.DeadLetterStore, stuckAge time.Duration) *AdminHandler {
	if stuckAge <= 0 {
		stuckAge = 30 * time.Minute
	}
	return &AdminHandler{transfers: transfers, dlq: dlq, stuckAge: stuckAge}
}

// ListDeadLetters handles GET /v1/admin/dead-letters.
func (h *AdminHandler) ListDeadLetters(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r, 100)
	letters, err := h.dlq.List(r.Context(), limit)
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, map[string]interface{}{"dead_letters": letters, "count": len(letters)})
}

// ListStuckTransfers handles GET /v1/admin/transfers/stuck.
func (h *AdminHandler) ListStuckTransfers(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r, 100)
	cutoff := time.Now().Add(-h.stuckAge)
	stale, err := h.transfers.FindStalePending(r.Context(), cutoff, limit)
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, map[string]interface{}{"transfers": stale, "count": len(stale)})
}

func queryLimit(r *http.Request, fallback int) int {
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 1000 {
			return n
		}
	}
	return fallback
}
