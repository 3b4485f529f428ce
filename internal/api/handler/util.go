package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/osanpay/remittance-core/internal/api/problem"
	"github.com/osanpay/remittance-core/internal/domain"
)

// RespondJSON writes a JSON response.
func RespondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// RespondError writes an error response.
func RespondError(w http.ResponseWriter, r *http.Request, status int, problemType, message string) {
	if problemType != "" && problemType != "about:blank" && !strings.HasPrefix(problemType, "http") {
		problemType = problem.Type(problemType)
	}
	problem.Write(w, r, status, problemType, http.StatusText(status), message)
}

// RespondDomainError maps the domain error taxonomy onto problem responses.
func RespondDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		RespondError(w, r, http.StatusBadRequest, "request/validation", verr.Error())
	case errors.Is(err, domain.ErrNotFound):
		RespondError(w, r, http.StatusNotFound, "resource/not-found", "resource not found")
	case errors.Is(err, domain.ErrInvalidState):
		RespondError(w, r, http.StatusConflict, "transfer/invalid-state", err.Error())
	case errors.Is(err, domain.ErrBusinessRejection):
		RespondError(w, r, http.StatusUnprocessableEntity, "transfer/rejected", err.Error())
	case errors.Is(err, domain.ErrConflict):
		RespondError(w, r, http.StatusConflict, "transfer/concurrent-update", "transfer was updated concurrently, retry")
	case errors.Is(err, domain.ErrTransientUnavailable):
		RespondError(w, r, http.StatusServiceUnavailable, "upstream/unavailable", "upstream dependency unavailable, retry later")
	default:
		RespondError(w, r, http.StatusInternalServerError, "internal-server-error", "unexpected server error")
	}
}
