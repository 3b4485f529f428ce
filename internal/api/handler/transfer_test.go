package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/osanpay/remittance-core/internal/service"
	"github.com/osanpay/remittance-core/internal/store/memory"
)

func newTestTransferHandler() *TransferHandler {
	transferStore := memory.NewTransferStore()
	fx := service.NewFxResolver(memory.NewRateStore(), time.Second)
	audit := service.NewAuditService(memory.NewAuditStore())
	transfers := service.NewTransferService(transferStore, fx, audit, memory.NewReportStore())
	return NewTransferHandler(transfers, nil, nil)
}

const initiateBody = `{
	"cnp_person_id": "cnp-1",
	"amount_sent": "1000",
	"currency_code_sent": "MXN",
	"currency_code_received": "USD",
	"concept": "family support",
	"sender_info": {
		"full_name": "Maria Gonzalez",
		"sender_institution_id": "inst-send-01"
	},
	"recipient_info": {
		"full_name": "Jose Gonzalez",
		"id": "5213312345678",
		"id_type": "MSISDN",
		"national_id": [{"type": "CURP", "value": "GOGJ850314HJCNNS09"}]
	}
}`

func TestInitiateRequiresIdempotencyKey(t *testing.T) {
	h := newTestTransferHandler()

	req := httptest.NewRequest(http.MethodPost, "/v1/transfers", strings.NewReader(initiateBody))
	rec := httptest.NewRecorder()

	h.Initiate(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
}

func TestInitiateCreatesAndReplays(t *testing.T) {
	h := newTestTransferHandler()

	req := httptest.NewRequest(http.MethodPost, "/v1/transfers", strings.NewReader(initiateBody))
	req.Header.Set("Idempotency-Key", "key-1")
	rec := httptest.NewRecorder()

	h.Initiate(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.Equal(t, "PENDING", created.Status)
	require.NotEmpty(t, created.ID)

	// Same key replays the original transfer with 200.
	req = httptest.NewRequest(http.MethodPost, "/v1/transfers", strings.NewReader(initiateBody))
	req.Header.Set("Idempotency-Key", "key-1")
	rec = httptest.NewRecorder()

	h.Initiate(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var replayed struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &replayed))
	require.Equal(t, created.ID, replayed.ID)
}

func TestInitiateRejectsInvalidBody(t *testing.T) {
	h := newTestTransferHandler()

	req := httptest.NewRequest(http.MethodPost, "/v1/transfers", strings.NewReader(`{"amount_sent": `))
	req.Header.Set("Idempotency-Key", "key-2")
	rec := httptest.NewRecorder()

	h.Initiate(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
