package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/osanpay/remittance-core/internal/models"
	"github.com/osanpay/remittance-core/internal/store/memory"
)

type fixture struct {
	transfers *TransferService
	store     *memory.TransferStore
	rates     *memory.RateStore
	audit     *memory.AuditStore
	reports   *memory.ReportStore
	dlq       *memory.DeadLetterStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	transferStore := memory.NewTransferStore()
	rateStore := memory.NewRateStore()
	auditStore := memory.NewAuditStore()
	reportStore := memory.NewReportStore()

	fx := NewFxResolver(rateStore, time.Second)
	audit := NewAuditService(auditStore)
	svc := NewTransferService(transferStore, fx, audit, reportStore)

	return &fixture{
		transfers: svc,
		store:     transferStore,
		rates:     rateStore,
		audit:     auditStore,
		reports:   reportStore,
		dlq:       memory.NewDeadLetterStore(),
	}
}

func (f *fixture) seedRate(t *testing.T, base, asset string, value string, at time.Time) {
	t.Helper()
	require.NoError(t, f.rates.Insert(context.Background(), models.ExchangeRate{
		Base:          base,
		AssetCode:     asset,
		Date:          at,
		ExchangeValue: decimal.RequireFromString(value),
	}))
}

func validInitiateRequest(key string) InitiateRequest {
	return InitiateRequest{
		IdempotencyKey: key,
		CnpPersonID:    "cnp-person-1",
		AmountSent:     decimal.NewFromInt(1000),
		CurrencySent:   "MXN",
		CurrencyRecv:   "USD",
		Concept:        "family support",
		RailPaymentID:  "rail-pay-" + key,
		SenderInfo: models.SenderInfo{
			FullName:            "Maria Gonzalez",
			TransferReference:   "ref-" + key,
			SenderInstitutionID: "inst-send-01",
		},
		RecipientInfo: models.RecipientInfo{
			FullName:               "Jose Gonzalez",
			DateOfBirth:            time.Date(1985, time.March, 14, 0, 0, 0, 0, time.UTC),
			AddressState:           "JAL",
			FullAddress:            "Av. Juarez 10, Guadalajara",
			Citizenship:            "MX",
			CountryOfBirth:         "MX",
			NationalIDs:            []models.NationalID{{Type: "CURP", Value: "GOGJ850314HJCNNS09"}},
			PartyIDType:            "MSISDN",
			PartyID:                "5213312345678",
			RecipientInstitutionID: "inst-recv-02",
		},
	}
}

func passingAml(externalID string) models.AmlValidationResponse {
	return models.AmlValidationResponse{
		ExternalValidationID: externalID,
		RiskLevel:            "LOW",
		Score:                decimal.NewFromInt(5),
		BlockTransfer:        false,
	}
}

func blockingAml(externalID string) models.AmlValidationResponse {
	return models.AmlValidationResponse{
		ExternalValidationID: externalID,
		RiskLevel:            "HIGH",
		Score:                decimal.NewFromInt(95),
		BlockTransfer:        true,
	}
}

// initiateApproved creates a transfer and drives it through a passing AML
// decision, leaving it PENDING with FX applied.
func (f *fixture) initiateApproved(t *testing.T, key string) *models.Transfer {
	t.Helper()
	ctx := context.Background()

	tr, err := f.transfers.Initiate(ctx, validInitiateRequest(key))
	require.NoError(t, err)
	f.seedRate(t, "MXN", "USD", "0.058", tr.InitiatedAt.Add(-time.Hour))
	require.NoError(t, f.transfers.ApplyAmlResult(ctx, tr.ID, passingAml("aml-"+key)))

	tr, err = f.transfers.Get(ctx, tr.ID)
	require.NoError(t, err)
	return tr
}

func successOutcome(eventID string, transferID uuid.UUID, switchID string) models.SettlementOutcome {
	return models.SettlementOutcome{
		EventID:          eventID,
		TransferID:       transferID,
		Succeeded:        true,
		SwitchTransferID: &switchID,
		ReceivedAt:       time.Now().UTC(),
	}
}
