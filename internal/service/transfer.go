package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/osanpay/remittance-core/internal/domain"
	"github.com/osanpay/remittance-core/internal/models"
	"github.com/osanpay/remittance-core/internal/observability"
	"github.com/osanpay/remittance-core/internal/store"
)

// ErrAwaitingAml marks a settlement event that arrived before the transfer's
// AML decision. The reconciler buffers such events and replays them once AML
// resolves; it is always wrapped together with domain.ErrInvalidState.
var ErrAwaitingAml = errors.New("settlement event before aml resolution")

// TransferService owns the transfer lifecycle: PENDING is the sole initial
// state, COMPLETED/FAILED/CANCELLED are terminal. All operations on one
// transfer are serialized through a per-id lock, held only while reading and
// committing a transition, never across external calls. The persisted row is
// the source of truth; every transition re-reads current state and commits
// with an optimistic updated-at guard.
type TransferService struct {
	transfers store.TransferStore
	fx        *FxResolver
	audit     *AuditService
	reports   store.ReportStore
	locks     *lockArena

	now   func() time.Time
	newID func() uuid.UUID
}

func NewTransferService(transfers store.TransferStore, fx *FxResolver, audit *AuditService, reports store.ReportStore) *TransferService {
	return &TransferService{
		transfers: transfers,
		fx:        fx,
		audit:     audit,
		reports:   reports,
		locks:     newLockArena(),
		now:       time.Now,
		newID:     uuid.New,
	}
}

// WithClock overrides the time source (tests).
func (s *TransferService) WithClock(now func() time.Time) *TransferService {
	s.now = now
	return s
}

// InitiateRequest carries everything needed to create a transfer in PENDING.
type InitiateRequest struct {
	IdempotencyKey string
	CnpPersonID    string
	AmountSent     decimal.Decimal
	CurrencySent   string
	CurrencyRecv   string
	Concept        string
	RailPaymentID  string
	SenderInfo     models.SenderInfo
	RecipientInfo  models.RecipientInfo
}

func (r InitiateRequest) validate() error {
	switch {
	case r.IdempotencyKey == "":
		return domain.NewValidationError("idempotency_key", "required")
	case r.CnpPersonID == "":
		return domain.NewValidationError("cnp_person_id", "required")
	case !r.AmountSent.IsPositive():
		return domain.NewValidationError("amount_sent", "must be greater than zero")
	case r.CurrencySent == "":
		return domain.NewValidationError("currency_code_sent", "required")
	case r.CurrencyRecv == "":
		return domain.NewValidationError("currency_code_received", "required")
	case r.SenderInfo.FullName == "":
		return domain.NewValidationError("sender_info.full_name", "required")
	case r.SenderInfo.SenderInstitutionID == "":
		return domain.NewValidationError("sender_info.sender_institution_id", "required")
	case r.RecipientInfo.FullName == "":
		return domain.NewValidationError("recipient_info.full_name", "required")
	case r.RecipientInfo.PartyID == "":
		return domain.NewValidationError("recipient_info.id", "required")
	case len(r.RecipientInfo.NationalIDs) == 0:
		return domain.NewValidationError("recipient_info.national_id", "at least one national identifier is required")
	}
	for _, id := range r.RecipientInfo.NationalIDs {
		switch id.Type {
		case domain.NationalIDTypeINE, domain.NationalIDTypePassport, domain.NationalIDTypeCURP:
		default:
			return domain.NewValidationError("recipient_info.national_id", "unknown identifier type "+id.Type)
		}
		if id.Value == "" {
			return domain.NewValidationError("recipient_info.national_id", "identifier value is required")
		}
	}
	return nil
}

// Initiate validates the request and creates a transfer in PENDING. A replay
// of an already accepted idempotency key returns the existing transfer
// together with domain.ErrDuplicateRequest; no duplicate is created.
func (s *TransferService) Initiate(ctx context.Context, req InitiateRequest) (*models.Transfer, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	if existing, err := s.transfers.FindByIdempotencyKey(ctx, req.IdempotencyKey); err == nil {
		return existing, domain.ErrDuplicateRequest
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("idempotency lookup: %w", err)
	}

	now := s.now()
	t := &models.Transfer{
		ID:               s.newID(),
		CnpPersonID:      req.CnpPersonID,
		IdempotencyKey:   req.IdempotencyKey,
		AmountSent:       req.AmountSent.Round(domain.CurrencyScale(req.CurrencySent)),
		CurrencySent:     req.CurrencySent,
		CurrencyReceived: req.CurrencyRecv,
		Concept:          req.Concept,
		Status:           domain.TransferStatusPending,
		RailPaymentID:    req.RailPaymentID,
		InitiatedAt:      now,
		UpdatedAt:        now,
		SenderInfo:       req.SenderInfo,
		RecipientInfo:    req.RecipientInfo,
	}

	if err := s.transfers.Create(ctx, t); err != nil {
		if errors.Is(err, domain.ErrDuplicateRequest) {
			// Lost the create race; the winner's row is the transfer.
			if existing, lookupErr := s.transfers.FindByIdempotencyKey(ctx, req.IdempotencyKey); lookupErr == nil {
				return existing, domain.ErrDuplicateRequest
			}
			return nil, err
		}
		return nil, fmt.Errorf("create transfer: %w", err)
	}

	s.audit.Transition(ctx, t.ID, "initiated", "", domain.TransferStatusPending, map[string]string{
		"idempotency_key": req.IdempotencyKey,
	})
	observability.IncrementTransition("", domain.TransferStatusPending, "initiated")
	return t, nil
}

// Get loads a transfer by id.
func (s *TransferService) Get(ctx context.Context, id uuid.UUID) (*models.Transfer, error) {
	return s.transfers.Load(ctx, id)
}

// FindByRailPaymentID resolves a transfer from the rail's payment reference.
func (s *TransferService) FindByRailPaymentID(ctx context.Context, railPaymentID string) (*models.Transfer, error) {
	return s.transfers.FindByRailPaymentID(ctx, railPaymentID)
}

// ApplyAmlResult records the validator's decision. Legal only while PENDING
// with no decision applied yet; re-delivery of the same externalValidationId
// is a no-op. A blocking decision fails the transfer with reason
// "aml_blocked" in the same transition. A passing decision resolves FX and
// fixes amountReceived; the transfer stays PENDING awaiting settlement.
func (s *TransferService) ApplyAmlResult(ctx context.Context, transferID uuid.UUID, resp models.AmlValidationResponse) error {
	// Preconditions are checked on an unlocked read first so the FX lookup
	// (I/O) runs without the per-transfer lock held; the locked commit below
	// re-validates against current state.
	t, err := s.transfers.Load(ctx, transferID)
	if err != nil {
		return err
	}
	if err := amlApplicable(t, resp); err != nil || t.AmlResponse != nil {
		return err
	}

	var rate models.ExchangeRate
	if !resp.BlockTransfer {
		// FX is resolved as of initiation time and fixed from here on; it is
		// never recomputed once settlement begins.
		if rate, err = s.fx.Resolve(ctx, t.CurrencySent, t.CurrencyReceived, t.InitiatedAt); err != nil {
			return err
		}
	}

	release := s.locks.acquire(transferID)
	defer release()

	if t, err = s.transfers.Load(ctx, transferID); err != nil {
		return err
	}
	if err := amlApplicable(t, resp); err != nil || t.AmlResponse != nil {
		return err
	}

	expected := t.UpdatedAt
	prev := t.Status

	if resp.BlockTransfer {
		now := s.now()
		reason := domain.ReasonAmlBlocked
		t.AmlResponse = &resp
		t.Status = domain.TransferStatusFailed
		t.CancelReason = &reason
		t.CompletedAt = &now
		t.UpdatedAt = now

		if err := s.transfers.Update(ctx, t, expected); err != nil {
			return err
		}
		s.audit.Transition(ctx, t.ID, "aml_blocked", prev, t.Status, map[string]string{
			"external_validation_id": resp.ExternalValidationID,
			"risk_level":             resp.RiskLevel,
		})
		observability.IncrementTransition(prev, t.Status, domain.ReasonAmlBlocked)
		s.enqueueReport(ctx, t)
		return nil
	}

	t.AmlResponse = &resp
	t.FxRate = rate.ExchangeValue
	t.AmountReceived = domain.NewMoney(t.AmountSent, t.CurrencySent).
		Convert(t.CurrencyReceived, rate.ExchangeValue).Amount
	t.UpdatedAt = s.now()

	if err := s.transfers.Update(ctx, t, expected); err != nil {
		return err
	}
	s.audit.Transition(ctx, t.ID, "aml_approved", prev, t.Status, map[string]string{
		"external_validation_id": resp.ExternalValidationID,
		"fx_rate":                t.FxRate.String(),
		"amount_received":        t.AmountReceived.String(),
	})
	return nil
}

// amlApplicable reports whether resp may still be applied to t: nil for a
// fresh PENDING transfer, nil for an exact replay (no-op, t.AmlResponse set),
// an invalid-state error otherwise.
func amlApplicable(t *models.Transfer, resp models.AmlValidationResponse) error {
	if t.AmlResponse != nil {
		if t.AmlResponse.ExternalValidationID == resp.ExternalValidationID {
			return nil
		}
		return fmt.Errorf("aml already resolved by %s: %w", t.AmlResponse.ExternalValidationID, domain.ErrInvalidState)
	}
	if t.Status != domain.TransferStatusPending {
		return fmt.Errorf("transfer is %s: %w", t.Status, domain.ErrInvalidState)
	}
	return nil
}

// ApplySettlementEvent maps a rail outcome onto the transfer. Legal only
// while PENDING with AML resolved favorably. Duplicate events (same event
// id) are acknowledged without re-transitioning.
func (s *TransferService) ApplySettlementEvent(ctx context.Context, outcome models.SettlementOutcome) error {
	release := s.locks.acquire(outcome.TransferID)
	defer release()

	t, err := s.transfers.Load(ctx, outcome.TransferID)
	if err != nil {
		return err
	}

	if t.SettlementEventID != nil && *t.SettlementEventID == outcome.EventID {
		return nil
	}
	if t.IsTerminal() {
		return fmt.Errorf("transfer is %s: %w", t.Status, domain.ErrInvalidState)
	}
	if t.AmlResponse == nil {
		return fmt.Errorf("%w: %w", domain.ErrInvalidState, ErrAwaitingAml)
	}

	expected := t.UpdatedAt
	prev := t.Status
	now := s.now()
	eventID := outcome.EventID
	t.SettlementEventID = &eventID
	t.CompletedAt = &now
	t.UpdatedAt = now

	var action, reason string
	if outcome.Succeeded {
		t.Status = domain.TransferStatusCompleted
		t.SwitchTransferID = outcome.SwitchTransferID
		action, reason = "settlement_completed", "settled"
	} else {
		failure := outcome.FailureReason
		if failure == "" {
			failure = "settlement_failed"
		}
		t.Status = domain.TransferStatusFailed
		t.CancelReason = &failure
		action, reason = "settlement_failed", failure
	}

	if err := s.transfers.Update(ctx, t, expected); err != nil {
		return err
	}
	s.audit.Transition(ctx, t.ID, action, prev, t.Status, map[string]string{
		"event_id": outcome.EventID,
	})
	observability.IncrementTransition(prev, t.Status, reason)
	s.enqueueReport(ctx, t)
	return nil
}

// Cancel aborts a PENDING transfer on the caller's initiative. Illegal once
// a settlement event has been applied or the transfer is otherwise terminal.
func (s *TransferService) Cancel(ctx context.Context, transferID uuid.UUID, reason string) error {
	if reason == "" {
		return domain.NewValidationError("reason", "required")
	}

	release := s.locks.acquire(transferID)
	defer release()

	t, err := s.transfers.Load(ctx, transferID)
	if err != nil {
		return err
	}
	if t.Status != domain.TransferStatusPending || t.SettlementEventID != nil {
		return fmt.Errorf("transfer is %s: %w", t.Status, domain.ErrInvalidState)
	}

	expected := t.UpdatedAt
	prev := t.Status
	now := s.now()
	t.Status = domain.TransferStatusCancelled
	t.CancelReason = &reason
	t.CompletedAt = &now
	t.UpdatedAt = now

	if err := s.transfers.Update(ctx, t, expected); err != nil {
		return err
	}
	s.audit.Transition(ctx, t.ID, "cancelled", prev, t.Status, map[string]string{
		"reason": reason,
	})
	observability.IncrementTransition(prev, t.Status, reason)
	return nil
}

// FailForAmlTimeout fails a transfer whose AML decision never arrived within
// the reconciliation buffering window. A transfer that resolved or reached a
// terminal state in the meantime is left untouched.
func (s *TransferService) FailForAmlTimeout(ctx context.Context, transferID uuid.UUID) error {
	release := s.locks.acquire(transferID)
	defer release()

	t, err := s.transfers.Load(ctx, transferID)
	if err != nil {
		return err
	}
	if t.Status != domain.TransferStatusPending || t.AmlResponse != nil {
		return nil
	}

	expected := t.UpdatedAt
	prev := t.Status
	now := s.now()
	reason := domain.ReasonAmlTimeout
	t.Status = domain.TransferStatusFailed
	t.CancelReason = &reason
	t.CompletedAt = &now
	t.UpdatedAt = now

	if err := s.transfers.Update(ctx, t, expected); err != nil {
		return err
	}
	s.audit.Transition(ctx, t.ID, "aml_timeout", prev, t.Status, nil)
	observability.IncrementTransition(prev, t.Status, domain.ReasonAmlTimeout)
	s.enqueueReport(ctx, t)
	return nil
}

// FindStalePending lists PENDING transfers older than the cutoff for
// operational review. They are never auto-failed.
func (s *TransferService) FindStalePending(ctx context.Context, olderThan time.Time, limit int) ([]models.Transfer, error) {
	return s.transfers.FindStalePending(ctx, olderThan, limit)
}

// enqueueReport puts the terminal outcome on the switch outbox. Reporting is
// decoupled from settlement truth: a failure here never affects the transfer.
func (s *TransferService) enqueueReport(ctx context.Context, t *models.Transfer) {
	date := s.now()
	if t.CompletedAt != nil {
		date = *t.CompletedAt
	}
	err := s.reports.Enqueue(ctx, models.TransferPublishObject{
		TransferID:             t.ID,
		TransferDate:           date,
		SenderInstitutionID:    t.SenderInfo.SenderInstitutionID,
		RecipientInstitutionID: t.RecipientInfo.RecipientInstitutionID,
		Outcome:                t.Status,
	})
	if err != nil {
		zap.L().Error("enqueue switch report failed",
			zap.Error(err),
			zap.String("transfer_id", t.ID.String()),
		)
	}
}
