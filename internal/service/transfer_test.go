package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/osanpay/remittance-core/internal/domain"
	"github.com/osanpay/remittance-core/internal/models"
)

func TestInitiateCreatesPendingTransfer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tr, err := f.transfers.Initiate(ctx, validInitiateRequest("init-1"))
	require.NoError(t, err)
	require.Equal(t, domain.TransferStatusPending, tr.Status)
	require.NotEqual(t, uuid.Nil, tr.ID)
	require.True(t, tr.AmountSent.Equal(decimal.NewFromInt(1000)))
	require.Nil(t, tr.AmlResponse)
	require.Nil(t, tr.CompletedAt)
	require.Equal(t, tr.InitiatedAt, tr.UpdatedAt)
}

func TestInitiateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := validInitiateRequest("init-bad")
	req.AmountSent = decimal.Zero
	_, err := f.transfers.Initiate(ctx, req)
	require.True(t, domain.IsValidation(err))

	req = validInitiateRequest("init-bad-2")
	req.RecipientInfo.NationalIDs = nil
	_, err = f.transfers.Initiate(ctx, req)
	require.True(t, domain.IsValidation(err))

	req = validInitiateRequest("init-bad-3")
	req.RecipientInfo.NationalIDs = []models.NationalID{{Type: "DRIVERS_LICENSE", Value: "x"}}
	_, err = f.transfers.Initiate(ctx, req)
	require.True(t, domain.IsValidation(err))
}

func TestInitiateIdempotentReplay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.transfers.Initiate(ctx, validInitiateRequest("init-replay"))
	require.NoError(t, err)

	replay, err := f.transfers.Initiate(ctx, validInitiateRequest("init-replay"))
	require.ErrorIs(t, err, domain.ErrDuplicateRequest)
	require.Equal(t, first.ID, replay.ID)
}

func TestApplyAmlResultApprovedSetsFx(t *testing.T) {
	f := newFixture(t)
	tr := f.initiateApproved(t, "fx-1")

	require.Equal(t, domain.TransferStatusPending, tr.Status)
	require.NotNil(t, tr.AmlResponse)
	require.True(t, tr.FxRate.Equal(decimal.RequireFromString("0.058")))
	// 1000 MXN at 0.058 rounds to the 2-decimal USD scale.
	require.True(t, tr.AmountReceived.Equal(decimal.RequireFromString("58.00")),
		"got %s", tr.AmountReceived)
}

func TestApplyAmlResultBlockedFailsTransfer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tr, err := f.transfers.Initiate(ctx, validInitiateRequest("aml-block"))
	require.NoError(t, err)
	require.NoError(t, f.transfers.ApplyAmlResult(ctx, tr.ID, blockingAml("aml-x")))

	got, err := f.transfers.Get(ctx, tr.ID)
	require.NoError(t, err)
	require.Equal(t, domain.TransferStatusFailed, got.Status)
	require.NotNil(t, got.CancelReason)
	require.Equal(t, domain.ReasonAmlBlocked, *got.CancelReason)
	require.NotNil(t, got.CompletedAt)

	// A blocked transfer still reports its outcome to the switch.
	due, err := f.reports.ListDue(ctx, time.Now(), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	require.Equal(t, tr.ID, due[0].Publish.TransferID)
}

func TestApplyAmlResultReplaySameValidationIsNoop(t *testing.T) {
	f := newFixture(t)
	tr := f.initiateApproved(t, "aml-replay")

	require.NoError(t, f.transfers.ApplyAmlResult(context.Background(), tr.ID, passingAml("aml-aml-replay")))

	got, err := f.transfers.Get(context.Background(), tr.ID)
	require.NoError(t, err)
	require.Equal(t, domain.TransferStatusPending, got.Status)
}

func TestApplyAmlResultConflictingValidationRejected(t *testing.T) {
	f := newFixture(t)
	tr := f.initiateApproved(t, "aml-conflict")

	err := f.transfers.ApplyAmlResult(context.Background(), tr.ID, passingAml("aml-other"))
	require.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestApplyAmlResultMissingRateKeepsPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tr, err := f.transfers.Initiate(ctx, validInitiateRequest("fx-missing"))
	require.NoError(t, err)

	err = f.transfers.ApplyAmlResult(ctx, tr.ID, passingAml("aml-y"))
	require.ErrorIs(t, err, domain.ErrRateNotFound)
	require.ErrorIs(t, err, domain.ErrTransientUnavailable)

	got, err := f.transfers.Get(ctx, tr.ID)
	require.NoError(t, err)
	require.Equal(t, domain.TransferStatusPending, got.Status)
	require.Nil(t, got.AmlResponse)
}

func TestSettlementSuccessCompletesTransfer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tr := f.initiateApproved(t, "settle-1")

	require.NoError(t, f.transfers.ApplySettlementEvent(ctx, successOutcome("evt-1", tr.ID, "sw-900")))

	got, err := f.transfers.Get(ctx, tr.ID)
	require.NoError(t, err)
	require.Equal(t, domain.TransferStatusCompleted, got.Status)
	require.NotNil(t, got.SwitchTransferID)
	require.Equal(t, "sw-900", *got.SwitchTransferID)
	require.NotNil(t, got.CompletedAt)
	require.NotNil(t, got.SettlementEventID)
	require.Equal(t, "evt-1", *got.SettlementEventID)
}

func TestSettlementDuplicateEventIsNoop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tr := f.initiateApproved(t, "settle-dup")

	require.NoError(t, f.transfers.ApplySettlementEvent(ctx, successOutcome("evt-dup", tr.ID, "sw-1")))
	before, err := f.transfers.Get(ctx, tr.ID)
	require.NoError(t, err)

	require.NoError(t, f.transfers.ApplySettlementEvent(ctx, successOutcome("evt-dup", tr.ID, "sw-1")))
	after, err := f.transfers.Get(ctx, tr.ID)
	require.NoError(t, err)
	require.Equal(t, before.UpdatedAt, after.UpdatedAt)
}

func TestSettlementFailureFailsTransfer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tr := f.initiateApproved(t, "settle-fail")

	outcome := models.SettlementOutcome{
		EventID:       "evt-f",
		TransferID:    tr.ID,
		Succeeded:     false,
		FailureReason: "insufficient_liquidity",
	}
	require.NoError(t, f.transfers.ApplySettlementEvent(ctx, outcome))

	got, err := f.transfers.Get(ctx, tr.ID)
	require.NoError(t, err)
	require.Equal(t, domain.TransferStatusFailed, got.Status)
	require.Equal(t, "insufficient_liquidity", *got.CancelReason)
}

func TestSettlementBeforeAmlIsBuffered(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tr, err := f.transfers.Initiate(ctx, validInitiateRequest("settle-early"))
	require.NoError(t, err)

	err = f.transfers.ApplySettlementEvent(ctx, successOutcome("evt-early", tr.ID, "sw-2"))
	require.ErrorIs(t, err, ErrAwaitingAml)
	require.ErrorIs(t, err, domain.ErrInvalidState)

	got, err := f.transfers.Get(ctx, tr.ID)
	require.NoError(t, err)
	require.Equal(t, domain.TransferStatusPending, got.Status)
}

func TestSettlementOnTerminalTransferRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tr := f.initiateApproved(t, "settle-terminal")

	require.NoError(t, f.transfers.Cancel(ctx, tr.ID, "customer request"))

	err := f.transfers.ApplySettlementEvent(ctx, successOutcome("evt-late", tr.ID, "sw-3"))
	require.ErrorIs(t, err, domain.ErrInvalidState)
	require.NotErrorIs(t, err, ErrAwaitingAml)

	got, err := f.transfers.Get(ctx, tr.ID)
	require.NoError(t, err)
	require.Equal(t, domain.TransferStatusCancelled, got.Status)
}

func TestCancelPendingTransfer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tr := f.initiateApproved(t, "cancel-1")

	require.NoError(t, f.transfers.Cancel(ctx, tr.ID, "customer request"))

	got, err := f.transfers.Get(ctx, tr.ID)
	require.NoError(t, err)
	require.Equal(t, domain.TransferStatusCancelled, got.Status)
	require.Equal(t, "customer request", *got.CancelReason)
	require.NotNil(t, got.CompletedAt)
}

func TestCancelRequiresReason(t *testing.T) {
	f := newFixture(t)
	tr := f.initiateApproved(t, "cancel-reason")

	err := f.transfers.Cancel(context.Background(), tr.ID, "")
	require.True(t, domain.IsValidation(err))
}

func TestCancelAfterSettlementRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tr := f.initiateApproved(t, "cancel-late")

	require.NoError(t, f.transfers.ApplySettlementEvent(ctx, successOutcome("evt-c", tr.ID, "sw-4")))

	err := f.transfers.Cancel(ctx, tr.ID, "too late")
	require.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestFailForAmlTimeout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tr, err := f.transfers.Initiate(ctx, validInitiateRequest("timeout-1"))
	require.NoError(t, err)

	require.NoError(t, f.transfers.FailForAmlTimeout(ctx, tr.ID))

	got, err := f.transfers.Get(ctx, tr.ID)
	require.NoError(t, err)
	require.Equal(t, domain.TransferStatusFailed, got.Status)
	require.Equal(t, domain.ReasonAmlTimeout, *got.CancelReason)
}

func TestFailForAmlTimeoutLeavesResolvedTransferAlone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tr := f.initiateApproved(t, "timeout-resolved")

	require.NoError(t, f.transfers.FailForAmlTimeout(ctx, tr.ID))

	got, err := f.transfers.Get(ctx, tr.ID)
	require.NoError(t, err)
	require.Equal(t, domain.TransferStatusPending, got.Status)
}

func TestConcurrentSettlementAndCancelSerialized(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tr := f.initiateApproved(t, "race-1")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_ = f.transfers.ApplySettlementEvent(ctx, successOutcome("evt-race", tr.ID, "sw-5"))
	}()
	go func() {
		defer wg.Done()
		_ = f.transfers.Cancel(ctx, tr.ID, "racing cancel")
	}()
	wg.Wait()

	got, err := f.transfers.Get(ctx, tr.ID)
	require.NoError(t, err)
	// Exactly one of the two racing operations wins; either way the
	// transfer is terminal and internally consistent.
	switch got.Status {
	case domain.TransferStatusCompleted:
		require.NotNil(t, got.SettlementEventID)
		require.Nil(t, got.CancelReason)
	case domain.TransferStatusCancelled:
		require.Nil(t, got.SettlementEventID)
		require.Equal(t, "racing cancel", *got.CancelReason)
	default:
		t.Fatalf("unexpected status %s", got.Status)
	}
}

func TestTerminalTransferImmutable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tr := f.initiateApproved(t, "terminal-1")

	require.NoError(t, f.transfers.ApplySettlementEvent(ctx, successOutcome("evt-t", tr.ID, "sw-6")))

	require.ErrorIs(t, f.transfers.Cancel(ctx, tr.ID, "nope"), domain.ErrInvalidState)
	require.ErrorIs(t, f.transfers.ApplyAmlResult(ctx, tr.ID, passingAml("aml-late")), domain.ErrInvalidState)
	err := f.transfers.ApplySettlementEvent(ctx, successOutcome("evt-other", tr.ID, "sw-7"))
	require.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestAuditTrailRecordsTransitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tr := f.initiateApproved(t, "audit-1")

	require.NoError(t, f.transfers.ApplySettlementEvent(ctx, successOutcome("evt-a", tr.ID, "sw-8")))

	actions := make([]string, 0)
	for _, rec := range f.audit.Records() {
		if rec.EntityID == tr.ID.String() {
			actions = append(actions, rec.Action)
		}
	}
	require.Equal(t, []string{"initiated", "aml_approved", "settlement_completed"}, actions)
}
