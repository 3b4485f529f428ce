package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/osanpay/remittance-core/internal/domain"
	"github.com/osanpay/remittance-core/internal/switchclient"
)

func TestReporterDeliversTerminalOutcomes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tr := f.initiateApproved(t, "rep-1")
	require.NoError(t, f.transfers.ApplySettlementEvent(ctx, successOutcome("evt-rep-1", tr.ID, "sw-rep")))

	client := switchclient.NewMockClient()
	reporter := NewSwitchReporter(f.reports, client)

	delivered, err := reporter.Drain(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 1, delivered)

	pub, ok := client.Published(tr.ID)
	require.True(t, ok)
	require.Equal(t, domain.TransferStatusCompleted, pub.Outcome)

	// Delivered reports leave the outbox.
	due, err := f.reports.ListDue(ctx, time.Now().Add(time.Hour), 10)
	require.NoError(t, err)
	require.Empty(t, due)
}

func TestReporterRetriesWithBackoff(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tr := f.initiateApproved(t, "rep-retry")
	require.NoError(t, f.transfers.ApplySettlementEvent(ctx, successOutcome("evt-rep-2", tr.ID, "sw-rep-2")))

	client := switchclient.NewMockClient()
	client.FailFirst = 1
	reporter := NewSwitchReporter(f.reports, client).WithBackoff(time.Millisecond, time.Second)

	delivered, err := reporter.Drain(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 0, delivered)

	// The failed report is rescheduled, not dropped.
	due, err := f.reports.ListDue(ctx, time.Now().Add(time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	require.Equal(t, 1, due[0].Attempts)
	require.NotEmpty(t, due[0].LastError)

	time.Sleep(5 * time.Millisecond)
	delivered, err = reporter.Drain(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 1, delivered)
	require.Equal(t, 2, client.Attempts())

	_, ok := client.Published(tr.ID)
	require.True(t, ok)

	// Delivery never touches the transfer itself.
	got, err := f.transfers.Get(ctx, tr.ID)
	require.NoError(t, err)
	require.Equal(t, domain.TransferStatusCompleted, got.Status)
}

func TestReporterDrainHonorsBatchLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, key := range []string{"rep-b1", "rep-b2", "rep-b3"} {
		tr := f.initiateApproved(t, key)
		require.NoError(t, f.transfers.ApplySettlementEvent(ctx, successOutcome("evt-"+key, tr.ID, "sw-"+key)))
	}

	client := switchclient.NewMockClient()
	reporter := NewSwitchReporter(f.reports, client)

	delivered, err := reporter.Drain(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, 2, delivered)

	delivered, err = reporter.Drain(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, 1, delivered)
}
