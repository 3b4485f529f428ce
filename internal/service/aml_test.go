package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/osanpay/remittance-core/internal/amlclient"
	"github.com/osanpay/remittance-core/internal/domain"
	"github.com/osanpay/remittance-core/internal/store/memory"
)

// gatedClient blocks every Validate call until released, so a test can pile
// up concurrent screenings while the first request is in flight.
type gatedClient struct {
	inner   *amlclient.MockClient
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGatedClient() *gatedClient {
	return &gatedClient{
		inner:   amlclient.NewMockClient(),
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (c *gatedClient) Validate(ctx context.Context, req amlclient.ValidationRequest) (amlclient.ValidationResult, error) {
	c.once.Do(func() { close(c.started) })
	<-c.release
	return c.inner.Validate(ctx, req)
}

type failingClient struct {
	calls int
}

func (c *failingClient) Validate(context.Context, amlclient.ValidationRequest) (amlclient.ValidationResult, error) {
	c.calls++
	return amlclient.ValidationResult{}, errors.New("validator unreachable")
}

func TestScreenConcurrentCallsCollapse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tr, err := f.transfers.Initiate(ctx, validInitiateRequest("sf-1"))
	require.NoError(t, err)
	f.seedRate(t, "MXN", "USD", "0.058", tr.InitiatedAt.Add(-time.Hour))

	client := newGatedClient()
	gate := NewAmlGate(client, memory.NewAmlStore(), f.transfers)

	var wg sync.WaitGroup
	errs := make([]error, 10)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = gate.Screen(ctx, tr.ID)
		}(i)
	}

	<-client.started
	time.Sleep(50 * time.Millisecond)
	close(client.release)
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	require.Equal(t, int64(1), client.inner.Calls())

	got, err := f.transfers.Get(ctx, tr.ID)
	require.NoError(t, err)
	require.NotNil(t, got.AmlResponse)
	require.Equal(t, domain.TransferStatusPending, got.Status)
}

func TestScreenBlockedRecipientFailsTransfer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := validInitiateRequest("sf-block")
	req.RecipientInfo.FullName = "BLOCKED PERSON"
	tr, err := f.transfers.Initiate(ctx, req)
	require.NoError(t, err)

	gate := NewAmlGate(amlclient.NewMockClient(), memory.NewAmlStore(), f.transfers)
	require.NoError(t, gate.Screen(ctx, tr.ID))

	got, err := f.transfers.Get(ctx, tr.ID)
	require.NoError(t, err)
	require.Equal(t, domain.TransferStatusFailed, got.Status)
	require.Equal(t, domain.ReasonAmlBlocked, *got.CancelReason)
	require.True(t, got.AmlResponse.BlockTransfer)
	require.True(t, got.AmlResponse.Score.Equal(decimal.NewFromInt(95)))
}

func TestScreenValidatorUnavailableLeavesPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tr, err := f.transfers.Initiate(ctx, validInitiateRequest("sf-down"))
	require.NoError(t, err)

	client := &failingClient{}
	validations := memory.NewAmlStore()
	gate := NewAmlGate(client, validations, f.transfers).
		WithRetryPolicy(2, time.Millisecond)

	err = gate.Screen(ctx, tr.ID)
	require.ErrorIs(t, err, domain.ErrServiceUnavailable)
	require.ErrorIs(t, err, domain.ErrTransientUnavailable)
	require.Equal(t, 2, client.calls)

	got, err := f.transfers.Get(ctx, tr.ID)
	require.NoError(t, err)
	require.Equal(t, domain.TransferStatusPending, got.Status)
	require.Nil(t, got.AmlResponse)

	// The exhausted attempt is still recorded, without a result.
	recs, err := validations.ListValidations(ctx, tr.ID)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Nil(t, recs[0].Result)
}

func TestScreenResolvedTransferIsNoop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tr := f.initiateApproved(t, "sf-resolved")

	client := &failingClient{}
	gate := NewAmlGate(client, memory.NewAmlStore(), f.transfers)

	require.NoError(t, gate.Screen(ctx, tr.ID))
	require.Equal(t, 0, client.calls)
}
