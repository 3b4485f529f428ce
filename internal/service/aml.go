package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/osanpay/remittance-core/internal/amlclient"
	"github.com/osanpay/remittance-core/internal/domain"
	"github.com/osanpay/remittance-core/internal/models"
	"github.com/osanpay/remittance-core/internal/observability"
	"github.com/osanpay/remittance-core/internal/store"
)

// AmlGate submits transfer attributes to the external validator and applies
// the decision to the state machine. Concurrent screenings for the same
// transfer id collapse into one in-flight request; every caller observes the
// same resolved response. Validator unavailability is transient: the
// transfer stays PENDING and the caller owns the retry policy.
type AmlGate struct {
	client      amlclient.Client
	validations store.AmlStore
	transfers   *TransferService
	group       singleflight.Group

	maxAttempts int
	baseBackoff time.Duration
}

func NewAmlGate(client amlclient.Client, validations store.AmlStore, transfers *TransferService) *AmlGate {
	return &AmlGate{
		client:      client,
		validations: validations,
		transfers:   transfers,
		maxAttempts: 3,
		baseBackoff: 200 * time.Millisecond,
	}
}

// WithRetryPolicy overrides the attempt budget and base backoff.
func (g *AmlGate) WithRetryPolicy(maxAttempts int, baseBackoff time.Duration) *AmlGate {
	if maxAttempts > 0 {
		g.maxAttempts = maxAttempts
	}
	if baseBackoff > 0 {
		g.baseBackoff = baseBackoff
	}
	return g
}

// Screen validates the transfer's parties and applies the decision. A
// transfer that is already resolved or terminal is left untouched.
func (g *AmlGate) Screen(ctx context.Context, transferID uuid.UUID) error {
	t, err := g.transfers.Get(ctx, transferID)
	if err != nil {
		return err
	}
	if t.AmlResponse != nil || t.IsTerminal() {
		return nil
	}

	resp, err := g.screenOnce(ctx, t)
	if err != nil {
		return err
	}
	return g.transfers.ApplyAmlResult(ctx, transferID, resp)
}

// screenOnce collapses concurrent submissions per transfer id into a single
// upstream request.
func (g *AmlGate) screenOnce(ctx context.Context, t *models.Transfer) (models.AmlValidationResponse, error) {
	v, err, _ := g.group.Do(t.ID.String(), func() (any, error) {
		return g.validate(ctx, t)
	})
	if err != nil {
		return models.AmlValidationResponse{}, err
	}
	return v.(models.AmlValidationResponse), nil
}

func (g *AmlGate) validate(ctx context.Context, t *models.Transfer) (models.AmlValidationResponse, error) {
	req := amlclient.ValidationRequest{
		FullName:     t.RecipientInfo.FullName,
		AddressState: t.RecipientInfo.AddressState,
		DateOfBirth:  t.RecipientInfo.DateOfBirth,
		CURP:         t.RecipientInfo.CURP(),
		Amount:       t.AmountSent,
	}

	var lastErr error
	for attempt := 1; attempt <= g.maxAttempts; attempt++ {
		result, err := g.client.Validate(ctx, req)
		if err == nil {
			resp := models.AmlValidationResponse{
				ExternalValidationID: result.ExternalValidationID,
				RiskLevel:            result.RiskLevel,
				Score:                result.Score,
				BlockTransfer:        result.BlockTransfer,
			}
			g.record(ctx, t, req, &resp)
			observability.IncrementAmlRequest("resolved")
			return resp, nil
		}
		lastErr = err
		observability.IncrementAmlRequest("error")
		zap.L().Warn("aml validator attempt failed",
			zap.Error(err),
			zap.String("transfer_id", t.ID.String()),
			zap.Int("attempt", attempt),
		)

		if errors.Is(err, context.Canceled) {
			return models.AmlValidationResponse{}, err
		}
		if attempt < g.maxAttempts {
			select {
			case <-ctx.Done():
				return models.AmlValidationResponse{}, ctx.Err()
			case <-time.After(g.baseBackoff << (attempt - 1)):
			}
		}
	}

	g.record(ctx, t, req, nil)
	observability.IncrementAmlRequest("unavailable")
	return models.AmlValidationResponse{}, fmt.Errorf("%w: %v", domain.ErrServiceUnavailable, lastErr)
}

// record persists the immutable validation attempt. Result is nil when the
// validator never answered.
func (g *AmlGate) record(ctx context.Context, t *models.Transfer, req amlclient.ValidationRequest, resp *models.AmlValidationResponse) {
	err := g.validations.InsertValidation(ctx, models.AmlValidation{
		CreatedAt:     time.Now(),
		RailPaymentID: t.RailPaymentID,
		TransferID:    t.ID,
		Amount:        req.Amount,
		FullName:      req.FullName,
		AddressState:  req.AddressState,
		DateOfBirth:   req.DateOfBirth,
		CURP:          req.CURP,
		Result:        resp,
	})
	if err != nil {
		zap.L().Error("persist aml validation failed",
			zap.Error(err),
			zap.String("transfer_id", t.ID.String()),
		)
	}
}
