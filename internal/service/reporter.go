package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/osanpay/remittance-core/internal/observability"
	"github.com/osanpay/remittance-core/internal/store"
	"github.com/osanpay/remittance-core/internal/switchclient"
)

// SwitchReporter drains the outcome outbox to the switch with at-least-once
// delivery. Delivery failures reschedule the report with exponential
// backoff; the report never mutates transfer state, so a crash between
// terminal transition and delivery only delays the report.
type SwitchReporter struct {
	reports store.ReportStore
	client  switchclient.Client

	baseBackoff time.Duration
	maxBackoff  time.Duration
	now         func() time.Time
}

func NewSwitchReporter(reports store.ReportStore, client switchclient.Client) *SwitchReporter {
	return &SwitchReporter{
		reports:     reports,
		client:      client,
		baseBackoff: 2 * time.Second,
		maxBackoff:  5 * time.Minute,
		now:         time.Now,
	}
}

// WithBackoff overrides the retry schedule (tests).
func (r *SwitchReporter) WithBackoff(base, max time.Duration) *SwitchReporter {
	if base > 0 {
		r.baseBackoff = base
	}
	if max > 0 {
		r.maxBackoff = max
	}
	return r
}

// WithClock overrides the time source (tests).
func (r *SwitchReporter) WithClock(now func() time.Time) *SwitchReporter {
	r.now = now
	return r
}

// Drain publishes up to batch due reports. Returns the number delivered.
func (r *SwitchReporter) Drain(ctx context.Context, batch int) (int, error) {
	due, err := r.reports.ListDue(ctx, r.now(), batch)
	if err != nil {
		return 0, err
	}

	delivered := 0
	for _, pending := range due {
		if ctx.Err() != nil {
			return delivered, ctx.Err()
		}

		if err := r.client.PublishOutcome(ctx, pending.Publish); err != nil {
			next := r.now().Add(r.backoff(pending.Attempts + 1))
			if markErr := r.reports.MarkAttempted(ctx, pending.Publish.TransferID, next, err.Error()); markErr != nil {
				zap.L().Error("switch report reschedule failed",
					zap.Error(markErr),
					zap.String("transfer_id", pending.Publish.TransferID.String()),
				)
			}
			observability.IncrementSwitchReport("failed")
			zap.L().Warn("switch report delivery failed",
				zap.Error(err),
				zap.String("transfer_id", pending.Publish.TransferID.String()),
				zap.Int("attempts", pending.Attempts+1),
				zap.Time("next_attempt", next),
			)
			continue
		}

		if err := r.reports.MarkDelivered(ctx, pending.Publish.TransferID); err != nil {
			// Delivered but not marked; the next pass re-sends and the
			// switch dedupes on transfer id.
			zap.L().Error("switch report mark-delivered failed",
				zap.Error(err),
				zap.String("transfer_id", pending.Publish.TransferID.String()),
			)
			continue
		}
		observability.IncrementSwitchReport("delivered")
		delivered++
	}
	return delivered, nil
}

func (r *SwitchReporter) backoff(attempts int) time.Duration {
	d := r.baseBackoff
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= r.maxBackoff {
			return r.maxBackoff
		}
	}
	return d
}
