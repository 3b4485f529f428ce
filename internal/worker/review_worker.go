package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/osanpay/remittance-core/internal/observability"
	"github.com/osanpay/remittance-core/internal/service"
	"github.com/osanpay/remittance-core/internal/store"
)

// ReviewWorker surfaces transfers stuck in PENDING past the expected
// settlement horizon and keeps the operational gauges current. It never
// mutates state; stuck transfers land on the gauge and the logs for the
// operations runbook.
type ReviewWorker struct {
	transfers *service.TransferService
	dlq       store.DeadLetterStore
	interval  time.Duration
	stuckAge  time.Duration
	batchSize int
	stopCh    chan struct{}
	stopOnce  sync.Once
}

func NewReviewWorker(transfers *service.TransferService) *ReviewWorker {
	return &ReviewWorker{
		transfers: transfers,
		interval:  time.Minute,
		stuckAge:  30 * time.Minute,
		batchSize: 100,
		stopCh:    make(chan struct{}),
	}
}

// WithInterval updates the run interval.
func (w *ReviewWorker) WithInterval(interval time.Duration) *ReviewWorker {
	if interval > 0 {
		w.interval = interval
	}
	return w
}

// WithDeadLetters also gauges the dead-letter queue size on each pass.
func (w *ReviewWorker) WithDeadLetters(dlq store.DeadLetterStore) *ReviewWorker {
	w.dlq = dlq
	return w
}

// WithStuckAge updates the PENDING age threshold.
func (w *ReviewWorker) WithStuckAge(age time.Duration) *ReviewWorker {
	if age > 0 {
		w.stuckAge = age
	}
	return w
}

// Start blocks and scans for stuck transfers at the configured interval.
func (w *ReviewWorker) Start(ctx context.Context) {
	zap.L().Info("review worker starting",
		zap.Duration("interval", w.interval),
		zap.Duration("stuck_age", w.stuckAge),
	)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			zap.L().Info("review worker context canceled")
			return
		case <-w.stopCh:
			zap.L().Info("review worker stop signal received")
			return
		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}

// Stop stops the running worker loop.
func (w *ReviewWorker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
}

// Run starts the worker in a goroutine and returns a stop function.
func (w *ReviewWorker) Run(ctx context.Context) func() {
	go w.Start(ctx)
	return w.Stop
}

func (w *ReviewWorker) runOnce(ctx context.Context) {
	cutoff := time.Now().Add(-w.stuckAge)
	stale, err := w.transfers.FindStalePending(ctx, cutoff, w.batchSize)
	if err != nil {
		observability.IncrementWorkerRun("review", "failed")
		zap.L().Error("stuck transfer scan failed", zap.Error(err))
		return
	}

	observability.SetStuckTransfers(len(stale))

	if w.dlq != nil {
		if letters, err := w.dlq.List(ctx, 1000); err == nil {
			observability.SetDeadLetterQueueSize(len(letters))
		}
	}

	for _, t := range stale {
		zap.L().Warn("transfer stuck in pending",
			zap.String("transfer_id", t.ID.String()),
			zap.Time("initiated_at", t.InitiatedAt),
			zap.Bool("aml_resolved", t.AmlResponse != nil),
		)
	}
	observability.IncrementWorkerRun("review", "success")
}
