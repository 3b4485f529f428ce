package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/osanpay/remittance-core/internal/observability"
	"github.com/osanpay/remittance-core/internal/service"
)

// ReporterWorker drains the switch outcome outbox in the background.
type ReporterWorker struct {
	reporter  *service.SwitchReporter
	interval  time.Duration
	batchSize int
	stopCh    chan struct{}
	stopOnce  sync.Once
}

func NewReporterWorker(reporter *service.SwitchReporter) *ReporterWorker {
	return &ReporterWorker{
		reporter:  reporter,
		interval:  10 * time.Second,
		batchSize: 25,
		stopCh:    make(chan struct{}),
	}
}

// WithInterval updates the run interval.
func (w *ReporterWorker) WithInterval(interval time.Duration) *ReporterWorker {
	if interval > 0 {
		w.interval = interval
	}
	return w
}

// WithBatchSize updates the per-pass delivery batch.
func (w *ReporterWorker) WithBatchSize(size int) *ReporterWorker {
	if size > 0 {
		w.batchSize = size
	}
	return w
}

// Start blocks and drains the outbox at the configured interval.
func (w *ReporterWorker) Start(ctx context.Context) {
	zap.L().Info("reporter worker starting",
		zap.Duration("interval", w.interval),
		zap.Int("batch", w.batchSize),
	)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			zap.L().Info("reporter worker context canceled")
			return
		case <-w.stopCh:
			zap.L().Info("reporter worker stop signal received")
			return
		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}

// Stop stops the running worker loop.
func (w *ReporterWorker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
}

// Run starts the worker in a goroutine and returns a stop function.
func (w *ReporterWorker) Run(ctx context.Context) func() {
	go w.Start(ctx)
	return w.Stop
}

func (w *ReporterWorker) runOnce(ctx context.Context) {
	delivered, err := w.reporter.Drain(ctx, w.batchSize)
	if err != nil {
		observability.IncrementWorkerRun("reporter", "failed")
		zap.L().Error("switch report drain failed", zap.Error(err))
		return
	}
	if delivered > 0 {
		zap.L().Info("switch reports delivered", zap.Int("count", delivered))
	}
	observability.IncrementWorkerRun("reporter", "success")
}
