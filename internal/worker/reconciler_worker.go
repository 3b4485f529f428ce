package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/osanpay/remittance-core/internal/observability"
	"github.com/osanpay/remittance-core/internal/service"
)

// ReconcilerWorker ticks the reconciler's retry pass so buffered settlement
// events are replayed once AML resolves, and stale ones escalate.
type ReconcilerWorker struct {
	reconciler *service.Reconciler
	interval   time.Duration
	stopCh     chan struct{}
	stopOnce   sync.Once
}

func NewReconcilerWorker(reconciler *service.Reconciler) *ReconcilerWorker {
	return &ReconcilerWorker{
		reconciler: reconciler,
		interval:   5 * time.Second,
		stopCh:     make(chan struct{}),
	}
}

// WithInterval updates the run interval.
func (w *ReconcilerWorker) WithInterval(interval time.Duration) *ReconcilerWorker {
	if interval > 0 {
		w.interval = interval
	}
	return w
}

// Start blocks and runs the retry pass at the configured interval.
func (w *ReconcilerWorker) Start(ctx context.Context) {
	zap.L().Info("reconciler worker starting", zap.Duration("interval", w.interval))
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			zap.L().Info("reconciler worker context canceled")
			return
		case <-w.stopCh:
			zap.L().Info("reconciler worker stop signal received")
			return
		case <-ticker.C:
			w.reconciler.RetryPass(ctx)
			observability.IncrementWorkerRun("reconciler", "success")
		}
	}
}

// Stop stops the running worker loop.
func (w *ReconcilerWorker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
}

// Run starts the worker in a goroutine and returns a stop function.
func (w *ReconcilerWorker) Run(ctx context.Context) func() {
	go w.Start(ctx)
	return w.Stop
}
