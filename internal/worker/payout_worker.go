package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Big6ixxx/sendzz/internal/domain"
	"github.com/Big6ixxx/sendzz/internal/observability"
	"go.uber.org/zap"
)

// PayoutReconciler is the part of the withdrawal service the payout worker drives.
type PayoutReconciler interface {
	ReconcileStaleWithdrawals(ctx context.Context, limit int32) (int, error)
	ManualReviewQueueSize(ctx context.Context) (int, error)
}

// WebhookReplayer reapplies stored webhook events that never finished.
type WebhookReplayer interface {
	ReplayUnprocessed(ctx context.Context, provider string, limit int32) (int, error)
}

// PayoutWorker settles payouts whose provider callback never arrived. Each
// tick it polls the provider for stale processing withdrawals, replays
// unprocessed webhook events and refreshes the manual review gauge.
type PayoutWorker struct {
	withdrawals  PayoutReconciler
	webhooks     WebhookReplayer
	pollInterval time.Duration
	batchSize    int32
	stopCh       chan struct{}
	stopOnce     sync.Once
}

// NewPayoutWorker creates a new PayoutWorker instance.
func NewPayoutWorker(withdrawals PayoutReconciler, webhooks WebhookReplayer) *PayoutWorker {
	return &PayoutWorker{
		withdrawals:  withdrawals,
		webhooks:     webhooks,
		pollInterval: 5 * time.Minute,
		batchSize:    50,
		stopCh:       make(chan struct{}),
	}
}

// WithPollInterval sets the poll interval for the worker.
func (w *PayoutWorker) WithPollInterval(interval time.Duration) *PayoutWorker {
	if interval > 0 {
		w.pollInterval = interval
	}
	return w
}

// WithBatchSize sets the batch size for the worker.
func (w *PayoutWorker) WithBatchSize(size int32) *PayoutWorker {
	if size > 0 {
		w.batchSize = size
	}
	return w
}

// Start runs in a loop until Stop is called or the context is canceled.
func (w *PayoutWorker) Start(ctx context.Context) {
	zap.L().Info("payout worker starting", zap.Duration("interval", w.pollInterval), zap.Int32("batch_size", w.batchSize))

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			zap.L().Info("payout worker context canceled")
			return
		case <-w.stopCh:
			zap.L().Info("payout worker stop signal received")
			return
		case <-ticker.C:
			w.processBatch(ctx)
		}
	}
}

// Stop signals the worker to stop. Safe to call more than once.
func (w *PayoutWorker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
}

func (w *PayoutWorker) processBatch(ctx context.Context) {
	if err := w.ProcessOnce(ctx); err != nil {
		observability.IncrementWorkerRun("payout", "failed")
		zap.L().Error("payout reconciliation batch failed", zap.Error(err))
		return
	}
	observability.IncrementWorkerRun("payout", "success")
}

// ProcessOnce processes a single batch immediately.
func (w *PayoutWorker) ProcessOnce(ctx context.Context) error {
	var errs []error

	settled, err := w.withdrawals.ReconcileStaleWithdrawals(ctx, w.batchSize)
	if err != nil {
		errs = append(errs, fmt.Errorf("reconcile stale withdrawals: %w", err))
	}

	replayed := 0
	for _, provider := range []string{domain.ProviderPaycrest, domain.ProviderDeposit} {
		n, err := w.webhooks.ReplayUnprocessed(ctx, provider, w.batchSize)
		replayed += n
		if err != nil {
			errs = append(errs, fmt.Errorf("replay %s webhooks: %w", provider, err))
		}
	}

	size, err := w.withdrawals.ManualReviewQueueSize(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("count manual review queue: %w", err))
	} else {
		observability.SetManualReviewQueueSize(size)
		if size > 0 {
			zap.L().Warn("withdrawals awaiting manual review", zap.Int("count", size))
		}
	}

	if settled > 0 || replayed > 0 {
		zap.L().Info("payout reconciliation batch", zap.Int("settled", settled), zap.Int("replayed", replayed))
	}
	return errors.Join(errs...)
}

// Run starts the worker in a goroutine and returns a function that stops it.
func (w *PayoutWorker) Run(ctx context.Context) func() {
	go w.Start(ctx)
	return w.Stop
}

func (w *PayoutWorker) String() string {
	return fmt.Sprintf("PayoutWorker(interval=%v, batch=%d)", w.pollInterval, w.batchSize)
}
