package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Big6ixxx/sendzz/internal/observability"
	"go.uber.org/zap"
)

type TransferExpirer interface {
	ExpireStaleTransfers(ctx context.Context, limit int32) (int, error)
}

type WithdrawalExpirer interface {
	ExpireUnverifiedWithdrawals(ctx context.Context, limit int32) (int, error)
}

// ExpiryWorker refunds unclaimed transfers and unlocks withdrawals whose
// verification code expired unused.
type ExpiryWorker struct {
	transfers   TransferExpirer
	withdrawals WithdrawalExpirer
	interval    time.Duration
	batchSize   int32
	stopCh      chan struct{}
	stopOnce    sync.Once
}

func NewExpiryWorker(transfers TransferExpirer, withdrawals WithdrawalExpirer) *ExpiryWorker {
	return &ExpiryWorker{
		transfers:   transfers,
		withdrawals: withdrawals,
		interval:    time.Minute,
		batchSize:   50,
		stopCh:      make(chan struct{}),
	}
}

func (w *ExpiryWorker) WithInterval(interval time.Duration) *ExpiryWorker {
	if interval > 0 {
		w.interval = interval
	}
	return w
}

func (w *ExpiryWorker) WithBatchSize(size int32) *ExpiryWorker {
	if size > 0 {
		w.batchSize = size
	}
	return w
}

// Start blocks and sweeps at the configured interval.
func (w *ExpiryWorker) Start(ctx context.Context) {
	zap.L().Info("expiry worker starting", zap.Duration("interval", w.interval))
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			zap.L().Info("expiry worker context canceled")
			return
		case <-w.stopCh:
			zap.L().Info("expiry worker stop signal received")
			return
		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}

func (w *ExpiryWorker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
}

func (w *ExpiryWorker) Run(ctx context.Context) func() {
	go w.Start(ctx)
	return w.Stop
}

// SweepOnce runs both sweeps and reports how many records each expired.
func (w *ExpiryWorker) SweepOnce(ctx context.Context) (transfers, withdrawals int, err error) {
	var errs []error
	transfers, terr := w.transfers.ExpireStaleTransfers(ctx, w.batchSize)
	if terr != nil {
		errs = append(errs, fmt.Errorf("expire transfers: %w", terr))
	}
	withdrawals, werr := w.withdrawals.ExpireUnverifiedWithdrawals(ctx, w.batchSize)
	if werr != nil {
		errs = append(errs, fmt.Errorf("expire withdrawals: %w", werr))
	}
	return transfers, withdrawals, errors.Join(errs...)
}

func (w *ExpiryWorker) runOnce(ctx context.Context) {
	transfers, withdrawals, err := w.SweepOnce(ctx)
	if transfers > 0 || withdrawals > 0 {
		zap.L().Info("expiry sweep", zap.Int("transfers", transfers), zap.Int("withdrawals", withdrawals))
	}
	if err != nil {
		observability.IncrementWorkerRun("expiry", "failed")
		zap.L().Error("expiry sweep failed", zap.Error(err))
		return
	}
	observability.IncrementWorkerRun("expiry", "success")
}
