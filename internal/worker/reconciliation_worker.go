package worker

import (
	"context"
	"sync"
	"time"

	"github.com/Big6ixxx/sendzz/internal/observability"
	"github.com/Big6ixxx/sendzz/internal/service"
	"go.uber.org/zap"
)

// LedgerChecker compares balance rows with the ledger journal.
type LedgerChecker interface {
	Run(ctx context.Context) (service.ReconciliationReport, error)
}

// ReconciliationWorker audits the ledger on a fixed schedule. It only
// reports; drift is never corrected automatically.
type ReconciliationWorker struct {
	svc      LedgerChecker
	interval time.Duration
	timeout  time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewReconciliationWorker(svc LedgerChecker) *ReconciliationWorker {
	return &ReconciliationWorker{
		svc:      svc,
		interval: time.Hour,
		timeout:  5 * time.Minute,
		stopCh:   make(chan struct{}),
	}
}

func (w *ReconciliationWorker) WithInterval(interval time.Duration) *ReconciliationWorker {
	if interval > 0 {
		w.interval = interval
	}
	return w
}

// WithTimeout bounds a single audit pass.
func (w *ReconciliationWorker) WithTimeout(timeout time.Duration) *ReconciliationWorker {
	if timeout > 0 {
		w.timeout = timeout
	}
	return w
}

// Start audits once immediately, then on every tick until stopped.
func (w *ReconciliationWorker) Start(ctx context.Context) {
	zap.L().Info("ledger audit worker starting", zap.Duration("interval", w.interval))
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	_, _ = w.RunOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			zap.L().Info("ledger audit worker stopped")
			return
		case <-ticker.C:
			_, _ = w.RunOnce(ctx)
		}
	}
}

func (w *ReconciliationWorker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
}

// Run starts the worker in a goroutine and returns its stop function.
func (w *ReconciliationWorker) Run(ctx context.Context) func() {
	go w.Start(ctx)
	return w.Stop
}

// RunOnce performs a single audit pass and records its outcome.
func (w *ReconciliationWorker) RunOnce(ctx context.Context) (service.ReconciliationReport, error) {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	start := time.Now()
	report, err := w.svc.Run(ctx)
	if err != nil {
		observability.IncrementWorkerRun("reconciliation", "failed")
		zap.L().Error("ledger audit failed", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
		return report, err
	}

	result := "success"
	switch {
	case report.NegativeBalances > 0:
		result = "negative_balance"
	case report.DriftRows > 0:
		result = "drift"
	}
	observability.IncrementWorkerRun("reconciliation", result)
	zap.L().Info("ledger audit finished",
		zap.String("result", result),
		zap.Int("drift_rows", report.DriftRows),
		zap.Int("negative_balances", report.NegativeBalances),
		zap.Duration("elapsed", time.Since(start)),
	)
	return report, nil
}
