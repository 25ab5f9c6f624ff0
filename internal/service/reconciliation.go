package service

import (
	"context"
	"fmt"

	"github.com/Big6ixxx/sendzz/internal/observability"
	"go.uber.org/zap"
)

// ReconciliationService verifies ledger integrity invariants.
type ReconciliationService struct {
	store QueryStore
}

// NewReconciliationService creates a reconciliation service.
func NewReconciliationService(store QueryStore) *ReconciliationService {
	return &ReconciliationService{store: store}
}

type ReconciliationReport struct {
	DriftRows        int
	NegativeBalances int
}

// Run compares every balance row with the sum of its journal entries.
// Balance rows never go negative under the ledger's own writes, so a
// negative value is reported separately as the more severe finding.
func (s *ReconciliationService) Run(ctx context.Context) (ReconciliationReport, error) {
	var report ReconciliationReport
	drift, err := s.store.Queries().ListLedgerDrift(ctx)
	if err != nil {
		return report, fmt.Errorf("run ledger drift query: %w", err)
	}

	report.DriftRows = len(drift)
	observability.SetLedgerDrift(len(drift))
	for _, d := range drift {
		if d.Available < 0 || d.Locked < 0 {
			report.NegativeBalances++
			zap.L().Error("CRITICAL: negative balance detected",
				zap.String("user_id", d.UserID.String()),
				zap.String("asset", d.Asset),
				zap.Int64("available", d.Available),
				zap.Int64("locked", d.Locked),
			)
		}
		zap.L().Error("CRITICAL: ledger drift detected",
			zap.String("user_id", d.UserID.String()),
			zap.String("asset", d.Asset),
			zap.Int64("available", d.Available),
			zap.Int64("journal_available", d.JournalAvailable),
			zap.Int64("locked", d.Locked),
			zap.Int64("journal_locked", d.JournalLocked),
		)
	}
	if len(drift) > 0 {
		return report, nil
	}

	zap.L().Info("Ledger Balanced")
	return report, nil
}
