// Package ledger enforces the per-user balance invariants. Every mutation is a
// compare-and-set against the values just read, retried a bounded number of
// times, and journalled under a caller supplied reference so replaying the
// same step is a no-op.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/Big6ixxx/sendzz/internal/domain"
	"github.com/Big6ixxx/sendzz/internal/models"
	"github.com/Big6ixxx/sendzz/internal/observability"
	"github.com/Big6ixxx/sendzz/internal/repository"
	"github.com/google/uuid"
)

const maxCASAttempts = 5

// Queries is the subset of repository.Querier the ledger needs.
type Queries interface {
	EnsureBalance(ctx context.Context, userID uuid.UUID, asset string) error
	GetBalance(ctx context.Context, userID uuid.UUID, asset string) (models.Balance, error)
	CompareAndSwapBalance(ctx context.Context, arg repository.CompareAndSwapBalanceParams) (int64, error)
	LedgerEntryExists(ctx context.Context, userID uuid.UUID, kind, reference string) (bool, error)
	InsertLedgerEntry(ctx context.Context, arg repository.InsertLedgerEntryParams) error
}

type Ledger struct {
	asset string
}

func New() *Ledger {
	return &Ledger{asset: domain.AssetUSDC}
}

// Balance returns zeros for a user without a balance row.
func (l *Ledger) Balance(ctx context.Context, q Queries, userID uuid.UUID) (models.Balance, error) {
	b, err := q.GetBalance(ctx, userID, l.asset)
	if errors.Is(err, repository.ErrNotFound) {
		return models.Balance{UserID: userID, Asset: l.asset}, nil
	}
	if err != nil {
		return models.Balance{}, fmt.Errorf("get balance: %w", err)
	}
	return b, nil
}

// Credit adds to available, creating the balance row if needed.
func (l *Ledger) Credit(ctx context.Context, q Queries, userID uuid.UUID, amount int64, ref string) error {
	return l.mutate(ctx, q, domain.EntryCredit, userID, amount, ref, func(b models.Balance) (int64, int64, error) {
		if b.Available > math.MaxInt64-amount {
			return 0, 0, fmt.Errorf("credit overflows balance of %s", userID)
		}
		return b.Available + amount, b.Locked, nil
	})
}

// Debit removes from available.
func (l *Ledger) Debit(ctx context.Context, q Queries, userID uuid.UUID, amount int64, ref string) error {
	return l.mutate(ctx, q, domain.EntryDebit, userID, amount, ref, func(b models.Balance) (int64, int64, error) {
		if b.Available < amount {
			return 0, 0, models.ErrInsufficientFunds
		}
		return b.Available - amount, b.Locked, nil
	})
}

// Lock moves funds from available to locked.
func (l *Ledger) Lock(ctx context.Context, q Queries, userID uuid.UUID, amount int64, ref string) error {
	return l.mutate(ctx, q, domain.EntryLock, userID, amount, ref, func(b models.Balance) (int64, int64, error) {
		if b.Available < amount {
			return 0, 0, models.ErrInsufficientFunds
		}
		return b.Available - amount, b.Locked + amount, nil
	})
}

// Unlock moves funds from locked back to available.
func (l *Ledger) Unlock(ctx context.Context, q Queries, userID uuid.UUID, amount int64, ref string) error {
	return l.mutate(ctx, q, domain.EntryUnlock, userID, amount, ref, func(b models.Balance) (int64, int64, error) {
		if b.Locked < amount {
			return 0, 0, models.ErrInsufficientLocked
		}
		return b.Available + amount, b.Locked - amount, nil
	})
}

// Release removes locked funds that have left the system.
func (l *Ledger) Release(ctx context.Context, q Queries, userID uuid.UUID, amount int64, ref string) error {
	return l.mutate(ctx, q, domain.EntryRelease, userID, amount, ref, func(b models.Balance) (int64, int64, error) {
		if b.Locked < amount {
			return 0, 0, models.ErrInsufficientLocked
		}
		return b.Available, b.Locked - amount, nil
	})
}

type applyFunc func(b models.Balance) (available, locked int64, err error)

func (l *Ledger) mutate(ctx context.Context, q Queries, kind string, userID uuid.UUID, amount int64, ref string, apply applyFunc) error {
	if amount <= 0 {
		return models.ErrInvalidAmount
	}
	if ref == "" {
		return fmt.Errorf("%s: empty ledger reference", kind)
	}

	done, err := q.LedgerEntryExists(ctx, userID, kind, ref)
	if err != nil {
		return fmt.Errorf("check ledger entry: %w", err)
	}
	if done {
		return nil
	}

	if kind == domain.EntryCredit {
		if err := q.EnsureBalance(ctx, userID, l.asset); err != nil {
			return fmt.Errorf("ensure balance: %w", err)
		}
	}

	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		b, err := q.GetBalance(ctx, userID, l.asset)
		if errors.Is(err, repository.ErrNotFound) {
			b = models.Balance{UserID: userID, Asset: l.asset}
			if kind != domain.EntryCredit {
				_, _, err := apply(b)
				return err
			}
		} else if err != nil {
			return fmt.Errorf("get balance: %w", err)
		}

		available, locked, err := apply(b)
		if err != nil {
			return err
		}

		n, err := q.CompareAndSwapBalance(ctx, repository.CompareAndSwapBalanceParams{
			UserID:        userID,
			Asset:         l.asset,
			PrevAvailable: b.Available,
			PrevLocked:    b.Locked,
			Available:     available,
			Locked:        locked,
		})
		if err != nil {
			return fmt.Errorf("update balance: %w", err)
		}
		if n == 1 {
			if err := q.InsertLedgerEntry(ctx, repository.InsertLedgerEntryParams{
				ID:        uuid.New(),
				UserID:    userID,
				Asset:     l.asset,
				Kind:      kind,
				Amount:    amount,
				Reference: ref,
			}); err != nil {
				return fmt.Errorf("journal %s %s: %w", kind, ref, err)
			}
			return nil
		}
		observability.IncrementLedgerConflict(kind)
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return models.ErrConcurrentUpdate
}
