package ledger

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/Big6ixxx/sendzz/internal/clock"
	"github.com/Big6ixxx/sendzz/internal/domain"
	"github.com/Big6ixxx/sendzz/internal/models"
	"github.com/Big6ixxx/sendzz/internal/repository"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newUser(t *testing.T, store *repository.MemoryStore) uuid.UUID {
	t.Helper()
	id := uuid.New()
	_, err := store.Queries().CreateUser(context.Background(), repository.CreateUserParams{
		ID: id, Email: id.String() + "@example.com", Role: domain.RoleUser,
	})
	require.NoError(t, err)
	return id
}

func TestBalanceOfUnknownUserIsZero(t *testing.T) {
	store := repository.NewMemoryStore(clock.RealClock{})
	b, err := New().Balance(context.Background(), store.Queries(), uuid.New())
	require.NoError(t, err)
	assert.Zero(t, b.Available)
	assert.Zero(t, b.Locked)
}

func TestMutations(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore(clock.RealClock{})
	l := New()
	q := store.Queries()
	user := newUser(t, store)

	require.NoError(t, l.Credit(ctx, q, user, 100, "deposit:1"))
	require.NoError(t, l.Lock(ctx, q, user, 30, "withdrawal:a:lock"))
	require.NoError(t, l.Debit(ctx, q, user, 20, "transfer:b:debit"))
	require.NoError(t, l.Release(ctx, q, user, 10, "withdrawal:a:release"))
	require.NoError(t, l.Unlock(ctx, q, user, 20, "withdrawal:a:unlock"))

	b, err := l.Balance(ctx, q, user)
	require.NoError(t, err)
	assert.Equal(t, int64(70), b.Available)
	assert.Equal(t, int64(0), b.Locked)

	assert.ErrorIs(t, l.Debit(ctx, q, user, 71, "transfer:c:debit"), models.ErrInsufficientFunds)
	assert.ErrorIs(t, l.Lock(ctx, q, user, 71, "withdrawal:d:lock"), models.ErrInsufficientFunds)
	assert.ErrorIs(t, l.Unlock(ctx, q, user, 1, "withdrawal:e:unlock"), models.ErrInsufficientLocked)
	assert.ErrorIs(t, l.Release(ctx, q, user, 1, "withdrawal:e:release"), models.ErrInsufficientLocked)
	assert.ErrorIs(t, l.Credit(ctx, q, user, 0, "zero"), models.ErrInvalidAmount)
	assert.ErrorIs(t, l.Debit(ctx, q, user, -5, "neg"), models.ErrInvalidAmount)

	drift, err := q.ListLedgerDrift(ctx)
	require.NoError(t, err)
	assert.Empty(t, drift)
}

func TestDebitWithoutBalanceRow(t *testing.T) {
	store := repository.NewMemoryStore(clock.RealClock{})
	user := newUser(t, store)
	err := New().Debit(context.Background(), store.Queries(), user, 1, "transfer:x:debit")
	assert.ErrorIs(t, err, models.ErrInsufficientFunds)
}

func TestReplayedReferenceIsNoOp(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore(clock.RealClock{})
	l := New()
	q := store.Queries()
	user := newUser(t, store)

	require.NoError(t, l.Credit(ctx, q, user, 40, "transfer:t1:refund"))
	require.NoError(t, l.Credit(ctx, q, user, 40, "transfer:t1:refund"))

	b, err := l.Balance(ctx, q, user)
	require.NoError(t, err)
	assert.Equal(t, int64(40), b.Available)

	entries, err := q.ListLedgerEntries(ctx, repository.ListLedgerEntriesParams{UserID: user, Limit: 10})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestConcurrentDebitsNeverOverdraw(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore(clock.RealClock{})
	l := New()
	user := newUser(t, store)
	require.NoError(t, l.Credit(ctx, store.Queries(), user, 50, "deposit:seed"))

	var wg sync.WaitGroup
	var ok, insufficient atomic.Int64
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := store.RunInTx(ctx, func(q repository.Querier) error {
				if i%2 == 0 {
					return l.Debit(ctx, q, user, 1, fmt.Sprintf("transfer:%d:debit", i))
				}
				return l.Lock(ctx, q, user, 1, fmt.Sprintf("withdrawal:%d:lock", i))
			})
			switch {
			case err == nil:
				ok.Add(1)
			case assert.ErrorIs(t, err, models.ErrInsufficientFunds):
				insufficient.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(50), ok.Load())
	assert.Equal(t, int64(50), insufficient.Load())

	b, err := l.Balance(ctx, store.Queries(), user)
	require.NoError(t, err)
	assert.Equal(t, int64(0), b.Available)
	assert.GreaterOrEqual(t, b.Locked, int64(0))
}

func TestTransfersConserveTotal(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore(clock.RealClock{})
	l := New()
	users := make([]uuid.UUID, 4)
	for i := range users {
		users[i] = newUser(t, store)
		require.NoError(t, l.Credit(ctx, store.Queries(), users[i], 1_000, fmt.Sprintf("deposit:%d", i)))
	}

	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			from, to := users[i%4], users[(i+1)%4]
			amount := int64(i%7 + 1)
			ref := fmt.Sprintf("transfer:%d", i)
			_ = store.RunInTx(ctx, func(q repository.Querier) error {
				if err := l.Debit(ctx, q, from, amount, ref+":debit"); err != nil {
					return err
				}
				return l.Credit(ctx, q, to, amount, ref+":credit")
			})
		}(i)
	}
	wg.Wait()

	var total int64
	for _, u := range users {
		b, err := l.Balance(ctx, store.Queries(), u)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, b.Available, int64(0))
		total += b.Total()
	}
	assert.Equal(t, int64(4_000), total)

	drift, err := store.Queries().ListLedgerDrift(ctx)
	require.NoError(t, err)
	assert.Empty(t, drift)
}

// losingQueries makes every compare-and-set lose.
type losingQueries struct {
	repository.Querier
}

func (losingQueries) CompareAndSwapBalance(context.Context, repository.CompareAndSwapBalanceParams) (int64, error) {
	return 0, nil
}

func TestRetriesExhausted(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore(clock.RealClock{})
	user := newUser(t, store)
	err := New().Credit(ctx, losingQueries{store.Queries()}, user, 10, "deposit:x")
	assert.ErrorIs(t, err, models.ErrConcurrentUpdate)
}
