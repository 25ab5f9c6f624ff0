package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Big6ixxx/sendzz/internal/clock"
	"github.com/Big6ixxx/sendzz/internal/domain"
	"github.com/Big6ixxx/sendzz/internal/testutil/pgtest"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type txStore interface {
	Queries() Querier
	RunInTx(ctx context.Context, fn func(q Querier) error) error
}

func stores(t *testing.T) map[string]func(t *testing.T) txStore {
	return map[string]func(t *testing.T) txStore{
		"memory": func(t *testing.T) txStore {
			return NewMemoryStore(clock.RealClock{})
		},
		"postgres": func(t *testing.T) txStore {
			return NewStore(pgtest.Pool(t))
		},
	}
}

func forEachStore(t *testing.T, fn func(t *testing.T, s txStore)) {
	for name, mk := range stores(t) {
		t.Run(name, func(t *testing.T) {
			fn(t, mk(t))
		})
	}
}

func mustCreateUser(t *testing.T, q Querier) uuid.UUID {
	t.Helper()
	id := uuid.New()
	_, err := q.CreateUser(context.Background(), CreateUserParams{
		ID: id, Email: "u_" + id.String()[:8] + "@example.com", Role: domain.RoleUser,
	})
	require.NoError(t, err)
	return id
}

func TestUsers(t *testing.T) {
	forEachStore(t, func(t *testing.T, s txStore) {
		ctx := context.Background()
		q := s.Queries()
		id := mustCreateUser(t, q)

		u, err := q.GetUser(ctx, id)
		require.NoError(t, err)
		byEmail, err := q.GetUserByEmail(ctx, u.Email)
		require.NoError(t, err)
		assert.Equal(t, id, byEmail.ID)

		_, err = q.CreateUser(ctx, CreateUserParams{ID: uuid.New(), Email: u.Email, Role: domain.RoleUser})
		assert.True(t, IsUniqueViolation(err))

		_, err = q.GetUser(ctx, uuid.New())
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestCompareAndSwapBalance(t *testing.T) {
	forEachStore(t, func(t *testing.T, s txStore) {
		ctx := context.Background()
		q := s.Queries()
		id := mustCreateUser(t, q)
		require.NoError(t, q.EnsureBalance(ctx, id, domain.AssetUSDC))
		require.NoError(t, q.EnsureBalance(ctx, id, domain.AssetUSDC))

		n, err := q.CompareAndSwapBalance(ctx, CompareAndSwapBalanceParams{
			UserID: id, Asset: domain.AssetUSDC, PrevAvailable: 0, PrevLocked: 0, Available: 100, Locked: 0,
		})
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		// stale previous values lose
		n, err = q.CompareAndSwapBalance(ctx, CompareAndSwapBalanceParams{
			UserID: id, Asset: domain.AssetUSDC, PrevAvailable: 0, PrevLocked: 0, Available: 5, Locked: 0,
		})
		require.NoError(t, err)
		assert.Equal(t, int64(0), n)

		b, err := q.GetBalance(ctx, id, domain.AssetUSDC)
		require.NoError(t, err)
		assert.Equal(t, int64(100), b.Available)
	})
}

func TestRunInTxRollsBack(t *testing.T) {
	forEachStore(t, func(t *testing.T, s txStore) {
		ctx := context.Background()
		id := mustCreateUser(t, s.Queries())
		boom := errors.New("boom")

		err := s.RunInTx(ctx, func(q Querier) error {
			if err := q.EnsureBalance(ctx, id, domain.AssetUSDC); err != nil {
				return err
			}
			if err := q.InsertLedgerEntry(ctx, InsertLedgerEntryParams{
				ID: uuid.New(), UserID: id, Asset: domain.AssetUSDC, Kind: domain.EntryCredit, Amount: 1, Reference: "r1",
			}); err != nil {
				return err
			}
			return boom
		})
		assert.ErrorIs(t, err, boom)

		_, err = s.Queries().GetBalance(ctx, id, domain.AssetUSDC)
		assert.ErrorIs(t, err, ErrNotFound)
		exists, err := s.Queries().LedgerEntryExists(ctx, id, domain.EntryCredit, "r1")
		require.NoError(t, err)
		assert.False(t, exists)
	})
}

func TestLedgerEntryUniqueness(t *testing.T) {
	forEachStore(t, func(t *testing.T, s txStore) {
		ctx := context.Background()
		q := s.Queries()
		id := mustCreateUser(t, q)
		arg := InsertLedgerEntryParams{
			ID: uuid.New(), UserID: id, Asset: domain.AssetUSDC, Kind: domain.EntryLock, Amount: 10, Reference: "withdrawal:x:lock",
		}
		require.NoError(t, q.InsertLedgerEntry(ctx, arg))
		arg.ID = uuid.New()
		assert.True(t, IsUniqueViolation(q.InsertLedgerEntry(ctx, arg)))

		arg.ID = uuid.New()
		arg.Kind = domain.EntryUnlock
		require.NoError(t, q.InsertLedgerEntry(ctx, arg))
	})
}

func TestLedgerDrift(t *testing.T) {
	forEachStore(t, func(t *testing.T, s txStore) {
		ctx := context.Background()
		q := s.Queries()
		id := mustCreateUser(t, q)
		require.NoError(t, q.EnsureBalance(ctx, id, domain.AssetUSDC))
		require.NoError(t, q.InsertLedgerEntry(ctx, InsertLedgerEntryParams{
			ID: uuid.New(), UserID: id, Asset: domain.AssetUSDC, Kind: domain.EntryCredit, Amount: 50, Reference: "deposit:1",
		}))

		drift, err := q.ListLedgerDrift(ctx)
		require.NoError(t, err)
		var found bool
		for _, d := range drift {
			if d.UserID == id {
				found = true
				assert.Equal(t, int64(0), d.Available)
				assert.Equal(t, int64(50), d.JournalAvailable)
			}
		}
		assert.True(t, found)

		_, err = q.CompareAndSwapBalance(ctx, CompareAndSwapBalanceParams{
			UserID: id, Asset: domain.AssetUSDC, Available: 50,
		})
		require.NoError(t, err)
		drift, err = q.ListLedgerDrift(ctx)
		require.NoError(t, err)
		for _, d := range drift {
			assert.NotEqual(t, id, d.UserID)
		}
	})
}

func TestTransferClaimLifecycle(t *testing.T) {
	forEachStore(t, func(t *testing.T, s txStore) {
		ctx := context.Background()
		q := s.Queries()
		sender := mustCreateUser(t, q)
		recipient := mustCreateUser(t, q)
		hash := uuid.NewString()
		expires := time.Now().Add(time.Hour)

		tr, err := q.CreateTransfer(ctx, CreateTransferParams{
			ID: uuid.New(), SenderID: sender, RecipientEmail: "new@example.com", AmountMicros: 1_000_000,
			Status: domain.TransferStatusPendingClaim, ClaimTokenHash: &hash, ExpiresAt: &expires,
		})
		require.NoError(t, err)

		pending, err := q.ListPendingClaimsForEmail(ctx, "new@example.com")
		require.NoError(t, err)
		require.NotEmpty(t, pending)

		got, err := q.GetPendingTransferByClaimHash(ctx, hash)
		require.NoError(t, err)
		assert.Equal(t, tr.ID, got.ID)

		n, err := q.ClaimTransfer(ctx, ClaimTransferParams{ID: tr.ID, RecipientID: recipient, ClaimedAt: time.Now()})
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		n, err = q.ClaimTransfer(ctx, ClaimTransferParams{ID: tr.ID, RecipientID: recipient, ClaimedAt: time.Now()})
		require.NoError(t, err)
		assert.Equal(t, int64(0), n)

		_, err = q.GetPendingTransferByClaimHash(ctx, hash)
		assert.ErrorIs(t, err, ErrNotFound)

		claimed, err := q.GetTransfer(ctx, tr.ID)
		require.NoError(t, err)
		assert.Nil(t, claimed.ClaimTokenHash)
		require.NotNil(t, claimed.RecipientID)
		assert.Equal(t, recipient, *claimed.RecipientID)

		received, err := q.ListTransfersByUser(ctx, ListTransfersParams{UserID: recipient, Direction: DirectionReceived, Limit: 10})
		require.NoError(t, err)
		require.Len(t, received, 1)
		sent, err := q.ListTransfersByUser(ctx, ListTransfersParams{UserID: recipient, Direction: DirectionSent, Limit: 10})
		require.NoError(t, err)
		assert.Empty(t, sent)
	})
}

func TestExpiredPendingTransfers(t *testing.T) {
	forEachStore(t, func(t *testing.T, s txStore) {
		ctx := context.Background()
		q := s.Queries()
		sender := mustCreateUser(t, q)
		hash := uuid.NewString()
		past := time.Now().Add(-time.Minute)
		tr, err := q.CreateTransfer(ctx, CreateTransferParams{
			ID: uuid.New(), SenderID: sender, RecipientEmail: "late@example.com", AmountMicros: 1,
			Status: domain.TransferStatusPendingClaim, ClaimTokenHash: &hash, ExpiresAt: &past,
		})
		require.NoError(t, err)

		err = s.RunInTx(ctx, func(q Querier) error {
			expired, err := q.ListExpiredPendingTransfers(ctx, time.Now(), 100)
			if err != nil {
				return err
			}
			var ids []uuid.UUID
			for _, e := range expired {
				ids = append(ids, e.ID)
			}
			assert.Contains(t, ids, tr.ID)
			_, err = q.UpdateTransferStatus(ctx, UpdateTransferStatusParams{
				ID: tr.ID, FromStatus: domain.TransferStatusPendingClaim, ToStatus: domain.TransferStatusExpired,
			})
			return err
		})
		require.NoError(t, err)

		got, err := q.GetTransfer(ctx, tr.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.TransferStatusExpired, got.Status)
		assert.Nil(t, got.ClaimTokenHash)
	})
}

func newWithdrawal(t *testing.T, q Querier, userID uuid.UUID, expires time.Time) uuid.UUID {
	t.Helper()
	id := uuid.New()
	_, err := q.CreateWithdrawal(context.Background(), CreateWithdrawalParams{
		ID: id, UserID: userID, AmountMicros: 5_000_000, FiatCurrency: "NGN", InstitutionCode: "GTBINGLA",
		BankAccountMasked: "******6789", VerificationTokenHash: uuid.NewString(),
		VerificationExpiresAt: expires, PayoutReference: domain.PayoutReference(id.String()),
	})
	require.NoError(t, err)
	return id
}

func TestWithdrawalVerificationFlow(t *testing.T) {
	forEachStore(t, func(t *testing.T, s txStore) {
		ctx := context.Background()
		q := s.Queries()
		user := mustCreateUser(t, q)
		id := newWithdrawal(t, q, user, time.Now().Add(10*time.Minute))

		n, err := q.MarkPayoutSubmitted(ctx, id, time.Now())
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
		n, err = q.MarkPayoutSubmitted(ctx, id, time.Now())
		require.NoError(t, err)
		assert.Equal(t, int64(0), n, "second submitter must lose")

		orderID := "order-" + id.String()
		n, err = q.MarkWithdrawalVerified(ctx, id, orderID)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		w, err := q.GetWithdrawalByPayoutOrderID(ctx, orderID)
		require.NoError(t, err)
		assert.Equal(t, domain.WithdrawalStatusProcessing, w.Status)
		assert.Equal(t, domain.VerificationStatusVerified, w.VerificationStatus)
		assert.Nil(t, w.VerificationTokenHash)

		fiat := "7500.00"
		n, err = q.UpdateWithdrawalStatus(ctx, UpdateWithdrawalStatusParams{
			ID: id, FromStatus: domain.WithdrawalStatusProcessing, ToStatus: domain.WithdrawalStatusCompleted, FiatAmount: &fiat,
		})
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		n, err = q.UpdateWithdrawalStatus(ctx, UpdateWithdrawalStatusParams{
			ID: id, FromStatus: domain.WithdrawalStatusProcessing, ToStatus: domain.WithdrawalStatusFailed,
		})
		require.NoError(t, err)
		assert.Equal(t, int64(0), n)

		w, err = q.GetWithdrawalByReference(ctx, domain.PayoutReference(id.String()))
		require.NoError(t, err)
		assert.Equal(t, domain.WithdrawalStatusCompleted, w.Status)
		require.NotNil(t, w.FiatAmount)
		assert.Equal(t, fiat, *w.FiatAmount)
	})
}

func TestExpiredUnverifiedWithdrawalsSkipSubmitted(t *testing.T) {
	forEachStore(t, func(t *testing.T, s txStore) {
		ctx := context.Background()
		q := s.Queries()
		user := mustCreateUser(t, q)
		past := time.Now().Add(-time.Minute)
		plain := newWithdrawal(t, q, user, past)
		submitted := newWithdrawal(t, q, user, past)
		_, err := q.MarkPayoutSubmitted(ctx, submitted, past)
		require.NoError(t, err)

		err = s.RunInTx(ctx, func(q Querier) error {
			rows, err := q.ListExpiredUnverifiedWithdrawals(ctx, time.Now(), 1000)
			if err != nil {
				return err
			}
			var ids []uuid.UUID
			for _, r := range rows {
				ids = append(ids, r.ID)
			}
			assert.Contains(t, ids, plain)
			assert.NotContains(t, ids, submitted)
			return nil
		})
		require.NoError(t, err)

		n, err := q.ExpireWithdrawalVerification(ctx, submitted, "verification_expired")
		require.NoError(t, err)
		assert.Equal(t, int64(0), n)
		n, err = q.ExpireWithdrawalVerification(ctx, plain, "verification_expired")
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		review, err := q.ListWithdrawalsNeedingReview(ctx, time.Now(), 1000)
		require.NoError(t, err)
		var ids []uuid.UUID
		for _, r := range review {
			ids = append(ids, r.ID)
		}
		assert.Contains(t, ids, submitted)
	})
}

func TestUpsertWebhookEvent(t *testing.T) {
	forEachStore(t, func(t *testing.T, s txStore) {
		ctx := context.Background()
		q := s.Queries()
		eventID := uuid.NewString()
		arg := UpsertWebhookEventParams{
			ID: uuid.New(), Provider: domain.ProviderPaycrest, EventID: eventID, EventType: "order.settled",
			Payload: []byte(`{"event":"order.settled"}`),
		}
		first, err := q.UpsertWebhookEvent(ctx, arg)
		require.NoError(t, err)

		arg.ID = uuid.New()
		second, err := q.UpsertWebhookEvent(ctx, arg)
		require.NoError(t, err)
		assert.Equal(t, first.ID, second.ID)

		n, err := q.MarkWebhookEventProcessed(ctx, first.ID, time.Now())
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
		n, err = q.MarkWebhookEventProcessed(ctx, first.ID, time.Now())
		require.NoError(t, err)
		assert.Equal(t, int64(0), n)

		third, err := q.UpsertWebhookEvent(ctx, arg)
		require.NoError(t, err)
		assert.True(t, third.Processed)
	})
}

func TestUpsertWebhookEventConcurrentDeliveries(t *testing.T) {
	forEachStore(t, func(t *testing.T, s txStore) {
		ctx := context.Background()
		eventID := uuid.NewString()

		const deliveries = 8
		ids := make([]uuid.UUID, deliveries)
		var wg sync.WaitGroup
		for i := 0; i < deliveries; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				err := s.RunInTx(ctx, func(q Querier) error {
					e, err := q.UpsertWebhookEvent(ctx, UpsertWebhookEventParams{
						ID: uuid.New(), Provider: domain.ProviderDeposit, EventID: eventID, EventType: "deposit",
						Payload: []byte(`{}`),
					})
					ids[i] = e.ID
					return err
				})
				assert.NoError(t, err)
			}(i)
		}
		wg.Wait()

		for _, id := range ids {
			assert.Equal(t, ids[0], id)
		}
		assert.NotEqual(t, uuid.Nil, ids[0])
	})
}

func TestOTPAttemptsAndChallenges(t *testing.T) {
	forEachStore(t, func(t *testing.T, s txStore) {
		ctx := context.Background()
		q := s.Queries()
		email := "otp_" + uuid.NewString()[:8] + "@example.com"
		since := time.Now().Add(-time.Hour)

		for i := 0; i < 3; i++ {
			require.NoError(t, q.InsertOTPLog(ctx, InsertOTPLogParams{Email: email, Purpose: domain.OTPPurposeLogin}))
		}
		require.NoError(t, q.InsertOTPLog(ctx, InsertOTPLogParams{Email: email, Purpose: domain.OTPPurposeLogin, Success: true}))
		n, err := q.CountRecentFailedOTPAttempts(ctx, email, domain.OTPPurposeLogin, since)
		require.NoError(t, err)
		assert.Equal(t, int64(3), n)

		require.NoError(t, q.UpsertLoginChallenge(ctx, UpsertLoginChallengeParams{Email: email, CodeHash: "a", ExpiresAt: time.Now()}))
		require.NoError(t, q.UpsertLoginChallenge(ctx, UpsertLoginChallengeParams{Email: email, CodeHash: "b", ExpiresAt: time.Now()}))
		c, err := q.GetLoginChallenge(ctx, email)
		require.NoError(t, err)
		assert.Equal(t, "b", c.CodeHash)
		require.NoError(t, q.DeleteLoginChallenge(ctx, email))
		_, err = q.GetLoginChallenge(ctx, email)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestIdempotencyKeys(t *testing.T) {
	forEachStore(t, func(t *testing.T, s txStore) {
		ctx := context.Background()
		q := s.Queries()
		key := uuid.NewString()
		arg := ReserveIdempotencyKeyParams{Key: key, RequestHash: "h", Method: "POST", Path: "/v1/transfers"}

		ok, err := q.ReserveIdempotencyKey(ctx, arg)
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = q.ReserveIdempotencyKey(ctx, arg)
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, q.FinalizeIdempotencyKey(ctx, FinalizeIdempotencyKeyParams{
			Key: key, RequestHash: "h", ResponseStatus: 201, ResponseBody: []byte(`{}`), ContentType: "application/json",
		}))
		k, err := q.GetIdempotencyKey(ctx, key)
		require.NoError(t, err)
		assert.False(t, k.InProgress)
		assert.Equal(t, 201, k.ResponseStatus)

		// finished keys survive delete
		require.NoError(t, q.DeleteIdempotencyKey(ctx, key))
		_, err = q.GetIdempotencyKey(ctx, key)
		require.NoError(t, err)
	})
}

func TestAuditLogFilters(t *testing.T) {
	forEachStore(t, func(t *testing.T, s txStore) {
		ctx := context.Background()
		q := s.Queries()
		user := mustCreateUser(t, q)
		require.NoError(t, q.InsertAuditLog(ctx, InsertAuditLogParams{UserID: &user, Action: domain.AuditTransferInitiated, Metadata: []byte(`{"a":1}`)}))
		require.NoError(t, q.InsertAuditLog(ctx, InsertAuditLogParams{UserID: &user, Action: domain.AuditTransferClaimed}))

		all, err := q.ListAuditLogs(ctx, ListAuditLogsParams{UserID: &user, Limit: 10})
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, domain.AuditTransferClaimed, all[0].Action)

		only, err := q.ListAuditLogs(ctx, ListAuditLogsParams{UserID: &user, Action: domain.AuditTransferInitiated, Limit: 10})
		require.NoError(t, err)
		require.Len(t, only, 1)
		assert.JSONEq(t, `{"a":1}`, string(only[0].Metadata))
	})
}
