package repository

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/Big6ixxx/sendzz/internal/domain"
	"github.com/Big6ixxx/sendzz/internal/models"
	"github.com/google/uuid"
)

func (q *memQuerier) CreateUser(ctx context.Context, arg CreateUserParams) (models.User, error) {
	var u models.User
	err := q.do(ctx, func(st *memState, now time.Time) error {
		if _, ok := st.users[arg.ID]; ok {
			return fmt.Errorf("users.id: %w", ErrDuplicate)
		}
		if _, ok := st.usersByEmail[arg.Email]; ok {
			return fmt.Errorf("users.email: %w", ErrDuplicate)
		}
		u = models.User{ID: arg.ID, Email: arg.Email, Role: arg.Role, CreatedAt: now}
		st.users[u.ID] = u
		st.usersByEmail[u.Email] = u.ID
		return nil
	})
	return u, err
}

func (q *memQuerier) GetUser(ctx context.Context, id uuid.UUID) (models.User, error) {
	var u models.User
	err := q.do(ctx, func(st *memState, _ time.Time) error {
		var ok bool
		if u, ok = st.users[id]; !ok {
			return ErrNotFound
		}
		return nil
	})
	return u, err
}

func (q *memQuerier) GetUserByEmail(ctx context.Context, email string) (models.User, error) {
	var u models.User
	err := q.do(ctx, func(st *memState, _ time.Time) error {
		id, ok := st.usersByEmail[email]
		if !ok {
			return ErrNotFound
		}
		u = st.users[id]
		return nil
	})
	return u, err
}

func (q *memQuerier) EnsureBalance(ctx context.Context, userID uuid.UUID, asset string) error {
	return q.do(ctx, func(st *memState, now time.Time) error {
		k := balanceKey{userID, asset}
		if _, ok := st.balances[k]; !ok {
			st.balances[k] = models.Balance{UserID: userID, Asset: asset, UpdatedAt: now}
		}
		return nil
	})
}

func (q *memQuerier) GetBalance(ctx context.Context, userID uuid.UUID, asset string) (models.Balance, error) {
	var b models.Balance
	err := q.do(ctx, func(st *memState, _ time.Time) error {
		var ok bool
		if b, ok = st.balances[balanceKey{userID, asset}]; !ok {
			return ErrNotFound
		}
		return nil
	})
	return b, err
}

func (q *memQuerier) CompareAndSwapBalance(ctx context.Context, arg CompareAndSwapBalanceParams) (int64, error) {
	var n int64
	err := q.do(ctx, func(st *memState, now time.Time) error {
		k := balanceKey{arg.UserID, arg.Asset}
		b, ok := st.balances[k]
		if !ok || b.Available != arg.PrevAvailable || b.Locked != arg.PrevLocked {
			return nil
		}
		if arg.Available < 0 || arg.Locked < 0 {
			return fmt.Errorf("balances: negative value for %s", arg.UserID)
		}
		b.Available, b.Locked, b.UpdatedAt = arg.Available, arg.Locked, now
		st.balances[k] = b
		n = 1
		return nil
	})
	return n, err
}

func (q *memQuerier) ListBalances(ctx context.Context, userID uuid.UUID) ([]models.Balance, error) {
	var items []models.Balance
	err := q.do(ctx, func(st *memState, _ time.Time) error {
		for k, b := range st.balances {
			if k.userID == userID {
				items = append(items, b)
			}
		}
		sort.Slice(items, func(i, j int) bool { return items[i].Asset < items[j].Asset })
		return nil
	})
	return items, err
}

func (q *memQuerier) LedgerEntryExists(ctx context.Context, userID uuid.UUID, kind, reference string) (bool, error) {
	var exists bool
	err := q.do(ctx, func(st *memState, _ time.Time) error {
		_, exists = st.entryIndex[entryKey{userID, kind, reference}]
		return nil
	})
	return exists, err
}

func (q *memQuerier) InsertLedgerEntry(ctx context.Context, arg InsertLedgerEntryParams) error {
	return q.do(ctx, func(st *memState, now time.Time) error {
		k := entryKey{arg.UserID, arg.Kind, arg.Reference}
		if _, ok := st.entryIndex[k]; ok {
			return fmt.Errorf("ledger_entries(user_id, kind, reference): %w", ErrDuplicate)
		}
		st.entryIndex[k] = struct{}{}
		st.entries = append(st.entries, models.LedgerEntry{
			ID: arg.ID, UserID: arg.UserID, Asset: arg.Asset, Kind: arg.Kind,
			Amount: arg.Amount, Reference: arg.Reference, CreatedAt: now,
		})
		return nil
	})
}

func (q *memQuerier) ListLedgerEntries(ctx context.Context, arg ListLedgerEntriesParams) ([]models.LedgerEntry, error) {
	var items []models.LedgerEntry
	err := q.do(ctx, func(st *memState, _ time.Time) error {
		for i := len(st.entries) - 1; i >= 0; i-- {
			if st.entries[i].UserID == arg.UserID {
				items = append(items, st.entries[i])
			}
		}
		items = page(items, arg.Limit, arg.Offset)
		return nil
	})
	return items, err
}

func (q *memQuerier) ListLedgerDrift(ctx context.Context) ([]models.LedgerDrift, error) {
	var items []models.LedgerDrift
	err := q.do(ctx, func(st *memState, _ time.Time) error {
		type sums struct{ available, locked int64 }
		journal := make(map[balanceKey]sums)
		for _, e := range st.entries {
			k := balanceKey{e.UserID, e.Asset}
			s := journal[k]
			switch e.Kind {
			case domain.EntryCredit:
				s.available += e.Amount
			case domain.EntryDebit:
				s.available -= e.Amount
			case domain.EntryLock:
				s.available -= e.Amount
				s.locked += e.Amount
			case domain.EntryUnlock:
				s.available += e.Amount
				s.locked -= e.Amount
			case domain.EntryRelease:
				s.locked -= e.Amount
			}
			journal[k] = s
		}
		for k, b := range st.balances {
			s := journal[k]
			if b.Available != s.available || b.Locked != s.locked {
				items = append(items, models.LedgerDrift{
					UserID: k.userID, Asset: k.asset,
					Available: b.Available, Locked: b.Locked,
					JournalAvailable: s.available, JournalLocked: s.locked,
				})
			}
		}
		return nil
	})
	return items, err
}

func (q *memQuerier) CreateTransfer(ctx context.Context, arg CreateTransferParams) (models.Transfer, error) {
	var t models.Transfer
	err := q.do(ctx, func(st *memState, now time.Time) error {
		if _, ok := st.transfers[arg.ID]; ok {
			return fmt.Errorf("transfers.id: %w", ErrDuplicate)
		}
		if arg.ClaimTokenHash != nil {
			if _, ok := st.claimHashIndex[*arg.ClaimTokenHash]; ok {
				return fmt.Errorf("transfers.claim_token_hash: %w", ErrDuplicate)
			}
		}
		if arg.Status == domain.TransferStatusPendingClaim && (arg.ClaimTokenHash == nil || arg.ExpiresAt == nil) {
			return fmt.Errorf("transfers: pending claim without token or expiry")
		}
		t = models.Transfer{
			ID: arg.ID, SenderID: arg.SenderID, RecipientID: arg.RecipientID, RecipientEmail: arg.RecipientEmail,
			AmountMicros: arg.AmountMicros, Note: arg.Note, Status: arg.Status, ClaimTokenHash: arg.ClaimTokenHash,
			ExpiresAt: arg.ExpiresAt, ClaimedAt: arg.ClaimedAt, CreatedAt: now, UpdatedAt: now,
		}
		st.transfers[t.ID] = t
		st.transferOrder = append(st.transferOrder, t.ID)
		if t.ClaimTokenHash != nil {
			st.claimHashIndex[*t.ClaimTokenHash] = t.ID
		}
		return nil
	})
	return t, err
}

func (q *memQuerier) GetTransfer(ctx context.Context, id uuid.UUID) (models.Transfer, error) {
	var t models.Transfer
	err := q.do(ctx, func(st *memState, _ time.Time) error {
		var ok bool
		if t, ok = st.transfers[id]; !ok {
			return ErrNotFound
		}
		return nil
	})
	return t, err
}

func (q *memQuerier) GetTransferForUpdate(ctx context.Context, id uuid.UUID) (models.Transfer, error) {
	return q.GetTransfer(ctx, id)
}

func (q *memQuerier) GetPendingTransferByClaimHash(ctx context.Context, claimTokenHash string) (models.Transfer, error) {
	var t models.Transfer
	err := q.do(ctx, func(st *memState, _ time.Time) error {
		id, ok := st.claimHashIndex[claimTokenHash]
		if !ok {
			return ErrNotFound
		}
		t = st.transfers[id]
		if t.Status != domain.TransferStatusPendingClaim {
			return ErrNotFound
		}
		return nil
	})
	return t, err
}

func (st *memState) clearClaimHash(t *models.Transfer) {
	if t.ClaimTokenHash != nil {
		delete(st.claimHashIndex, *t.ClaimTokenHash)
		t.ClaimTokenHash = nil
	}
}

func (q *memQuerier) ClaimTransfer(ctx context.Context, arg ClaimTransferParams) (int64, error) {
	var n int64
	err := q.do(ctx, func(st *memState, now time.Time) error {
		t, ok := st.transfers[arg.ID]
		if !ok || t.Status != domain.TransferStatusPendingClaim {
			return nil
		}
		st.clearClaimHash(&t)
		t.Status = domain.TransferStatusClaimed
		t.RecipientID = ptr(arg.RecipientID)
		t.ClaimedAt = ptr(arg.ClaimedAt)
		t.UpdatedAt = now
		st.transfers[t.ID] = t
		n = 1
		return nil
	})
	return n, err
}

func (q *memQuerier) UpdateTransferStatus(ctx context.Context, arg UpdateTransferStatusParams) (int64, error) {
	var n int64
	err := q.do(ctx, func(st *memState, now time.Time) error {
		t, ok := st.transfers[arg.ID]
		if !ok || t.Status != arg.FromStatus {
			return nil
		}
		st.clearClaimHash(&t)
		t.Status = arg.ToStatus
		t.UpdatedAt = now
		st.transfers[t.ID] = t
		n = 1
		return nil
	})
	return n, err
}

func (q *memQuerier) listTransfers(ctx context.Context, match func(models.Transfer) bool) ([]models.Transfer, error) {
	var items []models.Transfer
	err := q.do(ctx, func(st *memState, _ time.Time) error {
		for i := len(st.transferOrder) - 1; i >= 0; i-- {
			if t := st.transfers[st.transferOrder[i]]; match(t) {
				items = append(items, t)
			}
		}
		return nil
	})
	return items, err
}

func (q *memQuerier) ListExpiredPendingTransfers(ctx context.Context, before time.Time, limit int32) ([]models.Transfer, error) {
	items, err := q.listTransfers(ctx, func(t models.Transfer) bool {
		return t.Status == domain.TransferStatusPendingClaim && t.ExpiresAt != nil && t.ExpiresAt.Before(before)
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].ExpiresAt.Before(*items[j].ExpiresAt) })
	return page(items, limit, 0), nil
}

func (q *memQuerier) ListTransfersByUser(ctx context.Context, arg ListTransfersParams) ([]models.Transfer, error) {
	items, err := q.listTransfers(ctx, func(t models.Transfer) bool {
		sent := t.SenderID == arg.UserID
		received := t.RecipientID != nil && *t.RecipientID == arg.UserID
		switch arg.Direction {
		case DirectionSent:
			return sent
		case DirectionReceived:
			return received
		default:
			return sent || received
		}
	})
	return page(items, arg.Limit, arg.Offset), err
}

func (q *memQuerier) ListPendingClaimsForEmail(ctx context.Context, email string) ([]models.Transfer, error) {
	return q.listTransfers(ctx, func(t models.Transfer) bool {
		return t.Status == domain.TransferStatusPendingClaim && t.RecipientEmail == email
	})
}

func (q *memQuerier) CreateWithdrawal(ctx context.Context, arg CreateWithdrawalParams) (models.Withdrawal, error) {
	var w models.Withdrawal
	err := q.do(ctx, func(st *memState, now time.Time) error {
		if _, ok := st.withdrawals[arg.ID]; ok {
			return fmt.Errorf("withdrawals.id: %w", ErrDuplicate)
		}
		for _, other := range st.withdrawals {
			if other.PayoutReference == arg.PayoutReference {
				return fmt.Errorf("withdrawals.payout_reference: %w", ErrDuplicate)
			}
		}
		w = models.Withdrawal{
			ID: arg.ID, UserID: arg.UserID, AmountMicros: arg.AmountMicros, FiatCurrency: arg.FiatCurrency,
			InstitutionCode: arg.InstitutionCode, BankAccountMasked: arg.BankAccountMasked,
			BankAccountSealed: arg.BankAccountSealed, AccountName: arg.AccountName,
			Status:                domain.WithdrawalStatusAwaitingVerification,
			VerificationStatus:    domain.VerificationStatusPending,
			VerificationTokenHash: ptr(arg.VerificationTokenHash),
			VerificationExpiresAt: arg.VerificationExpiresAt,
			PayoutReference:       arg.PayoutReference,
			CreatedAt:             now, UpdatedAt: now,
		}
		st.withdrawals[w.ID] = w
		st.withdrawalOrder = append(st.withdrawalOrder, w.ID)
		return nil
	})
	return w, err
}

func (q *memQuerier) findWithdrawal(ctx context.Context, match func(models.Withdrawal) bool) (models.Withdrawal, error) {
	var w models.Withdrawal
	err := q.do(ctx, func(st *memState, _ time.Time) error {
		for _, id := range st.withdrawalOrder {
			if cand := st.withdrawals[id]; match(cand) {
				w = cand
				return nil
			}
		}
		return ErrNotFound
	})
	return w, err
}

func (q *memQuerier) GetWithdrawal(ctx context.Context, id uuid.UUID) (models.Withdrawal, error) {
	return q.findWithdrawal(ctx, func(w models.Withdrawal) bool { return w.ID == id })
}

func (q *memQuerier) GetWithdrawalForUpdate(ctx context.Context, id uuid.UUID) (models.Withdrawal, error) {
	return q.GetWithdrawal(ctx, id)
}

func (q *memQuerier) GetWithdrawalByPayoutOrderID(ctx context.Context, orderID string) (models.Withdrawal, error) {
	return q.findWithdrawal(ctx, func(w models.Withdrawal) bool {
		return w.PayoutOrderID != nil && *w.PayoutOrderID == orderID
	})
}

func (q *memQuerier) GetWithdrawalByReference(ctx context.Context, reference string) (models.Withdrawal, error) {
	return q.findWithdrawal(ctx, func(w models.Withdrawal) bool { return w.PayoutReference == reference })
}

// updateWithdrawal applies fn to the row when cond holds and reports the
// number of rows changed.
func (q *memQuerier) updateWithdrawal(ctx context.Context, id uuid.UUID, cond func(models.Withdrawal) bool, fn func(st *memState, w *models.Withdrawal) error) (int64, error) {
	var n int64
	err := q.do(ctx, func(st *memState, now time.Time) error {
		w, ok := st.withdrawals[id]
		if !ok || !cond(w) {
			return nil
		}
		if err := fn(st, &w); err != nil {
			return err
		}
		w.UpdatedAt = now
		st.withdrawals[id] = w
		n = 1
		return nil
	})
	return n, err
}

func awaitingVerification(w models.Withdrawal) bool {
	return w.Status == domain.WithdrawalStatusAwaitingVerification &&
		w.VerificationStatus == domain.VerificationStatusPending
}

func (q *memQuerier) MarkPayoutSubmitted(ctx context.Context, id uuid.UUID, at time.Time) (int64, error) {
	return q.updateWithdrawal(ctx, id,
		func(w models.Withdrawal) bool { return awaitingVerification(w) && w.PayoutSubmittedAt == nil },
		func(_ *memState, w *models.Withdrawal) error {
			w.PayoutSubmittedAt = ptr(at)
			return nil
		})
}

func (q *memQuerier) ClearPayoutSubmitted(ctx context.Context, id uuid.UUID) (int64, error) {
	return q.updateWithdrawal(ctx, id,
		func(w models.Withdrawal) bool { return w.Status == domain.WithdrawalStatusAwaitingVerification },
		func(_ *memState, w *models.Withdrawal) error {
			w.PayoutSubmittedAt = nil
			return nil
		})
}

func (st *memState) orderIDTaken(id uuid.UUID, orderID string) bool {
	for _, other := range st.withdrawals {
		if other.ID != id && other.PayoutOrderID != nil && *other.PayoutOrderID == orderID {
			return true
		}
	}
	return false
}

func (q *memQuerier) MarkWithdrawalVerified(ctx context.Context, id uuid.UUID, payoutOrderID string) (int64, error) {
	return q.updateWithdrawal(ctx, id, awaitingVerification,
		func(st *memState, w *models.Withdrawal) error {
			if st.orderIDTaken(id, payoutOrderID) {
				return fmt.Errorf("withdrawals.payout_order_id: %w", ErrDuplicate)
			}
			w.VerificationStatus = domain.VerificationStatusVerified
			w.VerificationTokenHash = nil
			w.Status = domain.WithdrawalStatusProcessing
			w.PayoutOrderID = ptr(payoutOrderID)
			return nil
		})
}

func (q *memQuerier) ExpireWithdrawalVerification(ctx context.Context, id uuid.UUID, reason string) (int64, error) {
	return q.updateWithdrawal(ctx, id,
		func(w models.Withdrawal) bool { return awaitingVerification(w) && w.PayoutSubmittedAt == nil },
		func(_ *memState, w *models.Withdrawal) error {
			w.VerificationStatus = domain.VerificationStatusExpired
			w.VerificationTokenHash = nil
			w.Status = domain.WithdrawalStatusFailed
			w.FailureReason = ptr(reason)
			return nil
		})
}

func (q *memQuerier) UpdateWithdrawalStatus(ctx context.Context, arg UpdateWithdrawalStatusParams) (int64, error) {
	return q.updateWithdrawal(ctx, arg.ID,
		func(w models.Withdrawal) bool { return w.Status == arg.FromStatus },
		func(st *memState, w *models.Withdrawal) error {
			if arg.PayoutOrderID != nil && w.PayoutOrderID == nil {
				if st.orderIDTaken(w.ID, *arg.PayoutOrderID) {
					return fmt.Errorf("withdrawals.payout_order_id: %w", ErrDuplicate)
				}
				w.PayoutOrderID = ptr(*arg.PayoutOrderID)
			}
			w.Status = arg.ToStatus
			if arg.FailureReason != nil {
				w.FailureReason = ptr(*arg.FailureReason)
			}
			if arg.FiatAmount != nil {
				w.FiatAmount = ptr(*arg.FiatAmount)
			}
			if w.Terminal() {
				w.VerificationTokenHash = nil
				if w.VerificationStatus == domain.VerificationStatusPending {
					if w.Status == domain.WithdrawalStatusCompleted {
						w.VerificationStatus = domain.VerificationStatusVerified
					} else {
						w.VerificationStatus = domain.VerificationStatusExpired
					}
				}
			}
			return nil
		})
}

func (q *memQuerier) listWithdrawals(ctx context.Context, match func(models.Withdrawal) bool) ([]models.Withdrawal, error) {
	var items []models.Withdrawal
	err := q.do(ctx, func(st *memState, _ time.Time) error {
		for i := len(st.withdrawalOrder) - 1; i >= 0; i-- {
			if w := st.withdrawals[st.withdrawalOrder[i]]; match(w) {
				items = append(items, w)
			}
		}
		return nil
	})
	return items, err
}

func (q *memQuerier) ListExpiredUnverifiedWithdrawals(ctx context.Context, before time.Time, limit int32) ([]models.Withdrawal, error) {
	items, err := q.listWithdrawals(ctx, func(w models.Withdrawal) bool {
		return awaitingVerification(w) && w.PayoutSubmittedAt == nil && w.VerificationExpiresAt.Before(before)
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].VerificationExpiresAt.Before(items[j].VerificationExpiresAt)
	})
	return page(items, limit, 0), nil
}

func (q *memQuerier) ListStaleProcessingWithdrawals(ctx context.Context, before time.Time, limit int32) ([]models.Withdrawal, error) {
	items, err := q.listWithdrawals(ctx, func(w models.Withdrawal) bool {
		return w.Status == domain.WithdrawalStatusProcessing && w.PayoutOrderID != nil && w.UpdatedAt.Before(before)
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].UpdatedAt.Before(items[j].UpdatedAt) })
	return page(items, limit, 0), nil
}

func (q *memQuerier) ListWithdrawalsNeedingReview(ctx context.Context, submittedBefore time.Time, limit int32) ([]models.Withdrawal, error) {
	items, err := q.listWithdrawals(ctx, func(w models.Withdrawal) bool {
		return w.Status == domain.WithdrawalStatusAwaitingVerification &&
			w.PayoutSubmittedAt != nil && w.PayoutSubmittedAt.Before(submittedBefore)
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].PayoutSubmittedAt.Before(*items[j].PayoutSubmittedAt) })
	return page(items, limit, 0), nil
}

func (q *memQuerier) ListWithdrawalsByUser(ctx context.Context, arg ListWithdrawalsParams) ([]models.Withdrawal, error) {
	items, err := q.listWithdrawals(ctx, func(w models.Withdrawal) bool { return w.UserID == arg.UserID })
	return page(items, arg.Limit, arg.Offset), err
}

func (q *memQuerier) UpsertWebhookEvent(ctx context.Context, arg UpsertWebhookEventParams) (models.WebhookEvent, error) {
	var e models.WebhookEvent
	err := q.do(ctx, func(st *memState, now time.Time) error {
		k := webhookKey{arg.Provider, arg.EventID}
		if id, ok := st.webhookIndex[k]; ok {
			e = st.webhookEvents[id]
			return nil
		}
		e = models.WebhookEvent{
			ID: arg.ID, Provider: arg.Provider, EventID: arg.EventID, EventType: arg.EventType,
			Payload: append([]byte(nil), arg.Payload...), CreatedAt: now,
		}
		st.webhookEvents[e.ID] = e
		st.webhookIndex[k] = e.ID
		st.webhookOrder = append(st.webhookOrder, e.ID)
		return nil
	})
	return e, err
}

func (q *memQuerier) GetWebhookEventForUpdate(ctx context.Context, id uuid.UUID) (models.WebhookEvent, error) {
	var e models.WebhookEvent
	err := q.do(ctx, func(st *memState, _ time.Time) error {
		var ok bool
		if e, ok = st.webhookEvents[id]; !ok {
			return ErrNotFound
		}
		return nil
	})
	return e, err
}

func (q *memQuerier) MarkWebhookEventProcessed(ctx context.Context, id uuid.UUID, at time.Time) (int64, error) {
	var n int64
	err := q.do(ctx, func(st *memState, _ time.Time) error {
		e, ok := st.webhookEvents[id]
		if !ok || e.Processed {
			return nil
		}
		e.Processed = true
		e.ProcessedAt = ptr(at)
		st.webhookEvents[id] = e
		n = 1
		return nil
	})
	return n, err
}

func (q *memQuerier) ListUnprocessedWebhookEvents(ctx context.Context, provider string, limit int32) ([]models.WebhookEvent, error) {
	var items []models.WebhookEvent
	err := q.do(ctx, func(st *memState, _ time.Time) error {
		for _, id := range st.webhookOrder {
			if e := st.webhookEvents[id]; e.Provider == provider && !e.Processed {
				items = append(items, e)
			}
		}
		items = page(items, limit, 0)
		return nil
	})
	return items, err
}

func (q *memQuerier) InsertAuditLog(ctx context.Context, arg InsertAuditLogParams) error {
	return q.do(ctx, func(st *memState, now time.Time) error {
		st.audit = append(st.audit, models.AuditLogEntry{
			ID: int64(len(st.audit) + 1), UserID: arg.UserID, Action: arg.Action,
			Metadata: append([]byte(nil), arg.Metadata...), CreatedAt: now,
		})
		return nil
	})
}

func (q *memQuerier) ListAuditLogs(ctx context.Context, arg ListAuditLogsParams) ([]models.AuditLogEntry, error) {
	var items []models.AuditLogEntry
	err := q.do(ctx, func(st *memState, _ time.Time) error {
		for i := len(st.audit) - 1; i >= 0; i-- {
			e := st.audit[i]
			if arg.UserID != nil && (e.UserID == nil || *e.UserID != *arg.UserID) {
				continue
			}
			if arg.Action != "" && e.Action != arg.Action {
				continue
			}
			items = append(items, e)
		}
		items = page(items, arg.Limit, arg.Offset)
		return nil
	})
	return items, err
}

func (q *memQuerier) InsertOTPLog(ctx context.Context, arg InsertOTPLogParams) error {
	return q.do(ctx, func(st *memState, now time.Time) error {
		st.otpLogs = append(st.otpLogs, models.OTPLog{
			ID: int64(len(st.otpLogs) + 1), UserID: arg.UserID, Email: arg.Email, Purpose: arg.Purpose,
			Success: arg.Success, IP: arg.IP, UserAgent: arg.UserAgent, CreatedAt: now,
		})
		return nil
	})
}

func (q *memQuerier) CountRecentFailedOTPAttempts(ctx context.Context, email, purpose string, since time.Time) (int64, error) {
	var n int64
	err := q.do(ctx, func(st *memState, _ time.Time) error {
		for _, l := range st.otpLogs {
			if l.Email == email && l.Purpose == purpose && !l.Success && !l.CreatedAt.Before(since) {
				n++
			}
		}
		return nil
	})
	return n, err
}

func (q *memQuerier) UpsertLoginChallenge(ctx context.Context, arg UpsertLoginChallengeParams) error {
	return q.do(ctx, func(st *memState, now time.Time) error {
		st.challenges[arg.Email] = models.LoginChallenge{
			Email: arg.Email, CodeHash: arg.CodeHash, ExpiresAt: arg.ExpiresAt, CreatedAt: now,
		}
		return nil
	})
}

func (q *memQuerier) GetLoginChallenge(ctx context.Context, email string) (models.LoginChallenge, error) {
	var c models.LoginChallenge
	err := q.do(ctx, func(st *memState, _ time.Time) error {
		var ok bool
		if c, ok = st.challenges[email]; !ok {
			return ErrNotFound
		}
		return nil
	})
	return c, err
}

func (q *memQuerier) DeleteLoginChallenge(ctx context.Context, email string) error {
	return q.do(ctx, func(st *memState, _ time.Time) error {
		delete(st.challenges, email)
		return nil
	})
}

func (q *memQuerier) GetIdempotencyKey(ctx context.Context, key string) (models.IdempotencyKey, error) {
	var k models.IdempotencyKey
	err := q.do(ctx, func(st *memState, _ time.Time) error {
		var ok bool
		if k, ok = st.idem[key]; !ok {
			return ErrNotFound
		}
		return nil
	})
	return k, err
}

func (q *memQuerier) ReserveIdempotencyKey(ctx context.Context, arg ReserveIdempotencyKeyParams) (bool, error) {
	var reserved bool
	err := q.do(ctx, func(st *memState, now time.Time) error {
		if _, ok := st.idem[arg.Key]; ok {
			return nil
		}
		st.idem[arg.Key] = models.IdempotencyKey{
			Key: arg.Key, RequestHash: arg.RequestHash, Method: arg.Method, Path: arg.Path,
			ContentType: "application/json", InProgress: true, CreatedAt: now,
		}
		reserved = true
		return nil
	})
	return reserved, err
}

func (q *memQuerier) FinalizeIdempotencyKey(ctx context.Context, arg FinalizeIdempotencyKeyParams) error {
	return q.do(ctx, func(st *memState, _ time.Time) error {
		k, ok := st.idem[arg.Key]
		if !ok || k.RequestHash != arg.RequestHash {
			return nil
		}
		k.ResponseStatus = arg.ResponseStatus
		k.ResponseBody = append([]byte(nil), arg.ResponseBody...)
		k.ContentType = arg.ContentType
		k.InProgress = false
		st.idem[arg.Key] = k
		return nil
	})
}

func (q *memQuerier) DeleteIdempotencyKey(ctx context.Context, key string) error {
	return q.do(ctx, func(st *memState, _ time.Time) error {
		if k, ok := st.idem[key]; ok && k.InProgress {
			delete(st.idem, key)
		}
		return nil
	})
}
