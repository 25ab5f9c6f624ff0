package repository

import (
	"context"
	"time"

	"github.com/Big6ixxx/sendzz/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const withdrawalColumns = `id, user_id, amount_micros, fiat_currency, institution_code, bank_account_masked,
    bank_account_sealed, account_name, status, verification_status, verification_token_hash,
    verification_expires_at, payout_order_id, payout_reference, payout_submitted_at, fiat_amount,
    failure_reason, created_at, updated_at`

func scanWithdrawal(row pgx.Row) (models.Withdrawal, error) {
	var w models.Withdrawal
	err := row.Scan(&w.ID, &w.UserID, &w.AmountMicros, &w.FiatCurrency, &w.InstitutionCode, &w.BankAccountMasked,
		&w.BankAccountSealed, &w.AccountName, &w.Status, &w.VerificationStatus, &w.VerificationTokenHash,
		&w.VerificationExpiresAt, &w.PayoutOrderID, &w.PayoutReference, &w.PayoutSubmittedAt, &w.FiatAmount,
		&w.FailureReason, &w.CreatedAt, &w.UpdatedAt)
	return w, err
}

func collectWithdrawals(rows pgx.Rows, err error) ([]models.Withdrawal, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []models.Withdrawal
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, w)
	}
	return items, rows.Err()
}

func execRows(ctx context.Context, db DBTX, sql string, args ...interface{}) (int64, error) {
	tag, err := db.Exec(ctx, sql, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const createWithdrawal = `-- name: CreateWithdrawal :one
INSERT INTO withdrawals (id, user_id, amount_micros, fiat_currency, institution_code, bank_account_masked,
    bank_account_sealed, account_name, status, verification_status, verification_token_hash,
    verification_expires_at, payout_reference)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'awaiting_verification', 'pending', $9, $10, $11)
RETURNING ` + withdrawalColumns

func (q *Queries) CreateWithdrawal(ctx context.Context, arg CreateWithdrawalParams) (models.Withdrawal, error) {
	return scanWithdrawal(q.db.QueryRow(ctx, createWithdrawal,
		arg.ID, arg.UserID, arg.AmountMicros, arg.FiatCurrency, arg.InstitutionCode, arg.BankAccountMasked,
		arg.BankAccountSealed, arg.AccountName, arg.VerificationTokenHash, arg.VerificationExpiresAt,
		arg.PayoutReference))
}

const getWithdrawal = `-- name: GetWithdrawal :one
SELECT ` + withdrawalColumns + ` FROM withdrawals WHERE id = $1`

func (q *Queries) GetWithdrawal(ctx context.Context, id uuid.UUID) (models.Withdrawal, error) {
	w, err := scanWithdrawal(q.db.QueryRow(ctx, getWithdrawal, id))
	return w, notFound(err)
}

const getWithdrawalForUpdate = `-- name: GetWithdrawalForUpdate :one
SELECT ` + withdrawalColumns + ` FROM withdrawals WHERE id = $1 FOR UPDATE`

func (q *Queries) GetWithdrawalForUpdate(ctx context.Context, id uuid.UUID) (models.Withdrawal, error) {
	w, err := scanWithdrawal(q.db.QueryRow(ctx, getWithdrawalForUpdate, id))
	return w, notFound(err)
}

const getWithdrawalByPayoutOrderID = `-- name: GetWithdrawalByPayoutOrderID :one
SELECT ` + withdrawalColumns + ` FROM withdrawals WHERE payout_order_id = $1`

func (q *Queries) GetWithdrawalByPayoutOrderID(ctx context.Context, orderID string) (models.Withdrawal, error) {
	w, err := scanWithdrawal(q.db.QueryRow(ctx, getWithdrawalByPayoutOrderID, orderID))
	return w, notFound(err)
}

const getWithdrawalByReference = `-- name: GetWithdrawalByReference :one
SELECT ` + withdrawalColumns + ` FROM withdrawals WHERE payout_reference = $1`

func (q *Queries) GetWithdrawalByReference(ctx context.Context, reference string) (models.Withdrawal, error) {
	w, err := scanWithdrawal(q.db.QueryRow(ctx, getWithdrawalByReference, reference))
	return w, notFound(err)
}

// Set before the provider is called. Only one caller can win it.
const markPayoutSubmitted = `-- name: MarkPayoutSubmitted :execrows
UPDATE withdrawals
SET payout_submitted_at = $2, updated_at = NOW()
WHERE id = $1
  AND status = 'awaiting_verification'
  AND verification_status = 'pending'
  AND payout_submitted_at IS NULL
`

func (q *Queries) MarkPayoutSubmitted(ctx context.Context, id uuid.UUID, at time.Time) (int64, error) {
	return execRows(ctx, q.db, markPayoutSubmitted, id, at)
}

const clearPayoutSubmitted = `-- name: ClearPayoutSubmitted :execrows
UPDATE withdrawals
SET payout_submitted_at = NULL, updated_at = NOW()
WHERE id = $1 AND status = 'awaiting_verification'
`

func (q *Queries) ClearPayoutSubmitted(ctx context.Context, id uuid.UUID) (int64, error) {
	return execRows(ctx, q.db, clearPayoutSubmitted, id)
}

const markWithdrawalVerified = `-- name: MarkWithdrawalVerified :execrows
UPDATE withdrawals
SET verification_status = 'verified',
    verification_token_hash = NULL,
    status = 'processing',
    payout_order_id = $2,
    updated_at = NOW()
WHERE id = $1 AND status = 'awaiting_verification' AND verification_status = 'pending'
`

func (q *Queries) MarkWithdrawalVerified(ctx context.Context, id uuid.UUID, payoutOrderID string) (int64, error) {
	return execRows(ctx, q.db, markWithdrawalVerified, id, payoutOrderID)
}

const expireWithdrawalVerification = `-- name: ExpireWithdrawalVerification :execrows
UPDATE withdrawals
SET verification_status = 'expired',
    verification_token_hash = NULL,
    status = 'failed',
    failure_reason = $2,
    updated_at = NOW()
WHERE id = $1
  AND status = 'awaiting_verification'
  AND verification_status = 'pending'
  AND payout_submitted_at IS NULL
`

func (q *Queries) ExpireWithdrawalVerification(ctx context.Context, id uuid.UUID, reason string) (int64, error) {
	return execRows(ctx, q.db, expireWithdrawalVerification, id, reason)
}

// A still-pending verification is settled along with any terminal status:
// completed counts as verified, anything else as expired.
const updateWithdrawalStatus = `-- name: UpdateWithdrawalStatus :execrows
UPDATE withdrawals
SET status = $3,
    failure_reason = COALESCE($4, failure_reason),
    fiat_amount = COALESCE($5, fiat_amount),
    payout_order_id = COALESCE(payout_order_id, $6),
    verification_status = CASE
        WHEN verification_status <> 'pending' OR $3 NOT IN ('completed', 'failed', 'reversed') THEN verification_status
        WHEN $3 = 'completed' THEN 'verified'
        ELSE 'expired' END,
    verification_token_hash = CASE
        WHEN $3 IN ('completed', 'failed', 'reversed') THEN NULL
        ELSE verification_token_hash END,
    updated_at = NOW()
WHERE id = $1 AND status = $2
`

func (q *Queries) UpdateWithdrawalStatus(ctx context.Context, arg UpdateWithdrawalStatusParams) (int64, error) {
	return execRows(ctx, q.db, updateWithdrawalStatus,
		arg.ID, arg.FromStatus, arg.ToStatus, arg.FailureReason, arg.FiatAmount, arg.PayoutOrderID)
}

const listExpiredUnverifiedWithdrawals = `-- name: ListExpiredUnverifiedWithdrawals :many
SELECT ` + withdrawalColumns + `
FROM withdrawals
WHERE status = 'awaiting_verification'
  AND verification_status = 'pending'
  AND payout_submitted_at IS NULL
  AND verification_expires_at < $1
ORDER BY verification_expires_at
LIMIT $2
FOR UPDATE SKIP LOCKED`

func (q *Queries) ListExpiredUnverifiedWithdrawals(ctx context.Context, before time.Time, limit int32) ([]models.Withdrawal, error) {
	return collectWithdrawals(q.db.Query(ctx, listExpiredUnverifiedWithdrawals, before, limit))
}

const listStaleProcessingWithdrawals = `-- name: ListStaleProcessingWithdrawals :many
SELECT ` + withdrawalColumns + `
FROM withdrawals
WHERE status = 'processing' AND payout_order_id IS NOT NULL AND updated_at < $1
ORDER BY updated_at
LIMIT $2`

func (q *Queries) ListStaleProcessingWithdrawals(ctx context.Context, before time.Time, limit int32) ([]models.Withdrawal, error) {
	return collectWithdrawals(q.db.Query(ctx, listStaleProcessingWithdrawals, before, limit))
}

const listWithdrawalsNeedingReview = `-- name: ListWithdrawalsNeedingReview :many
SELECT ` + withdrawalColumns + `
FROM withdrawals
WHERE status = 'awaiting_verification' AND payout_submitted_at IS NOT NULL AND payout_submitted_at < $1
ORDER BY payout_submitted_at
LIMIT $2`

func (q *Queries) ListWithdrawalsNeedingReview(ctx context.Context, submittedBefore time.Time, limit int32) ([]models.Withdrawal, error) {
	return collectWithdrawals(q.db.Query(ctx, listWithdrawalsNeedingReview, submittedBefore, limit))
}

const listWithdrawalsByUser = `-- name: ListWithdrawalsByUser :many
SELECT ` + withdrawalColumns + `
FROM withdrawals
WHERE user_id = $1
ORDER BY created_at DESC, id
LIMIT $2 OFFSET $3`

func (q *Queries) ListWithdrawalsByUser(ctx context.Context, arg ListWithdrawalsParams) ([]models.Withdrawal, error) {
	return collectWithdrawals(q.db.Query(ctx, listWithdrawalsByUser, arg.UserID, arg.Limit, arg.Offset))
}
