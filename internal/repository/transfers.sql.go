package repository

import (
	"context"
	"time"

	"github.com/Big6ixxx/sendzz/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const transferColumns = `id, sender_id, recipient_id, recipient_email, amount_micros, note, status,
    claim_token_hash, expires_at, claimed_at, created_at, updated_at`

func scanTransfer(row pgx.Row) (models.Transfer, error) {
	var t models.Transfer
	err := row.Scan(&t.ID, &t.SenderID, &t.RecipientID, &t.RecipientEmail, &t.AmountMicros, &t.Note, &t.Status,
		&t.ClaimTokenHash, &t.ExpiresAt, &t.ClaimedAt, &t.CreatedAt, &t.UpdatedAt)
	return t, err
}

func collectTransfers(rows pgx.Rows, err error) ([]models.Transfer, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []models.Transfer
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, t)
	}
	return items, rows.Err()
}

const createTransfer = `-- name: CreateTransfer :one
INSERT INTO transfers (id, sender_id, recipient_id, recipient_email, amount_micros, note, status,
    claim_token_hash, expires_at, claimed_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
RETURNING ` + transferColumns

func (q *Queries) CreateTransfer(ctx context.Context, arg CreateTransferParams) (models.Transfer, error) {
	return scanTransfer(q.db.QueryRow(ctx, createTransfer,
		arg.ID, arg.SenderID, arg.RecipientID, arg.RecipientEmail, arg.AmountMicros, arg.Note, arg.Status,
		arg.ClaimTokenHash, arg.ExpiresAt, arg.ClaimedAt))
}

const getTransfer = `-- name: GetTransfer :one
SELECT ` + transferColumns + ` FROM transfers WHERE id = $1`

func (q *Queries) GetTransfer(ctx context.Context, id uuid.UUID) (models.Transfer, error) {
	t, err := scanTransfer(q.db.QueryRow(ctx, getTransfer, id))
	return t, notFound(err)
}

const getTransferForUpdate = `-- name: GetTransferForUpdate :one
SELECT ` + transferColumns + ` FROM transfers WHERE id = $1 FOR UPDATE`

func (q *Queries) GetTransferForUpdate(ctx context.Context, id uuid.UUID) (models.Transfer, error) {
	t, err := scanTransfer(q.db.QueryRow(ctx, getTransferForUpdate, id))
	return t, notFound(err)
}

const getPendingTransferByClaimHash = `-- name: GetPendingTransferByClaimHash :one
SELECT ` + transferColumns + `
FROM transfers
WHERE claim_token_hash = $1 AND status = 'pending_claim'
FOR UPDATE`

func (q *Queries) GetPendingTransferByClaimHash(ctx context.Context, claimTokenHash string) (models.Transfer, error) {
	t, err := scanTransfer(q.db.QueryRow(ctx, getPendingTransferByClaimHash, claimTokenHash))
	return t, notFound(err)
}

const claimTransfer = `-- name: ClaimTransfer :execrows
UPDATE transfers
SET status = 'claimed', recipient_id = $2, claimed_at = $3, claim_token_hash = NULL, updated_at = NOW()
WHERE id = $1 AND status = 'pending_claim'
`

func (q *Queries) ClaimTransfer(ctx context.Context, arg ClaimTransferParams) (int64, error) {
	tag, err := q.db.Exec(ctx, claimTransfer, arg.ID, arg.RecipientID, arg.ClaimedAt)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Leaving pending_claim always burns the claim token.
const updateTransferStatus = `-- name: UpdateTransferStatus :execrows
UPDATE transfers
SET status = $3, claim_token_hash = NULL, updated_at = NOW()
WHERE id = $1 AND status = $2
`

func (q *Queries) UpdateTransferStatus(ctx context.Context, arg UpdateTransferStatusParams) (int64, error) {
	tag, err := q.db.Exec(ctx, updateTransferStatus, arg.ID, arg.FromStatus, arg.ToStatus)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const listExpiredPendingTransfers = `-- name: ListExpiredPendingTransfers :many
SELECT ` + transferColumns + `
FROM transfers
WHERE status = 'pending_claim' AND expires_at < $1
ORDER BY expires_at
LIMIT $2
FOR UPDATE SKIP LOCKED`

func (q *Queries) ListExpiredPendingTransfers(ctx context.Context, before time.Time, limit int32) ([]models.Transfer, error) {
	return collectTransfers(q.db.Query(ctx, listExpiredPendingTransfers, before, limit))
}

const listTransfersByUser = `-- name: ListTransfersByUser :many
SELECT ` + transferColumns + `
FROM transfers
WHERE ($2 IN ('all', 'sent') AND sender_id = $1)
   OR ($2 IN ('all', 'received') AND recipient_id = $1)
ORDER BY created_at DESC, id
LIMIT $3 OFFSET $4`

func (q *Queries) ListTransfersByUser(ctx context.Context, arg ListTransfersParams) ([]models.Transfer, error) {
	direction := arg.Direction
	if direction == "" {
		direction = DirectionAll
	}
	return collectTransfers(q.db.Query(ctx, listTransfersByUser, arg.UserID, direction, arg.Limit, arg.Offset))
}

const listPendingClaimsForEmail = `-- name: ListPendingClaimsForEmail :many
SELECT ` + transferColumns + `
FROM transfers
WHERE recipient_email = $1 AND status = 'pending_claim'
ORDER BY created_at DESC`

func (q *Queries) ListPendingClaimsForEmail(ctx context.Context, email string) ([]models.Transfer, error) {
	return collectTransfers(q.db.Query(ctx, listPendingClaimsForEmail, email))
}
