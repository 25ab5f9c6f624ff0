package repository

import (
	"context"

	"github.com/Big6ixxx/sendzz/internal/models"
	"github.com/google/uuid"
)

const ensureBalance = `-- name: EnsureBalance :exec
INSERT INTO balances (user_id, asset, available, locked)
VALUES ($1, $2, 0, 0)
ON CONFLICT (user_id, asset) DO NOTHING
`

func (q *Queries) EnsureBalance(ctx context.Context, userID uuid.UUID, asset string) error {
	_, err := q.db.Exec(ctx, ensureBalance, userID, asset)
	return err
}

const getBalance = `-- name: GetBalance :one
SELECT user_id, asset, available, locked, updated_at
FROM balances
WHERE user_id = $1 AND asset = $2
`

func (q *Queries) GetBalance(ctx context.Context, userID uuid.UUID, asset string) (models.Balance, error) {
	var b models.Balance
	err := q.db.QueryRow(ctx, getBalance, userID, asset).Scan(&b.UserID, &b.Asset, &b.Available, &b.Locked, &b.UpdatedAt)
	return b, notFound(err)
}

// The previous values act as the version: the update only lands when nobody
// has touched the row since it was read.
const compareAndSwapBalance = `-- name: CompareAndSwapBalance :execrows
UPDATE balances
SET available = $5, locked = $6, updated_at = NOW()
WHERE user_id = $1 AND asset = $2 AND available = $3 AND locked = $4
`

func (q *Queries) CompareAndSwapBalance(ctx context.Context, arg CompareAndSwapBalanceParams) (int64, error) {
	tag, err := q.db.Exec(ctx, compareAndSwapBalance,
		arg.UserID, arg.Asset, arg.PrevAvailable, arg.PrevLocked, arg.Available, arg.Locked)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const listBalances = `-- name: ListBalances :many
SELECT user_id, asset, available, locked, updated_at
FROM balances
WHERE user_id = $1
ORDER BY asset
`

func (q *Queries) ListBalances(ctx context.Context, userID uuid.UUID) ([]models.Balance, error) {
	rows, err := q.db.Query(ctx, listBalances, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []models.Balance
	for rows.Next() {
		var b models.Balance
		if err := rows.Scan(&b.UserID, &b.Asset, &b.Available, &b.Locked, &b.UpdatedAt); err != nil {
			return nil, err
		}
		items = append(items, b)
	}
	return items, rows.Err()
}
