package repository

import (
	"context"

	"github.com/Big6ixxx/sendzz/internal/models"
	"github.com/google/uuid"
)

const ledgerEntryExists = `-- name: LedgerEntryExists :one
SELECT EXISTS (
    SELECT 1 FROM ledger_entries WHERE user_id = $1 AND kind = $2 AND reference = $3
)
`

func (q *Queries) LedgerEntryExists(ctx context.Context, userID uuid.UUID, kind, reference string) (bool, error) {
	var exists bool
	err := q.db.QueryRow(ctx, ledgerEntryExists, userID, kind, reference).Scan(&exists)
	return exists, err
}

const insertLedgerEntry = `-- name: InsertLedgerEntry :exec
INSERT INTO ledger_entries (id, user_id, asset, kind, amount, reference)
VALUES ($1, $2, $3, $4, $5, $6)
`

func (q *Queries) InsertLedgerEntry(ctx context.Context, arg InsertLedgerEntryParams) error {
	_, err := q.db.Exec(ctx, insertLedgerEntry, arg.ID, arg.UserID, arg.Asset, arg.Kind, arg.Amount, arg.Reference)
	return err
}

const listLedgerEntries = `-- name: ListLedgerEntries :many
SELECT id, user_id, asset, kind, amount, reference, created_at
FROM ledger_entries
WHERE user_id = $1
ORDER BY created_at DESC, id
LIMIT $2 OFFSET $3
`

func (q *Queries) ListLedgerEntries(ctx context.Context, arg ListLedgerEntriesParams) ([]models.LedgerEntry, error) {
	rows, err := q.db.Query(ctx, listLedgerEntries, arg.UserID, arg.Limit, arg.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []models.LedgerEntry
	for rows.Next() {
		var e models.LedgerEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.Asset, &e.Kind, &e.Amount, &e.Reference, &e.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, e)
	}
	return items, rows.Err()
}

// Replays the journal per (user, asset) and reports rows whose stored
// balance disagrees with it.
const listLedgerDrift = `-- name: ListLedgerDrift :many
WITH journal AS (
    SELECT user_id, asset,
        SUM(CASE kind
            WHEN 'credit' THEN amount
            WHEN 'debit'  THEN -amount
            WHEN 'lock'   THEN -amount
            WHEN 'unlock' THEN amount
            ELSE 0 END) AS available,
        SUM(CASE kind
            WHEN 'lock'    THEN amount
            WHEN 'unlock'  THEN -amount
            WHEN 'release' THEN -amount
            ELSE 0 END) AS locked
    FROM ledger_entries
    GROUP BY user_id, asset
)
SELECT b.user_id, b.asset, b.available, b.locked,
    COALESCE(j.available, 0)::BIGINT, COALESCE(j.locked, 0)::BIGINT
FROM balances b
LEFT JOIN journal j ON j.user_id = b.user_id AND j.asset = b.asset
WHERE b.available <> COALESCE(j.available, 0) OR b.locked <> COALESCE(j.locked, 0)
`

func (q *Queries) ListLedgerDrift(ctx context.Context) ([]models.LedgerDrift, error) {
	rows, err := q.db.Query(ctx, listLedgerDrift)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []models.LedgerDrift
	for rows.Next() {
		var d models.LedgerDrift
		if err := rows.Scan(&d.UserID, &d.Asset, &d.Available, &d.Locked, &d.JournalAvailable, &d.JournalLocked); err != nil {
			return nil, err
		}
		items = append(items, d)
	}
	return items, rows.Err()
}
