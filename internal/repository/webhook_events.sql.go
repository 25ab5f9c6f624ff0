package repository

import (
	"context"
	"errors"
	"time"

	"github.com/Big6ixxx/sendzz/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const webhookEventColumns = `id, provider, event_id, event_type, payload, processed, processed_at, created_at`

func scanWebhookEvent(row pgx.Row) (models.WebhookEvent, error) {
	var e models.WebhookEvent
	var payload []byte
	err := row.Scan(&e.ID, &e.Provider, &e.EventID, &e.EventType, &payload, &e.Processed, &e.ProcessedAt, &e.CreatedAt)
	e.Payload = payload
	return e, err
}

// Inserts the event or, when (provider, event_id) is already stored, returns
// the existing row untouched.
const upsertWebhookEvent = `-- name: UpsertWebhookEvent :one
WITH inserted AS (
    INSERT INTO webhook_events (id, provider, event_id, event_type, payload)
    VALUES ($1, $2, $3, $4, $5)
    ON CONFLICT (provider, event_id) DO NOTHING
    RETURNING ` + webhookEventColumns + `
)
SELECT ` + webhookEventColumns + ` FROM inserted
UNION ALL
SELECT ` + webhookEventColumns + ` FROM webhook_events
WHERE provider = $2 AND event_id = $3 AND NOT EXISTS (SELECT 1 FROM inserted)
LIMIT 1`

const getWebhookEventByKey = `-- name: GetWebhookEventByKey :one
SELECT ` + webhookEventColumns + ` FROM webhook_events WHERE provider = $1 AND event_id = $2`

// UpsertWebhookEvent returns the stored row for (provider, event_id). When a
// concurrent delivery commits the same key first, the statement snapshot
// cannot see its row, so it is read again in a fresh statement.
func (q *Queries) UpsertWebhookEvent(ctx context.Context, arg UpsertWebhookEventParams) (models.WebhookEvent, error) {
	e, err := scanWebhookEvent(q.db.QueryRow(ctx, upsertWebhookEvent, arg.ID, arg.Provider, arg.EventID, arg.EventType, arg.Payload))
	if !errors.Is(err, pgx.ErrNoRows) {
		return e, err
	}
	return scanWebhookEvent(q.db.QueryRow(ctx, getWebhookEventByKey, arg.Provider, arg.EventID))
}

const getWebhookEventForUpdate = `-- name: GetWebhookEventForUpdate :one
SELECT ` + webhookEventColumns + ` FROM webhook_events WHERE id = $1 FOR UPDATE`

func (q *Queries) GetWebhookEventForUpdate(ctx context.Context, id uuid.UUID) (models.WebhookEvent, error) {
	e, err := scanWebhookEvent(q.db.QueryRow(ctx, getWebhookEventForUpdate, id))
	return e, notFound(err)
}

const markWebhookEventProcessed = `-- name: MarkWebhookEventProcessed :execrows
UPDATE webhook_events SET processed = TRUE, processed_at = $2
WHERE id = $1 AND processed = FALSE
`

func (q *Queries) MarkWebhookEventProcessed(ctx context.Context, id uuid.UUID, at time.Time) (int64, error) {
	return execRows(ctx, q.db, markWebhookEventProcessed, id, at)
}

const listUnprocessedWebhookEvents = `-- name: ListUnprocessedWebhookEvents :many
SELECT ` + webhookEventColumns + `
FROM webhook_events
WHERE provider = $1 AND processed = FALSE
ORDER BY created_at
LIMIT $2`

func (q *Queries) ListUnprocessedWebhookEvents(ctx context.Context, provider string, limit int32) ([]models.WebhookEvent, error) {
	rows, err := q.db.Query(ctx, listUnprocessedWebhookEvents, provider, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []models.WebhookEvent
	for rows.Next() {
		e, err := scanWebhookEvent(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, e)
	}
	return items, rows.Err()
}
