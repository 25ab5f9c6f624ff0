package repository

import (
	"context"

	"github.com/Big6ixxx/sendzz/internal/models"
)

const getIdempotencyKey = `-- name: GetIdempotencyKey :one
SELECT idempotency_key, request_hash, method, path, response_status, response_body, content_type, in_progress, created_at
FROM idempotency_keys
WHERE idempotency_key = $1
`

func (q *Queries) GetIdempotencyKey(ctx context.Context, key string) (models.IdempotencyKey, error) {
	var k models.IdempotencyKey
	var status int32
	err := q.db.QueryRow(ctx, getIdempotencyKey, key).Scan(
		&k.Key, &k.RequestHash, &k.Method, &k.Path, &status, &k.ResponseBody, &k.ContentType, &k.InProgress, &k.CreatedAt)
	k.ResponseStatus = int(status)
	return k, notFound(err)
}

const reserveIdempotencyKey = `-- name: ReserveIdempotencyKey :execrows
INSERT INTO idempotency_keys (idempotency_key, request_hash, method, path, in_progress)
VALUES ($1, $2, $3, $4, TRUE)
ON CONFLICT (idempotency_key) DO NOTHING
`

// ReserveIdempotencyKey reports whether this caller now owns the key.
func (q *Queries) ReserveIdempotencyKey(ctx context.Context, arg ReserveIdempotencyKeyParams) (bool, error) {
	n, err := execRows(ctx, q.db, reserveIdempotencyKey, arg.Key, arg.RequestHash, arg.Method, arg.Path)
	return n == 1, err
}

const finalizeIdempotencyKey = `-- name: FinalizeIdempotencyKey :exec
UPDATE idempotency_keys
SET response_status = $3, response_body = $4, content_type = $5, in_progress = FALSE, updated_at = NOW()
WHERE idempotency_key = $1 AND request_hash = $2
`

func (q *Queries) FinalizeIdempotencyKey(ctx context.Context, arg FinalizeIdempotencyKeyParams) error {
	_, err := q.db.Exec(ctx, finalizeIdempotencyKey, arg.Key, arg.RequestHash, int32(arg.ResponseStatus), arg.ResponseBody, arg.ContentType)
	return err
}

const deleteIdempotencyKey = `-- name: DeleteIdempotencyKey :exec
DELETE FROM idempotency_keys WHERE idempotency_key = $1 AND in_progress = TRUE
`

func (q *Queries) DeleteIdempotencyKey(ctx context.Context, key string) error {
	_, err := q.db.Exec(ctx, deleteIdempotencyKey, key)
	return err
}
