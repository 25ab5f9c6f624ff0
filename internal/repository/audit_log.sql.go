package repository

import (
	"context"

	"github.com/Big6ixxx/sendzz/internal/models"
)

const insertAuditLog = `-- name: InsertAuditLog :exec
INSERT INTO audit_log (user_id, action, metadata) VALUES ($1, $2, $3)
`

func (q *Queries) InsertAuditLog(ctx context.Context, arg InsertAuditLogParams) error {
	_, err := q.db.Exec(ctx, insertAuditLog, arg.UserID, arg.Action, arg.Metadata)
	return err
}

const listAuditLogs = `-- name: ListAuditLogs :many
SELECT id, user_id, action, metadata, created_at
FROM audit_log
WHERE ($1::uuid IS NULL OR user_id = $1)
  AND ($2 = '' OR action = $2)
ORDER BY created_at DESC, id DESC
LIMIT $3 OFFSET $4
`

func (q *Queries) ListAuditLogs(ctx context.Context, arg ListAuditLogsParams) ([]models.AuditLogEntry, error) {
	rows, err := q.db.Query(ctx, listAuditLogs, arg.UserID, arg.Action, arg.Limit, arg.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []models.AuditLogEntry
	for rows.Next() {
		var e models.AuditLogEntry
		var metadata []byte
		if err := rows.Scan(&e.ID, &e.UserID, &e.Action, &metadata, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Metadata = metadata
		items = append(items, e)
	}
	return items, rows.Err()
}
