package repository

import (
	"context"
	"time"
)

const insertOTPLog = `-- name: InsertOTPLog :exec
INSERT INTO otp_logs (user_id, email, purpose, success, ip, user_agent)
VALUES ($1, $2, $3, $4, $5, $6)
`

func (q *Queries) InsertOTPLog(ctx context.Context, arg InsertOTPLogParams) error {
	_, err := q.db.Exec(ctx, insertOTPLog, arg.UserID, arg.Email, arg.Purpose, arg.Success, arg.IP, arg.UserAgent)
	return err
}

const countRecentFailedOTPAttempts = `-- name: CountRecentFailedOTPAttempts :one
SELECT COUNT(*) FROM otp_logs
WHERE email = $1 AND purpose = $2 AND success = FALSE AND created_at >= $3
`

func (q *Queries) CountRecentFailedOTPAttempts(ctx context.Context, email, purpose string, since time.Time) (int64, error) {
	var n int64
	err := q.db.QueryRow(ctx, countRecentFailedOTPAttempts, email, purpose, since).Scan(&n)
	return n, err
}
