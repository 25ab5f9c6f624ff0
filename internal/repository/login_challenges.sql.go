package repository

import (
	"context"

	"github.com/Big6ixxx/sendzz/internal/models"
)

// A new code replaces any outstanding one for the same address.
const upsertLoginChallenge = `-- name: UpsertLoginChallenge :exec
INSERT INTO login_challenges (email, code_hash, expires_at)
VALUES ($1, $2, $3)
ON CONFLICT (email) DO UPDATE
SET code_hash = EXCLUDED.code_hash, expires_at = EXCLUDED.expires_at, created_at = NOW()
`

func (q *Queries) UpsertLoginChallenge(ctx context.Context, arg UpsertLoginChallengeParams) error {
	_, err := q.db.Exec(ctx, upsertLoginChallenge, arg.Email, arg.CodeHash, arg.ExpiresAt)
	return err
}

const getLoginChallenge = `-- name: GetLoginChallenge :one
SELECT email, code_hash, expires_at, created_at FROM login_challenges WHERE email = $1
`

func (q *Queries) GetLoginChallenge(ctx context.Context, email string) (models.LoginChallenge, error) {
	var c models.LoginChallenge
	err := q.db.QueryRow(ctx, getLoginChallenge, email).Scan(&c.Email, &c.CodeHash, &c.ExpiresAt, &c.CreatedAt)
	return c, notFound(err)
}

const deleteLoginChallenge = `-- name: DeleteLoginChallenge :exec
DELETE FROM login_challenges WHERE email = $1
`

func (q *Queries) DeleteLoginChallenge(ctx context.Context, email string) error {
	_, err := q.db.Exec(ctx, deleteLoginChallenge, email)
	return err
}
