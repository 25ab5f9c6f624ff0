package repository

import (
	"context"

	"github.com/Big6ixxx/sendzz/internal/models"
	"github.com/google/uuid"
)

const createUser = `-- name: CreateUser :one
INSERT INTO users (id, email, role)
VALUES ($1, $2, $3)
RETURNING id, email, role, created_at
`

func (q *Queries) CreateUser(ctx context.Context, arg CreateUserParams) (models.User, error) {
	var u models.User
	err := q.db.QueryRow(ctx, createUser, arg.ID, arg.Email, arg.Role).Scan(&u.ID, &u.Email, &u.Role, &u.CreatedAt)
	return u, err
}

const getUser = `-- name: GetUser :one
SELECT id, email, role, created_at FROM users WHERE id = $1
`

func (q *Queries) GetUser(ctx context.Context, id uuid.UUID) (models.User, error) {
	var u models.User
	err := q.db.QueryRow(ctx, getUser, id).Scan(&u.ID, &u.Email, &u.Role, &u.CreatedAt)
	return u, notFound(err)
}

const getUserByEmail = `-- name: GetUserByEmail :one
SELECT id, email, role, created_at FROM users WHERE email = $1
`

func (q *Queries) GetUserByEmail(ctx context.Context, email string) (models.User, error) {
	var u models.User
	err := q.db.QueryRow(ctx, getUserByEmail, email).Scan(&u.ID, &u.Email, &u.Role, &u.CreatedAt)
	return u, notFound(err)
}
