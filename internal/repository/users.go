package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// User is a row of the users table.
type User struct {
	ID        uuid.UUID
	Email     string
	PlanID    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

const getUserByID = `-- name: GetUserByID :one
SELECT id, email, plan_id, created_at, updated_at
FROM users
WHERE id = $1
`

func (q *Queries) GetUserByID(ctx context.Context, id uuid.UUID) (User, error) {
	row := q.db.QueryRowContext(ctx, getUserByID, id)
	var i User
	err := row.Scan(
		&i.ID,
		&i.Email,
		&i.PlanID,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const createUser = `-- name: CreateUser :one
INSERT INTO users (id, email, plan_id)
VALUES ($1, $2, $3)
ON CONFLICT (id) DO UPDATE SET email = EXCLUDED.email, plan_id = EXCLUDED.plan_id, updated_at = now()
RETURNING id, email, plan_id, created_at, updated_at
`

type CreateUserParams struct {
	ID     uuid.UUID
	Email  string
	PlanID string
}

func (q *Queries) CreateUser(ctx context.Context, arg CreateUserParams) (User, error) {
	row := q.db.QueryRowContext(ctx, createUser, arg.ID, arg.Email, arg.PlanID)
	var i User
	err := row.Scan(
		&i.ID,
		&i.Email,
		&i.PlanID,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const updateUserPlan = `-- name: UpdateUserPlan :execrows
UPDATE users
SET plan_id = $2, updated_at = now()
WHERE id = $1
`

type UpdateUserPlanParams struct {
	ID     uuid.UUID
	PlanID string
}

func (q *Queries) UpdateUserPlan(ctx context.Context, arg UpdateUserPlanParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, updateUserPlan, arg.ID, arg.PlanID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
