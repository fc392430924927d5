package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/DukeRupert/plangate/internal/domain"
	"github.com/DukeRupert/plangate/internal/repository"
	"github.com/google/uuid"
)

// UserDirectory resolves users and their subscription plan.
type UserDirectory interface {
	// GetUser returns the user or a NotFound error.
	GetUser(ctx context.Context, id uuid.UUID) (*domain.User, error)

	// SetPlan records a new plan for the user.
	SetPlan(ctx context.Context, id uuid.UUID, planID domain.PlanID) error
}

// =============================================================================
// SQL directory
// =============================================================================

type sqlDirectory struct {
	queries *repository.Queries
}

// NewSQLDirectory creates a UserDirectory backed by the users table.
func NewSQLDirectory(queries *repository.Queries) UserDirectory {
	return &sqlDirectory{queries: queries}
}

func (d *sqlDirectory) GetUser(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	const op = "directory.get_user"

	row, err := d.queries.GetUserByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NotFound(op, "user", id.String())
		}
		return nil, domain.StorageUnavailable(err, op)
	}
	return repoUserToDomain(row), nil
}

func (d *sqlDirectory) SetPlan(ctx context.Context, id uuid.UUID, planID domain.PlanID) error {
	const op = "directory.set_plan"

	n, err := d.queries.UpdateUserPlan(ctx, repository.UpdateUserPlanParams{ID: id, PlanID: string(planID)})
	if err != nil {
		return domain.StorageUnavailable(err, op)
	}
	if n == 0 {
		return domain.NotFound(op, "user", id.String())
	}
	return nil
}

// SeedUsers inserts or updates the given users. Used for development fixtures.
func SeedUsers(ctx context.Context, queries *repository.Queries, users []domain.User) error {
	for _, u := range users {
		if _, err := queries.CreateUser(ctx, repository.CreateUserParams{
			ID:     u.ID,
			Email:  u.Email,
			PlanID: string(u.PlanID),
		}); err != nil {
			return fmt.Errorf("seed user %s: %w", u.ID, err)
		}
	}
	return nil
}

func repoUserToDomain(u repository.User) *domain.User {
	return &domain.User{
		ID:        u.ID,
		Email:     u.Email,
		PlanID:    domain.PlanID(u.PlanID),
		CreatedAt: u.CreatedAt,
	}
}

// =============================================================================
// In-memory directory
// =============================================================================

// MemoryDirectory is a UserDirectory held in memory. It backs development
// runs without a database and the package tests.
type MemoryDirectory struct {
	mu    sync.RWMutex
	users map[uuid.UUID]domain.User
}

// NewMemoryDirectory creates a directory holding users.
func NewMemoryDirectory(users ...domain.User) *MemoryDirectory {
	d := &MemoryDirectory{users: make(map[uuid.UUID]domain.User, len(users))}
	for _, u := range users {
		d.users[u.ID] = u
	}
	return d
}

var _ UserDirectory = (*MemoryDirectory)(nil)

func (d *MemoryDirectory) GetUser(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.users[id]
	if !ok {
		return nil, domain.NotFound("directory.get_user", "user", id.String())
	}
	return &u, nil
}

func (d *MemoryDirectory) SetPlan(ctx context.Context, id uuid.UUID, planID domain.PlanID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.users[id]
	if !ok {
		return domain.NotFound("directory.set_plan", "user", id.String())
	}
	u.PlanID = planID
	d.users[id] = u
	return nil
}

// ParseDevUsers parses a comma-separated list of "uuid=plan" pairs.
func ParseDevUsers(s string) ([]domain.User, error) {
	var users []domain.User
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		idStr, plan, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(plan) == "" {
			return nil, fmt.Errorf("dev user %q: expected uuid=plan", pair)
		}
		id, err := uuid.Parse(strings.TrimSpace(idStr))
		if err != nil {
			return nil, fmt.Errorf("dev user %q: %w", pair, err)
		}
		users = append(users, domain.User{
			ID:     id,
			Email:  fmt.Sprintf("dev+%s@localhost", id.String()[:8]),
			PlanID: domain.PlanID(strings.TrimSpace(plan)),
		})
	}
	return users, nil
}
