package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/DukeRupert/plangate/internal/domain"
	"github.com/google/uuid"
)

// =============================================================================
// PostgresStore Implementation
// =============================================================================

// PostgresStore persists usage in the usage_records and account_suspensions
// tables (see internal/migrations). It works with any database/sql handle;
// production uses the pgx stdlib driver.
//
// Charges lock the (user, period) row with SELECT ... FOR UPDATE, so charges
// from separate processes serialize on the database.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgresStore on an open database handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

var _ Store = (*PostgresStore)(nil)

const getUsageSQL = `
SELECT COALESCE(r.budget_spent, 0),
       COALESCE(r.interactions_consumed, 0),
       r.updated_at,
       EXISTS (SELECT 1 FROM account_suspensions s WHERE s.user_id = $1)
FROM (SELECT 1) AS one
LEFT JOIN usage_records r ON r.user_id = $1 AND r.period_start = $2`

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, userID uuid.UUID, period domain.BillingPeriod) (*domain.UsageRecord, error) {
	rec := &domain.UsageRecord{UserID: userID, Period: period}
	var updatedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, getUsageSQL, userID, period.Start).Scan(
		&rec.BudgetSpent,
		&rec.InteractionsConsumed,
		&updatedAt,
		&rec.Suspended,
	)
	if err != nil {
		return nil, fmt.Errorf("get usage for user %s: %w", userID, err)
	}
	if updatedAt.Valid {
		rec.UpdatedAt = updatedAt.Time
	}
	return rec, nil
}

const (
	seedUsageSQL = `
INSERT INTO usage_records (user_id, period_start, period_end)
VALUES ($1, $2, $3)
ON CONFLICT (user_id, period_start) DO NOTHING`

	lockUsageSQL = `
SELECT r.budget_spent,
       r.interactions_consumed,
       EXISTS (SELECT 1 FROM account_suspensions s WHERE s.user_id = r.user_id)
FROM usage_records r
WHERE r.user_id = $1 AND r.period_start = $2
FOR UPDATE`

	applyChargeSQL = `
UPDATE usage_records
SET budget_spent = budget_spent + $3,
    interactions_consumed = interactions_consumed + $4,
    updated_at = now()
WHERE user_id = $1 AND period_start = $2 AND budget_spent + $3 <= $5
RETURNING budget_spent, interactions_consumed, updated_at`
)

// Charge implements Store.
func (s *PostgresStore) Charge(ctx context.Context, req ChargeRequest, period domain.BillingPeriod) (*domain.UsageRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("starting charge transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, seedUsageSQL, req.UserID, period.Start, period.End); err != nil {
		return nil, fmt.Errorf("seeding usage row for user %s: %w", req.UserID, err)
	}

	var spent, consumed int64
	var suspended bool
	if err := tx.QueryRowContext(ctx, lockUsageSQL, req.UserID, period.Start).Scan(&spent, &consumed, &suspended); err != nil {
		return nil, fmt.Errorf("locking usage row for user %s: %w", req.UserID, err)
	}

	if err := req.evaluate(spent, consumed, suspended); err != nil {
		return nil, err
	}

	rec := &domain.UsageRecord{UserID: req.UserID, Period: period}
	err = tx.QueryRowContext(ctx, applyChargeSQL,
		req.UserID, period.Start, req.Amount, req.Interactions, req.BudgetCeiling,
	).Scan(&rec.BudgetSpent, &rec.InteractionsConsumed, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		// The ceiling guard refused the update even though the locked read passed.
		return nil, &ChargeError{UserID: req.UserID, Err: ErrInsufficientBudget, Shortfall: spent + req.Amount - req.BudgetCeiling}
	}
	if err != nil {
		return nil, fmt.Errorf("applying charge for user %s: %w", req.UserID, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing charge for user %s: %w", req.UserID, err)
	}
	return rec, nil
}

const (
	suspendSQL   = `INSERT INTO account_suspensions (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`
	unsuspendSQL = `DELETE FROM account_suspensions WHERE user_id = $1`
)

// SetSuspended implements Store.
func (s *PostgresStore) SetSuspended(ctx context.Context, userID uuid.UUID, suspended bool) error {
	q := unsuspendSQL
	if suspended {
		q = suspendSQL
	}
	if _, err := s.db.ExecContext(ctx, q, userID); err != nil {
		return fmt.Errorf("updating suspension for user %s: %w", userID, err)
	}
	return nil
}

const purgeSQL = `DELETE FROM usage_records WHERE period_end <= $1`

// PurgeBefore implements Store.
func (s *PostgresStore) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, purgeSQL, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purging usage before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purging usage: %w", err)
	}
	return n, nil
}
