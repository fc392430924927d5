// Package ledger tracks per-user consumption against a billing period.
//
// This package defines a Store interface with implementations for:
// - MemoryStore: in-process maps for development and tests
// - PostgresStore: durable storage using row locks inside a transaction
// - RedisStore: shared storage with a Lua script for atomic charges
//
// Records are keyed by (user, billing period). Suspension is kept per user so
// it survives period rollover.
package ledger

import (
	"context"
	"time"

	"github.com/DukeRupert/plangate/internal/domain"
	"github.com/google/uuid"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Store persists usage counters.
//
// Every implementation must make Charge atomic with respect to concurrent
// charges for the same user, including charges from other processes.
type Store interface {
	// Get returns the user's record for the period, or a zero record if none
	// exists yet. Suspended reflects the user's current suspension state.
	Get(ctx context.Context, userID uuid.UUID, period domain.BillingPeriod) (*domain.UsageRecord, error)

	// Charge increments both counters if the result stays within the limits
	// in req. On rejection it returns a *ChargeError and leaves state unchanged.
	Charge(ctx context.Context, req ChargeRequest, period domain.BillingPeriod) (*domain.UsageRecord, error)

	// SetSuspended sets or clears the user's suspension flag. Idempotent.
	SetSuspended(ctx context.Context, userID uuid.UUID, suspended bool) error

	// PurgeBefore deletes records whose period ended at or before the cutoff.
	// Returns the number of records removed.
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// =============================================================================
// Data Types
// =============================================================================

// ChargeRequest describes one charge against a user's current period.
type ChargeRequest struct {
	UserID       uuid.UUID
	Amount       int64
	Interactions int64

	// Limits come from the user's plan at the time of the charge.
	BudgetCeiling    int64
	InteractionQuota int64 // 0 means unlimited
}

// evaluate checks a charge against current counters. It is shared by the
// in-process stores so the rejection rules match the SQL and Lua versions.
func (req ChargeRequest) evaluate(spent, consumed int64, suspended bool) error {
	if suspended {
		return &ChargeError{UserID: req.UserID, Err: ErrSuspended}
	}
	if spent+req.Amount > req.BudgetCeiling {
		return &ChargeError{
			UserID:    req.UserID,
			Err:       ErrInsufficientBudget,
			Shortfall: spent + req.Amount - req.BudgetCeiling,
		}
	}
	if req.InteractionQuota > 0 && consumed+req.Interactions > req.InteractionQuota {
		return &ChargeError{
			UserID: req.UserID,
			Err:    ErrQuotaExhausted,
			Used:   consumed,
			Limit:  req.InteractionQuota,
		}
	}
	return nil
}
