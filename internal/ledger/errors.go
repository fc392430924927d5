package ledger

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// =============================================================================
// Sentinel Errors
// =============================================================================

var (
	// ErrInsufficientBudget is returned when a charge would push spend past the ceiling.
	ErrInsufficientBudget = errors.New("charge exceeds budget ceiling")

	// ErrQuotaExhausted is returned when a charge would exceed the interaction quota.
	ErrQuotaExhausted = errors.New("interaction quota exhausted")

	// ErrSuspended is returned when charging a suspended account.
	ErrSuspended = errors.New("account suspended")
)

// =============================================================================
// Structured Error Type
// =============================================================================

// ChargeError describes a rejected charge. The store state is unchanged when
// a ChargeError is returned.
type ChargeError struct {
	UserID uuid.UUID

	// Err is one of the sentinel errors above.
	Err error

	// Shortfall is how far the charge overshot the budget ceiling.
	Shortfall int64

	// Used and Limit describe the interaction quota when Err is ErrQuotaExhausted.
	Used  int64
	Limit int64
}

// Error implements the error interface.
func (e *ChargeError) Error() string {
	switch {
	case errors.Is(e.Err, ErrInsufficientBudget):
		return fmt.Sprintf("ledger charge %s: %v (short by %d)", e.UserID, e.Err, e.Shortfall)
	case errors.Is(e.Err, ErrQuotaExhausted):
		return fmt.Sprintf("ledger charge %s: %v (%d of %d)", e.UserID, e.Err, e.Used, e.Limit)
	}
	return fmt.Sprintf("ledger charge %s: %v", e.UserID, e.Err)
}

// Unwrap returns the sentinel error for use with errors.Is().
func (e *ChargeError) Unwrap() error {
	return e.Err
}

// IsRejection returns true if err is a charge rejection rather than a storage failure.
func IsRejection(err error) bool {
	var ce *ChargeError
	return errors.As(err, &ce)
}
