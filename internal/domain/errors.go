package domain

import (
	"errors"
	"fmt"
)

// Application error codes
const (
	EINVALID      = "invalid"      // Invalid input or validation failure
	EUNAUTHORIZED = "unauthorized" // Authentication required
	EFORBIDDEN    = "forbidden"    // Permission denied
	ENOTFOUND     = "not_found"    // Resource not found
	ECONFLICT     = "conflict"     // Resource conflict (e.g., duplicate)
	EINTERNAL     = "internal"     // Internal server error
	EUNAVAILABLE  = "unavailable"  // Storage or dependency temporarily unavailable

	// Access gate codes
	EUNKNOWNPLAN        = "unknown_plan"        // User references a plan missing from the catalog
	EINSUFFICIENTBUDGET = "insufficient_budget" // Charge would exceed the plan's budget ceiling
	EFEATURENOTINPLAN   = "feature_not_in_plan" // Action requires a feature the plan lacks
	ESUSPENDED          = "suspended"           // Account is suspended
	EQUOTAEXHAUSTED     = "quota_exhausted"     // Monthly interaction quota used up
)

// Error represents an application error with structured information.
type Error struct {
	Code    string // Machine-readable error code
	Op      string // Operation that failed (e.g., "ledger.charge")
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Errorf creates a new Error with the given code, operation, and formatted message.
func Errorf(code, op, format string, args ...interface{}) *Error {
	return &Error{
		Code:    code,
		Op:      op,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap wraps an existing error with additional context.
func Wrap(err error, code, op, message string) *Error {
	return &Error{
		Code:    code,
		Op:      op,
		Message: message,
		Err:     err,
	}
}

// ErrorCode returns the code of the root error, or EINTERNAL if none.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return EINTERNAL
}

// ErrorMessage returns the human-readable message of the error.
func ErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		switch e.Code {
		case EINTERNAL, EUNKNOWNPLAN:
			return "An internal error occurred. Please try again later."
		case EUNAVAILABLE:
			return "The service is temporarily unavailable. Please try again shortly."
		}
		return e.Message
	}
	return "An internal error occurred. Please try again later."
}

// ErrorOp returns the operation of the root error, if any.
func ErrorOp(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Op
	}
	return ""
}

// IsDenial reports whether err is an expected business denial rather than a failure.
func IsDenial(err error) bool {
	switch ErrorCode(err) {
	case EINSUFFICIENTBUDGET, EFEATURENOTINPLAN, ESUSPENDED, EQUOTAEXHAUSTED:
		return true
	}
	return false
}

// Convenience constructors for common error types

// NotFound creates a not found error.
func NotFound(op, resource, id string) *Error {
	return &Error{
		Code:    ENOTFOUND,
		Op:      op,
		Message: fmt.Sprintf("%s with ID %q not found", resource, id),
	}
}

// Invalid creates a validation error.
func Invalid(op, message string) *Error {
	return &Error{
		Code:    EINVALID,
		Op:      op,
		Message: message,
	}
}

// Unauthorized creates an authentication error.
func Unauthorized(op, message string) *Error {
	return &Error{
		Code:    EUNAUTHORIZED,
		Op:      op,
		Message: message,
	}
}

// Unauthenticated is returned when a request identity cannot be resolved to a user.
// The message never mentions plans or budgets.
func Unauthenticated(op string) *Error {
	return Unauthorized(op, "Authentication required")
}

// Forbidden creates a permission error.
func Forbidden(op, message string) *Error {
	return &Error{
		Code:    EFORBIDDEN,
		Op:      op,
		Message: message,
	}
}

// UnknownPlan creates an error for a plan identifier missing from the catalog.
func UnknownPlan(op string, id PlanID) *Error {
	return &Error{
		Code:    EUNKNOWNPLAN,
		Op:      op,
		Message: fmt.Sprintf("plan %q is not in the catalog", id),
	}
}

// StorageUnavailable wraps a storage failure.
func StorageUnavailable(err error, op string) *Error {
	return &Error{
		Code:    EUNAVAILABLE,
		Op:      op,
		Message: "usage storage unavailable",
		Err:     err,
	}
}

// InsufficientBudget creates a budget denial carrying the shortfall in minor units.
func InsufficientBudget(op string, shortfall int64) *Error {
	return &Error{
		Code:    EINSUFFICIENTBUDGET,
		Op:      op,
		Message: fmt.Sprintf("charge exceeds budget ceiling by %d", shortfall),
		Err:     &ShortfallError{Amount: shortfall},
	}
}

// QuotaExhausted creates an interaction quota denial.
func QuotaExhausted(op string, used, limit int64) *Error {
	return &Error{
		Code:    EQUOTAEXHAUSTED,
		Op:      op,
		Message: fmt.Sprintf("interaction quota exhausted (%d of %d used)", used, limit),
	}
}

// Suspended creates a suspension denial.
func Suspended(op string) *Error {
	return &Error{
		Code:    ESUSPENDED,
		Op:      op,
		Message: "account is suspended",
	}
}

// ShortfallError reports how far a rejected charge overshot the ceiling.
// Err is the store rejection behind it, if any.
type ShortfallError struct {
	Amount int64
	Err    error
}

func (e *ShortfallError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("shortfall of %d: %v", e.Amount, e.Err)
	}
	return fmt.Sprintf("shortfall of %d", e.Amount)
}

func (e *ShortfallError) Unwrap() error {
	return e.Err
}

// Shortfall extracts the shortfall amount from err, if present.
func Shortfall(err error) (int64, bool) {
	var se *ShortfallError
	if errors.As(err, &se) {
		return se.Amount, true
	}
	return 0, false
}

// ValidationError represents field-level validation errors.
type ValidationError struct {
	Op     string
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: validation failed", e.Op)
}

// NewValidationError creates a new validation error with the first field error.
func NewValidationError(op, field, message string) *ValidationError {
	return &ValidationError{
		Op: op,
		Fields: map[string]string{
			field: message,
		},
	}
}
