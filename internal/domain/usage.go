package domain

import (
	"time"

	"github.com/google/uuid"
)

// BillingPeriod is the window over which usage counters accumulate.
// Start is inclusive and End is exclusive.
type BillingPeriod struct {
	Start time.Time
	End   time.Time
}

// MonthlyPeriod returns the UTC calendar month containing t.
func MonthlyPeriod(t time.Time) BillingPeriod {
	t = t.UTC()
	start := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	return BillingPeriod{Start: start, End: start.AddDate(0, 1, 0)}
}

// Key returns a stable identifier for the period, e.g. "2026-10".
func (p BillingPeriod) Key() string {
	return p.Start.Format("2006-01")
}

// Contains reports whether t falls inside the period.
func (p BillingPeriod) Contains(t time.Time) bool {
	return !t.Before(p.Start) && t.Before(p.End)
}

// UsageRecord is a user's consumption within one billing period.
type UsageRecord struct {
	UserID               uuid.UUID
	Period               BillingPeriod
	InteractionsConsumed int64
	BudgetSpent          int64
	Suspended            bool
	UpdatedAt            time.Time
}

// RemainingBudget returns ceiling minus spent, floored at zero.
func (u *UsageRecord) RemainingBudget(ceiling int64) int64 {
	if remaining := ceiling - u.BudgetSpent; remaining > 0 {
		return remaining
	}
	return 0
}

// RemainingInteractions returns quota minus consumed, floored at zero.
// The result is -1 when quota is zero (unlimited).
func (u *UsageRecord) RemainingInteractions(quota int64) int64 {
	if quota == 0 {
		return -1
	}
	if remaining := quota - u.InteractionsConsumed; remaining > 0 {
		return remaining
	}
	return 0
}
