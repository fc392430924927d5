package ledger

import (
	"context"
	"errors"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/DukeRupert/plangate/internal/domain"
	"github.com/google/uuid"
)

// lockStripes is the number of mutexes charges are spread over.
const lockStripes = 64

// Clock returns the current time. Tests swap it to cross period boundaries.
type Clock func() time.Time

// Ledger is the usage ledger. It resolves the current billing period from its
// clock and serializes charges per user before delegating to the store.
type Ledger struct {
	store  Store
	now    Clock
	logger *slog.Logger

	locks [lockStripes]sync.Mutex
}

// New creates a Ledger. A nil clock uses time.Now.
func New(store Store, now Clock, logger *slog.Logger) *Ledger {
	if now == nil {
		now = time.Now
	}
	return &Ledger{
		store:  store,
		now:    now,
		logger: logger,
	}
}

// CurrentPeriod returns the billing period containing the clock's time.
func (l *Ledger) CurrentPeriod() domain.BillingPeriod {
	return domain.MonthlyPeriod(l.now())
}

// GetUsage returns the user's record for the current period. A zeroed record
// is returned if the user has not been charged yet this period.
func (l *Ledger) GetUsage(ctx context.Context, userID uuid.UUID) (*domain.UsageRecord, error) {
	const op = "ledger.get_usage"

	rec, err := l.store.Get(ctx, userID, l.CurrentPeriod())
	if err != nil {
		return nil, domain.StorageUnavailable(err, op)
	}
	return rec, nil
}

// Charge applies a charge to the user's current period.
//
// Both counters move together or not at all. Rejections come back as
// InsufficientBudget, QuotaExhausted or Suspended domain errors; store
// failures come back as StorageUnavailable.
func (l *Ledger) Charge(ctx context.Context, req ChargeRequest) (*domain.UsageRecord, error) {
	const op = "ledger.charge"

	if req.UserID == uuid.Nil {
		return nil, domain.Invalid(op, "user id is required")
	}
	if req.Amount < 0 || req.Interactions < 0 {
		return nil, domain.Invalid(op, "charge amounts must not be negative")
	}

	mu := l.lockFor(req.UserID)
	mu.Lock()
	defer mu.Unlock()

	rec, err := l.store.Charge(ctx, req, l.CurrentPeriod())
	if err != nil {
		var ce *ChargeError
		if !errors.As(err, &ce) {
			l.logger.Error("charge write failed",
				"user_id", req.UserID,
				"amount", req.Amount,
				"error", err,
			)
			return nil, domain.StorageUnavailable(err, op)
		}
		var de *domain.Error
		switch {
		case errors.Is(ce.Err, ErrSuspended):
			de = domain.Suspended(op)
			de.Err = ce
		case errors.Is(ce.Err, ErrQuotaExhausted):
			de = domain.QuotaExhausted(op, ce.Used, ce.Limit)
			de.Err = ce
		default:
			de = domain.InsufficientBudget(op, ce.Shortfall)
			de.Err = &domain.ShortfallError{Amount: ce.Shortfall, Err: ce}
		}
		return nil, de
	}

	l.logger.Debug("charge applied",
		"user_id", req.UserID,
		"amount", req.Amount,
		"interactions", req.Interactions,
		"budget_spent", rec.BudgetSpent,
		"period", rec.Period.Key(),
	)
	return rec, nil
}

// Suspend marks the user as suspended. Calling it twice is a no-op.
func (l *Ledger) Suspend(ctx context.Context, userID uuid.UUID) error {
	return l.setSuspended(ctx, "ledger.suspend", userID, true)
}

// Unsuspend clears the user's suspension. Calling it on an active user is a no-op.
func (l *Ledger) Unsuspend(ctx context.Context, userID uuid.UUID) error {
	return l.setSuspended(ctx, "ledger.unsuspend", userID, false)
}

func (l *Ledger) setSuspended(ctx context.Context, op string, userID uuid.UUID, suspended bool) error {
	if userID == uuid.Nil {
		return domain.Invalid(op, "user id is required")
	}

	mu := l.lockFor(userID)
	mu.Lock()
	defer mu.Unlock()

	if err := l.store.SetSuspended(ctx, userID, suspended); err != nil {
		return domain.StorageUnavailable(err, op)
	}
	l.logger.Info("suspension updated", "user_id", userID, "suspended", suspended)
	return nil
}

// PurgeStale removes records for periods that ended more than retain periods
// before the current one.
func (l *Ledger) PurgeStale(ctx context.Context, retain int) (int64, error) {
	const op = "ledger.purge_stale"

	if retain < 0 {
		retain = 0
	}
	cutoff := l.CurrentPeriod().Start.AddDate(0, -retain, 0)
	n, err := l.store.PurgeBefore(ctx, cutoff)
	if err != nil {
		return 0, domain.StorageUnavailable(err, op)
	}
	return n, nil
}

func (l *Ledger) lockFor(userID uuid.UUID) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write(userID[:])
	return &l.locks[h.Sum32()%lockStripes]
}
