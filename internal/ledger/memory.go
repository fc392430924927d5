package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/DukeRupert/plangate/internal/domain"
	"github.com/google/uuid"
)

// =============================================================================
// MemoryStore Implementation
// =============================================================================

type periodKey struct {
	user  uuid.UUID
	start time.Time
}

type memoryRecord struct {
	period       domain.BillingPeriod
	spent        int64
	interactions int64
	updatedAt    time.Time
}

// MemoryStore keeps usage in process memory. Data is lost on restart.
type MemoryStore struct {
	mu        sync.Mutex
	records   map[periodKey]*memoryRecord
	suspended map[uuid.UUID]bool
	now       Clock
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:   make(map[periodKey]*memoryRecord),
		suspended: make(map[uuid.UUID]bool),
		now:       time.Now,
	}
}

var _ Store = (*MemoryStore)(nil)

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, userID uuid.UUID, period domain.BillingPeriod) (*domain.UsageRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.snapshot(userID, period), nil
}

// Charge implements Store.
func (s *MemoryStore) Charge(ctx context.Context, req ChargeRequest, period domain.BillingPeriod) (*domain.UsageRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := periodKey{user: req.UserID, start: period.Start}
	rec := s.records[key]
	var spent, consumed int64
	if rec != nil {
		spent, consumed = rec.spent, rec.interactions
	}

	if err := req.evaluate(spent, consumed, s.suspended[req.UserID]); err != nil {
		return nil, err
	}

	if rec == nil {
		rec = &memoryRecord{period: period}
		s.records[key] = rec
	}
	rec.spent += req.Amount
	rec.interactions += req.Interactions
	rec.updatedAt = s.now().UTC()

	return s.snapshot(req.UserID, period), nil
}

// SetSuspended implements Store.
func (s *MemoryStore) SetSuspended(ctx context.Context, userID uuid.UUID, suspended bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if suspended {
		s.suspended[userID] = true
	} else {
		delete(s.suspended, userID)
	}
	return nil
}

// PurgeBefore implements Store.
func (s *MemoryStore) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for key, rec := range s.records {
		if !rec.period.End.After(cutoff) {
			delete(s.records, key)
			n++
		}
	}
	return n, nil
}

// snapshot copies the record out; callers must hold s.mu.
func (s *MemoryStore) snapshot(userID uuid.UUID, period domain.BillingPeriod) *domain.UsageRecord {
	out := &domain.UsageRecord{
		UserID:    userID,
		Period:    period,
		Suspended: s.suspended[userID],
	}
	if rec := s.records[periodKey{user: userID, start: period.Start}]; rec != nil {
		out.BudgetSpent = rec.spent
		out.InteractionsConsumed = rec.interactions
		out.UpdatedAt = rec.updatedAt
	}
	return out
}
