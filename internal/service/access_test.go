package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/DukeRupert/plangate/internal/catalog"
	"github.com/DukeRupert/plangate/internal/domain"
	"github.com/DukeRupert/plangate/internal/ledger"
	"github.com/DukeRupert/plangate/internal/policy"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test doubles
// =============================================================================

// mockLedger implements UsageLedger and counts calls.
type mockLedger struct {
	GetUsageFunc func(ctx context.Context, userID uuid.UUID) (*domain.UsageRecord, error)
	ChargeFunc   func(ctx context.Context, req ledger.ChargeRequest) (*domain.UsageRecord, error)

	calls int
}

func (m *mockLedger) GetUsage(ctx context.Context, userID uuid.UUID) (*domain.UsageRecord, error) {
	m.calls++
	if m.GetUsageFunc != nil {
		return m.GetUsageFunc(ctx, userID)
	}
	return &domain.UsageRecord{UserID: userID}, nil
}

func (m *mockLedger) Charge(ctx context.Context, req ledger.ChargeRequest) (*domain.UsageRecord, error) {
	m.calls++
	if m.ChargeFunc != nil {
		return m.ChargeFunc(ctx, req)
	}
	return nil, errors.New("ChargeFunc not implemented")
}

func (m *mockLedger) Suspend(ctx context.Context, userID uuid.UUID) error {
	m.calls++
	return nil
}

func (m *mockLedger) Unsuspend(ctx context.Context, userID uuid.UUID) error {
	m.calls++
	return nil
}

// countingCatalog wraps a catalog and counts lookups.
type countingCatalog struct {
	PlanCatalog
	calls int
}

func (c *countingCatalog) Resolve(id domain.PlanID) (domain.Plan, error) {
	c.calls++
	return c.PlanCatalog.Resolve(id)
}

func (c *countingCatalog) Cost(action domain.ActionType) (domain.ActionCost, error) {
	c.calls++
	return c.PlanCatalog.Cost(action)
}

// recordingObserver keeps every decision and charge result.
type recordingObserver struct {
	mu        sync.Mutex
	decisions []*domain.AccessDecision
	charges   []error
}

func (o *recordingObserver) ObserveDecision(_ context.Context, d *domain.AccessDecision) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.decisions = append(o.decisions, d)
}

func (o *recordingObserver) ObserveCharge(_ context.Context, _ *domain.AccessDecision, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.charges = append(o.charges, err)
}

// =============================================================================
// Fixture
// =============================================================================

type gateFixture struct {
	gate     AccessGate
	ledger   *ledger.Ledger
	users    *MemoryDirectory
	observer *recordingObserver
	catalog  *catalog.Catalog
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newGateFixture(t *testing.T, users ...domain.User) *gateFixture {
	t.Helper()
	cat, err := catalog.Default()
	require.NoError(t, err)

	now := time.Date(2026, time.October, 14, 12, 0, 0, 0, time.UTC)
	l := ledger.New(ledger.NewMemoryStore(), func() time.Time { return now }, testLogger())
	dir := NewMemoryDirectory(users...)
	obs := &recordingObserver{}

	return &gateFixture{
		gate:     NewAccessGate(dir, cat, l, policy.New(cat), obs, testLogger()),
		ledger:   l,
		users:    dir,
		observer: obs,
		catalog:  cat,
	}
}

func (f *gateFixture) spend(t *testing.T, userID uuid.UUID, amount int64) {
	t.Helper()
	_, err := f.ledger.Charge(context.Background(), ledger.ChargeRequest{
		UserID:        userID,
		Amount:        amount,
		BudgetCeiling: amount,
	})
	require.NoError(t, err)
}

func newUser(plan domain.PlanID) domain.User {
	return domain.User{ID: uuid.New(), Email: "user@example.com", PlanID: plan}
}

func identity(u domain.User) *domain.Identity {
	return &domain.Identity{UserID: u.ID, Role: domain.RoleMember}
}

// =============================================================================
// Check
// =============================================================================

func TestCheck_Unauthenticated(t *testing.T) {
	cat, err := catalog.Default()
	require.NoError(t, err)

	tests := []struct {
		name string
		id   *domain.Identity
	}{
		{"nil identity", nil},
		{"empty identity", &domain.Identity{}},
		{"unknown user", &domain.Identity{UserID: uuid.New()}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ml := &mockLedger{}
			cc := &countingCatalog{PlanCatalog: cat}
			gate := NewAccessGate(NewMemoryDirectory(), cc, ml, policy.New(cat), nil, testLogger())

			d, err := gate.Check(context.Background(), tt.id, domain.ActionCreateIntegration)
			assert.Nil(t, d)
			assert.Equal(t, domain.EUNAUTHORIZED, domain.ErrorCode(err))
			assert.Zero(t, ml.calls, "ledger must not be consulted")
			assert.Zero(t, cc.calls, "catalog must not be consulted")
		})
	}
}

// Pro user with 9500 of 10000 spent asks for a 650 integration.
func TestCheck_DeniedInsufficientBudget(t *testing.T) {
	u := newUser("pro")
	f := newGateFixture(t, u)
	f.spend(t, u.ID, 9500)

	d, err := f.gate.Check(context.Background(), identity(u), domain.ActionCreateIntegration)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeDeniedInsufficientBudget, d.Outcome)
	assert.Equal(t, int64(500), d.RemainingBudget)

	rec, err := f.ledger.GetUsage(context.Background(), u.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(9500), rec.BudgetSpent, "check must not charge")
}

// Pro user with 9000 spent: allowed, and the commit brings spend to 9650.
func TestCheckAndCommit_Allowed(t *testing.T) {
	u := newUser("pro")
	f := newGateFixture(t, u)
	f.spend(t, u.ID, 9000)

	d, err := f.gate.Check(context.Background(), identity(u), domain.ActionCreateIntegration)
	require.NoError(t, err)
	require.True(t, d.Allowed())

	rec, err := f.gate.Commit(context.Background(), d)
	require.NoError(t, err)
	assert.Equal(t, int64(9650), rec.BudgetSpent)
	assert.Equal(t, int64(1), rec.InteractionsConsumed)

	require.Len(t, f.observer.decisions, 1)
	require.Len(t, f.observer.charges, 1)
	assert.NoError(t, f.observer.charges[0])
}

// Basic user asks for calendar sync, which starts at pro.
func TestCheck_FeatureNotInPlan(t *testing.T) {
	u := newUser("basic")
	f := newGateFixture(t, u)

	d, err := f.gate.Check(context.Background(), identity(u), domain.ActionSyncCalendar)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeDeniedFeatureNotInPlan, d.Outcome)
	assert.Equal(t, domain.PlanID("pro"), d.RequiredPlan)
}

func TestCheck_UnknownPlanIsHardFailure(t *testing.T) {
	u := newUser("legacy-gold")
	f := newGateFixture(t, u)

	d, err := f.gate.Check(context.Background(), identity(u), domain.ActionChatbotInteraction)
	assert.Nil(t, d)
	assert.Equal(t, domain.EUNKNOWNPLAN, domain.ErrorCode(err))
	assert.Empty(t, f.observer.decisions)
}

func TestCheck_UnknownAction(t *testing.T) {
	u := newUser("pro")
	f := newGateFixture(t, u)

	_, err := f.gate.Check(context.Background(), identity(u), "teleport")
	assert.Equal(t, domain.EINVALID, domain.ErrorCode(err))
}

func TestCheck_StorageUnavailable(t *testing.T) {
	cat, err := catalog.Default()
	require.NoError(t, err)
	u := newUser("pro")
	ml := &mockLedger{
		GetUsageFunc: func(ctx context.Context, userID uuid.UUID) (*domain.UsageRecord, error) {
			return nil, domain.StorageUnavailable(errors.New("connection reset"), "ledger.get_usage")
		},
	}
	gate := NewAccessGate(NewMemoryDirectory(u), cat, ml, policy.New(cat), nil, testLogger())

	d, err := gate.Check(context.Background(), identity(u), domain.ActionChatbotInteraction)
	assert.Nil(t, d)
	assert.Equal(t, domain.EUNAVAILABLE, domain.ErrorCode(err))
}

func TestCheck_DirectoryFailureIsNotUnauthenticated(t *testing.T) {
	cat, err := catalog.Default()
	require.NoError(t, err)
	dir := &mockDirectory{
		GetUserFunc: func(ctx context.Context, id uuid.UUID) (*domain.User, error) {
			return nil, domain.StorageUnavailable(errors.New("db down"), "directory.get_user")
		},
	}
	gate := NewAccessGate(dir, cat, &mockLedger{}, policy.New(cat), nil, testLogger())

	_, err = gate.Check(context.Background(), &domain.Identity{UserID: uuid.New()}, domain.ActionChatbotInteraction)
	assert.Equal(t, domain.EUNAVAILABLE, domain.ErrorCode(err))
}

// =============================================================================
// Commit
// =============================================================================

func TestCommit_RejectsDeniedDecision(t *testing.T) {
	u := newUser("free")
	f := newGateFixture(t, u)

	d, err := f.gate.Check(context.Background(), identity(u), domain.ActionSyncCalendar)
	require.NoError(t, err)
	require.False(t, d.Allowed())

	_, err = f.gate.Commit(context.Background(), d)
	assert.Equal(t, domain.EINVALID, domain.ErrorCode(err))

	_, err = f.gate.Commit(context.Background(), nil)
	assert.Equal(t, domain.EINVALID, domain.ErrorCode(err))
}

// Two checks pass against the same budget; only the first commit fits.
func TestCommit_LostRace(t *testing.T) {
	u := newUser("basic")
	f := newGateFixture(t, u)
	f.spend(t, u.ID, 4000)

	first, err := f.gate.Check(context.Background(), identity(u), domain.ActionCreateIntegration)
	require.NoError(t, err)
	second, err := f.gate.Check(context.Background(), identity(u), domain.ActionCreateIntegration)
	require.NoError(t, err)
	require.True(t, first.Allowed())
	require.True(t, second.Allowed())

	_, err = f.gate.Commit(context.Background(), first)
	require.NoError(t, err)

	_, err = f.gate.Commit(context.Background(), second)
	assert.Equal(t, domain.EINSUFFICIENTBUDGET, domain.ErrorCode(err))

	rec, err := f.ledger.GetUsage(context.Background(), u.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(4650), rec.BudgetSpent)
	assert.LessOrEqual(t, rec.BudgetSpent, int64(5000))
}

func TestCommit_UsesCurrentPlanCeiling(t *testing.T) {
	u := newUser("pro")
	f := newGateFixture(t, u)
	f.spend(t, u.ID, 4800)

	d, err := f.gate.Check(context.Background(), identity(u), domain.ActionCreateIntegration)
	require.NoError(t, err)
	require.True(t, d.Allowed())

	// Downgrade to basic (ceiling 5000) before the action completes.
	require.NoError(t, f.gate.ChangePlan(context.Background(), u.ID, "basic"))

	_, err = f.gate.Commit(context.Background(), d)
	assert.Equal(t, domain.EINSUFFICIENTBUDGET, domain.ErrorCode(err))
}

func TestCommit_RejectsFeatureDroppedByPlanChange(t *testing.T) {
	u := newUser("pro")
	f := newGateFixture(t, u)
	ctx := context.Background()

	d, err := f.gate.Check(ctx, identity(u), domain.ActionSyncCalendar)
	require.NoError(t, err)
	require.True(t, d.Allowed())

	// Free has no calendar sync.
	require.NoError(t, f.gate.ChangePlan(ctx, u.ID, "free"))

	rec, err := f.gate.Commit(ctx, d)
	assert.Nil(t, rec)
	assert.Equal(t, domain.EFEATURENOTINPLAN, domain.ErrorCode(err))
	assert.True(t, domain.IsDenial(err))

	usage, err := f.ledger.GetUsage(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), usage.BudgetSpent)
	assert.Equal(t, int64(0), usage.InteractionsConsumed)

	fresh, err := f.gate.Check(ctx, identity(u), domain.ActionSyncCalendar)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeDeniedFeatureNotInPlan, fresh.Outcome)
}

// =============================================================================
// Suspension, usage and plan changes
// =============================================================================

func TestSuspend_DominatesAndIsIdempotent(t *testing.T) {
	u := newUser("enterprise")
	f := newGateFixture(t, u)
	ctx := context.Background()

	require.NoError(t, f.gate.Suspend(ctx, u.ID))
	require.NoError(t, f.gate.Suspend(ctx, u.ID))

	d, err := f.gate.Check(ctx, identity(u), domain.ActionChatbotInteraction)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeDeniedSuspended, d.Outcome)

	require.NoError(t, f.gate.Unsuspend(ctx, u.ID))
	require.NoError(t, f.gate.Unsuspend(ctx, u.ID))

	d, err = f.gate.Check(ctx, identity(u), domain.ActionChatbotInteraction)
	require.NoError(t, err)
	assert.True(t, d.Allowed())
}

func TestSuspend_UnknownUser(t *testing.T) {
	f := newGateFixture(t)
	err := f.gate.Suspend(context.Background(), uuid.New())
	assert.Equal(t, domain.ENOTFOUND, domain.ErrorCode(err))
}

func TestUsage(t *testing.T) {
	u := newUser("basic")
	f := newGateFixture(t, u)
	f.spend(t, u.ID, 1200)

	s, err := f.gate.Usage(context.Background(), identity(u))
	require.NoError(t, err)
	assert.Equal(t, domain.PlanID("basic"), s.Plan.ID)
	assert.Equal(t, int64(1200), s.Usage.BudgetSpent)
	assert.Equal(t, int64(3800), s.Usage.RemainingBudget(s.Plan.BudgetCeiling))

	_, err = f.gate.Usage(context.Background(), nil)
	assert.Equal(t, domain.EUNAUTHORIZED, domain.ErrorCode(err))
}

func TestChangePlan(t *testing.T) {
	u := newUser("free")
	f := newGateFixture(t, u)
	ctx := context.Background()

	err := f.gate.ChangePlan(ctx, u.ID, "platinum")
	assert.Equal(t, domain.EINVALID, domain.ErrorCode(err))

	err = f.gate.ChangePlan(ctx, uuid.New(), "pro")
	assert.Equal(t, domain.ENOTFOUND, domain.ErrorCode(err))

	require.NoError(t, f.gate.ChangePlan(ctx, u.ID, "pro"))
	d, err := f.gate.Check(ctx, identity(u), domain.ActionSyncCalendar)
	require.NoError(t, err)
	assert.True(t, d.Allowed())
}

func TestAccessGate_ConcurrentCommits(t *testing.T) {
	u := newUser("basic")
	f := newGateFixture(t, u)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	committed := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := f.gate.Check(ctx, identity(u), domain.ActionCreateIntegration)
			if err != nil || !d.Allowed() {
				return
			}
			if _, err := f.gate.Commit(ctx, d); err == nil {
				mu.Lock()
				committed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	rec, err := f.ledger.GetUsage(ctx, u.ID)
	require.NoError(t, err)
	// 5000 / 650 = 7 integrations fit.
	assert.Equal(t, 7, committed)
	assert.Equal(t, int64(7*650), rec.BudgetSpent)
}
