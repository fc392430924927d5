package policy

import (
	"strings"
	"testing"

	"github.com/DukeRupert/plangate/internal/catalog"
	"github.com/DukeRupert/plangate/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPolicy(t *testing.T) (*Policy, *catalog.Catalog) {
	t.Helper()
	cat, err := catalog.Default()
	require.NoError(t, err)
	return New(cat), cat
}

func mustPlan(t *testing.T, cat *catalog.Catalog, id domain.PlanID) domain.Plan {
	t.Helper()
	p, err := cat.Resolve(id)
	require.NoError(t, err)
	return p
}

func mustCost(t *testing.T, cat *catalog.Catalog, action domain.ActionType) domain.ActionCost {
	t.Helper()
	c, err := cat.Cost(action)
	require.NoError(t, err)
	return c
}

func usage(spent, consumed int64, suspended bool) *domain.UsageRecord {
	return &domain.UsageRecord{
		UserID:               uuid.New(),
		BudgetSpent:          spent,
		InteractionsConsumed: consumed,
		Suspended:            suspended,
	}
}

// Pro plan, 9500 of 10000 spent, integration costs 650.
func TestEvaluate_InsufficientBudget(t *testing.T) {
	p, cat := newTestPolicy(t)
	pro := mustPlan(t, cat, "pro")
	cost := mustCost(t, cat, domain.ActionCreateIntegration)

	d := p.Evaluate(pro, usage(9500, 0, false), cost)

	assert.Equal(t, domain.OutcomeDeniedInsufficientBudget, d.Outcome)
	assert.Equal(t, int64(500), d.RemainingBudget)
	assert.Equal(t, int64(650), d.Price)
	assert.Equal(t, domain.PlanID("pro"), d.CurrentPlan)
	assert.Equal(t, domain.PlanID("enterprise"), d.RequiredPlan)
	assert.Equal(t, domain.EINSUFFICIENTBUDGET, d.ErrorCode())
	assert.NotEmpty(t, d.Message)
}

// Pro plan, 9000 spent: 650 fits and leaves 350.
func TestEvaluate_AllowedWithinBudget(t *testing.T) {
	p, cat := newTestPolicy(t)
	pro := mustPlan(t, cat, "pro")
	cost := mustCost(t, cat, domain.ActionCreateIntegration)

	d := p.Evaluate(pro, usage(9000, 0, false), cost)

	assert.True(t, d.Allowed())
	assert.Equal(t, int64(1000), d.RemainingBudget)
	assert.Empty(t, d.RequiredPlan)
	assert.Empty(t, d.ErrorCode())
}

func TestEvaluate_ExactCeilingAllowed(t *testing.T) {
	p, cat := newTestPolicy(t)
	pro := mustPlan(t, cat, "pro")
	cost := mustCost(t, cat, domain.ActionCreateIntegration)

	d := p.Evaluate(pro, usage(pro.BudgetCeiling-cost.Price, 0, false), cost)
	assert.True(t, d.Allowed())
}

// Basic plan lacks calendar sync; pro is the cheapest plan that has it.
func TestEvaluate_FeatureNotInPlan(t *testing.T) {
	p, cat := newTestPolicy(t)
	basic := mustPlan(t, cat, "basic")
	cost := mustCost(t, cat, domain.ActionSyncCalendar)

	d := p.Evaluate(basic, usage(0, 0, false), cost)

	assert.Equal(t, domain.OutcomeDeniedFeatureNotInPlan, d.Outcome)
	assert.Equal(t, domain.PlanID("pro"), d.RequiredPlan)
	assert.Equal(t, domain.FeatureCalendarSync, d.Feature)
	assert.True(t, strings.Contains(d.Message, "Pro"), "message should name the upgrade: %q", d.Message)
}

func TestEvaluate_FeatureCheckedBeforeBudget(t *testing.T) {
	p, cat := newTestPolicy(t)
	basic := mustPlan(t, cat, "basic")
	cost := mustCost(t, cat, domain.ActionSyncCalendar)

	d := p.Evaluate(basic, usage(basic.BudgetCeiling, 0, false), cost)
	assert.Equal(t, domain.OutcomeDeniedFeatureNotInPlan, d.Outcome)
}

func TestEvaluate_SuspensionDominates(t *testing.T) {
	p, cat := newTestPolicy(t)
	enterprise := mustPlan(t, cat, "enterprise")
	basic := mustPlan(t, cat, "basic")

	tests := []struct {
		name   string
		plan   domain.Plan
		action domain.ActionType
		spent  int64
	}{
		{"plenty of budget", enterprise, domain.ActionChatbotInteraction, 0},
		{"missing feature", basic, domain.ActionSyncCalendar, 0},
		{"over budget", basic, domain.ActionCreateIntegration, basic.BudgetCeiling},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := p.Evaluate(tt.plan, usage(tt.spent, 0, true), mustCost(t, cat, tt.action))
			assert.Equal(t, domain.OutcomeDeniedSuspended, d.Outcome)
			assert.Empty(t, d.RequiredPlan)
		})
	}
}

func TestEvaluate_NoUpgradeCovers(t *testing.T) {
	p, cat := newTestPolicy(t)
	enterprise := mustPlan(t, cat, "enterprise")
	cost := mustCost(t, cat, domain.ActionCreateIntegration)

	d := p.Evaluate(enterprise, usage(enterprise.BudgetCeiling-100, 0, false), cost)

	assert.Equal(t, domain.OutcomeDeniedInsufficientBudget, d.Outcome)
	assert.Empty(t, d.RequiredPlan)
	assert.Equal(t, int64(100), d.RemainingBudget)
}

func TestEvaluate_QuotaExhausted(t *testing.T) {
	p, cat := newTestPolicy(t)
	free := mustPlan(t, cat, "free")
	cost := mustCost(t, cat, domain.ActionChatbotInteraction)

	d := p.Evaluate(free, usage(0, free.InteractionQuota, false), cost)
	assert.Equal(t, domain.OutcomeDeniedQuotaExhausted, d.Outcome)
	assert.Equal(t, int64(0), d.RemainingInteractions)
	assert.Equal(t, domain.EQUOTAEXHAUSTED, d.ErrorCode())
}

func TestEvaluate_UnlimitedQuota(t *testing.T) {
	p, cat := newTestPolicy(t)
	enterprise := mustPlan(t, cat, "enterprise")
	cost := mustCost(t, cat, domain.ActionChatbotInteraction)

	d := p.Evaluate(enterprise, usage(0, 1_000_000, false), cost)
	assert.True(t, d.Allowed())
	assert.Equal(t, int64(-1), d.RemainingInteractions)
}

// Spending past the ceiling (e.g. after a plan downgrade) reports zero remaining.
func TestEvaluate_RemainingNeverNegative(t *testing.T) {
	p, cat := newTestPolicy(t)
	free := mustPlan(t, cat, "free")
	cost := mustCost(t, cat, domain.ActionChatbotInteraction)

	d := p.Evaluate(free, usage(free.BudgetCeiling+2000, 0, false), cost)
	assert.Equal(t, domain.OutcomeDeniedInsufficientBudget, d.Outcome)
	assert.Equal(t, int64(0), d.RemainingBudget)
}

func TestMoney(t *testing.T) {
	p, _ := newTestPolicy(t)
	assert.True(t, strings.HasPrefix(p.money(650), "$6.5"), p.money(650))
	assert.True(t, strings.HasPrefix(p.money(10000), "$100"), p.money(10000))
}
