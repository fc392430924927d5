// Package policy decides whether a plan and its current usage permit an action.
//
// Checks run in a fixed order and stop at the first failure:
//
//  1. suspension
//  2. feature entitlement
//  3. budget ceiling
//  4. interaction quota
//
// A missing feature is reported before budget so an upgrade problem is never
// masked by a spending message.
package policy

import (
	"github.com/DukeRupert/plangate/internal/domain"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// PlanFinder looks up upgrade targets. *catalog.Catalog satisfies it.
type PlanFinder interface {
	LowestPlanWithFeature(feature domain.FeatureID) (domain.Plan, bool)
	LowestUpgradeCovering(current domain.Plan, feature domain.FeatureID, needed int64) (domain.Plan, bool)
}

// Policy evaluates access decisions. It holds no mutable state.
type Policy struct {
	plans   PlanFinder
	printer *message.Printer
}

// New creates a Policy that formats amounts as US dollars.
func New(plans PlanFinder) *Policy {
	return &Policy{
		plans:   plans,
		printer: message.NewPrinter(language.AmericanEnglish),
	}
}

// Evaluate returns the decision for one action. It never charges; the caller
// commits the charge after the action succeeds.
func (p *Policy) Evaluate(plan domain.Plan, usage *domain.UsageRecord, cost domain.ActionCost) *domain.AccessDecision {
	d := &domain.AccessDecision{
		Action:                cost.Action,
		UserID:                usage.UserID,
		Feature:               cost.Feature,
		CurrentPlan:           plan.ID,
		Price:                 cost.Price,
		Interactions:          cost.Interactions,
		BudgetCeiling:         plan.BudgetCeiling,
		BudgetSpent:           usage.BudgetSpent,
		RemainingBudget:       usage.RemainingBudget(plan.BudgetCeiling),
		RemainingInteractions: usage.RemainingInteractions(plan.InteractionQuota),
	}

	if usage.Suspended {
		d.Outcome = domain.OutcomeDeniedSuspended
		d.Message = "Your account is suspended. Contact support to restore access."
		return d
	}

	if !plan.HasFeature(cost.Feature) {
		d.Outcome = domain.OutcomeDeniedFeatureNotInPlan
		if required, ok := p.plans.LowestPlanWithFeature(cost.Feature); ok {
			d.RequiredPlan = required.ID
			d.Message = p.printer.Sprintf("%s is not included in the %s plan. Upgrade to %s to unlock it.",
				cost.Feature, plan.Name, required.Name)
		} else {
			d.Message = p.printer.Sprintf("%s is not available on any plan.", cost.Feature)
		}
		return d
	}

	needed := usage.BudgetSpent + cost.Price
	if needed > plan.BudgetCeiling {
		d.Outcome = domain.OutcomeDeniedInsufficientBudget
		d.Message = p.printer.Sprintf("This action costs %s but only %s of your %s monthly budget remains.",
			p.money(cost.Price), p.money(d.RemainingBudget), p.money(plan.BudgetCeiling))
		if upgrade, ok := p.plans.LowestUpgradeCovering(plan, cost.Feature, needed); ok {
			d.RequiredPlan = upgrade.ID
			d.Message += p.printer.Sprintf(" Upgrade to %s for a %s budget.", upgrade.Name, p.money(upgrade.BudgetCeiling))
		}
		return d
	}

	if !plan.UnlimitedInteractions() && usage.InteractionsConsumed+cost.Interactions > plan.InteractionQuota {
		d.Outcome = domain.OutcomeDeniedQuotaExhausted
		d.Message = p.printer.Sprintf("You have used %d of the %d interactions included in the %s plan this month.",
			usage.InteractionsConsumed, plan.InteractionQuota, plan.Name)
		return d
	}

	d.Outcome = domain.OutcomeAllowed
	d.Message = p.printer.Sprintf("%s of your monthly budget remains after this action.",
		p.money(d.RemainingBudget-cost.Price))
	return d
}

// money formats cents as dollars, e.g. "$1,250.00".
func (p *Policy) money(minor int64) string {
	return "$" + p.printer.Sprint(number.Decimal(float64(minor)/100, number.Scale(2)))
}
