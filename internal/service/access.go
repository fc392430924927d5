// Package service contains the business logic layer.
//
// This file implements the access gate: the single entry point that decides
// whether an authenticated user may perform a chargeable action, and charges
// the ledger once the action has succeeded.
package service

import (
	"context"
	"log/slog"

	"github.com/DukeRupert/plangate/internal/domain"
	"github.com/DukeRupert/plangate/internal/ledger"
	"github.com/google/uuid"
)

// =============================================================================
// Dependencies
// =============================================================================

// PlanCatalog resolves plans and action prices. *catalog.Catalog satisfies it.
type PlanCatalog interface {
	Resolve(id domain.PlanID) (domain.Plan, error)
	Cost(action domain.ActionType) (domain.ActionCost, error)
}

// UsageLedger tracks per-period spending. *ledger.Ledger satisfies it.
type UsageLedger interface {
	GetUsage(ctx context.Context, userID uuid.UUID) (*domain.UsageRecord, error)
	Charge(ctx context.Context, req ledger.ChargeRequest) (*domain.UsageRecord, error)
	Suspend(ctx context.Context, userID uuid.UUID) error
	Unsuspend(ctx context.Context, userID uuid.UUID) error
}

// Evaluator turns a plan, usage and price into a decision. *policy.Policy satisfies it.
type Evaluator interface {
	Evaluate(plan domain.Plan, usage *domain.UsageRecord, cost domain.ActionCost) *domain.AccessDecision
}

// =============================================================================
// Interface Definition
// =============================================================================

// AccessGate defines the access-control operations exposed to the HTTP layer.
type AccessGate interface {
	// Check evaluates an action for the identity without charging.
	// Returns Unauthenticated when the identity is missing or names no user.
	Check(ctx context.Context, id *domain.Identity, action domain.ActionType) (*domain.AccessDecision, error)

	// Commit charges the ledger for an allowed decision after the action
	// succeeded. A concurrent spend that exhausted the budget first is
	// reported as a denial error.
	Commit(ctx context.Context, d *domain.AccessDecision) (*domain.UsageRecord, error)

	// Usage returns the identity's plan and current-period usage.
	Usage(ctx context.Context, id *domain.Identity) (*UsageSummary, error)

	// Suspend blocks every chargeable action for the user.
	Suspend(ctx context.Context, userID uuid.UUID) error

	// Unsuspend lifts a suspension. Unsuspending an active user is a no-op.
	Unsuspend(ctx context.Context, userID uuid.UUID) error

	// ChangePlan moves the user to another catalog plan.
	ChangePlan(ctx context.Context, userID uuid.UUID, planID domain.PlanID) error
}

// UsageSummary is the dashboard view of a user's standing.
type UsageSummary struct {
	Plan  domain.Plan
	Usage *domain.UsageRecord
}

// =============================================================================
// Implementation
// =============================================================================

type accessGate struct {
	users    UserDirectory
	catalog  PlanCatalog
	ledger   UsageLedger
	policy   Evaluator
	observer DecisionObserver
	logger   *slog.Logger
}

// NewAccessGate creates a new AccessGate. A nil observer discards decisions.
func NewAccessGate(
	users UserDirectory,
	catalog PlanCatalog,
	usage UsageLedger,
	policy Evaluator,
	observer DecisionObserver,
	logger *slog.Logger,
) AccessGate {
	if observer == nil {
		observer = NopObserver{}
	}
	return &accessGate{
		users:    users,
		catalog:  catalog,
		ledger:   usage,
		policy:   policy,
		observer: observer,
		logger:   logger.With("component", "access_gate"),
	}
}

// Check evaluates an action for the identity without charging.
func (g *accessGate) Check(ctx context.Context, id *domain.Identity, action domain.ActionType) (*domain.AccessDecision, error) {
	const op = "access.check"

	user, plan, err := g.resolve(ctx, op, id)
	if err != nil {
		return nil, err
	}

	cost, err := g.catalog.Cost(action)
	if err != nil {
		return nil, err
	}

	usage, err := g.ledger.GetUsage(ctx, user.ID)
	if err != nil {
		g.logger.Error("usage lookup failed", "op", op, "user_id", user.ID, "error", err)
		return nil, err
	}

	d := g.policy.Evaluate(plan, usage, cost)
	g.observer.ObserveDecision(ctx, d)
	return d, nil
}

// Commit charges the ledger for an allowed decision.
func (g *accessGate) Commit(ctx context.Context, d *domain.AccessDecision) (*domain.UsageRecord, error) {
	const op = "access.commit"

	if d == nil || !d.Allowed() {
		return nil, domain.Invalid(op, "only allowed decisions can be committed")
	}

	// Re-resolve so a plan change between check and commit uses the new ceiling.
	_, plan, err := g.resolve(ctx, op, &domain.Identity{UserID: d.UserID})
	if err != nil {
		g.observer.ObserveCharge(ctx, d, err)
		return nil, err
	}
	if !plan.HasFeature(d.Feature) {
		err := domain.Errorf(domain.EFEATURENOTINPLAN, op, "plan %s does not include %s", plan.ID, d.Feature)
		g.observer.ObserveCharge(ctx, d, err)
		return nil, err
	}

	rec, err := g.ledger.Charge(ctx, ledger.ChargeRequest{
		UserID:           d.UserID,
		Amount:           d.Price,
		Interactions:     d.Interactions,
		BudgetCeiling:    plan.BudgetCeiling,
		InteractionQuota: plan.InteractionQuota,
	})
	g.observer.ObserveCharge(ctx, d, err)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Usage returns the identity's plan and current-period usage.
func (g *accessGate) Usage(ctx context.Context, id *domain.Identity) (*UsageSummary, error) {
	const op = "access.usage"

	user, plan, err := g.resolve(ctx, op, id)
	if err != nil {
		return nil, err
	}
	usage, err := g.ledger.GetUsage(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	return &UsageSummary{Plan: plan, Usage: usage}, nil
}

// Suspend blocks every chargeable action for the user.
func (g *accessGate) Suspend(ctx context.Context, userID uuid.UUID) error {
	const op = "access.suspend"

	if _, err := g.users.GetUser(ctx, userID); err != nil {
		return err
	}
	if err := g.ledger.Suspend(ctx, userID); err != nil {
		return err
	}
	g.logger.Info("user suspended", "op", op, "user_id", userID)
	return nil
}

// Unsuspend lifts a suspension.
func (g *accessGate) Unsuspend(ctx context.Context, userID uuid.UUID) error {
	const op = "access.unsuspend"

	if _, err := g.users.GetUser(ctx, userID); err != nil {
		return err
	}
	if err := g.ledger.Unsuspend(ctx, userID); err != nil {
		return err
	}
	g.logger.Info("user unsuspended", "op", op, "user_id", userID)
	return nil
}

// ChangePlan moves the user to another catalog plan.
func (g *accessGate) ChangePlan(ctx context.Context, userID uuid.UUID, planID domain.PlanID) error {
	const op = "access.change_plan"

	if _, err := g.catalog.Resolve(planID); err != nil {
		return domain.Invalid(op, "unknown plan")
	}
	if err := g.users.SetPlan(ctx, userID, planID); err != nil {
		return err
	}
	g.logger.Info("user plan changed", "op", op, "user_id", userID, "plan", planID)
	return nil
}

// resolve loads the user behind id and their plan. A missing identity or
// user is Unauthenticated; nothing else is looked up in that case.
func (g *accessGate) resolve(ctx context.Context, op string, id *domain.Identity) (*domain.User, domain.Plan, error) {
	if !id.Valid() {
		return nil, domain.Plan{}, domain.Unauthenticated(op)
	}

	user, err := g.users.GetUser(ctx, id.UserID)
	if err != nil {
		if domain.ErrorCode(err) == domain.ENOTFOUND {
			return nil, domain.Plan{}, domain.Unauthenticated(op)
		}
		g.logger.Error("user lookup failed", "op", op, "user_id", id.UserID, "error", err)
		return nil, domain.Plan{}, err
	}

	plan, err := g.catalog.Resolve(user.PlanID)
	if err != nil {
		g.logger.Error("user references unknown plan", "op", op, "user_id", user.ID, "plan", user.PlanID)
		return nil, domain.Plan{}, err
	}
	return user, plan, nil
}
