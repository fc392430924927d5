package service

import (
	"context"
	"log/slog"

	"github.com/DukeRupert/plangate/internal/domain"
)

// DecisionObserver receives every decision the gate makes and the result of
// every charge. Implementations must be safe for concurrent use and must not
// block.
type DecisionObserver interface {
	ObserveDecision(ctx context.Context, d *domain.AccessDecision)
	ObserveCharge(ctx context.Context, d *domain.AccessDecision, err error)
}

// NopObserver discards everything.
type NopObserver struct{}

func (NopObserver) ObserveDecision(context.Context, *domain.AccessDecision)       {}
func (NopObserver) ObserveCharge(context.Context, *domain.AccessDecision, error) {}

// Observers fans out to each observer in order.
type Observers []DecisionObserver

func (o Observers) ObserveDecision(ctx context.Context, d *domain.AccessDecision) {
	for _, obs := range o {
		obs.ObserveDecision(ctx, d)
	}
}

func (o Observers) ObserveCharge(ctx context.Context, d *domain.AccessDecision, err error) {
	for _, obs := range o {
		obs.ObserveCharge(ctx, d, err)
	}
}

// LogObserver logs denials at Info and allowed decisions at Debug.
// Charge storage failures are logged at Error.
type LogObserver struct {
	logger *slog.Logger
}

// NewLogObserver creates a LogObserver.
func NewLogObserver(logger *slog.Logger) *LogObserver {
	return &LogObserver{logger: logger.With("component", "decisions")}
}

func (o *LogObserver) ObserveDecision(ctx context.Context, d *domain.AccessDecision) {
	attrs := []any{
		"user_id", d.UserID,
		"action", d.Action,
		"outcome", d.Outcome,
		"plan", d.CurrentPlan,
		"remaining_budget", d.RemainingBudget,
	}
	if d.Allowed() {
		o.logger.DebugContext(ctx, "access allowed", attrs...)
		return
	}
	if d.RequiredPlan != "" {
		attrs = append(attrs, "required_plan", d.RequiredPlan)
	}
	o.logger.InfoContext(ctx, "access denied", attrs...)
}

func (o *LogObserver) ObserveCharge(ctx context.Context, d *domain.AccessDecision, err error) {
	switch {
	case err == nil:
		o.logger.DebugContext(ctx, "usage charged", "user_id", d.UserID, "action", d.Action, "amount", d.Price)
	case domain.IsDenial(err):
		o.logger.InfoContext(ctx, "charge denied", "user_id", d.UserID, "action", d.Action, "code", domain.ErrorCode(err))
	default:
		o.logger.ErrorContext(ctx, "charge failed", "user_id", d.UserID, "action", d.Action, "error", err)
	}
}
