package metrics

import (
	"context"
	"time"

	"github.com/DukeRupert/plangate/internal/domain"
)

// Observer counts access decisions and charges. It satisfies
// service.DecisionObserver.
type Observer struct{}

// ObserveDecision records one access decision.
func (Observer) ObserveDecision(_ context.Context, d *domain.AccessDecision) {
	DecisionsTotal.WithLabelValues(string(d.Action), string(d.Outcome)).Inc()
}

// ObserveCharge records the result of one ledger charge.
func (Observer) ObserveCharge(_ context.Context, d *domain.AccessDecision, err error) {
	action := string(d.Action)
	switch {
	case err == nil:
		ChargesTotal.WithLabelValues(action, "charged").Inc()
		BudgetChargedTotal.WithLabelValues(action).Add(float64(d.Price))
	case domain.IsDenial(err):
		ChargesTotal.WithLabelValues(action, "rejected").Inc()
	default:
		ChargesTotal.WithLabelValues(action, "failed").Inc()
	}
}

// SweepCompleted records a successful stale usage sweep.
func SweepCompleted(removed int64, duration time.Duration) {
	SweepsTotal.WithLabelValues("completed").Inc()
	SweptRecordsTotal.Add(float64(removed))
	SweepDuration.Observe(duration.Seconds())
}

// SweepFailed records a failed sweep.
func SweepFailed() {
	SweepsTotal.WithLabelValues("failed").Inc()
}
