package domain

import "github.com/google/uuid"

// Outcome is the verdict of an access check.
type Outcome string

const (
	OutcomeAllowed                  Outcome = "allowed"
	OutcomeDeniedInsufficientBudget Outcome = "denied_insufficient_budget"
	OutcomeDeniedFeatureNotInPlan   Outcome = "denied_feature_not_in_plan"
	OutcomeDeniedSuspended          Outcome = "denied_suspended"
	OutcomeDeniedQuotaExhausted     Outcome = "denied_quota_exhausted"
)

// AccessDecision is the result of checking one action for one user.
// It is built fresh per request and never persisted.
type AccessDecision struct {
	Outcome               Outcome    `json:"outcome"`
	Action                ActionType `json:"action"`
	UserID                uuid.UUID  `json:"-"`
	Feature               FeatureID  `json:"feature"`
	CurrentPlan           PlanID     `json:"current_plan"`
	RequiredPlan          PlanID     `json:"required_plan,omitempty"`
	Price                 int64      `json:"price"`
	BudgetCeiling         int64      `json:"budget_ceiling"`
	BudgetSpent           int64      `json:"budget_spent"`
	RemainingBudget       int64      `json:"remaining_budget"`
	RemainingInteractions int64      `json:"remaining_interactions"`
	Interactions          int64      `json:"-"`
	Message               string     `json:"message"`
}

// Allowed reports whether the action may proceed.
func (d *AccessDecision) Allowed() bool {
	return d.Outcome == OutcomeAllowed
}

// ErrorCode maps a denial outcome to its domain error code.
// Allowed decisions return an empty string.
func (d *AccessDecision) ErrorCode() string {
	switch d.Outcome {
	case OutcomeDeniedInsufficientBudget:
		return EINSUFFICIENTBUDGET
	case OutcomeDeniedFeatureNotInPlan:
		return EFEATURENOTINPLAN
	case OutcomeDeniedSuspended:
		return ESUSPENDED
	case OutcomeDeniedQuotaExhausted:
		return EQUOTAEXHAUSTED
	}
	return ""
}
