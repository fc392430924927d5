// Package handler contains the HTTP handlers for the plangate API.
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/DukeRupert/plangate/internal/auth"
	"github.com/DukeRupert/plangate/internal/domain"
	"github.com/DukeRupert/plangate/internal/service"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 64 << 10

// PlanLister exposes the catalog for the pricing endpoint.
// *catalog.Catalog satisfies it.
type PlanLister interface {
	Plans() []domain.Plan
	Actions() []domain.ActionCost
}

// RouteMiddleware is the set of middleware stacks routes are wrapped in.
// Authenticated requires a verified identity, Admin additionally requires
// the admin role, and Gated checks and charges the action named by the
// {action} path segment.
type RouteMiddleware struct {
	Authenticated func(http.Handler) http.Handler
	Admin         func(http.Handler) http.Handler
	Gated         func(http.Handler) http.Handler
}

// AccessHandler serves plan, usage, access and admin endpoints.
type AccessHandler struct {
	gate     service.AccessGate
	plans    PlanLister
	validate *validator.Validate
	logger   *slog.Logger
}

// NewAccessHandler creates a new AccessHandler.
func NewAccessHandler(gate service.AccessGate, plans PlanLister, logger *slog.Logger) *AccessHandler {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		return name
	})
	return &AccessHandler{
		gate:     gate,
		plans:    plans,
		validate: v,
		logger:   logger,
	}
}

// RegisterRoutes registers the API routes on mux.
func (h *AccessHandler) RegisterRoutes(mux *http.ServeMux, mw RouteMiddleware) {
	mux.HandleFunc("GET /api/v1/plans", h.ListPlans)

	mux.Handle("GET /api/v1/usage", mw.Authenticated(http.HandlerFunc(h.Usage)))
	mux.Handle("POST /api/v1/access/check", mw.Authenticated(http.HandlerFunc(h.Check)))
	mux.Handle("POST /api/v1/actions/{action}", mw.Authenticated(mw.Gated(http.HandlerFunc(h.PerformAction))))

	mux.Handle("POST /api/v1/admin/users/{id}/suspend", mw.Admin(http.HandlerFunc(h.Suspend)))
	mux.Handle("POST /api/v1/admin/users/{id}/unsuspend", mw.Admin(http.HandlerFunc(h.Unsuspend)))
	mux.Handle("PUT /api/v1/admin/users/{id}/plan", mw.Admin(http.HandlerFunc(h.ChangePlan)))

	// Unmatched API paths get a JSON 404 instead of the mux's plain text.
	mux.HandleFunc("/api/", func(w http.ResponseWriter, r *http.Request) {
		NotFoundResponse(w, r, h.logger)
	})
}

// =============================================================================
// Response types
// =============================================================================

// PlanResponse is one catalog plan.
type PlanResponse struct {
	ID               domain.PlanID      `json:"id"`
	Name             string             `json:"name"`
	TierRank         int                `json:"tier_rank"`
	PriceMonthly     int64              `json:"price_monthly"`
	BudgetCeiling    int64              `json:"budget_ceiling"`
	InteractionQuota int64              `json:"interaction_quota"`
	Features         []domain.FeatureID `json:"features"`
}

// ActionResponse is one priced action.
type ActionResponse struct {
	Action       domain.ActionType `json:"action"`
	Price        int64             `json:"price"`
	Feature      domain.FeatureID  `json:"feature"`
	Interactions int64             `json:"interactions"`
}

// CatalogResponse is the body of GET /api/v1/plans.
type CatalogResponse struct {
	Plans   []PlanResponse   `json:"plans"`
	Actions []ActionResponse `json:"actions"`
}

// UsageResponse is the body of GET /api/v1/usage.
type UsageResponse struct {
	UserID                uuid.UUID    `json:"user_id"`
	Plan                  PlanResponse `json:"plan"`
	Period                string       `json:"period"`
	PeriodStart           time.Time    `json:"period_start"`
	PeriodEnd             time.Time    `json:"period_end"`
	BudgetSpent           int64        `json:"budget_spent"`
	RemainingBudget       int64        `json:"remaining_budget"`
	InteractionsConsumed  int64        `json:"interactions_consumed"`
	RemainingInteractions int64        `json:"remaining_interactions"`
	Suspended             bool         `json:"suspended"`
}

// DecisionBody wraps an allowed decision.
type DecisionBody struct {
	Decision *domain.AccessDecision `json:"decision"`
}

// ActionResult is the body returned after a gated action completes.
type ActionResult struct {
	Action   domain.ActionType      `json:"action"`
	Status   string                 `json:"status"`
	Decision *domain.AccessDecision `json:"decision,omitempty"`
}

// AccountStatus is the body returned by admin endpoints.
type AccountStatus struct {
	UserID    uuid.UUID     `json:"user_id"`
	Suspended *bool         `json:"suspended,omitempty"`
	Plan      domain.PlanID `json:"plan,omitempty"`
}

// CheckRequest is the body of POST /api/v1/access/check.
type CheckRequest struct {
	Action string `json:"action" validate:"required,max=64"`
}

// ChangePlanRequest is the body of PUT /api/v1/admin/users/{id}/plan.
type ChangePlanRequest struct {
	Plan string `json:"plan" validate:"required,max=64"`
}

// =============================================================================
// Handlers
// =============================================================================

// ListPlans handles GET /api/v1/plans.
func (h *AccessHandler) ListPlans(w http.ResponseWriter, r *http.Request) {
	plans := h.plans.Plans()
	actions := h.plans.Actions()

	resp := CatalogResponse{
		Plans:   make([]PlanResponse, len(plans)),
		Actions: make([]ActionResponse, len(actions)),
	}
	for i, p := range plans {
		resp.Plans[i] = planToResponse(p)
	}
	for i, a := range actions {
		resp.Actions[i] = ActionResponse{
			Action:       a.Action,
			Price:        a.Price,
			Feature:      a.Feature,
			Interactions: a.Interactions,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// Usage handles GET /api/v1/usage.
func (h *AccessHandler) Usage(w http.ResponseWriter, r *http.Request) {
	id := auth.GetIdentityFromRequest(r)

	summary, err := h.gate.Usage(r.Context(), id)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	u := summary.Usage
	writeJSON(w, http.StatusOK, UsageResponse{
		UserID:                u.UserID,
		Plan:                  planToResponse(summary.Plan),
		Period:                u.Period.Key(),
		PeriodStart:           u.Period.Start,
		PeriodEnd:             u.Period.End,
		BudgetSpent:           u.BudgetSpent,
		RemainingBudget:       u.RemainingBudget(summary.Plan.BudgetCeiling),
		InteractionsConsumed:  u.InteractionsConsumed,
		RemainingInteractions: u.RemainingInteractions(summary.Plan.InteractionQuota),
		Suspended:             u.Suspended,
	})
}

// Check handles POST /api/v1/access/check. It never charges.
func (h *AccessHandler) Check(w http.ResponseWriter, r *http.Request) {
	const op = "handler.check"

	var req CheckRequest
	if err := h.decode(w, r, op, &req); err != nil {
		ValidationErrorResponse(w, r, h.logger, err)
		return
	}

	d, err := h.gate.Check(r.Context(), auth.GetIdentityFromRequest(r), domain.ActionType(req.Action))
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	if !d.Allowed() {
		DecisionResponse(w, r, h.logger, d)
		return
	}
	writeJSON(w, http.StatusOK, DecisionBody{Decision: d})
}

// PerformAction handles POST /api/v1/actions/{action}. It runs behind the
// gate middleware, which has already checked the action and charges it when
// this handler succeeds.
func (h *AccessHandler) PerformAction(w http.ResponseWriter, r *http.Request) {
	d := auth.GetDecision(r.Context())
	writeJSON(w, http.StatusOK, ActionResult{
		Action:   domain.ActionType(r.PathValue("action")),
		Status:   "completed",
		Decision: d,
	})
}

// Suspend handles POST /api/v1/admin/users/{id}/suspend.
func (h *AccessHandler) Suspend(w http.ResponseWriter, r *http.Request) {
	h.setSuspended(w, r, true)
}

// Unsuspend handles POST /api/v1/admin/users/{id}/unsuspend.
func (h *AccessHandler) Unsuspend(w http.ResponseWriter, r *http.Request) {
	h.setSuspended(w, r, false)
}

func (h *AccessHandler) setSuspended(w http.ResponseWriter, r *http.Request, suspended bool) {
	userID, err := pathUUID(r, "id")
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	if suspended {
		err = h.gate.Suspend(r.Context(), userID)
	} else {
		err = h.gate.Unsuspend(r.Context(), userID)
	}
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	h.logger.Info("admin changed suspension",
		"admin_id", auth.GetIdentityFromRequest(r).UserID,
		"user_id", userID,
		"suspended", suspended,
	)
	writeJSON(w, http.StatusOK, AccountStatus{UserID: userID, Suspended: &suspended})
}

// ChangePlan handles PUT /api/v1/admin/users/{id}/plan.
func (h *AccessHandler) ChangePlan(w http.ResponseWriter, r *http.Request) {
	const op = "handler.change_plan"

	userID, err := pathUUID(r, "id")
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	var req ChangePlanRequest
	if err := h.decode(w, r, op, &req); err != nil {
		ValidationErrorResponse(w, r, h.logger, err)
		return
	}

	plan := domain.PlanID(req.Plan)
	if err := h.gate.ChangePlan(r.Context(), userID, plan); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, AccountStatus{UserID: userID, Plan: plan})
}

// =============================================================================
// Helpers
// =============================================================================

// decode reads a JSON body into dst and validates its struct tags.
func (h *AccessHandler) decode(w http.ResponseWriter, r *http.Request, op string, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return domain.Invalid(op, "Request body must be valid JSON")
	}

	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return domain.NewValidationError(op, fe.Field(), validationMessage(fe))
		}
		return domain.Invalid(op, "Invalid request")
	}
	return nil
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		return "is too long"
	}
	return "is invalid"
}

func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		return uuid.Nil, domain.Invalid("handler.path", "Invalid user ID")
	}
	return id, nil
}

func planToResponse(p domain.Plan) PlanResponse {
	return PlanResponse{
		ID:               p.ID,
		Name:             p.Name,
		TierRank:         p.TierRank,
		PriceMonthly:     p.PriceMonthly,
		BudgetCeiling:    p.BudgetCeiling,
		InteractionQuota: p.InteractionQuota,
		Features:         p.Features.List(),
	}
}
