package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/DukeRupert/plangate/internal/auth"
	"github.com/DukeRupert/plangate/internal/domain"
	"github.com/DukeRupert/plangate/internal/handler"
	"github.com/DukeRupert/plangate/internal/service"
)

// Response headers set on a charged request.
const (
	HeaderBudgetRemaining = "X-Budget-Remaining"
	HeaderBudgetCeiling   = "X-Budget-Ceiling"
)

// DenialResponder writes the response for a request the gate refused.
type DenialResponder interface {
	// Denied writes a policy denial.
	Denied(w http.ResponseWriter, r *http.Request, d *domain.AccessDecision)

	// Failed writes an error raised while checking or charging.
	Failed(w http.ResponseWriter, r *http.Request, err error)
}

// JSONResponder writes denials with the handler package's JSON envelope.
type JSONResponder struct {
	Logger *slog.Logger
}

func (j JSONResponder) Denied(w http.ResponseWriter, r *http.Request, d *domain.AccessDecision) {
	handler.DecisionResponse(w, r, j.Logger, d)
}

func (j JSONResponder) Failed(w http.ResponseWriter, r *http.Request, err error) {
	handler.ErrorResponse(w, r, j.Logger, err)
}

// =============================================================================
// Gate Middleware
// =============================================================================

// GateMiddleware enforces plan, feature and budget rules on chargeable routes.
//
// The wrapped handler's response is buffered. The ledger is charged only when
// the handler returns a 2xx status; if the charge fails the buffered response
// is discarded and the client gets the denial or error instead.
type GateMiddleware struct {
	gate    service.AccessGate
	respond DenialResponder
	logger  *slog.Logger
}

// NewGateMiddleware creates a GateMiddleware. A nil responder uses JSONResponder.
func NewGateMiddleware(gate service.AccessGate, respond DenialResponder, logger *slog.Logger) *GateMiddleware {
	if respond == nil {
		respond = JSONResponder{Logger: logger}
	}
	return &GateMiddleware{gate: gate, respond: respond, logger: logger}
}

// Require gates a route on a fixed action.
func (m *GateMiddleware) Require(action domain.ActionType) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return m.gated(func(*http.Request) domain.ActionType { return action }, next)
	}
}

// RequireFromPath gates a route on the action named by a path wildcard.
func (m *GateMiddleware) RequireFromPath(name string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return m.gated(func(r *http.Request) domain.ActionType {
			return domain.ActionType(r.PathValue(name))
		}, next)
	}
}

func (m *GateMiddleware) gated(actionOf func(*http.Request) domain.ActionType, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		id := auth.GetIdentity(ctx)
		action := actionOf(r)

		d, err := m.gate.Check(ctx, id, action)
		if err != nil {
			m.respond.Failed(w, r, err)
			return
		}
		if !d.Allowed() {
			recordGate(ctx, d, 0)
			m.respond.Denied(w, r, d)
			return
		}

		buf := newBufferedResponse()
		next.ServeHTTP(buf, r.WithContext(auth.SetDecision(ctx, d)))

		if !buf.succeeded() {
			recordGate(ctx, d, 0)
			buf.flushTo(w)
			return
		}

		rec, err := m.gate.Commit(ctx, d)
		if err != nil {
			if domain.IsDenial(err) {
				// Lost a race with a concurrent charge or plan change; report current state.
				if fresh, cerr := m.gate.Check(ctx, id, action); cerr == nil && !fresh.Allowed() {
					recordGate(ctx, fresh, 0)
					m.respond.Denied(w, r, fresh)
					return
				}
			}
			recordGate(ctx, d, 0)
			m.respond.Failed(w, r, err)
			return
		}
		recordGate(ctx, d, d.Price)

		buf.Header().Set(HeaderBudgetCeiling, strconv.FormatInt(d.BudgetCeiling, 10))
		buf.Header().Set(HeaderBudgetRemaining, strconv.FormatInt(rec.RemainingBudget(d.BudgetCeiling), 10))
		buf.flushTo(w)
	})
}

// =============================================================================
// Buffered response
// =============================================================================

// bufferedResponse holds a handler's response until the charge is settled.
type bufferedResponse struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func newBufferedResponse() *bufferedResponse {
	return &bufferedResponse{header: make(http.Header)}
}

func (b *bufferedResponse) Header() http.Header {
	return b.header
}

func (b *bufferedResponse) WriteHeader(code int) {
	if b.status == 0 {
		b.status = code
	}
}

func (b *bufferedResponse) Write(p []byte) (int, error) {
	if b.status == 0 {
		b.status = http.StatusOK
	}
	return b.body.Write(p)
}

func (b *bufferedResponse) statusCode() int {
	if b.status == 0 {
		return http.StatusOK
	}
	return b.status
}

func (b *bufferedResponse) succeeded() bool {
	s := b.statusCode()
	return s >= 200 && s < 300
}

func (b *bufferedResponse) flushTo(w http.ResponseWriter) {
	dst := w.Header()
	for k, v := range b.header {
		dst[k] = v
	}
	w.WriteHeader(b.statusCode())
	_, _ = w.Write(b.body.Bytes())
}
