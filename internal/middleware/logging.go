package middleware

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/DukeRupert/plangate/internal/domain"
)

// quietPaths are scraped or probed constantly and never logged.
var quietPaths = map[string]struct{}{
	"/health":  {},
	"/metrics": {},
}

// redactedParams are query parameters whose values never reach the log.
var redactedParams = map[string]struct{}{
	"token":        {},
	"access_token": {},
	"id_token":     {},
	"jwt":          {},
	"api_key":      {},
	"apikey":       {},
	"secret":       {},
	"signature":    {},
}

// RequestLoggingMiddleware writes one line per request: method, path, status,
// timing, and, when known, the user and what the gate did with the request.
type RequestLoggingMiddleware struct {
	logger *slog.Logger
}

// NewRequestLoggingMiddleware creates a new request logging middleware.
func NewRequestLoggingMiddleware(logger *slog.Logger) *RequestLoggingMiddleware {
	return &RequestLoggingMiddleware{
		logger: logger,
	}
}

// Handler returns middleware that logs all HTTP requests.
func (m *RequestLoggingMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, quiet := quietPaths[r.URL.Path]; quiet {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		// Filled in further down the chain by the auth and gate middleware.
		entry := &requestEntry{}
		next.ServeHTTP(sw, r.WithContext(context.WithValue(r.Context(), requestEntryKey{}, entry)))

		attrs := []any{
			"method", r.Method,
			"path", redactQuery(r.URL.Path, r.URL.RawQuery),
			"status", sw.status,
			"duration_ms", time.Since(start).Milliseconds(),
			"ip", getClientIP(r),
			"user_agent", r.UserAgent(),
		}
		attrs = append(attrs, entry.attrs()...)

		if sw.status >= 500 {
			m.logger.Warn("request", attrs...)
			return
		}
		m.logger.Info("request", attrs...)
	})
}

// =============================================================================
// Per-request entry
// =============================================================================

type requestEntryKey struct{}

// requestEntry collects facts discovered by inner middleware.
type requestEntry struct {
	userID  string
	action  domain.ActionType
	outcome domain.Outcome
	charged int64
	hasGate bool
}

func (e *requestEntry) attrs() []any {
	var attrs []any
	if e.userID != "" {
		attrs = append(attrs, "user_id", e.userID)
	}
	if e.hasGate {
		attrs = append(attrs, "action", e.action, "outcome", e.outcome, "charged", e.charged)
	}
	return attrs
}

func entryFrom(ctx context.Context) *requestEntry {
	e, _ := ctx.Value(requestEntryKey{}).(*requestEntry)
	return e
}

func recordIdentity(ctx context.Context, id *domain.Identity) {
	if e := entryFrom(ctx); e != nil && id.Valid() {
		e.userID = id.UserID.String()
	}
}

// recordGate notes the gate's decision and the amount actually charged,
// which is zero unless the action succeeded and the ledger accepted it.
func recordGate(ctx context.Context, d *domain.AccessDecision, charged int64) {
	if e := entryFrom(ctx); e != nil && d != nil {
		e.hasGate = true
		e.action = d.Action
		e.outcome = d.Outcome
		e.charged = charged
	}
}

// =============================================================================
// Helpers
// =============================================================================

// statusWriter remembers the status code written through it.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.status = code
	sw.ResponseWriter.WriteHeader(code)
}

func (sw *statusWriter) Unwrap() http.ResponseWriter {
	return sw.ResponseWriter
}

// redactQuery returns path plus its query with credential values replaced.
// Parameter order is preserved; malformed pairs are dropped.
func redactQuery(path, rawQuery string) string {
	if rawQuery == "" {
		return path
	}

	var kept []string
	for _, part := range strings.Split(rawQuery, "&") {
		key, _, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		if _, secret := redactedParams[strings.ToLower(key)]; secret {
			kept = append(kept, key+"=[REDACTED]")
			continue
		}
		kept = append(kept, part)
	}

	if len(kept) == 0 {
		return path
	}
	return path + "?" + strings.Join(kept, "&")
}

// getClientIP prefers the first X-Forwarded-For hop, then X-Real-IP, then
// the connection's remote address.
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
