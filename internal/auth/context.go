// Package auth provides request identity helpers and bearer-token handling.
//
// This package is designed to be imported by both middleware and handler
// packages without causing import cycles.
package auth

import (
	"context"
	"net/http"

	"github.com/DukeRupert/plangate/internal/domain"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const (
	// identityContextKey is the key used to store the verified identity in context.
	identityContextKey contextKey = "identity"

	// decisionContextKey holds the allowed decision for a gated request.
	decisionContextKey contextKey = "decision"
)

// GetIdentity retrieves the authenticated identity from the context.
//
// Returns nil if the request carried no valid token.
//
// Usage:
//
//	id := auth.GetIdentity(r.Context())
//	if id == nil {
//	    // Handle unauthenticated request
//	}
func GetIdentity(ctx context.Context) *domain.Identity {
	id, ok := ctx.Value(identityContextKey).(*domain.Identity)
	if !ok {
		return nil
	}
	return id
}

// GetIdentityFromRequest retrieves the authenticated identity from the request context.
func GetIdentityFromRequest(r *http.Request) *domain.Identity {
	return GetIdentity(r.Context())
}

// SetIdentity stores an identity in the context.
//
// This is typically called by authentication middleware after verifying
// a bearer token.
func SetIdentity(ctx context.Context, id *domain.Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, id)
}

// GetDecision returns the access decision the gate attached to a gated
// request, or nil outside a gated route.
func GetDecision(ctx context.Context) *domain.AccessDecision {
	d, ok := ctx.Value(decisionContextKey).(*domain.AccessDecision)
	if !ok {
		return nil
	}
	return d
}

// SetDecision stores an allowed access decision in the context.
func SetDecision(ctx context.Context, d *domain.AccessDecision) context.Context {
	return context.WithValue(ctx, decisionContextKey, d)
}
