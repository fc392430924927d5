// Package domain contains core business types and interfaces.
//
// This file defines the User and Identity types. Users are stored in the
// directory; identities come from verified bearer tokens.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Role is the privilege level carried by an identity.
type Role string

const (
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
)

// User is a registered account holder with a subscription plan.
type User struct {
	ID        uuid.UUID
	Email     string
	PlanID    PlanID
	CreatedAt time.Time
}

// Identity is the authenticated principal behind a request.
type Identity struct {
	UserID uuid.UUID
	Role   Role
}

// IsAdmin returns true if the identity carries the admin role.
func (i *Identity) IsAdmin() bool {
	return i != nil && i.Role == RoleAdmin
}

// Valid reports whether the identity names a user.
func (i *Identity) Valid() bool {
	return i != nil && i.UserID != uuid.Nil
}
