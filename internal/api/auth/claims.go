// Package auth provides JWT authentication for the DittoRPC admin API.
package auth

import (
	"github.com/golang-jwt/jwt/v5"
)

// Roles carried by admin tokens.
const (
	// RoleAdmin may inspect and destroy sessions and evict applications.
	RoleAdmin = "admin"

	// RoleViewer may only read sessions and the audit journal.
	RoleViewer = "viewer"
)

// Claims represents the JWT claims of an admin API token.
type Claims struct {
	jwt.RegisteredClaims

	// Role is RoleAdmin or RoleViewer.
	Role string `json:"role"`
}

// IsAdmin returns true if the token has the admin role.
func (c *Claims) IsAdmin() bool {
	return c.Role == RoleAdmin
}

// ValidRole reports whether role is a known role.
func ValidRole(role string) bool {
	return role == RoleAdmin || role == RoleViewer
}
