// Package middleware provides HTTP middleware for the DittoRPC API.
package middleware

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"

	"github.com/marmos91/dittorpc/internal/api/auth"
	"github.com/marmos91/dittorpc/internal/api/handlers"
	"github.com/marmos91/dittorpc/internal/logger"
)

type contextKey string

const claimsContextKey contextKey = "claims"

// GetClaimsFromContext returns the validated claims of the request, or nil.
func GetClaimsFromContext(ctx context.Context) *auth.Claims {
	claims, _ := ctx.Value(claimsContextKey).(*auth.Claims)
	return claims
}

// extractBearerToken returns the token of an "Authorization: Bearer" header.
func extractBearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", false
	}
	return token, true
}

// JWTAuth rejects requests without a valid bearer token and stores the
// token's claims in the request context.
func JWTAuth(jwtService *auth.JWTService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := extractBearerToken(r)
			if !ok {
				handlers.Unauthorized(w, "missing bearer token")
				return
			}

			claims, err := jwtService.ValidateToken(token)
			if err != nil {
				detail := "invalid token"
				if errors.Is(err, auth.ErrExpiredToken) {
					detail = "token has expired"
				}
				logger.DebugCtx(r.Context(), "API token rejected", logger.Err(err))
				handlers.Unauthorized(w, detail)
				return
			}

			ctx := context.WithValue(r.Context(), claimsContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole admits requests whose claims carry one of roles.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := GetClaimsFromContext(r.Context())
			if claims == nil {
				handlers.Unauthorized(w, "authentication required")
				return
			}
			if !slices.Contains(roles, claims.Role) {
				handlers.Forbidden(w, "insufficient role")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAdmin admits admin tokens only.
func RequireAdmin() func(http.Handler) http.Handler {
	return RequireRole(auth.RoleAdmin)
}
