/**
 * @description
 * This file contains custom middleware for the HTTP router: JWT authentication
 * resolving the calling principal (tenant id plus role), and shared-key
 * authentication for internal service-to-service endpoints.
 *
 * @dependencies
 * - context, net/http, strings: Standard Go libraries.
 * - github.com/golang-jwt/jwt/v5: JWT parsing and validation.
 */

package api

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Roles carried in the JWT role claim.
const (
	RoleTenant = "tenant"
	RoleAdmin  = "admin"
	RoleOwner  = "owner"
)

// Principal identifies the authenticated caller.
type Principal struct {
	TenantID uuid.UUID
	Role     string
}

// Admin reports whether the principal can act across tenants.
func (p Principal) Admin() bool {
	return p.Role == RoleAdmin || p.Role == RoleOwner
}

// principalContextKey is a custom type for the context key to avoid collisions.
type principalContextKey struct{}

// GetPrincipal retrieves the authenticated principal from the request context.
func GetPrincipal(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(Principal)
	return p, ok
}

// AuthMiddleware creates a middleware that validates HS256 JWT tokens issued
// by the auth layer. The subject claim carries the tenant id and the role
// claim the caller's role.
func AuthMiddleware(jwtSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString := bearerToken(r)
			if tokenString == "" {
				http.Error(w, "Authorization required", http.StatusUnauthorized)
				return
			}

			principal, err := parsePrincipal(tokenString, jwtSecret)
			if err != nil {
				http.Error(w, "Invalid token", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), principalContextKey{}, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerToken extracts the JWT from the Authorization header, falling back to
// the `token` query parameter for websocket clients that cannot set headers.
func bearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader != "" {
		token := strings.TrimPrefix(authHeader, "Bearer ")
		if token != authHeader {
			return token
		}
		return ""
	}
	return r.URL.Query().Get("token")
}

func parsePrincipal(tokenString, jwtSecret string) (Principal, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(jwtSecret), nil
	})
	if err != nil {
		return Principal{}, err
	}
	if !token.Valid {
		return Principal{}, fmt.Errorf("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Principal{}, fmt.Errorf("invalid token claims")
	}

	sub, ok := claims["sub"].(string)
	if !ok {
		return Principal{}, fmt.Errorf("subject claim missing")
	}
	tenantID, err := uuid.Parse(sub)
	if err != nil {
		return Principal{}, fmt.Errorf("subject claim is not a uuid: %w", err)
	}

	role, _ := claims["role"].(string)
	switch role {
	case RoleTenant, RoleAdmin, RoleOwner:
	default:
		role = RoleTenant
	}

	return Principal{TenantID: tenantID, Role: role}, nil
}

// RequireAdmin rejects principals that cannot act across tenants.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, ok := GetPrincipal(r.Context())
		if !ok || !principal.Admin() {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// InternalAuthMiddleware validates the shared key on service-to-service
// endpoints. Comparison is constant-time.
func InternalAuthMiddleware(internalAPIKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			provided := r.Header.Get("X-Internal-API-Key")
			if internalAPIKey == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(internalAPIKey)) != 1 {
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
