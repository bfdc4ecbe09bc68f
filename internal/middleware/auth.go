package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/timebank/timebank-api/internal/pkg/jwt"
	"github.com/timebank/timebank-api/internal/pkg/response"
)

type contextKey string

const (
	MemberIDKey contextKey = "member_id"
	RoleKey     contextKey = "role"
)

// Auth returns middleware that validates JWT
func Auth(jwtService *jwt.Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				response.Unauthorized(w, "Missing or malformed authorization header")
				return
			}

			claims, err := jwtService.ValidateAccessToken(token)
			if err != nil {
				if errors.Is(err, jwt.ErrExpiredToken) {
					response.Unauthorized(w, "Token expired")
				} else {
					response.Unauthorized(w, "Invalid token")
				}
				return
			}

			ctx := WithMember(r.Context(), claims.MemberID, claims.Role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerToken reads the token from the Authorization header. Browsers cannot set headers
// on websocket upgrades, so /ws may pass it as ?token= instead.
func bearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return r.URL.Query().Get("token")
	}
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return parts[1]
}

// WithMember stores a verified identity in ctx.
func WithMember(ctx context.Context, memberID uuid.UUID, role string) context.Context {
	ctx = context.WithValue(ctx, MemberIDKey, memberID)
	return context.WithValue(ctx, RoleKey, role)
}

// GetMemberID extracts member ID from context
func GetMemberID(ctx context.Context) uuid.UUID {
	if id, ok := ctx.Value(MemberIDKey).(uuid.UUID); ok {
		return id
	}
	return uuid.Nil
}

// GetRole extracts role from context
func GetRole(ctx context.Context) string {
	if role, ok := ctx.Value(RoleKey).(string); ok {
		return role
	}
	return ""
}

// IsAdmin reports whether the verified caller holds the admin role.
func IsAdmin(ctx context.Context) bool {
	return GetRole(ctx) == jwt.RoleAdmin
}

// RequireRole returns middleware that checks member role
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			memberRole := GetRole(r.Context())

			for _, role := range roles {
				if memberRole == role {
					next.ServeHTTP(w, r)
					return
				}
			}

			response.Forbidden(w, "Insufficient permissions")
		})
	}
}

// RequireAdmin returns middleware that requires admin role
func RequireAdmin() func(http.Handler) http.Handler {
	return RequireRole(jwt.RoleAdmin)
}
