package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/pillowpotion/backend/internal/models"
)

type contextKey string

const (
	ctxAccountIDKey contextKey = "account_id"
	ctxRoleKey      contextKey = "role"
)

// TokenValidator verifies a bearer token and returns the account id and role.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (uuid.UUID, string, error)
}

// JWTAuth authenticates requests by validating the Bearer token and placing
// the verified account id and role into the request context. The core trusts
// this id from here on and performs no further authentication.
func JWTAuth(validator TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := extractBearer(r)
			if raw == "" {
				http.Error(w, `{"error":"missing or malformed Authorization header"}`, http.StatusUnauthorized)
				return
			}
			id, role, err := validator.ValidateToken(r.Context(), raw)
			if err != nil {
				http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), ctxAccountIDKey, id)
			ctx = context.WithValue(ctx, ctxRoleKey, role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin rejects requests whose authenticated role is not admin.
// Must run after JWTAuth.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if RoleFromCtx(r.Context()) != models.RoleAdmin {
			http.Error(w, `{"error":"forbidden"}`, http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// AccountIDFromCtx returns the authenticated account id or uuid.Nil.
func AccountIDFromCtx(ctx context.Context) uuid.UUID {
	id, _ := ctx.Value(ctxAccountIDKey).(uuid.UUID)
	return id
}

// RoleFromCtx returns the authenticated role or "".
func RoleFromCtx(ctx context.Context) string {
	role, _ := ctx.Value(ctxRoleKey).(string)
	return role
}

// WithAccount returns a context carrying the given account id and role.
func WithAccount(ctx context.Context, id uuid.UUID, role string) context.Context {
	ctx = context.WithValue(ctx, ctxAccountIDKey, id)
	return context.WithValue(ctx, ctxRoleKey, role)
}

func extractBearer(r *http.Request) string {
	authz := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(authz, prefix) {
		return ""
	}
	return strings.TrimSpace(authz[len(prefix):])
}
