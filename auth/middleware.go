package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/Suhail-S/Hadoota-Masreya-CRM/kit"
	"github.com/Suhail-S/Hadoota-Masreya-CRM/shield"
)

type claimsKey struct{}

// Middleware extracts a JWT from the Authorization Bearer header. If valid,
// the parsed Claims are injected into the request context together with the
// kit user id and role. Invalid or missing tokens are ignored here; use
// RequireStaff to enforce.
func Middleware(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenStr, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || tokenStr == "" {
				next.ServeHTTP(w, r)
				return
			}

			claims, err := ValidateToken(secret, tokenStr)
			if err != nil {
				shield.GetLogger(r.Context()).Debug("auth: token rejected", "error", err)
				next.ServeHTTP(w, r)
				return
			}

			ctx := WithClaims(r.Context(), claims)
			ctx = shield.WithLogger(ctx, shield.GetLogger(ctx).With("user_id", claims.UserID))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// WithClaims stores claims in ctx along with the kit user id and role.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	ctx = context.WithValue(ctx, claimsKey{}, claims)
	ctx = kit.WithUserID(ctx, claims.UserID)
	return kit.WithRole(ctx, claims.Role)
}

// GetClaims retrieves the Claims from the context, or nil if absent.
func GetClaims(ctx context.Context) *Claims {
	c, _ := ctx.Value(claimsKey{}).(*Claims)
	return c
}

// RequireStaff answers 401 when the request carries no valid token and 403
// when the token's role is not a staff role.
func RequireStaff(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c := GetClaims(r.Context())
		switch {
		case c == nil:
			deny(w, http.StatusUnauthorized, "authentication required")
		case !c.IsStaff():
			deny(w, http.StatusForbidden, "staff role required")
		default:
			next.ServeHTTP(w, r)
		}
	})
}

func deny(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// RequireAdmin is RequireStaff restricted to the admin role.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c := GetClaims(r.Context())
		switch {
		case c == nil:
			deny(w, http.StatusUnauthorized, "authentication required")
		case c.Role != RoleAdmin:
			deny(w, http.StatusForbidden, "admin role required")
		default:
			next.ServeHTTP(w, r)
		}
	})
}
