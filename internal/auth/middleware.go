package auth

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
)

type contextKey string

const claimsKey contextKey = "claims"

// ExtractTokenFromRequest reads the token from the "token" query parameter or
// the Authorization header.
func ExtractTokenFromRequest(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}

	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}

	return ""
}

// Middleware rejects requests without a valid token and stores the claims in
// the request context.
func Middleware(v *Validator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := ExtractTokenFromRequest(r)
			if token == "" {
				http.Error(w, "Unauthorized: token required", http.StatusUnauthorized)
				return
			}

			claims, err := v.ValidateToken(token)
			if err != nil {
				slog.Warn("[AUTH] Token validation failed", "from", r.RemoteAddr, "error", err)
				http.Error(w, "Unauthorized: invalid token", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

func WithClaims(ctx context.Context, c *Claims) context.Context {
	return context.WithValue(ctx, claimsKey, c)
}

func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsKey).(*Claims)
	return c, ok
}
