// Package middleware provides HTTP middleware components for the API server.
package middleware

import (
	"net/http"
	"strings"

	"github.com/clinichain/clinichain/internal/auth"
)

// RequireScope returns middleware that rejects requests without a valid
// bearer token carrying the given scope. The admin surface must always be
// mounted behind this with auth.ScopeAdmin; it is never reachable
// unauthenticated.
func RequireScope(jwtService *auth.JWTService, scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				writeAuthError(w, "missing bearer token")
				return
			}

			claims, err := jwtService.ValidateToken(token)
			if err != nil {
				writeAuthError(w, "invalid or expired token")
				return
			}
			if !claims.HasScope(scope) {
				w.Header().Set("Content-Type", "application/json; charset=utf-8")
				w.WriteHeader(http.StatusForbidden)
				_, _ = w.Write([]byte(`{"error":{"code":"forbidden","message":"insufficient scope"}}`))
				return
			}

			ctx := SetSubject(r.Context(), claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func writeAuthError(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":{"code":"auth_failed","message":"` + message + `"}}`))
}
