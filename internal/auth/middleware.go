package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/CDeX-Labs/TypeSprint-Socket-Service/internal/metrics"
)

type contextKey string

const UserContextKey contextKey = "user"

// AuthMiddleware rejects requests without a verifiable token before they
// reach the upgrade handler.
func AuthMiddleware(verifier *Verifier, m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractToken(r)
			if token == "" {
				m.IncAuthFailures()
				http.Error(w, "Unauthorized: missing token", http.StatusUnauthorized)
				return
			}

			identity, err := verifier.Verify(r.Context(), token)
			if err != nil {
				m.IncAuthFailures()
				if errors.Is(err, ErrInvalidToken) || errors.Is(err, ErrExpiredToken) ||
					errors.Is(err, ErrInvalidClaims) || errors.Is(err, ErrUnknownUser) {
					http.Error(w, "Unauthorized: "+err.Error(), http.StatusUnauthorized)
					return
				}
				http.Error(w, "Authentication unavailable", http.StatusServiceUnavailable)
				return
			}

			ctx := context.WithValue(r.Context(), UserContextKey, identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func extractToken(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}

	authHeader := r.Header.Get("Authorization")
	if authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.ToLower(parts[0]) == "bearer" {
			return parts[1]
		}
	}

	return ""
}

func GetIdentity(ctx context.Context) (Identity, bool) {
	identity, ok := ctx.Value(UserContextKey).(Identity)
	return identity, ok
}
