package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gateward/gateward/internal/service"
)

type contextKeyAuth string

// AuthPrincipalKey is the context key for the authenticated principal.
const AuthPrincipalKey contextKeyAuth = "auth_principal"

// Principal represents the authenticated caller.
type Principal struct {
	Type     string // "service" or "session"
	Identity string // acting admin identity for sessions, "" for service calls
}

// Authenticate returns an HTTP middleware that validates the request's
// credentials. It supports two methods:
//
//  1. Shared service token via the X-Service-Token header (for the bot and
//     transfer-layer collaborators)
//  2. JWT Bearer token via the Authorization header (for dashboard sessions)
//
// On success, a Principal is attached to the request context. On failure,
// a 401 JSON error response is returned.
func Authenticate(authSvc *service.AuthService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var principal *Principal

			if token := r.Header.Get("X-Service-Token"); token != "" {
				if err := authSvc.ValidateServiceToken(r.Context(), token); err != nil {
					writeAuthError(w, http.StatusUnauthorized, "Invalid service token")
					return
				}
				principal = &Principal{Type: "service"}
			}

			if principal == nil {
				authHeader := r.Header.Get("Authorization")
				if strings.HasPrefix(authHeader, "Bearer ") {
					token := strings.TrimPrefix(authHeader, "Bearer ")
					p, err := authSvc.ValidateSessionJWT(r.Context(), token)
					if err != nil {
						writeAuthError(w, http.StatusUnauthorized, "Invalid session token")
						return
					}
					principal = &Principal{Type: "session", Identity: p.Identity}
				}
			}

			if principal == nil {
				writeAuthError(w, http.StatusUnauthorized,
					"Authentication required. Provide X-Service-Token header or Bearer token.")
				return
			}

			ctx := context.WithValue(r.Context(), AuthPrincipalKey, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetPrincipal extracts the authenticated principal from the context.
// Returns nil for an unauthenticated request.
func GetPrincipal(ctx context.Context) *Principal {
	if p, ok := ctx.Value(AuthPrincipalKey).(*Principal); ok {
		return p
	}
	return nil
}

func writeAuthError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Manually construct JSON to avoid an import cycle with handler.
	if status == http.StatusUnauthorized {
		w.Write([]byte(`{"error":{"code":401,"message":"` + message + `"}}`))
		return
	}
	w.Write([]byte(`{"error":{"code":403,"message":"` + message + `"}}`))
}
