package auth

import (
	"context"
	"log/slog"
	"net/http"
)

// Context key type to avoid string collision in context values
type contextKey string

const principalContextKey contextKey = "principal"

// PrincipalFromContext returns the authenticated principal stored by the
// middleware.
func PrincipalFromContext(ctx context.Context) (string, bool) {
	principal, ok := ctx.Value(principalContextKey).(string)
	return principal, ok
}

// Middleware gates a handler behind the authentication decision. A denied
// request receives 401 with an authentication challenge; the internal reason
// is logged, never disclosed to the client.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		decision := a.Authenticate(r.Context(), r.Header.Get("Authorization"))
		if !decision.Allow {
			reason := "unknown"
			if decision.Reason != nil {
				reason = decision.Reason.Error()
			}
			slog.Info("Request denied",
				slog.String("path", r.URL.Path),
				slog.String("method", r.Method),
				slog.String("reason", reason))

			w.Header().Set("WWW-Authenticate", a.Challenge())
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			if _, err := w.Write([]byte(`{"error": "invalid authentication credentials"}`)); err != nil {
				slog.Error("Error writing response", "error", err)
			}
			return
		}

		ctx := context.WithValue(r.Context(), principalContextKey, decision.Principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
