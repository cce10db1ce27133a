// Package middleware exposes HTTP middleware adapters that translate the
// Authorization header into engine identity checks.
//
// Each guard reads the bearer token, calls Engine.ValidateAccess, and injects
// the resulting identity into the request context. Authentication decisions
// stay in the engine; this package only moves HTTP semantics across.
package middleware

import (
	"context"
	"net/http"
	"strings"

	famauth "github.com/toolsfactory/TaschengeldManager-sub001"
)

type accessContextKey struct{}

// AccessFromContext returns the identity a guard stored on the request.
func AccessFromContext(ctx context.Context) (*famauth.AccessContext, bool) {
	ac, ok := ctx.Value(accessContextKey{}).(*famauth.AccessContext)
	return ac, ok
}

// RequireAuth rejects requests without a valid access token and passes the
// verified identity down the chain.
func RequireAuth(engine *famauth.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			raw, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ac, err := engine.ValidateAccess(r.Context(), raw)
			if err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), accessContextKey{}, ac)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole layers a role check on top of [RequireAuth]. Use it after the
// auth guard on parent-only routes.
func RequireRole(role famauth.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ac, ok := AccessFromContext(r.Context())
			if !ok || ac.Role != role {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}
	token := strings.TrimSpace(value[len(bearer):])
	return token, token != ""
}
