// Package api implements the compendium REST API using chi.
package api

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/starford/compendium/internal/apperr"
	"github.com/starford/compendium/internal/auth"
	"github.com/starford/compendium/internal/permissions"
)

// AuthMiddleware attaches the caller's identity to the request context. A
// request without a bearer token carries no identity; an invalid token is
// rejected. A nil verifier disables authentication.
func AuthMiddleware(verifier auth.Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if verifier == nil || header == "" {
				next.ServeHTTP(w, r)
				return
			}
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok {
				writeJSON(w, http.StatusUnauthorized, errorBody(apperr.KindUnauthenticated, "unauthorized"))
				return
			}
			id, err := verifier.Verify(r.Context(), token)
			if err != nil {
				slog.Debug("token rejected", slog.String("error", err.Error()))
				writeJSON(w, http.StatusUnauthorized, errorBody(apperr.KindUnauthenticated, "unauthorized"))
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), id)))
		})
	}
}

// RequireSignIn rejects requests without an identity.
func RequireSignIn(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth.FromContext(r.Context()) == nil {
			writeError(w, r, apperr.Unauthenticated("sign in required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequirePermission rejects callers whose composed permissions grant none
// of caps.
func RequirePermission(resolver *permissions.Resolver, caps ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := auth.FromContext(r.Context())
			if id == nil {
				writeError(w, r, apperr.Unauthenticated("sign in required"))
				return
			}
			perms, err := resolver.For(r.Context(), id)
			if err != nil {
				writeError(w, r, err)
				return
			}
			if !permissions.Has(perms, caps...) {
				writeError(w, r, apperr.PermissionDenied("requires one of %s", strings.Join(caps, ", ")))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
