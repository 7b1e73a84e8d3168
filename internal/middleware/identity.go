// Package middleware carries the already-authenticated caller identity into
// request contexts. Authentication itself happens upstream; this service
// only trusts the identity header the auth proxy injects.
package middleware

import (
	"context"
	"net/http"
)

// IdentityHeader is set by the upstream auth proxy on every request.
const IdentityHeader = "X-Auth-User"

type contextKey int

const identityKey contextKey = iota

// RequireIdentity rejects requests without a caller identity and stores the
// identity in the request context for handlers.
func RequireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity := r.Header.Get(IdentityHeader)
		if identity == "" {
			http.Error(w, "Missing caller identity", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey, identity)))
	})
}

// Identity returns the caller identity for the request, empty if absent.
func Identity(r *http.Request) string {
	identity, _ := r.Context().Value(identityKey).(string)
	return identity
}

// WithIdentityForTest injects an identity directly, bypassing the header.
func WithIdentityForTest(r *http.Request, identity string) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), identityKey, identity))
}
