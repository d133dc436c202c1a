// Package api implements the Tool Vault REST API using chi.
package api

import (
	"context"
	"net/http"
	"strings"
)

// Caller is the authenticated identity attached to each request. Verified
// callers may spend quota on the enrichment path; unverified callers can
// only consume cache hits.
type Caller struct {
	ID       string
	Verified bool
}

type ctxKey int

const callerKey ctxKey = iota

// localCaller is used when authentication is disabled (local dev).
var localCaller = Caller{ID: "local", Verified: true}

// AuthMiddleware returns middleware that resolves the caller identity from
// a Bearer token. If enabled is false, all requests run as a local verified
// caller. If enabled is true, the token must map to a configured caller.
func AuthMiddleware(enabled bool, callers map[string]Caller) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !enabled {
				next.ServeHTTP(w, r.WithContext(withCaller(r.Context(), localCaller)))
				return
			}
			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				writeJSON(w, http.StatusUnauthorized, errorBody("unauthorized"))
				return
			}
			caller, ok := callers[strings.TrimPrefix(auth, "Bearer ")]
			if !ok {
				writeJSON(w, http.StatusUnauthorized, errorBody("unauthorized"))
				return
			}
			next.ServeHTTP(w, r.WithContext(withCaller(r.Context(), caller)))
		})
	}
}

func withCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerKey, c)
}

// CallerFrom extracts the authenticated caller from the request context.
func CallerFrom(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(callerKey).(Caller)
	return c, ok
}
