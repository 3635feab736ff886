package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

type contextKey int

const identityKey contextKey = iota

// IdentityFromContext extracts the verified identity from the request
// context, or nil when the request is unauthenticated.
func IdentityFromContext(ctx context.Context) *Identity {
	if v, ok := ctx.Value(identityKey).(*Identity); ok {
		return v
	}
	return nil
}

// WithIdentity returns a context carrying the identity. Exposed for
// handler tests.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// TokenFromRequest extracts the bearer credential from the
// Authorization header, falling back to the "token" query parameter
// used by websocket dials, which cannot set headers from a browser.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if parts := strings.SplitN(h, " ", 2); len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return parts[1]
		}
	}
	return r.URL.Query().Get("token")
}

// Middleware verifies the bearer credential on every request and
// injects the identity into the context.
func Middleware(svc *Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := TokenFromRequest(r)
			if token == "" {
				http.Error(w, `{"error":"authentication required"}`, http.StatusUnauthorized)
				return
			}

			id, err := svc.VerifyAccess(token)
			if err != nil {
				if errors.Is(err, ErrExpiredToken) {
					http.Error(w, `{"error":"token expired","code":"TOKEN_EXPIRED"}`, http.StatusUnauthorized)
					return
				}
				http.Error(w, `{"error":"invalid token"}`, http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}
