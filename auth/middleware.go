package auth

import (
	"encoding/json"
	"net/http"
	"strings"
)

// DefaultPublicPaths are reachable without a session.
var DefaultPublicPaths = []string{
	"/",
	"/pricing",
	"/healthz",
	"/api/stripe-webhook",
}

// MiddlewareOption configures the auth middleware.
type MiddlewareOption func(*middleware)

// WithPublicPaths replaces the set of paths that skip authentication.
func WithPublicPaths(paths ...string) MiddlewareOption {
	return func(m *middleware) { m.public = paths }
}

type middleware struct {
	validator *Validator
	public    []string
}

func (m *middleware) isPublic(path string) bool {
	for _, p := range m.public {
		if path == p {
			return true
		}
	}
	return false
}

// NewMiddleware creates bearer-token auth middleware.
// If validator is nil, all non-public requests are rejected.
func NewMiddleware(validator *Validator, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	m := &middleware{validator: validator, public: DefaultPublicPaths}
	for _, opt := range opts {
		opt(m)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if m.isPublic(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			authHeader := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(authHeader, "Bearer ")
			if !ok || token == "" {
				writeUnauthorized(w)
				return
			}
			if m.validator == nil {
				writeUnauthorized(w)
				return
			}

			claims, err := m.validator.Validate(token)
			if err != nil {
				writeUnauthorized(w)
				return
			}

			ctx := WithPrincipal(r.Context(), Principal{Identity: claims.Subject, Email: claims.Email})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{
		"error": "Unauthorized",
		"code":  "unauthenticated",
	})
}
