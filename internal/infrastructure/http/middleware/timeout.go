package middleware

import (
	"context"
	"net/http"
	"time"
)

// RequestTimeout bounds the request context. Authorizations may wait for a
// sequence lock and then for AFIP, so the budget is larger than the default
// handler timeout but stays below the server's WriteTimeout.
func RequestTimeout(timeout time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if timeout <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
