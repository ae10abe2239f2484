// Package requesttime pins one "now" per request. Every contact written by a
// single reconciliation carries this timestamp.
package requesttime

import (
	"net/http"
	"time"

	"identify/pkg/requestcontext"
)

// Clock returns the current time; tests substitute a fixed one.
type Clock func() time.Time

// Middleware captures the time at the start of the request and stores it in
// the context.
func Middleware(next http.Handler) http.Handler {
	return WithClock(time.Now)(next)
}

// WithClock is Middleware with an injectable clock.
func WithClock(clock Clock) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := requestcontext.WithTime(r.Context(), clock().UTC())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
