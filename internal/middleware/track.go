package middleware

import (
	"errors"
	"fmt"
	"net/http"

	"apiframe/internal/shutdown"
)

// WorkTrackingMiddleware registers each request with the work tracker so the
// shutdown coordinator can drain in-flight requests. Once draining has begun,
// new requests are rejected with 503 and Connection: close so clients retry
// against another instance.
func WorkTrackingMiddleware(tracker *shutdown.WorkTracker) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			unit, ctx, err := tracker.Begin(r.Context())
			if err != nil {
				if errors.Is(err, shutdown.ErrDraining) {
					w.Header().Set("Content-Type", "application/json")
					w.Header().Set("Connection", "close")
					w.WriteHeader(http.StatusServiceUnavailable)
					_, _ = fmt.Fprint(w, `{"error":"server is shutting down"}`)
					return
				}
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = fmt.Fprint(w, `{"error":"internal server error"}`)
				return
			}
			// Finish must run on every exit path, including panics, or the
			// drain phase would wait for a request that already ended.
			defer unit.Finish()

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
