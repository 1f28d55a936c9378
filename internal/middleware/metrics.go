package middleware

import (
	"net/http"
	"time"

	"apiframe/internal/observability"
)

// HTTPMetricsMiddleware records request count, duration, and active-request
// metrics for every request through the handler.
func HTTPMetricsMiddleware(metrics *observability.HTTPMetrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			metrics.RequestStarted(r.Context())

			wrapped := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}
			next.ServeHTTP(wrapped, r)

			metrics.RequestCompleted(r.Context(), r.Method, RouteLabel(r.URL.Path), wrapped.statusCode, time.Since(start))
		})
	}
}

// RouteLabel collapses request paths onto the known route set so metric and
// span cardinality stays bounded.
func RouteLabel(rawPath string) string {
	switch rawPath {
	case "/", "/health", "/metrics", "/api/v1/status", "/admin/shutdown":
		return rawPath
	default:
		return "/*"
	}
}
