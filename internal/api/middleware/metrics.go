package middleware

import (
	"net/http"
	"time"

	"github.com/Big6ixxx/sendzz/internal/observability"
	"github.com/go-chi/chi/v5"
)

// unmatchedRoute labels requests no route matched, keeping raw paths out of
// metric labels.
const unmatchedRoute = "unmatched"

// MetricsMiddleware records latency per route pattern and tracks in-flight
// requests.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		done := observability.TrackInFlight()
		defer done()

		start := time.Now()
		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)

		observability.ObserveHTTP(r.Method, routePattern(r), rw.status, time.Since(start))
	})
}

// routePattern is only complete after routing, so call it once the handler
// has returned.
func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if pattern := rc.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return unmatchedRoute
}
