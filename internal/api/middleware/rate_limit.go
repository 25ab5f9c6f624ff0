package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/Big6ixxx/sendzz/internal/api/problem"
	"github.com/Big6ixxx/sendzz/internal/security"
	"github.com/go-chi/httprate"
	"go.uber.org/zap"
)

// PublicRateLimiter limits requests per IP for unauthenticated routes.
func PublicRateLimiter(rps int) func(http.Handler) http.Handler {
	return httprate.Limit(rps, time.Second,
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			problem.Write(
				w,
				r,
				http.StatusTooManyRequests,
				problem.Type("rate-limit-exceeded"),
				http.StatusText(http.StatusTooManyRequests),
				fmt.Sprintf("Rate limit of %d req/s exceeded for this IP", rps),
			)
		}),
	)
}

// AuthRateLimiter limits authenticated users using their user ID as the key.
func AuthRateLimiter(rps int) func(http.Handler) http.Handler {
	return httprate.Limit(rps, time.Second,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			if userID := UserIDFromContext(r.Context()); userID != "" {
				return userID, nil
			}
			return httprate.KeyByIP(r)
		}),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			problem.Write(
				w,
				r,
				http.StatusTooManyRequests,
				problem.Type("rate-limit-exceeded"),
				http.StatusText(http.StatusTooManyRequests),
				fmt.Sprintf("Rate limit of %d req/s exceeded for this user", rps),
			)
		}),
	)
}

// Quota enforces a per-user quota backed by the shared limiter. Limiter
// failures are logged and the request is let through.
func Quota(limiter security.Limiter, scope string, limit security.Limit) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter == nil {
				next.ServeHTTP(w, r)
				return
			}
			subject := UserIDFromContext(r.Context())
			if subject == "" {
				subject, _ = httprate.KeyByIP(r)
			}
			decision, err := limiter.Allow(r.Context(), scope+":"+subject, limit)
			if err != nil {
				zap.L().Warn("rate limiter unavailable", zap.Error(err), zap.String("scope", scope))
				next.ServeHTTP(w, r)
				return
			}
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
			if !decision.Allowed {
				problem.TooManyRequests(w, r, decision.RetryAfter, fmt.Sprintf("Too many %s requests, try again later", scope))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
