package server

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/codectx-dev/codectx/internal/logger"
	"github.com/codectx-dev/codectx/internal/metrics"
)

const healthPath = "/health"

// bearerAuth enforces Authorization: Bearer <token> on every path except
// the health endpoint; OPTIONS requests also pass unauthenticated. Failures return 401 with a WWW-Authenticate challenge
// and are audit-logged with source address and requested path.
func bearerAuth(token string, log *logger.Logger) func(http.Handler) http.Handler {
	expected := []byte(token)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == healthPath || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			header := r.Header.Get("Authorization")
			scheme, value, found := strings.Cut(header, " ")
			authorized := found &&
				strings.EqualFold(scheme, "Bearer") &&
				subtle.ConstantTimeCompare([]byte(strings.TrimSpace(value)), expected) == 1

			if !authorized {
				metrics.AuthFailures.Inc()
				log.Audit("auth_failure",
					"source", sourceAddr(r), "method", r.Method, "path", r.URL.Path)
				w.Header().Set("WWW-Authenticate", `Bearer realm="codectx"`)
				http.Error(w, `{"error":{"kind":"authentication","message":"missing or invalid bearer token"}}`, http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// rateLimit enforces the fixed-window budget per source address. The health
// path is exempt. Over-budget requests get 429 with Retry-After and
// X-RateLimit-* headers.
func rateLimit(rl *RateLimiter, log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == healthPath {
				next.ServeHTTP(w, r)
				return
			}

			addr := sourceAddr(r)
			allowed, remaining, retryAfter := rl.Allow(addr)

			w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", rl.limit))
			w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))

			if !allowed {
				metrics.RateLimited.Inc()
				log.Audit("rate_limited",
					"source", addr, "method", r.Method, "path", r.URL.Path)
				w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter))
				http.Error(w, `{"error":{"kind":"rate_limit","message":"rate limit exceeded"}}`, http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// audit emits one record per request, health checks excepted, with source,
// method/path and outcome class. Request bodies are never logged here.
func audit(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == healthPath {
				next.ServeHTTP(w, r)
				return
			}

			recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(recorder, r)

			log.Audit("request",
				"requestId", uuid.NewString(),
				"source", sourceAddr(r),
				"method", r.Method,
				"path", r.URL.Path,
				"outcome", outcomeClass(recorder.status))
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(status int) {
	sr.status = status
	sr.ResponseWriter.WriteHeader(status)
}

// Flush forwards streaming flushes so SSE responses keep working through the
// recorder.
func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func outcomeClass(status int) string {
	switch {
	case status < 400:
		return "ok"
	case status == http.StatusUnauthorized:
		return "auth_failure"
	case status == http.StatusTooManyRequests:
		return "rate_limited"
	case status < 500:
		return "client_error"
	default:
		return "server_error"
	}
}
