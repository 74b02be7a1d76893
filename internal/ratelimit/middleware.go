package ratelimit

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/af-corp/persona-gateway/internal/auth"
	"github.com/af-corp/persona-gateway/internal/httputil"
)

const (
	headerRateLimitLimit     = "X-RateLimit-Limit"
	headerRateLimitRemaining = "X-RateLimit-Remaining"
	headerRateLimitReset     = "X-RateLimit-Reset"
	headerRetryAfter         = "Retry-After"
)

// Middleware returns chi middleware that counts every request against scope.
// Requests are billed to the authenticated subject, or to the client address
// when no identity is present.
func Middleware(limiter *Limiter, scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := w.Header().Get("X-Request-ID")

			subject := clientSubject(r)
			result := limiter.Check(r.Context(), subject, scope)

			if !result.ResetAt.IsZero() {
				w.Header().Set(headerRateLimitLimit, strconv.FormatInt(result.Limit, 10))
				w.Header().Set(headerRateLimitRemaining, strconv.FormatInt(result.Remaining, 10))
				w.Header().Set(headerRateLimitReset, strconv.FormatInt(result.ResetAt.Unix(), 10))
			}

			if !result.Allowed {
				slog.Warn("rate limit exceeded",
					"request_id", reqID,
					"scope", scope,
					"subject", subject,
					"limit", result.Limit,
				)
				limiter.metrics.RecordRateLimitHit(scope)
				retry := int(result.RetryAfter.Round(time.Second).Seconds())
				w.Header().Set(headerRetryAfter, strconv.Itoa(max(retry, 1)))
				httputil.WriteRateLimitError(w, reqID,
					fmt.Sprintf("Rate limit exceeded: %d requests per %s", result.Limit, limiter.window))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func clientSubject(r *http.Request) string {
	if id, ok := auth.IdentityFromContext(r.Context()); ok && id.Subject != "" {
		return id.Subject
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
