package middleware

import (
	"net"
	"net/http"
	"strings"

	"github.com/deepgram/chatrelay/pkg/httpext"
	"github.com/deepgram/chatrelay/pkg/logger"
	"github.com/deepgram/chatrelay/pkg/ratelimit"
)

// RateLimit rejects requests once the client key has used its budget. A nil
// limiter disables the check. Limiter errors fail open.
func RateLimit(limitKey string, limiter ratelimit.Limiter) func(http.Handler) http.Handler {
	l := logger.For(logger.MIDDLEWARE)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter == nil {
				next.ServeHTTP(w, r)
				return
			}

			key := ClientKey(r)
			allowed, err := limiter.Allow(r.Context(), key)
			if err != nil {
				l.Error().Err(err).Str("limit", limitKey).Msg("Rate limiter unavailable, allowing request")
				next.ServeHTTP(w, r)
				return
			}

			if !allowed {
				l.Warn().Str("client", key).Str("limit", limitKey).Msg("Rate limit exceeded")
				httpext.JsonError(w, "Rate limit exceeded", http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ClientKey identifies the caller: the first X-Forwarded-For hop when behind
// a proxy, otherwise the remote host
func ClientKey(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
