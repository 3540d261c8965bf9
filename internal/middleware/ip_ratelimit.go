package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/TheCoderAdi/EchoPersona-Backend/internal/audit"
	apperrors "github.com/TheCoderAdi/EchoPersona-Backend/internal/errors"
	"github.com/TheCoderAdi/EchoPersona-Backend/internal/httputil"
)

// IPRateLimitMiddleware guards unauthenticated endpoints such as registration.
type IPRateLimitMiddleware struct {
	limiter WindowChecker
	limit   int
	window  time.Duration
	prefix  string
}

func NewIPRateLimitMiddleware(limiter WindowChecker, limit int, window time.Duration, prefix string) *IPRateLimitMiddleware {
	return &IPRateLimitMiddleware{
		limiter: limiter,
		limit:   limit,
		window:  window,
		prefix:  prefix,
	}
}

func (m *IPRateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := fmt.Sprintf("ip:%s:%s", m.prefix, clientIP(r))
		d := m.limiter.Check(r.Context(), key, m.limit, m.window)

		if !d.Allowed {
			audit.LogFromRequest(r, audit.Event{
				Type:    audit.EventRateLimitExceed,
				Details: map[string]any{"scope": m.prefix},
			})
			w.Header().Set("Retry-After", retryAfter(d.ResetAt))
			httputil.WriteError(w, apperrors.RateLimitExceeded())
			return
		}

		next.ServeHTTP(w, r)
	})
}

// clientIP relies on chi's RealIP having rewritten RemoteAddr.
func clientIP(r *http.Request) string {
	return r.RemoteAddr
}
