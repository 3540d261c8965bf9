package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/TheCoderAdi/EchoPersona-Backend/internal/audit"
	"github.com/TheCoderAdi/EchoPersona-Backend/internal/config"
	apperrors "github.com/TheCoderAdi/EchoPersona-Backend/internal/errors"
	"github.com/TheCoderAdi/EchoPersona-Backend/internal/httputil"
	"github.com/TheCoderAdi/EchoPersona-Backend/internal/service"
)

const userRateLimitWindow = time.Minute

// WindowChecker is the Redis sliding-window limiter shared across instances.
type WindowChecker interface {
	Check(ctx context.Context, key string, limit int, window time.Duration) service.Decision
}

// RedisRateLimitMiddleware limits authenticated requests per user per minute.
type RedisRateLimitMiddleware struct {
	limiter WindowChecker
	limit   int
}

func NewRedisRateLimitMiddleware(limiter WindowChecker, limitPerMin int) *RedisRateLimitMiddleware {
	if limitPerMin <= 0 {
		limitPerMin = config.DefaultRateLimitPerMin
	}
	return &RedisRateLimitMiddleware{limiter: limiter, limit: limitPerMin}
}

func (m *RedisRateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := GetUserID(r.Context())
		if userID == "" {
			next.ServeHTTP(w, r)
			return
		}

		d := m.limiter.Check(r.Context(), "user:"+userID, m.limit, userRateLimitWindow)

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(max(d.Remaining, 0)))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))

		if !d.Allowed {
			log.Warn().Str("userId", userID).Msg("rate limit exceeded")
			audit.LogFromRequest(r, audit.Event{Type: audit.EventRateLimitExceed, UserID: userID})
			w.Header().Set("Retry-After", retryAfter(d.ResetAt))
			httputil.WriteError(w, apperrors.RateLimitExceeded())
			return
		}

		next.ServeHTTP(w, r)
	})
}

func retryAfter(resetAt time.Time) string {
	return strconv.Itoa(max(int(time.Until(resetAt).Seconds())+1, 1))
}
