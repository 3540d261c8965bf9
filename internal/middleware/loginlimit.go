package middleware

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/TheCoderAdi/EchoPersona-Backend/internal/audit"
	apperrors "github.com/TheCoderAdi/EchoPersona-Backend/internal/errors"
	"github.com/TheCoderAdi/EchoPersona-Backend/internal/httputil"
)

const (
	loginMaxAttempts   = 5
	loginRefillPeriod  = time.Minute / loginMaxAttempts
	loginIdleTTL       = 5 * time.Minute
	loginCleanupPeriod = 5 * time.Minute
)

type loginBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// LoginRateLimiter is an in-process token bucket per client IP. Login is the
// only route guarded without Redis so brute force is throttled even when
// Redis fails open.
type LoginRateLimiter struct {
	mu          sync.Mutex
	buckets     map[string]*loginBucket
	lastCleanup time.Time
	now         func() time.Time
}

func NewLoginRateLimiter() *LoginRateLimiter {
	return &LoginRateLimiter{
		buckets:     make(map[string]*loginBucket),
		lastCleanup: time.Now(),
		now:         time.Now,
	}
}

func (l *LoginRateLimiter) cleanup(now time.Time) {
	if now.Sub(l.lastCleanup) < loginCleanupPeriod {
		return
	}
	l.lastCleanup = now

	for ip, b := range l.buckets {
		if now.Sub(b.lastSeen) > loginIdleTTL {
			delete(l.buckets, ip)
		}
	}
}

func (l *LoginRateLimiter) isAllowed(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.cleanup(now)

	b, ok := l.buckets[ip]
	if !ok {
		b = &loginBucket{limiter: rate.NewLimiter(rate.Every(loginRefillPeriod), loginMaxAttempts)}
		l.buckets[ip] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1)
}

func (l *LoginRateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.isAllowed(clientIP(r)) {
			audit.LogFromRequest(r, audit.Event{
				Type:    audit.EventRateLimitExceed,
				Details: map[string]any{"scope": "login"},
			})
			w.Header().Set("Retry-After", "60")
			httputil.WriteError(w, apperrors.New(apperrors.ErrCodeRateLimitExceeded, "Too many login attempts. Please try again later."))
			return
		}

		next.ServeHTTP(w, r)
	})
}
