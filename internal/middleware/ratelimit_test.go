package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/TheCoderAdi/EchoPersona-Backend/internal/service"
)

type fakeWindow struct {
	allowed bool
	keys    []string
}

func (f *fakeWindow) Check(_ context.Context, key string, limit int, window time.Duration) service.Decision {
	f.keys = append(f.keys, key)
	remaining := limit - len(f.keys)
	return service.Decision{
		Allowed:   f.allowed,
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   time.Now().Add(window),
	}
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRedisRateLimitMiddleware(t *testing.T) {
	t.Run("allows request without user", func(t *testing.T) {
		limiter := &fakeWindow{}
		handler := NewRedisRateLimitMiddleware(limiter, 10).Handler(okHandler())

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest("GET", "/test", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, limiter.keys)
	})

	t.Run("keys by user and sets headers", func(t *testing.T) {
		limiter := &fakeWindow{allowed: true}
		handler := NewRedisRateLimitMiddleware(limiter, 10).Handler(okHandler())

		req := httptest.NewRequest("GET", "/test", nil)
		req = req.WithContext(WithUserID(req.Context(), "ada42"))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, []string{"user:ada42"}, limiter.keys)
		assert.Equal(t, "10", rec.Header().Get("X-RateLimit-Limit"))
		assert.Equal(t, "9", rec.Header().Get("X-RateLimit-Remaining"))
		assert.NotEmpty(t, rec.Header().Get("X-RateLimit-Reset"))
	})

	t.Run("blocks when over limit", func(t *testing.T) {
		limiter := &fakeWindow{allowed: false}
		handler := NewRedisRateLimitMiddleware(limiter, 10).Handler(okHandler())

		req := httptest.NewRequest("GET", "/test", nil)
		req = req.WithContext(WithUserID(req.Context(), "ada42"))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	})

	t.Run("falls back to default limit", func(t *testing.T) {
		m := NewRedisRateLimitMiddleware(&fakeWindow{}, 0)
		assert.Equal(t, 60, m.limit)
	})
}

func TestIPRateLimitMiddleware(t *testing.T) {
	limiter := &fakeWindow{allowed: false}
	handler := NewIPRateLimitMiddleware(limiter, 5, time.Hour, "register").Handler(okHandler())

	req := httptest.NewRequest("POST", "/auth/register", nil)
	req.RemoteAddr = "203.0.113.7"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, []string{"ip:register:203.0.113.7"}, limiter.keys)
}

func TestLoginRateLimiter(t *testing.T) {
	t.Run("allows burst then blocks", func(t *testing.T) {
		limiter := NewLoginRateLimiter()
		now := time.Now()
		limiter.now = func() time.Time { return now }

		for i := 0; i < loginMaxAttempts; i++ {
			assert.True(t, limiter.isAllowed("10.0.0.1"), "attempt %d", i+1)
		}
		assert.False(t, limiter.isAllowed("10.0.0.1"))
		assert.True(t, limiter.isAllowed("10.0.0.2"))
	})

	t.Run("refills over time", func(t *testing.T) {
		limiter := NewLoginRateLimiter()
		now := time.Now()
		limiter.now = func() time.Time { return now }

		for i := 0; i < loginMaxAttempts; i++ {
			limiter.isAllowed("10.0.0.1")
		}
		assert.False(t, limiter.isAllowed("10.0.0.1"))

		now = now.Add(loginRefillPeriod)
		assert.True(t, limiter.isAllowed("10.0.0.1"))
	})

	t.Run("handler returns 429", func(t *testing.T) {
		limiter := NewLoginRateLimiter()
		handler := limiter.Handler(okHandler())

		var last int
		for i := 0; i <= loginMaxAttempts; i++ {
			req := httptest.NewRequest("POST", "/auth/login", nil)
			req.RemoteAddr = "10.0.0.9"
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			last = rec.Code
		}
		assert.Equal(t, http.StatusTooManyRequests, last)
	})
}

func TestBodyLimitMiddleware(t *testing.T) {
	handler := NewBodyLimitMiddleware(8).Handler(okHandler())

	req := httptest.NewRequest("POST", "/test", strings.NewReader("this body is too long"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	req = httptest.NewRequest("POST", "/test", strings.NewReader("short"))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSecurityHeaders(t *testing.T) {
	handler := NewSecurityHeadersMiddleware(true).Handler(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/test", nil))

	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Contains(t, rec.Header().Get("Strict-Transport-Security"), "max-age")
}

func TestRequestLogger(t *testing.T) {
	handler := RequestLogger(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/test", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
}
