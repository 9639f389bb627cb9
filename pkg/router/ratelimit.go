package router

import (
	"net/http"
	"strings"
	"sync"

	"golang.org/x/time/rate"
)

// rateLimiter keeps one token-bucket limiter per client IP, grounded on the
// teacher's ingress Middleware.CheckRateLimit (golang.org/x/time/rate,
// lazily created per-IP limiter behind a mutex).
type rateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	perMin   int
}

func newRateLimiter(perMin int) *rateLimiter {
	return &rateLimiter{limiters: make(map[string]*rate.Limiter), perMin: perMin}
}

// allow reports whether the request from r's client should proceed. A
// perMin of 0 disables rate limiting entirely.
func (rl *rateLimiter) allow(r *http.Request) bool {
	if rl == nil || rl.perMin <= 0 {
		return true
	}
	ip := clientIP(r)

	rl.mu.Lock()
	limiter, ok := rl.limiters[ip]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(float64(rl.perMin)/60.0), rl.perMin)
		rl.limiters[ip] = limiter
	}
	rl.mu.Unlock()

	return limiter.Allow()
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host := r.RemoteAddr
	if idx := strings.LastIndexByte(host, ':'); idx >= 0 {
		return host[:idx]
	}
	return host
}
