package web

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-i2p/sockpool/lib/ratelimit"
)

// RateLimitConfig configures per-IP rate limiting.
type RateLimitConfig struct {
	// RequestsPerSecond is the rate of allowed requests per IP.
	// Default: 10
	RequestsPerSecond float64
	// BurstSize is the maximum burst size per IP.
	// Default: 30
	BurstSize int
	// IdleTTL is how long an unused client bucket is kept.
	// Default: 5 minutes
	IdleTTL time.Duration
	// TrustProxyHeaders takes the client IP from X-Forwarded-For or
	// X-Real-IP. Only enable behind a reverse proxy that sets them.
	TrustProxyHeaders bool
}

// DefaultRateLimitConfig returns the default limits.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 10,
		BurstSize:         30,
		IdleTTL:           5 * time.Minute,
	}
}

// RateLimiter is HTTP middleware limiting requests per client IP.
type RateLimiter struct {
	limiter      *ratelimit.KeyedLimiter
	trustHeaders bool
	onReject     func(ip, path string)
}

// NewRateLimiter creates a rate limiter. Zero fields take their defaults.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	def := DefaultRateLimitConfig()
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = def.RequestsPerSecond
	}
	if cfg.BurstSize <= 0 {
		cfg.BurstSize = def.BurstSize
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = def.IdleTTL
	}

	return &RateLimiter{
		limiter:      ratelimit.NewKeyed(cfg.RequestsPerSecond, cfg.BurstSize, cfg.IdleTTL),
		trustHeaders: cfg.TrustProxyHeaders,
	}
}

// SetOnReject sets a callback invoked for every rejected request.
func (rl *RateLimiter) SetOnReject(fn func(ip, path string)) {
	rl.onReject = fn
}

// Close stops the limiter's prune goroutine.
func (rl *RateLimiter) Close() {
	rl.limiter.Close()
}

// Middleware answers 429 Too Many Requests once a client's bucket is empty.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r, rl.trustHeaders)
		if !rl.limiter.Allow(ip) {
			if rl.onReject != nil {
				rl.onReject(ip, r.URL.Path)
			}
			w.Header().Set("Retry-After", "1")
			http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP returns the request's client IP. With trustHeaders the first
// valid address in X-Forwarded-For, then X-Real-IP, wins.
func clientIP(r *http.Request, trustHeaders bool) string {
	if trustHeaders {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := net.ParseIP(strings.TrimSpace(first)); ip != nil {
				return ip.String()
			}
		}
		if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
			return ip.String()
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
