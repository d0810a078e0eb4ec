package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"bizdash/internal/pkg/errors"
)

const limiterIdleTTL = 10 * time.Minute

type limiterEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// RateLimiter keeps one token bucket per key, refilled at perMinute/60 per
// second with a burst of perMinute.
type RateLimiter struct {
	name      string
	perMinute int
	mu        sync.Mutex
	limiters  map[string]*limiterEntry
}

func NewRateLimiter(name string, perMinute int) *RateLimiter {
	return &RateLimiter{
		name:      name,
		perMinute: perMinute,
		limiters:  make(map[string]*limiterEntry),
	}
}

func (rl *RateLimiter) Allow(key string) bool {
	if rl.perMinute <= 0 {
		return true
	}

	rl.mu.Lock()
	entry, ok := rl.limiters[key]
	if !ok {
		entry = &limiterEntry{
			limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(rl.perMinute)), rl.perMinute),
		}
		rl.limiters[key] = entry
	}
	entry.lastAccess = time.Now()
	rl.mu.Unlock()

	return entry.limiter.Allow()
}

// Serve evicts idle buckets until ctx is done.
func (rl *RateLimiter) Serve(ctx context.Context) error {
	ticker := time.NewTicker(limiterIdleTTL)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			rl.evictIdle(now)
		}
	}
}

func (rl *RateLimiter) String() string {
	return "rate-limiter-" + rl.name
}

func (rl *RateLimiter) evictIdle(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, entry := range rl.limiters {
		if now.Sub(entry.lastAccess) > limiterIdleTTL {
			delete(rl.limiters, key)
		}
	}
}

// ByIP limits by client address. Used for unauthenticated webhook calls.
func (rl *RateLimiter) ByIP(next http.HandlerFunc) http.HandlerFunc {
	return rl.limit(next, func(r *http.Request) string { return ClientIP(r) })
}

// ByTenant limits by the session's tenant and must run after TenantMiddleware.
func (rl *RateLimiter) ByTenant(next http.HandlerFunc) http.HandlerFunc {
	return rl.limit(next, func(r *http.Request) string {
		if tenant := TenantFrom(r.Context()); tenant != nil {
			return tenant.ID
		}
		return ClientIP(r)
	})
}

func (rl *RateLimiter) limit(next http.HandlerFunc, key func(*http.Request) string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		k := key(r)
		if !rl.Allow(k) {
			log.Warn().Str("limiter", rl.name).Str("key", k).Msg("Rate limit exceeded")
			w.Header().Set("Retry-After", "60")
			errors.WriteError(w, http.StatusTooManyRequests, errors.ErrCodeRateLimitExceeded, "Rate limit exceeded", nil)
			return
		}
		next(w, r)
	}
}

// ClientIP prefers the first X-Forwarded-For hop, then RemoteAddr.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if ip := strings.TrimSpace(strings.Split(fwd, ",")[0]); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
