package middleware

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/sakif/codetrace/internal/metrics"
)

// RateLimitConfig sets the admission limits for execution endpoints.
type RateLimitConfig struct {
	RPS           float64 // global requests per second
	Burst         int
	PerIPRPS      float64
	PerIPBurst    int
	MaxConcurrent int // executions in flight at once; 0 disables the cap
}

type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter admits a request only if the global bucket, the caller's own
// bucket and the concurrency cap all allow it.
type RateLimiter struct {
	global  *rate.Limiter
	ipRate  rate.Limit
	ipBurst int

	mu      sync.Mutex
	perIP   map[string]*ipLimiter
	slots   chan struct{} // nil when MaxConcurrent is 0
	nowFunc func() time.Time
}

func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	rl := &RateLimiter{
		global:  rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Burst),
		ipRate:  rate.Limit(cfg.PerIPRPS),
		ipBurst: cfg.PerIPBurst,
		perIP:   make(map[string]*ipLimiter),
		nowFunc: time.Now,
	}
	if cfg.MaxConcurrent > 0 {
		rl.slots = make(chan struct{}, cfg.MaxConcurrent)
	}
	return rl
}

func (rl *RateLimiter) limiterFor(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	l, ok := rl.perIP[ip]
	if !ok {
		l = &ipLimiter{limiter: rate.NewLimiter(rl.ipRate, rl.ipBurst)}
		rl.perIP[ip] = l
	}
	l.lastSeen = rl.nowFunc()
	return l.limiter
}

// acquire reports whether ip may start a request now. A true result must be
// paired with release.
func (rl *RateLimiter) acquire(ip string) bool {
	if !rl.global.Allow() || !rl.limiterFor(ip).Allow() {
		metrics.RateLimitHits.Inc()
		return false
	}
	if rl.slots == nil {
		return true
	}
	select {
	case rl.slots <- struct{}{}:
		return true
	default:
		metrics.RateLimitHits.Inc()
		return false
	}
}

func (rl *RateLimiter) release() {
	if rl.slots != nil {
		<-rl.slots
	}
}

// Middleware rejects over-limit requests with 429. It expects chi's RealIP to
// have run first so RemoteAddr is the client address.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.acquire(clientIP(r)) {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			json.NewEncoder(w).Encode(map[string]string{
				"error":   "rate_limited",
				"message": "Too many requests",
			})
			return
		}
		defer rl.release()
		next.ServeHTTP(w, r)
	})
}

// StartCleanup forgets per-IP buckets idle for longer than ttl, checking every
// interval until ctx is done.
func (rl *RateLimiter) StartCleanup(ctx context.Context, interval, ttl time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				rl.sweep(ttl)
			}
		}
	}()
}

func (rl *RateLimiter) sweep(ttl time.Duration) {
	cutoff := rl.nowFunc().Add(-ttl)
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for ip, l := range rl.perIP {
		if l.lastSeen.Before(cutoff) {
			delete(rl.perIP, ip)
		}
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
