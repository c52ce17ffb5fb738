package httpapi

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/juju/clock"
	"golang.org/x/time/rate"
)

const defaultBucketIdle = 10 * time.Minute

type RateLimitConfig struct {
	PerMinute int
	Burst     int
	// TrustForwardedFor keys buckets on the address the proxy appended to
	// X-Forwarded-For. Leave it off unless a proxy sets the header.
	TrustForwardedFor bool
	// IdleTimeout is how long an unused bucket is kept. Zero means ten minutes.
	IdleTimeout time.Duration
	Clock       clock.Clock
}

// RateLimiter applies a token bucket per client IP.
type RateLimiter struct {
	limiter        *tokenLimiter
	trustForwarded bool
}

func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.WallClock
	}
	idle := cfg.IdleTimeout
	if idle <= 0 {
		idle = defaultBucketIdle
	}
	return &RateLimiter{
		limiter:        newTokenLimiter(cfg.PerMinute, cfg.Burst, idle, clk),
		trustForwarded: cfg.TrustForwardedFor,
	}
}

func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r, l.trustForwarded)
		if ip != "" && !l.limiter.allow(ip) {
			writeEnvelope(w, http.StatusTooManyRequests, envelope{Message: "Too many requests"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

type tokenLimiter struct {
	mu        sync.Mutex
	clock     clock.Clock
	limit     rate.Limit
	burst     int
	idle      time.Duration
	lastSweep time.Time
	buckets   map[string]*bucket
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newTokenLimiter(perMinute, burst int, idle time.Duration, clk clock.Clock) *tokenLimiter {
	if perMinute <= 0 {
		perMinute = 60
	}
	if burst <= 0 {
		burst = 20
	}
	return &tokenLimiter{
		clock:     clk,
		limit:     rate.Limit(float64(perMinute) / 60.0),
		burst:     burst,
		idle:      idle,
		lastSweep: clk.Now(),
		buckets:   make(map[string]*bucket),
	}
}

func (l *tokenLimiter) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	if now.Sub(l.lastSweep) >= l.idle {
		l.sweep(now)
	}
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1)
}

// sweep drops buckets unused for the idle period. Caller holds mu.
func (l *tokenLimiter) sweep(now time.Time) {
	for key, b := range l.buckets {
		if now.Sub(b.lastSeen) >= l.idle {
			delete(l.buckets, key)
		}
	}
	l.lastSweep = now
}

func (l *tokenLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

func clientIP(r *http.Request, trustForwarded bool) string {
	if trustForwarded {
		if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
			parts := strings.Split(forwarded, ",")
			if ip := strings.TrimSpace(parts[len(parts)-1]); ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
