package httpx

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aussiebroadwan/authgate/pkg/slogx"
	"golang.org/x/time/rate"
)

// RateLimitConfig is one token bucket: RequestsPerWindow refill over
// Window, up to Burst at once.
type RateLimitConfig struct {
	RequestsPerWindow int
	Window            time.Duration
	Burst             int
}

// Rate limit profiles. app.Config can override each field through
// RATELIMIT_{STRICT,MODERATE,LENIENT}_{REQUESTS,WINDOW_SEC,BURST}.
var (
	// StrictLimit guards login and registration against password guessing.
	StrictLimit = RateLimitConfig{RequestsPerWindow: 5, Window: time.Minute, Burst: 5}

	// ModerateLimit is for calls that make the provider send email.
	ModerateLimit = RateLimitConfig{RequestsPerWindow: 20, Window: time.Minute, Burst: 20}

	// LenientLimit is for authenticated reads and health checks.
	LenientLimit = RateLimitConfig{RequestsPerWindow: 100, Window: time.Minute, Burst: 100}
)

// Override returns c with every positive argument applied. windowSec is in
// seconds.
func (c RateLimitConfig) Override(requests, windowSec, burst int) RateLimitConfig {
	if requests > 0 {
		c.RequestsPerWindow = requests
	}
	if windowSec > 0 {
		c.Window = time.Duration(windowSec) * time.Second
	}
	if burst > 0 {
		c.Burst = burst
	}
	return c
}

func (c RateLimitConfig) limit() rate.Limit {
	if c.Window <= 0 {
		return rate.Inf
	}
	return rate.Limit(float64(c.RequestsPerWindow) / c.Window.Seconds())
}

// refill is how long an untouched bucket takes to fill up again. After
// that it is indistinguishable from a new one and can be dropped.
func (c RateLimitConfig) refill() time.Duration {
	l := c.limit()
	if l == rate.Inf || l <= 0 {
		return time.Minute
	}
	return max(time.Duration(float64(c.Burst)/float64(l)*float64(time.Second)), time.Minute)
}

// RateLimiter builds the per-route limit middleware. Every middleware it
// returns has its own buckets, and every key starts with the client
// address from ClientIP.
type RateLimiter struct {
	ips *ClientIP
}

// NewRateLimiter limits by the addresses ips resolves. nil trusts no proxy.
func NewRateLimiter(ips *ClientIP) *RateLimiter {
	return &RateLimiter{ips: ips}
}

// ByIP gives every client address its own budget.
func (l *RateLimiter) ByIP(cfg RateLimitConfig) Middleware {
	return l.limit(cfg, l.ips.Of)
}

// ByIPAndQuery budgets each (client address, query parameter) pair, so one
// address can't exhaust another username's allowance and a single username
// can't be hammered from one place.
func (l *RateLimiter) ByIPAndQuery(cfg RateLimitConfig, param string) Middleware {
	return l.limit(cfg, func(r *http.Request) string {
		key := l.ips.Of(r)
		if v := r.URL.Query().Get(param); v != "" {
			key += "|" + strings.ToLower(v)
		}
		return key
	})
}

// ByPrincipal budgets each authenticated caller per address. It must run
// after AuthnMiddleware; anonymous requests fall back to the address.
func (l *RateLimiter) ByPrincipal(cfg RateLimitConfig) Middleware {
	return l.limit(cfg, func(r *http.Request) string {
		key := l.ips.Of(r)
		if p := PrincipalFromContext(r.Context()); p != "" {
			key += "|" + p
		}
		return key
	})
}

func (l *RateLimiter) limit(cfg RateLimitConfig, keyOf func(*http.Request) string) Middleware {
	b := &buckets{cfg: cfg, idle: cfg.refill(), entries: make(map[string]*bucket)}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			now := time.Now()
			key := keyOf(r)
			lim := b.get(key, now)

			if lim.AllowN(now, 1) {
				next.ServeHTTP(w, r)
				return
			}

			// Peek at when the next token lands without spending it
			res := lim.ReserveN(now, 1)
			delay := res.DelayFrom(now)
			res.CancelAt(now)
			retryAfter := max(int(math.Ceil(delay.Seconds())), 1)

			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(cfg.RequestsPerWindow))
			w.Header().Set("X-RateLimit-Window", cfg.Window.String())

			slogx.FromContext(r.Context()).Warn("rate limit exceeded",
				"key", key,
				"route", r.Pattern,
				"retry_after", retryAfter,
			)

			WriteError(w, http.StatusTooManyRequests, "rate_limit_exceeded",
				"Too many requests. Please try again later.")
		})
	}
}

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

// buckets is the per-key limiter table of one route. Entries untouched for
// longer than a full refill are swept on access.
type buckets struct {
	cfg  RateLimitConfig
	idle time.Duration

	mu      sync.Mutex
	entries map[string]*bucket
	swept   time.Time
}

func (b *buckets) get(key string, now time.Time) *rate.Limiter {
	b.mu.Lock()
	defer b.mu.Unlock()

	if now.Sub(b.swept) > b.idle {
		for k, e := range b.entries {
			if now.Sub(e.seen) > b.idle {
				delete(b.entries, k)
			}
		}
		b.swept = now
	}

	e, ok := b.entries[key]
	if !ok {
		e = &bucket{lim: rate.NewLimiter(b.cfg.limit(), b.cfg.Burst)}
		b.entries[key] = e
	}
	e.seen = now
	return e.lim
}

// size is the number of live buckets.
func (b *buckets) size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}
