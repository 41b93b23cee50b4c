package httpmw

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/angeloszaimis/api-gateway/internal/httpjson"
)

// visitor tracks a single IP's limiter and last activity.
type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// IPLimiter is an in-memory token bucket per client IP. It is not shared
// between gateway instances.
type IPLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor

	perSecond  rate.Limit
	burst      int
	retryAfter int
	ttl        time.Duration

	// OnDenied is called on every rejected request.
	OnDenied func(ip string)
}

type LimiterOption func(*IPLimiter)

// WithOnDenied sets a callback for every denied request.
func WithOnDenied(fn func(ip string)) LimiterOption {
	return func(l *IPLimiter) {
		l.OnDenied = fn
	}
}

// NewIPLimiter allows max requests per window for each client, refilling
// continuously. Idle clients are evicted after a window of inactivity by a
// goroutine that stops with ctx.
func NewIPLimiter(ctx context.Context, window time.Duration, max int, opts ...LimiterOption) *IPLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}

	l := &IPLimiter{
		visitors:   make(map[string]*visitor),
		perSecond:  rate.Limit(float64(max) / window.Seconds()),
		burst:      max,
		retryAfter: int(math.Ceil(window.Seconds() / float64(max))),
		ttl:        window,
	}
	for _, o := range opts {
		o(l)
	}

	go l.cleanup(ctx)
	return l
}

func (l *IPLimiter) allow(ip string) bool {
	l.mu.Lock()
	v, exists := l.visitors[ip]
	if !exists {
		v = &visitor{limiter: rate.NewLimiter(l.perSecond, l.burst)}
		l.visitors[ip] = v
	}
	v.lastSeen = time.Now()
	allowed := v.limiter.Allow()
	l.mu.Unlock()

	if !allowed && l.OnDenied != nil {
		l.OnDenied(ip)
	}
	return allowed
}

// cleanup evicts visitors idle for longer than the TTL.
func (l *IPLimiter) cleanup(ctx context.Context) {
	ticker := time.NewTicker(l.ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			l.mu.Lock()
			for ip, v := range l.visitors {
				if now.Sub(v.lastSeen) > l.ttl {
					delete(l.visitors, ip)
				}
			}
			l.mu.Unlock()
		}
	}
}

// Middleware rejects requests over the per-IP limit with 429.
func (l *IPLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.allow(clientIP(r)) {
			w.Header().Set("Retry-After", strconv.Itoa(l.retryAfter))
			httpjson.Write(w, http.StatusTooManyRequests, httpjson.ErrorBody{
				Error:   "Too many requests",
				Message: "Rate limit exceeded. Please try again later.",
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}

// clientIP reads RemoteAddr, which RealIP rewrites only for trusted proxies.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
