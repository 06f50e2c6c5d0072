package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// limiterIdleTTL is how long an unused limiter is kept. A limiter idle for
// longer than a full refill behaves like a new one, so dropping it is lossless.
const limiterIdleTTL = 10 * time.Minute

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type limiterPool struct {
	mu        sync.Mutex
	m         map[string]*limiterEntry
	every     rate.Limit
	burst     int
	lastPrune time.Time
	now       func() time.Time
}

func newLimiterPool(every rate.Limit, burst int) *limiterPool {
	return &limiterPool{
		m:     make(map[string]*limiterEntry),
		every: every,
		burst: burst,
		now:   time.Now,
	}
}

func (p *limiterPool) get(key string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	if now.Sub(p.lastPrune) >= limiterIdleTTL {
		p.prune(now)
	}
	if e, ok := p.m[key]; ok {
		e.lastSeen = now
		return e.limiter
	}
	l := rate.NewLimiter(p.every, p.burst)
	p.m[key] = &limiterEntry{limiter: l, lastSeen: now}
	return l
}

// prune drops limiters not used within limiterIdleTTL. Callers hold p.mu.
func (p *limiterPool) prune(now time.Time) {
	for key, e := range p.m {
		if now.Sub(e.lastSeen) >= limiterIdleTTL {
			delete(p.m, key)
		}
	}
	p.lastPrune = now
}

// RateLimit allows perMinute requests per user, bursting up to the same
// amount. Requests without a user fall back to the remote address.
func RateLimit(perMinute int) func(http.Handler) http.Handler {
	if perMinute <= 0 {
		perMinute = 20
	}
	pool := newLimiterPool(rate.Every(time.Minute/time.Duration(perMinute)), perMinute)
	retryAfter := strconv.Itoa(int((time.Minute / time.Duration(perMinute)).Seconds()) + 1)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key, ok := UserID(r.Context())
			if !ok {
				key = r.RemoteAddr
			}
			if !pool.get(key).Allow() {
				w.Header().Set("Retry-After", retryAfter)
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
