package ingress

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	limiterEntryTTL      = 10 * time.Minute
	limiterPruneInterval = time.Minute
)

// RateLimiter hands out one token bucket per client address. The limit can
// be changed at runtime; existing buckets pick up the new values on their
// next request.
type RateLimiter struct {
	mu        sync.Mutex
	limit     rate.Limit
	burst     int
	disabled  bool
	clients   map[string]*limiterEntry
	lastPrune time.Time
	nowFn     func() time.Time
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewRateLimiter(rps float64, burst int) *RateLimiter {
	l := &RateLimiter{
		clients: make(map[string]*limiterEntry),
		nowFn:   time.Now,
	}
	l.SetLimit(rps, burst)
	return l
}

// SetLimit updates rate and burst for all current and future clients.
func (l *RateLimiter) SetLimit(rps float64, burst int) {
	if rps <= 0 {
		rps = 1
	}
	if burst <= 0 {
		burst = 1
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.limit = rate.Limit(rps)
	l.burst = burst
	now := l.nowFn()
	for _, e := range l.clients {
		e.limiter.SetLimitAt(now, l.limit)
		e.limiter.SetBurstAt(now, l.burst)
	}
}

// SetEnabled switches limiting on or off. Buckets survive a toggle.
func (l *RateLimiter) SetEnabled(on bool) {
	l.mu.Lock()
	l.disabled = !on
	l.mu.Unlock()
}

func (l *RateLimiter) Allow(client string) bool {
	if l == nil {
		return true
	}
	now := l.nowFn()

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.disabled {
		return true
	}

	if now.Sub(l.lastPrune) >= limiterPruneInterval {
		cutoff := now.Add(-limiterEntryTTL)
		for k, e := range l.clients {
			if e.lastSeen.Before(cutoff) {
				delete(l.clients, k)
			}
		}
		l.lastPrune = now
	}

	e, ok := l.clients[client]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[client] = e
	}
	e.lastSeen = now
	return e.limiter.AllowN(now, 1)
}

// Clients returns the number of tracked client buckets.
func (l *RateLimiter) Clients() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
