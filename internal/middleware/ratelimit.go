package middleware

import (
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/coderscreen/coderunner/internal/metrics"
)

// RateLimiter applies a global token bucket and one bucket per client IP.
//
// Every execution occupies a sandbox for up to the exec timeout, so a single
// client hammering the execute endpoint can starve every other room. The
// per-IP bucket stops that; the global bucket caps total load on the Docker
// daemon.
type RateLimiter struct {
	global  *rate.Limiter
	ipRate  rate.Limit
	ipBurst int

	mu      sync.Mutex
	clients map[string]*client

	stop     chan struct{}
	stopOnce sync.Once
}

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a limiter. A non-positive rate disables that bucket.
func NewRateLimiter(globalRPS, perIPRPS float64, burst int) *RateLimiter {
	burst = max(1, burst)
	rl := &RateLimiter{
		global:  rate.NewLimiter(limitOf(globalRPS), max(burst, int(globalRPS)*2)),
		ipRate:  limitOf(perIPRPS),
		ipBurst: burst,
		clients: make(map[string]*client),
		stop:    make(chan struct{}),
	}
	return rl
}

func limitOf(rps float64) rate.Limit {
	if rps <= 0 {
		return rate.Inf
	}
	return rate.Limit(rps)
}

// Allow reports whether a request from ip may proceed now.
//
// The per-IP bucket is checked first: a request its own client's bucket
// rejects must not spend a global token, or one client could drain the
// global budget for everyone.
func (rl *RateLimiter) Allow(ip string) bool {
	if !rl.limiterFor(ip).Allow() {
		metrics.RateLimitHits.Inc()
		return false
	}
	if !rl.global.Allow() {
		metrics.RateLimitHits.Inc()
		return false
	}
	return true
}

func (rl *RateLimiter) limiterFor(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	c, ok := rl.clients[ip]
	if !ok {
		c = &client{limiter: rate.NewLimiter(rl.ipRate, rl.ipBurst)}
		rl.clients[ip] = c
	}
	c.lastSeen = time.Now()
	return c.limiter
}

// Middleware rejects requests over the limit with 429.
//
// The client address is taken from RemoteAddr, which chi's RealIP middleware
// has already rewritten from X-Forwarded-For / X-Real-IP when present.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(clientIP(r)) {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			json.NewEncoder(w).Encode(map[string]string{
				"error":   "rate_limited",
				"message": "too many requests, slow down",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// StartCleanup forgets clients idle for longer than maxIdle, checking every
// interval, until Stop is called.
func (rl *RateLimiter) StartCleanup(interval, maxIdle time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-rl.stop:
				return
			case <-ticker.C:
				rl.evictIdle(maxIdle)
			}
		}
	}()
}

func (rl *RateLimiter) evictIdle(maxIdle time.Duration) {
	cutoff := time.Now().Add(-maxIdle)
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for ip, c := range rl.clients {
		if c.lastSeen.Before(cutoff) {
			delete(rl.clients, ip)
		}
	}
}

// Stop ends the cleanup goroutine. Safe to call more than once.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

func (rl *RateLimiter) clientCount() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}
