package api

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	clientLimiterTTL             = 10 * time.Minute
	clientLimiterCleanupInterval = time.Minute
	clientLimiterMaxBuckets      = 10000
)

// clientRateLimiter keeps one token bucket per client address for the
// producer endpoints.
type clientRateLimiter struct {
	mu          sync.Mutex
	rps         rate.Limit
	burst       int
	ttl         time.Duration
	clients     map[string]*rate.Limiter
	lastSeen    map[string]time.Time
	lastCleanup time.Time
	keyFor      func(*http.Request) string
	now         func() time.Time
}

func newClientRateLimiter(requestsPerSec float64, burst int, keyFor func(*http.Request) string) *clientRateLimiter {
	if requestsPerSec <= 0 || burst <= 0 {
		return nil
	}
	return &clientRateLimiter{
		rps:      rate.Limit(requestsPerSec),
		burst:    burst,
		ttl:      clientLimiterTTL,
		clients:  make(map[string]*rate.Limiter),
		lastSeen: make(map[string]time.Time),
		keyFor:   keyFor,
		now:      time.Now,
	}
}

func (l *clientRateLimiter) Limit(next http.HandlerFunc) http.HandlerFunc {
	if l == nil {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if !l.allow(l.keyFor(r)) {
			writeJSON(w, http.StatusTooManyRequests, map[string]string{"detail": "rate limit exceeded"})
			return
		}
		next.ServeHTTP(w, r)
	}
}

func (l *clientRateLimiter) allow(clientID string) bool {
	if clientID == "" {
		clientID = "unknown"
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastCleanup) >= clientLimiterCleanupInterval || len(l.clients) >= clientLimiterMaxBuckets {
		l.cleanup(now)
		l.lastCleanup = now
	}
	limiter, exists := l.clients[clientID]
	if !exists {
		limiter = rate.NewLimiter(l.rps, l.burst)
		l.clients[clientID] = limiter
	}
	l.lastSeen[clientID] = now
	return limiter.AllowN(now, 1)
}

func (l *clientRateLimiter) cleanup(now time.Time) {
	for key, seenAt := range l.lastSeen {
		if now.Sub(seenAt) > l.ttl {
			delete(l.lastSeen, key)
			delete(l.clients, key)
		}
	}
}

func (l *clientRateLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}
