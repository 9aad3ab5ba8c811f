// Package ratelimit provides per-client token bucket rate limiting.
package ratelimit

import (
	"fmt"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
)

// Limiter keeps one token bucket per client key. The least recently seen
// clients are evicted once maxClients buckets exist.
type Limiter struct {
	rate  rate.Limit
	burst int

	mu      sync.Mutex
	clients *lru.Cache[string, *rate.Limiter]
}

// NewLimiter creates a limiter allowing rps requests per second per client
// with the given burst.
func NewLimiter(rps float64, burst, maxClients int) (*Limiter, error) {
	if rps <= 0 {
		return nil, fmt.Errorf("rate must be > 0")
	}
	if burst <= 0 {
		burst = 1
	}
	cache, err := lru.New[string, *rate.Limiter](max(maxClients, 1))
	if err != nil {
		return nil, fmt.Errorf("create client cache: %w", err)
	}
	return &Limiter{rate: rate.Limit(rps), burst: burst, clients: cache}, nil
}

// Allow consumes a token for key if one is available.
func (l *Limiter) Allow(key string) bool {
	return l.bucket(key).Allow()
}

func (l *Limiter) bucket(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok := l.clients.Get(key); ok {
		return b
	}
	b := rate.NewLimiter(l.rate, l.burst)
	l.clients.Add(key, b)
	return b
}

// Tokens returns the tokens currently available to key.
func (l *Limiter) Tokens(key string) float64 {
	return l.bucket(key).Tokens()
}

// Clients returns the number of tracked clients.
func (l *Limiter) Clients() int { return l.clients.Len() }

// Rate returns the token refill rate per second.
func (l *Limiter) Rate() float64 { return float64(l.rate) }

// Burst returns the maximum burst size.
func (l *Limiter) Burst() int { return l.burst }

// ClientKey identifies the caller of r by remote IP.
func ClientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// retryAfter is the number of whole seconds until one token refills.
func (l *Limiter) retryAfter() int {
	return max(int(math.Ceil(1/l.Rate())), 1)
}

// Middleware rejects requests over the limit with 429 and reports the
// caller's remaining budget in X-RateLimit headers.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := ClientKey(r)
		allowed := l.Allow(key)
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(l.Burst()))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(max(int(l.Tokens(key)), 0)))
		if !allowed {
			w.Header().Set("Retry-After", strconv.Itoa(l.retryAfter()))
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
