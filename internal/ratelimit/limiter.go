package ratelimit

import (
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ClientLimiter applies a per-client token bucket to the explorer's own
// API so a runaway frontend cannot hammer the upstream services through
// the proxy.
type ClientLimiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.Mutex
	rate     rate.Limit
	burst    int
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewClientLimiter creates a limiter allowing requestsPerSecond with
// the given burst per client address.
func NewClientLimiter(requestsPerSecond int, burst int) *ClientLimiter {
	return &ClientLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(requestsPerSecond),
		burst:    burst,
		stopChan: make(chan struct{}),
	}
}

// getLimiter returns the rate limiter for the given client key
func (cl *ClientLimiter) getLimiter(key string) *rate.Limiter {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	limiter, exists := cl.limiters[key]
	if !exists {
		limiter = rate.NewLimiter(cl.rate, cl.burst)
		cl.limiters[key] = limiter
	}

	return limiter
}

// Middleware returns the rate limiting middleware handler
func (cl *ClientLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := clientKey(r)

		if !cl.getLimiter(key).Allow() {
			log.Printf("[RateLimit] Client %s throttled on %s %s", key, r.Method, r.URL.Path)
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error": "too many requests"}`))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// clientKey extracts the client address without the ephemeral port
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Cleanup drops the limiter map when it grows past a sane bound so
// long-running servers do not accumulate one entry per address seen.
func (cl *ClientLimiter) Cleanup() {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	if len(cl.limiters) > 10000 {
		cl.limiters = make(map[string]*rate.Limiter)
	}
}

// StartCleanup starts a background goroutine to periodically clean up
// old limiters until Close.
func (cl *ClientLimiter) StartCleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				cl.Cleanup()
			case <-cl.stopChan:
				return
			}
		}
	}()
}

// Close stops the cleanup goroutine
func (cl *ClientLimiter) Close() {
	cl.stopOnce.Do(func() {
		close(cl.stopChan)
	})
}
