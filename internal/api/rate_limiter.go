package api

import (
	"sync"
	"time"

	"github.com/juju/clock"
)

// RateLimiter implements per-client rate limiting
// ARCHITECTURAL DISCOVERY: Per-client state tracking with proper cleanup prevents memory leaks
type RateLimiter struct {
	mu      sync.Mutex
	clock   clock.Clock
	limit   int
	window  time.Duration
	clients map[string]*clientLimit
}

// clientLimit tracks attempts for a single client address
type clientLimit struct {
	count       int
	windowStart time.Time
}

// NewRateLimiter allows limit attempts per client per minute
func NewRateLimiter(clk clock.Clock, limit int) *RateLimiter {
	if limit <= 0 {
		limit = 20
	}
	return &RateLimiter{
		clock:   clk,
		limit:   limit,
		window:  time.Minute,
		clients: make(map[string]*clientLimit),
	}
}

// Allow records an attempt from key and reports whether it is within the limit
// TECHNICAL DISCOVERY: fixed window that restarts on the first attempt after it lapses
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.clock.Now()

	limit, exists := rl.clients[key]
	if !exists || now.Sub(limit.windowStart) >= rl.window {
		rl.clients[key] = &clientLimit{count: 1, windowStart: now}
		return true
	}

	if limit.count >= rl.limit {
		return false
	}
	limit.count++
	return true
}

// Cleanup removes client entries idle for five windows
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.clock.Now()
	for key, limit := range rl.clients {
		if now.Sub(limit.windowStart) > 5*rl.window {
			delete(rl.clients, key)
		}
	}
}

// Size returns the number of tracked clients
func (rl *RateLimiter) Size() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}
