package router

import (
	"sync"
	"time"
)

// chatRateLimit caps in-session chat per user per minute. Two people in
// a focus session have no honest reason to exceed it.
const chatRateLimit = 30

// RateLimiter tracks per-user chat volume over a one-minute window.
type RateLimiter struct {
	mu      sync.Mutex
	clients map[string]*clientLimit
	now     func() time.Time
}

type clientLimit struct {
	messageCount int
	windowStart  time.Time
}

func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		clients: make(map[string]*clientLimit),
		now:     time.Now,
	}
}

// Allow reports whether userID may send another message now.
func (rl *RateLimiter) Allow(userID string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()

	limit, ok := rl.clients[userID]
	if !ok {
		rl.clients[userID] = &clientLimit{messageCount: 1, windowStart: now}
		return true
	}

	if now.Sub(limit.windowStart) >= time.Minute {
		limit.messageCount = 1
		limit.windowStart = now
		return true
	}

	if limit.messageCount >= chatRateLimit {
		return false
	}
	limit.messageCount++
	return true
}

// Cleanup drops users idle for several windows. Call it periodically.
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for userID, limit := range rl.clients {
		if now.Sub(limit.windowStart) > 5*time.Minute {
			delete(rl.clients, userID)
		}
	}
}
