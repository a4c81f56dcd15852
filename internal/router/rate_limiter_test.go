package router

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiterAllowsUpToLimit(t *testing.T) {
	rl := NewRateLimiter()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	for i := 0; i < chatRateLimit; i++ {
		assert.True(t, rl.Allow("arun"), "message %d should be allowed", i+1)
	}
	assert.False(t, rl.Allow("arun"))
}

func TestRateLimiterWindowResets(t *testing.T) {
	rl := NewRateLimiter()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	for i := 0; i < chatRateLimit; i++ {
		rl.Allow("arun")
	}
	assert.False(t, rl.Allow("arun"))

	now = now.Add(time.Minute)
	assert.True(t, rl.Allow("arun"))
}

func TestRateLimiterTracksUsersIndependently(t *testing.T) {
	rl := NewRateLimiter()

	for i := 0; i < chatRateLimit; i++ {
		rl.Allow("arun")
	}
	assert.False(t, rl.Allow("arun"))
	assert.True(t, rl.Allow("priya"))
}

func TestRateLimiterCleanupDropsIdleUsers(t *testing.T) {
	rl := NewRateLimiter()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	rl.Allow("arun")
	rl.Allow("priya")

	now = now.Add(6 * time.Minute)
	rl.Cleanup()

	assert.Empty(t, rl.clients)
}
