package httpx

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBucketsSweepRefilledEntries(t *testing.T) {
	cfg := RateLimitConfig{RequestsPerWindow: 5, Window: time.Minute, Burst: 5}
	b := &buckets{cfg: cfg, idle: cfg.refill(), entries: make(map[string]*bucket)}
	require.Equal(t, time.Minute, b.idle)

	start := time.Now()
	b.get("203.0.113.7", start)
	b.get("203.0.113.8", start)
	require.Equal(t, 2, b.size())

	// Touched again before the sweep, so it stays
	b.get("203.0.113.8", start.Add(50*time.Second))

	b.get("203.0.113.9", start.Add(90*time.Second))
	require.Equal(t, 2, b.size())
}

func TestRefillNeverBelowAMinute(t *testing.T) {
	require.Equal(t, time.Minute, RateLimitConfig{RequestsPerWindow: 100, Window: time.Second, Burst: 1}.refill())
	require.Equal(t, 10*time.Minute, RateLimitConfig{RequestsPerWindow: 1, Window: time.Minute, Burst: 10}.refill())
	require.Equal(t, time.Minute, RateLimitConfig{}.refill())
}
