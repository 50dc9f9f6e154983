package ratelimit

import (
	"testing"
	"time"

	"github.com/alecthomas/assert/v2"
	"golang.org/x/time/rate"
)

func TestAllowIsIndependentPerKey(t *testing.T) {
	k := New(rate.Limit(1), 1, time.Minute)

	assert.True(t, k.Allow("image-a"))
	assert.False(t, k.Allow("image-a"))
	assert.True(t, k.Allow("image-b"))
}

func TestEvictDropsExpiredBuckets(t *testing.T) {
	k := New(rate.Limit(1), 1, -time.Second)
	k.Allow("stale")
	k.Evict()

	k.mu.Lock()
	_, present := k.buckets["stale"]
	k.mu.Unlock()
	assert.False(t, present)
}
