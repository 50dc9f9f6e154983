// Package ratelimit provides a rate limiter keyed by an arbitrary string,
// used to throttle resource creation per distinct backend target (image
// name, namespace, container name) so a burst of acquisitions against one
// image does not starve creation against another sharing the same
// Engine's rate budget.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type bucket struct {
	limiter *rate.Limiter
	expires time.Time
}

// Keyed is a map of independent rate.Limiters, one per key, each created
// lazily on first use and evicted once idle for longer than life.
type Keyed struct {
	r    rate.Limit
	b    int
	life time.Duration

	mu      sync.Mutex
	buckets map[string]*bucket
}

// New builds a Keyed limiter where each key gets its own rate.Limit/burst,
// and an idle key's bucket is dropped after life without use.
func New(r rate.Limit, b int, life time.Duration) *Keyed {
	return &Keyed{
		r:       r,
		b:       b,
		life:    life,
		buckets: make(map[string]*bucket),
	}
}

func (k *Keyed) ensure(key string) *bucket {
	k.mu.Lock()
	defer k.mu.Unlock()

	bk := k.buckets[key]
	if bk == nil {
		bk = &bucket{limiter: rate.NewLimiter(k.r, k.b)}
		k.buckets[key] = bk
	}
	bk.expires = time.Now().Add(k.life)
	return bk
}

// Allow reports whether a creation attempt tagged key may proceed right
// now, matching golang.org/x/time/rate.Limiter.Allow's non-blocking style.
func (k *Keyed) Allow(key string) bool {
	return k.ensure(key).limiter.Allow()
}

// Evict drops buckets idle past their life. Callers with a long-lived
// Keyed should call this periodically rather than on every Allow.
func (k *Keyed) Evict() {
	k.mu.Lock()
	defer k.mu.Unlock()

	now := time.Now()
	for key, bk := range k.buckets {
		if bk.expires.Before(now) {
			delete(k.buckets, key)
		}
	}
}
