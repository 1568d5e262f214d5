package ingest

import (
	"sync"
	"time"
)

// maxTrackedKeys caps the number of tracked senders to prevent memory
// exhaustion from attackers rotating sender IDs.
const maxTrackedKeys = 4096

const rateLimitWindow = 60 * time.Second

type rateLimitEntry struct {
	windowStart time.Time
	count       int
}

// SenderRateLimiter is a bounded sliding-window limiter keyed by sender ID.
// Safe for concurrent use.
type SenderRateLimiter struct {
	mu      sync.Mutex
	maxHits int
	entries map[string]*rateLimitEntry
}

func NewSenderRateLimiter(maxHitsPerMinute int) *SenderRateLimiter {
	if maxHitsPerMinute <= 0 {
		maxHitsPerMinute = 30
	}
	return &SenderRateLimiter{
		maxHits: maxHitsPerMinute,
		entries: make(map[string]*rateLimitEntry),
	}
}

// Allow returns true if the key is within its rate limit. Stale entries are
// pruned when the tracked-key cap is reached, with hard eviction as a
// fallback.
func (r *SenderRateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()

	if len(r.entries) >= maxTrackedKeys {
		for k, e := range r.entries {
			if now.Sub(e.windowStart) >= rateLimitWindow {
				delete(r.entries, k)
			}
		}
		for len(r.entries) >= maxTrackedKeys {
			for k := range r.entries {
				delete(r.entries, k)
				break
			}
		}
	}

	e, ok := r.entries[key]
	if !ok || now.Sub(e.windowStart) >= rateLimitWindow {
		r.entries[key] = &rateLimitEntry{windowStart: now, count: 1}
		return true
	}

	e.count++
	return e.count <= r.maxHits
}
