// Package ratelimit provides the two limiters protecting the gateway:
// a sliding-window limiter keyed by API key prefix for authenticated
// traffic, and an httprate per-IP limiter for public surfaces.
package ratelimit

import (
	"hash/fnv"
	"sync"
	"time"
)

const shardCount = 16

// Limiter is a sliding-window rate limiter. Keys are sharded by hash so
// concurrent requests for unrelated keys do not contend on one mutex.
type Limiter struct {
	max    int
	window time.Duration
	shards [shardCount]*shard

	// now is swappable for tests.
	now func() time.Time
}

type shard struct {
	mu   sync.Mutex
	hits map[string][]time.Time
}

// NewLimiter creates a limiter allowing max requests per window per key.
func NewLimiter(max int, window time.Duration) *Limiter {
	l := &Limiter{
		max:    max,
		window: window,
		now:    time.Now,
	}
	for i := range l.shards {
		l.shards[i] = &shard{hits: make(map[string][]time.Time)}
	}
	return l
}

// Allow records a request for key and reports whether it is within the
// limit. Timestamps older than the window are pruned on every call, so
// idle keys cost nothing after one more request.
func (l *Limiter) Allow(key string) bool {
	s := l.shards[shardIndex(key)]
	now := l.now()
	cutoff := now.Add(-l.window)

	s.mu.Lock()
	defer s.mu.Unlock()

	hits := s.hits[key]
	kept := hits[:0]
	for _, t := range hits {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}

	if len(kept) >= l.max {
		s.hits[key] = kept
		return false
	}

	s.hits[key] = append(kept, now)
	return true
}

// Remaining reports how many requests the key has left in the current window.
func (l *Limiter) Remaining(key string) int {
	s := l.shards[shardIndex(key)]
	cutoff := l.now().Add(-l.window)

	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, t := range s.hits[key] {
		if t.After(cutoff) {
			count++
		}
	}
	if count >= l.max {
		return 0
	}
	return l.max - count
}

func shardIndex(key string) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % shardCount)
}
