// Package ratelimit bounds inbound message rates using token buckets.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter is a per-connection token bucket.
type Limiter struct {
	l *rate.Limiter
}

// New returns a limiter allowing rps messages per second with the given
// burst.
func New(rps float64, burst int) *Limiter {
	return &Limiter{l: rate.NewLimiter(rate.Limit(rps), burst)}
}

// Allow reports whether one more message may be processed now.
func (l *Limiter) Allow() bool {
	return l.l.Allow()
}

// PerKey hands out one limiter per key (typically a client IP) and
// forgets idle keys.
type PerKey struct {
	mu      sync.Mutex
	entries map[string]*perKeyEntry
	rps     float64
	burst   int

	stop chan struct{}
	once sync.Once
}

type perKeyEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewPerKey returns a keyed limiter set with a background cleanup loop.
func NewPerKey(rps float64, burst int) *PerKey {
	pk := &PerKey{
		entries: make(map[string]*perKeyEntry),
		rps:     rps,
		burst:   burst,
		stop:    make(chan struct{}),
	}
	go pk.cleanup()
	return pk
}

// Allow reports whether key may proceed now.
func (pk *PerKey) Allow(key string) bool {
	pk.mu.Lock()
	entry, ok := pk.entries[key]
	if !ok {
		entry = &perKeyEntry{limiter: rate.NewLimiter(rate.Limit(pk.rps), pk.burst)}
		pk.entries[key] = entry
	}
	entry.lastSeen = time.Now()
	pk.mu.Unlock()

	return entry.limiter.Allow()
}

// Stop terminates the cleanup loop.
func (pk *PerKey) Stop() {
	pk.once.Do(func() { close(pk.stop) })
}

func (pk *PerKey) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-pk.stop:
			return
		case <-ticker.C:
			pk.mu.Lock()
			cutoff := time.Now().Add(-10 * time.Minute)
			for key, entry := range pk.entries {
				if entry.lastSeen.Before(cutoff) {
					delete(pk.entries, key)
				}
			}
			pk.mu.Unlock()
		}
	}
}
