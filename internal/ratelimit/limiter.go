// Package ratelimit implements the per-requester cooldown gate: a request
// passes only when enough time has elapsed since that requester's previous
// accepted request.
package ratelimit

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// defaultCapacity bounds how many requester records are kept; the least
// recently seen requester is dropped first, which for a cooldown gate only
// ever errs on the permissive side.
const defaultCapacity = 4096

// Limiter tracks the last accepted request time per requester identity.
// State is in-memory only and resets on restart.
type Limiter struct {
	mu   sync.Mutex
	last *lru.Cache[string, time.Time]

	// now is injectable for tests.
	now func() time.Time
}

// New creates a Limiter with the given record capacity; capacity <= 0 uses
// the default.
func New(capacity int) *Limiter {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	cache, err := lru.New[string, time.Time](capacity)
	if err != nil {
		// lru.New only fails for non-positive sizes, excluded above.
		panic(err)
	}
	return &Limiter{last: cache, now: time.Now}
}

// Allow reports whether the requester may proceed and, if so, records the
// request time. Check and set happen under one lock so concurrent calls for
// the same requester cannot both pass inside one cooldown window. A
// cooldown of zero always allows.
func (l *Limiter) Allow(requesterID string, cooldown time.Duration) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if cooldown > 0 {
		if prev, ok := l.last.Get(requesterID); ok && now.Sub(prev) < cooldown {
			return false
		}
	}
	l.last.Add(requesterID, now)
	return true
}

// Len returns the number of tracked requesters.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.last.Len()
}
