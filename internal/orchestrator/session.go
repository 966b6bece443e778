package orchestrator

import (
	"sync"

	"mediacache/internal/download"
)

// sessionSet tracks which requesters currently hold an active request slot.
// One slot per requester: a second submission while the first is in flight
// is rejected, and Cancel resolves a requester to their live token.
type sessionSet struct {
	mu     sync.Mutex
	active map[string]*download.CancelToken
}

func newSessionSet() *sessionSet {
	return &sessionSet{active: make(map[string]*download.CancelToken)}
}

// Acquire claims the requester's slot. Returns the new token and true, or
// nil and false when the requester already has a request in flight.
func (s *sessionSet) Acquire(requester string) (*download.CancelToken, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, busy := s.active[requester]; busy {
		return nil, false
	}
	tok := download.NewCancelToken()
	s.active[requester] = tok
	return tok, true
}

// Release frees the requester's slot. A no-op when no slot is held.
func (s *sessionSet) Release(requester string) {
	s.mu.Lock()
	delete(s.active, requester)
	s.mu.Unlock()
}

// Cancel sets the cancellation token for the requester's active request.
// Returns false when the requester has nothing in flight. The slot itself
// is released by the worker once the request unwinds.
func (s *sessionSet) Cancel(requester string) bool {
	s.mu.Lock()
	tok, ok := s.active[requester]
	s.mu.Unlock()

	if !ok {
		return false
	}
	tok.Set()
	return true
}

// Len returns the number of active slots.
func (s *sessionSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}
