// Package orchestrator coordinates the full lifecycle of a media request:
// cache lookup, rate limiting, download dispatch, post-processing, cache
// finalization, and progress fan-out.
package orchestrator

import (
	"fmt"
	"sync"
	"time"

	"mediacache/internal/download"
)

type State string

const (
	StateReceived    State = "received"
	StateProbing     State = "probing"
	StateDownloading State = "downloading"
	StateProcessing  State = "processing"
	StateCompleted   State = "completed"
	StateCached      State = "cached"
	StateCancelled   State = "cancelled"
	StateFailed      State = "failed"
)

// Terminal reports whether a request in this state will make no further
// transitions.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateCached, StateCancelled, StateFailed:
		return true
	}
	return false
}

type Request struct {
	ID        string           `json:"id"`
	Requester string           `json:"requester"`
	URL       string           `json:"url"`
	Profile   download.Profile `json:"profile"`
	State     State            `json:"state"`
	Progress  float64          `json:"progress"` // 0-100
	Error     string           `json:"error,omitempty"`

	// Optional metadata filled in after probing.
	Title       string `json:"title,omitempty"`
	DurationSec int64  `json:"duration,omitempty"`
	ItemCount   int    `json:"item_count,omitempty"` // >1 for playlists

	// Filled in on completion.
	CacheKey  string   `json:"cache_key,omitempty"`
	Paths     []string `json:"paths,omitempty"`
	SizeBytes int64    `json:"size_bytes,omitempty"`

	startedAt time.Time
	updatedAt time.Time
}

// Registry provides thread-safe storage of request records. It is a pure
// state container with no download logic.
type Registry struct {
	mu       sync.RWMutex
	requests map[string]*Request
}

func NewRegistry(capacity int) *Registry {
	if capacity <= 0 {
		capacity = 128
	}
	return &Registry{requests: make(map[string]*Request, capacity)}
}

// Create adds a new request record and returns it.
// Returns an error if a record with the given ID already exists.
func (r *Registry) Create(id, requester, url string, profile download.Profile) (*Request, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.requests[id]; exists {
		return nil, fmt.Errorf("request with id %s already exists", id)
	}
	req := &Request{
		ID:        id,
		Requester: requester,
		URL:       url,
		Profile:   profile,
		State:     StateReceived,
		startedAt: time.Now(),
		updatedAt: time.Now(),
	}
	r.requests[id] = req
	return req, nil
}

// Get retrieves a copy of a single request by ID, or nil if absent.
func (r *Registry) Get(id string) *Request {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if req, ok := r.requests[id]; ok {
		cp := *req
		return &cp
	}
	return nil
}

// Update atomically mutates a request via fn.
func (r *Registry) Update(id string, fn func(*Request)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, ok := r.requests[id]
	if !ok {
		return fmt.Errorf("request with id %s not found", id)
	}
	fn(req)
	req.updatedAt = time.Now()
	return nil
}

// Snapshot returns copies of all requests, or at most the one matching id
// when id is non-empty.
func (r *Registry) Snapshot(id string) []*Request {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if id != "" {
		if req, ok := r.requests[id]; ok {
			cp := *req
			return []*Request{&cp}
		}
		return []*Request{}
	}
	out := make([]*Request, 0, len(r.requests))
	for _, req := range r.requests {
		cp := *req
		out = append(out, &cp)
	}
	return out
}

// SetMeta fills in probed metadata. Empty or non-positive values leave the
// existing fields unchanged.
func (r *Registry) SetMeta(id, title string, duration int64, itemCount int) error {
	return r.Update(id, func(req *Request) {
		if title != "" {
			req.Title = title
		}
		if duration > 0 {
			req.DurationSec = duration
		}
		if itemCount > 0 {
			req.ItemCount = itemCount
		}
	})
}

// SetProgress updates percentage progress, never decreasing it. Returns the
// previous and new values.
func (r *Registry) SetProgress(id string, progress float64) (float64, float64, error) {
	var prev, cur float64
	err := r.Update(id, func(req *Request) {
		prev = req.Progress
		if progress > req.Progress {
			req.Progress = progress
		}
		cur = req.Progress
	})
	return prev, cur, err
}

// SetState transitions a request and records an optional error message.
// Transitions out of a terminal state are ignored so a late failure cannot
// overwrite a cancellation.
func (r *Registry) SetState(id string, state State, errMsg string) error {
	return r.Update(id, func(req *Request) {
		if req.State.Terminal() {
			return
		}
		req.State = state
		req.Error = errMsg
	})
}

// SetResult records the delivered artifact(s) for a completed request.
func (r *Registry) SetResult(id, cacheKey string, paths []string, sizeBytes int64) error {
	return r.Update(id, func(req *Request) {
		req.CacheKey = cacheKey
		req.Paths = paths
		req.SizeBytes = sizeBytes
	})
}

// Delete removes a request record. Returns true if it existed.
func (r *Registry) Delete(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.requests[id]; ok {
		delete(r.requests, id)
		return true
	}
	return false
}

// Size returns the number of tracked requests.
func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.requests)
}
