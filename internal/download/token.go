package download

import "sync"

// CancelToken is a one-way cancellation flag shared between the requester
// side, which may set it once, and the worker, which polls it at every
// progress chunk. Set is idempotent; the flag never clears within a
// request's lifetime.
type CancelToken struct {
	once sync.Once
	done chan struct{}
}

// NewCancelToken returns an unset token.
func NewCancelToken() *CancelToken {
	return &CancelToken{done: make(chan struct{})}
}

// Set flips the token. Safe to call any number of times from any goroutine.
func (t *CancelToken) Set() {
	t.once.Do(func() { close(t.done) })
}

// IsSet is a non-blocking poll of the flag.
func (t *CancelToken) IsSet() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Done exposes the flag as a channel for select-based waiters.
func (t *CancelToken) Done() <-chan struct{} {
	return t.done
}
