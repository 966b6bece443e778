package orchestrator

import "sync"

// flightGroup collapses concurrent work on the same cache key into a single
// execution. Followers block until the leader finishes and share its result.
type flightGroup struct {
	mu    sync.Mutex
	calls map[string]*flightCall
}

type flightCall struct {
	done chan struct{}
	path string
	size int64
	err  error
}

func newFlightGroup() *flightGroup {
	return &flightGroup{calls: make(map[string]*flightCall)}
}

// Do runs fn for key unless another call for the same key is already in
// flight, in which case it waits for that call and returns its result.
// cancel, when non-nil, lets a follower stop waiting early; it then returns
// errWait.
func (g *flightGroup) Do(key string, cancel <-chan struct{}, errWait error, fn func() (string, int64, error)) (path string, size int64, err error, shared bool) {
	g.mu.Lock()
	if c, ok := g.calls[key]; ok {
		g.mu.Unlock()
		select {
		case <-c.done:
			return c.path, c.size, c.err, true
		case <-cancel:
			return "", 0, errWait, true
		}
	}
	c := &flightCall{done: make(chan struct{})}
	g.calls[key] = c
	g.mu.Unlock()

	c.path, c.size, c.err = fn()

	g.mu.Lock()
	delete(g.calls, key)
	g.mu.Unlock()
	close(c.done)

	return c.path, c.size, c.err, false
}
