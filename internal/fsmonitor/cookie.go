package fsmonitor

import "sync"

// CookieRegistry tracks the sync-cookie filenames the daemon has
// created inside the metadata directory and not yet seen come back
// through the kernel event stream.
//
// A cookie works as a barrier: the daemon registers a name, creates a
// file with that name, and waits. When the listener observes the
// cookie in the event stream, every event that preceded the cookie's
// creation has necessarily been delivered.
//
// The registry is safe for concurrent use by the query workers (which
// register and wait) and the listener (which observes).
type CookieRegistry struct {
	mu      sync.Mutex
	pending map[string]chan struct{}
}

// NewCookieRegistry returns an empty registry.
func NewCookieRegistry() *CookieRegistry {
	return &CookieRegistry{pending: make(map[string]chan struct{})}
}

// Register records an outstanding cookie name and returns a channel
// that is closed when the listener observes it. Registering a name
// that is already pending returns the existing channel.
func (r *CookieRegistry) Register(name string) <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ch, ok := r.pending[name]; ok {
		return ch
	}
	ch := make(chan struct{})
	r.pending[name] = ch
	return ch
}

// Observe reports a cookie filename seen in the event stream. It
// returns true (a hit) if the name was pending, waking the waiter,
// and false (a miss) for names the daemon is not waiting on, such as
// the deletion event of an already-consumed cookie.
func (r *CookieRegistry) Observe(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch, ok := r.pending[name]
	if !ok {
		return false
	}
	close(ch)
	delete(r.pending, name)
	return true
}

// Unregister forgets a cookie name. It is called by the waiter after
// the wait completes (or is abandoned) so that stale names do not
// accumulate. Unregistering a name that was already observed is a
// no-op.
func (r *CookieRegistry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pending, name)
}

// Pending returns the number of outstanding cookies.
func (r *CookieRegistry) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}
