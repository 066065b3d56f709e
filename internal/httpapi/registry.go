package httpapi

import (
	"context"
	"sync"
)

// Registry tracks live caller connections so shutdown can close and drain
// them deliberately instead of relying on server teardown.
type Registry struct {
	mu    sync.Mutex
	conns map[*wsConn]struct{}
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[*wsConn]struct{})}
}

func (r *Registry) add(c *wsConn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[c] = struct{}{}
}

func (r *Registry) remove(c *wsConn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, c)
}

// Len reports the number of live connections.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// CloseAll shuts every live connection down and waits for their handlers to
// finish, or until ctx expires.
func (r *Registry) CloseAll(ctx context.Context) {
	r.mu.Lock()
	conns := make([]*wsConn, 0, len(r.conns))
	for c := range r.conns {
		conns = append(conns, c)
	}
	r.mu.Unlock()

	for _, c := range conns {
		c.shutdown()
	}
	for _, c := range conns {
		select {
		case <-c.done:
		case <-ctx.Done():
			return
		}
	}
}
