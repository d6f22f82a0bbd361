package kubeclient

import (
	"net/http"
	"sync"
)

// connection wraps a single dedicated *http.Client. Each one is backed by
// a Transport capped at a single connection per host, so that acquiring a
// connection from the Pool really does correspond to checking out one
// warm TCP/TLS connection to the apiserver, not just a shared handle into
// Go's default transport pooling.
type connection struct {
	client  *http.Client
	discard bool
}

// discardConn marks the connection as broken; Pool.Release will close
// it instead of returning it to the idle set. Any error during a
// request marks its connection discarded before the error is re-raised.
func (c *connection) discardConn() {
	c.discard = true
}

// Pool is an unbounded, lazy, non-reentrant connection pool. Acquire
// returns an idle connection if one exists or builds a new one via the
// factory; Release returns a healthy connection to the idle LIFO or
// closes a discarded one. A single connection must never be acquired by
// two concurrent callers — callers are expected to acquire once per
// in-flight request and release before making another.
type Pool struct {
	mu      sync.Mutex
	idle    []*connection
	factory func() (*connection, error)
}

func newPool(factory func() (*connection, error)) *Pool {
	return &Pool{factory: factory}
}

// acquire pops the most recently released connection (LIFO, for
// warmth) or builds a fresh one.
func (p *Pool) acquire() (*connection, error) {
	p.mu.Lock()
	n := len(p.idle)
	if n > 0 {
		c := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.mu.Unlock()
		return c, nil
	}
	p.mu.Unlock()
	return p.factory()
}

// release returns a healthy connection to the idle set, or closes a
// discarded/broken one and drops it.
func (p *Pool) release(c *connection) {
	if c == nil {
		return
	}
	if c.discard {
		c.client.CloseIdleConnections()
		return
	}
	p.mu.Lock()
	p.idle = append(p.idle, c)
	p.mu.Unlock()
}

// idleCount reports the number of idle connections, surfaced to callers
// through Client.IdleConnections for the operator's metrics endpoint.
func (p *Pool) idleCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle)
}
