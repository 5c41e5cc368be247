package rpc

import (
	"net"
	"sync"
	"sync/atomic"
)

// DefaultMaxConnections bounds concurrent control connections.
const DefaultMaxConnections = 32

// ConnectionLimiter caps concurrent connections. Connections past the cap
// are closed as soon as they are accepted.
type ConnectionLimiter struct {
	max    atomic.Int32
	active atomic.Int32

	mu       sync.RWMutex
	onReject func(addr net.Addr)
}

// NewConnectionLimiter creates a limiter. max <= 0 selects
// DefaultMaxConnections.
func NewConnectionLimiter(max int) *ConnectionLimiter {
	cl := &ConnectionLimiter{}
	cl.SetMaxConnections(max)
	return cl
}

// SetOnReject sets a callback run for every rejected connection.
func (cl *ConnectionLimiter) SetOnReject(fn func(addr net.Addr)) {
	cl.mu.Lock()
	cl.onReject = fn
	cl.mu.Unlock()
}

// Acquire takes a slot. It returns false when none is free.
func (cl *ConnectionLimiter) Acquire() bool {
	for {
		n := cl.active.Load()
		if n >= cl.max.Load() {
			return false
		}
		if cl.active.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// Release frees a slot taken by Acquire.
func (cl *ConnectionLimiter) Release() {
	cl.active.Add(-1)
}

// TryAccept returns conn wrapped so that closing it frees its slot, or
// closes conn and returns nil when the limit is reached.
func (cl *ConnectionLimiter) TryAccept(conn net.Conn) net.Conn {
	if cl.Acquire() {
		return &limitedConn{Conn: conn, limiter: cl}
	}

	cl.mu.RLock()
	onReject := cl.onReject
	cl.mu.RUnlock()
	if onReject != nil {
		onReject(conn.RemoteAddr())
	}
	conn.Close()
	return nil
}

// ActiveConnections returns the number of held slots.
func (cl *ConnectionLimiter) ActiveConnections() int {
	return int(cl.active.Load())
}

// MaxConnections returns the limit.
func (cl *ConnectionLimiter) MaxConnections() int {
	return int(cl.max.Load())
}

// SetMaxConnections changes the limit. Connections already accepted are
// not affected.
func (cl *ConnectionLimiter) SetMaxConnections(max int) {
	if max <= 0 {
		max = DefaultMaxConnections
	}
	cl.max.Store(int32(max))
}

// limitedConn frees its limiter slot on the first Close.
type limitedConn struct {
	net.Conn
	limiter *ConnectionLimiter
	once    sync.Once
}

func (c *limitedConn) Close() error {
	c.once.Do(c.limiter.Release)
	return c.Conn.Close()
}
