package pool

import (
	"time"
)

// RequestID identifies one outstanding socket request. IDs are allocated by
// the Pool and never reused, so a stale ID can never match a newer request.
type RequestID uint64

// Request is a caller's demand for a socket in a group.
type Request struct {
	id        RequestID
	handle    *Handle
	priority  int
	callback  CompletionCallback
	dest      any
	createdAt time.Time
}

// NewRequest creates a request that belongs to no pool. It lets connect job
// factories be exercised on their own.
func NewRequest(id RequestID, priority int, dest any) *Request {
	return &Request{id: id, priority: priority, dest: dest, createdAt: time.Now()}
}

// ID returns the pool-assigned request identifier.
func (r *Request) ID() RequestID { return r.id }

// Priority returns the request priority. Higher values are served first.
func (r *Request) Priority() int { return r.priority }

// Destination returns the opaque destination info supplied to Init.
func (r *Request) Destination() any { return r.dest }

// CreatedAt returns when the request was made.
func (r *Request) CreatedAt() time.Time { return r.createdAt }

// idleSocket is a returned socket waiting to be reused.
type idleSocket struct {
	socket    Socket
	idleSince time.Time
}

// shouldCleanup reports whether the idle socket has expired or died.
func (s idleSocket) shouldCleanup(now time.Time, timeout time.Duration) bool {
	return now.Sub(s.idleSince) >= timeout || !s.socket.IsConnectedAndIdle()
}

// group is the per-destination state. It only lives in Pool.groups while at
// least one of its collections is non-empty or it has active sockets.
type group struct {
	idle              []idleSocket // back is most recently idled
	pending           []*Request   // priority order, FIFO among equals
	connecting        map[RequestID]*Request
	activeSocketCount int
}

func newGroup() *group {
	return &group{
		connecting: make(map[RequestID]*Request),
	}
}

func (g *group) isEmpty() bool {
	return g.activeSocketCount == 0 &&
		len(g.idle) == 0 &&
		len(g.pending) == 0 &&
		len(g.connecting) == 0
}

// hasAvailableSlot reports whether another socket may be connected or handed out.
func (g *group) hasAvailableSlot(maxSockets int) bool {
	return g.activeSocketCount+len(g.connecting) < maxSockets
}

// insertPending queues r after every request of equal or higher priority.
func (g *group) insertPending(r *Request) {
	i := 0
	for i < len(g.pending) && g.pending[i].priority >= r.priority {
		i++
	}
	g.pending = append(g.pending, nil)
	copy(g.pending[i+1:], g.pending[i:])
	g.pending[i] = r
}

// popPending removes and returns the highest priority request.
func (g *group) popPending() *Request {
	if len(g.pending) == 0 {
		return nil
	}
	r := g.pending[0]
	g.pending[0] = nil
	g.pending = g.pending[1:]
	return r
}

// removePending removes the queued request with the given id.
func (g *group) removePending(id RequestID) (*Request, bool) {
	for i, r := range g.pending {
		if r.id == id {
			copy(g.pending[i:], g.pending[i+1:])
			g.pending[len(g.pending)-1] = nil
			g.pending = g.pending[:len(g.pending)-1]
			return r, true
		}
	}
	return nil, false
}

// hasPending reports whether id is queued.
func (g *group) hasPending(id RequestID) bool {
	for _, r := range g.pending {
		if r.id == id {
			return true
		}
	}
	return false
}

// popIdle removes the most recently idled socket.
func (g *group) popIdle() (idleSocket, bool) {
	if len(g.idle) == 0 {
		return idleSocket{}, false
	}
	last := len(g.idle) - 1
	s := g.idle[last]
	g.idle[last] = idleSocket{}
	g.idle = g.idle[:last]
	return s, true
}
