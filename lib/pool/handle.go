package pool

import (
	"fmt"

	apperrors "github.com/go-i2p/sockpool/lib/errors"
)

// Handle is a caller's lease on one pooled socket.
//
// A Handle starts empty. Init either leases a socket immediately or leaves a
// request outstanding until the callback runs. Reset gives the socket back to
// the pool, or cancels the outstanding request, and leaves the handle empty
// and ready for another Init. Like the pool, a Handle is only used on the
// loop goroutine.
type Handle struct {
	pool      *Pool
	groupName string
	socket    Socket
	reused    bool
	requestID RequestID
	callback  CompletionCallback
}

// NewHandle creates an empty handle bound to p.
func NewHandle(p *Pool) *Handle {
	return &Handle{pool: p}
}

// Init requests a socket from groupName.
//
// It returns nil when a socket was leased synchronously, ErrIOPending when
// callback will receive the result, or the synchronous connect failure.
// Calling Init on a handle that holds a socket or has a request outstanding
// panics.
func (h *Handle) Init(groupName string, dest any, priority int, callback CompletionCallback) error {
	if h.socket != nil || h.requestID != 0 {
		panic(fmt.Errorf("init in group %q: %w", groupName, ErrHandleInUse))
	}
	if callback == nil {
		panic(fmt.Errorf("init in group %q: nil callback: %w", groupName, apperrors.ErrInvalidInput))
	}

	h.groupName = groupName
	h.callback = callback

	err := h.pool.RequestSocket(groupName, dest, priority, h, h.onRequestComplete)
	if err != nil && !IsPending(err) {
		h.clear()
	}
	return err
}

// onRequestComplete runs when a pending request finishes.
func (h *Handle) onRequestComplete(err error) {
	cb := h.callback
	if err != nil {
		h.clear()
	}
	if cb != nil {
		cb(err)
	}
}

// Reset releases the leased socket back to the pool or cancels the
// outstanding request. Calling Reset on an empty handle does nothing.
func (h *Handle) Reset() {
	switch {
	case h.socket != nil:
		s := h.socket
		h.socket = nil
		h.pool.ReleaseSocket(h.groupName, s)
	case h.requestID != 0:
		h.pool.CancelRequest(h.groupName, h)
	}
	h.clear()
}

func (h *Handle) clear() {
	h.groupName = ""
	h.socket = nil
	h.reused = false
	h.requestID = 0
	h.callback = nil
}

// IsInitialized reports whether the handle holds a socket.
func (h *Handle) IsInitialized() bool {
	return h.socket != nil
}

// Socket returns the leased socket, or nil.
func (h *Handle) Socket() Socket {
	return h.socket
}

// IsReused reports whether the leased socket came from the idle list.
func (h *Handle) IsReused() bool {
	return h.reused
}

// GroupName returns the group of the current lease or request.
func (h *Handle) GroupName() string {
	return h.groupName
}

// IsPending reports whether a request is outstanding.
func (h *Handle) IsPending() bool {
	return h.requestID != 0
}

// LoadState reports what the outstanding request is waiting on.
func (h *Handle) LoadState() LoadState {
	if h.requestID == 0 {
		return LoadStateIdle
	}
	return h.pool.LoadState(h.groupName, h)
}
