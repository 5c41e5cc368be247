package core

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	apperrors "github.com/go-i2p/sockpool/lib/errors"
	"github.com/go-i2p/sockpool/lib/loop"
	"github.com/go-i2p/sockpool/lib/pool"
	"github.com/go-i2p/sockpool/lib/transport"
)

// Lease is a socket borrowed from the service's pool. The connection must
// not be used after Release.
type Lease struct {
	loop    *loop.Loop
	svcCtx  context.Context
	handle  *pool.Handle
	socket  pool.Socket
	group   string
	reused  bool
	latency time.Duration

	releaseOnce sync.Once
}

// Group returns the pool group the socket belongs to.
func (l *Lease) Group() string { return l.group }

// Reused reports whether the socket was taken from the idle list.
func (l *Lease) Reused() bool { return l.reused }

// Latency is the time from the request until the socket was handed out.
func (l *Lease) Latency() time.Duration { return l.latency }

// Socket returns the pooled socket.
func (l *Lease) Socket() pool.Socket { return l.socket }

// Conn returns the underlying connection, or nil if the socket does not
// wrap one.
func (l *Lease) Conn() net.Conn {
	if cs, ok := l.socket.(*transport.ConnSocket); ok {
		return cs.Conn()
	}
	return nil
}

// Release returns the socket to the pool. It waits until the pool has taken
// the socket back, so a following Lease on the same group can reuse it. If
// the service has stopped the socket is closed instead. Calling Release more
// than once does nothing.
func (l *Lease) Release() {
	l.releaseOnce.Do(func() {
		if err := l.loop.Do(l.svcCtx, l.handle.Reset); err != nil {
			l.socket.Disconnect()
		}
	})
}

// Lease borrows a socket for dest. It blocks until a socket is available,
// the connect attempt fails or ctx ends. When ctx ends first the request is
// cancelled in the pool.
func (s *Service) Lease(ctx context.Context, dest transport.Destination, priority int) (*Lease, error) {
	l, p, svcCtx, err := s.running()
	if err != nil {
		return nil, err
	}

	start := time.Now()
	group := dest.GroupName()
	h := pool.NewHandle(p)
	result := make(chan error, 1)

	initErr := do(ctx, svcCtx, l, func() {
		err := h.Init(group, dest, priority, func(err error) { result <- err })
		if !pool.IsPending(err) {
			result <- err
		}
	})
	if initErr != nil {
		// Init may still run; Reset is queued behind it.
		l.Post(h.Reset)
		return nil, initErr
	}

	select {
	case err = <-result:
	case <-ctx.Done():
		l.Post(h.Reset)
		return nil, ctx.Err()
	case <-svcCtx.Done():
		// Closing the pool fails the request; prefer that result if it is
		// already there.
		select {
		case err = <-result:
		default:
			return nil, fmt.Errorf("lease %s: %w", group, apperrors.ErrPoolClosed)
		}
	}
	if err != nil {
		s.logger.Debug("lease failed", "group", group, "error", err)
		return nil, err
	}

	lease := &Lease{
		loop:    l,
		svcCtx:  svcCtx,
		handle:  h,
		socket:  h.Socket(),
		group:   group,
		reused:  h.IsReused(),
		latency: time.Since(start),
	}
	s.logger.Debug("socket leased",
		"group", group,
		"reused", lease.reused,
		"latency", lease.latency,
	)
	return lease, nil
}

// LeaseGroup borrows a socket for the configured group called name.
func (s *Service) LeaseGroup(ctx context.Context, name string) (*Lease, error) {
	g, ok := s.Config().Group(name)
	if !ok {
		return nil, fmt.Errorf("group %q: %w", name, apperrors.ErrNotFound)
	}
	dest, err := g.Destination()
	if err != nil {
		return nil, fmt.Errorf("group %q: %w", name, err)
	}
	return s.Lease(ctx, dest, g.Priority)
}
