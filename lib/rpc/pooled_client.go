package rpc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	apperrors "github.com/go-i2p/sockpool/lib/errors"
	"github.com/go-i2p/sockpool/lib/loop"
	"github.com/go-i2p/sockpool/lib/pool"
	"github.com/go-i2p/sockpool/lib/transport"
)

// DefaultPooledConnections bounds the connections a PooledClient opens.
const DefaultPooledConnections = 4

// controlGroup is the pool group every PooledClient connection belongs to.
const controlGroup = "control"

// PooledClient is a control client that is safe for concurrent use. Each
// call leases a connection from its own socket pool, so concurrent calls run
// on separate connections and finished connections are reused. A reused
// connection has already authenticated.
type PooledClient struct {
	API

	loop      *loop.Loop
	pool      *pool.Pool
	factory   *transport.DialJobFactory
	dest      transport.Destination
	authToken []byte
	timeout   time.Duration
	requestID atomic.Int64

	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// NewPooledClient creates a client that opens at most maxConns connections.
// No connection is opened until the first call.
func NewPooledClient(cfg ClientConfig, maxConns int) (*PooledClient, error) {
	token, err := loadAuthToken(cfg)
	if err != nil {
		return nil, err
	}

	var dest transport.Destination
	switch {
	case cfg.UnixSocketPath != "":
		dest = transport.Destination{Kind: transport.KindTCP, Network: "unix", Address: cfg.UnixSocketPath}
	case cfg.TCPAddress != "":
		dest = transport.Destination{Kind: transport.KindTCP, Address: cfg.TCPAddress}
	default:
		return nil, fmt.Errorf("no control address specified: %w", apperrors.ErrConfiguration)
	}
	if err := dest.Validate(); err != nil {
		return nil, err
	}

	if maxConns <= 0 {
		maxConns = DefaultPooledConnections
	}

	l := loop.New()
	fcfg := transport.DefaultFactoryConfig()
	fcfg.DialTimeout = cfg.timeout()
	factory, err := transport.NewDialJobFactory(l, fcfg)
	if err != nil {
		return nil, err
	}
	p := pool.New(factory, l, pool.Config{
		MaxSocketsPerGroup: maxConns,
		// Give connections back before the server's idle timeout does.
		IdleTimeout:     IdleTimeout / 2,
		CleanupInterval: 10 * time.Second,
	})

	ctx, cancel := context.WithCancel(context.Background())
	c := &PooledClient{
		loop:      l,
		pool:      p,
		factory:   factory,
		dest:      dest,
		authToken: token,
		timeout:   cfg.timeout(),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	c.API = API{caller: c}

	go func() {
		defer close(c.done)
		l.Run(ctx)
	}()
	return c, nil
}

// do runs fn on the client's loop, giving up when ctx ends or the client
// is closed.
func (c *PooledClient) do(ctx context.Context, fn func()) error {
	doCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(c.ctx, cancel)
	defer stop()

	if err := c.loop.Do(doCtx, fn); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return apperrors.ErrPoolClosed
	}
	return nil
}

// acquire leases a connection, dialing one if none is idle.
func (c *PooledClient) acquire(ctx context.Context) (*pool.Handle, *transport.ConnSocket, error) {
	h := pool.NewHandle(c.pool)
	result := make(chan error, 1)

	if err := c.do(ctx, func() {
		err := h.Init(controlGroup, c.dest, 0, func(err error) { result <- err })
		if !pool.IsPending(err) {
			result <- err
		}
	}); err != nil {
		c.loop.Post(h.Reset)
		return nil, nil, err
	}

	var err error
	select {
	case err = <-result:
	case <-ctx.Done():
		c.loop.Post(h.Reset)
		return nil, nil, ctx.Err()
	case <-c.ctx.Done():
		return nil, nil, fmt.Errorf("control client: %w", apperrors.ErrPoolClosed)
	}
	if err != nil {
		return nil, nil, err
	}

	sock, ok := h.Socket().(*transport.ConnSocket)
	if !ok {
		c.loop.Post(h.Reset)
		return nil, nil, fmt.Errorf("unexpected socket type %T: %w", h.Socket(), apperrors.ErrInternal)
	}
	return h, sock, nil
}

// release gives the connection back. A connection that is not reusable is
// closed first so the pool discards it.
func (c *PooledClient) release(h *pool.Handle, sock *transport.ConnSocket, reusable bool) {
	if !reusable {
		sock.Disconnect()
	}
	if err := c.do(context.Background(), h.Reset); err != nil {
		sock.Disconnect()
	}
}

// Call leases a connection, sends one request and returns the connection
// to the pool. A connection that failed at the transport level is closed.
func (c *PooledClient) Call(ctx context.Context, method string, params, result any) error {
	h, sock, err := c.acquire(ctx)
	if err != nil {
		return fmt.Errorf("call %s: %w", method, err)
	}

	if !h.IsReused() && c.authToken != nil {
		err := exchange(ctx, sock.Conn(), sock.ReadBytes, c.timeout, c.requestID.Add(1),
			"auth", authParams(c.authToken), nil)
		if err != nil {
			c.release(h, sock, false)
			return fmt.Errorf("authentication failed: %w", err)
		}
	}

	err = exchange(ctx, sock.Conn(), sock.ReadBytes, c.timeout, c.requestID.Add(1), method, params, result)
	var rerr *Error
	c.release(h, sock, err == nil || errors.As(err, &rerr))
	return err
}

// PoolStats returns a snapshot of the client's own connection pool.
func (c *PooledClient) PoolStats(ctx context.Context) (pool.Stats, error) {
	var stats pool.Stats
	err := c.do(ctx, func() { stats = c.pool.Stats() })
	return stats, err
}

// Close stops the client and closes every connection. Calls in progress
// fail with ErrPoolClosed.
func (c *PooledClient) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		<-c.done

		// The loop has stopped, so this goroutine owns the pool now.
		c.loop.RunUntilIdle()
		c.pool.Close()
		c.loop.RunUntilIdle()
		err = c.factory.Close()
	})
	return err
}
