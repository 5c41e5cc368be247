package transport

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/go-i2p/onramp"

	apperrors "github.com/go-i2p/sockpool/lib/errors"
	"github.com/go-i2p/sockpool/lib/pool"
)

// DefaultSAMAddress is the default SAM bridge address.
const DefaultSAMAddress = "127.0.0.1:7656"

// I2PConfig configures the I2P dialer.
type I2PConfig struct {
	// SAMAddress is the SAM bridge address.
	// Default: 127.0.0.1:7656
	SAMAddress string
	// TunnelName names the client tunnel. onramp keeps the tunnel keys under
	// this name, so the local destination is stable across restarts.
	// Default: sockpool
	TunnelName string
	// Options are SAM session options such as inbound.length=2.
	// Default: onramp.OPT_DEFAULTS
	Options []string
}

// streamSession is the part of onramp.Garlic the dialer uses.
type streamSession interface {
	Dial(network, addr string) (net.Conn, error)
	Close() error
}

// I2PDialer opens I2P streaming connections through one shared SAM session.
// The session is created on first use and reused until Close.
type I2PDialer struct {
	config I2PConfig

	mu      sync.Mutex
	session streamSession
	closed  bool

	newSession func(cfg I2PConfig) (streamSession, error)
}

// NewI2PDialer creates a dialer. No connection to the SAM bridge is made
// until the first Dial.
func NewI2PDialer(cfg I2PConfig) *I2PDialer {
	if cfg.SAMAddress == "" {
		cfg.SAMAddress = DefaultSAMAddress
	}
	if cfg.TunnelName == "" {
		cfg.TunnelName = "sockpool"
	}
	return &I2PDialer{
		config:     cfg,
		newSession: newGarlicSession,
	}
}

func newGarlicSession(cfg I2PConfig) (streamSession, error) {
	options := cfg.Options
	if len(options) == 0 {
		options = onramp.OPT_DEFAULTS
	}
	garlic, err := onramp.NewGarlic(cfg.TunnelName, cfg.SAMAddress, options)
	if err != nil {
		return nil, err
	}
	return garlic, nil
}

// SAMAddress returns the SAM bridge address.
func (d *I2PDialer) SAMAddress() string {
	return d.config.SAMAddress
}

func (d *I2PDialer) getSession() (streamSession, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, fmt.Errorf("i2p dialer: %w", apperrors.ErrClosed)
	}
	if d.session != nil {
		return d.session, nil
	}

	s, err := d.newSession(d.config)
	if err != nil {
		log.WithField("sam", d.config.SAMAddress).WithError(err).Warn("failed to open SAM session")
		return nil, fmt.Errorf("%w: sam %s: %w", apperrors.ErrProxyFailed, d.config.SAMAddress, err)
	}
	log.WithField("sam", d.config.SAMAddress).
		WithField("tunnel", d.config.TunnelName).
		Debug("SAM session opened")
	d.session = s
	return s, nil
}

// Dial implements DialFunc.
//
// SAM stream connects do not take a context, so the connect runs in its own
// goroutine; when ctx ends first, the connection is closed as soon as it
// arrives.
func (d *I2PDialer) Dial(ctx context.Context, dest Destination, progress ProgressFunc) (net.Conn, error) {
	addr, err := ParseI2PAddr(dest.Address)
	if err != nil {
		return nil, err
	}

	progress(pool.LoadStateEstablishingProxyTunnel)
	session, err := d.getSession()
	if err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, apperrors.ClassifyNetError(ctx.Err())
	}

	progress(pool.LoadStateConnecting)
	type result struct {
		conn net.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		conn, err := session.Dial("tcp", addr)
		ch <- result{conn, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, fmt.Errorf("%w: %s: %w", apperrors.ErrAddressUnreachable, addr, r.err)
		}
		return r.conn, nil
	case <-ctx.Done():
		go func() {
			if r := <-ch; r.conn != nil {
				r.conn.Close()
			}
		}()
		return nil, apperrors.ClassifyNetError(ctx.Err())
	}
}

// Close tears down the SAM session.
func (d *I2PDialer) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true
	if d.session == nil {
		return nil
	}
	err := d.session.Close()
	d.session = nil
	return err
}
